package ir

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes dispatch and fallback failures.
type ErrorCode string

const (
	// ErrCodeUnsupportedOperator: the executing engine has no implementation
	// for the operator.
	ErrCodeUnsupportedOperator ErrorCode = "UNSUPPORTED_OPERATOR"

	// ErrCodeMaterialization: an operand or result could not be converted
	// between the backend representation and host tensors.
	ErrCodeMaterialization ErrorCode = "MATERIALIZATION_FAILED"

	// ErrCodeHandoff: a pinned call could not be handed to, or was abandoned
	// before running on, the designated thread.
	ErrCodeHandoff ErrorCode = "HANDOFF_FAILED"

	// ErrCodeInvalidInvocation: the invocation record does not match the
	// operator schema, or the operator is unknown to the registry.
	ErrCodeInvalidInvocation ErrorCode = "INVALID_INVOCATION"
)

// OpError is a failure attributed to one operator invocation.
//
// Producers create OpErrors; the fallback gate and the dispatcher pass them
// through verbatim so callers can match on the original value.
type OpError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the operator being invoked, if known.
	Op Symbol

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if !e.Op.IsZero() {
		msg = fmt.Sprintf("%s: %s (op=%s)", e.Code, e.Message, e.Op)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *OpError) Unwrap() error {
	return e.Err
}

// NewUnsupportedError reports that op has no implementation.
func NewUnsupportedError(op Symbol, engine string) *OpError {
	return &OpError{
		Code:    ErrCodeUnsupportedOperator,
		Op:      op,
		Message: fmt.Sprintf("%s engine does not implement operator", engine),
	}
}

// NewMaterializationError reports a representation conversion failure.
func NewMaterializationError(op Symbol, message string, cause error) *OpError {
	return &OpError{Code: ErrCodeMaterialization, Op: op, Message: message, Err: cause}
}

// NewHandoffError reports a designated-thread handoff failure.
func NewHandoffError(op Symbol, message string, cause error) *OpError {
	return &OpError{Code: ErrCodeHandoff, Op: op, Message: message, Err: cause}
}

// NewInvalidInvocationError reports a malformed invocation.
func NewInvalidInvocationError(op Symbol, message string) *OpError {
	return &OpError{Code: ErrCodeInvalidInvocation, Op: op, Message: message}
}

// CodeOf returns the code of the first OpError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// IsUnsupported reports whether err is an unsupported-operator error.
func IsUnsupported(err error) bool {
	return CodeOf(err) == ErrCodeUnsupportedOperator
}

// IsMaterialization reports whether err is a materialization error.
func IsMaterialization(err error) bool {
	return CodeOf(err) == ErrCodeMaterialization
}

// IsHandoff reports whether err is a designated-thread handoff error.
func IsHandoff(err error) bool {
	return CodeOf(err) == ErrCodeHandoff
}

// IsInvalidInvocation reports whether err is an invalid-invocation error.
func IsInvalidInvocation(err error) bool {
	return CodeOf(err) == ErrCodeInvalidInvocation
}
