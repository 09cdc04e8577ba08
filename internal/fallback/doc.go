// Package fallback implements the eager fallback gate of the lazy backend.
//
// The gate answers two policy questions, FallbackMainThread and
// ForceEagerFallback, and performs the redirection itself in Gate.Run:
// backend-resident operands are exported to host tensors, the reference
// engine runs the operator, and the outputs are imported back and written
// into the invocation stack.
//
// When the policy pins fallback, Run hands the work to a MainThread: a
// single goroutine locked to one OS thread that drains a FIFO task queue,
// so pinned calls run one at a time in handoff order.
//
// Failures are never retried or masked. Engine and backend errors reach the
// caller unchanged; handoff failures are reported as HANDOFF_FAILED.
package fallback
