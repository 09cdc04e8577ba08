package ir

import "fmt"

// Stack is the invocation record: an ordered sequence of values. An operator
// with n arguments reads the top n entries and, on completion, has them
// replaced by its results.
//
// A Stack is owned by one caller. It is not safe for concurrent use; pinned
// execution hands it to the designated thread while the caller blocks.
type Stack struct {
	values []Value
}

// NewStack creates a stack holding vals, bottom first.
func NewStack(vals ...Value) *Stack {
	return &Stack{values: append([]Value(nil), vals...)}
}

// Len returns the number of entries.
func (s *Stack) Len() int {
	return len(s.values)
}

// Push appends vals to the top.
func (s *Stack) Push(vals ...Value) {
	s.values = append(s.values, vals...)
}

// Peek returns a copy of the top n entries, bottom first.
func (s *Stack) Peek(n int) ([]Value, error) {
	if n < 0 || n > len(s.values) {
		return nil, fmt.Errorf("stack has %d entries, need %d", len(s.values), n)
	}
	out := make([]Value, n)
	copy(out, s.values[len(s.values)-n:])
	return out, nil
}

// Pop removes and returns the top n entries, bottom first.
func (s *Stack) Pop(n int) ([]Value, error) {
	out, err := s.Peek(n)
	if err != nil {
		return nil, err
	}
	for i := len(s.values) - n; i < len(s.values); i++ {
		s.values[i] = nil
	}
	s.values = s.values[:len(s.values)-n]
	return out, nil
}

// Replace pops the top n entries and pushes results in a single step. The
// stack is unchanged if n is out of range.
func (s *Stack) Replace(n int, results []Value) error {
	if _, err := s.Pop(n); err != nil {
		return err
	}
	s.values = append(s.values, results...)
	return nil
}

// Values returns a copy of every entry, bottom first.
func (s *Stack) Values() []Value {
	return append([]Value(nil), s.values...)
}

// At returns entry i counted from the bottom.
func (s *Stack) At(i int) Value {
	return s.values[i]
}
