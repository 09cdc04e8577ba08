package harness

// TraceEvent is one dispatched call as seen by the harness.
type TraceEvent struct {
	ID        string   `json:"id"`
	Seq       int64    `json:"seq"`
	Op        string   `json:"op"`
	Route     string   `json:"route"`
	Reason    string   `json:"reason,omitempty"`
	Pinned    bool     `json:"pinned"`
	ErrorCode string   `json:"error_code,omitempty"`
	Outputs   []string `json:"outputs,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
