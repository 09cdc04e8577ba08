package ir

// Route is the execution path a dispatched call took.
type Route string

const (
	RouteNative   Route = "native"
	RouteFallback Route = "fallback"

	// RouteRejected marks calls refused before routing, such as unknown
	// operators.
	RouteRejected Route = "rejected"
)

// Reason explains why a call was routed to fallback.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonForced      Reason = "forced"
	ReasonUnsupported Reason = "unsupported"
)

// DispatchRecord is one dispatched call, as written to the event store and
// to harness traces.
type DispatchRecord struct {
	ID             string    `json:"id"`  // UUIDv7, or fixed in tests
	Seq            int64     `json:"seq"` // Logical clock
	Op             Symbol    `json:"op"`
	Route          Route     `json:"route"`
	Reason         Reason    `json:"reason,omitempty"`
	Pinned         bool      `json:"pinned"`
	ArgsDigest     string    `json:"args_digest"`
	DurationMicros int64     `json:"duration_us"`
	ErrorCode      ErrorCode `json:"error_code,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Failed reports whether the call returned an error.
func (r DispatchRecord) Failed() bool {
	return r.Error != ""
}
