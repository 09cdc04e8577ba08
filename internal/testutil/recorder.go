package testutil

import (
	"context"
	"sync"

	"github.com/roach88/ltc/internal/ir"
)

// MemoryRecorder keeps dispatch records in memory, in the order they were
// recorded. Implements dispatch.Recorder.
//
// Thread-safety: safe for concurrent use via internal mutex.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []ir.DispatchRecord
}

// RecordDispatch appends rec.
func (r *MemoryRecorder) RecordDispatch(_ context.Context, rec ir.DispatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

// Records returns a copy of everything recorded so far.
func (r *MemoryRecorder) Records() []ir.DispatchRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ir.DispatchRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Routes returns the route of each record, in order.
func (r *MemoryRecorder) Routes() []ir.Route {
	recs := r.Records()
	out := make([]ir.Route, len(recs))
	for i, rec := range recs {
		out[i] = rec.Route
	}
	return out
}

// Reset drops all records.
func (r *MemoryRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}
