package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/roach88/ltc/internal/ir"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates a dispatch record with minimal required fields.
func createTestRecord(seq int64, op string, route ir.Route, reason ir.Reason) ir.DispatchRecord {
	return ir.DispatchRecord{
		ID:         fmt.Sprintf("rec-%04d", seq),
		Seq:        seq,
		Op:         ir.Intern(op),
		Route:      route,
		Reason:     reason,
		ArgsDigest: "digest",
	}
}
