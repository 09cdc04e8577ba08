package store

import (
	"context"
	"fmt"

	"github.com/roach88/ltc/internal/ir"
)

// RecordDispatch appends a dispatch record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
//
// Implements dispatch.Recorder.
func (s *Store) RecordDispatch(ctx context.Context, rec ir.DispatchRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record dispatch: empty id")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_records
		(id, seq, op, route, reason, pinned, args_digest, duration_us, error_code, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.Seq,
		string(rec.Op),
		string(rec.Route),
		string(rec.Reason),
		rec.Pinned,
		rec.ArgsDigest,
		rec.DurationMicros,
		string(rec.ErrorCode),
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}
