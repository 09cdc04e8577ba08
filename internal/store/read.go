package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/ltc/internal/ir"
)

// Filter narrows ReadRecords. Zero fields match everything.
type Filter struct {
	Op         ir.Symbol
	Route      ir.Route
	FailedOnly bool
	Limit      int
}

// Summary is the per-operator breakdown of dispatched calls.
type Summary struct {
	Op     ir.Symbol `json:"op"`
	Route  ir.Route  `json:"route"`
	Reason ir.Reason `json:"reason,omitempty"`
	Calls  int64     `json:"calls"`
	Failed int64     `json:"failed"`
}

// ReadRecords returns the records matching f, ordered by seq ASC, id ASC.
func (s *Store) ReadRecords(ctx context.Context, f Filter) ([]ir.DispatchRecord, error) {
	var where []string
	var args []any
	if f.Op != "" {
		where = append(where, "op = ?")
		args = append(args, string(f.Op))
	}
	if f.Route != "" {
		where = append(where, "route = ?")
		args = append(args, string(f.Route))
	}
	if f.FailedOnly {
		where = append(where, "error != ''")
	}

	query := `
		SELECT id, seq, op, route, reason, pinned, args_digest, duration_us, error_code, error
		FROM dispatch_records`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY seq ASC, id COLLATE BINARY ASC"
	if f.Limit > 0 {
		query += "\n\t\tLIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dispatch records: %w", err)
	}
	defer rows.Close()

	records := []ir.DispatchRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatch records: %w", err)
	}
	return records, nil
}

// ReadRecord returns the record with the given ID.
// Returns sql.ErrNoRows (wrapped) if not found.
func (s *Store) ReadRecord(ctx context.Context, id string) (ir.DispatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, op, route, reason, pinned, args_digest, duration_us, error_code, error
		FROM dispatch_records
		WHERE id = ?
	`, id)
	if err != nil {
		return ir.DispatchRecord{}, fmt.Errorf("query dispatch record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ir.DispatchRecord{}, fmt.Errorf("query dispatch record: %w", err)
		}
		return ir.DispatchRecord{}, fmt.Errorf("dispatch record %q: %w", id, sql.ErrNoRows)
	}
	return scanRecord(rows)
}

// Summary counts calls per operator, route and reason.
func (s *Store) Summary(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT op, route, reason, COUNT(*), SUM(CASE WHEN error != '' THEN 1 ELSE 0 END)
		FROM dispatch_records
		GROUP BY op, route, reason
		ORDER BY op COLLATE BINARY ASC, route ASC, reason ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		var op, route, reason string
		if err := rows.Scan(&op, &route, &reason, &sum.Calls, &sum.Failed); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.Op, sum.Route, sum.Reason = ir.Symbol(op), ir.Route(route), ir.Reason(reason)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary: %w", err)
	}
	return out, nil
}

// LastSeq returns the highest recorded sequence number, or 0 for an empty
// log. Used to resume the dispatcher's clock.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM dispatch_records").Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq.Int64, nil
}

func scanRecord(rows *sql.Rows) (ir.DispatchRecord, error) {
	var rec ir.DispatchRecord
	var op, route, reason, code string
	if err := rows.Scan(
		&rec.ID, &rec.Seq, &op, &route, &reason, &rec.Pinned,
		&rec.ArgsDigest, &rec.DurationMicros, &code, &rec.Error,
	); err != nil {
		return ir.DispatchRecord{}, fmt.Errorf("scan dispatch record: %w", err)
	}
	rec.Op = ir.Symbol(op)
	rec.Route = ir.Route(route)
	rec.Reason = ir.Reason(reason)
	rec.ErrorCode = ir.ErrorCode(code)
	return rec, nil
}
