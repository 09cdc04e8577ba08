package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/ltc/internal/ir"
)

func pragma(t *testing.T, db *sql.DB, name string) string {
	t.Helper()
	var value string
	require.NoError(t, db.QueryRow("PRAGMA "+name).Scan(&value))
	return value
}

func indexes(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'dispatch_records' ORDER BY name")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestOpen_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ltc.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	require.NoError(t, err)

	assert.Equal(t, "wal", pragma(t, s.db, "journal_mode"))
	assert.Equal(t, "1", pragma(t, s.db, "synchronous")) // NORMAL
	assert.Equal(t, "5000", pragma(t, s.db, "busy_timeout"))
	assert.Equal(t, "2", pragma(t, s.db, "user_version"))
	assert.Equal(t, []string{"idx_dispatch_records_op_route", "idx_dispatch_records_seq"}, indexes(t, s.db))
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(InMemory, WithBusyTimeout(250*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "memory", pragma(t, s.db, "journal_mode"))
	assert.Equal(t, "250", pragma(t, s.db, "busy_timeout"))

	require.NoError(t, s.RecordDispatch(context.Background(), createTestRecord(1, "add", ir.RouteNative, "")))
	last, err := s.LastSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
}

func TestOpen_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ltc.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordDispatch(ctx, createTestRecord(7, "mm", ir.RouteFallback, ir.ReasonUnsupported)))
	require.NoError(t, s.Close())

	for i := 0; i < 2; i++ {
		s, err = Open(path)
		require.NoError(t, err)
		last, err := s.LastSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(7), last)
		require.NoError(t, s.Close())
	}
}

func TestOpen_MigratesOlderSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.db")

	// A version 1 database has the table but not the summary index.
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	core, logs := observer.New(zap.DebugLevel)
	s, err := Open(path, WithLogger(zap.New(core)))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "2", pragma(t, s.db, "user_version"))
	assert.Contains(t, indexes(t, s.db), "idx_dispatch_records_op_route")

	applied := logs.FilterMessage("applied migration").All()
	require.Len(t, applied, 1)
	assert.Equal(t, int64(2), applied[0].ContextMap()["version"])
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported version 2")
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/ltc.db")
	assert.Error(t, err)
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

func TestSchemaVersion(t *testing.T) {
	assert.Equal(t, 2, SchemaVersion())
}
