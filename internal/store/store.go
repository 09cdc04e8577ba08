package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// InMemory opens a private database that lives as long as the Store.
const InMemory = ":memory:"

//go:embed schema.sql
var schemaSQL string

// migration moves the schema from version-1 to version.
type migration struct {
	version int
	name    string
	stmt    string
}

// migrations run in order; user_version records the last one applied.
var migrations = []migration{
	{1, "create dispatch_records", schemaSQL},
	{2, "index dispatch_records(op, route)", `
		CREATE INDEX IF NOT EXISTS idx_dispatch_records_op_route
		ON dispatch_records(op, route)`},
}

// SchemaVersion is the user_version of a fully migrated database.
func SchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// Store is the SQLite-backed dispatch log.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

type openConfig struct {
	busyTimeout time.Duration
	logger      *zap.Logger
}

// Option configures Open.
type Option func(*openConfig)

// WithBusyTimeout sets how long a statement waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *openConfig) {
		c.busyTimeout = d
	}
}

// WithLogger sets the logger used for migration events.
func WithLogger(l *zap.Logger) Option {
	return func(c *openConfig) {
		c.logger = l
	}
}

// Open opens or creates the database at path and migrates it to
// SchemaVersion. Pass InMemory for a throwaway database.
//
// File databases run in WAL mode with synchronous=NORMAL. A database whose
// schema is newer than this build understands is rejected.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := openConfig{busyTimeout: 5 * time.Second, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer, and an in-memory database
	// exists only on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, logger: cfg.logger}
	if err := s.init(path, cfg); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(path string, cfg openConfig) error {
	ctx := context.Background()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	pragmas := []string{fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout.Milliseconds())}
	if path != InMemory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return s.migrate(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	version, err := s.userVersion(ctx)
	if err != nil {
		return err
	}
	if version > SchemaVersion() {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, SchemaVersion())
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		s.logger.Debug("applied migration", zap.Int("version", m.version), zap.String("name", m.name))
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
		return err
	}
	// PRAGMA does not take bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) userVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read user_version: %w", err)
	}
	return v, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
