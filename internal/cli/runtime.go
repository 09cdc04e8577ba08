package cli

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/roach88/ltc/internal/config"
	"github.com/roach88/ltc/internal/dispatch"
	"github.com/roach88/ltc/internal/fallback"
	"github.com/roach88/ltc/internal/session"
	"github.com/roach88/ltc/internal/store"
)

// runtime is what a command needs to dispatch calls: resolved config, the
// logger, a session and, when a database is configured, the record store.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	sess   *session.Session
	store  *store.Store
}

// runtimeOptions selects the optional parts of a runtime.
type runtimeOptions struct {
	database string                // overrides store.path when set
	registry prometheus.Registerer // nil disables gate metrics
}

// openRuntime loads config and builds a session. Dispatch records go to the
// configured database, with seq continuing after the last stored record.
func (o *RootOptions) openRuntime(ctx context.Context, ro runtimeOptions) (*runtime, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := o.newLogger(cfg)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger}
	sessOpts := session.Options{
		Policy:  cfg.Fallback,
		Backend: cfg.LazyConfig(),
		Logger:  logger,
	}
	if ro.registry != nil {
		sessOpts.Metrics = fallback.NewMetrics(ro.registry)
	}

	dbPath := ro.database
	if dbPath == "" {
		dbPath = cfg.Store.Path
	}
	if dbPath != "" {
		st, err := store.Open(dbPath, store.WithLogger(logger.Named("store")))
		if err != nil {
			logger.Sync()
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		last, err := st.LastSeq(ctx)
		if err != nil {
			st.Close()
			logger.Sync()
			return nil, WrapExitError(ExitCommandError, "failed to read database", err)
		}
		rt.store = st
		sessOpts.Recorder = st
		sessOpts.Clock = dispatch.NewClockAt(last)
		logger.Debug("recording dispatches", zap.String("db", dbPath), zap.Int64("last_seq", last))
	}

	sess, err := session.New(sessOpts)
	if err != nil {
		rt.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create session", err)
	}
	rt.sess = sess
	return rt, nil
}

// Close stops the session, closes the store and flushes the logger.
func (rt *runtime) Close() {
	if rt.sess != nil {
		rt.sess.Close()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Error("error closing database", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}
