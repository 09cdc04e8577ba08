package fallback

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/roach88/ltc/internal/ir"
)

const (
	taskQueued int32 = iota
	taskRunning
	taskAbandoned
)

type task struct {
	ctx   context.Context
	op    ir.Symbol
	fn    func(ctx context.Context) error
	state atomic.Int32
	err   error
	done  chan struct{}
}

// threadKey marks contexts of tasks running on a MainThread.
type threadKey struct{}

// MainThread is the designated thread: one goroutine locked to one OS
// thread that runs handed-off tasks one at a time, in handoff order.
//
// Thread-safety: Do may be called from any goroutine. Close must not be
// called from a task.
type MainThread struct {
	queue   *taskQueue
	logger  *zap.Logger
	stopped chan struct{}
	once    sync.Once
	ran     atomic.Int64
}

// MainThreadOption configures a MainThread.
type MainThreadOption func(*MainThread)

// WithThreadLogger sets the worker logger.
func WithThreadLogger(l *zap.Logger) MainThreadOption {
	return func(m *MainThread) { m.logger = l }
}

// NewMainThread starts the designated thread.
func NewMainThread(opts ...MainThreadOption) *MainThread {
	m := &MainThread{
		queue:   newTaskQueue(),
		logger:  zap.NewNop(),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.loop()
	return m
}

// Do runs fn on the designated thread and waits for its result. op labels
// handoff errors.
//
// Calls made from a task already running on this thread run inline. If ctx
// ends while the task is still queued, the task is abandoned and Do returns
// HANDOFF_FAILED. Once started, a task runs to completion and Do waits for
// it.
func (m *MainThread) Do(ctx context.Context, op ir.Symbol, fn func(ctx context.Context) error) error {
	if m.OnThread(ctx) {
		return m.invoke(ctx, op, fn)
	}
	if err := ctx.Err(); err != nil {
		return ir.NewHandoffError(op, "context done before handoff", err)
	}

	t := &task{ctx: ctx, op: op, fn: fn, done: make(chan struct{})}
	if !m.queue.Enqueue(t) {
		return ir.NewHandoffError(op, "designated thread is closed", nil)
	}

	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		if t.state.CompareAndSwap(taskQueued, taskAbandoned) {
			m.logger.Debug("task abandoned", zap.Stringer("op", op))
			return ir.NewHandoffError(op, "abandoned before running", ctx.Err())
		}
		<-t.done
		return t.err
	}
}

// OnThread reports whether ctx belongs to a task running on m.
func (m *MainThread) OnThread(ctx context.Context) bool {
	owner, _ := ctx.Value(threadKey{}).(*MainThread)
	return owner == m
}

// Pending returns the number of queued tasks.
func (m *MainThread) Pending() int {
	return m.queue.Len()
}

// Completed returns the number of tasks run so far.
func (m *MainThread) Completed() int64 {
	return m.ran.Load()
}

// Close stops the designated thread. Tasks still queued fail with
// HANDOFF_FAILED; a running task completes first. Close blocks until the
// thread has exited and is safe to call more than once.
func (m *MainThread) Close() {
	m.once.Do(func() {
		for _, t := range m.queue.Close() {
			if t.state.CompareAndSwap(taskQueued, taskAbandoned) {
				t.err = ir.NewHandoffError(t.op, "designated thread closed before running", nil)
				close(t.done)
			}
		}
	})
	<-m.stopped
}

func (m *MainThread) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(m.stopped)

	m.logger.Debug("designated thread started")
	for {
		if t, ok := m.queue.TryDequeue(); ok {
			m.run(t)
			continue
		}
		if _, open := <-m.queue.Wait(); !open && m.queue.Len() == 0 {
			m.logger.Debug("designated thread stopped", zap.Int64("tasks", m.ran.Load()))
			return
		}
	}
}

func (m *MainThread) run(t *task) {
	if !t.state.CompareAndSwap(taskQueued, taskRunning) {
		return
	}
	ctx := context.WithValue(t.ctx, threadKey{}, m)
	t.err = m.invoke(ctx, t.op, t.fn)
	m.ran.Add(1)
	close(t.done)
}

// invoke calls fn, converting a panic into an error.
func (m *MainThread) invoke(ctx context.Context, op ir.Symbol, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("task panicked", zap.Stringer("op", op), zap.Any("panic", r))
			err = fmt.Errorf("fallback task for %s panicked: %v", op, r)
		}
	}()
	return fn(ctx)
}
