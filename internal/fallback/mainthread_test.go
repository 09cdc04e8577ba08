package fallback

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/ltc/internal/ir"
)

var opAdd = ir.Intern("add")

// blockThread occupies m with a task that runs until the returned release
// function is called.
func blockThread(t *testing.T, m *MainThread) (release func(), done <-chan error) {
	t.Helper()
	started := make(chan struct{})
	unblock := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		errc <- m.Do(context.Background(), opAdd, func(context.Context) error {
			close(started)
			<-unblock
			return nil
		})
	}()
	<-started
	var once sync.Once
	return func() { once.Do(func() { close(unblock) }) }, errc
}

func TestMainThread_RunsTask(t *testing.T) {
	m := NewMainThread()
	defer m.Close()

	var onThread bool
	err := m.Do(context.Background(), opAdd, func(ctx context.Context) error {
		onThread = m.OnThread(ctx)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, onThread)
	assert.False(t, m.OnThread(context.Background()))
	assert.Equal(t, int64(1), m.Completed())
}

func TestMainThread_ReturnsTaskError(t *testing.T) {
	m := NewMainThread()
	defer m.Close()

	want := ir.NewUnsupportedError(opAdd, "reference")
	err := m.Do(context.Background(), opAdd, func(context.Context) error { return want })
	assert.Same(t, want, err)
}

func TestMainThread_FIFOOrder(t *testing.T) {
	m := NewMainThread()
	defer m.Close()

	release, firstDone := blockThread(t, m)

	var mu sync.Mutex
	var order []int
	var g errgroup.Group
	for i := 1; i <= 5; i++ {
		i := i
		g.Go(func() error {
			return m.Do(context.Background(), opAdd, func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		})
		// Wait until task i is queued so handoff order is known.
		require.Eventually(t, func() bool { return m.Pending() == i }, time.Second, time.Millisecond)
	}

	release()
	require.NoError(t, <-firstDone)
	require.NoError(t, g.Wait())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
}

func TestMainThread_SerializesConcurrentCallers(t *testing.T) {
	m := NewMainThread()
	defer m.Close()

	var active, maxActive atomic.Int32
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			return m.Do(ctx, opAdd, func(context.Context) error {
				n := active.Add(1)
				for {
					cur := maxActive.Load()
					if n <= cur || maxActive.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, int64(16), m.Completed())
}

func TestMainThread_ReentrantCallRunsInline(t *testing.T) {
	m := NewMainThread()
	defer m.Close()

	var inner bool
	err := m.Do(context.Background(), opAdd, func(ctx context.Context) error {
		return m.Do(ctx, opAdd, func(ctx context.Context) error {
			inner = m.OnThread(ctx)
			return nil
		})
	})
	require.NoError(t, err)
	assert.True(t, inner)
}

func TestMainThread_AbandonsQueuedTaskOnCancel(t *testing.T) {
	m := NewMainThread()
	defer m.Close()

	release, firstDone := blockThread(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errc := make(chan error, 1)
	go func() {
		errc <- m.Do(ctx, opAdd, func(context.Context) error {
			ran.Store(true)
			return nil
		})
	}()
	require.Eventually(t, func() bool { return m.Pending() == 1 }, time.Second, time.Millisecond)

	cancel()
	err := <-errc
	require.Error(t, err)
	assert.True(t, ir.IsHandoff(err))
	assert.ErrorIs(t, err, context.Canceled)

	release()
	require.NoError(t, <-firstDone)

	// A later task proves the abandoned one was skipped, not merely delayed.
	require.NoError(t, m.Do(context.Background(), opAdd, func(context.Context) error { return nil }))
	assert.False(t, ran.Load())
}

func TestMainThread_CancelledBeforeHandoff(t *testing.T) {
	m := NewMainThread()
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Do(ctx, opAdd, func(context.Context) error { return nil })
	assert.True(t, ir.IsHandoff(err))
}

func TestMainThread_RecoversPanic(t *testing.T) {
	m := NewMainThread()
	defer m.Close()

	err := m.Do(context.Background(), opAdd, func(context.Context) error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// The thread survives the panic.
	require.NoError(t, m.Do(context.Background(), opAdd, func(context.Context) error { return nil }))
}

func TestMainThread_ClosedRejectsTasks(t *testing.T) {
	m := NewMainThread()
	m.Close()
	m.Close()

	err := m.Do(context.Background(), opAdd, func(context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, ir.IsHandoff(err))
}

func TestMainThread_CloseFailsQueuedTasks(t *testing.T) {
	m := NewMainThread()
	release, firstDone := blockThread(t, m)

	errc := make(chan error, 1)
	go func() {
		errc <- m.Do(context.Background(), opAdd, func(context.Context) error { return nil })
	}()
	require.Eventually(t, func() bool { return m.Pending() == 1 }, time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()

	err := <-errc
	assert.True(t, ir.IsHandoff(err))

	release()
	require.NoError(t, <-firstDone, "the running task completes")
	<-closed
}
