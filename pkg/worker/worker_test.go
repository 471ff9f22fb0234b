package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func waitDone(t *testing.T, w *Worker) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
}

func TestLifecycleOrder(t *testing.T) {
	mut := sync.Mutex{}
	calls := []string{}
	record := func(s string) {
		mut.Lock()
		defer mut.Unlock()
		calls = append(calls, s)
	}

	ticks := 0
	w := Create("order", Params{
		Init: func(ctx context.Context) error {
			record("init")
			return nil
		},
		Tick: func(ctx context.Context) bool {
			ticks++
			record("tick")
			return ticks < 3
		},
		Cleanup: func() { record("cleanup") },
		Logger:  zaptest.NewLogger(t),
	})

	require.NoError(t, w.Start())
	waitDone(t, w)

	assert.Equal(t, []string{"init", "tick", "tick", "tick", "cleanup"}, calls)
	assert.False(t, w.IsAlive())
}

func TestStartTwice(t *testing.T) {
	w := Create("twice", Params{
		Tick:   func(ctx context.Context) bool { return false },
		Logger: zaptest.NewLogger(t),
	})

	require.NoError(t, w.Start())
	err := w.Start()

	var alreadyStarted *AlreadyStarted
	assert.ErrorAs(t, err, &alreadyStarted)
	waitDone(t, w)
}

func TestMissingTick(t *testing.T) {
	w := Create("empty", Params{Logger: zaptest.NewLogger(t)})

	var missing *MissingTick
	assert.ErrorAs(t, w.Start(), &missing)
	assert.False(t, w.IsAlive())
}

func TestInitErrorSkipsTickButCleansUp(t *testing.T) {
	var ticked, cleaned atomic.Int32
	w := Create("init-error", Params{
		Init: func(ctx context.Context) error { return errors.New("bind failed") },
		Tick: func(ctx context.Context) bool {
			ticked.Add(1)
			return true
		},
		Cleanup: func() { cleaned.Add(1) },
		Logger:  zaptest.NewLogger(t),
	})

	require.NoError(t, w.Start())
	waitDone(t, w)

	assert.Equal(t, int32(0), ticked.Load())
	assert.Equal(t, int32(1), cleaned.Load())
}

func TestPanicIsRecoveredAndCleanupRunsOnce(t *testing.T) {
	var cleaned atomic.Int32
	w := Create("panics", Params{
		Tick:    func(ctx context.Context) bool { panic("boom") },
		Cleanup: func() { cleaned.Add(1) },
		Logger:  zaptest.NewLogger(t),
	})

	require.NoError(t, w.Start())
	waitDone(t, w)

	assert.Equal(t, int32(1), cleaned.Load())
	assert.False(t, w.IsAlive())
	assert.True(t, w.StopBlocking(10*time.Millisecond))
}

func TestStopBlockingGraceful(t *testing.T) {
	var cleaned atomic.Int32
	w := Create("graceful", Params{
		Tick: func(ctx context.Context) bool {
			time.Sleep(time.Millisecond)
			return true
		},
		Cleanup: func() { cleaned.Add(1) },
		Logger:  zaptest.NewLogger(t),
	})

	require.NoError(t, w.Start())
	assert.True(t, w.IsAlive())

	assert.True(t, w.StopBlocking(time.Second))
	assert.False(t, w.IsAlive())
	assert.Equal(t, int32(1), cleaned.Load())

	// stopping again is harmless
	assert.True(t, w.StopBlocking(time.Millisecond))
	assert.Equal(t, int32(1), cleaned.Load())
}

func TestStopBlockingTimeoutInterrupts(t *testing.T) {
	unblock := make(chan struct{})
	ticking := make(chan struct{})
	var interrupted, cleaned atomic.Int32

	w := Create("stuck", Params{
		Tick: func(ctx context.Context) bool {
			close(ticking)
			// blocked I/O that ignores both the stop flag and the context
			<-unblock
			return false
		},
		Interrupt: func() {
			interrupted.Add(1)
			close(unblock)
		},
		Cleanup: func() { cleaned.Add(1) },
		Logger:  zaptest.NewLogger(t),
	})

	require.NoError(t, w.Start())
	<-ticking

	assert.False(t, w.StopBlocking(20*time.Millisecond))
	assert.Equal(t, int32(1), interrupted.Load())

	waitDone(t, w)
	assert.Equal(t, int32(1), cleaned.Load())
}

func TestContextCancellationIsBenignStop(t *testing.T) {
	var cleaned atomic.Int32
	ticking := make(chan struct{})
	var once sync.Once
	w := Create("ctx", Params{
		Init: func(ctx context.Context) error { return nil },
		Tick: func(ctx context.Context) bool {
			once.Do(func() { close(ticking) })
			<-ctx.Done()
			return true
		},
		Cleanup: func() { cleaned.Add(1) },
		Logger:  zaptest.NewLogger(t),
	})

	require.NoError(t, w.Start())
	<-ticking

	// the tick only wakes when the context is cancelled on timeout, and the
	// loop must then exit even though Tick asked to continue
	assert.False(t, w.StopBlocking(10*time.Millisecond))
	waitDone(t, w)
	assert.Equal(t, int32(1), cleaned.Load())
}

func TestStopBeforeStart(t *testing.T) {
	w := Create("never", Params{
		Tick:   func(ctx context.Context) bool { return true },
		Logger: zaptest.NewLogger(t),
	})
	assert.True(t, w.StopBlocking(time.Millisecond))
	assert.False(t, w.IsAlive())
}
