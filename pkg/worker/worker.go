// Package worker hosts a blocking loop on its own goroutine with a guarded
// lifecycle: Init once, Tick until stopped, Cleanup exactly once.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Params struct {
	// Optional. Runs once on the worker goroutine before the first Tick. An
	// error ends the worker without ticking.
	Init func(ctx context.Context) error

	// Required. Called repeatedly until it returns false or the worker is
	// stopped. ctx is cancelled only when a blocking stop times out.
	Tick func(ctx context.Context) bool

	// Optional. Always runs exactly once when the goroutine exits, however
	// it exits.
	Cleanup func()

	// Optional. Called from StopBlocking when the worker did not exit in
	// time, to unblock I/O that ignores the context (e.g. closing a socket).
	Interrupt func()

	Logger *zap.Logger
}

type AlreadyStarted struct {
	Name string
}

func (e *AlreadyStarted) Error() string {
	return fmt.Sprintf("Worker '%s' was already started", e.Name)
}

type MissingTick struct {
	Name string
}

func (e *MissingTick) Error() string {
	return fmt.Sprintf("Worker '%s' has no Tick function", e.Name)
}

type Worker struct {
	name   string
	params Params
	log    *zap.Logger

	mut_lifecycle sync.Mutex
	started       bool
	cancel        context.CancelFunc

	active atomic.Bool
	alive  atomic.Bool
	done   chan struct{}
}

func Create(name string, params Params) *Worker {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &Worker{
		name:          name,
		params:        params,
		log:           logger.With(zap.String("worker", name)),
		mut_lifecycle: sync.Mutex{},
		done:          make(chan struct{}),
	}
}

func (w *Worker) Name() string {
	return w.name
}

// Start launches the worker goroutine. A worker can only be started once.
func (w *Worker) Start() error {
	if w.params.Tick == nil {
		return &MissingTick{Name: w.name}
	}

	w.mut_lifecycle.Lock()
	defer w.mut_lifecycle.Unlock()

	if w.started {
		return &AlreadyStarted{Name: w.name}
	}
	w.started = true

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.active.Store(true)
	w.alive.Store(true)

	go w.run(ctx)

	return nil
}

func (w *Worker) IsAlive() bool {
	return w.alive.Load()
}

// Done is closed once the worker goroutine has exited and Cleanup has run.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// SignalStop asks the loop to exit after the current Tick. It does not block.
func (w *Worker) SignalStop() {
	w.active.Store(false)
}

// StopBlocking signals a stop and waits up to timeout for the goroutine to
// exit. On timeout the worker context is cancelled, Interrupt is called and
// false is returned; the goroutine may still be running at that point.
func (w *Worker) StopBlocking(timeout time.Duration) bool {
	w.SignalStop()

	w.mut_lifecycle.Lock()
	started := w.started
	cancel := w.cancel
	w.mut_lifecycle.Unlock()

	if !started {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return true
	case <-timer.C:
	}

	w.log.Error("Worker did not stop in time, interrupting", zap.Duration("timeout", timeout))
	cancel()
	if w.params.Interrupt != nil {
		w.params.Interrupt()
	}
	return false
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.alive.Store(false)
	defer w.cleanup()
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Worker panicked, cleaning up", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	w.log.Debug("Worker starting")

	if w.params.Init != nil {
		if err := w.params.Init(ctx); err != nil {
			if isBenignStop(err) {
				w.log.Info("Worker stopped during init", zap.Error(err))
			} else {
				w.log.Error("Worker init failed", zap.Error(err))
			}
			return
		}
	}

	for w.active.Load() && ctx.Err() == nil {
		if !w.params.Tick(ctx) {
			break
		}
	}

	w.log.Debug("Worker loop finished")
}

func (w *Worker) cleanup() {
	if w.params.Cleanup == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Worker cleanup panicked", zap.Any("panic", r))
		}
	}()

	w.params.Cleanup()
}

func isBenignStop(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
