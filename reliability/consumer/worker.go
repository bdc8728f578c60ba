package consumer

import (
	"context"
	"fmt"
	"sync"

	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/runtime"
)

// loop holds the run and stop state shared by the stream workers.
type loop struct {
	stop       chan struct{}
	stopOnce   sync.Once
	runStateMu sync.Mutex
	running    bool
	cancelFunc context.CancelFunc
	inflight   sync.WaitGroup
}

// begin derives the run context. It reports false when a run is active.
func (l *loop) begin(parent context.Context) (context.Context, bool) {
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithCancel(parent)

	l.runStateMu.Lock()
	defer l.runStateMu.Unlock()

	if l.running {
		cancel()

		return nil, false
	}

	if l.stop == nil || isClosedSignal(l.stop) {
		l.stop = make(chan struct{})
		l.stopOnce = sync.Once{}
	}

	l.running = true
	l.cancelFunc = cancel

	return ctx, true
}

func (l *loop) end() {
	l.runStateMu.Lock()
	defer l.runStateMu.Unlock()

	if l.cancelFunc != nil {
		l.cancelFunc()
	}

	l.running = false
	l.cancelFunc = nil
}

func (l *loop) stopSignal() <-chan struct{} {
	l.runStateMu.Lock()
	defer l.runStateMu.Unlock()

	if l.stop == nil {
		l.stop = make(chan struct{})
	}

	return l.stop
}

// done reports whether the loop should exit before its next iteration.
func (l *loop) done(ctx context.Context) bool {
	select {
	case <-l.stopSignal():
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Stop ends the loop after the in-flight iteration.
func (l *loop) Stop() {
	l.stopOnce.Do(func() {
		l.runStateMu.Lock()
		cancel := l.cancelFunc
		if l.stop == nil {
			l.stop = make(chan struct{})
		}
		stop := l.stop
		l.runStateMu.Unlock()

		close(stop)

		if cancel != nil {
			cancel()
		}
	})
}

func (l *loop) shutdown(ctx context.Context, logger libLog.Logger, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	l.Stop()

	done := make(chan struct{})

	runtime.SafeGo(logger, name+"_shutdown_wait", runtime.KeepRunning, func() {
		l.inflight.Wait()
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s shutdown: %w", name, ctx.Err())
	}
}

func isClosedSignal(signal <-chan struct{}) bool {
	if signal == nil {
		return false
	}

	select {
	case <-signal:
		return true
	default:
		return false
	}
}
