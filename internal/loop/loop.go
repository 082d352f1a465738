// Package loop runs posted work on a single goroutine.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

var ErrClosed = errors.New("loop closed")

// Loop serializes every posted function onto one goroutine. The queue is
// unbounded, so work posted from inside the loop never blocks.
type Loop struct {
	logger *log.Logger

	mu      sync.Mutex
	pending []func()
	closed  bool

	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
	start   sync.Once
	stop    sync.Once
}

func New(logger *log.Logger) *Loop {
	return &Loop{
		logger:  logger,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the loop goroutine. Calling it again does nothing.
func (l *Loop) Start() {
	l.start.Do(func() { go l.run() })
}

// Post schedules fn. It returns false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it. It must not be called from the
// loop goroutine itself. A panic in fn is returned as an error.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	var perr error
	ok := l.Post(func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				perr = fmt.Errorf("panic: %v", r)
				l.logf("task panic: %v", r)
			}
		}()
		fn()
	})
	if !ok {
		return ErrClosed
	}

	select {
	case <-done:
		return perr
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		select {
		case <-done:
			return perr
		default:
			return ErrClosed
		}
	}
}

// Close rejects further posts, runs what is already queued and waits for
// the loop goroutine to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.stop.Do(func() { close(l.quit) })

	// a loop that never started has nothing to drain
	l.start.Do(func() { close(l.stopped) })
	<-l.stopped
}

// Closed reports whether Close has been called.
func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.wake:
			l.drain()
		case <-l.quit:
			l.drain()
			return
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			l.runTask(fn)
		}
	}
}

func (l *Loop) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logf("task panic: %v", r)
		}
	}()
	fn()
}

func (l *Loop) logf(format string, args ...any) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("%s ERROR loop: %s", time.Now().Format(time.RFC3339), msg)
}
