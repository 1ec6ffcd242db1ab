// Package ratelimit gates access to a capacity-constrained external API with
// a sliding window of call timestamps plus an explicit throttle deadline, and
// serializes callers through a FIFO queue.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// interCallDelay is inserted after every executed call so the queue does
	// not burst the remote API right after a long wait.
	interCallDelay = 100 * time.Millisecond
	queueCapacity  = 1024
)

// Status is a point-in-time snapshot of the limiter, for logs and metrics.
type Status struct {
	CallsInWindow  int
	MaxCalls       int
	Window         time.Duration
	ThrottledUntil time.Time
	QueueLength    int
}

// Limiter enforces at most maxCalls within a trailing window. An explicit
// rate-limit signal from the remote API installs a hard deadline that blocks
// all admissions until it elapses, regardless of window occupancy.
//
// The limiter never retries or swallows call errors; it only gates timing.
// All state is mutex-serialized so it can be shared across goroutines.
type Limiter struct {
	mu             sync.Mutex
	maxCalls       int
	window         time.Duration
	calls          []time.Time
	throttledUntil time.Time

	queue     chan queued
	drainOnce sync.Once
	log       *zap.Logger

	now func() time.Time
}

type queued struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// New creates a limiter admitting maxCalls per window.
func New(maxCalls int, window time.Duration, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{
		maxCalls: maxCalls,
		window:   window,
		queue:    make(chan queued, queueCapacity),
		log:      log,
		now:      time.Now,
	}
}

// CanCall reports whether a call would be admitted right now.
func (l *Limiter) CanCall() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canCallLocked()
}

func (l *Limiter) canCallLocked() bool {
	now := l.now()
	if now.Before(l.throttledUntil) {
		return false
	}
	l.pruneLocked(now)
	return len(l.calls) < l.maxCalls
}

// pruneLocked drops timestamps that left the trailing window.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.calls[:0]
	for _, t := range l.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.calls = kept
}

// Record registers a call against the window.
func (l *Limiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, l.now())
}

// HandleRateLimit installs a hard throttle deadline in response to an
// explicit rate-limit signal (HTTP 429 or equivalent) from the remote API.
// The deadline overrides the sliding window until it elapses.
func (l *Limiter) HandleRateLimit(retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until := l.now().Add(retryAfter)
	if until.After(l.throttledUntil) {
		l.throttledUntil = until
	}
	l.log.Warn("remote API rate limit, throttling",
		zap.Duration("retry_after", retryAfter),
		zap.Time("throttled_until", l.throttledUntil))
}

// WaitTime returns how long a caller should wait before the next admission
// check. Zero means a call is admissible now.
func (l *Limiter) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var wait time.Duration
	if now.Before(l.throttledUntil) {
		wait = l.throttledUntil.Sub(now)
	}

	l.pruneLocked(now)
	if len(l.calls) >= l.maxCalls {
		// the oldest call leaving the window frees a slot
		windowWait := l.calls[0].Add(l.window).Sub(now)
		if windowWait > wait {
			wait = windowWait
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Status returns a snapshot of the limiter state.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return Status{
		CallsInWindow:  len(l.calls),
		MaxCalls:       l.maxCalls,
		Window:         l.window,
		ThrottledUntil: l.throttledUntil,
		QueueLength:    len(l.queue),
	}
}

// Reset clears the window and the throttle deadline. This is a manual,
// emergency operation; normal control flow never calls it.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
	l.throttledUntil = time.Time{}
	l.log.Warn("rate limiter state reset")
}

// Do enqueues fn behind all previously queued calls and runs it once the
// limiter admits it. At most one queued call executes at a time; admission is
// re-validated after every wait so a stale wait computation cannot oversubscribe
// the window. The call's own error is returned unmodified.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	l.drainOnce.Do(func() { go l.drain() })

	q := queued{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case l.queue <- q:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-q.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) drain() {
	for q := range l.queue {
		if q.ctx.Err() != nil {
			q.done <- q.ctx.Err()
			continue
		}
		if err := l.admit(q.ctx); err != nil {
			q.done <- err
			continue
		}
		l.Record()
		q.done <- q.fn(q.ctx)

		time.Sleep(interCallDelay)
	}
}

// admit blocks until the limiter admits a call or ctx is cancelled.
func (l *Limiter) admit(ctx context.Context) error {
	for {
		wait := l.WaitTime()
		if wait == 0 && l.CanCall() {
			return nil
		}
		if wait == 0 {
			// wait computed stale against a concurrent Record; back off briefly
			wait = interCallDelay
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
