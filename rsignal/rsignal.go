// Package rsignal provides an awaitable latch, [Signal], used throughout
// go-alivebatch wherever a goroutine needs to wait for a level-triggered
// condition without busy-polling a mutex.
package rsignal

import (
	"context"
	"sync"
	"time"

	"github.com/joeycumines/go-alivebatch/timesource"
)

// Signal is a manual-reset event: [Signal.Set] makes every current and
// future waiter observe "set", until [Signal.Reset] clears it. The zero
// value is not usable; construct with [New].
//
// All state transitions are serialized under a single mutex, but waiters
// never block while that mutex is held - they park on a channel close,
// which is itself the only thing guarded by the mutex.
type Signal struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// New returns a [Signal] in the non-set state.
func New() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Set puts the signal into the set state. Idempotent.
func (s *Signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		s.set = true
		close(s.ch)
	}
}

// Reset clears the set state, if set. A no-op otherwise.
func (s *Signal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		s.set = false
		s.ch = make(chan struct{})
	}
}

// IsSet reports whether the signal is currently set.
func (s *Signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

func (s *Signal) chanSnapshot() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// C returns the current underlying channel, closed once the signal is set.
// For signals that are never [Signal.Reset] (the common case: a one-shot
// completion latch), this is equivalent to a persistent "done" channel
// suitable for direct use in a select statement.
func (s *Signal) C() <-chan struct{} {
	return s.chanSnapshot()
}

// Wait blocks until the signal is set, or ctx is canceled.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.chanSnapshot():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout blocks until the signal is set, timeout elapses (if positive),
// or ctx is canceled, returning whether the signal was observed set. A
// non-positive timeout disables the timeout, behaving like [Signal.Wait]
// except for the boolean return.
func (s *Signal) WaitTimeout(ctx context.Context, ts timesource.Source, timeout time.Duration) (bool, error) {
	ch := s.chanSnapshot()

	select {
	case <-ch:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	if timeout <= 0 {
		if err := s.Wait(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	ts = timesource.OrDefault(ts)

	delayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	delayDone := make(chan error, 1)
	go func() { delayDone <- ts.Delay(delayCtx, timeout) }()

	select {
	case <-ch:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-delayDone:
		if err != nil {
			// only possible if ctx was canceled concurrently with the timer
			return false, ctx.Err()
		}
		// timeout elapsed; give the signal one last chance, in case it was
		// set concurrently with the timer firing
		select {
		case <-ch:
			return true, nil
		default:
			return false, nil
		}
	}
}
