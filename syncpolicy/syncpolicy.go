// Package syncpolicy implements the touch/delete mutual-exclusion and
// alternation primitive used by
// [github.com/joeycumines/go-alivebatch/alivekeeper] to interleave its two
// BatchBuilders (touch and delete) without starving either side.
package syncpolicy

import (
	"context"
	"sync"
)

// Mode selects a [Policy] implementation.
type Mode int

const (
	// Safe serializes touch and delete: at most one of either is in
	// progress at a time.
	Safe Mode = iota
	// Unrestricted places no constraint between touch and delete; both may
	// run concurrently without bound.
	Unrestricted
	// Alternating allows touch and delete to each run in parallel with
	// themselves, but never with the other side.
	Alternating
)

func (m Mode) String() string {
	switch m {
	case Safe:
		return "safe"
	case Unrestricted:
		return "unrestricted"
	case Alternating:
		return "alternating"
	default:
		return "unknown"
	}
}

// Policy is the {enterTouch, leaveTouch, enterDelete, leaveDelete} surface
// gating user-callback execution in an AliveKeeper.
type Policy interface {
	EnterTouch(ctx context.Context) error
	LeaveTouch()
	EnterDelete(ctx context.Context) error
	LeaveDelete()
}

// New selects and constructs a [Policy]. If concurrency <= 1, Safe is
// forced regardless of mode (there's nothing for Alternating or
// Unrestricted to buy when only one batch can run at a time). An
// unrecognized mode defaults to Safe.
func New(mode Mode, concurrency int) Policy {
	if concurrency <= 1 {
		return newSafe()
	}
	switch mode {
	case Unrestricted:
		return unrestrictedPolicy{}
	case Alternating:
		return newAlternating()
	default:
		return newSafe()
	}
}

type unrestrictedPolicy struct{}

func (unrestrictedPolicy) EnterTouch(context.Context) error  { return nil }
func (unrestrictedPolicy) LeaveTouch()                       {}
func (unrestrictedPolicy) EnterDelete(context.Context) error { return nil }
func (unrestrictedPolicy) LeaveDelete()                      {}

// safe is a binary mutex shared by both touch and delete, implemented as a
// buffered channel so entry can respect ctx cancellation (a plain
// sync.Mutex offers no cancellable Lock).
type safe struct {
	sema chan struct{}
}

func newSafe() *safe {
	s := &safe{sema: make(chan struct{}, 1)}
	s.sema <- struct{}{}
	return s
}

func (s *safe) enter(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.sema:
		return nil
	}
}

func (s *safe) leave() {
	s.sema <- struct{}{}
}

func (s *safe) EnterTouch(ctx context.Context) error  { return s.enter(ctx) }
func (s *safe) LeaveTouch()                           { s.leave() }
func (s *safe) EnterDelete(ctx context.Context) error { return s.enter(ctx) }
func (s *safe) LeaveDelete()                          { s.leave() }

// group holds the {waiting, active, granted} counters for one side
// (touch or delete) of an [alternating] policy.
type group struct {
	waiting int
	active  int
	granted int
	wake    chan struct{}
}

func newGroup() *group {
	return &group{wake: make(chan struct{})}
}

// alternating implements the Alternating mode: both groups may run
// concurrently with themselves, never with each other. All state is
// guarded by a single mutex; see [alternating.enter] and
// [alternating.leave] for the admission/release rules (spec §4.F).
type alternating struct {
	mu      sync.Mutex
	current *group // nil if neither side is active
	touch   *group
	delete  *group
}

func newAlternating() *alternating {
	return &alternating{
		touch:  newGroup(),
		delete: newGroup(),
	}
}

func (p *alternating) EnterTouch(ctx context.Context) error  { return p.enter(ctx, p.touch, p.delete) }
func (p *alternating) LeaveTouch()                           { p.leave(p.touch, p.delete) }
func (p *alternating) EnterDelete(ctx context.Context) error { return p.enter(ctx, p.delete, p.touch) }
func (p *alternating) LeaveDelete()                          { p.leave(p.delete, p.touch) }

func (p *alternating) enter(ctx context.Context, mine, other *group) error {
	p.mu.Lock()
	parked := false

	for {
		if p.current == nil || (p.current == mine && other.waiting == 0) {
			p.current = mine
			mine.active++
			if parked {
				mine.waiting--
			}
			p.mu.Unlock()
			return nil
		}

		if p.current == mine && mine.granted > 0 {
			mine.granted--
			mine.active++
			if parked {
				mine.waiting--
			}
			p.mu.Unlock()
			return nil
		}

		if !parked {
			mine.waiting++
			parked = true
		}
		wake := mine.wake
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			p.mu.Lock()
			mine.waiting--
			p.mu.Unlock()
			return ctx.Err()
		case <-wake:
		}

		p.mu.Lock()
	}
}

func (p *alternating) leave(mine, other *group) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mine.active--
	if mine.active > 0 {
		return
	}

	if other.waiting > 0 {
		p.current = other
		other.granted = other.waiting
	} else {
		p.current = nil
		// grants left unconsumed (their waiters canceled) must not carry
		// into the next time either side becomes current, or a late arrival
		// could use one to overtake waiters of the other side.
		mine.granted = 0
		other.granted = 0
	}

	close(other.wake)
	other.wake = make(chan struct{})
}
