// Package agent provides a small supervised background loop,
// [Agent], used to drive the cooperative sub-loops of
// [github.com/joeycumines/go-alivebatch/batchsubscriber] (and usable
// standalone).
package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-alivebatch/rsignal"
	"github.com/joeycumines/go-alivebatch/xlog"
)

// Step is invoked repeatedly by an [Agent]'s loop. Returning (true, nil)
// continues the loop; (false, nil) ends it normally; any non-nil err other
// than ctx's own cancellation is logged at error level, and the loop
// continues regardless of the returned bool - transient step failures must
// never kill the agent.
type Step func(ctx context.Context) (cont bool, err error)

// Agent is a supervised cooperative loop. Instances are created in a "not
// started" state via [New], and must be explicitly [Agent.Start]ed, so that
// composite structures can finish wiring their dependencies first.
type Agent struct {
	step     Step
	logger   xlog.Logger
	category string

	ctx    context.Context
	cancel context.CancelFunc

	startOnce   sync.Once
	disposeOnce sync.Once
	done        *rsignal.Signal
	started     atomic.Bool
}

// New constructs an [Agent] around step, logging any transient step error
// under category. ctx bounds the agent's entire lifetime; canceling it is
// equivalent to calling [Agent.Dispose].
func New(ctx context.Context, category string, step Step, logger xlog.Logger) *Agent {
	if step == nil {
		panic(`agent: nil step`)
	}

	runCtx, cancel := context.WithCancel(ctx)
	return &Agent{
		step:     step,
		logger:   xlog.OrNop(logger),
		category: category,
		ctx:      runCtx,
		cancel:   cancel,
		done:     rsignal.New(),
	}
}

// Start releases the loop. Idempotent; subsequent calls are no-ops.
func (a *Agent) Start() {
	a.startOnce.Do(func() {
		a.started.Store(true)
		go a.run()
	})
}

// Done returns a channel that's closed when the loop has exited, for any
// reason (normal stop, cancellation, or never having been started followed
// by [Agent.Dispose]).
func (a *Agent) Done() <-chan struct{} {
	return a.done.C()
}

// Dispose signals cancellation and waits for the loop to exit. Safe to call
// without a prior [Agent.Start]; safe to call repeatedly.
func (a *Agent) Dispose() {
	a.disposeOnce.Do(func() {
		a.cancel()
	})
	a.Start() // ensures run() executes (and exits near-instantly, ctx already canceled) even if never started
	<-a.done.C()
}

func (a *Agent) run() {
	defer a.done.Set()

	for {
		if err := a.ctx.Err(); err != nil {
			return
		}

		cont, err := a.step(a.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || a.ctx.Err() != nil {
				return
			}
			xlog.Error(a.logger, a.category, "step failed, retrying", err)
			continue
		}
		if !cont {
			return
		}
	}
}
