// Package batchsubscriber implements the poll/handle/acknowledge pipeline
// that ties together an upstream [Poller], a user handler, and an
// [github.com/joeycumines/go-alivebatch/alivekeeper] keeper: messages are
// polled in parallel up to a poller concurrency limit, registered with the
// keeper so their receipts are kept alive for the duration of handling,
// handed to a bounded pool of handler goroutines, and deleted (or
// forgotten, on failure) once handling resolves.
package batchsubscriber

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/joeycumines/go-alivebatch/agent"
	"github.com/joeycumines/go-alivebatch/alivekeeper"
	"github.com/joeycumines/go-alivebatch/metrics"
	"github.com/joeycumines/go-alivebatch/syncpolicy"
	"github.com/joeycumines/go-alivebatch/timesource"
	"github.com/joeycumines/go-alivebatch/xlog"
)

// Poller is the upstream contract BatchSubscriber polls, touches, and
// deletes against. Receipt must be comparable: it is used directly as the
// item type of the internal AliveKeeper.
type Poller[Message any, Receipt comparable] interface {
	// ReceiptFor extracts the receipt for a polled message.
	ReceiptFor(message Message) Receipt
	// IdentityOf returns a stable, loggable identity for a receipt.
	IdentityOf(receipt Receipt) string
	// Receive polls for the next batch of messages. May return an empty
	// slice; may block until messages appear; must honor ctx.
	Receive(ctx context.Context) ([]Message, error)
	// Delete deletes receipts from the upstream source, returning the
	// successfully-deleted subset. A non-nil error indicates a
	// whole-batch failure.
	Delete(ctx context.Context, receipts []Receipt) ([]Receipt, error)
	// Touch renews receipts against the upstream source, returning the
	// successfully-renewed subset, with the same failure contract as
	// Delete.
	Touch(ctx context.Context, receipts []Receipt) ([]Receipt, error)
}

// Handler processes a single polled message. An error causes the message's
// receipt to be forgotten (so its lease expires naturally) rather than
// deleted.
type Handler[Message any] func(ctx context.Context, message Message) error

// Settings controls a Subscriber's concurrency, batching, and retry
// behaviour. Every field is clamped up to its documented floor; see
// [DefaultSettings].
type Settings struct {
	// HandlerCount bounds concurrent user-handler invocations. Clamped
	// up to 1.
	HandlerCount int
	// BatchConcurrency bounds concurrent touch/delete batch calls, and
	// selects Safe sync policy when <= 1. Clamped up to 1.
	BatchConcurrency int
	// RetryLimit bounds touch/delete retries inside the keeper. Clamped
	// up to 0.
	RetryLimit int
	// RetryInterval is the sleep between keeper retries. Clamped up to
	// a 10ms floor.
	RetryInterval time.Duration
	// DeleteBatchSize bounds the keeper's delete batch size. Clamped up
	// to 1.
	DeleteBatchSize int
	// TouchBatchSize bounds the keeper's touch batch size. Clamped up
	// to 1.
	TouchBatchSize int
	// TouchInterval is the keeper's steady-state touch interval.
	// Clamped up to a 10ms floor.
	TouchInterval time.Duration
	// TouchBatchDelay is the keeper touch builder's opportunistic
	// collection window. Clamped up to 0.
	TouchBatchDelay time.Duration
	// AlternateBatches selects syncpolicy.Alternating (true) or
	// syncpolicy.Unrestricted (false) when BatchConcurrency > 1.
	AlternateBatches bool
	// AsynchronousDeletes, when true, fires the post-success delete
	// without waiting for it, trading at-least-once strength for
	// throughput.
	AsynchronousDeletes bool
	// InternalQueueSize bounds the poller-to-runner handoff channel.
	// Clamped up to 1.
	InternalQueueSize int
	// PollerCount bounds concurrent poller.Receive calls. Clamped up to
	// 1.
	PollerCount int
	// TimeSource abstracts the clock used by the keeper. Defaults to
	// [timesource.Default] if nil.
	TimeSource timesource.Source
	// Logger receives handler-failure and poll-failure diagnostics.
	// Defaults to [xlog.Nop] if nil.
	Logger xlog.Logger
	// Metrics receives poll/handle/delete counters. Defaults to
	// [metrics.Nop] if nil.
	Metrics metrics.Metrics
}

// DefaultSettings returns the package's documented defaults.
func DefaultSettings() Settings {
	return Settings{
		HandlerCount:      4,
		BatchConcurrency:  1,
		RetryLimit:        3,
		RetryInterval:     time.Second,
		DeleteBatchSize:   16,
		TouchBatchSize:    16,
		TouchInterval:     time.Second,
		TouchBatchDelay:   50 * time.Millisecond,
		InternalQueueSize: 64,
		PollerCount:       1,
	}
}

const retryIntervalFloor = 10 * time.Millisecond
const touchIntervalFloor = 10 * time.Millisecond

func (s Settings) clamped() Settings {
	if s.HandlerCount < 1 {
		s.HandlerCount = 1
	}
	if s.BatchConcurrency < 1 {
		s.BatchConcurrency = 1
	}
	if s.RetryLimit < 0 {
		s.RetryLimit = 0
	}
	if s.RetryInterval < retryIntervalFloor {
		s.RetryInterval = retryIntervalFloor
	}
	if s.DeleteBatchSize < 1 {
		s.DeleteBatchSize = 1
	}
	if s.TouchBatchSize < 1 {
		s.TouchBatchSize = 1
	}
	if s.TouchInterval < touchIntervalFloor {
		s.TouchInterval = touchIntervalFloor
	}
	if s.TouchBatchDelay < 0 {
		s.TouchBatchDelay = 0
	}
	if s.InternalQueueSize < 1 {
		s.InternalQueueSize = 1
	}
	if s.PollerCount < 1 {
		s.PollerCount = 1
	}
	return s
}

type burrito[Message any, Receipt comparable] struct {
	message Message
	receipt Receipt
}

// Subscriber runs the poll/handle/acknowledge pipeline described in the
// package doc. A zero Subscriber is not usable; use [New].
type Subscriber[Message any, Receipt comparable] struct {
	poller  Poller[Message, Receipt]
	handler Handler[Message]
	cfg     Settings
	logger  xlog.Logger

	keeper *alivekeeper.Keeper[Receipt]

	internalCh chan burrito[Message, Receipt]
	pollerSem  *semaphore.Weighted
	handlerSem *semaphore.Weighted

	pollerAgent *agent.Agent
	runnerAgent *agent.Agent
	supervisor  *agent.Agent

	// pollerForkWG and handlerForkWG are tracked separately so the
	// supervisor can wait for every in-flight poller-fork goroutine (the
	// only writers to internalCh) to finish before closing internalCh,
	// without needing handler forks to have drained yet.
	pollerForkWG  sync.WaitGroup
	handlerForkWG sync.WaitGroup

	disposeOnce  sync.Once
	teardownOnce sync.Once
}

// New constructs a Subscriber bound to ctx. If settings is nil,
// [DefaultSettings] is used; otherwise its fields are clamped up to their
// floors. Call [Subscriber.Start] to begin polling.
func New[Message any, Receipt comparable](
	ctx context.Context,
	poller Poller[Message, Receipt],
	handler Handler[Message],
	settings *Settings,
) *Subscriber[Message, Receipt] {
	if poller == nil {
		panic("batchsubscriber: poller must not be nil")
	}
	if handler == nil {
		panic("batchsubscriber: handler must not be nil")
	}

	var resolved Settings
	if settings == nil {
		resolved = DefaultSettings()
	} else {
		resolved = settings.clamped()
	}
	resolved.TimeSource = timesource.OrDefault(resolved.TimeSource)
	resolved.Logger = xlog.OrNop(resolved.Logger)
	resolved.Metrics = metrics.OrNop(resolved.Metrics)

	syncMode := syncpolicy.Unrestricted
	if resolved.AlternateBatches {
		syncMode = syncpolicy.Alternating
	}

	keeper := alivekeeper.New[Receipt](ctx, poller.Touch, poller.Delete, poller.IdentityOf, &alivekeeper.Settings{
		TouchInterval:   resolved.TouchInterval,
		TouchBatchSize:  resolved.TouchBatchSize,
		TouchBatchDelay: resolved.TouchBatchDelay,
		DeleteBatchSize: resolved.DeleteBatchSize,
		RetryInterval:   resolved.RetryInterval,
		RetryLimit:      resolved.RetryLimit,
		Concurrency:     resolved.BatchConcurrency,
		SyncPolicyMode:  syncMode,
		TimeSource:      resolved.TimeSource,
		Logger:          resolved.Logger,
		Metrics:         resolved.Metrics,
	})

	s := &Subscriber[Message, Receipt]{
		poller:     poller,
		handler:    handler,
		cfg:        resolved,
		logger:     resolved.Logger,
		keeper:     keeper,
		internalCh: make(chan burrito[Message, Receipt], resolved.InternalQueueSize),
		pollerSem:  semaphore.NewWeighted(int64(resolved.PollerCount)),
		handlerSem: semaphore.NewWeighted(int64(resolved.HandlerCount)),
	}

	s.pollerAgent = agent.New(ctx, "batchsubscriber.poller", s.pollerStep, resolved.Logger)
	s.runnerAgent = agent.New(ctx, "batchsubscriber.runner", s.runnerStep, resolved.Logger)
	s.supervisor = agent.New(ctx, "batchsubscriber.supervisor", s.supervisorStep, resolved.Logger)

	return s
}

// Start releases the supervisor, poller, and runner loops. Idempotent
// (subsequent calls are no-ops), consistent with [agent.Agent.Start].
func (s *Subscriber[Message, Receipt]) Start() {
	s.pollerAgent.Start()
	s.runnerAgent.Start()
	s.supervisor.Start()
}

// Dispose cancels the subscriber and waits for shutdown to complete:
// the poller stops, the internal channel is closed, the runner drains,
// and finally the keeper is disposed. Idempotent.
func (s *Subscriber[Message, Receipt]) Dispose() {
	s.disposeOnce.Do(func() {
		s.supervisor.Dispose()
		// the supervisor step normally performs the teardown itself, but a
		// cancellation that lands before its loop reaches the step (or a
		// Dispose without a prior Start) exits the loop without running it;
		// teardown is once-guarded, so this is a no-op in the common case.
		s.teardown()
	})
}

func (s *Subscriber[Message, Receipt]) pollerStep(ctx context.Context) (bool, error) {
	if err := s.pollerSem.Acquire(ctx, 1); err != nil {
		return false, err
	}

	s.pollerForkWG.Add(1)
	go func() {
		defer s.pollerForkWG.Done()
		defer s.pollerSem.Release(1)

		messages, err := s.poller.Receive(ctx)
		if err != nil {
			s.cfg.Metrics.Inc("batchsubscriber.poll.failure", 1)
			s.logger.Log(xlog.LevelWarn, "batchsubscriber.poller", "receive failed", err)
			return
		}
		s.cfg.Metrics.Observe("batchsubscriber.poll.batch_size", float64(len(messages)))

		for _, m := range messages {
			receipt := s.poller.ReceiptFor(m)
			s.keeper.Register(ctx, receipt)

			select {
			case <-ctx.Done():
				s.keeper.Forget(receipt)
				return
			case s.internalCh <- burrito[Message, Receipt]{message: m, receipt: receipt}:
			}
		}
	}()

	return true, nil
}

func (s *Subscriber[Message, Receipt]) runnerStep(ctx context.Context) (bool, error) {
	var b burrito[Message, Receipt]
	var ok bool

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case b, ok = <-s.internalCh:
	}
	if !ok {
		return false, nil
	}

	if err := s.handlerSem.Acquire(ctx, 1); err != nil {
		s.keeper.Forget(b.receipt)
		return false, err
	}

	s.handlerForkWG.Add(1)
	go func() {
		defer s.handlerForkWG.Done()
		defer s.handlerSem.Release(1)
		s.handleOne(ctx, b)
	}()

	return true, nil
}

func (s *Subscriber[Message, Receipt]) handleOne(ctx context.Context, b burrito[Message, Receipt]) {
	if err := s.handler(ctx, b.message); err != nil {
		s.cfg.Metrics.Inc("batchsubscriber.handle.failure", 1)
		s.logger.Log(xlog.LevelWarn, "batchsubscriber.handler", "handler failed, forgetting receipt", err, xlog.F("receipt", s.poller.IdentityOf(b.receipt)))
		s.keeper.Forget(b.receipt)
		return
	}
	s.cfg.Metrics.Inc("batchsubscriber.handle.success", 1)

	if s.cfg.AsynchronousDeletes {
		s.handlerForkWG.Add(1)
		go func() {
			defer s.handlerForkWG.Done()
			if err := s.keeper.Delete(context.Background(), b.receipt); err != nil {
				s.logger.Log(xlog.LevelWarn, "batchsubscriber.delete", "asynchronous delete failed", err, xlog.F("receipt", s.poller.IdentityOf(b.receipt)))
			}
		}()
		return
	}

	if err := s.keeper.Delete(ctx, b.receipt); err != nil {
		s.logger.Log(xlog.LevelWarn, "batchsubscriber.delete", "delete failed", err, xlog.F("receipt", s.poller.IdentityOf(b.receipt)))
	}
}

func (s *Subscriber[Message, Receipt]) supervisorStep(ctx context.Context) (bool, error) {
	<-ctx.Done()
	s.teardown()
	return false, nil
}

func (s *Subscriber[Message, Receipt]) teardown() {
	s.teardownOnce.Do(func() {
		s.pollerAgent.Dispose()
		s.pollerForkWG.Wait() // no poller-fork goroutine is still sending to internalCh past this point
		close(s.internalCh)
		s.runnerAgent.Dispose()
		s.handlerForkWG.Wait()
		s.keeper.Dispose()
	})
}
