// Package batchbuilder implements the request coalescer described in
// alivebatch's core spec: many concurrent callers submit requests that
// share a key space, and the builder groups concurrently-pending requests
// by key into batches, dispatches each batch through a single user-supplied
// runBatch callback, and fans the per-key responses back out to every
// caller that asked for that key.
//
// It generalizes the single-key-space batching of
// [github.com/joeycumines/go-alivebatch/_examples] sibling package
// microbatch with explicit key extraction and response demultiplexing,
// built on top of [github.com/joeycumines/go-alivebatch/chanread] for the
// opportunistic read-many-with-delay collection window.
package batchbuilder

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/joeycumines/go-alivebatch/chanread"
	"github.com/joeycumines/go-alivebatch/timesource"
)

// KeyFunc extracts the correlation key from a request or response value.
type KeyFunc[T any, K comparable] func(T) K

// RunBatch executes one batch of deduplicated representative requests and
// returns the corresponding responses. The order of resps need not match
// reqs; matching is done purely by key via the builder's KeyFunc values.
// A non-nil error fails every request in the batch with a [BatchError].
type RunBatch[Req, Resp any] func(ctx context.Context, reqs []Req) (resps []Resp, err error)

// Config controls a Builder's batching behaviour. The zero Config is
// usable but not especially useful: construct via [DefaultConfig], or
// pass a *Config with only the fields you care about set, keeping in mind
// every field is clamped up to its floor rather than replaced with a
// package default (see [New]).
type Config struct {
	// BatchSize is the maximum number of representative (post-dedup)
	// requests per batch. Clamped up to 1.
	BatchSize int
	// BatchDelay is the opportunistic collection window applied after the
	// first request of a batch arrives, during which further concurrently
	// arriving requests may join the same batch. Zero disables the
	// window: a batch dispatches as soon as a reader pass observes no
	// further immediately-ready request. Clamped up to 0.
	BatchDelay time.Duration
	// Concurrency bounds the number of runBatch calls in flight at once.
	// Clamped up to 1.
	Concurrency int
	// TimeSource abstracts the clock used for the opportunistic delay
	// window. Defaults to [timesource.Default] if nil.
	TimeSource timesource.Source
}

// DefaultConfig returns the package's documented defaults: a batch size of
// 16, a 50ms opportunistic delay, and a concurrency of 1.
func DefaultConfig() Config {
	return Config{
		BatchSize:   16,
		BatchDelay:  50 * time.Millisecond,
		Concurrency: 1,
	}
}

func (c Config) clamped() Config {
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	return c
}

type result[Resp any] struct {
	resp Resp
	err  error
}

type mailbox[K comparable, Req any, Resp any] struct {
	req      Req
	key      K
	resultCh chan result[Resp]
}

// Builder coalesces requests of type Req into batches keyed by K, and
// demultiplexes responses of type Resp back to every caller that
// requested the corresponding key. A zero Builder is not usable; use
// [New].
type Builder[K comparable, Req any, Resp any] struct {
	keyOfReq  KeyFunc[Req, K]
	keyOfResp KeyFunc[Resp, K]
	runBatch  RunBatch[Req, Resp]
	cfg       Config

	ctx   context.Context
	sem   *semaphore.Weighted
	reqCh chan *mailbox[K, Req, Resp]

	closeMu sync.RWMutex
	closed  bool

	wg          sync.WaitGroup
	done        chan struct{}
	disposeOnce sync.Once
}

// New constructs a Builder bound to ctx: the builder stops accepting and
// processing work once ctx is done, in addition to stopping via
// [Builder.Dispose]. If cfg is nil, [DefaultConfig] is used; otherwise
// cfg's fields are taken as given, each clamped up to its floor (see
// [Config]).
func New[K comparable, Req any, Resp any](
	ctx context.Context,
	keyOfReq KeyFunc[Req, K],
	keyOfResp KeyFunc[Resp, K],
	runBatch RunBatch[Req, Resp],
	cfg *Config,
) *Builder[K, Req, Resp] {
	if keyOfReq == nil || keyOfResp == nil {
		panic("batchbuilder: keyOfReq and keyOfResp must not be nil")
	}
	if runBatch == nil {
		panic("batchbuilder: runBatch must not be nil")
	}

	var resolved Config
	if cfg == nil {
		resolved = DefaultConfig()
	} else {
		resolved = cfg.clamped()
	}
	resolved.TimeSource = timesource.OrDefault(resolved.TimeSource)

	b := &Builder[K, Req, Resp]{
		keyOfReq:  keyOfReq,
		keyOfResp: keyOfResp,
		runBatch:  runBatch,
		cfg:       resolved,
		ctx:       ctx,
		sem:       semaphore.NewWeighted(int64(resolved.Concurrency)),
		reqCh:     make(chan *mailbox[K, Req, Resp]),
		done:      make(chan struct{}),
	}
	go b.run()
	return b
}

// Request submits req and blocks until a response is available, runBatch
// fails the batch it was placed in, ctx is done, or the builder's own
// construction ctx is done. Cancelling ctx only stops this call from
// waiting; it does not retract req from an in-flight batch, so other
// callers sharing its key are unaffected.
func (b *Builder[K, Req, Resp]) Request(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	mb := &mailbox[K, Req, Resp]{
		req:      req,
		key:      b.keyOfReq(req),
		resultCh: make(chan result[Resp], 1),
	}

	b.closeMu.RLock()
	if b.closed {
		b.closeMu.RUnlock()
		return zero, ErrDisposed
	}
	select {
	case <-ctx.Done():
		b.closeMu.RUnlock()
		return zero, ctx.Err()
	case <-b.ctx.Done():
		b.closeMu.RUnlock()
		return zero, b.ctx.Err()
	case b.reqCh <- mb:
		b.closeMu.RUnlock()
	}

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-mb.resultCh:
		return res.resp, res.err
	}
}

// Dispose stops the builder from accepting new requests, waits for all
// currently-buffered requests to be drained through the normal batching
// path, and then returns once every such request has been resolved.
// Requests submitted concurrently with Dispose either complete the
// handoff (and are drained normally) or observe [ErrDisposed]; none are
// silently lost.
func (b *Builder[K, Req, Resp]) Dispose() {
	b.disposeOnce.Do(func() {
		b.closeMu.Lock()
		b.closed = true
		close(b.reqCh)
		b.closeMu.Unlock()
		<-b.done
	})
}

func (b *Builder[K, Req, Resp]) run() {
	defer close(b.done)
	defer b.wg.Wait()

	for {
		items, err := chanread.ReadMany[*mailbox[K, Req, Resp]](b.ctx, b.cfg.TimeSource, b.reqCh, b.cfg.BatchSize, b.cfg.BatchDelay)
		if len(items) == 0 && err == nil {
			return
		}
		if len(items) > 0 {
			b.dispatch(items)
		}
		if err != nil {
			return
		}
	}
}

type keyGroup[K comparable, Req any, Resp any] struct {
	key       K
	mailboxes []*mailbox[K, Req, Resp]
}

func (b *Builder[K, Req, Resp]) dispatch(items []*mailbox[K, Req, Resp]) {
	order := make([]K, 0, len(items))
	groups := make(map[K]*keyGroup[K, Req, Resp], len(items))
	for _, mb := range items {
		g, ok := groups[mb.key]
		if !ok {
			g = &keyGroup[K, Req, Resp]{key: mb.key}
			groups[mb.key] = g
			order = append(order, mb.key)
		}
		g.mailboxes = append(g.mailboxes, mb)
	}

	reqs := make([]Req, 0, len(order))
	for _, k := range order {
		reqs = append(reqs, groups[k].mailboxes[0].req)
	}

	// The admission gate is taken in the reader loop, not the dispatch
	// goroutine: while all concurrency slots are busy, collection pauses and
	// arrivals accumulate in the queue, so the next collected batch fills
	// toward BatchSize instead of fragmenting into many small ones.
	if err := b.sem.Acquire(b.ctx, 1); err != nil {
		resolveAll(items, err)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.sem.Release(1)

		resps, err := b.runBatch(b.ctx, reqs)
		if err != nil {
			resolveAll(items, &BatchError{Cause: err})
			return
		}

		var zero Resp
		resolved := make(map[K]bool, len(order))
		for _, resp := range resps {
			k := b.keyOfResp(resp)
			g, ok := groups[k]
			if !ok {
				continue
			}
			resolved[k] = true
			for _, mb := range g.mailboxes {
				mb.resultCh <- result[Resp]{resp: resp}
			}
		}
		for _, k := range order {
			if resolved[k] {
				continue
			}
			for _, mb := range groups[k].mailboxes {
				mb.resultCh <- result[Resp]{resp: zero, err: ErrMissingResponse}
			}
		}
	}()
}

func resolveAll[K comparable, Req any, Resp any](items []*mailbox[K, Req, Resp], err error) {
	var zero Resp
	for _, mb := range items {
		mb.resultCh <- result[Resp]{resp: zero, err: err}
	}
}
