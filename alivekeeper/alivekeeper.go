// Package alivekeeper implements per-item touch/delete lifecycle
// management over two coalescing
// [github.com/joeycumines/go-alivebatch/batchbuilder] builders: registered
// items are periodically touched (renewed) on a schedule with retry, and
// can be deleted on demand, with both operations coalesced, deduplicated,
// and mutually interleaved according to a
// [github.com/joeycumines/go-alivebatch/syncpolicy].
package alivekeeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joeycumines/go-alivebatch/batchbuilder"
	"github.com/joeycumines/go-alivebatch/metrics"
	"github.com/joeycumines/go-alivebatch/syncpolicy"
	"github.com/joeycumines/go-alivebatch/timesource"
	"github.com/joeycumines/go-alivebatch/xlog"
)

// ErrRetryExhausted is wrapped by [Keeper.Delete] when item's deletion
// failed RetryLimit times in a row without deactivating the item.
var ErrRetryExhausted = errors.New("alivekeeper: retry limit exhausted")

// TouchBatch renews every item in items that the external system still
// recognizes and returns the subset that was successfully renewed.
type TouchBatch[Item comparable] func(ctx context.Context, items []Item) ([]Item, error)

// DeleteBatch deletes every item in items from the external system and
// returns the subset that was successfully deleted.
type DeleteBatch[Item comparable] func(ctx context.Context, items []Item) ([]Item, error)

// Settings controls an AliveKeeper's scheduling and batching behaviour.
// Every field is clamped up to its documented floor; see [DefaultSettings].
type Settings struct {
	// TouchInterval is the sleep between touches of a healthy item.
	// Clamped up to 0; default (via [DefaultSettings]) is 1s.
	TouchInterval time.Duration
	// TouchBatchSize bounds the touch BatchBuilder's batch size. Clamped
	// up to 1.
	TouchBatchSize int
	// TouchBatchDelay is the touch BatchBuilder's opportunistic
	// collection window. Clamped up to 0.
	TouchBatchDelay time.Duration
	// DeleteBatchSize bounds the delete BatchBuilder's batch size.
	// Clamped up to 1.
	DeleteBatchSize int
	// RetryInterval is the sleep between a failed touch or delete and
	// its retry. Clamped up to 0.
	RetryInterval time.Duration
	// RetryLimit bounds the number of retries (not counting the initial
	// attempt) before a touch loop gives up and exits, or a Delete call
	// gives up and returns the last failure. Clamped up to 0.
	RetryLimit int
	// Concurrency bounds in-flight touch and delete batch calls, shared
	// by both BatchBuilders. Clamped up to 1.
	Concurrency int
	// SyncPolicyMode selects the [syncpolicy.Policy] gating the user's
	// touch/delete callbacks against each other.
	SyncPolicyMode syncpolicy.Mode
	// TimeSource abstracts the clock driving sleeps. Defaults to
	// [timesource.Default] if nil.
	TimeSource timesource.Source
	// Logger receives touch-failure and retry-exhaustion diagnostics.
	// Defaults to [xlog.Nop] if nil.
	Logger xlog.Logger
	// Metrics receives touch/delete counters and batch-size observations.
	// Defaults to [metrics.Nop] if nil.
	Metrics metrics.Metrics
}

// DefaultSettings returns the package's documented defaults.
func DefaultSettings() Settings {
	return Settings{
		TouchInterval:   time.Second,
		TouchBatchSize:  16,
		TouchBatchDelay: 50 * time.Millisecond,
		DeleteBatchSize: 16,
		RetryInterval:   time.Second,
		RetryLimit:      3,
		Concurrency:     1,
		SyncPolicyMode:  syncpolicy.Safe,
	}
}

func (s Settings) clamped() Settings {
	if s.TouchInterval < 0 {
		s.TouchInterval = 0
	}
	if s.TouchBatchSize < 1 {
		s.TouchBatchSize = 1
	}
	if s.TouchBatchDelay < 0 {
		s.TouchBatchDelay = 0
	}
	if s.DeleteBatchSize < 1 {
		s.DeleteBatchSize = 1
	}
	if s.RetryInterval < 0 {
		s.RetryInterval = 0
	}
	if s.RetryLimit < 0 {
		s.RetryLimit = 0
	}
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	return s
}

type inFlight struct {
	cancel context.CancelFunc
}

// Keeper is an AliveKeeper: it registers items for periodic touch and
// supports on-demand deletion, both coalesced through internal
// BatchBuilders. A zero Keeper is not usable; use [New].
type Keeper[Item comparable] struct {
	touchBatch  TouchBatch[Item]
	deleteBatch DeleteBatch[Item]
	keyToString func(Item) string
	cfg         Settings

	ctx    context.Context
	cancel context.CancelFunc

	policy syncpolicy.Policy
	touch  *batchbuilder.Builder[Item, Item, Item]
	del    *batchbuilder.Builder[Item, Item, Item]

	mu       sync.Mutex
	registry map[Item]*inFlight

	disposeOnce sync.Once
}

// New constructs a Keeper bound to ctx. deleteBatch may be nil, in which
// case [Keeper.Delete] deactivates the item locally without any remote
// call. keyToString may be nil, in which case items are logged via
// fmt.Sprintf("%v", ...). If settings is nil, [DefaultSettings] is used;
// otherwise its fields are clamped up to their floors (see [Settings]).
func New[Item comparable](
	ctx context.Context,
	touchBatch TouchBatch[Item],
	deleteBatch DeleteBatch[Item],
	keyToString func(Item) string,
	settings *Settings,
) *Keeper[Item] {
	if touchBatch == nil {
		panic("alivekeeper: touchBatch must not be nil")
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

	kctx, cancel := context.WithCancel(ctx)

	k := &Keeper[Item]{
		touchBatch:  touchBatch,
		deleteBatch: deleteBatch,
		keyToString: keyToString,
		cfg:         resolved,
		ctx:         kctx,
		cancel:      cancel,
		policy:      syncpolicy.New(resolved.SyncPolicyMode, resolved.Concurrency),
		registry:    make(map[Item]*inFlight),
	}

	identity := func(i Item) Item { return i }

	k.touch = batchbuilder.New[Item, Item, Item](kctx, identity, identity, k.runTouchBatch, &batchbuilder.Config{
		BatchSize:   resolved.TouchBatchSize,
		BatchDelay:  resolved.TouchBatchDelay,
		Concurrency: resolved.Concurrency,
		TimeSource:  resolved.TimeSource,
	})
	k.del = batchbuilder.New[Item, Item, Item](kctx, identity, identity, k.runDeleteBatch, &batchbuilder.Config{
		BatchSize:   resolved.DeleteBatchSize,
		BatchDelay:  0,
		Concurrency: resolved.Concurrency,
		TimeSource:  resolved.TimeSource,
	})

	return k
}

func (k *Keeper[Item]) describe(item Item) string {
	if k.keyToString != nil {
		return k.keyToString(item)
	}
	return fmt.Sprintf("%v", item)
}

func (k *Keeper[Item]) isActive(item Item) bool {
	k.mu.Lock()
	_, ok := k.registry[item]
	k.mu.Unlock()
	return ok
}

// deactivate removes item from the registry (if present) and cancels its
// touch loop's context. Safe to call more than once for the same item.
func (k *Keeper[Item]) deactivate(item Item) {
	k.mu.Lock()
	inf, ok := k.registry[item]
	if ok {
		delete(k.registry, item)
	}
	k.mu.Unlock()
	if ok {
		inf.cancel()
	}
}

func (k *Keeper[Item]) runTouchBatch(ctx context.Context, items []Item) ([]Item, error) {
	filtered := filterActive(k, items)
	if len(filtered) == 0 {
		return nil, nil
	}
	k.cfg.Metrics.Observe("alivekeeper.touch.batch_size", float64(len(filtered)))

	if err := k.policy.EnterTouch(ctx); err != nil {
		return nil, err
	}
	defer k.policy.LeaveTouch()

	return k.touchBatch(ctx, filtered)
}

func (k *Keeper[Item]) runDeleteBatch(ctx context.Context, items []Item) ([]Item, error) {
	filtered := filterActive(k, items)
	if len(filtered) == 0 {
		return nil, nil
	}
	k.cfg.Metrics.Observe("alivekeeper.delete.batch_size", float64(len(filtered)))

	if err := k.policy.EnterDelete(ctx); err != nil {
		return nil, err
	}
	defer k.policy.LeaveDelete()

	if k.deleteBatch == nil {
		return filtered, nil
	}
	return k.deleteBatch(ctx, filtered)
}

func filterActive[Item comparable](k *Keeper[Item], items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if k.isActive(it) {
			out = append(out, it)
		}
	}
	return out
}

// Register starts a touch loop for item, merging token (which may be nil)
// with the keeper's own disposal context. Registering an already-active
// item is a no-op, as is registering while the keeper is disposing.
func (k *Keeper[Item]) Register(token context.Context, item Item) {
	if k.ctx.Err() != nil {
		return
	}

	k.mu.Lock()
	if _, exists := k.registry[item]; exists {
		k.mu.Unlock()
		return
	}
	itemCtx, cancel := mergeContext(k.ctx, token)
	k.registry[item] = &inFlight{cancel: cancel}
	k.mu.Unlock()

	go k.touchLoop(itemCtx, item)
}

func (k *Keeper[Item]) touchLoop(ctx context.Context, item Item) {
	defer k.deactivate(item)

	interval := k.cfg.TouchInterval
	failures := 0

	for {
		if err := k.cfg.TimeSource.Delay(ctx, interval); err != nil {
			return
		}
		if !k.isActive(item) {
			return
		}

		_, err := k.touch.Request(ctx, item)
		if err == nil {
			k.cfg.Metrics.Inc("alivekeeper.touch.success", 1)
			failures = 0
			interval = k.cfg.TouchInterval
			continue
		}

		failures++
		if failures > k.cfg.RetryLimit {
			k.cfg.Metrics.Inc("alivekeeper.touch.retry_exhausted", 1)
			k.cfg.Logger.Log(xlog.LevelError, "alivekeeper.touch", "retry exhausted, deactivating item", err, xlog.F("item", k.describe(item)), xlog.F("failures", failures))
			return
		}
		k.cfg.Metrics.Inc("alivekeeper.touch.failure", 1)
		k.cfg.Logger.Log(xlog.LevelWarn, "alivekeeper.touch", "touch failed, retrying", err, xlog.F("item", k.describe(item)), xlog.F("failures", failures))
		interval = k.cfg.RetryInterval
	}
}

// Delete deletes item if it is registered, retrying up to RetryLimit times
// on failure, and deactivates it (stopping its touch loop) on success. If
// item is not registered, Delete returns nil immediately. token may be nil.
func (k *Keeper[Item]) Delete(token context.Context, item Item) error {
	if !k.isActive(item) {
		return nil
	}

	ctx, cancel := mergeContext(k.ctx, token)
	defer cancel()

	var lastErr error
	for attempt := 0; ; attempt++ {
		_, err := k.del.Request(ctx, item)
		if err == nil {
			k.cfg.Metrics.Inc("alivekeeper.delete.success", 1)
			k.deactivate(item)
			return nil
		}
		lastErr = err

		// a concurrent Delete for the same item may have won: once the item
		// is deactivated, this call's batch membership is filtered out
		// (surfacing as a missing response here), and one successful delete
		// is all that was needed.
		if !k.isActive(item) {
			return nil
		}

		if k.ctx.Err() != nil {
			return lastErr
		}
		if attempt >= k.cfg.RetryLimit {
			k.cfg.Metrics.Inc("alivekeeper.delete.retry_exhausted", 1)
			return fmt.Errorf("%w: %v", ErrRetryExhausted, lastErr)
		}
		k.cfg.Metrics.Inc("alivekeeper.delete.failure", 1)
		if sleepErr := k.cfg.TimeSource.Delay(ctx, k.cfg.RetryInterval); sleepErr != nil {
			return sleepErr
		}
	}
}

// Forget deactivates item without deleting it; the item's touch loop
// observes the deactivation and exits.
func (k *Keeper[Item]) Forget(item Item) {
	k.deactivate(item)
}

// Shutdown cancels the keeper's internal disposal context and waits, with
// exponential backoff capped at 1s, until the registry is empty, or until
// ctx is done.
func (k *Keeper[Item]) Shutdown(ctx context.Context) error {
	k.cancel()

	backoff := 10 * time.Millisecond
	const maxBackoff = time.Second

	for {
		k.mu.Lock()
		empty := len(k.registry) == 0
		k.mu.Unlock()
		if empty {
			return nil
		}

		if err := k.cfg.TimeSource.Delay(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Dispose performs a synchronous [Keeper.Shutdown] (with an uncancellable
// wait) followed by disposing both internal BatchBuilders. Idempotent.
func (k *Keeper[Item]) Dispose() {
	k.disposeOnce.Do(func() {
		_ = k.Shutdown(context.Background())
		k.touch.Dispose()
		k.del.Dispose()
	})
}

// mergeContext derives a cancellable context from parent that is also
// canceled when extra is done. extra may be nil, in which case the result
// is equivalent to context.WithCancel(parent).
func mergeContext(parent, extra context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if extra != nil {
		stop := context.AfterFunc(extra, cancel)
		_ = stop
	}
	return ctx, cancel
}
