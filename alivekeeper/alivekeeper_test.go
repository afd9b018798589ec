package alivekeeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeeper_touchLiveness(t *testing.T) {
	var touches int32
	touchBatch := func(ctx context.Context, items []string) ([]string, error) {
		atomic.AddInt32(&touches, int32(len(items)))
		return items, nil
	}

	k := New[string](context.Background(), touchBatch, nil, nil, &Settings{
		TouchInterval:   5 * time.Millisecond,
		TouchBatchSize:  16,
		TouchBatchDelay: time.Millisecond,
		RetryInterval:   5 * time.Millisecond,
		RetryLimit:      2,
		Concurrency:     1,
	})
	defer k.Dispose()

	k.Register(nil, "item-a")

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&touches) >= 3
	}, time.Second, time.Millisecond)
}

func TestKeeper_touchFailureThenRecoveryContinues(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	var successes int32

	touchBatch := func(ctx context.Context, items []string) ([]string, error) {
		if fail.Load() {
			return nil, errors.New("boom")
		}
		atomic.AddInt32(&successes, int32(len(items)))
		return items, nil
	}

	k := New[string](context.Background(), touchBatch, nil, nil, &Settings{
		TouchInterval:   2 * time.Millisecond,
		TouchBatchSize:  16,
		TouchBatchDelay: time.Millisecond,
		RetryInterval:   2 * time.Millisecond,
		RetryLimit:      100,
		Concurrency:     1,
	})
	defer k.Dispose()

	k.Register(nil, "flaky")

	time.Sleep(20 * time.Millisecond)
	fail.Store(false)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&successes) > 0
	}, time.Second, time.Millisecond)
}

func TestKeeper_retryExhaustedDeactivates(t *testing.T) {
	touchBatch := func(ctx context.Context, items []string) ([]string, error) {
		return nil, errors.New("always fails")
	}

	k := New[string](context.Background(), touchBatch, nil, nil, &Settings{
		TouchInterval:   2 * time.Millisecond,
		TouchBatchSize:  16,
		TouchBatchDelay: time.Millisecond,
		RetryInterval:   2 * time.Millisecond,
		RetryLimit:      1,
		Concurrency:     1,
	})
	defer k.Dispose()

	k.Register(nil, "doomed")

	require.Eventually(t, func() bool {
		return !k.isActive("doomed")
	}, time.Second, time.Millisecond, "expected item to deactivate after retries exhausted")
}

func TestKeeper_forgetStopsTouching(t *testing.T) {
	var touches int32
	touchBatch := func(ctx context.Context, items []string) ([]string, error) {
		atomic.AddInt32(&touches, int32(len(items)))
		return items, nil
	}

	k := New[string](context.Background(), touchBatch, nil, nil, &Settings{
		TouchInterval:   2 * time.Millisecond,
		TouchBatchSize:  16,
		TouchBatchDelay: time.Millisecond,
		RetryInterval:   2 * time.Millisecond,
		RetryLimit:      5,
		Concurrency:     1,
	})
	defer k.Dispose()

	k.Register(nil, "forgettable")
	time.Sleep(20 * time.Millisecond)
	k.Forget("forgettable")

	require.Eventually(t, func() bool {
		return !k.isActive("forgettable")
	}, time.Second, time.Millisecond)

	settled := atomic.LoadInt32(&touches)
	time.Sleep(30 * time.Millisecond)
	// at most one more already-scheduled touch batch may have included it.
	require.LessOrEqual(t, atomic.LoadInt32(&touches), settled+1)
}

func TestKeeper_deleteSuccessDeactivates(t *testing.T) {
	touchBatch := func(ctx context.Context, items []string) ([]string, error) {
		return items, nil
	}
	var deleteCalls int32
	deleteBatch := func(ctx context.Context, items []string) ([]string, error) {
		atomic.AddInt32(&deleteCalls, 1)
		return items, nil
	}

	k := New[string](context.Background(), touchBatch, deleteBatch, nil, &Settings{
		TouchInterval:   time.Hour,
		TouchBatchSize:  16,
		TouchBatchDelay: time.Millisecond,
		DeleteBatchSize: 16,
		RetryInterval:   2 * time.Millisecond,
		RetryLimit:      3,
		Concurrency:     1,
	})
	defer k.Dispose()

	k.Register(nil, "to-delete")
	require.True(t, k.isActive("to-delete"))

	err := k.Delete(nil, "to-delete")
	require.NoError(t, err)
	require.False(t, k.isActive("to-delete"))
	require.Equal(t, int32(1), atomic.LoadInt32(&deleteCalls))
}

func TestKeeper_concurrentDeletesBothSucceed(t *testing.T) {
	touchBatch := func(ctx context.Context, items []string) ([]string, error) { return items, nil }
	var deleted int32
	deleteBatch := func(ctx context.Context, items []string) ([]string, error) {
		atomic.AddInt32(&deleted, int32(len(items)))
		time.Sleep(2 * time.Millisecond)
		return items, nil
	}

	k := New[string](context.Background(), touchBatch, deleteBatch, nil, &Settings{
		TouchInterval:   time.Hour,
		TouchBatchSize:  16,
		TouchBatchDelay: time.Millisecond,
		DeleteBatchSize: 1,
		RetryInterval:   time.Millisecond,
		RetryLimit:      3,
		Concurrency:     1,
	})
	defer k.Dispose()

	k.Register(nil, "contested")

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = k.Delete(nil, "contested")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.False(t, k.isActive("contested"))
}

func TestKeeper_deleteNotRegisteredIsNoop(t *testing.T) {
	touchBatch := func(ctx context.Context, items []string) ([]string, error) { return items, nil }
	k := New[string](context.Background(), touchBatch, nil, nil, nil)
	defer k.Dispose()

	err := k.Delete(nil, "never-registered")
	require.NoError(t, err)
}

func TestKeeper_deleteRetriesThenFails(t *testing.T) {
	touchBatch := func(ctx context.Context, items []string) ([]string, error) { return items, nil }
	var attempts int32
	deleteBatch := func(ctx context.Context, items []string) ([]string, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, errors.New("downstream down")
	}

	k := New[string](context.Background(), touchBatch, deleteBatch, nil, &Settings{
		TouchInterval:   time.Hour,
		TouchBatchSize:  16,
		TouchBatchDelay: time.Millisecond,
		DeleteBatchSize: 16,
		RetryInterval:   time.Millisecond,
		RetryLimit:      2,
		Concurrency:     1,
	})
	defer k.Dispose()

	k.Register(nil, "stubborn")
	err := k.Delete(nil, "stubborn")
	require.Error(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts)) // initial + 2 retries
	require.True(t, k.isActive("stubborn"), "a failed delete must not deactivate the item")
}

func TestKeeper_disposeIsIdempotentAndStopsTouchLoops(t *testing.T) {
	var touches int32
	touchBatch := func(ctx context.Context, items []string) ([]string, error) {
		atomic.AddInt32(&touches, int32(len(items)))
		return items, nil
	}

	k := New[string](context.Background(), touchBatch, nil, nil, &Settings{
		TouchInterval:   2 * time.Millisecond,
		TouchBatchSize:  16,
		TouchBatchDelay: time.Millisecond,
		RetryInterval:   2 * time.Millisecond,
		RetryLimit:      5,
		Concurrency:     1,
	})

	k.Register(nil, "a")
	k.Register(nil, "b")
	time.Sleep(10 * time.Millisecond)

	k.Dispose()
	k.Dispose()
	k.Dispose()

	settled := atomic.LoadInt32(&touches)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, settled, atomic.LoadInt32(&touches), "expected no touches after dispose")
}

func TestKeeper_registerIsNoopWhileAlreadyActive(t *testing.T) {
	var calls int32
	touchBatch := func(ctx context.Context, items []string) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		return items, nil
	}

	k := New[string](context.Background(), touchBatch, nil, nil, &Settings{
		TouchInterval:   5 * time.Millisecond,
		TouchBatchSize:  16,
		TouchBatchDelay: time.Millisecond,
		RetryInterval:   5 * time.Millisecond,
		RetryLimit:      5,
		Concurrency:     1,
	})
	defer k.Dispose()

	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		go func() {
			defer wg.Done()
			k.Register(nil, "shared")
		}()
	}
	wg.Wait()

	require.True(t, k.isActive("shared"))
}
