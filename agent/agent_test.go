package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAgent_stopsNormally(t *testing.T) {
	var calls int32
	a := New(context.Background(), "test", func(ctx context.Context) (bool, error) {
		n := atomic.AddInt32(&calls, 1)
		return n < 3, nil
	}, nil)
	a.Start()

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for agent to stop")
	}

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestAgent_retriesOnTransientError(t *testing.T) {
	var calls int32
	a := New(context.Background(), "test", func(ctx context.Context) (bool, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return true, errors.New("transient")
		}
		return false, nil
	}, nil)
	a.Start()

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for agent to stop")
	}

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestAgent_disposeCancelsAndWaits(t *testing.T) {
	started := make(chan struct{})
	blocked := make(chan struct{})
	a := New(context.Background(), "test", func(ctx context.Context) (bool, error) {
		close(started)
		<-ctx.Done()
		close(blocked)
		return false, ctx.Err()
	}, nil)
	a.Start()

	<-started
	a.Dispose()

	select {
	case <-blocked:
	default:
		t.Fatal("expected step to have observed cancellation before Dispose returned")
	}
}

func TestAgent_disposeBeforeStartDoesNotHang(t *testing.T) {
	a := New(context.Background(), "test", func(ctx context.Context) (bool, error) {
		panic("should never run")
	}, nil)
	a.Dispose()

	select {
	case <-a.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
}

func TestAgent_disposeIsIdempotent(t *testing.T) {
	a := New(context.Background(), "test", func(ctx context.Context) (bool, error) {
		return false, nil
	}, nil)
	a.Start()
	a.Dispose()
	a.Dispose()
	a.Dispose()
}
