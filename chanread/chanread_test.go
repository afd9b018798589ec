package chanread

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/go-alivebatch/timesource"
)

func TestReadMany_closedEmpty(t *testing.T) {
	ch := make(chan int)
	close(ch)

	out, err := ReadMany[int](context.Background(), nil, ch, 10, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty, got %v", out)
	}
}

func TestReadMany_canceledBeforeFirstValue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan int)
	out, err := ReadMany[int](ctx, nil, ch, 10, time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil, got %v", out)
	}
}

func TestReadMany_fullBatchReturnsWithoutWaitingForDelay(t *testing.T) {
	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	ch <- 3

	start := time.Now()
	out, err := ReadMany[int](context.Background(), nil, ch, 3, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("took too long: %v", elapsed)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 values, got %v", out)
	}
}

func TestReadMany_zeroDelayDrainsImmediatelyReady(t *testing.T) {
	ch := make(chan int, 10)
	for i := 1; i <= 5; i++ {
		ch <- i
	}

	start := time.Now()
	out, err := ReadMany[int](context.Background(), nil, ch, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("took too long: %v", elapsed)
	}
	if len(out) != 5 {
		t.Fatalf("expected all 5 buffered values, got %v", out)
	}
}

func TestReadMany_zeroDelayDoesNotWaitForLaterArrivals(t *testing.T) {
	ch := make(chan int, 10)
	ch <- 1

	out, err := ReadMany[int](context.Background(), nil, ch, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected only the ready value, got %v", out)
	}
}

func TestReadMany_opportunisticDrainUsesFakeClock(t *testing.T) {
	fake := timesource.NewFake(time.Unix(0, 0))
	ch := make(chan int, 10)
	ch <- 1

	resultCh := make(chan []int, 1)
	errCh := make(chan error, 1)
	go func() {
		out, err := ReadMany[int](context.Background(), fake, ch, 10, time.Second)
		resultCh <- out
		errCh <- err
	}()

	// give the goroutine a moment to register its delay wait; best-effort,
	// the correctness of the test doesn't depend on the exact timing.
	time.Sleep(10 * time.Millisecond)
	ch <- 2
	ch <- 3
	fake.Advance(2 * time.Second)

	out := <-resultCh
	err := <-errCh
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 values, got %v", out)
	}
}

func TestReadMany_cancellationDuringDrainReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan int, 1)
	ch <- 1

	resultCh := make(chan []int, 1)
	errCh := make(chan error, 1)
	go func() {
		out, err := ReadMany[int](ctx, nil, ch, 10, time.Hour)
		resultCh <- out
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	out := <-resultCh
	err := <-errCh
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected the already-dequeued value to be returned, got %v", out)
	}
}
