// Package chanread implements a bounded, opportunistic multi-producer,
// single-consumer channel drain, generalizing
// [github.com/joeycumines/go-longpoll]'s Channel function for
// [github.com/joeycumines/go-alivebatch/batchbuilder]'s reader loop: rather
// than a configurable minimum size and partial-timeout, it always returns as
// soon as one value is available, then opportunistically keeps draining for
// a bounded window.
package chanread

import (
	"context"
	"time"

	"github.com/joeycumines/go-alivebatch/timesource"
)

// ReadMany blocks until at least one value is available on ch or ch is
// closed, then returns up to maxSize values (maxSize <= 0 is treated as 1).
// If the first arrival leaves fewer than maxSize values collected and delay
// is positive, ReadMany continues opportunistically draining ch for at most
// delay (measured via ts, from the first arrival) or until maxSize values
// have been collected, whichever comes first. A non-positive delay narrows
// the window to "immediately ready": values already buffered or with a
// sender parked on ch are still collected, up to maxSize, but ReadMany never
// waits for a later arrival.
//
// A closed ch, observed before any value arrives, yields (nil, nil) - this
// is the sole signal for "channel closed"; callers must treat it as loop
// termination, not an empty batch to process.
//
// If ctx is canceled, ReadMany returns immediately with ctx.Err() and
// whatever values had already been dequeued from ch (possibly none); those
// values have been irreversibly removed from ch, so callers must still
// account for them (e.g. resolve their associated requests) even though the
// call reports an error.
func ReadMany[T any](ctx context.Context, ts timesource.Source, ch <-chan T, maxSize int, delay time.Duration) ([]T, error) {
	if maxSize <= 0 {
		maxSize = 1
	}
	ts = timesource.OrDefault(ts)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []T

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case v, ok := <-ch:
		if !ok {
			return nil, nil
		}
		out = append(out, v)
	}

	if len(out) >= maxSize {
		return out, nil
	}

	if delay <= 0 {
		for len(out) < maxSize {
			select {
			case v, ok := <-ch:
				if !ok {
					return out, nil
				}
				out = append(out, v)
			default:
				return out, nil
			}
		}
		return out, nil
	}

	delayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	expired := make(chan struct{})
	go func() {
		_ = ts.Delay(delayCtx, delay)
		close(expired)
	}()

	for len(out) < maxSize {
		select {
		case <-ctx.Done():
			return out, ctx.Err()

		case <-expired:
			return out, nil

		case v, ok := <-ch:
			if !ok {
				return out, nil
			}
			out = append(out, v)
		}
	}

	return out, nil
}
