// Package sync provides blocking, map-shaped convenience wrappers over
// [github.com/joeycumines/go-alivebatch/batchbuilder] for the common case
// of batching independent key/value reads or writes, mirroring the
// BatchReader/BatchWriter surface of
// [github.com/joeycumines/go-alivebatch/_examples]'s MasterOfBinary-gobatch
// sync subpackage: a caller asks for one key at a time and blocks, while
// concurrently-pending callers are coalesced into a single
// map-keys-in/map-values-out call underneath.
package sync

import (
	"context"
	"errors"

	"github.com/joeycumines/go-alivebatch/batchbuilder"
)

// ErrKeyNotFound is returned by [BatchReader.Get] when readFunc's result
// map omits the requested key.
var ErrKeyNotFound = errors.New(`sync: key not found`)

// ReadFunc performs a batched read for a set of keys. Keys absent from the
// returned map are reported to their caller as [ErrKeyNotFound].
type ReadFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// WriteFunc performs a batched write of a key/value map. A non-nil error
// fails every Set call in the batch; WriteFunc has no means of reporting a
// failure for an individual key within an otherwise-successful batch.
type WriteFunc[K comparable, V any] func(ctx context.Context, data map[K]V) error

type readResult[K comparable, V any] struct {
	key   K
	value V
	found bool
}

func keyOfKey[K comparable](k K) K { return k }

func keyOfReadResult[K comparable, V any](r readResult[K, V]) K { return r.key }

// BatchReader exposes a blocking Get(key) surface backed by a
// [batchbuilder.Builder] keyed on K directly.
type BatchReader[K comparable, V any] struct {
	b *batchbuilder.Builder[K, K, readResult[K, V]]
}

// NewBatchReader constructs a BatchReader bound to ctx; see
// [batchbuilder.New] for cfg semantics.
func NewBatchReader[K comparable, V any](ctx context.Context, cfg *batchbuilder.Config, readFunc ReadFunc[K, V]) *BatchReader[K, V] {
	runBatch := func(ctx context.Context, keys []K) ([]readResult[K, V], error) {
		values, err := readFunc(ctx, keys)
		if err != nil {
			return nil, err
		}
		out := make([]readResult[K, V], 0, len(keys))
		for _, k := range keys {
			v, ok := values[k]
			out = append(out, readResult[K, V]{key: k, value: v, found: ok})
		}
		return out, nil
	}

	return &BatchReader[K, V]{
		b: batchbuilder.New[K, K, readResult[K, V]](ctx, keyOfKey[K], keyOfReadResult[K, V], runBatch, cfg),
	}
}

// Get retrieves the value for key, blocking until the batch it was placed
// in completes.
func (r *BatchReader[K, V]) Get(ctx context.Context, key K) (V, error) {
	res, err := r.b.Request(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	if !res.found {
		var zero V
		return zero, ErrKeyNotFound
	}
	return res.value, nil
}

// Close stops the BatchReader, draining any buffered Get calls.
func (r *BatchReader[K, V]) Close() {
	r.b.Dispose()
}

type writeRequest[K comparable, V any] struct {
	key   K
	value V
}

func keyOfWriteRequest[K comparable, V any](r writeRequest[K, V]) K { return r.key }

// BatchWriter exposes a blocking Set(key, value) surface backed by a
// [batchbuilder.Builder].
type BatchWriter[K comparable, V any] struct {
	b *batchbuilder.Builder[K, writeRequest[K, V], K]
}

// NewBatchWriter constructs a BatchWriter bound to ctx; see
// [batchbuilder.New] for cfg semantics.
func NewBatchWriter[K comparable, V any](ctx context.Context, cfg *batchbuilder.Config, writeFunc WriteFunc[K, V]) *BatchWriter[K, V] {
	runBatch := func(ctx context.Context, reqs []writeRequest[K, V]) ([]K, error) {
		data := make(map[K]V, len(reqs))
		for _, r := range reqs {
			data[r.key] = r.value
		}
		if err := writeFunc(ctx, data); err != nil {
			return nil, err
		}
		out := make([]K, 0, len(reqs))
		for _, r := range reqs {
			out = append(out, r.key)
		}
		return out, nil
	}

	return &BatchWriter[K, V]{
		b: batchbuilder.New[K, writeRequest[K, V], K](ctx, keyOfWriteRequest[K, V], keyOfKey[K], runBatch, cfg),
	}
}

// Set writes key/value, blocking until the batch it was placed in
// completes.
func (w *BatchWriter[K, V]) Set(ctx context.Context, key K, value V) error {
	_, err := w.b.Request(ctx, writeRequest[K, V]{key: key, value: value})
	return err
}

// Close stops the BatchWriter, draining any buffered Set calls.
func (w *BatchWriter[K, V]) Close() {
	w.b.Dispose()
}
