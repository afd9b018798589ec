// Package alivebatch is the root of a small module providing concurrent
// primitives for driving batched, long-lived interactions with external
// data sources whose items have bounded lifetime claims, e.g. lease-based
// queues where "receipts" must be periodically renewed and explicitly
// deleted once processed.
//
// The module is split into focused packages, each independently usable:
//
//   - [github.com/joeycumines/go-alivebatch/timesource]: abstract clock.
//   - [github.com/joeycumines/go-alivebatch/rsignal]: awaitable latch.
//   - [github.com/joeycumines/go-alivebatch/agent]: supervised loop.
//   - [github.com/joeycumines/go-alivebatch/chanread]: bounded channel drain.
//   - [github.com/joeycumines/go-alivebatch/batchbuilder]: request coalescer.
//   - [github.com/joeycumines/go-alivebatch/syncpolicy]: touch/delete mutual exclusion.
//   - [github.com/joeycumines/go-alivebatch/alivekeeper]: per-item upkeep.
//   - [github.com/joeycumines/go-alivebatch/batchsubscriber]: poll/handle/ack pipeline.
//   - [github.com/joeycumines/go-alivebatch/xlog]: injected logging contract.
//   - [github.com/joeycumines/go-alivebatch/zaplog]: zap binding for xlog.
//
// See also [github.com/joeycumines/go-microbatch] and
// [github.com/joeycumines/go-longpoll], which this module generalizes: the
// former into a keyed coalescer with per-request demultiplexing, the latter
// into the internal read-many primitive batchbuilder is built on.
package alivebatch
