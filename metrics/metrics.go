// Package metrics defines the optional counters/gauges contract injected
// into go-alivebatch's components, mirroring the shape of
// [github.com/joeycumines/go-alivebatch/xlog]: callers wire in whatever
// backend they like, or fall back to [Nop].
package metrics

// Metrics is the contract AliveKeeper and BatchSubscriber report lifecycle
// events through. Implementations must not panic on any input or block the
// caller for any non-trivial duration.
type Metrics interface {
	// Inc adds delta to the named counter, e.g. "touch.success", "poll.batch".
	Inc(name string, delta int64)
	// Observe records value against the named distribution, e.g.
	// "touch.batch_size", "poll.batch_size".
	Observe(name string, value float64)
}

// Nop is a [Metrics] that discards everything. It is the default used by
// every component when no Metrics is configured.
var Nop Metrics = nopMetrics{}

type nopMetrics struct{}

func (nopMetrics) Inc(string, int64)       {}
func (nopMetrics) Observe(string, float64) {}

// OrNop returns m if non-nil, or [Nop] otherwise. Components use this to
// avoid nil-checking their configured Metrics at every call site.
func OrNop(m Metrics) Metrics {
	if m == nil {
		return Nop
	}
	return m
}
