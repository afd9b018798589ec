// Package config loads [alivekeeper.Settings] and [batchsubscriber.Settings]
// from a flat map[string]string, e.g. parsed environment variables or CLI
// flags. The same clamping rules the programmatic constructors apply still
// apply here: a missing or empty key simply leaves the corresponding field
// at its zero value, which the constructors then clamp up to their floor.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/joeycumines/go-alivebatch/alivekeeper"
	"github.com/joeycumines/go-alivebatch/batchsubscriber"
)

// LoadAliveKeeperConfig builds an [alivekeeper.Settings] from values, using
// the given prefix on every key (e.g. prefix "ALIVEKEEPER_" and key
// "TouchInterval" look up "ALIVEKEEPER_TouchInterval"). Unset keys leave
// their field unset. Returns an error naming the first key that fails to
// parse.
func LoadAliveKeeperConfig(values map[string]string, prefix string) (*alivekeeper.Settings, error) {
	var s alivekeeper.Settings
	var err error

	if s.TouchInterval, err = durationField(values, prefix+"TouchInterval", s.TouchInterval); err != nil {
		return nil, err
	}
	if s.TouchBatchSize, err = intField(values, prefix+"TouchBatchSize", s.TouchBatchSize); err != nil {
		return nil, err
	}
	if s.TouchBatchDelay, err = durationField(values, prefix+"TouchBatchDelay", s.TouchBatchDelay); err != nil {
		return nil, err
	}
	if s.DeleteBatchSize, err = intField(values, prefix+"DeleteBatchSize", s.DeleteBatchSize); err != nil {
		return nil, err
	}
	if s.RetryInterval, err = durationField(values, prefix+"RetryInterval", s.RetryInterval); err != nil {
		return nil, err
	}
	if s.RetryLimit, err = intField(values, prefix+"RetryLimit", s.RetryLimit); err != nil {
		return nil, err
	}
	if s.Concurrency, err = intField(values, prefix+"Concurrency", s.Concurrency); err != nil {
		return nil, err
	}

	return &s, nil
}

// LoadBatchSubscriberConfig builds a [batchsubscriber.Settings] from values,
// with the same key-prefixing and unset-key behaviour as
// [LoadAliveKeeperConfig].
func LoadBatchSubscriberConfig(values map[string]string, prefix string) (*batchsubscriber.Settings, error) {
	var s batchsubscriber.Settings
	var err error

	if s.HandlerCount, err = intField(values, prefix+"HandlerCount", s.HandlerCount); err != nil {
		return nil, err
	}
	if s.BatchConcurrency, err = intField(values, prefix+"BatchConcurrency", s.BatchConcurrency); err != nil {
		return nil, err
	}
	if s.RetryLimit, err = intField(values, prefix+"RetryLimit", s.RetryLimit); err != nil {
		return nil, err
	}
	if s.RetryInterval, err = durationField(values, prefix+"RetryInterval", s.RetryInterval); err != nil {
		return nil, err
	}
	if s.DeleteBatchSize, err = intField(values, prefix+"DeleteBatchSize", s.DeleteBatchSize); err != nil {
		return nil, err
	}
	if s.TouchBatchSize, err = intField(values, prefix+"TouchBatchSize", s.TouchBatchSize); err != nil {
		return nil, err
	}
	if s.TouchInterval, err = durationField(values, prefix+"TouchInterval", s.TouchInterval); err != nil {
		return nil, err
	}
	if s.TouchBatchDelay, err = durationField(values, prefix+"TouchBatchDelay", s.TouchBatchDelay); err != nil {
		return nil, err
	}
	if s.AlternateBatches, err = boolField(values, prefix+"AlternateBatches", s.AlternateBatches); err != nil {
		return nil, err
	}
	if s.AsynchronousDeletes, err = boolField(values, prefix+"AsynchronousDeletes", s.AsynchronousDeletes); err != nil {
		return nil, err
	}
	if s.InternalQueueSize, err = intField(values, prefix+"InternalQueueSize", s.InternalQueueSize); err != nil {
		return nil, err
	}
	if s.PollerCount, err = intField(values, prefix+"PollerCount", s.PollerCount); err != nil {
		return nil, err
	}

	return &s, nil
}

func intField(values map[string]string, key string, fallback int) (int, error) {
	raw, ok := values[key]
	if !ok || raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func boolField(values map[string]string, key string, fallback bool) (bool, error) {
	raw, ok := values[key]
	if !ok || raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func durationField(values map[string]string, key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := values[key]
	if !ok || raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
