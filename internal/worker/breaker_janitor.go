package worker

import (
	"context"
	"log/slog"
	"time"
)

const breakerEvictionInterval = 10 * time.Minute

// breakerRegistry is the subset of *circuitbreaker.Registry the janitor needs.
type breakerRegistry interface {
	EvictStale(before time.Time) int
}

// BreakerJanitor periodically evicts circuit breakers that have not been
// used (checked or fed an outcome) recently, so a provider that was added and later removed from
// config does not leak a breaker entry forever.
type BreakerJanitor struct {
	registry breakerRegistry
	maxIdle  time.Duration
}

// NewBreakerJanitor creates a BreakerJanitor. maxIdle is how long a breaker
// may go unused before eviction.
func NewBreakerJanitor(registry breakerRegistry, maxIdle time.Duration) *BreakerJanitor {
	if maxIdle <= 0 {
		maxIdle = time.Hour
	}
	return &BreakerJanitor{registry: registry, maxIdle: maxIdle}
}

// Name returns the worker identifier.
func (j *BreakerJanitor) Name() string { return "breaker_janitor" }

// Run evicts stale breakers until ctx is cancelled.
func (j *BreakerJanitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(breakerEvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := j.registry.EvictStale(time.Now().Add(-j.maxIdle)); n > 0 {
				slog.Info("circuit breaker eviction", "evicted", n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
