// Package queue provides the durable, at-least-once work queue with
// delayed delivery and exponential backoff retry.
package queue

import (
	"time"
)

// Options tune delivery and retry behavior for one named queue.
type Options struct {
	// Name isolates key spaces; the scraper and escalation queues are
	// two instances with different names.
	Name string
	// LockDuration is the processing lease. A message whose lease
	// expires without renewal is considered stalled.
	LockDuration time.Duration
	// StalledInterval is how often expired leases are swept.
	StalledInterval time.Duration
	// MaxStalledCount is how many times a message may stall before it
	// is marked permanently failed.
	MaxStalledCount int
	// DefaultMaxAttempts applies when the enqueuer does not set one.
	DefaultMaxAttempts int
	// DefaultBackoffBase applies when the enqueuer does not set one.
	DefaultBackoffBase time.Duration
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "scraper"
	}
	if o.LockDuration <= 0 {
		o.LockDuration = 5 * time.Minute
	}
	if o.StalledInterval <= 0 {
		o.StalledInterval = time.Minute
	}
	if o.MaxStalledCount <= 0 {
		o.MaxStalledCount = 3
	}
	if o.DefaultMaxAttempts <= 0 {
		o.DefaultMaxAttempts = 5
	}
	if o.DefaultBackoffBase <= 0 {
		o.DefaultBackoffBase = 10 * time.Second
	}
	return o
}

// maxBackoff caps the rescheduling delay so a long retry chain cannot
// push a job hours into the future.
const maxBackoff = 15 * time.Minute

// Backoff returns the delay before redelivering a message that has
// already been attempted attemptsMade times (>= 1). Exponential,
// doubling per attempt, capped at maxBackoff.
func Backoff(base time.Duration, attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attemptsMade; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}
