// Package recovery tracks consecutive read failures on the serial link and
// derives the backoff and the link state from them.
package recovery

import (
	"time"
)

// DefaultCeiling is the number of consecutive failed reads after which the
// serial link is considered dead
const DefaultCeiling = 10

// DefaultBackoffUnit is multiplied by the failure count to get the wait
// before the next read
const DefaultBackoffUnit = 10 * time.Second

// LinkState is the recovery state of the serial link
type LinkState int

const (
	Healthy LinkState = iota
	Degraded
	Dead
)

// String returns the state name used in logs and on /health
func (s LinkState) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// LinkHealth tracks consecutive read failures on the serial link.
// It is not safe for concurrent use; the poller guards it.
type LinkHealth struct {
	ConsecutiveFailures int
	LastBackoff         time.Duration
	ceiling             int
	firstFailureTime    time.Time
}

// NewLinkHealth creates a tracker that declares the link dead after
// ceiling consecutive failures
func NewLinkHealth(ceiling int) *LinkHealth {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &LinkHealth{ceiling: ceiling}
}

// State derives the link state from the failure count
func (h LinkHealth) State() LinkState {
	switch {
	case h.ConsecutiveFailures == 0:
		return Healthy
	case h.ConsecutiveFailures >= h.Ceiling():
		return Dead
	default:
		return Degraded
	}
}

// Ceiling returns the failure count at which the link is dead
func (h LinkHealth) Ceiling() int {
	if h.ceiling <= 0 {
		return DefaultCeiling
	}
	return h.ceiling
}

// RecordFailure counts a failed read and returns the backoff to wait
// before the next attempt: failures × unit.
func (h *LinkHealth) RecordFailure(unit time.Duration) time.Duration {
	h.ConsecutiveFailures++
	if h.firstFailureTime.IsZero() {
		h.firstFailureTime = time.Now()
	}
	h.LastBackoff = time.Duration(h.ConsecutiveFailures) * unit
	return h.LastBackoff
}

// RecordSuccess resets failure tracking after a good read
func (h *LinkHealth) RecordSuccess() {
	h.ConsecutiveFailures = 0
	h.LastBackoff = 0
	h.firstFailureTime = time.Time{}
}

// GetTimeSinceFirstFailure returns how long the current failure run has lasted
func (h LinkHealth) GetTimeSinceFirstFailure() time.Duration {
	if h.firstFailureTime.IsZero() {
		return 0
	}
	return time.Since(h.firstFailureTime)
}

// Snapshot returns a copy safe to hand to other goroutines
func (h *LinkHealth) Snapshot() LinkHealth {
	return *h
}
