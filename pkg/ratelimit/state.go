// Package ratelimit paces outbound platform requests through a reservoir of
// permits that is reset on a fixed interval, with a minimum spacing between
// consecutive dispatches. One Limiter is shared by every endpoint of a client.
package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Defaults mirror the platform's published request ceiling.
const (
	// DefaultMinTime is the minimum spacing between two dispatches.
	DefaultMinTime = 200 * time.Millisecond

	// DefaultReservoir is the bucket capacity.
	DefaultReservoir = 20

	// DefaultRefillInterval is the period after which the reservoir is reset.
	DefaultRefillInterval = time.Second

	// DefaultQueueSize bounds the number of operations buffered ahead of the dispatcher.
	DefaultQueueSize = 1024
)

var (
	// ErrLimiterClosed is returned for work scheduled on, or still queued in, a closed limiter.
	ErrLimiterClosed = errors.New("rate limiter closed")

	// ErrInvalidConfig is wrapped by Config.Validate failures.
	ErrInvalidConfig = errors.New("invalid rate limit config")
)

// Config holds the limiter configuration.
type Config struct {
	// MinTime is the minimum duration between two dispatches. Zero disables spacing.
	MinTime time.Duration

	// Reservoir is the bucket capacity and the initial number of permits.
	Reservoir int

	// RefillAmount is the value the reservoir is reset to on every interval.
	// It is capped at Reservoir.
	RefillAmount int

	// RefillInterval is the reset period, measured from limiter start.
	RefillInterval time.Duration

	// QueueSize is the buffer of the FIFO queue in front of the dispatcher.
	QueueSize int
}

// DefaultConfig returns 200ms spacing, capacity 20 and a full refill every second.
func DefaultConfig() Config {
	return Config{
		MinTime:        DefaultMinTime,
		Reservoir:      DefaultReservoir,
		RefillAmount:   DefaultReservoir,
		RefillInterval: DefaultRefillInterval,
		QueueSize:      DefaultQueueSize,
	}
}

// Validate checks the configuration for values the dispatcher cannot work with.
func (c Config) Validate() error {
	if c.MinTime < 0 {
		return fmt.Errorf("%w: min_time must be >= 0 (got %s)", ErrInvalidConfig, c.MinTime)
	}
	if c.Reservoir < 1 {
		return fmt.Errorf("%w: reservoir must be >= 1 (got %d)", ErrInvalidConfig, c.Reservoir)
	}
	if c.RefillAmount < 1 {
		return fmt.Errorf("%w: refill_amount must be >= 1 (got %d)", ErrInvalidConfig, c.RefillAmount)
	}
	if c.RefillInterval <= 0 {
		return fmt.Errorf("%w: refill_interval must be > 0 (got %s)", ErrInvalidConfig, c.RefillInterval)
	}
	return nil
}

// refillLevel is the value the reservoir is reset to.
func (c Config) refillLevel() int {
	if c.RefillAmount > c.Reservoir {
		return c.Reservoir
	}
	return c.RefillAmount
}

// State is a point-in-time snapshot of a Limiter.
type State struct {
	// Reservoir is the number of permits left in the current window.
	Reservoir int `json:"reservoir"`

	// LastRefill is the start of the current refill window.
	LastRefill time.Time `json:"last_refill"`

	// MinSpacing is the configured minimum spacing between dispatches.
	MinSpacing time.Duration `json:"min_spacing"`

	// Queued is the number of operations waiting for dispatch.
	Queued int `json:"queued"`
}

// Exhausted reports whether the current window has no permits left.
func (s State) Exhausted() bool {
	return s.Reservoir <= 0
}

// NextRefill returns when the reservoir will next be reset.
func (s State) NextRefill(interval time.Duration) time.Time {
	return s.LastRefill.Add(interval)
}
