package runloop

import (
	"fmt"
	"time"
)

// Persistence failure policies.
const (
	PersistenceWarn = "warn"
	PersistenceHalt = "halt"
)

// Config bounds the loop.
type Config struct {
	// MaxLevel completes the run once the heading shows this level.
	MaxLevel int
	// TurnBudget is the number of dispatched turns before halting.
	TurnBudget int
	// DecisionRetries is how many times a StrategyError is retried before
	// the ladder fallback.
	DecisionRetries int
	// DispatchRetries is how many times a timed-out dispatch is re-sent.
	DispatchRetries int
	// RetryBaseDelay is the first backoff delay; it doubles per retry.
	RetryBaseDelay time.Duration
	// ResponseTimeout bounds one Send.
	ResponseTimeout time.Duration
	// RecordTimeout bounds one memory Record including its retries.
	RecordTimeout time.Duration
	// PersistenceFailure is PersistenceWarn or PersistenceHalt.
	PersistenceFailure string
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxLevel:           8,
		TurnBudget:         6000,
		DecisionRetries:    2,
		DispatchRetries:    2,
		RetryBaseDelay:     500 * time.Millisecond,
		ResponseTimeout:    60 * time.Second,
		RecordTimeout:      5 * time.Second,
		PersistenceFailure: PersistenceWarn,
	}
}

// Validate checks the limits.
func (c Config) Validate() error {
	if c.MaxLevel < 1 {
		return fmt.Errorf("max level must be at least 1, got %d", c.MaxLevel)
	}
	if c.TurnBudget < 1 {
		return fmt.Errorf("turn budget must be at least 1, got %d", c.TurnBudget)
	}
	if c.DecisionRetries < 0 || c.DispatchRetries < 0 {
		return fmt.Errorf("retry counts must not be negative")
	}
	if c.ResponseTimeout <= 0 || c.RecordTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	switch c.PersistenceFailure {
	case PersistenceWarn, PersistenceHalt:
	default:
		return fmt.Errorf("persistence failure policy must be %q or %q, got %q", PersistenceWarn, PersistenceHalt, c.PersistenceFailure)
	}
	return nil
}
