package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAttemptsExhausted is returned when the condition never held
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// AwaitConfig holds configuration for a bounded polling loop
type AwaitConfig struct {
	MaxAttempts int           // Maximum number of checks
	Delay       time.Duration // Delay between checks
	Multiplier  float64       // Delay multiplier; 1.0 keeps the delay fixed
	MaxDelay    time.Duration // Upper bound for the delay
}

// DefaultAwaitConfig returns 40 checks, 500ms apart
func DefaultAwaitConfig() *AwaitConfig {
	return &AwaitConfig{
		MaxAttempts: 40,
		Delay:       500 * time.Millisecond,
		Multiplier:  1.0,
		MaxDelay:    500 * time.Millisecond,
	}
}

// CheckFunc reports whether the awaited condition holds
type CheckFunc func() bool

// AttemptFunc is called after every failed check with the 1-based attempt number
type AttemptFunc func(attempt int)

// Await checks cond until it holds, the attempts run out, or ctx is done.
// It sleeps between checks but not after the last one.
func Await(ctx context.Context, cond CheckFunc, config *AwaitConfig, onAttempt AttemptFunc) error {
	if config == nil {
		config = DefaultAwaitConfig()
	}

	delay := config.Delay

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if cond() {
			return nil
		}
		if onAttempt != nil {
			onAttempt(attempt + 1)
		}

		if attempt < config.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				if config.Multiplier > 1.0 {
					delay = time.Duration(float64(delay) * config.Multiplier)
					if config.MaxDelay > 0 && delay > config.MaxDelay {
						delay = config.MaxDelay
					}
				}
			}
		}
	}

	return fmt.Errorf("condition not met after %d attempts: %w", config.MaxAttempts, ErrAttemptsExhausted)
}
