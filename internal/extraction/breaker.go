package extraction

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerConfig configures the circuit breaker around the completer
type BreakerConfig struct {
	Enabled      bool
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration
	HalfOpenMax  uint32
}

func (c BreakerConfig) normalize() BreakerConfig {
	if c.MinRequests == 0 {
		c.MinRequests = 5
	}
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		c.FailureRatio = 0.6
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMax == 0 {
		c.HalfOpenMax = 1
	}
	return c
}

// Breaker stops calling the remote service after repeated failures.
// Calls are never retried; an open breaker fails fast with ErrServiceError.
type Breaker struct {
	next Completer
	cb   *gobreaker.CircuitBreaker[string]
}

// NewBreaker wraps next in a circuit breaker
func NewBreaker(next Completer, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	cfg = cfg.normalize()

	settings := gobreaker.Settings{
		Name:        "extraction",
		MaxRequests: cfg.HalfOpenMax,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// only service side trouble counts against the service
			return err == nil || !(errors.Is(err, ErrServiceError) || errors.Is(err, ErrRateLimited))
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Breaker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[string](settings),
	}
}

// Complete forwards req unless the breaker is open
func (b *Breaker) Complete(ctx context.Context, req Request) (string, error) {
	out, err := b.cb.Execute(func() (string, error) {
		return b.next.Complete(ctx, req)
	})
	if err != nil && isCircuitOpen(err) {
		return "", newFailure(ErrServiceError, err)
	}
	return out, err
}

// State reports the current breaker state
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func isCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
