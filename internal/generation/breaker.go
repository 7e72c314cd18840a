package generation

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/rcliao/ham/internal/logging"
)

// BreakerOptions tunes the circuit breaker around a provider.
type BreakerOptions struct {
	Name string
	// MaxRequests are let through while half-open.
	MaxRequests uint32
	Interval    time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// Trip after this many consecutive failures.
	ConsecutiveFailures uint32
	Logger              *zap.Logger
}

// Breaker stops calling a failing provider for a while.
type Breaker struct {
	next Generator
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Generator, opts BreakerOptions) *Breaker {
	logger := logging.OrNop(opts.Logger)
	if opts.Name == "" {
		opts.Name = "generation"
	}
	if opts.MaxRequests == 0 {
		opts.MaxRequests = 1
	}
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	threshold := opts.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: opts.MaxRequests,
		Interval:    defaultDuration(opts.Interval, time.Minute),
		Timeout:     defaultDuration(opts.Timeout, 30*time.Second),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("generation breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) Generate(ctx context.Context, query string, c map[string]any) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, query, c)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// State reports the breaker state, e.g. "closed" or "open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}
