// Package circuit wraps the TransientExternal retry policy — up to 3
// attempts with backoff from 250ms to 2s — around a gobreaker circuit
// breaker, so repeated bus/store failures trip a breaker instead of
// retrying forever against a dead dependency.
package circuit

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Policy configures a Breaker's retry and trip behavior.
type Policy struct {
	Name           string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// OpenTimeout is how long the breaker stays open before allowing a
	// trial request through.
	OpenTimeout time.Duration
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker open.
	FailureThreshold uint32
}

// DefaultPolicy matches the TransientExternal policy: 3 attempts,
// 250ms doubling to 2s, breaker opens after 5 consecutive failures for
// 30s.
func DefaultPolicy(name string) Policy {
	return Policy{
		Name:             name,
		MaxAttempts:      3,
		InitialBackoff:   250 * time.Millisecond,
		MaxBackoff:       2 * time.Second,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
	}
}

// Breaker executes operations through a gobreaker-guarded bounded
// retry loop.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	policy Policy
	logger *zap.Logger
}

// New builds a Breaker from policy.
func New(policy Policy, logger *zap.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:    policy.Name,
		Timeout: policy.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= policy.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), policy: policy, logger: logger}
}

// Do runs op, retrying on failure per the configured backoff schedule,
// with every attempt gated by the circuit breaker. It returns the last
// error if every attempt fails or the breaker is open.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	backoff := b.policy.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= b.policy.MaxAttempts; attempt++ {
		_, err := b.cb.Execute(func() (any, error) {
			return nil, op(ctx)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == b.policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > b.policy.MaxBackoff {
			backoff = b.policy.MaxBackoff
		}
	}
	return lastErr
}

// State reports the breaker's current state, for health checks and
// metrics.
func (b *Breaker) State() string { return b.cb.State().String() }
