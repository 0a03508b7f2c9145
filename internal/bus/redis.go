package bus

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Breaker is the narrow interface Redis depends on for its publish
// retry policy, satisfied by *circuit.Breaker.
type Breaker interface {
	Do(ctx context.Context, op func(context.Context) error) error
}

// Redis is a Bus backed by Redis pub/sub. Publishes run through a
// circuit breaker so a degraded Redis instance fails fast instead of
// blocking every publisher; when the breaker is open, messages are
// queued locally up to a bounded size and replayed once it closes.
type Redis struct {
	client  *redis.Client
	breaker Breaker
	logger  *zap.Logger

	mu       sync.Mutex
	fallback []pendingMessage
	maxQueue int
}

type pendingMessage struct {
	topic   string
	payload []byte
}

// NewRedis builds a Redis bus over an already-configured client.
// maxQueue bounds the local fallback queue used while the breaker is
// open; a non-positive value disables the fallback (publishes simply
// fail during an outage).
func NewRedis(client *redis.Client, breaker Breaker, logger *zap.Logger, maxQueue int) *Redis {
	return &Redis{client: client, breaker: breaker, logger: logger, maxQueue: maxQueue}
}

// Publish sends payload on topic through the circuit breaker. On
// failure it buffers the message locally (bounded by maxQueue, dropping
// the oldest entry when full) rather than returning an error; with the
// fallback disabled it returns the publish error instead. Buffering is
// the default because a
// transient bus outage should not cascade into caller-visible failures
// for best-effort telemetry and detection fan-out.
func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	err := r.breaker.Do(ctx, func(ctx context.Context) error {
		return r.client.Publish(ctx, topic, payload).Err()
	})
	if err == nil {
		r.drainFallback(ctx)
		return nil
	}

	if r.maxQueue <= 0 {
		return err
	}
	r.logger.Warn("bus publish failed, buffering locally", zap.String("topic", topic), zap.Error(err))
	r.enqueueFallback(topic, payload)
	return nil
}

func (r *Redis) enqueueFallback(topic string, payload []byte) {
	if r.maxQueue <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.fallback) >= r.maxQueue {
		r.fallback = r.fallback[1:]
	}
	r.fallback = append(r.fallback, pendingMessage{topic: topic, payload: payload})
}

func (r *Redis) drainFallback(ctx context.Context) {
	r.mu.Lock()
	pending := r.fallback
	r.fallback = nil
	r.mu.Unlock()

	for _, m := range pending {
		if err := r.client.Publish(ctx, m.topic, m.payload).Err(); err != nil {
			r.logger.Warn("fallback replay failed", zap.String("topic", m.topic), zap.Error(err))
			r.enqueueFallback(m.topic, m.payload)
			return
		}
	}
}

// Subscribe registers handler for every message on pattern, using
// Redis's PSubscribe for glob patterns. It returns an unsubscribe
// function that closes the underlying subscription.
func (r *Redis) Subscribe(ctx context.Context, pattern string, handler Handler) (func(), error) {
	redisPattern := toRedisGlob(pattern)
	sub := r.client.PSubscribe(ctx, redisPattern)

	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	ch := sub.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(ctx, Message{Topic: msg.Channel, Payload: []byte(msg.Payload)})
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = sub.Close()
	}, nil
}

// Close releases the Redis client's connections.
func (r *Redis) Close() error { return r.client.Close() }

// toRedisGlob converts a "+"-wildcard topic pattern into Redis's "*"
// pub/sub glob syntax; this implementation only needs single-segment
// wildcards, so "+" maps directly to "*".
func toRedisGlob(pattern string) string {
	out := make([]byte, 0, len(pattern))
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '+' {
			out = append(out, '*')
		} else {
			out = append(out, pattern[i])
		}
	}
	return string(out)
}
