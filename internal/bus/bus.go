// Package bus abstracts the publish/subscribe transport every worker
// component communicates over: telemetry, detections, commands, and
// fan-out events. Local is an in-memory implementation for tests and
// single-process deployments; Redis backs production deployments and
// is wrapped in a circuit breaker by the caller.
package bus

import "context"

// Message is one published envelope: the topic it arrived on and its
// raw payload, left to each subscriber to decode.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler processes one message. It reports no result to the bus, so
// one handler's failure never stops delivery to other handlers.
type Handler func(context.Context, Message)

// Bus is the narrow publish/subscribe contract every component depends
// on, never a concrete client, so Local and Redis are interchangeable.
type Bus interface {
	// Publish sends payload on topic. Implementations may buffer and
	// retry transient failures internally; a returned error means the
	// message was dropped.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers handler for every message published on
	// pattern (a topic or a topic glob, transport-dependent) and
	// returns an unsubscribe function.
	Subscribe(ctx context.Context, pattern string, handler Handler) (func(), error)
	// Close releases any transport resources.
	Close() error
}
