// Package fanout implements the subscriber fan-out hub: an
// in-process registry of authenticated client connections, each with its
// own channel selection drawn from {telemetry, detections, alerts,
// missions, system}. The scheduler, dispatcher, telemetry and detection
// ingestors hand events to the hub through its Publish* methods (see
// events.go), and the hub pushes each to every subscriber whose
// selection matches.
package fanout

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Channel names a fan-out subscription topic. These are independent of
// the bus topics in internal/bus; events reach a channel through the
// hub's Publish* methods, not through the bus.
type Channel string

const (
	ChannelTelemetry  Channel = "telemetry"
	ChannelDetections Channel = "detections"
	ChannelAlerts     Channel = "alerts"
	ChannelMissions   Channel = "missions"
	ChannelSystem     Channel = "system"
)

var validChannels = map[Channel]bool{
	ChannelTelemetry:  true,
	ChannelDetections: true,
	ChannelAlerts:     true,
	ChannelMissions:   true,
	ChannelSystem:     true,
}

// Event is what the hub pushes to a matching subscriber.
type Event struct {
	Type      string      `json:"type"` // telemetry | detection | alert | mission_update | system_status
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Config tunes backpressure and liveness handling.
type Config struct {
	MailboxCapacity  int           // buffered events per subscriber before a delivery is counted as backpressured
	MaxBackpressured int           // consecutive backpressured deliveries before a subscriber is dropped
	HeartbeatTimeout time.Duration // time since last ping before a subscription is closed
}

// DefaultConfig: mailbox of 64, drop after 64 backpressured deliveries,
// 60s heartbeat window.
func DefaultConfig() Config {
	return Config{
		MailboxCapacity:  64,
		MaxBackpressured: 64,
		HeartbeatTimeout: 60 * time.Second,
	}
}

// Authenticator validates an auth token and returns an opaque identity.
// A nil Authenticator accepts every token (used when the collaborator
// layer performs its own auth in front of the hub).
type Authenticator interface {
	Authenticate(token string) (identity string, ok bool)
}

// Hub owns the subscriber set and broadcasts events to matching channels.
type Hub struct {
	cfg    Config
	auth   Authenticator
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[*Subscriber]struct{}

	subscribers prometheus.Gauge
}

// New builds a Hub. auth may be nil.
func New(cfg Config, auth Authenticator, logger *zap.Logger) *Hub {
	return &Hub{cfg: cfg, auth: auth, logger: logger, subs: make(map[*Subscriber]struct{})}
}

// SetMetrics wires the connected-subscriber gauge; may be nil.
func (h *Hub) SetMetrics(subscribers prometheus.Gauge) { h.subscribers = subscribers }

// Register adds sub to the broadcast set. Callers obtain a Subscriber via
// NewSubscriber and call Unregister when its connection ends.
func (h *Hub) Register(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub] = struct{}{}
	if h.subscribers != nil {
		h.subscribers.Inc()
	}
}

// Unregister removes sub from the broadcast set and closes its mailbox.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	_, present := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if present {
		sub.closeMailbox()
		if h.subscribers != nil {
			h.subscribers.Dec()
		}
	}
}

// Broadcast delivers evt to every subscriber whose selection includes ch.
// Delivery never blocks the caller: a full mailbox counts as one
// backpressured delivery and, past the configured threshold, the
// subscriber is dropped.
func (h *Hub) Broadcast(ch Channel, evt Event) {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		if sub.wants(ch) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if drop := sub.deliver(evt, h.cfg.MaxBackpressured); drop {
			h.logger.Warn("dropping backpressured subscriber", zap.String("identity", sub.identity))
			h.Unregister(sub)
		}
	}
}

// Authenticate delegates to the configured Authenticator, accepting any
// token when none is configured.
func (h *Hub) Authenticate(token string) (string, bool) {
	if h.auth == nil {
		return "anonymous", true
	}
	return h.auth.Authenticate(token)
}

// Subscriber holds one client's channel selection and outbound mailbox.
// The transport goroutine (see conn.go) drains Mailbox() and writes
// frames; it never touches the hub's subscriber map directly.
type Subscriber struct {
	identity string
	cfg      Config

	mu            sync.Mutex
	channels      map[Channel]bool
	mailbox       chan Event
	backpressured int
	lastHeartbeat time.Time
	closed        bool
}

// NewSubscriber builds a Subscriber with no channels selected yet.
func NewSubscriber(identity string, cfg Config) *Subscriber {
	return &Subscriber{
		identity:      identity,
		cfg:           cfg,
		channels:      make(map[Channel]bool),
		mailbox:       make(chan Event, cfg.MailboxCapacity),
		lastHeartbeat: time.Now(),
	}
}

// Subscribe adds channels to the selection, ignoring unrecognized names.
func (s *Subscriber) Subscribe(channels []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	applied := make([]string, 0, len(channels))
	for _, c := range channels {
		ch := Channel(c)
		if validChannels[ch] {
			s.channels[ch] = true
			applied = append(applied, c)
		}
	}
	return applied
}

// Unsubscribe removes channels from the selection.
func (s *Subscriber) Unsubscribe(channels []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range channels {
		delete(s.channels, Channel(c))
	}
}

func (s *Subscriber) wants(ch Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[ch]
}

// Heartbeat records a liveness ping.
func (s *Subscriber) Heartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = time.Now()
}

// Expired reports whether the heartbeat window has elapsed.
func (s *Subscriber) Expired(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastHeartbeat) > timeout
}

// Mailbox returns the channel the transport goroutine should drain.
func (s *Subscriber) Mailbox() <-chan Event { return s.mailbox }

func (s *Subscriber) deliver(evt Event, maxBackpressured int) (drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.mailbox <- evt:
		s.backpressured = 0
		return false
	default:
		s.backpressured++
		return s.backpressured >= maxBackpressured
	}
}

func (s *Subscriber) closeMailbox() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.mailbox)
}

// marshalEvent is a small helper for transports that write raw bytes
// rather than using a JSON-aware writer (e.g. websocket.WriteMessage).
func marshalEvent(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}
