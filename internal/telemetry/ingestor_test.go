package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/bus"
	"github.com/aegisfleet/sentinel/internal/domain"
)

type fakeRegistry struct {
	mu   sync.Mutex
	uavs map[string]domain.UAV
}

func newFakeRegistry(uavs ...domain.UAV) *fakeRegistry {
	r := &fakeRegistry{uavs: make(map[string]domain.UAV)}
	for _, u := range uavs {
		r.uavs[u.ID] = u
	}
	return r
}

func (r *fakeRegistry) Get(id string) (domain.UAV, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uavs[id]
	return u, ok
}

func (r *fakeRegistry) Update(id string, mutate func(domain.UAV) (domain.UAV, bool)) (domain.UAV, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uavs[id]
	if !ok {
		return domain.UAV{}, domain.StateInvariant("registry.Update", errUnknown(id))
	}
	next, ok := mutate(u)
	if !ok {
		return u, domain.StateInvariant("registry.Update", errRejected(id))
	}
	r.uavs[id] = next
	return next, nil
}

type errUnknown string

func (e errUnknown) Error() string { return "unknown uav: " + string(e) }

type errRejected string

func (e errRejected) Error() string { return "rejected: " + string(e) }

type fakeStore struct {
	mu      sync.Mutex
	samples []domain.TelemetrySample
}

func (s *fakeStore) SaveTelemetry(ctx context.Context, sample domain.TelemetrySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

type fakeDispatch struct {
	mu    sync.Mutex
	calls int
	last  domain.UAVStatus
	pos   domain.Position
}

func (f *fakeDispatch) OnTelemetry(ctx context.Context, missionID string, uavStatus domain.UAVStatus, pos domain.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = uavStatus
	f.pos = pos
}

func publishTelemetry(t *testing.T, ing *Ingestor, p payload) {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	ing.handle(context.Background(), bus.Message{Topic: bus.UAVTelemetryTopic(p.UAVID), Payload: body})
}

func TestIngestorUpdatesRegistryFromTelemetry(t *testing.T) {
	reg := newFakeRegistry(domain.UAV{ID: "U1", Status: domain.UAVInMission})
	store := &fakeStore{}
	ing := New(DefaultConfig(), reg, store, nil, zap.NewNop())

	publishTelemetry(t, ing, payload{UAVID: "U1", Latitude: 1, Longitude: 2, Altitude: 50, Battery: 70, Status: "in_mission", Timestamp: time.Now()})

	uav, ok := reg.Get("U1")
	require.True(t, ok)
	require.Equal(t, 1.0, uav.Position.Lat)
	require.Equal(t, 70.0, uav.Battery)
	require.Len(t, store.samples, 1)
}

func TestIngestorDropsOutOfOrderSamples(t *testing.T) {
	reg := newFakeRegistry(domain.UAV{ID: "U1"})
	ing := New(DefaultConfig(), reg, &fakeStore{}, nil, zap.NewNop())

	now := time.Now()
	publishTelemetry(t, ing, payload{UAVID: "U1", Latitude: 5, Longitude: 5, Timestamp: now})
	publishTelemetry(t, ing, payload{UAVID: "U1", Latitude: 9, Longitude: 9, Timestamp: now.Add(-time.Second)})

	uav, _ := reg.Get("U1")
	require.Equal(t, 5.0, uav.Position.Lat) // second (stale) sample was dropped
}

func TestIngestorRateLimitsToConfiguredHz(t *testing.T) {
	reg := newFakeRegistry(domain.UAV{ID: "U1"})
	cfg := DefaultConfig()
	cfg.RateLimitHz = 1 // one sample per second
	ing := New(cfg, reg, &fakeStore{}, nil, zap.NewNop())

	now := time.Now()
	publishTelemetry(t, ing, payload{UAVID: "U1", Latitude: 1, Timestamp: now})
	publishTelemetry(t, ing, payload{UAVID: "U1", Latitude: 2, Timestamp: now.Add(100 * time.Millisecond)})

	uav, _ := reg.Get("U1")
	require.Equal(t, 1.0, uav.Position.Lat) // second sample arrived too soon, coalesced away

	publishTelemetry(t, ing, payload{UAVID: "U1", Latitude: 3, Timestamp: now.Add(1500 * time.Millisecond)})
	uav, _ = reg.Get("U1")
	require.Equal(t, 3.0, uav.Position.Lat)
}

func TestIngestorNotifiesDispatcherWithReportedPosition(t *testing.T) {
	reg := newFakeRegistry(domain.UAV{
		ID: "U1", Status: domain.UAVInMission, MissionID: "M1",
		Position: domain.Position{Lat: 10, Lon: 10},
	})
	dispatch := &fakeDispatch{}
	ing := New(DefaultConfig(), reg, &fakeStore{}, dispatch, zap.NewNop())

	publishTelemetry(t, ing, payload{UAVID: "U1", Latitude: 11, Longitude: 12, Status: "available", Timestamp: time.Now()})

	dispatch.mu.Lock()
	defer dispatch.mu.Unlock()
	require.Equal(t, 1, dispatch.calls)
	require.Equal(t, domain.UAVAvailable, dispatch.last)
	require.Equal(t, 11.0, dispatch.pos.Lat)
	require.Equal(t, 12.0, dispatch.pos.Lon)
}

func TestIngestorQuarantinesOnDisconnectedStatus(t *testing.T) {
	reg := newFakeRegistry(domain.UAV{ID: "U1", Status: domain.UAVAvailable})
	ing := New(DefaultConfig(), reg, &fakeStore{}, nil, zap.NewNop())

	body, err := json.Marshal(statusPayload{UAVID: "U1", Status: "unreachable", Connected: false})
	require.NoError(t, err)
	ing.handleStatus(context.Background(), bus.Message{Topic: bus.UAVStatusTopic("U1"), Payload: body})

	uav, _ := reg.Get("U1")
	require.Equal(t, domain.UAVUnreachable, uav.Status)

	// A connected report is informational only.
	body, err = json.Marshal(statusPayload{UAVID: "U1", Status: "available", Connected: true})
	require.NoError(t, err)
	ing.handleStatus(context.Background(), bus.Message{Topic: bus.UAVStatusTopic("U1"), Payload: body})
	uav, _ = reg.Get("U1")
	require.Equal(t, domain.UAVUnreachable, uav.Status)
}

func TestIngestorIgnoresUnknownUAV(t *testing.T) {
	reg := newFakeRegistry()
	ing := New(DefaultConfig(), reg, &fakeStore{}, nil, zap.NewNop())
	publishTelemetry(t, ing, payload{UAVID: "ghost", Latitude: 1, Timestamp: time.Now()})
	_, ok := reg.Get("ghost")
	require.False(t, ok)
}
