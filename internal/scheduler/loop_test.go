package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/alertqueue"
	"github.com/aegisfleet/sentinel/internal/domain"
	"github.com/aegisfleet/sentinel/internal/registry"
)

type fakeDispatcher struct {
	mu          sync.Mutex
	dispatched  []domain.Mission
	dispatchErr error
	failUAV     string // Dispatch fails for missions assigned to this UAV
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, mission domain.Mission, alert domain.Alert, uav domain.UAV) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dispatchErr != nil {
		return f.dispatchErr
	}
	if f.failUAV != "" && uav.ID == f.failUAV {
		return domain.Transient("dispatch.Dispatch", errDispatchDown)
	}
	f.dispatched = append(f.dispatched, mission)
	return nil
}

type errConst string

func (e errConst) Error() string { return string(e) }

const errDispatchDown errConst = "publish failed"

func (f *fakeDispatcher) missions() []domain.Mission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Mission, len(f.dispatched))
	copy(out, f.dispatched)
	return out
}

type fakeAlertStore struct {
	mu    sync.Mutex
	saved []domain.Alert
}

func (f *fakeAlertStore) SaveAlert(ctx context.Context, alert domain.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, alert)
	return nil
}

type fakeMissionStore struct{}

func (fakeMissionStore) SaveMission(ctx context.Context, mission domain.Mission) error { return nil }

func genIDSeq() IDGenerator {
	n := 0
	return func() string {
		n++
		return "m" + string(rune('0'+n))
	}
}

func newTestScheduler(cfg Config, queue *alertqueue.Queue, reg *registry.Registry, dispatcher Dispatcher, alerts AlertStore) *Scheduler {
	return New(cfg, queue, reg, registry.NewTileIndex(nil), alerts, fakeMissionStore{}, dispatcher, genIDSeq(), zap.NewNop())
}

func TestSchedulerHappyPathAssignsNearestUAV(t *testing.T) {
	cfg := DefaultConfig()
	queue := alertqueue.New(0)
	reg := registry.New(nil)
	reg.Register(domain.UAV{ID: "U1", Status: domain.UAVAvailable, Battery: 90,
		Position: domain.Position{Lat: 37.7749, Lon: -122.4194}})

	dispatcher := &fakeDispatcher{}
	alerts := &fakeAlertStore{}
	s := newTestScheduler(cfg, queue, reg, dispatcher, alerts)

	require.NoError(t, queue.Offer(domain.Alert{
		ID: "A1", TileID: "T10", Priority: 8, Severity: domain.SeverityHigh,
		Position: domain.LatLon{Lat: 37.78, Lon: -122.42}, Status: domain.AlertQueued, CreatedAt: time.Now(),
	}))

	s.runTick(context.Background())

	missions := dispatcher.missions()
	require.Len(t, missions, 1)
	require.Equal(t, "U1", missions[0].UAVID)
	require.Equal(t, "T10", missions[0].TileID)

	uav, ok := reg.Get("U1")
	require.True(t, ok)
	require.Equal(t, domain.UAVAssigned, uav.Status)
	require.Equal(t, missions[0].ID, uav.MissionID)
}

func TestSchedulerPriorityPreemption(t *testing.T) {
	cfg := DefaultConfig()
	queue := alertqueue.New(0)
	reg := registry.New(nil)
	reg.Register(domain.UAV{ID: "U1", Status: domain.UAVAvailable, Battery: 90,
		Position: domain.Position{Lat: 0, Lon: 0}})

	dispatcher := &fakeDispatcher{}
	s := newTestScheduler(cfg, queue, reg, dispatcher, &fakeAlertStore{})

	require.NoError(t, queue.Offer(domain.Alert{ID: "A1", Priority: 3, Position: domain.LatLon{Lat: 0, Lon: 0}, CreatedAt: time.Now()}))
	require.NoError(t, queue.Offer(domain.Alert{ID: "A2", Priority: 9, Position: domain.LatLon{Lat: 0, Lon: 0}, CreatedAt: time.Now()}))

	s.runTick(context.Background())

	missions := dispatcher.missions()
	require.Len(t, missions, 1)
	require.Equal(t, "A2", missions[0].AlertID)

	// A1 remains queued for the next tick.
	require.Equal(t, 1, queue.Len())
}

func TestSchedulerNoEligibleUAVLeavesAlertQueued(t *testing.T) {
	cfg := DefaultConfig()
	queue := alertqueue.New(0)
	reg := registry.New(nil)
	reg.Register(domain.UAV{ID: "U1", Status: domain.UAVAvailable, Battery: 10}) // below floor

	dispatcher := &fakeDispatcher{}
	s := newTestScheduler(cfg, queue, reg, dispatcher, &fakeAlertStore{})

	require.NoError(t, queue.Offer(domain.Alert{ID: "A1", Priority: 5, Status: domain.AlertQueued, CreatedAt: time.Now()}))

	s.runTick(context.Background())

	require.Empty(t, dispatcher.missions())
	require.Equal(t, 1, queue.Len())
	top, ok := queue.Peek()
	require.True(t, ok)
	require.Equal(t, domain.AlertQueued, top.Status)
}

func TestSchedulerRetriesNextCandidateInSameTick(t *testing.T) {
	cfg := DefaultConfig()
	queue := alertqueue.New(0)
	reg := registry.New(nil)
	// U1 sits on the alert; U2 is farther away but will be the one that
	// works out once U1's assignment falls through.
	reg.Register(domain.UAV{ID: "U1", Status: domain.UAVAvailable, Battery: 90,
		Position: domain.Position{Lat: 0, Lon: 0}})
	reg.Register(domain.UAV{ID: "U2", Status: domain.UAVAvailable, Battery: 90,
		Position: domain.Position{Lat: 1, Lon: 1}})

	dispatcher := &fakeDispatcher{failUAV: "U1"}
	s := newTestScheduler(cfg, queue, reg, dispatcher, &fakeAlertStore{})

	require.NoError(t, queue.Offer(domain.Alert{
		ID: "A1", Priority: 5, Position: domain.LatLon{Lat: 0, Lon: 0},
		Status: domain.AlertQueued, CreatedAt: time.Now(),
	}))

	s.runTick(context.Background())

	missions := dispatcher.missions()
	require.Len(t, missions, 1)
	require.Equal(t, "U2", missions[0].UAVID)
	require.Equal(t, 0, queue.Len(), "alert must not wait for the next tick")

	// The failed claim on U1 was rolled back.
	u1, _ := reg.Get("U1")
	require.Equal(t, domain.UAVAvailable, u1.Status)
	require.Empty(t, u1.MissionID)

	u2, _ := reg.Get("U2")
	require.Equal(t, domain.UAVAssigned, u2.Status)
	require.Equal(t, missions[0].ID, u2.MissionID)
}

func TestSchedulerExpiresStaleAlerts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AlertTTL = time.Minute
	queue := alertqueue.New(0)
	reg := registry.New(nil)
	alerts := &fakeAlertStore{}
	s := newTestScheduler(cfg, queue, reg, &fakeDispatcher{}, alerts)
	s.now = func() time.Time { return time.Unix(10000, 0) }

	require.NoError(t, queue.Offer(domain.Alert{
		ID: "A1", Priority: 1, CreatedAt: time.Unix(10000, 0).Add(-2 * time.Minute),
	}))

	s.runTick(context.Background())

	require.Equal(t, 0, queue.Len())
	require.Len(t, alerts.saved, 1)
	require.Equal(t, domain.AlertExpired, alerts.saved[0].Status)
}

func TestSchedulerFastPathNudgeTriggersTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour
	queue := alertqueue.New(0)
	reg := registry.New(nil)
	reg.Register(domain.UAV{ID: "U1", Status: domain.UAVAvailable, Battery: 80})
	dispatcher := &fakeDispatcher{}
	s := newTestScheduler(cfg, queue, reg, dispatcher, &fakeAlertStore{})

	alert := domain.Alert{ID: "A1", Priority: 9, Severity: domain.SeverityCritical, Status: domain.AlertQueued, CreatedAt: time.Now()}
	require.NoError(t, queue.Offer(alert))

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	s.NotifyAlert(alert)

	require.Eventually(t, func() bool {
		return len(dispatcher.missions()) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	s.Stop()
}
