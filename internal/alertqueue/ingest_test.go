package alertqueue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/bus"
	"github.com/aegisfleet/sentinel/internal/domain"
)

type memAlertStore struct {
	mu    sync.Mutex
	saved []domain.Alert
}

func (s *memAlertStore) SaveAlert(ctx context.Context, alert domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, alert)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (n *recordingNotifier) NotifyAlert(alert domain.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

func ingestAlert(t *testing.T, ing *Ingestor, p alertPayload) {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	ing.handle(context.Background(), bus.Message{Topic: bus.TopicSatelliteAlerts, Payload: body})
}

func TestIngestorEnqueuesValidAlert(t *testing.T) {
	queue := New(0)
	store := &memAlertStore{}
	notifier := &recordingNotifier{}
	ing := NewIngestor(queue, store, func() string { return "gen-1" }, zap.NewNop())
	ing.SetNotifier(notifier)

	ingestAlert(t, ing, alertPayload{
		AlertID: "A1", TileID: "T10", EventType: "wildfire",
		Priority: 8, Confidence: 0.9, Latitude: 37.78, Longitude: -122.42, Severity: "high",
	})

	require.Equal(t, 1, queue.Len())
	top, ok := queue.Peek()
	require.True(t, ok)
	require.Equal(t, "A1", top.ID)
	require.Equal(t, domain.AlertQueued, top.Status)
	require.Equal(t, uint64(1), top.ArrivalSeq)

	require.Len(t, store.saved, 1)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.alerts, 1)
}

func TestIngestorGeneratesIDWhenMissing(t *testing.T) {
	queue := New(0)
	ing := NewIngestor(queue, &memAlertStore{}, func() string { return "gen-42" }, zap.NewNop())

	ingestAlert(t, ing, alertPayload{
		TileID: "T1", Confidence: 0.5, Latitude: 1, Longitude: 1, Severity: "low",
	})

	top, ok := queue.Peek()
	require.True(t, ok)
	require.Equal(t, "gen-42", top.ID)
}

func TestIngestorRejectsInvalidPayloads(t *testing.T) {
	cases := []struct {
		name string
		p    alertPayload
	}{
		{"missing tile", alertPayload{Confidence: 0.5, Severity: "low"}},
		{"confidence out of range", alertPayload{TileID: "T1", Confidence: 1.5, Severity: "low"}},
		{"latitude out of range", alertPayload{TileID: "T1", Confidence: 0.5, Latitude: 91, Severity: "low"}},
		{"unknown severity", alertPayload{TileID: "T1", Confidence: 0.5, Severity: "catastrophic"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			queue := New(0)
			store := &memAlertStore{}
			ing := NewIngestor(queue, store, func() string { return "x" }, zap.NewNop())
			ingestAlert(t, ing, tc.p)
			require.Zero(t, queue.Len())
			require.Empty(t, store.saved)
		})
	}
}

func TestIngestorPersistsWhenQueueFull(t *testing.T) {
	queue := New(1)
	store := &memAlertStore{}
	notifier := &recordingNotifier{}
	ing := NewIngestor(queue, store, func() string { return "x" }, zap.NewNop())
	ing.SetNotifier(notifier)

	ingestAlert(t, ing, alertPayload{AlertID: "A1", TileID: "T1", Confidence: 0.5, Severity: "low"})
	ingestAlert(t, ing, alertPayload{AlertID: "A2", TileID: "T1", Confidence: 0.5, Severity: "low"})

	require.Equal(t, 1, queue.Len())
	require.Len(t, store.saved, 2) // both persisted, second queue-rejected

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.alerts, 1) // no fast-path nudge for the rejected one
}

func TestSeedSequenceKeepsFIFOAfterRecovery(t *testing.T) {
	queue := New(0)
	ing := NewIngestor(queue, &memAlertStore{}, func() string { return "x" }, zap.NewNop())

	ing.SeedSequence([]domain.Alert{{ID: "old", ArrivalSeq: 7}})
	ingestAlert(t, ing, alertPayload{AlertID: "new", TileID: "T1", Confidence: 0.5, Severity: "low"})

	top, ok := queue.Peek()
	require.True(t, ok)
	require.Equal(t, uint64(8), top.ArrivalSeq)
}
