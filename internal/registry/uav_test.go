package registry

import (
	"sync"
	"testing"

	"github.com/aegisfleet/sentinel/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu    sync.Mutex
	saved []domain.UAV
}

func (f *fakeStore) SaveUAV(u domain.UAV) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, u)
	return nil
}

func TestRegisterAndGet(t *testing.T) {
	r := New(nil)
	r.Register(domain.UAV{ID: "u1", Status: domain.UAVAvailable})

	got, ok := r.Get("u1")
	require.True(t, ok)
	require.Equal(t, domain.UAVAvailable, got.Status)

	_, ok = r.Get("missing")
	require.False(t, ok)
}

func TestUpdateJournalsToStore(t *testing.T) {
	store := &fakeStore{}
	r := New(store)
	r.Register(domain.UAV{ID: "u1", Status: domain.UAVAvailable})

	updated, err := r.Update("u1", func(u domain.UAV) (domain.UAV, bool) {
		u.Status = domain.UAVAssigned
		u.MissionID = "m1"
		return u, true
	})
	require.NoError(t, err)
	require.Equal(t, domain.UAVAssigned, updated.Status)
	require.Len(t, store.saved, 1)
	require.Equal(t, "m1", store.saved[0].MissionID)
}

func TestUpdateRejectedMutationLeavesStateUnchanged(t *testing.T) {
	r := New(nil)
	r.Register(domain.UAV{ID: "u1", Status: domain.UAVAssigned})

	_, err := r.Update("u1", func(u domain.UAV) (domain.UAV, bool) {
		return u, false // e.g. caller wanted Available but found Assigned
	})
	require.Error(t, err)
	require.Equal(t, domain.KindStateInvariant, domain.KindOf(err))

	got, _ := r.Get("u1")
	require.Equal(t, domain.UAVAssigned, got.Status)
}

func TestUpdateUnknownUAV(t *testing.T) {
	r := New(nil)
	_, err := r.Update("nope", func(u domain.UAV) (domain.UAV, bool) { return u, true })
	require.Error(t, err)
	require.Equal(t, domain.KindStateInvariant, domain.KindOf(err))
}

func TestCandidatesFiltersByPredicate(t *testing.T) {
	r := New(nil)
	r.Register(domain.UAV{ID: "u1", Status: domain.UAVAvailable, Battery: 90})
	r.Register(domain.UAV{ID: "u2", Status: domain.UAVInMission, Battery: 80})
	r.Register(domain.UAV{ID: "u3", Status: domain.UAVAvailable, Battery: 20})

	out := r.Candidates(func(u domain.UAV) bool {
		return u.Status == domain.UAVAvailable && u.Battery > 50
	})
	require.Len(t, out, 1)
	require.Equal(t, "u1", out[0].ID)
}

func TestSingleAssignmentInvariantUnderConcurrentUpdates(t *testing.T) {
	r := New(nil)
	r.Register(domain.UAV{ID: "u1", Status: domain.UAVAvailable})

	const attempts = 50
	var wg sync.WaitGroup
	successCount := make([]bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := r.Update("u1", func(u domain.UAV) (domain.UAV, bool) {
				if u.Status != domain.UAVAvailable {
					return u, false
				}
				u.Status = domain.UAVAssigned
				return u, true
			})
			successCount[idx] = err == nil
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, ok := range successCount {
		if ok {
			successes++
		}
	}
	require.Equal(t, 1, successes)
}
