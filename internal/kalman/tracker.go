package kalman

import (
	"strconv"
	"sync"
	"time"
)

// Track is one continuously-observed object: its filter state, identity,
// and the bookkeeping the tracker uses for lifecycle decisions.
type Track struct {
	ID         string
	State      State
	LastSeen   time.Time
	MissStreak int
}

// Tracker maintains a set of independent Track values, associating new
// observations to existing tracks by nearest gated Mahalanobis distance
// and spawning/evicting tracks as detections appear and stop arriving.
// Safe for concurrent use: observations arrive on the detection
// ingest goroutine while the predict/evict cycle runs on its own.
type Tracker struct {
	mu        sync.Mutex
	filter    Filter
	gateSq    float64
	maxMisses int
	nextID    int
	tracks    map[string]*Track
	genID     func(prefix string, n int) string
}

// NewTracker builds a Tracker. gateSq is the squared-Mahalanobis
// association gate (observations farther than this spawn a new track
// instead of updating an existing one). maxMisses is how many
// consecutive Evict sweeps that find a track stale (last seen before
// the cutoff) it survives before eviction.
func NewTracker(filter Filter, gateSq float64, maxMisses int) *Tracker {
	return &Tracker{
		filter:    filter,
		gateSq:    gateSq,
		maxMisses: maxMisses,
		tracks:    make(map[string]*Track),
		genID:     defaultGenID,
	}
}

func defaultGenID(prefix string, n int) string {
	return prefix + strconv.Itoa(n)
}

// Predict advances every track's state by dt; call once per tracking
// cycle before Observe. Miss streaks are counted by Evict, not here.
func (t *Tracker) Predict(dt float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tr := range t.tracks {
		tr.State = t.filter.Predict(tr.State, dt)
	}
}

// Observe associates (x, y) with the nearest track within the gate and
// updates it, or spawns a new track with idPrefix+sequence when no
// existing track is close enough. Returns the track ID that absorbed
// the observation.
func (t *Tracker) Observe(x, y float64, at time.Time, idPrefix string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var best *Track
	bestDist := t.gateSq

	for _, tr := range t.tracks {
		d := t.filter.MahalanobisSq(tr.State, x, y)
		if d <= bestDist {
			bestDist = d
			best = tr
		}
	}

	if best != nil {
		best.State = t.filter.Update(best.State, x, y)
		best.LastSeen = at
		best.MissStreak = 0
		return best.ID
	}

	t.nextID++
	id := t.genID(idPrefix, t.nextID)
	t.tracks[id] = &Track{
		ID:       id,
		State:    NewState(x, y),
		LastSeen: at,
	}
	return id
}

// Evict increments the miss streak of every track not updated this
// cycle (identified by lastSeen < cutoff) and removes any track whose
// streak exceeds maxMisses. Returns the IDs removed.
func (t *Tracker) Evict(cutoff time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for id, tr := range t.tracks {
		if tr.LastSeen.Before(cutoff) {
			tr.MissStreak++
		}
		if tr.MissStreak > t.maxMisses {
			delete(t.tracks, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Get returns the track for id and whether it exists.
func (t *Tracker) Get(id string) (Track, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.tracks[id]
	if !ok {
		return Track{}, false
	}
	return *tr, true
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}
