package registry

import (
	"sync"

	"github.com/aegisfleet/sentinel/internal/domain"
)

// TileIndex is the in-memory authoritative status for every monitored
// tile, separate from the UAV Registry since tiles have no per-entry
// concurrent-update contention comparable to UAVs — a single map lock
// is sufficient.
type TileIndex struct {
	mu    sync.RWMutex
	tiles map[string]domain.Tile
}

// NewTileIndex builds a TileIndex seeded with tiles (e.g. loaded from
// store.TileStore.LoadTiles at startup).
func NewTileIndex(tiles []domain.Tile) *TileIndex {
	idx := &TileIndex{tiles: make(map[string]domain.Tile, len(tiles))}
	for _, t := range tiles {
		idx.tiles[t.ID] = t
	}
	return idx
}

// Get returns a copy of the tile record for id.
func (t *TileIndex) Get(id string) (domain.Tile, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tile, ok := t.tiles[id]
	return tile, ok
}

// SetStatus updates the status of tile id in place. Unknown tile IDs
// are silently ignored: an alert may reference a tile not yet loaded
// into the index, which is a data-quality concern outside this type's
// job of tracking status for tiles it knows about.
func (t *TileIndex) SetStatus(id string, status domain.TileStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tile, ok := t.tiles[id]
	if !ok {
		return
	}
	tile.Status = status
	t.tiles[id] = tile
}

// Snapshot returns a copy of every tracked tile.
func (t *TileIndex) Snapshot() []domain.Tile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Tile, 0, len(t.tiles))
	for _, tile := range t.tiles {
		out = append(out, tile)
	}
	return out
}
