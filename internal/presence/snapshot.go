package presence

import (
	"sync"
	"time"
)

// Snapshot is an immutable view of the tracker after a tick.
type Snapshot struct {
	RunID     string           `json:"run_id"`
	Ticks     uint64           `json:"ticks"`
	LastTick  time.Time        `json:"last_tick"`
	Grace     string           `json:"grace_period"`
	Records   []IdentityRecord `json:"records"`
	LastFaces int              `json:"last_faces"`
}

// SnapshotBoard hands the latest Snapshot from the sampling loop to readers
// on other goroutines.
type SnapshotBoard struct {
	mu   sync.RWMutex
	snap Snapshot
}

// Publish replaces the current snapshot.
func (b *SnapshotBoard) Publish(s Snapshot) {
	b.mu.Lock()
	b.snap = s
	b.mu.Unlock()
}

// Latest returns the most recently published snapshot.
func (b *SnapshotBoard) Latest() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap
}
