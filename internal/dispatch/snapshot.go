package dispatch

import (
	"sync"

	"github.com/songseungho-v/ai-clothes-sorter/internal/types"
)

// SnapshotStore holds the most recently committed per-device state for
// read-only external consumers (displays, monitors, the control plane).
//
// Snapshots are stored and returned by value so a reader can never
// observe a torn write. The contained Frame and Detections are shared
// by reference under the frame immutability contract.
type SnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]types.Snapshot
}

// NewSnapshotStore creates an empty snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snaps: make(map[string]types.Snapshot)}
}

// Put commits a snapshot, overwriting any previous one for the device.
func (s *SnapshotStore) Put(snap types.Snapshot) {
	s.mu.Lock()
	s.snaps[snap.DeviceID] = snap
	s.mu.Unlock()
}

// Get returns the snapshot for deviceID. The second return value is
// false when the device has never committed state ("no data yet").
func (s *SnapshotStore) Get(deviceID string) (types.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[deviceID]
	return snap, ok
}

// List returns all current snapshots.
func (s *SnapshotStore) List() []types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Snapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		out = append(out, snap)
	}
	return out
}
