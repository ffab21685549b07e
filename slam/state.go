package slam

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StateTracker holds the latest filter snapshot for the HTTP endpoints
type StateTracker struct {
	mu        sync.RWMutex
	snapshot  *Snapshot
	history   []PoseEstimate
	maxPoses  int
	cachePath string // snapshot cache file; empty disables persistence
}

// NewStateTracker creates a tracker that keeps up to maxPoses best pose
// estimates; maxPoses <= 0 keeps 1000
func NewStateTracker(maxPoses int) *StateTracker {
	if maxPoses <= 0 {
		maxPoses = 1000
	}
	return &StateTracker{maxPoses: maxPoses}
}

// NewStateTrackerWithCache creates a tracker that persists every snapshot
// to cachePath. An existing cache is loaded so the last state survives a
// restart.
func NewStateTrackerWithCache(maxPoses int, cachePath string) *StateTracker {
	st := NewStateTracker(maxPoses)
	st.cachePath = cachePath
	if cachePath != "" {
		if snap, err := LoadSnapshot(cachePath); err == nil {
			st.snapshot = snap
		}
	}
	return st
}

// Update stores a snapshot and appends its best pose to the history
func (st *StateTracker) Update(snap Snapshot) {
	st.mu.Lock()
	st.snapshot = &snap
	st.history = append(st.history, snap.Best)
	if over := len(st.history) - st.maxPoses; over > 0 {
		st.history = append(st.history[:0], st.history[over:]...)
	}
	cachePath := st.cachePath
	st.mu.Unlock()

	if cachePath != "" {
		if err := SaveSnapshot(&snap, cachePath); err != nil {
			Logf("warning: failed to save snapshot cache: %v", err)
		}
	}
}

// Snapshot returns the latest snapshot, or nil before the first frame
func (st *StateTracker) Snapshot() *Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.snapshot == nil {
		return nil
	}
	cp := *st.snapshot
	return &cp
}

// BestPose returns the latest best pose estimate
func (st *StateTracker) BestPose() (PoseEstimate, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.snapshot == nil {
		return PoseEstimate{}, false
	}
	return st.snapshot.Best, true
}

// History returns the best pose estimates in arrival order
func (st *StateTracker) History() []PoseEstimate {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]PoseEstimate(nil), st.history...)
}

// SaveSnapshot writes a snapshot to disk as JSON.
func SaveSnapshot(snap *Snapshot, path string) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot cache: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot from a JSON file on disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot cache: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot cache: %w", err)
	}
	return &snap, nil
}
