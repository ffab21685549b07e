package slam

import (
	"path/filepath"
	"sync"
	"testing"
)

func stateSnapshot(frame int, x float64) Snapshot {
	return Snapshot{
		SessionID: "s",
		Frame:     frame,
		Best:      PoseEstimate{RobotID: "rover", X: x, TimeStep: uint32(frame)},
		Particles: []Point{{X: x, Y: 1}},
	}
}

func TestNewStateTracker(t *testing.T) {
	st := NewStateTracker(0)
	if st.maxPoses != 1000 {
		t.Errorf("maxPoses = %d, want 1000", st.maxPoses)
	}
	if st.Snapshot() != nil {
		t.Error("new tracker should have no snapshot")
	}
	if _, ok := st.BestPose(); ok {
		t.Error("new tracker BestPose should report false")
	}
	if len(st.History()) != 0 {
		t.Error("new tracker should have no history")
	}
}

func TestStateTracker_Update(t *testing.T) {
	st := NewStateTracker(3)
	for i := 1; i <= 5; i++ {
		st.Update(stateSnapshot(i, float64(i*10)))
	}

	snap := st.Snapshot()
	if snap == nil || snap.Frame != 5 {
		t.Fatalf("Snapshot() = %+v, want frame 5", snap)
	}
	best, ok := st.BestPose()
	if !ok || best.X != 50 {
		t.Errorf("BestPose() = %+v, %v", best, ok)
	}

	history := st.History()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	for i, want := range []float64{30, 40, 50} {
		if history[i].X != want {
			t.Errorf("history[%d].X = %.0f, want %.0f", i, history[i].X, want)
		}
	}
}

func TestStateTracker_SnapshotIsCopy(t *testing.T) {
	st := NewStateTracker(10)
	st.Update(stateSnapshot(1, 10))

	snap := st.Snapshot()
	snap.Frame = 99
	if st.Snapshot().Frame != 1 {
		t.Error("modifying the returned snapshot changed the tracker")
	}
}

func TestStateTracker_Concurrent(t *testing.T) {
	st := NewStateTracker(50)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				st.Update(stateSnapshot(n*100+j, float64(j)))
				_ = st.Snapshot()
				_ = st.History()
			}
		}(i)
	}
	wg.Wait()
	if got := len(st.History()); got != 50 {
		t.Errorf("history length = %d, want 50", got)
	}
}

func TestStateTracker_Cache(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "state", "snapshot.json")

	st := NewStateTrackerWithCache(10, cache)
	if st.Snapshot() != nil {
		t.Fatal("tracker with missing cache should start empty")
	}
	st.Update(stateSnapshot(4, 42))

	restored := NewStateTrackerWithCache(10, cache)
	snap := restored.Snapshot()
	if snap == nil {
		t.Fatal("snapshot not restored from cache")
	}
	if snap.Frame != 4 || snap.Best.X != 42 || len(snap.Particles) != 1 {
		t.Errorf("restored snapshot = %+v", snap)
	}
}

func TestLoadSnapshot_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadSnapshot(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	if err := SaveSnapshot(&Snapshot{}, bad); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSnapshot(bad); err != nil {
		t.Errorf("empty snapshot should load: %v", err)
	}
}
