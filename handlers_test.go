package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kwv/tudoslam/slam"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// populatedTracker returns a StateTracker holding one small snapshot
func populatedTracker() *slam.StateTracker {
	st := slam.NewStateTracker(10)
	st.Update(slam.Snapshot{
		SessionID:  "s1",
		Frame:      2,
		Best:       slam.PoseEstimate{RobotID: "bench", X: 100, Y: 50, Pan: 0.2, TimeStep: 2},
		Particles:  []slam.Point{{X: 90, Y: 40}, {X: 110, Y: 60}},
		Trajectory: []slam.Point{{X: 0, Y: 0}, {X: 100, Y: 50}},
		Tree:       [][]slam.Point{{{X: 0, Y: 0}, {X: 100, Y: 50}}},
	})
	return st
}

// emptyTracker returns a StateTracker with no snapshot.
func emptyTracker() *slam.StateTracker {
	return slam.NewStateTracker(10)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// endpoints
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name        string
		tracker     *slam.StateTracker
		wantHasSnap bool
	}{
		{"empty", emptyTracker(), false},
		{"populated", populatedTracker(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, newHTTPServer(tt.tracker, nil, 0), "/health")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			var body struct {
				Status      string `json:"status"`
				HasSnapshot bool   `json:"hasSnapshot"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Status != "ok" || body.HasSnapshot != tt.wantHasSnap {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestEndpoints_NoSnapshot(t *testing.T) {
	h := newHTTPServer(emptyTracker(), nil, 0)
	for _, path := range []string{"/pose", "/snapshot", "/trajectory.geojson", "/particles.png", "/tree.svg", "/map.pcd"} {
		t.Run(path, func(t *testing.T) {
			if rec := get(t, h, path); rec.Code != http.StatusServiceUnavailable {
				t.Errorf("status = %d, want 503", rec.Code)
			}
		})
	}
}

func TestEndpoints_ContentTypes(t *testing.T) {
	h := newHTTPServer(populatedTracker(), nil, 5)
	tests := []struct {
		path        string
		contentType string
		contains    string
	}{
		{"/pose", "application/json", `"robotId":"bench"`},
		{"/snapshot", "application/json", `"sessionId":"s1"`},
		{"/trajectory.geojson", "application/geo+json", `"FeatureCollection"`},
		{"/particles.png", "image/png", "PNG"},
		{"/tree.svg", "image/svg+xml", "<svg"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, h, tt.path)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if got := rec.Header().Get("Content-Type"); got != tt.contentType {
				t.Errorf("Content-Type = %q, want %q", got, tt.contentType)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body does not contain %q", tt.contains)
			}
		})
	}
}

func TestPointCloudEndpoint(t *testing.T) {
	configPath, logPath := writeReplayFixture(t, 3)
	frames, err := slam.LoadFrameLog(logPath)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := slam.LoadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	runner := slam.NewFrameRunner(cfg, nil, nil)
	if err := runner.Run(context.Background(), frames); err != nil {
		t.Fatal(err)
	}
	runner.Distill()

	rec := get(t, newHTTPServer(emptyTracker(), runner, 0), "/map.pcd")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	points, err := slam.LoadPointCloud(rec.Body)
	if err != nil {
		t.Fatalf("invalid PCD: %v", err)
	}
	if len(points) == 0 {
		t.Error("expected committed cells in the point cloud")
	}
}

func TestDistillEndpoint(t *testing.T) {
	configPath, logPath := writeReplayFixture(t, 3)
	frames, err := slam.LoadFrameLog(logPath)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := slam.LoadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	runner := slam.NewFrameRunner(cfg, nil, nil)
	if err := runner.Run(context.Background(), frames); err != nil {
		t.Fatal(err)
	}
	h := newHTTPServer(emptyTracker(), runner, 0)

	points, err := slam.LoadPointCloud(get(t, h, "/map.pcd").Body)
	if err != nil {
		t.Fatalf("invalid PCD: %v", err)
	}
	if len(points) != 0 {
		t.Fatalf("map has %d points before distilling, want 0", len(points))
	}

	if rec := get(t, h, "/distill"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /distill status = %d, want 405", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/distill", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /distill status = %d, want 200", rec.Code)
	}
	var result struct {
		Distilled bool `json:"distilled"`
		Committed int  `json:"committed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if !result.Distilled || result.Committed == 0 {
		t.Errorf("distill result = %+v", result)
	}

	points, err = slam.LoadPointCloud(get(t, h, "/map.pcd").Body)
	if err != nil {
		t.Fatalf("invalid PCD: %v", err)
	}
	if len(points) == 0 {
		t.Error("expected committed cells in the point cloud after distilling")
	}
}

func TestDistillEndpoint_NoRunner(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/distill", nil)
	rec := httptest.NewRecorder()
	newHTTPServer(populatedTracker(), nil, 0).ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	configPath, logPath := writeReplayFixture(t, 2)
	frames, _ := slam.LoadFrameLog(logPath)
	cfg, _ := slam.LoadConfig(configPath)
	runner := slam.NewFrameRunner(cfg, nil, nil)
	_ = runner.Run(context.Background(), frames)

	rec := get(t, newHTTPServer(emptyTracker(), runner, 0), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "slam_population_paths") {
		t.Error("metrics do not include the population gauge")
	}
}
