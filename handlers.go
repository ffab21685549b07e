package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kwv/tudoslam/slam"
)

// newHTTPServer creates an HTTP server with all endpoints. runner may be
// nil when the service only serves a cached snapshot.
func newHTTPServer(stateTracker *slam.StateTracker, runner *slam.FrameRunner, tolerance float64) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status      string    `json:"status"`
			Timestamp   time.Time `json:"timestamp"`
			HasSnapshot bool      `json:"hasSnapshot"`
			Frames      int       `json:"frames"`
		}{
			Status:      "ok",
			Timestamp:   time.Now(),
			HasSnapshot: stateTracker.Snapshot() != nil,
		}
		if runner != nil {
			status.Frames = runner.Frames()
		}
		writeJSONResponse(w, status)
	})

	mux.HandleFunc("/pose", func(w http.ResponseWriter, r *http.Request) {
		pose, ok := stateTracker.BestPose()
		if !ok {
			http.Error(w, "No pose available", http.StatusServiceUnavailable)
			return
		}
		writeJSONResponse(w, pose)
	})

	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		snap := stateTracker.Snapshot()
		if snap == nil {
			http.Error(w, "No snapshot available", http.StatusServiceUnavailable)
			return
		}
		writeJSONResponse(w, snap)
	})

	mux.HandleFunc("/trajectory.geojson", func(w http.ResponseWriter, r *http.Request) {
		snap := stateTracker.Snapshot()
		if snap == nil {
			http.Error(w, "No snapshot available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(slam.SnapshotToFeatureCollection(snap, tolerance)); err != nil {
			log.Printf("Error encoding GeoJSON: %v", err)
		}
	})

	mux.HandleFunc("/particles.png", func(w http.ResponseWriter, r *http.Request) {
		snap := stateTracker.Snapshot()
		if snap == nil {
			http.Error(w, "No snapshot available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := slam.NewParticleRenderer(snap).WritePNG(w); err != nil {
			log.Printf("Error encoding particle PNG: %v", err)
		}
	})

	mux.HandleFunc("/tree.svg", func(w http.ResponseWriter, r *http.Request) {
		snap := stateTracker.Snapshot()
		if snap == nil {
			http.Error(w, "No snapshot available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := slam.NewTreeRenderer(snap).RenderToSVG(w); err != nil {
			log.Printf("Error rendering tree SVG: %v", err)
		}
	})

	mux.HandleFunc("/map.pcd", func(w http.ResponseWriter, r *http.Request) {
		if runner == nil {
			http.Error(w, "Filter not running", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		if err := slam.ExportPointCloud(w, runner.Grid(), 0); err != nil {
			log.Printf("Error exporting point cloud: %v", err)
		}
	})

	// commits the best path so /map.pcd has something to serve
	mux.HandleFunc("/distill", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if runner == nil {
			http.Error(w, "Filter not running", http.StatusServiceUnavailable)
			return
		}
		log.Printf("[HTTP] /distill request from %s", r.RemoteAddr)
		writeJSONResponse(w, struct {
			Distilled      bool `json:"distilled"`
			Committed      int  `json:"committed"`
			LiveHypotheses int  `json:"liveHypotheses"`
		}{
			Distilled:      runner.Distill(),
			Committed:      runner.Grid().DistilledHypotheses(),
			LiveHypotheses: runner.Grid().LiveHypotheses(),
		})
	})

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func writeJSONResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
