package slam

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// frameDuration tracks time spent in each filter phase
	frameDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slam_phase_duration_seconds",
		Help:    "Particle filter phase duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
	}, []string{"phase"})

	// populationSize is the number of particles after the last phase
	populationSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slam_population_paths",
		Help: "Paths in the particle population",
	})

	// treeSlots tracks allocated arena slots by kind
	treeSlots = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "slam_tree_slots",
		Help: "Allocated path tree slots by kind",
	}, []string{"kind"})

	// pathEvents counts path lifecycle events
	pathEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slam_path_events_total",
		Help: "Path lifecycle events by type",
	}, []string{"event"})

	// scanMatchResets counts invalidated scan matching estimates
	scanMatchResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slam_scan_match_resets_total",
		Help: "Scan matching estimates invalidated by a large heading change",
	})
)
