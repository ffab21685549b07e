package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kwv/tudoslam/slam"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *slam.Config
	StateTracker *slam.StateTracker
	MQTTClient   *slam.MQTTClient
	Publisher    *slam.Publisher
	Runner       *slam.FrameRunner

	ConfigFile    string
	ReplaySource  string
	OutputFile    string
	RenderFormat  string
	Tolerance     float64
	GridSpacing   float64
	Distill       bool
	SnapshotCache string
	HttpPort      int
	MqttMode      bool
	HttpMode      bool

	// stop is closed to end RunService; nil waits for SIGINT or SIGTERM
	stop <-chan struct{}
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: slam.NewStateTracker(0),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.ReplaySource = opts.ReplaySource
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.Tolerance = opts.Tolerance
	a.GridSpacing = opts.GridSpacing
	a.Distill = opts.Distill
	a.SnapshotCache = opts.SnapshotCache
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadConfig reads the configuration file. A missing file falls back to
// the defaults unless required is set.
func (a *App) loadConfig(required bool) (*slam.Config, error) {
	if _, err := os.Stat(a.ConfigFile); os.IsNotExist(err) && !required {
		log.Printf("Config %s not found, using defaults", a.ConfigFile)
		return slam.DefaultConfig(), nil
	}
	config, err := slam.LoadConfig(a.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w (looked at %s)", err, a.ConfigFile)
	}
	log.Printf("Loaded config from %s", a.ConfigFile)
	return config, nil
}

// RunInitConfig writes the default configuration, refusing to overwrite
func (a *App) RunInitConfig() error {
	if _, err := os.Stat(a.ConfigFile); err == nil {
		return fmt.Errorf("%s already exists", a.ConfigFile)
	}
	if err := slam.SaveConfig(a.ConfigFile, slam.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", a.ConfigFile)
	return nil
}

// RunReplay runs the filter over a recorded frame log and writes the
// result in the requested format
func (a *App) RunReplay() error {
	config, err := a.loadConfig(false)
	if err != nil {
		return err
	}
	a.Config = config

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var frames []slam.Frame
	if slam.IsRemoteFrameLog(a.ReplaySource) {
		frames, err = slam.FetchFrameLog(ctx, a.ReplaySource)
	} else {
		frames, err = slam.LoadFrameLog(a.ReplaySource)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d frames from %s\n", len(frames), a.ReplaySource)

	a.Runner = slam.NewFrameRunner(config, a.StateTracker, nil)
	start := time.Now()
	if err := a.Runner.Run(ctx, frames); err != nil {
		return err
	}
	snap := a.Runner.Snapshot()
	fmt.Printf("Processed %d frames in %v\n", a.Runner.Frames(), time.Since(start).Round(time.Millisecond))
	fmt.Printf("Best pose: (%.0f, %.0f) pan %.3f rad, score %.2f\n", snap.Best.X, snap.Best.Y, snap.Best.Pan, snap.Best.Score)
	fmt.Printf("Particles: %d, std (%.0f, %.0f) mm\n", snap.Spread.Count, snap.Spread.StdX, snap.Spread.StdY)

	return a.writeReplayOutput(snap)
}

func (a *App) writeReplayOutput(snap slam.Snapshot) error {
	output := a.OutputFile
	if output == "" {
		output = defaultOutput(a.RenderFormat)
	}

	// the trajectory must be taken before distilling restarts the population
	var traj *slam.Trajectory
	if a.RenderFormat == "trajectory" {
		if traj = a.Runner.Trajectory(); traj == nil {
			return errors.New("no trajectory: replay needs at least two frames")
		}
	}
	if a.Distill || a.RenderFormat == "pcd" {
		if a.Runner.Distill() {
			fmt.Printf("Committed %d hypotheses to the grid\n", a.Runner.Grid().DistilledHypotheses())
		}
	}

	var err error
	switch a.RenderFormat {
	case "geojson", "":
		err = writeJSON(output, slam.SnapshotToFeatureCollection(&snap, a.Tolerance))
	case "svg", "png":
		err = a.writeVector(output, &snap)
	case "raster":
		err = slam.NewParticleRenderer(&snap).SavePNG(output)
	case "trajectory":
		err = slam.SaveTrajectory(output, traj)
	case "pcd":
		err = slam.SavePointCloud(output, a.Runner.Grid(), 0)
	default:
		return fmt.Errorf("unknown format %q", a.RenderFormat)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Created: %s\n", output)
	return nil
}

func (a *App) writeVector(path string, snap *slam.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	r := slam.NewTreeRenderer(snap)
	r.GridSpacing = a.GridSpacing
	if a.RenderFormat == "png" {
		return r.RenderToPNG(f)
	}
	return r.RenderToSVG(f)
}

func defaultOutput(format string) string {
	switch format {
	case "svg":
		return "tree.svg"
	case "png":
		return "tree.png"
	case "raster":
		return "particles.png"
	case "trajectory":
		return "trajectory.yaml"
	case "pcd":
		return "map.pcd"
	}
	return "snapshot.geojson"
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0644)
}

// RunService starts the combined MQTT and/or HTTP service
func (a *App) RunService() error {
	fmt.Println("Starting tudoslam service...")

	config, err := a.loadConfig(a.MqttMode)
	if err != nil {
		return err
	}
	a.Config = config

	if a.SnapshotCache != "" {
		a.StateTracker = slam.NewStateTrackerWithCache(0, a.SnapshotCache)
		log.Printf("Snapshot cache: %s", a.SnapshotCache)
	}

	if a.MqttMode {
		// the publisher needs the client and the client needs the runner,
		// so the runner is created with no publisher and given one below
		a.Runner = slam.NewFrameRunner(config, a.StateTracker, nil)
		mqttClient, err := slam.InitMQTT(config, a.Runner)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if mqttClient == nil {
			return errors.New("MQTT broker not configured in config.yaml")
		}
		a.MQTTClient = mqttClient
		a.Publisher = slam.NewPublisher(mqttClient.GetClient(), config.MQTT.PublishPrefix)
		a.Runner.SetPublisher(a.Publisher)
		fmt.Println("MQTT pose publisher initialized")
	}

	var server *http.Server
	if a.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.StateTracker, a.Runner, a.Tolerance),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
			}
		}()
	}

	fmt.Println("\nService Running")
	fmt.Println("===============")
	if a.MqttMode {
		fmt.Println("\nMQTT:")
		fmt.Println("  Subscribed topics:")
		for _, suffix := range []string{slam.OdometrySuffix, slam.ObservationSuffix, slam.ScanMatchSuffix} {
			fmt.Printf("    - %s%s\n", config.Robot.Topic, suffix)
		}
		publishPrefix := config.MQTT.PublishPrefix
		if publishPrefix == "" {
			publishPrefix = "tudoslam"
		}
		fmt.Printf("  Publishing to: %s/%s/pose and %s/%s/particles\n",
			publishPrefix, config.Robot.ID, publishPrefix, config.Robot.ID)
	}
	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET /health             - Health check")
		fmt.Println("  GET /pose               - Best pose estimate")
		fmt.Println("  GET /snapshot           - Full filter snapshot")
		fmt.Println("  GET /trajectory.geojson - Snapshot as GeoJSON")
		fmt.Println("  GET /particles.png      - Raster particle view")
		fmt.Println("  GET /tree.svg           - Vector path tree")
		fmt.Println("  GET /map.pcd            - Committed occupancy as a point cloud")
		fmt.Println("  POST /distill           - Commit the best path to the map")
		fmt.Println("  GET /metrics            - Prometheus metrics")
	}
	fmt.Println("\nPress Ctrl+C to stop")

	a.wait()

	fmt.Println("\nShutting down service...")
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("[HTTP] shutdown: %v", err)
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
	return nil
}

func (a *App) wait() {
	if a.stop != nil {
		<-a.stop
		return
	}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
}
