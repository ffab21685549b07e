package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
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
	InitConfig    bool
}

// Application is what main drives; App implements it
type Application interface {
	ApplyOptions(opts AppOptions)
	RunReplay() error
	RunService() error
	RunInitConfig() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if err == flag.ErrHelp {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer, app Application) error {
	fs := flag.NewFlagSet("tudoslam", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.ReplaySource, "replay", "", "Replay a JSON-lines frame log from a file or http(s) URL and exit")
	fs.StringVar(&opts.OutputFile, "output", "", "Output file for --replay (default depends on --format)")
	fs.StringVar(&opts.RenderFormat, "format", "geojson", "Replay output: geojson, svg, png, raster, trajectory or pcd")
	fs.Float64Var(&opts.Tolerance, "tolerance", 20, "Trajectory simplification tolerance in millimeters for geojson output")
	fs.Float64Var(&opts.GridSpacing, "grid-spacing", 1000.0, "Grid line spacing in millimeters for vector output")
	fs.BoolVar(&opts.Distill, "distill", false, "Commit the best path to the grid after replay")
	fs.StringVar(&opts.SnapshotCache, "snapshot-cache", "", "Persist the latest snapshot to this file in service mode")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run the filter on frames received over MQTT")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve the filter state over HTTP")
	fs.BoolVar(&opts.InitConfig, "init-config", false, "Write a default configuration file and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "tudoslam version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.InitConfig:
		return app.RunInitConfig()
	case opts.ReplaySource != "":
		return app.RunReplay()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "tudoslam service starting...")
	fmt.Fprintln(out, "Use --replay=FILE|URL to run the filter over a recorded frame log")
	fmt.Fprintln(out, "Use --mqtt to track a robot from MQTT frames")
	fmt.Fprintln(out, "Use --http to serve pose, snapshot and renderings")
	fmt.Fprintln(out, "Use --init-config to write a default config.yaml")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - MQTT settings, robot geometry and filter parameters")
	return nil
}
