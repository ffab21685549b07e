package slam

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// TrajectoryPose is one saved pose; the heading is stored in degrees
type TrajectoryPose struct {
	X        float64 `yaml:"x"`
	Y        float64 `yaml:"y"`
	Heading  float64 `yaml:"heading"`
	TimeStep uint32  `yaml:"timeStep"`
}

// Trajectory is the persisted form of a path, root first
type Trajectory struct {
	RobotID   string           `yaml:"robotId"`
	SessionID string           `yaml:"sessionId,omitempty"`
	Poses     []TrajectoryPose `yaml:"poses"`
}

// TrajectoryFromPath converts the lineage of a path, root first. max
// limits the number of poses kept, newest first; max <= 0 keeps them all.
func TrajectoryFromPath(path *Path, max int) []TrajectoryPose {
	if path == nil {
		return nil
	}
	poses := path.lineage(max)
	out := make([]TrajectoryPose, len(poses))
	for i, pose := range poses {
		out[i] = TrajectoryPose{
			X:        pose.X,
			Y:        pose.Y,
			Heading:  pose.Pan * 180 / math.Pi,
			TimeStep: pose.TimeStep,
		}
	}
	return out
}

// Points returns the positions of the trajectory
func (t *Trajectory) Points() []Point {
	pts := make([]Point, len(t.Poses))
	for i, p := range t.Poses {
		pts[i] = Point{X: p.X, Y: p.Y}
	}
	return pts
}

// SaveTrajectory writes a trajectory as YAML
func SaveTrajectory(path string, t *Trajectory) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling trajectory YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing trajectory file: %w", err)
	}
	return nil
}

// LoadTrajectory reads a trajectory saved by SaveTrajectory
func LoadTrajectory(path string) (*Trajectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trajectory file: %w", err)
	}
	var t Trajectory
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing trajectory YAML: %w", err)
	}
	return &t, nil
}
