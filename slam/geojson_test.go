package slam

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func geojsonSnapshot() *Snapshot {
	return &Snapshot{
		SessionID: "s1",
		Best:      PoseEstimate{RobotID: "rover", X: 300, Y: 0, Pan: math.Pi / 2, TimeStep: 4},
		Particles: []Point{{X: 290, Y: 5}, {X: 310, Y: -5}},
		Trajectory: []Point{
			{X: 0, Y: 0}, {X: 100, Y: 1}, {X: 200, Y: -1}, {X: 300, Y: 0},
		},
		Tree: [][]Point{
			{{X: 0, Y: 0}, {X: 100, Y: 1}},
			{{X: 100, Y: 1}, {X: 200, Y: 20}},
		},
		Spread:    ParticleSpread{Count: 2, StdX: 10},
		LivePaths: 3,
		LivePoses: 6,
	}
}

func TestSimplifyTrajectory(t *testing.T) {
	pts := geojsonSnapshot().Trajectory

	if got := SimplifyTrajectory(pts, 0); len(got) != len(pts) {
		t.Errorf("zero tolerance kept %d points, want %d", len(got), len(pts))
	}

	got := SimplifyTrajectory(pts, 5)
	if len(got) != 2 {
		t.Fatalf("simplified to %d points, want 2", len(got))
	}
	if got[0] != pts[0] || got[1] != pts[len(pts)-1] {
		t.Errorf("endpoints = %v, want %v and %v", got, pts[0], pts[len(pts)-1])
	}
}

func TestTrajectoryLength(t *testing.T) {
	if got := TrajectoryLength([]Point{{X: 0, Y: 0}}); got != 0 {
		t.Errorf("single point length = %v, want 0", got)
	}
	got := TrajectoryLength([]Point{{X: 0, Y: 0}, {X: 300, Y: 0}, {X: 300, Y: 400}})
	if math.Abs(got-700) > 1e-9 {
		t.Errorf("length = %v, want 700", got)
	}
}

func TestSnapshotToFeatureCollection(t *testing.T) {
	fc := SnapshotToFeatureCollection(geojsonSnapshot(), 5)

	byID := make(map[interface{}]*geojson.Feature)
	for _, f := range fc.Features {
		byID[f.ID] = f
	}
	for _, id := range []string{"trajectory", "best", "particles", "tree"} {
		if byID[id] == nil {
			t.Fatalf("missing feature %q", id)
		}
	}

	traj, ok := byID["trajectory"].Geometry.(orb.LineString)
	if !ok {
		t.Fatalf("trajectory geometry = %T", byID["trajectory"].Geometry)
	}
	if len(traj) != 2 {
		t.Errorf("simplified trajectory has %d coordinates, want 2", len(traj))
	}
	if got := byID["trajectory"].Properties["poses"]; got != 4 {
		t.Errorf("poses property = %v, want 4", got)
	}

	if best := byID["best"].Geometry.(orb.Point); best != (orb.Point{300, 0}) {
		t.Errorf("best = %v", best)
	}
	if tree := byID["tree"].Geometry.(orb.MultiLineString); len(tree) != 2 {
		t.Errorf("tree has %d branches, want 2", len(tree))
	}
}

func TestSnapshotToFeatureCollection_JSON(t *testing.T) {
	data, err := json.Marshal(SnapshotToFeatureCollection(geojsonSnapshot(), 0))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	types := make(map[string]string)
	for _, f := range fc.Features {
		types[fmt.Sprint(f.ID)] = f.Geometry.GeoJSONType()
	}
	want := map[string]string{
		"trajectory": "LineString",
		"best":       "Point",
		"particles":  "MultiPoint",
		"tree":       "MultiLineString",
	}
	for id, typ := range want {
		if types[id] != typ {
			t.Errorf("%s type = %q, want %q", id, types[id], typ)
		}
	}
}

func TestSnapshotToFeatureCollection_Nil(t *testing.T) {
	if fc := SnapshotToFeatureCollection(nil, 0); len(fc.Features) != 0 {
		t.Errorf("nil snapshot produced %d features", len(fc.Features))
	}
}
