package slam

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

func toLineString(pts []Point) orb.LineString {
	ls := make(orb.LineString, len(pts))
	for i, p := range pts {
		ls[i] = orb.Point{p.X, p.Y}
	}
	return ls
}

func newFeature(id string, geom orb.Geometry, props geojson.Properties) *geojson.Feature {
	f := geojson.NewFeature(geom)
	f.ID = id
	f.Properties = props
	return f
}

// SimplifyTrajectory reduces a trajectory with Douglas-Peucker at the given
// tolerance in millimetres. A non-positive tolerance returns the input.
func SimplifyTrajectory(pts []Point, tolerance float64) []Point {
	if tolerance <= 0 || len(pts) < 3 {
		return pts
	}
	simplified, ok := simplify.DouglasPeucker(tolerance).Simplify(toLineString(pts)).(orb.LineString)
	if !ok {
		return pts
	}
	out := make([]Point, len(simplified))
	for i, p := range simplified {
		out[i] = Point{X: p.X(), Y: p.Y()}
	}
	return out
}

// TrajectoryLength returns the travelled distance along a trajectory in millimetres
func TrajectoryLength(pts []Point) float64 {
	if len(pts) < 2 {
		return 0
	}
	return planar.Length(toLineString(pts))
}

// SnapshotToFeatureCollection exports a snapshot as GeoJSON in world
// millimetres: the best trajectory, the best pose, the particle cloud and
// the active path tree. tolerance simplifies the trajectory.
func SnapshotToFeatureCollection(snap *Snapshot, tolerance float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if snap == nil {
		return fc
	}

	if len(snap.Trajectory) > 1 {
		fc.Append(newFeature("trajectory", toLineString(SimplifyTrajectory(snap.Trajectory, tolerance)), geojson.Properties{
			"robotId":   snap.Best.RobotID,
			"sessionId": snap.SessionID,
			"lengthMM":  TrajectoryLength(snap.Trajectory),
			"poses":     len(snap.Trajectory),
		}))
	}

	fc.Append(newFeature("best", orb.Point{snap.Best.X, snap.Best.Y}, geojson.Properties{
		"pan":      snap.Best.Pan,
		"score":    snap.Best.Score,
		"timeStep": snap.Best.TimeStep,
	}))

	if len(snap.Particles) > 0 {
		fc.Append(newFeature("particles", orb.MultiPoint(toLineString(snap.Particles)), geojson.Properties{
			"count":  snap.Spread.Count,
			"stdX":   snap.Spread.StdX,
			"stdY":   snap.Spread.StdY,
			"stdPan": snap.Spread.StdPan,
		}))
	}

	if len(snap.Tree) > 0 {
		lines := make(orb.MultiLineString, len(snap.Tree))
		for i, branch := range snap.Tree {
			lines[i] = toLineString(branch)
		}
		fc.Append(newFeature("tree", lines, geojson.Properties{
			"branches":  len(snap.Tree),
			"livePaths": snap.LivePaths,
			"livePoses": snap.LivePoses,
		}))
	}
	return fc
}
