package slam

import "math"

// Ray is one observation in robot body coordinates (+y forward, +x right,
// z up from the floor). End is the detected surface.
type Ray struct {
	Start     Point3 `json:"start"`
	End       Point3 `json:"end"`
	Colour    Colour `json:"colour"`
	HasColour bool   `json:"hasColour,omitempty"`
}

// rayVisitor receives each grid cell a ray passes through. fraction runs
// from 0 at the sensor to 1 at the surface, steps is the number of free
// space segments and terminal marks the surface cell.
type rayVisitor func(c Cell, fraction float64, steps int, terminal bool)

// traceRay projects a body-frame ray through a pose transform and walks
// the cells it crosses, visiting only those inside the grid. It returns
// the number of visited cells.
func traceRay(ray Ray, pose Transform, dims GridDimensions, centre Point, visit rayVisitor) int {
	start := pose.Apply(Point{X: ray.Start.X, Y: ray.Start.Y})
	end := pose.Apply(Point{X: ray.End.X, Y: ray.End.Y})

	// continuous cell coordinates
	half := float64(dims.DimensionCells / 2)
	sx := (start.X-centre.X)/dims.CellSizeMM + half
	sy := (start.Y-centre.Y)/dims.CellSizeMM + half
	sz := ray.Start.Z / dims.CellSizeMM
	dx := (end.X-centre.X)/dims.CellSizeMM + half - sx
	dy := (end.Y-centre.Y)/dims.CellSizeMM + half - sy
	dz := ray.End.Z/dims.CellSizeMM - sz

	steps := int(math.Ceil(math.Max(math.Abs(dx), math.Max(math.Abs(dy), math.Abs(dz)))))
	if steps < 1 {
		steps = 1
	}

	at := func(t float64) Cell {
		return Cell{
			X: int(math.Floor(sx + t*dx)),
			Y: int(math.Floor(sy + t*dy)),
			Z: int(math.Floor(sz + t*dz)),
		}
	}

	visited := 0
	surface := at(1)
	prev := Cell{X: math.MinInt32}
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps)
		c := at(t)
		if c == prev || c == surface {
			continue
		}
		prev = c
		if dims.Contains(c) {
			visit(c, t, steps, false)
			visited++
		}
	}
	if dims.Contains(surface) {
		visit(surface, 1, steps, true)
		visited++
	}
	return visited
}
