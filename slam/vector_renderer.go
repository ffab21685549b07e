package slam

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

var (
	treeColour       = color.RGBA{150, 150, 150, 255}
	particleColour   = color.RGBA{30, 90, 200, 255}
	trajectoryColour = color.RGBA{210, 30, 30, 255}
)

// TreeRenderer draws a snapshot's path tree, particle cloud and best
// trajectory as vector graphics in world millimetres
type TreeRenderer struct {
	Snapshot    *Snapshot
	Padding     float64           // world units around the content
	Resolution  canvas.Resolution // PNG output resolution
	GridSpacing float64           // grid line spacing in mm; 0 disables
	PoseRadius  float64           // particle marker radius in mm
}

// NewTreeRenderer creates a renderer with default settings
func NewTreeRenderer(snap *Snapshot) *TreeRenderer {
	return &TreeRenderer{
		Snapshot:    snap,
		Padding:     300,
		Resolution:  canvas.DPI(150),
		GridSpacing: 1000,
		PoseRadius:  15,
	}
}

// canvasRenderer is implemented by the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the tree as SVG
func (r *TreeRenderer) RenderToSVG(w io.Writer) error {
	b := r.bounds()
	width, height := r.size(b)
	out := svg.New(w, width, height, nil)
	r.render(out, b, width, height)
	return out.Close()
}

// RenderToPNG writes the tree as PNG
func (r *TreeRenderer) RenderToPNG(w io.Writer) error {
	b := r.bounds()
	width, height := r.size(b)
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.render(rast, b, width, height)
	return png.Encode(w, rast)
}

func (r *TreeRenderer) size(b Bounds) (float64, float64) {
	return b.Max.X - b.Min.X + 2*r.Padding, b.Max.Y - b.Min.Y + 2*r.Padding
}

// bounds covers every point drawn, with a 1m square fallback for an empty snapshot
func (r *TreeRenderer) bounds() Bounds {
	b := Bounds{
		Min: Point{X: math.Inf(1), Y: math.Inf(1)},
		Max: Point{X: math.Inf(-1), Y: math.Inf(-1)},
	}
	extend := func(p Point) {
		b.Min.X = math.Min(b.Min.X, p.X)
		b.Min.Y = math.Min(b.Min.Y, p.Y)
		b.Max.X = math.Max(b.Max.X, p.X)
		b.Max.Y = math.Max(b.Max.Y, p.Y)
	}
	if s := r.Snapshot; s != nil {
		extend(Point{X: s.Best.X, Y: s.Best.Y})
		for _, p := range s.Particles {
			extend(p)
		}
		for _, p := range s.Trajectory {
			extend(p)
		}
		for _, branch := range s.Tree {
			for _, p := range branch {
				extend(p)
			}
		}
	}
	if math.IsInf(b.Min.X, 1) {
		return Bounds{Min: Point{X: -500, Y: -500}, Max: Point{X: 500, Y: 500}}
	}
	return b
}

func (r *TreeRenderer) render(out canvasRenderer, b Bounds, width, height float64) {
	bg := canvas.DefaultStyle
	bg.Fill = canvas.Paint{Color: canvas.White}
	out.RenderPath(canvas.Rectangle(width, height), bg, canvas.Identity)

	toCanvas := func(p Point) (float64, float64) {
		return p.X - b.Min.X + r.Padding, p.Y - b.Min.Y + r.Padding
	}
	polyline := func(pts []Point) *canvas.Path {
		cp := &canvas.Path{}
		for i, p := range pts {
			x, y := toCanvas(p)
			if i == 0 {
				cp.MoveTo(x, y)
			} else {
				cp.LineTo(x, y)
			}
		}
		return cp
	}

	if r.GridSpacing > 0 {
		grid := canvas.DefaultStyle
		grid.Fill = canvas.Paint{Color: canvas.Transparent}
		grid.Stroke = canvas.Paint{Color: canvas.Gray}
		grid.StrokeWidth = 2
		startX := math.Floor(b.Min.X/r.GridSpacing) * r.GridSpacing
		for x := startX; x <= b.Max.X+r.Padding; x += r.GridSpacing {
			cx, _ := toCanvas(Point{X: x})
			if cx < 0 {
				continue
			}
			line := &canvas.Path{}
			line.MoveTo(cx, 0)
			line.LineTo(cx, height)
			out.RenderPath(line, grid, canvas.Identity)
		}
		startY := math.Floor(b.Min.Y/r.GridSpacing) * r.GridSpacing
		for y := startY; y <= b.Max.Y+r.Padding; y += r.GridSpacing {
			_, cy := toCanvas(Point{Y: y})
			if cy < 0 {
				continue
			}
			line := &canvas.Path{}
			line.MoveTo(0, cy)
			line.LineTo(width, cy)
			out.RenderPath(line, grid, canvas.Identity)
		}
	}

	s := r.Snapshot
	if s == nil {
		return
	}

	branch := canvas.DefaultStyle
	branch.Fill = canvas.Paint{Color: canvas.Transparent}
	branch.Stroke = canvas.Paint{Color: treeColour}
	branch.StrokeWidth = 3
	for _, pts := range s.Tree {
		if len(pts) > 1 {
			out.RenderPath(polyline(pts), branch, canvas.Identity)
		}
	}

	dot := canvas.DefaultStyle
	dot.Fill = canvas.Paint{Color: particleColour}
	dot.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, p := range s.Particles {
		x, y := toCanvas(p)
		out.RenderPath(canvas.Circle(r.PoseRadius).Translate(x, y), dot, canvas.Identity)
	}

	if len(s.Trajectory) > 1 {
		best := canvas.DefaultStyle
		best.Fill = canvas.Paint{Color: canvas.Transparent}
		best.Stroke = canvas.Paint{Color: trajectoryColour}
		best.StrokeWidth = 10
		out.RenderPath(polyline(s.Trajectory), best, canvas.Identity)
	}

	// robot marker with a heading tick; pan is clockwise from +y
	x, y := toCanvas(Point{X: s.Best.X, Y: s.Best.Y})
	marker := canvas.DefaultStyle
	marker.Fill = canvas.Paint{Color: trajectoryColour}
	marker.Stroke = canvas.Paint{Color: canvas.Black}
	marker.StrokeWidth = 4
	out.RenderPath(canvas.Circle(60).Translate(x, y), marker, canvas.Identity)

	heading := canvas.DefaultStyle
	heading.Fill = canvas.Paint{Color: canvas.Transparent}
	heading.Stroke = canvas.Paint{Color: canvas.Black}
	heading.StrokeWidth = 8
	tick := &canvas.Path{}
	tick.MoveTo(x, y)
	tick.LineTo(x+150*math.Sin(s.Best.Pan), y+150*math.Cos(s.Best.Pan))
	out.RenderPath(tick, heading, canvas.Identity)
}
