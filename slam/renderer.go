package slam

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ParticleRenderer rasterises a snapshot for quick inspection: the path
// tree, the particle cloud, the best trajectory and a text legend
type ParticleRenderer struct {
	Snapshot *Snapshot
	Width    int // image size in pixels
	Height   int
	Padding  int // pixels around the content
}

// NewParticleRenderer creates a 800x800 renderer
func NewParticleRenderer(snap *Snapshot) *ParticleRenderer {
	return &ParticleRenderer{Snapshot: snap, Width: 800, Height: 800, Padding: 40}
}

// Render draws the snapshot. World +y points up in the image.
func (r *ParticleRenderer) Render() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{255, 255, 255, 255}}, image.Point{}, draw.Src)

	s := r.Snapshot
	if s == nil {
		drawText(img, 10, 20, "no data", color.RGBA{0, 0, 0, 255})
		return img
	}

	b := (&TreeRenderer{Snapshot: s}).bounds()
	spanX := math.Max(b.Max.X-b.Min.X, 1)
	spanY := math.Max(b.Max.Y-b.Min.Y, 1)
	scale := math.Min(float64(r.Width-2*r.Padding)/spanX, float64(r.Height-2*r.Padding)/spanY)

	toImage := func(p Point) (int, int) {
		x := int((p.X-b.Min.X)*scale) + r.Padding
		y := r.Height - (int((p.Y-b.Min.Y)*scale) + r.Padding)
		return x, y
	}

	grey := color.RGBA{170, 170, 170, 255}
	for _, branch := range s.Tree {
		for i := 1; i < len(branch); i++ {
			x0, y0 := toImage(branch[i-1])
			x1, y1 := toImage(branch[i])
			drawLine(img, x0, y0, x1, y1, grey)
		}
	}

	blue := color.RGBA{30, 90, 200, 255}
	for _, p := range s.Particles {
		x, y := toImage(p)
		drawCircle(img, x, y, 2, blue)
	}

	red := color.RGBA{210, 30, 30, 255}
	for i := 1; i < len(s.Trajectory); i++ {
		x0, y0 := toImage(s.Trajectory[i-1])
		x1, y1 := toImage(s.Trajectory[i])
		drawLine(img, x0, y0, x1, y1, red)
	}
	bx, by := toImage(Point{X: s.Best.X, Y: s.Best.Y})
	drawCircle(img, bx, by, 5, red)
	drawLine(img, bx, by, bx+int(15*math.Sin(s.Best.Pan)), by-int(15*math.Cos(s.Best.Pan)), red)

	drawLegend(img, s)
	return img
}

// WritePNG encodes the rendered image
func (r *ParticleRenderer) WritePNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

// SavePNG renders to a file
func (r *ParticleRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	return r.WritePNG(f)
}

func drawLegend(img *image.RGBA, s *Snapshot) {
	black := color.RGBA{0, 0, 0, 255}
	lines := []string{
		fmt.Sprintf("%s frame %d step %d", s.Best.RobotID, s.Frame, s.Best.TimeStep),
		fmt.Sprintf("best (%.0f, %.0f) pan %.1f deg", s.Best.X, s.Best.Y, s.Best.Pan*180/math.Pi),
		fmt.Sprintf("particles %d  std %.0f/%.0f mm", s.Spread.Count, s.Spread.StdX, s.Spread.StdY),
		fmt.Sprintf("paths %d  poses %d", s.LivePaths, s.LivePoses),
	}
	y := 15
	for _, line := range lines {
		drawText(img, 10, y, line, black)
		y += 16
	}
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	bounds := img.Bounds()
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			if p := (image.Point{X: cx + dx, Y: cy + dy}); p.In(bounds) {
				img.SetRGBA(p.X, p.Y, c)
			}
		}
	}
}

// drawLine draws a one pixel line
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	steps := max(abs(x1-x0), abs(y1-y0))
	bounds := img.Bounds()
	for i := 0; i <= steps; i++ {
		t := 0.0
		if steps > 0 {
			t = float64(i) / float64(steps)
		}
		p := image.Point{
			X: x0 + int(math.Round(t*float64(x1-x0))),
			Y: y0 + int(math.Round(t*float64(y1-y0))),
		}
		if p.In(bounds) {
			img.SetRGBA(p.X, p.Y, c)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
