package slam

import (
	"math"
	"testing"
)

const epsilon = 1e-9

// almostEqual checks if two floats are equal within epsilon tolerance
func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

// pointsEqual checks if two points are equal within epsilon tolerance
func pointsEqual(p1, p2 Point) bool {
	return almostEqual(p1.X, p2.X) && almostEqual(p1.Y, p2.Y)
}

func TestTransform_Apply(t *testing.T) {
	tests := []struct {
		name  string
		point Point
		xf    Transform
		want  Point
	}{
		{
			name:  "identity transform",
			point: Point{X: 10, Y: 20},
			xf:    IdentityTransform(),
			want:  Point{X: 10, Y: 20},
		},
		{
			name:  "translation only",
			point: Point{X: 5, Y: 5},
			xf:    Translate(10, 15),
			want:  Point{X: 15, Y: 20},
		},
		{
			name:  "quarter turn",
			point: Point{X: 1, Y: 0},
			xf:    Rotate(math.Pi / 2),
			want:  Point{X: 0, Y: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.xf.Apply(tt.point)
			if !pointsEqual(got, tt.want) {
				t.Errorf("Apply() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPoseTransform(t *testing.T) {
	tests := []struct {
		name string
		x, y float64
		pan  float64
		body Point
		want Point
	}{
		{
			name: "heading zero looks along +y",
			body: Point{X: 0, Y: 100},
			want: Point{X: 0, Y: 100},
		},
		{
			name: "heading quarter turn looks along +x",
			pan:  math.Pi / 2,
			body: Point{X: 0, Y: 100},
			want: Point{X: 100, Y: 0},
		},
		{
			name: "right of robot at heading zero",
			x:    500, y: 500,
			body: Point{X: 50, Y: 0},
			want: Point{X: 550, Y: 500},
		},
		{
			name: "right of robot at quarter turn",
			pan:  math.Pi / 2,
			body: Point{X: 50, Y: 0},
			want: Point{X: 0, Y: -50},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PoseTransform(tt.x, tt.y, tt.pan).Apply(tt.body)
			if !pointsEqual(got, tt.want) {
				t.Errorf("PoseTransform() mapped %v to %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}

func TestTransform_ThenOrder(t *testing.T) {
	p := Point{X: 10, Y: 0}

	// rotate then shift
	got := Rotate(math.Pi / 2).Then(Translate(100, 0)).Apply(p)
	if !pointsEqual(got, Point{X: 100, Y: 10}) {
		t.Errorf("rotate then translate = %v", got)
	}

	// shift then rotate
	got = Translate(100, 0).Then(Rotate(math.Pi / 2)).Apply(p)
	if !pointsEqual(got, Point{X: 0, Y: 110}) {
		t.Errorf("translate then rotate = %v", got)
	}
}

func TestNormalizeAngle(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{math.Pi, math.Pi},
		{-math.Pi, math.Pi},
		{3 * math.Pi / 2, -math.Pi / 2},
		{-5 * math.Pi / 2, -math.Pi / 2},
	}
	for _, tt := range tests {
		if got := NormalizeAngle(tt.in); !almostEqual(got, tt.want) {
			t.Errorf("NormalizeAngle(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
