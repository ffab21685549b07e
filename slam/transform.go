package slam

import "math"

// Transform is a 2D affine map: x' = A*x + B*y + Tx, y' = C*x + D*y + Ty
type Transform struct {
	A, B, C, D float64
	Tx, Ty     float64
}

// IdentityTransform leaves points unchanged
func IdentityTransform() Transform {
	return Transform{A: 1, D: 1}
}

// Translate shifts by (tx, ty)
func Translate(tx, ty float64) Transform {
	return Transform{A: 1, D: 1, Tx: tx, Ty: ty}
}

// Rotate turns counter-clockwise about the origin, in radians
func Rotate(angle float64) Transform {
	sin, cos := math.Sincos(angle)
	return Transform{A: cos, B: -sin, C: sin, D: cos}
}

// Apply maps p through t
func (t Transform) Apply(p Point) Point {
	return Point{
		X: t.A*p.X + t.B*p.Y + t.Tx,
		Y: t.C*p.X + t.D*p.Y + t.Ty,
	}
}

// Then returns the transform that applies t first and next after it
func (t Transform) Then(next Transform) Transform {
	return Transform{
		A:  next.A*t.A + next.B*t.C,
		B:  next.A*t.B + next.B*t.D,
		C:  next.C*t.A + next.D*t.C,
		D:  next.C*t.B + next.D*t.D,
		Tx: next.A*t.Tx + next.B*t.Ty + next.Tx,
		Ty: next.C*t.Tx + next.D*t.Ty + next.Ty,
	}
}

// PoseTransform maps body coordinates (+y forward, +x right) into the
// world for a robot at (x, y) whose heading pan is measured clockwise
// from the world +y axis.
func PoseTransform(x, y, pan float64) Transform {
	return Rotate(-pan).Then(Translate(x, y))
}

// NormalizeAngle wraps an angle in radians into (-pi, pi]
func NormalizeAngle(rad float64) float64 {
	rad = math.Mod(rad, 2*math.Pi)
	switch {
	case rad <= -math.Pi:
		rad += 2 * math.Pi
	case rad > math.Pi:
		rad -= 2 * math.Pi
	}
	return rad
}
