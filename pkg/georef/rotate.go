package georef

import (
	"math"

	"github.com/pipevision/pipevision/pkg/geometry"
)

// NormalizeDegrees maps an angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg == 360 || deg == 0 {
		return 0
	}
	return deg
}

// Rotate turns v counter-clockwise by deg degrees about the drawing origin.
// Z is carried through unchanged.
func Rotate(v geometry.Vertex, deg float64) geometry.Vertex {
	sin, cos := sincos(deg)
	x := v.X()*cos - v.Y()*sin
	y := v.X()*sin + v.Y()*cos
	out := append(geometry.Vertex(nil), v...)
	out[0], out[1] = x, y
	return out
}

// sincos returns exact values at multiples of 90 degrees so quarter turns
// do not leave 1e-17 residue in coordinates.
func sincos(deg float64) (sin, cos float64) {
	switch NormalizeDegrees(deg) {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}
	return math.Sincos(deg * math.Pi / 180)
}
