package export

import (
	"math"
	"strconv"
	"strings"

	"github.com/pipevision/pipevision/pkg/geometry"
)

// DefaultDiameter is the pipe diameter in metres used when an entity has no
// usable diameter attribute.
const DefaultDiameter = 0.15

// Entity attribute keys describing a pipe.
const (
	AttrDiameter     = "diameter"
	AttrDiameterUnit = "diameter_unit"
	AttrMaterial     = "material"
)

// tubeSides is the number of faces around a tube segment.
const tubeSides = 8

var diameterUnits = map[string]geometry.Units{
	"m": geometry.UnitsMeters, "meter": geometry.UnitsMeters, "meters": geometry.UnitsMeters,
	"metre": geometry.UnitsMeters, "metres": geometry.UnitsMeters,
	"mm": geometry.UnitsMillimeters, "millimeter": geometry.UnitsMillimeters, "millimeters": geometry.UnitsMillimeters,
	"cm": geometry.UnitsCentimeters, "centimeter": geometry.UnitsCentimeters, "centimeters": geometry.UnitsCentimeters,
	"in": geometry.UnitsInches, "inch": geometry.UnitsInches, "inches": geometry.UnitsInches, `"`: geometry.UnitsInches,
	"ft": geometry.UnitsFeet, "foot": geometry.UnitsFeet, "feet": geometry.UnitsFeet,
}

// diameter returns the pipe diameter of e in metres. The diameter attribute
// is read in the unit named by diameter_unit, metres when absent. Missing,
// unparseable or non-positive values yield fallback.
func diameter(e geometry.Entity, fallback float64) float64 {
	raw, ok := e.Attributes[AttrDiameter]
	if !ok {
		return fallback
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || !(v > 0) || math.IsInf(v, 0) {
		return fallback
	}
	unit := strings.ToLower(strings.TrimSpace(e.Attributes[AttrDiameterUnit]))
	if u, ok := diameterUnits[unit]; ok {
		v *= u.MetresPerUnit()
	}
	return v
}

// pipeDiameter is the diameter reported for e: its own, else fallback for
// polylines, else 0.
func pipeDiameter(e geometry.Entity, fallback float64) float64 {
	if e.Kind != geometry.KindPolyline {
		fallback = 0
	}
	return diameter(e, fallback)
}

// pipeMaterial returns the material attribute of e, or "".
func pipeMaterial(e geometry.Entity) string {
	return strings.TrimSpace(e.Attributes[AttrMaterial])
}

// tube builds an open triangle mesh of radius r around the polyline pts.
// Zero-length segments are skipped; ok is false when nothing is left.
func tube(pts [][3]float32, r float64) (positions [][3]float32, indices []uint32, ok bool) {
	for i := 0; i+1 < len(pts); i++ {
		a, b := vec(pts[i]), vec(pts[i+1])
		d := sub(b, a)
		l := norm(d)
		if l == 0 {
			continue
		}
		d = scale(d, 1/l)
		helper := [3]float64{0, 1, 0}
		if math.Abs(d[1]) > 0.9 {
			helper = [3]float64{1, 0, 0}
		}
		u := cross(d, helper)
		u = scale(u, 1/norm(u))
		w := cross(d, u)

		base := uint32(len(positions))
		for _, c := range [2][3]float64{a, b} {
			for k := range tubeSides {
				sin, cos := math.Sincos(2 * math.Pi * float64(k) / tubeSides)
				p := add(c, add(scale(u, r*cos), scale(w, r*sin)))
				positions = append(positions, [3]float32{float32(p[0]), float32(p[1]), float32(p[2])})
			}
		}
		for k := range uint32(tubeSides) {
			j := (k + 1) % tubeSides
			a0, a1 := base+k, base+j
			b0, b1 := base+tubeSides+k, base+tubeSides+j
			indices = append(indices, a0, b0, a1, a1, b0, b1)
		}
	}
	return positions, indices, len(indices) > 0
}

func vec(p [3]float32) [3]float64 { return [3]float64{float64(p[0]), float64(p[1]), float64(p[2])} }

func add(a, b [3]float64) [3]float64 { return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }

func sub(a, b [3]float64) [3]float64 { return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func scale(a [3]float64, s float64) [3]float64 { return [3]float64{a[0] * s, a[1] * s, a[2] * s} }

func norm(a [3]float64) float64 { return math.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2]) }

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]}
}
