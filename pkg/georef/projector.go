package georef

import (
	"fmt"
	"math"

	"github.com/twpayne/go-proj/v10"

	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/geometry"
)

// Projector transforms vertices from one CRS to another. Implementations are
// not required to be safe for concurrent use; each run builds its own.
type Projector interface {
	// Forward transforms one vertex. A 3D vertex stays 3D.
	Forward(v geometry.Vertex) (geometry.Vertex, error)
	Close() error
}

// Factory builds a projector between two CRS identifiers.
type Factory func(source, target string) (Projector, error)

// ProjProjector is a [Projector] backed by PROJ. Axis order is normalised so
// geographic output is always longitude, latitude.
type ProjProjector struct {
	pj *proj.PJ
}

// NewProjProjector builds a PROJ transformation from source to target.
// Unknown CRS identifiers fail with INVALID_CRS.
func NewProjProjector(source, target string) (Projector, error) {
	pj, err := proj.NewCRSToCRS(source, target, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidCRS, err, "create transformation %s -> %s", source, target)
	}
	norm, err := pj.NormalizeForVisualization()
	pj.Destroy()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidCRS, err, "normalize axis order %s -> %s", source, target)
	}
	return &ProjProjector{pj: norm}, nil
}

// Forward transforms v. Non-finite output fails with NON_FINITE_TRANSFORM.
func (p *ProjProjector) Forward(v geometry.Vertex) (geometry.Vertex, error) {
	out, err := p.pj.Forward(proj.NewCoord(v.X(), v.Y(), v.Z(), 0))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNonFiniteTransform, err, "transform (%g, %g)", v.X(), v.Y())
	}
	res := geometry.V2(out.X(), out.Y())
	if v.Is3D() {
		res = geometry.V3(out.X(), out.Y(), out.Z())
	}
	if !res.Finite() {
		return nil, errors.New(errors.ErrCodeNonFiniteTransform, "transform (%g, %g) produced %v", v.X(), v.Y(), []float64(res))
	}
	return res, nil
}

// Close releases the PROJ object.
func (p *ProjProjector) Close() error {
	if p.pj != nil {
		p.pj.Destroy()
		p.pj = nil
	}
	return nil
}

var _ Projector = (*ProjProjector)(nil)

// ProjectorFunc adapts a function to [Projector].
type ProjectorFunc func(v geometry.Vertex) (geometry.Vertex, error)

// Forward calls f.
func (f ProjectorFunc) Forward(v geometry.Vertex) (geometry.Vertex, error) { return f(v) }

// Close does nothing.
func (f ProjectorFunc) Close() error { return nil }

// Identity returns a factory whose projectors return vertices unchanged.
func Identity() Factory {
	return func(source, target string) (Projector, error) {
		return ProjectorFunc(func(v geometry.Vertex) (geometry.Vertex, error) {
			return append(geometry.Vertex(nil), v...), nil
		}), nil
	}
}

// =============================================================================
// Local frame
// =============================================================================

// WGS84 ellipsoid.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// ECEFCRS is the earth-centred, earth-fixed CRS used to build local frames.
const ECEFCRS = "EPSG:4978"

// LocalFrame converts coordinates in some CRS into metres east, north and up
// of an origin. It is used to place geometry in scene formats that have no
// notion of a CRS.
type LocalFrame struct {
	toECEF Projector
	origin [3]float64 // ECEF metres
	lon    float64    // radians
	lat    float64    // radians
	Origin geometry.Vertex
}

// NewLocalFrame builds a frame whose origin is v, given in crs. factory
// builds the crs -> ECEF transformation.
func NewLocalFrame(factory Factory, crs string, v geometry.Vertex) (*LocalFrame, error) {
	toECEF, err := factory(crs, ECEFCRS)
	if err != nil {
		return nil, err
	}
	o, err := toECEF.Forward(geometry.V3(v.X(), v.Y(), v.Z()))
	if err != nil {
		toECEF.Close()
		return nil, fmt.Errorf("local frame origin: %w", err)
	}
	lon, lat := ecefToGeodetic(o.X(), o.Y(), o.Z())
	return &LocalFrame{
		toECEF: toECEF,
		origin: [3]float64{o.X(), o.Y(), o.Z()},
		lon:    lon,
		lat:    lat,
		Origin: v,
	}, nil
}

// ENU returns v as east, north, up metres from the frame origin.
func (f *LocalFrame) ENU(v geometry.Vertex) (e, n, u float64, err error) {
	p, err := f.toECEF.Forward(geometry.V3(v.X(), v.Y(), v.Z()))
	if err != nil {
		return 0, 0, 0, err
	}
	dx, dy, dz := p.X()-f.origin[0], p.Y()-f.origin[1], p.Z()-f.origin[2]
	sinLon, cosLon := math.Sincos(f.lon)
	sinLat, cosLat := math.Sincos(f.lat)
	e = -sinLon*dx + cosLon*dy
	n = -sinLat*cosLon*dx - sinLat*sinLon*dy + cosLat*dz
	u = cosLat*cosLon*dx + cosLat*sinLon*dy + sinLat*dz
	return e, n, u, nil
}

// OriginLonLat returns the frame origin as geodetic degrees.
func (f *LocalFrame) OriginLonLat() (lon, lat float64) {
	return f.lon * 180 / math.Pi, f.lat * 180 / math.Pi
}

// Close releases the ECEF projector.
func (f *LocalFrame) Close() error {
	return f.toECEF.Close()
}

// ecefToGeodetic converts ECEF metres to geodetic longitude and latitude in
// radians (Bowring's method, sub-millimetre near the surface).
func ecefToGeodetic(x, y, z float64) (lon, lat float64) {
	b := wgs84A * (1 - wgs84F)
	ep2 := (wgs84A*wgs84A - b*b) / (b * b)
	p := math.Hypot(x, y)
	theta := math.Atan2(z*wgs84A, p*b)
	sinT, cosT := math.Sincos(theta)
	lon = math.Atan2(y, x)
	lat = math.Atan2(z+ep2*b*sinT*sinT*sinT, p-wgs84E2*wgs84A*cosT*cosT*cosT)
	return lon, lat
}
