package export

import (
	"bytes"
	"fmt"
	"image/color"
	"slices"
	"strings"

	"github.com/twpayne/go-kml/v3"

	"github.com/pipevision/pipevision/pkg/classify"
	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/geometry"
	"github.com/pipevision/pipevision/pkg/georef"
)

// KMLCRS is the CRS KML coordinates are written in.
const KMLCRS = "EPSG:4326"

// lonLatCRS lists identifiers whose axes are already WGS84 longitude and
// latitude after axis normalisation.
var lonLatCRS = []string{"EPSG:4326", "EPSG:4979", "OGC:CRS84", "CRS:84", "WGS84"}

// KML writes one Placemark per entity, styled through a shared style per
// asset type. Coordinates are written lon,lat,alt with absolute altitude;
// models in any other target CRS are transformed to [KMLCRS] first and fail
// with INVALID_CRS when no such transformation can be built. Meshes become a
// MultiGeometry of triangles.
func KML(m *geometry.Model, classes classify.Results, opts Options) (*Artifact, error) {
	items, warnings, err := prepare(FormatKML, m, classes, &opts)
	if err != nil {
		return nil, err
	}

	toLonLat, err := lonLatProjector(m.TargetCRS, opts.NewProjector)
	if err != nil {
		return nil, err
	}
	if toLonLat != nil {
		defer toLonLat.Close()
	}

	styles := make(map[string]*kml.SharedElement)
	var styleOrder []string
	var placemarks []kml.Element
	for _, it := range items {
		if toLonLat != nil {
			e, err := reproject(toLonLat, it.Entity)
			if err != nil {
				warnings = append(warnings, errors.Warn(errors.ErrCodeNonFiniteTransform, it.Handle,
					"excluded from kml: %s", errors.UserMessage(err)))
				continue
			}
			it.Entity = e
		}
		at := it.class.AssetType
		style, ok := styles[at]
		if !ok {
			style = assetStyle(at)
			styles[at] = style
			styleOrder = append(styleOrder, at)
		}
		placemarks = append(placemarks, kml.Placemark(
			kml.Name(it.Handle),
			kml.Description(placemarkDescription(it, opts.IncludeProperties)),
			kml.StyleURL(style.URL()),
			kmlGeometry(it.Entity, opts.Precision),
		))
	}

	children := []kml.Element{
		kml.Name(fmt.Sprintf("PipeVision export (%s)", m.TargetCRS)),
	}
	for _, at := range styleOrder {
		children = append(children, styles[at])
	}
	children = append(children, placemarks...)

	var buf bytes.Buffer
	if err := kml.KML(kml.Document(children...)).WriteIndent(&buf, "", "  "); err != nil {
		return nil, fmt.Errorf("write kml: %w", err)
	}
	return newArtifact(FormatKML, buf.Bytes(), len(placemarks), warnings), nil
}

// lonLatProjector returns the transformation from crs to [KMLCRS], or nil
// when crs already has longitude, latitude axes.
func lonLatProjector(crs string, factory georef.Factory) (georef.Projector, error) {
	if slices.Contains(lonLatCRS, strings.ToUpper(strings.TrimSpace(crs))) {
		return nil, nil
	}
	p, err := factory(crs, KMLCRS)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidCRS, err, "kml needs %s coordinates; cannot transform from %s", KMLCRS, crs)
	}
	return p, nil
}

// reproject returns a copy of e with every vertex passed through p.
func reproject(p georef.Projector, e geometry.Entity) (geometry.Entity, error) {
	vs := make([]geometry.Vertex, len(e.Vertices))
	for i, v := range e.Vertices {
		out, err := p.Forward(v)
		if err != nil {
			return e, err
		}
		vs[i] = out
	}
	e.Vertices = vs
	return e, nil
}

func assetStyle(assetType string) *kml.SharedElement {
	r, g, b := classify.RGB(assetType)
	line := color.RGBA{R: r, G: g, B: b, A: 0xff}
	fill := color.RGBA{R: r, G: g, B: b, A: 0x80}
	return kml.SharedStyle("style-"+assetType,
		kml.IconStyle(kml.Color(line)),
		kml.LineStyle(kml.Color(line), kml.Width(3)),
		kml.PolyStyle(kml.Color(fill)),
	)
}

func placemarkDescription(it item, withAttributes bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nhandle: %s\nconfidence: %s", describe(it), it.Handle, formatFloat(it.class.Confidence, 0))
	if withAttributes {
		for _, k := range sortedKeys(it.Attributes) {
			fmt.Fprintf(&b, "\n%s: %s", k, it.Attributes[k])
		}
	}
	return b.String()
}

func kmlGeometry(e geometry.Entity, precision int) kml.Element {
	abs := kml.AltitudeMode(kml.AltitudeModeAbsolute)
	switch e.Kind {
	case geometry.KindPoint:
		return kml.Point(abs, kml.Coordinates(kmlCoords(e.Vertices, precision)...))
	case geometry.KindPolyline:
		return kml.LineString(abs, kml.Coordinates(kmlCoords(e.Vertices, precision)...))
	case geometry.KindPolygon:
		return kmlPolygon(e.Ring(), precision)
	default:
		var tris []kml.Element
		for _, f := range e.Triangles() {
			ring := make([]geometry.Vertex, 0, len(f)+1)
			for _, idx := range f {
				ring = append(ring, e.Vertices[idx])
			}
			tris = append(tris, kmlPolygon(append(ring, ring[0]), precision))
		}
		return kml.MultiGeometry(tris...)
	}
}

func kmlPolygon(ring []geometry.Vertex, precision int) kml.Element {
	return kml.Polygon(
		kml.AltitudeMode(kml.AltitudeModeAbsolute),
		kml.OuterBoundaryIs(kml.LinearRing(kml.Coordinates(kmlCoords(ring, precision)...))),
	)
}

func kmlCoords(vs []geometry.Vertex, precision int) []kml.Coordinate {
	out := make([]kml.Coordinate, len(vs))
	for i, v := range vs {
		out[i] = kml.Coordinate{
			Lon: round(v.X(), precision),
			Lat: round(v.Y(), precision),
			Alt: round(v.Z(), precision),
		}
	}
	return out
}
