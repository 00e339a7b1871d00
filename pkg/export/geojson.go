package export

import (
	"encoding/json"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/pipevision/pipevision/pkg/classify"
	"github.com/pipevision/pipevision/pkg/geometry"
)

// GeoJSONSchemaVersion is written to the collection metadata.
const GeoJSONSchemaVersion = "1.0"

// featureCollection is a GeoJSON FeatureCollection with a metadata foreign
// member.
type featureCollection struct {
	Type     string             `json:"type"`
	Metadata collectionMetadata `json:"metadata"`
	Features []*geojson.Feature `json:"features"`
}

type collectionMetadata struct {
	SchemaVersion string   `json:"schema_version"`
	CRS           string   `json:"crs"`
	SourceCRS     string   `json:"source_crs"`
	Rotation      float64  `json:"rotation"`
	FeatureCount  int      `json:"feature_count"`
	AssetTypes    []string `json:"asset_types,omitempty"`
}

// GeoJSON writes one Feature per entity. Points, polylines and polygons map
// to Point, LineString and Polygon; a mesh becomes a MultiPolygon with one
// triangle per face. Pipes carry their diameter in metres and material. Coordinates are [x, y, z] in target CRS order, which is
// [lon, lat, elevation] for geographic targets.
func GeoJSON(m *geometry.Model, classes classify.Results, opts Options) (*Artifact, error) {
	items, warnings, err := prepare(FormatGeoJSON, m, classes, &opts)
	if err != nil {
		return nil, err
	}

	fc := featureCollection{
		Type: "FeatureCollection",
		Metadata: collectionMetadata{
			SchemaVersion: GeoJSONSchemaVersion,
			CRS:           m.TargetCRS,
			SourceCRS:     m.SourceCRS,
			Rotation:      *m.Rotation,
			FeatureCount:  len(items),
			AssetTypes:    opts.AssetTypes,
		},
		Features: make([]*geojson.Feature, 0, len(items)),
	}
	for _, it := range items {
		g, err := geoJSONGeometry(it.Entity, opts.Precision)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", it.Handle, err)
		}
		props := map[string]any{
			"handle":     it.Handle,
			"kind":       string(it.Kind),
			"layer":      it.Layer,
			"asset_type": it.class.AssetType,
			"confidence": it.class.Confidence,
			"color":      classify.Color(it.class.AssetType),
		}
		if it.class.RuleID != "" {
			props["rule_id"] = it.class.RuleID
		}
		if d := pipeDiameter(it.Entity, opts.DefaultDiameter); d > 0 {
			props["diameter"] = d
			props["diameter_unit"] = "meters"
		}
		if mat := pipeMaterial(it.Entity); mat != "" {
			props["material"] = mat
		}
		if opts.IncludeProperties && len(it.Attributes) > 0 {
			props["attributes"] = it.Attributes
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         it.Handle,
			Geometry:   g,
			Properties: props,
		})
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("marshal geojson: %w", err)
	}
	return newArtifact(FormatGeoJSON, data, len(items), warnings), nil
}

func geoJSONGeometry(e geometry.Entity, precision int) (geom.T, error) {
	switch e.Kind {
	case geometry.KindPoint:
		return geom.NewPoint(geom.XYZ).SetCoords(coord(e.Vertices[0], precision))
	case geometry.KindPolyline:
		return geom.NewLineString(geom.XYZ).SetCoords(coords(e.Vertices, precision))
	case geometry.KindPolygon:
		return geom.NewPolygon(geom.XYZ).SetCoords([][]geom.Coord{coords(e.Ring(), precision)})
	case geometry.KindMesh:
		var polys [][][]geom.Coord
		for _, f := range e.Triangles() {
			ring := make([]geom.Coord, 0, len(f)+1)
			for _, idx := range f {
				ring = append(ring, coord(e.Vertices[idx], precision))
			}
			ring = append(ring, ring[0])
			polys = append(polys, [][]geom.Coord{ring})
		}
		return geom.NewMultiPolygon(geom.XYZ).SetCoords(polys)
	}
	return nil, fmt.Errorf("unknown kind %q", e.Kind)
}

func coord(v geometry.Vertex, precision int) geom.Coord {
	return geom.Coord{round(v.X(), precision), round(v.Y(), precision), round(v.Z(), precision)}
}

func coords(vs []geometry.Vertex, precision int) []geom.Coord {
	out := make([]geom.Coord, len(vs))
	for i, v := range vs {
		out[i] = coord(v, precision)
	}
	return out
}
