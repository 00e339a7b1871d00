package georef_test

import (
	"encoding/json"
	"testing"

	"github.com/pipevision/pipevision/pkg/classify"
	"github.com/pipevision/pipevision/pkg/export"
	"github.com/pipevision/pipevision/pkg/gaps"
	"github.com/pipevision/pipevision/pkg/geometry"
	"github.com/pipevision/pipevision/pkg/georef"
	"github.com/pipevision/pipevision/pkg/metadata"
)

// TestStatePlaneToGeoJSON resolves a Lower Manhattan drawing in NY Long
// Island state plane feet with PROJ and exports it.
func TestStatePlaneToGeoJSON(t *testing.T) {
	m, warnings := geometry.NewModel([]geometry.Entity{
		{Handle: "MH1", Kind: geometry.KindPoint, Layer: "SS-MH",
			Vertices: []geometry.Vertex{geometry.V3(981000, 198000, -8)}},
		{Handle: "W1", Kind: geometry.KindPolyline, Layer: "WTR-MAIN",
			Vertices: []geometry.Vertex{geometry.V3(981000, 198000, -5), geometry.V3(981400, 198250, -5.5), geometry.V3(981900, 198300, -6)}},
		{Handle: "V1", Kind: geometry.KindPolygon, Layer: "GAS-VAULT",
			Vertices: []geometry.Vertex{geometry.V3(981100, 198100, -3), geometry.V3(981120, 198100, -3), geometry.V3(981120, 198120, -3), geometry.V3(981100, 198120, -3)}},
	}, geometry.UnitsFeet)
	if len(warnings) != 0 {
		t.Fatalf("NewModel warnings = %v", warnings)
	}
	classes := classify.Classify(m, classify.DefaultTable())
	rotation := 15.0
	rec := &metadata.Record{SourceCRS: "EPSG:2263", Rotation: &rotation}

	if gs := gaps.Detect(m, rec, classes); len(gs) != 0 {
		t.Fatalf("drawing gaps = %v", gs)
	}
	res, err := georef.NewResolver("", nil).Resolve(m, rec, classes)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Resolved() || len(res.Warnings) != 0 {
		t.Fatalf("gaps = %v, warnings = %v", res.Gaps, res.Warnings)
	}
	if gs := gaps.Detect(res.Model, rec, classes); len(gs) != 0 {
		t.Errorf("resolved model gaps = %v", gs)
	}

	a, err := export.GeoJSON(res.Model, classes, export.Options{})
	if err != nil {
		t.Fatal(err)
	}
	var fc struct {
		Features []struct {
			ID       string `json:"id"`
			Geometry struct {
				Type        string          `json:"type"`
				Coordinates json.RawMessage `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(a.Data, &fc); err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != m.Len() || a.Entities != m.Len() {
		t.Fatalf("features = %d, want %d", len(fc.Features), m.Len())
	}

	for _, f := range fc.Features {
		var pts [][3]float64
		switch f.Geometry.Type {
		case "Point":
			var p [3]float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &p); err != nil {
				t.Fatal(err)
			}
			pts = [][3]float64{p}
		case "LineString":
			if err := json.Unmarshal(f.Geometry.Coordinates, &pts); err != nil {
				t.Fatal(err)
			}
		case "Polygon":
			var rings [][][3]float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &rings); err != nil {
				t.Fatal(err)
			}
			pts = rings[0]
		default:
			t.Fatalf("feature %s type = %s", f.ID, f.Geometry.Type)
		}
		for _, p := range pts {
			if p[0] < -75 || p[0] > -73 || p[1] < 40 || p[1] > 41 {
				t.Errorf("feature %s coordinate = %v, want lon in [-75,-73], lat in [40,41]", f.ID, p)
			}
			// Elevations leave as metres: -8 ft is about -2.4 m.
			if p[2] > 0 || p[2] < -5 {
				t.Errorf("feature %s elevation = %v m", f.ID, p[2])
			}
		}
	}
}
