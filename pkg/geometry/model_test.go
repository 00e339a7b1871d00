package geometry

import (
	"bytes"
	"testing"

	"github.com/pipevision/pipevision/pkg/errors"
)

func testEntities() []Entity {
	return []Entity{
		{Handle: "1A", Kind: KindPoint, Layer: "SS-MH", Vertices: []Vertex{V2(10, 20)}},
		{Handle: "1B", Kind: KindPolyline, Layer: "WTR-MAIN", Vertices: []Vertex{V2(0, 0), V2(30, 40)},
			Attributes: map[string]string{"$PROJCRS": "EPSG:2263"}},
		{Handle: "1C", Kind: KindPolygon, Layer: "GAS-VAULT", Vertices: []Vertex{V2(-5, -5), V2(5, -5), V2(5, 5)}},
	}
}

func TestNewModel(t *testing.T) {
	in := testEntities()
	m, warnings := NewModel(in, UnitsFeet)
	if len(warnings) != 0 {
		t.Fatalf("NewModel() warnings = %v", warnings)
	}
	if m.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", m.Len())
	}
	if m.Units != UnitsFeet {
		t.Errorf("Units = %s, want feet", m.Units)
	}

	in[0].Vertices[0][0] = 999
	if e, _ := m.Entity("1A"); e.Vertices[0][0] != 10 {
		t.Error("NewModel() did not copy input entities")
	}
}

func TestNewModelSkipsMalformed(t *testing.T) {
	in := append(testEntities(),
		Entity{Handle: "BAD", Kind: KindPolyline, Vertices: []Vertex{V2(0, 0)}},
		Entity{Handle: "1A", Kind: KindPoint, Vertices: []Vertex{V2(0, 0)}},
	)
	m, warnings := NewModel(in, "")

	if m.Len() != 3 {
		t.Errorf("Len() = %d, want 3", m.Len())
	}
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want 2", warnings)
	}
	for _, w := range warnings {
		if w.Code != errors.ErrCodeMalformedEntity {
			t.Errorf("warning code = %s, want MALFORMED_ENTITY", w.Code)
		}
	}
	if warnings[0].Handle != "BAD" || warnings[1].Handle != "1A" {
		t.Errorf("warning handles = %s, %s", warnings[0].Handle, warnings[1].Handle)
	}
	if m.Units != UnitsUnknown {
		t.Errorf("Units = %s, want unknown", m.Units)
	}
}

func TestModelDimensionality(t *testing.T) {
	m, _ := NewModel(testEntities(), UnitsFeet)
	if d := m.Dimensionality(); d != 2 {
		t.Errorf("Dimensionality() = %d, want 2", d)
	}

	mixed, _ := NewModel([]Entity{
		{Handle: "a", Kind: KindPoint, Vertices: []Vertex{V2(0, 0)}},
		{Handle: "b", Kind: KindPoint, Vertices: []Vertex{V3(0, 0, 1)}},
	}, UnitsFeet)
	if d := mixed.Dimensionality(); d != 0 {
		t.Errorf("Dimensionality() of mixed model = %d, want 0", d)
	}
}

func TestModelCRSHint(t *testing.T) {
	m, _ := NewModel(testEntities(), UnitsFeet)
	if got := m.CRSHint(); got != "EPSG:2263" {
		t.Errorf("CRSHint() = %q, want EPSG:2263", got)
	}

	bare, _ := NewModel(testEntities()[:1], UnitsFeet)
	if got := bare.CRSHint(); got != "" {
		t.Errorf("CRSHint() = %q, want empty", got)
	}
}

func TestModelBounds(t *testing.T) {
	m, _ := NewModel(testEntities(), UnitsFeet)
	b, ok := m.Bounds()
	if !ok {
		t.Fatal("Bounds() ok = false")
	}
	want := Bounds{MinX: -5, MinY: -5, MaxX: 30, MaxY: 40}
	if b != want {
		t.Errorf("Bounds() = %+v, want %+v", b, want)
	}

	empty, _ := NewModel(nil, UnitsFeet)
	if _, ok := empty.Bounds(); ok {
		t.Error("Bounds() on empty model should report ok = false")
	}
}

func TestModelCloneIsDeep(t *testing.T) {
	m, _ := NewModel(testEntities(), UnitsFeet)
	m.Rotation = Float(15)
	c := m.Clone()
	*c.Rotation = 30
	c.Entities[0].Vertices[0][1] = -1

	if *m.Rotation != 15 {
		t.Error("Clone shares rotation pointer")
	}
	if m.Entities[0].Vertices[0][1] != 20 {
		t.Error("Clone shares entity vertices")
	}
}

func TestModelSubset(t *testing.T) {
	m, _ := NewModel(testEntities(), UnitsFeet)
	m.SourceCRS = "EPSG:2263"
	sub := m.Subset(func(e Entity) bool { return e.Kind != KindPoint })
	if got := sub.Handles(); len(got) != 2 || got[0] != "1B" || got[1] != "1C" {
		t.Errorf("Subset().Handles() = %v", got)
	}
	if sub.SourceCRS != "EPSG:2263" {
		t.Error("Subset() dropped drawing-level fields")
	}
}

func TestMarshalDeterministic(t *testing.T) {
	m, _ := NewModel(testEntities(), UnitsFeet)
	a, err := Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Marshal(m.Clone())
	if !bytes.Equal(a, b) {
		t.Error("Marshal() is not deterministic")
	}

	back, err := Unmarshal(a)
	if err != nil {
		t.Fatal(err)
	}
	if back.Len() != m.Len() || back.Entities[1].Attributes["$PROJCRS"] != "EPSG:2263" {
		t.Errorf("Unmarshal() = %+v", back)
	}
}

func TestUnitsFromINSUNITS(t *testing.T) {
	tests := []struct {
		code int
		want Units
	}{
		{0, UnitsUnitless},
		{1, UnitsInches},
		{2, UnitsFeet},
		{4, UnitsMillimeters},
		{6, UnitsMeters},
		{7, UnitsKilometers},
		{8, UnitsUnknown},
		{-1, UnitsUnknown},
	}
	for _, tt := range tests {
		if got := UnitsFromINSUNITS(tt.code); got != tt.want {
			t.Errorf("UnitsFromINSUNITS(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestDepthConventionValid(t *testing.T) {
	for _, d := range []DepthConvention{"", DepthAbsoluteElevation, DepthRelative, DepthNone} {
		if !d.Valid() {
			t.Errorf("%q.Valid() = false", d)
		}
	}
	if DepthConvention("below-grade").Valid() {
		t.Error("unknown convention reported valid")
	}
}

func TestModelRotationHint(t *testing.T) {
	m, _ := NewModel([]Entity{
		{Handle: "1", Kind: KindPoint, Vertices: []Vertex{V2(0, 0)}, Attributes: map[string]string{"block": "TREE", "rotation": "45"}},
		{Handle: "2", Kind: KindPoint, Vertices: []Vertex{V2(0, 0)}, Attributes: map[string]string{"block": "North_Arrow_2", "rotation": "12.5"}},
	}, UnitsFeet)
	got, ok := m.RotationHint()
	if !ok || got != 12.5 {
		t.Errorf("RotationHint() = %v, %v, want 12.5", got, ok)
	}

	none, _ := NewModel(testEntities(), UnitsFeet)
	if _, ok := none.RotationHint(); ok {
		t.Error("RotationHint() found a north arrow in a drawing without one")
	}
}

func TestMetresPerUnit(t *testing.T) {
	tests := []struct {
		units Units
		want  float64
	}{
		{UnitsFeet, 0.3048},
		{UnitsInches, 0.0254},
		{UnitsMiles, 1609.344},
		{UnitsMillimeters, 0.001},
		{UnitsCentimeters, 0.01},
		{UnitsMeters, 1},
		{UnitsKilometers, 1000},
		{UnitsUnitless, 1},
		{UnitsUnknown, 1},
	}
	for _, tt := range tests {
		if got := tt.units.MetresPerUnit(); got != tt.want {
			t.Errorf("%s.MetresPerUnit() = %v, want %v", tt.units, got, tt.want)
		}
	}
}
