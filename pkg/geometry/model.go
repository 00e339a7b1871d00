package geometry

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pipevision/pipevision/pkg/errors"
)

// DepthConvention states how Z values relate to the ground.
type DepthConvention string

// Depth conventions. The empty value means the convention is unknown.
const (
	DepthAbsoluteElevation DepthConvention = "absolute-elevation"
	DepthRelative          DepthConvention = "relative-depth"
	DepthNone              DepthConvention = "none"
)

// Valid reports whether d is a known convention. The empty value is valid
// and means "unset".
func (d DepthConvention) Valid() bool {
	switch d {
	case "", DepthAbsoluteElevation, DepthRelative, DepthNone:
		return true
	}
	return false
}

// Units is the linear unit of drawing coordinates.
type Units string

// Drawing units, in the order of the DXF $INSUNITS codes 0..7.
const (
	UnitsUnitless    Units = "unitless"
	UnitsInches      Units = "inches"
	UnitsFeet        Units = "feet"
	UnitsMiles       Units = "miles"
	UnitsMillimeters Units = "millimeters"
	UnitsCentimeters Units = "centimeters"
	UnitsMeters      Units = "meters"
	UnitsKilometers  Units = "kilometers"
	UnitsUnknown     Units = "unknown"

	// UnitsCRS marks a resolved model whose coordinates are in the native
	// units of its target CRS.
	UnitsCRS Units = "crs"
)

var insUnits = []Units{
	UnitsUnitless, UnitsInches, UnitsFeet, UnitsMiles,
	UnitsMillimeters, UnitsCentimeters, UnitsMeters, UnitsKilometers,
}

// UnitsFromINSUNITS maps a DXF $INSUNITS header code to Units.
func UnitsFromINSUNITS(code int) Units {
	if code < 0 || code >= len(insUnits) {
		return UnitsUnknown
	}
	return insUnits[code]
}

// MetresPerUnit returns the length of one unit in metres. Unitless, unknown
// and CRS units count as metres.
func (u Units) MetresPerUnit() float64 {
	switch u {
	case UnitsInches:
		return 0.0254
	case UnitsFeet:
		return 0.3048
	case UnitsMiles:
		return 1609.344
	case UnitsMillimeters:
		return 0.001
	case UnitsCentimeters:
		return 0.01
	case UnitsKilometers:
		return 1000
	}
	return 1
}

// CRSHintKeys are the entity attribute keys that may carry a CRS embedded in
// the drawing, checked in this order.
var CRSHintKeys = []string{"crs", "$PROJCRS", "$COORDINATE_SYSTEM", "geodata.crs"}

// NorthArrowBlocks are block names that mark a north arrow insert. A point
// entity whose "block" attribute contains one of them may carry a "rotation"
// attribute in degrees.
var NorthArrowBlocks = []string{"NORTH", "NORTHARROW", "N_ARROW", "NORTH_ARROW"}

// Bounds is the 2D extent of a model.
type Bounds struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Model owns an ordered sequence of entities and the drawing-level metadata.
type Model struct {
	Entities  []Entity        `json:"entities" bson:"entities"`
	Units     Units           `json:"units,omitempty" bson:"units,omitempty"`
	SourceCRS string          `json:"source_crs,omitempty" bson:"source_crs,omitempty"`
	TargetCRS string          `json:"target_crs,omitempty" bson:"target_crs,omitempty"`
	Rotation  *float64        `json:"rotation,omitempty" bson:"rotation,omitempty"` // degrees
	Depth     DepthConvention `json:"depth,omitempty" bson:"depth,omitempty"`

	// Georeferenced is set by the resolver once every vertex has been rotated
	// and projected into TargetCRS.
	Georeferenced bool `json:"georeferenced,omitempty" bson:"georeferenced,omitempty"`
}

// NewModel ingests entities into a model. Malformed entities and duplicate
// handles are skipped and reported as warnings; the rest are deep-copied so
// that later changes to the input cannot leak into the model.
func NewModel(entities []Entity, units Units) (*Model, []errors.Warning) {
	if units == "" {
		units = UnitsUnknown
	}
	m := &Model{Units: units, Entities: make([]Entity, 0, len(entities))}
	seen := make(map[string]bool, len(entities))
	var warnings []errors.Warning

	for _, e := range entities {
		if err := e.Validate(); err != nil {
			warnings = append(warnings, errors.Warning{
				Code:    errors.ErrCodeMalformedEntity,
				Handle:  e.Handle,
				Message: errors.UserMessage(err),
			})
			continue
		}
		if seen[e.Handle] {
			warnings = append(warnings, errors.Warn(errors.ErrCodeMalformedEntity, e.Handle, "duplicate handle %s", e.Handle))
			continue
		}
		seen[e.Handle] = true
		m.Entities = append(m.Entities, e.Clone())
	}
	return m, warnings
}

// Len returns the number of entities.
func (m *Model) Len() int { return len(m.Entities) }

// Entity returns the entity with the given handle.
func (m *Model) Entity(handle string) (Entity, bool) {
	for _, e := range m.Entities {
		if e.Handle == handle {
			return e, true
		}
	}
	return Entity{}, false
}

// Handles returns entity handles in ingestion order.
func (m *Model) Handles() []string {
	out := make([]string, len(m.Entities))
	for i, e := range m.Entities {
		out[i] = e.Handle
	}
	return out
}

// Dimensionality returns 2 or 3 when all entities agree, 0 otherwise.
func (m *Model) Dimensionality() int {
	d := 0
	for _, e := range m.Entities {
		ed := e.Dimension()
		if d == 0 {
			d = ed
		} else if ed != d {
			return 0
		}
	}
	return d
}

// CRSHint returns the first CRS found in entity attributes, in ingestion
// order, or "" when the drawing carries none.
func (m *Model) CRSHint() string {
	for _, e := range m.Entities {
		for _, key := range CRSHintKeys {
			if v := strings.TrimSpace(e.Attributes[key]); v != "" {
				return v
			}
		}
	}
	return ""
}

// RotationHint returns the rotation of the first north arrow found in the
// drawing. It is only ever a suggestion for the wizard: rotation must still be
// confirmed in the metadata record.
func (m *Model) RotationHint() (float64, bool) {
	for _, e := range m.Entities {
		block := strings.ToUpper(e.Attributes["block"])
		if block == "" {
			continue
		}
		for _, name := range NorthArrowBlocks {
			if !strings.Contains(block, name) {
				continue
			}
			if deg, err := strconv.ParseFloat(strings.TrimSpace(e.Attributes["rotation"]), 64); err == nil && !math.IsNaN(deg) && !math.IsInf(deg, 0) {
				return deg, true
			}
		}
	}
	return 0, false
}

// Bounds computes the 2D extent of all vertices. ok is false for an empty model.
func (m *Model) Bounds() (b Bounds, ok bool) {
	b = Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, e := range m.Entities {
		for _, v := range e.Vertices {
			b.MinX = math.Min(b.MinX, v.X())
			b.MinY = math.Min(b.MinY, v.Y())
			b.MaxX = math.Max(b.MaxX, v.X())
			b.MaxY = math.Max(b.MaxY, v.Y())
			ok = true
		}
	}
	if !ok {
		return Bounds{}, false
	}
	return b, true
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	out := *m
	out.Entities = make([]Entity, len(m.Entities))
	for i, e := range m.Entities {
		out.Entities[i] = e.Clone()
	}
	if m.Rotation != nil {
		r := *m.Rotation
		out.Rotation = &r
	}
	return &out
}

// Subset returns a shallow model view holding the entities keep accepts, in
// ingestion order. Drawing-level fields are copied.
func (m *Model) Subset(keep func(Entity) bool) *Model {
	out := *m
	out.Entities = nil
	for _, e := range m.Entities {
		if keep(e) {
			out.Entities = append(out.Entities, e)
		}
	}
	return &out
}

// Marshal encodes the model canonically.
func Marshal(m *Model) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal model: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a model produced by [Marshal].
func Unmarshal(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal model: %w", err)
	}
	return &m, nil
}

// Float returns a pointer to f, for populating nullable fields.
func Float(f float64) *float64 { return &f }
