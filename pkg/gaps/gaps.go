// Package gaps detects the metadata a drawing still needs before its
// geometry can be exported authoritatively.
//
// [Detect] inspects a model, the project's metadata record and (once
// available) the classification, and returns an ordered list of [Gap]
// prompts for the validation wizard. An empty list is the only signal that a
// model is export-ready.
//
// Ordering is fixed: the drawing-level CRS gap, then the drawing-level
// rotation gap, then entity-level gaps in entity ingestion order, with an
// entity's depth gap before its classification gap.
package gaps

import (
	"fmt"
	"strings"

	"github.com/pipevision/pipevision/pkg/classify"
	"github.com/pipevision/pipevision/pkg/geometry"
	"github.com/pipevision/pipevision/pkg/metadata"
)

// Kind identifies what is missing.
type Kind string

// Gap kinds.
const (
	MissingCRS      Kind = "missing-crs"
	MissingRotation Kind = "missing-rotation"
	MissingDepth    Kind = "missing-depth"
	Unclassified    Kind = "unclassified-asset"
)

// Stage names the pipeline step a gap blocks.
type Stage string

// Stages a gap may be required before.
const (
	BeforeExport         Stage = "export"
	BeforeClassification Stage = "classification"
)

// Gap is a single missing or ambiguous field. Handles is empty for
// drawing-level gaps.
type Gap struct {
	Kind           Kind     `json:"kind" bson:"kind"`
	Handles        []string `json:"handles" bson:"handles"`
	Prompt         string   `json:"prompt" bson:"prompt"`
	RequiredBefore Stage    `json:"required_before" bson:"required_before"`
}

// DrawingLevel reports whether the gap applies to the whole drawing.
func (g Gap) DrawingLevel() bool {
	return len(g.Handles) == 0
}

// String renders the gap for logs.
func (g Gap) String() string {
	if g.DrawingLevel() {
		return string(g.Kind)
	}
	return fmt.Sprintf("%s [%s]", g.Kind, strings.Join(g.Handles, ","))
}

// CRS returns the drawing-level missing-crs gap with the given prompt.
func CRS(prompt string) Gap {
	return Gap{Kind: MissingCRS, Handles: []string{}, Prompt: prompt, RequiredBefore: BeforeExport}
}

// Rotation returns the drawing-level missing-rotation gap with the given prompt.
func Rotation(prompt string) Gap {
	return Gap{Kind: MissingRotation, Handles: []string{}, Prompt: prompt, RequiredBefore: BeforeExport}
}

// Depth returns the missing-depth gap for one entity.
func Depth(e geometry.Entity, assetType string) Gap {
	subject := fmt.Sprintf("entity %s on layer %q", e.Handle, e.Layer)
	if assetType != classify.Unclassified {
		subject = fmt.Sprintf("%s entity %s on layer %q", assetType, e.Handle, e.Layer)
	}
	return Gap{
		Kind:           MissingDepth,
		Handles:        []string{e.Handle},
		Prompt:         fmt.Sprintf("Enter the depth of %s, or a depth for all %s assets.", subject, assetType),
		RequiredBefore: BeforeExport,
	}
}

// Unclassifiable returns the unclassified-asset gap for one entity.
func Unclassifiable(e geometry.Entity) Gap {
	return Gap{
		Kind:           Unclassified,
		Handles:        []string{e.Handle},
		Prompt:         fmt.Sprintf("Choose an asset type for entity %s on layer %q.", e.Handle, e.Layer),
		RequiredBefore: BeforeClassification,
	}
}

// Detect returns the ordered gap list for a model. rec may be nil, in which
// case only the model's own fields are consulted. classes may be nil before
// classification has run, in which case no unclassified-asset gaps are
// produced.
func Detect(m *geometry.Model, rec *metadata.Record, classes classify.Results) []Gap {
	out := []Gap{}
	eff := metadata.Resolve(m, rec)

	if eff.SourceCRS == "" {
		out = append(out, CRS(crsPrompt(m)))
	}
	if eff.Rotation == nil {
		out = append(out, Rotation(rotationPrompt(m)))
	}

	needDepth := !m.Georeferenced && eff.DepthConvention != geometry.DepthNone
	for _, e := range m.Entities {
		assetType := classes.AssetType(e.Handle)
		if needDepth && !e.Is3D() && !depthAnswered(rec, e.Handle, assetType) {
			out = append(out, Depth(e, assetType))
		}
		if classes != nil && !classes.Get(e.Handle).Classified() {
			out = append(out, Unclassifiable(e))
		}
	}
	return out
}

func depthAnswered(rec *metadata.Record, handle, assetType string) bool {
	if rec == nil {
		return false
	}
	_, ok := rec.DepthFor(handle, assetType)
	return ok
}

func crsPrompt(m *geometry.Model) string {
	p := "Select the coordinate reference system the drawing was made in (for example EPSG:2263)."
	if m.Units != "" && m.Units != geometry.UnitsUnknown && m.Units != geometry.UnitsUnitless {
		p += fmt.Sprintf(" Drawing units are %s.", m.Units)
	}
	return p
}

func rotationPrompt(m *geometry.Model) string {
	p := "Enter the drawing's rotation to north in degrees (0 if the drawing is already north-up)."
	if deg, ok := m.RotationHint(); ok {
		p += fmt.Sprintf(" A north arrow in the drawing suggests %g°.", deg)
	}
	return p
}

// =============================================================================
// Predicates
// =============================================================================

// Ready reports whether the list signals an export-ready model.
func Ready(gs []Gap) bool {
	return len(gs) == 0
}

// DrawingLevel returns the drawing-level gaps in gs.
func DrawingLevel(gs []Gap) []Gap {
	var out []Gap
	for _, g := range gs {
		if g.DrawingLevel() {
			out = append(out, g)
		}
	}
	return out
}

// HasDrawingLevel reports whether m has any drawing-level gap. Exporters use
// it as their precondition.
func HasDrawingLevel(m *geometry.Model, rec *metadata.Record) bool {
	eff := metadata.Resolve(m, rec)
	return eff.SourceCRS == "" || eff.Rotation == nil
}

// Count tallies gaps by kind.
func Count(gs []Gap) map[Kind]int {
	out := make(map[Kind]int)
	for _, g := range gs {
		out[g.Kind]++
	}
	return out
}

// Filter returns the gaps of the given kind.
func Filter(gs []Gap, kind Kind) []Gap {
	var out []Gap
	for _, g := range gs {
		if g.Kind == kind {
			out = append(out, g)
		}
	}
	return out
}
