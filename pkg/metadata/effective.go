package metadata

import "github.com/pipevision/pipevision/pkg/geometry"

// Origin says where an effective value came from.
type Origin string

// Value origins, in precedence order.
const (
	OriginRecord  Origin = "metadata"
	OriginModel   Origin = "model"
	OriginDrawing Origin = "drawing"
	OriginNone    Origin = ""
)

// Effective is the drawing-level metadata a run actually uses after the
// record, the model's own fields and drawing hints are merged.
type Effective struct {
	SourceCRS       string
	SourceCRSOrigin Origin
	TargetCRS       string
	Rotation        *float64
	DepthConvention geometry.DepthConvention
}

// Resolve merges a record (which may be nil) with the model. The record wins
// over the model, and the model wins over attributes embedded in the drawing.
// With no convention set anywhere, the presence of depth answers implies
// relative depth.
func Resolve(m *geometry.Model, r *Record) Effective {
	var eff Effective
	switch {
	case r != nil && r.SourceCRS != "":
		eff.SourceCRS, eff.SourceCRSOrigin = r.SourceCRS, OriginRecord
	case m.SourceCRS != "":
		eff.SourceCRS, eff.SourceCRSOrigin = m.SourceCRS, OriginModel
	default:
		if hint := m.CRSHint(); hint != "" {
			eff.SourceCRS, eff.SourceCRSOrigin = hint, OriginDrawing
		}
	}

	eff.TargetCRS = m.TargetCRS
	if r != nil && r.TargetCRS != "" {
		eff.TargetCRS = r.TargetCRS
	}

	eff.Rotation = m.Rotation
	if r != nil && r.Rotation != nil {
		eff.Rotation = r.Rotation
	}

	eff.DepthConvention = m.Depth
	if r != nil && r.DepthConvention != "" {
		eff.DepthConvention = r.DepthConvention
	}
	if eff.DepthConvention == "" && r != nil && r.HasDepthAnswers() {
		eff.DepthConvention = geometry.DepthRelative
	}
	return eff
}
