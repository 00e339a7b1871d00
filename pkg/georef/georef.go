// Package georef resolves drawing coordinates into a target CRS.
//
// A [Resolver] merges the project's metadata record with the model, reports
// any missing drawing-level field or per-entity depth as gaps, and when
// nothing is missing it lifts 2D entities to 3D, converts Z to metres, rotates every vertex about
// the drawing origin and projects it into the target CRS. Projection is a
// pure per-vertex function; an entity whose transform fails or produces a
// non-finite coordinate is dropped with a NON_FINITE_TRANSFORM warning and
// the run continues.
//
// Resolution is idempotent: resolving a model that is already georeferenced
// with the same source CRS, target CRS and rotation returns it unchanged.
package georef

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/pipevision/pipevision/pkg/classify"
	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/gaps"
	"github.com/pipevision/pipevision/pkg/geometry"
	"github.com/pipevision/pipevision/pkg/metadata"
)

// DefaultTargetCRS is WGS84 geographic (longitude, latitude).
const DefaultTargetCRS = "EPSG:4326"

// Resolver applies rotation and projection to models.
type Resolver struct {
	// TargetCRS is used when neither the record nor the model names one.
	TargetCRS string
	// NewProjector builds transformations. Defaults to PROJ.
	NewProjector Factory
	Logger       *log.Logger
}

// NewResolver creates a resolver with PROJ projection and the given default
// target CRS (EPSG:4326 when empty).
func NewResolver(targetCRS string, logger *log.Logger) *Resolver {
	r := &Resolver{TargetCRS: targetCRS, Logger: logger}
	r.setDefaults()
	return r
}

func (r *Resolver) setDefaults() {
	if r.TargetCRS == "" {
		r.TargetCRS = DefaultTargetCRS
	}
	if r.NewProjector == nil {
		r.NewProjector = NewProjProjector
	}
	if r.Logger == nil {
		r.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
}

// Result is the outcome of one resolution. Exactly one of Model and Gaps is
// meaningful: a non-empty gap list means no projection was attempted.
type Result struct {
	Model    *geometry.Model
	Gaps     []gaps.Gap
	Warnings []errors.Warning
}

// Resolved reports whether the result carries a georeferenced model.
func (r *Result) Resolved() bool {
	return r.Model != nil && len(r.Gaps) == 0
}

// Resolve georeferences m using rec (which may be nil). classes, when
// present, lets per-asset-type depth answers apply. The returned error is
// reserved for problems the wizard cannot fix, such as an invalid target CRS.
func (r *Resolver) Resolve(m *geometry.Model, rec *metadata.Record, classes classify.Results) (*Result, error) {
	r.setDefaults()
	eff := metadata.Resolve(m, rec)
	target := eff.TargetCRS
	if target == "" {
		target = r.TargetCRS
	}
	if err := errors.ValidateCRS(target); err != nil {
		return nil, err
	}

	if m.Georeferenced {
		if sameResolution(m, eff, target) {
			return &Result{Model: m}, nil
		}
		return nil, errors.New(errors.ErrCodeInvalidState,
			"model is already georeferenced as %s -> %s; resolve from the ingested model instead", m.SourceCRS, m.TargetCRS)
	}

	gs := withoutClassification(gaps.Detect(m, rec, classes))
	var projector Projector
	if eff.SourceCRS != "" {
		p, err := r.projector(eff.SourceCRS, target)
		if err != nil {
			if !errors.Is(err, errors.ErrCodeInvalidCRS) {
				return nil, err
			}
			r.Logger.Warn("source CRS rejected", "crs", eff.SourceCRS, "origin", eff.SourceCRSOrigin, "err", err)
			gs = append([]gaps.Gap{gaps.CRS(fmt.Sprintf(
				"The coordinate reference system %q (from %s) is not recognised. Select a valid one, for example EPSG:2263.",
				eff.SourceCRS, eff.SourceCRSOrigin))}, gs...)
		} else {
			projector = p
			defer projector.Close()
		}
	}
	if len(gs) > 0 {
		return &Result{Gaps: gs}, nil
	}

	rotation := NormalizeDegrees(*eff.Rotation)
	out := &geometry.Model{
		Entities:      make([]geometry.Entity, 0, m.Len()),
		Units:         geometry.UnitsCRS,
		SourceCRS:     eff.SourceCRS,
		TargetCRS:     target,
		Rotation:      &rotation,
		Depth:         eff.DepthConvention,
		Georeferenced: true,
	}
	res := &Result{Model: out}

	zScale := m.Units.MetresPerUnit()
	for _, e := range m.Entities {
		lifted := Lift(e, eff.DepthConvention, rec, classes.AssetType(e.Handle))
		if e.Is3D() {
			lifted = ScaleZ(e, zScale)
		}
		vs := make([]geometry.Vertex, len(lifted.Vertices))
		var failed error
		for i, v := range lifted.Vertices {
			p, err := projector.Forward(Rotate(v, rotation))
			if err == nil && !p.Finite() {
				err = errors.New(errors.ErrCodeNonFiniteTransform, "vertex %d is not finite after projection", i)
			}
			if err != nil {
				failed = err
				break
			}
			vs[i] = p
		}
		if failed != nil {
			w := errors.Warn(errors.ErrCodeNonFiniteTransform, e.Handle, "skipped: %s", errors.UserMessage(failed))
			r.Logger.Warn("entity not projected", "handle", e.Handle, "err", failed)
			res.Warnings = append(res.Warnings, w)
			continue
		}
		out.Entities = append(out.Entities, lifted.WithVertices(vs))
	}

	r.Logger.Debug("resolved geometry",
		"source", eff.SourceCRS,
		"target", target,
		"rotation", rotation,
		"entities", out.Len(),
		"skipped", len(res.Warnings))
	return res, nil
}

func (r *Resolver) projector(source, target string) (Projector, error) {
	if err := errors.ValidateCRS(source); err != nil {
		return nil, err
	}
	return r.NewProjector(source, target)
}

func sameResolution(m *geometry.Model, eff metadata.Effective, target string) bool {
	if eff.SourceCRS != m.SourceCRS || target != m.TargetCRS {
		return false
	}
	if eff.Rotation == nil || m.Rotation == nil {
		return eff.Rotation == m.Rotation
	}
	return NormalizeDegrees(*eff.Rotation) == *m.Rotation
}

func withoutClassification(gs []gaps.Gap) []gaps.Gap {
	out := gs[:0:0]
	for _, g := range gs {
		if g.Kind != gaps.Unclassified {
			out = append(out, g)
		}
	}
	return out
}

// ScaleZ returns e with every Z value multiplied by factor, which converts
// drawing-unit elevations to metres. X and Y stay in the source CRS.
func ScaleZ(e geometry.Entity, factor float64) geometry.Entity {
	if factor == 1 || !e.Is3D() {
		return e
	}
	vs := make([]geometry.Vertex, len(e.Vertices))
	for i, v := range e.Vertices {
		vs[i] = geometry.V3(v.X(), v.Y(), v.Z()*factor)
	}
	return e.WithVertices(vs)
}

// Lift returns e with 3D vertices. 3D entities are returned unchanged. For
// 2D entities the Z value comes from the depth convention:
//
//   - none: z = 0
//   - relative-depth: z = -depth (depth below grade)
//   - absolute-elevation: z = value
//
// Depth answers are metres, whatever the drawing units. The value is looked
// up in rec by handle, then asset type, then default.
// With no answer the entity is lifted to z = 0; callers detect missing depth
// before lifting.
func Lift(e geometry.Entity, conv geometry.DepthConvention, rec *metadata.Record, assetType string) geometry.Entity {
	if e.Is3D() {
		return e
	}
	z := 0.0
	if conv != geometry.DepthNone && rec != nil {
		if d, ok := rec.DepthFor(e.Handle, assetType); ok {
			z = d
			if conv != geometry.DepthAbsoluteElevation {
				z = -d
			}
		}
	}
	vs := make([]geometry.Vertex, len(e.Vertices))
	for i, v := range e.Vertices {
		vs[i] = geometry.V3(v.X(), v.Y(), z)
	}
	return e.WithVertices(vs)
}
