// Package pipeline sequences resolution, gap detection, classification and
// on-demand export for one drawing.
//
// Each processing run moves through an explicit state machine:
//
//	Ingested → Resolving → AwaitingInput ⇄ Resolving → Classified → Ready
//
// AwaitingInput is a returned state, not a blocking wait. A run is resumed
// by [Runner.Refresh] (re-read the persisted metadata) or
// [Runner.ApplyMetadata] (write wizard answers, then re-resolve). In Ready,
// [Runner.Export] may be called any number of times; each call produces or
// reuses an artifact without changing the run's state, and [Run.Status]
// reports "exported(n)".
//
// A run reads one metadata snapshot and remembers its version. Resolving
// against a store whose version has advanced fails with STALE_METADATA; the
// caller refreshes and retries. A metadata edit moves a Ready run back to
// Resolving and retires the artifacts it affects: a drawing-level edit
// retires all of them, an entity-level edit only those whose scope contains
// an affected entity. Retired artifacts stay in the run's history, tagged
// with the state hash they were derived from.
//
// # Usage
//
//	runner := pipeline.NewRunner(store, cache, nil, logger)
//	run, err := runner.Process(ctx, entities, pipeline.Options{ProjectID: "site-42"})
//	if err != nil {
//	    return err
//	}
//	if run.State == pipeline.StateAwaitingInput {
//	    return showWizard(run.Gaps)
//	}
//	artifact, err := runner.Export(ctx, run, export.FormatGeoJSON, export.Options{})
package pipeline

import (
	"fmt"
	"io"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/pipevision/pipevision/pkg/cache"
	"github.com/pipevision/pipevision/pkg/classify"
	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/export"
	"github.com/pipevision/pipevision/pkg/geometry"
)

// =============================================================================
// Options
// =============================================================================

// Options configures one processing run. The rule table is loaded by the
// caller and fixed for the life of the run.
type Options struct {
	ProjectID string         `json:"project_id"`
	Units     geometry.Units `json:"units,omitempty"`

	// TargetCRS is used when the metadata record names none. Empty means
	// the Runner's resolver default.
	TargetCRS string `json:"target_crs,omitempty"`

	// Threshold overrides the rule table's confidence threshold when > 0.
	Threshold float64 `json:"threshold,omitempty"`

	// Refresh bypasses cached resolutions.
	Refresh bool `json:"refresh,omitempty"`

	Table  *classify.Table `json:"-"`
	Logger *log.Logger     `json:"-"`

	validated bool
}

// ValidateAndSetDefaults checks required fields and applies defaults. It is
// idempotent.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if err := errors.ValidateProjectID(o.ProjectID); err != nil {
		return err
	}
	if o.TargetCRS != "" {
		if err := errors.ValidateCRS(o.TargetCRS); err != nil {
			return err
		}
	}
	if o.Threshold < 0 || o.Threshold > 1 {
		return errors.New(errors.ErrCodeInvalidInput, "threshold %v outside [0,1]", o.Threshold)
	}
	if o.Units == "" {
		o.Units = geometry.UnitsUnknown
	}
	if o.Table == nil {
		o.Table = classify.DefaultTable()
	}
	if o.Threshold > 0 {
		o.Table = o.Table.WithThreshold(o.Threshold)
	}
	if err := o.Table.Validate(); err != nil {
		return err
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	o.validated = true
	return nil
}

// ArtifactKeyOpts returns the cache key options for an export. Equivalent
// option sets map to the same key.
func ArtifactKeyOpts(f export.Format, opts export.Options) cache.ArtifactKeyOpts {
	ns := opts.ExtrasNamespace
	if ns == "" {
		ns = export.DefaultExtrasNamespace
	}
	diameter := opts.DefaultDiameter
	if diameter == 0 {
		diameter = export.DefaultDiameter
	}
	assetTypes := slices.Clone(opts.AssetTypes)
	slices.Sort(assetTypes)
	assetTypes = slices.Compact(assetTypes)
	return cache.ArtifactKeyOpts{
		Format:            string(f),
		AssetTypes:        assetTypes,
		IncludeProperties: opts.IncludeProperties,
		Precision:         opts.Precision,
		ExtrasNamespace:   ns,
		DefaultDiameter:   diameter,
		Tubes:             opts.Tubes,
	}
}

// stateHash identifies a resolved, classified state. Artifacts are keyed by
// it.
func stateHash(m *geometry.Model, classes classify.Results) (string, error) {
	data, err := geometry.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode model: %w", err)
	}
	cls, err := classify.Marshal(classes)
	if err != nil {
		return "", fmt.Errorf("encode classification: %w", err)
	}
	return cache.Hash(append(append(data, '\n'), cls...)), nil
}
