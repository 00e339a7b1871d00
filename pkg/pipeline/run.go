package pipeline

import (
	"fmt"
	"slices"
	"time"

	"github.com/pipevision/pipevision/pkg/classify"
	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/export"
	"github.com/pipevision/pipevision/pkg/gaps"
	"github.com/pipevision/pipevision/pkg/geometry"
	"github.com/pipevision/pipevision/pkg/metadata"
)

// State is the position of a run in its state machine.
type State string

// Run states.
const (
	StateIngested      State = "ingested"
	StateResolving     State = "resolving"
	StateAwaitingInput State = "awaiting-input"
	StateClassified    State = "classified"
	StateReady         State = "ready"
)

var transitions = map[State][]State{
	StateIngested:      {StateResolving},
	StateResolving:     {StateAwaitingInput, StateClassified},
	StateAwaitingInput: {StateResolving},
	StateClassified:    {StateReady},
	StateReady:         {StateResolving},
}

// Run is one processing run over a drawing. A Run is owned by a single
// caller and is not safe for concurrent use.
type Run struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at"`

	// MetadataVersion is the version of the metadata snapshot the run's
	// current state was derived from.
	MetadataVersion int64 `json:"metadata_version"`

	// Exports counts artifacts served since the run last became Ready.
	Exports int `json:"exports"`

	// Ingested is the model as built from the parsed entities. Model is the
	// georeferenced model; it is nil until resolution succeeds.
	Ingested *geometry.Model `json:"-"`
	Model    *geometry.Model `json:"-"`

	Classes   classify.Results `json:"classification,omitempty"`
	Gaps      []gaps.Gap       `json:"gaps"`
	Warnings  []errors.Warning `json:"warnings,omitempty"`
	StateHash string           `json:"state_hash,omitempty"`

	opts           Options
	modelHash      string
	record         *metadata.Record
	ingestWarnings []errors.Warning
	outputs        []*Output
}

// Output is an artifact produced by a run together with the state it was
// derived from. Outputs are never modified after creation except for
// Current, which is cleared when a metadata edit retires them.
type Output struct {
	Format          export.Format    `json:"format"`
	Options         export.Options   `json:"options"`
	StateHash       string           `json:"state_hash"`
	MetadataVersion int64            `json:"metadata_version"`
	Scope           []string         `json:"scope"`
	Artifact        *export.Artifact `json:"artifact"`
	Current         bool             `json:"current"`

	key string
}

// Status renders the state, reporting a Ready run that has served exports
// as "exported(n)".
func (r *Run) Status() string {
	if r.State == StateReady && r.Exports > 0 {
		return fmt.Sprintf("exported(%d)", r.Exports)
	}
	return string(r.State)
}

// Ready reports whether exports may be requested. The gap list is the only
// predicate; the state merely records that it was evaluated.
func (r *Run) Ready() bool {
	return r.State == StateReady && gaps.Ready(r.Gaps)
}

// Record returns a copy of the metadata snapshot the run is using.
func (r *Run) Record() *metadata.Record {
	return r.record.Clone()
}

// Outputs returns every artifact the run produced, retired ones included,
// in production order.
func (r *Run) Outputs() []*Output {
	return slices.Clone(r.outputs)
}

func (r *Run) transition(to State) error {
	if r.State == to {
		return nil
	}
	if !slices.Contains(transitions[r.State], to) {
		return errors.New(errors.ErrCodeInvalidState, "run %s cannot move from %s to %s", r.ID, r.State, to)
	}
	r.State = to
	if to == StateReady {
		r.Exports = 0
	}
	return nil
}

func (r *Run) current(key string) *Output {
	for _, o := range r.outputs {
		if o.Current && o.key == key {
			return o
		}
	}
	return nil
}

// invalidate retires the current outputs a metadata change affects and
// returns how many it retired.
func (r *Run) invalidate(c metadata.Change) int {
	affected := make(map[string]bool, len(c.Handles))
	for _, h := range c.Handles {
		affected[h] = true
	}
	for _, e := range r.Ingested.Entities {
		if slices.Contains(c.Layers, e.Layer) || slices.Contains(c.AssetTypes, r.Classes.AssetType(e.Handle)) {
			affected[e.Handle] = true
		}
	}

	n := 0
	for _, o := range r.outputs {
		if !o.Current {
			continue
		}
		if c.Drawing || slices.ContainsFunc(o.Scope, func(h string) bool { return affected[h] }) {
			o.Current = false
			n++
		}
	}
	return n
}

// revalidate retires current outputs whose scope differs under the new
// classification, such as a filtered export that an override moved an
// entity into.
func (r *Run) revalidate() int {
	n := 0
	for _, o := range r.outputs {
		if o.Current && !slices.Equal(o.Scope, export.Scope(r.Model, r.Classes, o.Options)) {
			o.Current = false
			n++
		}
	}
	return n
}

// mergeGaps combines the resolver's drawing-level gaps, which include an
// unrecognised CRS, with the detector's entity-level gaps.
func mergeGaps(resolver, detected []gaps.Gap) []gaps.Gap {
	out := gaps.DrawingLevel(resolver)
	for _, g := range detected {
		if !g.DrawingLevel() {
			out = append(out, g)
		}
	}
	if out == nil {
		out = []gaps.Gap{}
	}
	return out
}
