// Package metadata holds the durable per-project metadata record that the
// validation wizard writes and every processing run reads.
//
// The record is the single durable copy of resolved drawing metadata: source
// CRS, target CRS, rotation-to-north, depth convention, depth answers and
// asset-type overrides. Runs read a snapshot at start and carry its
// [Record.Version]; writes go through [Store.Update], which compares the
// version and fails with STALE_METADATA when another writer got there first.
//
// # Backends
//
//   - [MemoryStore]: in-process, for tests and the HTTP server's dev mode
//   - [FileStore]: one JSON file per project, for CLI usage
//   - redisstore.Store: Redis with WATCH/MULTI
//   - mongostore.Store: MongoDB with a version-filtered update
//
// # Usage
//
//	rec, err := store.Get(ctx, "site-42")
//	if err != nil {
//	    return err
//	}
//	rec, err = store.Update(ctx, "site-42", rec.Version, metadata.Patch{
//	    SourceCRS: ptr("EPSG:2263"),
//	    Rotation:  ptr(15.0),
//	}.Apply)
//	if errors.Is(err, errors.ErrCodeStaleMetadata) {
//	    // refetch and retry
//	}
package metadata

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/geometry"
)

// Record is the metadata for one project. Nil pointers and empty strings mean
// "not provided"; a Rotation of 0 is a real answer.
type Record struct {
	ProjectID       string                   `json:"project_id" bson:"_id"`
	SourceCRS       string                   `json:"source_crs,omitempty" bson:"source_crs,omitempty"`
	TargetCRS       string                   `json:"target_crs,omitempty" bson:"target_crs,omitempty"`
	Rotation        *float64                 `json:"rotation,omitempty" bson:"rotation,omitempty"`
	DepthConvention geometry.DepthConvention `json:"depth_convention,omitempty" bson:"depth_convention,omitempty"`

	// Depth answers, most specific first: per handle, per asset type, default.
	// Values are depths below grade (relative-depth) or elevations
	// (absolute-elevation), in drawing units.
	DefaultDepth     *float64           `json:"default_depth,omitempty" bson:"default_depth,omitempty"`
	DepthByAssetType map[string]float64 `json:"depth_by_asset_type,omitempty" bson:"depth_by_asset_type,omitempty"`
	DepthByHandle    map[string]float64 `json:"depth_by_handle,omitempty" bson:"depth_by_handle,omitempty"`

	// Classification overrides written by the wizard.
	AssetTypeByHandle map[string]string `json:"asset_type_by_handle,omitempty" bson:"asset_type_by_handle,omitempty"`
	AssetTypeByLayer  map[string]string `json:"asset_type_by_layer,omitempty" bson:"asset_type_by_layer,omitempty"`

	Version   int64     `json:"version" bson:"version"`
	UpdatedAt time.Time `json:"updated_at,omitempty" bson:"updated_at,omitempty"`
}

// New returns an empty record at version 0.
func New(projectID string) *Record {
	return &Record{ProjectID: projectID}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Rotation = clonePtr(r.Rotation)
	out.DefaultDepth = clonePtr(r.DefaultDepth)
	out.DepthByAssetType = cloneMap(r.DepthByAssetType)
	out.DepthByHandle = cloneMap(r.DepthByHandle)
	out.AssetTypeByHandle = cloneMap(r.AssetTypeByHandle)
	out.AssetTypeByLayer = cloneMap(r.AssetTypeByLayer)
	return &out
}

// HasDepthAnswers reports whether any depth value was provided.
func (r *Record) HasDepthAnswers() bool {
	return r.DefaultDepth != nil || len(r.DepthByAssetType) > 0 || len(r.DepthByHandle) > 0
}

// DepthFor returns the depth answer for an entity, checking the handle, then
// the asset type, then the default.
func (r *Record) DepthFor(handle, assetType string) (float64, bool) {
	if d, ok := r.DepthByHandle[handle]; ok {
		return d, true
	}
	if assetType != "" {
		if d, ok := r.DepthByAssetType[assetType]; ok {
			return d, true
		}
	}
	if r.DefaultDepth != nil {
		return *r.DefaultDepth, true
	}
	return 0, false
}

// AssetTypeOverride returns the wizard-assigned asset type for an entity.
// A handle override beats a layer override.
func (r *Record) AssetTypeOverride(handle, layer string) (string, bool) {
	if t, ok := r.AssetTypeByHandle[handle]; ok && t != "" {
		return t, true
	}
	if t, ok := r.AssetTypeByLayer[layer]; ok && t != "" {
		return t, true
	}
	return "", false
}

// Validate checks the values a wizard may have written.
func (r *Record) Validate() error {
	if r.SourceCRS != "" {
		if err := errors.ValidateCRS(r.SourceCRS); err != nil {
			return err
		}
	}
	if r.TargetCRS != "" {
		if err := errors.ValidateCRS(r.TargetCRS); err != nil {
			return err
		}
	}
	if r.Rotation != nil && !finite(*r.Rotation) {
		return errors.New(errors.ErrCodeInvalidInput, "rotation must be a finite number of degrees")
	}
	if !r.DepthConvention.Valid() {
		return errors.New(errors.ErrCodeInvalidInput, "unknown depth convention %q", r.DepthConvention)
	}
	if r.DefaultDepth != nil && !finite(*r.DefaultDepth) {
		return errors.New(errors.ErrCodeInvalidInput, "default depth must be finite")
	}
	for k, v := range r.DepthByAssetType {
		if !finite(v) {
			return errors.New(errors.ErrCodeInvalidInput, "depth for asset type %s must be finite", k)
		}
	}
	for k, v := range r.DepthByHandle {
		if !finite(v) {
			return errors.New(errors.ErrCodeInvalidInput, "depth for handle %s must be finite", k)
		}
	}
	return nil
}

// =============================================================================
// Store
// =============================================================================

// Store is the durable home of metadata records, keyed by project id.
type Store interface {
	// Get returns the record for a project. A project that was never
	// written yields an empty record at version 0, not an error.
	Get(ctx context.Context, projectID string) (*Record, error)

	// Update applies mutate to the current record if its version still equals
	// expectedVersion, then stores it with the version incremented. A
	// mismatch fails with STALE_METADATA and nothing is written.
	Update(ctx context.Context, projectID string, expectedVersion int64, mutate func(*Record) error) (*Record, error)

	// Close releases backend resources.
	Close() error
}

// Stale builds the STALE_METADATA error returned on a version mismatch.
func Stale(projectID string, expected, actual int64) error {
	return errors.New(errors.ErrCodeStaleMetadata,
		"metadata for project %s is at version %d, expected %d", projectID, actual, expected)
}

// Apply runs mutate on a copy of current and returns the next version of the
// record. Backends call it inside their compare-and-swap.
func Apply(projectID string, current *Record, expectedVersion int64, mutate func(*Record) error) (*Record, error) {
	if current == nil {
		current = New(projectID)
	}
	if current.Version != expectedVersion {
		return nil, Stale(projectID, expectedVersion, current.Version)
	}
	next := current.Clone()
	next.ProjectID = projectID
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// =============================================================================
// Patch
// =============================================================================

// Patch is a set of wizard answers. Nil fields leave the record unchanged;
// map entries are merged into the existing maps.
type Patch struct {
	SourceCRS         *string                   `json:"source_crs,omitempty"`
	TargetCRS         *string                   `json:"target_crs,omitempty"`
	Rotation          *float64                  `json:"rotation,omitempty"`
	DepthConvention   *geometry.DepthConvention `json:"depth_convention,omitempty"`
	DefaultDepth      *float64                  `json:"default_depth,omitempty"`
	DepthByAssetType  map[string]float64        `json:"depth_by_asset_type,omitempty"`
	DepthByHandle     map[string]float64        `json:"depth_by_handle,omitempty"`
	AssetTypeByHandle map[string]string         `json:"asset_type_by_handle,omitempty"`
	AssetTypeByLayer  map[string]string         `json:"asset_type_by_layer,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.SourceCRS == nil && p.TargetCRS == nil && p.Rotation == nil &&
		p.DepthConvention == nil && p.DefaultDepth == nil &&
		len(p.DepthByAssetType) == 0 && len(p.DepthByHandle) == 0 &&
		len(p.AssetTypeByHandle) == 0 && len(p.AssetTypeByLayer) == 0
}

// Apply merges the patch into r. Its signature matches the mutate argument of
// [Store.Update].
func (p Patch) Apply(r *Record) error {
	if p.SourceCRS != nil {
		r.SourceCRS = *p.SourceCRS
	}
	if p.TargetCRS != nil {
		r.TargetCRS = *p.TargetCRS
	}
	if p.Rotation != nil {
		r.Rotation = clonePtr(p.Rotation)
	}
	if p.DepthConvention != nil {
		r.DepthConvention = *p.DepthConvention
	}
	if p.DefaultDepth != nil {
		r.DefaultDepth = clonePtr(p.DefaultDepth)
	}
	r.DepthByAssetType = mergeMap(r.DepthByAssetType, p.DepthByAssetType)
	r.DepthByHandle = mergeMap(r.DepthByHandle, p.DepthByHandle)
	r.AssetTypeByHandle = mergeMap(r.AssetTypeByHandle, p.AssetTypeByHandle)
	r.AssetTypeByLayer = mergeMap(r.AssetTypeByLayer, p.AssetTypeByLayer)
	return nil
}

// =============================================================================
// Change scope
// =============================================================================

// Change describes what differs between two record versions.
type Change struct {
	// Drawing is true when a drawing-level field changed (CRS, rotation,
	// depth convention, default depth). Every artifact is affected.
	Drawing bool

	// Handles, AssetTypes and Layers name the entity-level keys whose
	// answers changed, sorted.
	Handles    []string
	AssetTypes []string
	Layers     []string
}

// None reports whether nothing changed.
func (c Change) None() bool {
	return !c.Drawing && len(c.Handles) == 0 && len(c.AssetTypes) == 0 && len(c.Layers) == 0
}

// Diff computes the change scope from prev to next. A nil prev is treated as
// an empty record.
func Diff(prev, next *Record) Change {
	if prev == nil {
		prev = &Record{}
	}
	if next == nil {
		next = &Record{}
	}
	var c Change
	c.Drawing = prev.SourceCRS != next.SourceCRS ||
		prev.TargetCRS != next.TargetCRS ||
		!equalPtr(prev.Rotation, next.Rotation) ||
		prev.DepthConvention != next.DepthConvention ||
		!equalPtr(prev.DefaultDepth, next.DefaultDepth)

	c.Handles = union(diffKeys(prev.DepthByHandle, next.DepthByHandle), diffKeys(prev.AssetTypeByHandle, next.AssetTypeByHandle))
	c.AssetTypes = diffKeys(prev.DepthByAssetType, next.DepthByAssetType)
	c.Layers = diffKeys(prev.AssetTypeByLayer, next.AssetTypeByLayer)
	return c
}

func diffKeys[V comparable](a, b map[string]V) []string {
	var keys []string
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			keys = append(keys, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func equalPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return nil
	}
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func mergeMap[V any](dst, src map[string]V) map[string]V {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]V, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
