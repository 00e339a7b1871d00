package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/pipevision/pipevision/pkg/cache"
	"github.com/pipevision/pipevision/pkg/classify"
	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/export"
	"github.com/pipevision/pipevision/pkg/gaps"
	"github.com/pipevision/pipevision/pkg/geometry"
	"github.com/pipevision/pipevision/pkg/georef"
	"github.com/pipevision/pipevision/pkg/metadata"
	"github.com/pipevision/pipevision/pkg/observability"
)

// Runner executes runs against a metadata store, caching resolutions and
// artifacts. It keeps no per-run state, so one Runner may serve many runs
// from different goroutines.
type Runner struct {
	Store    metadata.Store
	Cache    cache.Cache
	Keyer    cache.Keyer
	Resolver *georef.Resolver
	Logger   *log.Logger
}

// NewRunner creates a runner. A nil store is replaced by an in-memory store,
// a nil cache by NullCache (caching disabled) and a nil keyer by
// DefaultKeyer.
func NewRunner(store metadata.Store, c cache.Cache, keyer cache.Keyer, logger *log.Logger) *Runner {
	if store == nil {
		store = metadata.NewMemoryStore()
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Store:    store,
		Cache:    c,
		Keyer:    keyer,
		Resolver: georef.NewResolver("", logger),
		Logger:   logger,
	}
}

// Process ingests entities and resolves them in one call. This is the entry
// point for stateless callers: every call resumes from the persisted
// metadata.
func (r *Runner) Process(ctx context.Context, entities []geometry.Entity, opts Options) (*Run, error) {
	run, err := r.Ingest(ctx, entities, opts)
	if err != nil {
		return nil, err
	}
	if err := r.Resolve(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Ingest builds the geometry model and reads the metadata snapshot.
// Malformed entities are skipped with a warning.
func (r *Runner) Ingest(ctx context.Context, entities []geometry.Entity, opts Options) (*Run, error) {
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	rec, err := r.Store.Get(ctx, opts.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	m, warnings := geometry.NewModel(entities, opts.Units)
	data, err := geometry.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}

	run := &Run{
		ID:              uuid.NewString(),
		ProjectID:       opts.ProjectID,
		State:           StateIngested,
		StartedAt:       time.Now().UTC(),
		MetadataVersion: rec.Version,
		Ingested:        m,
		Gaps:            gaps.Detect(m, rec, nil),
		Warnings:        warnings,
		opts:            opts,
		modelHash:       cache.Hash(data),
		record:          rec,
		ingestWarnings:  warnings,
	}
	for _, w := range warnings {
		opts.Logger.Warn("entity skipped", "handle", w.Handle, "code", w.Code, "reason", w.Message)
	}
	opts.Logger.Info("ingested drawing",
		"project", run.ProjectID,
		"run", run.ID,
		"entities", m.Len(),
		"skipped", len(warnings),
		"metadata_version", rec.Version)
	return run, nil
}

// Resolve runs resolution and classification for the run's metadata
// snapshot. It fails with STALE_METADATA when the store has advanced past
// the snapshot; the caller should Refresh and retry. Resolving a Ready run
// whose snapshot is current is a no-op.
func (r *Runner) Resolve(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, err := r.Store.Get(ctx, run.ProjectID)
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}
	if current.Version != run.MetadataVersion {
		return metadata.Stale(run.ProjectID, run.MetadataVersion, current.Version)
	}
	if run.State == StateReady {
		return nil
	}
	if err := run.transition(StateResolving); err != nil {
		return err
	}

	hooks := observability.Pipeline()
	hooks.OnResolveStart(ctx, run.ProjectID, run.Ingested.Len())
	start := time.Now()
	err = r.resolve(ctx, run)
	hooks.OnResolveComplete(ctx, run.ProjectID, string(run.State), len(run.Gaps), time.Since(start), err)
	return err
}

func (r *Runner) resolve(ctx context.Context, run *Run) error {
	logger := run.opts.Logger
	rec := run.record

	classes := classify.ApplyOverrides(classify.Classify(run.Ingested, run.opts.Table), run.Ingested, rec)
	res, hit, err := r.resolution(ctx, run, classes)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	run.Classes = classes
	run.Warnings = append(append([]errors.Warning(nil), run.ingestWarnings...), res.Warnings...)
	for _, w := range res.Warnings {
		logger.Warn("entity skipped", "handle", w.Handle, "code", w.Code, "reason", w.Message)
	}

	if !res.Resolved() {
		run.Model = nil
		run.StateHash = ""
		run.Gaps = mergeGaps(res.Gaps, gaps.Detect(run.Ingested, rec, classes))
	} else {
		run.Model = res.Model
		run.Gaps = gaps.Detect(res.Model, rec, classes)
	}
	if len(run.Gaps) > 0 {
		logger.Info("awaiting metadata",
			"project", run.ProjectID,
			"gaps", len(run.Gaps),
			"drawing_level", len(gaps.DrawingLevel(run.Gaps)))
		return run.transition(StateAwaitingInput)
	}

	if err := run.transition(StateClassified); err != nil {
		return err
	}
	hash, err := stateHash(run.Model, run.Classes)
	if err != nil {
		return err
	}
	run.StateHash = hash
	if n := run.revalidate(); n > 0 {
		observability.Pipeline().OnInvalidate(ctx, run.ProjectID, false, n)
	}

	logger.Info("resolved drawing",
		"project", run.ProjectID,
		"entities", run.Model.Len(),
		"crs", run.Model.TargetCRS,
		"rotation", *run.Model.Rotation,
		"cached", hit)
	return run.transition(StateReady)
}

// cachedResolution is the cache encoding of a successful resolution.
type cachedResolution struct {
	Model    *geometry.Model  `json:"model"`
	Warnings []errors.Warning `json:"warnings,omitempty"`
}

// resolution returns the resolver's result, serving successful resolutions
// from the cache. Gap results are never cached.
func (r *Runner) resolution(ctx context.Context, run *Run, classes classify.Results) (*georef.Result, bool, error) {
	base := r.Resolver
	if base == nil {
		base = georef.NewResolver("", r.Logger)
	}
	resolver := *base
	if run.opts.TargetCRS != "" {
		resolver.TargetCRS = run.opts.TargetCRS
	}
	resolver.Logger = run.opts.Logger

	snapshot := run.record.Clone()
	snapshot.Version = 0
	snapshot.UpdatedAt = time.Time{}
	metaHash, err := cache.HashJSON(struct {
		Record  *metadata.Record `json:"record"`
		Classes classify.Results `json:"classes"`
	}{snapshot, classes})
	if err != nil {
		return nil, false, err
	}
	key := r.Keyer.ResolvedKey(run.modelHash, cache.ResolvedKeyOpts{TargetCRS: resolver.TargetCRS, MetadataHash: metaHash})

	if !run.opts.Refresh {
		if data, hit := r.cacheGet(ctx, key, "resolved"); hit {
			var cached cachedResolution
			if err := json.Unmarshal(data, &cached); err == nil && cached.Model != nil {
				return &georef.Result{Model: cached.Model, Warnings: cached.Warnings}, true, nil
			}
		}
	}

	res, err := resolver.Resolve(run.Ingested, run.record, classes)
	if err != nil {
		return nil, false, err
	}
	if res.Resolved() {
		if data, err := json.Marshal(cachedResolution{Model: res.Model, Warnings: res.Warnings}); err == nil {
			r.cacheSet(ctx, key, "resolved", data, cache.TTLResolved)
		}
	}
	return res, false, nil
}

// Refresh re-reads the persisted metadata and, when it changed, retires
// affected artifacts and resolves again. This is how a run leaves
// AwaitingInput after the wizard wrote answers elsewhere.
func (r *Runner) Refresh(ctx context.Context, run *Run) error {
	rec, err := r.Store.Get(ctx, run.ProjectID)
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}
	if err := r.adopt(ctx, run, rec); err != nil {
		return err
	}
	return r.Resolve(ctx, run)
}

// ApplyMetadata writes wizard answers against the run's snapshot version and
// resolves again. A concurrent writer makes it fail with STALE_METADATA and
// nothing is written.
func (r *Runner) ApplyMetadata(ctx context.Context, run *Run, patch metadata.Patch) error {
	next, err := r.Store.Update(ctx, run.ProjectID, run.MetadataVersion, patch.Apply)
	if err != nil {
		return err
	}
	run.opts.Logger.Info("metadata updated", "project", run.ProjectID, "version", next.Version)
	if err := r.adopt(ctx, run, next); err != nil {
		return err
	}
	return r.Resolve(ctx, run)
}

// adopt switches the run to a new metadata snapshot.
func (r *Runner) adopt(ctx context.Context, run *Run, next *metadata.Record) error {
	change := metadata.Diff(run.record, next)
	run.record = next.Clone()
	run.MetadataVersion = next.Version
	if change.None() {
		return nil
	}

	if n := run.invalidate(change); n > 0 {
		run.opts.Logger.Info("artifacts retired",
			"project", run.ProjectID,
			"drawing_level", change.Drawing,
			"artifacts", n)
		observability.Pipeline().OnInvalidate(ctx, run.ProjectID, change.Drawing, n)
	}
	if run.State == StateIngested {
		return nil
	}
	return run.transition(StateResolving)
}

// cachedArtifact is the cache encoding of an artifact.
type cachedArtifact struct {
	Artifact *export.Artifact `json:"artifact"`
	Data     []byte           `json:"data"`
}

// Export produces an artifact for a Ready run. Repeating a request against
// unchanged state returns the same artifact. A run that is not Ready fails
// with EXPORT_PRECONDITION_FAILED.
func (r *Runner) Export(ctx context.Context, run *Run, f export.Format, opts export.Options) (*export.Artifact, error) {
	if !run.Ready() {
		return nil, errors.New(errors.ErrCodeExportPrecondition,
			"project %s is %s with %d open gaps", run.ProjectID, run.State, len(run.Gaps))
	}
	keyOpts := ArtifactKeyOpts(f, opts)
	outKey, err := cache.HashJSON(keyOpts)
	if err != nil {
		return nil, err
	}
	if o := run.current(outKey); o != nil {
		run.Exports++
		return o.Artifact, nil
	}

	hooks := observability.Pipeline()
	hooks.OnExportStart(ctx, run.ProjectID, string(f))
	start := time.Now()

	key := r.Keyer.ArtifactKey(run.StateHash, keyOpts)
	art, hit := r.cachedArtifact(ctx, key)
	if !hit {
		art, err = export.Export(f, run.Model, run.Classes, opts)
		if err != nil {
			hooks.OnExportComplete(ctx, run.ProjectID, string(f), 0, time.Since(start), err)
			return nil, fmt.Errorf("export %s: %w", f, err)
		}
		if data, err := json.Marshal(cachedArtifact{Artifact: art, Data: art.Data}); err == nil {
			r.cacheSet(ctx, key, "artifact", data, cache.TTLArtifact)
		}
	}
	hooks.OnExportComplete(ctx, run.ProjectID, string(f), len(art.Data), time.Since(start), nil)

	run.outputs = append(run.outputs, &Output{
		Format:          f,
		Options:         opts,
		StateHash:       run.StateHash,
		MetadataVersion: run.MetadataVersion,
		Scope:           export.Scope(run.Model, run.Classes, opts),
		Artifact:        art,
		Current:         true,
		key:             outKey,
	})
	run.Exports++

	for _, w := range art.Warnings {
		run.opts.Logger.Warn("export warning", "format", f, "handle", w.Handle, "code", w.Code, "reason", w.Message)
	}
	run.opts.Logger.Info("exported",
		"project", run.ProjectID,
		"format", f,
		"entities", art.Entities,
		"bytes", len(art.Data),
		"checksum", art.Checksum[:12],
		"cached", hit)
	return art, nil
}

// cachedArtifact returns a cached artifact whose checksum still matches its
// bytes.
func (r *Runner) cachedArtifact(ctx context.Context, key string) (*export.Artifact, bool) {
	data, hit := r.cacheGet(ctx, key, "artifact")
	if !hit {
		return nil, false
	}
	var cached cachedArtifact
	if err := json.Unmarshal(data, &cached); err != nil || cached.Artifact == nil {
		return nil, false
	}
	if cache.Hash(cached.Data) != cached.Artifact.Checksum {
		return nil, false
	}
	cached.Artifact.Data = cached.Data
	return cached.Artifact, true
}

// cacheGet reads through the cache, retrying transient backend errors. Any
// remaining error counts as a miss.
func (r *Runner) cacheGet(ctx context.Context, key, keyType string) ([]byte, bool) {
	var data []byte
	var hit bool
	err := cache.RetryWithBackoff(ctx, func() error {
		var err error
		data, hit, err = r.Cache.Get(ctx, key)
		return err
	})
	if err != nil {
		r.Logger.Debug("cache read failed", "type", keyType, "err", err)
		hit = false
	}
	if hit {
		observability.Cache().OnCacheHit(ctx, keyType)
	} else {
		observability.Cache().OnCacheMiss(ctx, keyType)
	}
	return data, hit
}

func (r *Runner) cacheSet(ctx context.Context, key, keyType string, data []byte, ttl time.Duration) {
	err := cache.RetryWithBackoff(ctx, func() error {
		return r.Cache.Set(ctx, key, data, ttl)
	})
	if err != nil {
		r.Logger.Debug("cache write failed", "type", keyType, "err", err)
		return
	}
	observability.Cache().OnCacheSet(ctx, keyType, len(data))
}

// Close releases the cache and the metadata store.
func (r *Runner) Close() error {
	var first error
	if r.Cache != nil {
		first = r.Cache.Close()
	}
	if r.Store != nil {
		if err := r.Store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
