package pipeline

import (
	"context"
	"io"
	"slices"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

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

const project = "site-42"

func ptr[T any](v T) *T { return &v }

// fakeFactory maps drawing feet near the origin to degrees near lower
// Manhattan. EPSG:0 is rejected.
func fakeFactory(source, target string) (georef.Projector, error) {
	if source == "EPSG:0" {
		return nil, errors.New(errors.ErrCodeInvalidCRS, "unknown crs %s", source)
	}
	return georef.ProjectorFunc(func(v geometry.Vertex) (geometry.Vertex, error) {
		return geometry.V3(-74+v.X()*1e-6, 40.7+v.Y()*1e-6, v.Z()), nil
	}), nil
}

func newTestRunner(c cache.Cache) *Runner {
	r := NewRunner(metadata.NewMemoryStore(), c, nil, log.NewWithOptions(io.Discard, log.Options{}))
	r.Resolver.NewProjector = fakeFactory
	return r
}

func drawing() []geometry.Entity {
	return []geometry.Entity{
		{Handle: "P1", Kind: geometry.KindPoint, Layer: "SS-MH", Vertices: []geometry.Vertex{geometry.V2(100, 200)}},
		{Handle: "L1", Kind: geometry.KindPolyline, Layer: "WTR-MAIN", Vertices: []geometry.Vertex{geometry.V3(0, 0, -1.2), geometry.V3(50, 10, -1.3)}},
		{Handle: "G1", Kind: geometry.KindPolygon, Layer: "GAS-VAULT", Vertices: []geometry.Vertex{geometry.V2(10, 10), geometry.V2(20, 10), geometry.V2(20, 20)}},
		{Handle: "X1", Kind: geometry.KindPoint, Layer: "MISC", Vertices: []geometry.Vertex{geometry.V3(5, 5, -0.5)}},
	}
}

func fullAnswers() metadata.Patch {
	return metadata.Patch{
		SourceCRS:        ptr("EPSG:2263"),
		Rotation:         ptr(15.0),
		DefaultDepth:     ptr(1.5),
		AssetTypeByLayer: map[string]string{"MISC": classify.Telecom},
	}
}

func readyRun(t *testing.T, r *Runner) *Run {
	t.Helper()
	ctx := context.Background()
	run, err := r.Process(ctx, drawing(), Options{ProjectID: project, Units: geometry.UnitsFeet})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ApplyMetadata(ctx, run, fullAnswers()); err != nil {
		t.Fatal(err)
	}
	if run.State != StateReady {
		t.Fatalf("State = %s, want ready (gaps %v)", run.State, run.Gaps)
	}
	return run
}

func gapKinds(gs []gaps.Gap) []string {
	var out []string
	for _, g := range gs {
		out = append(out, g.String())
	}
	return out
}

func TestOptionsValidateAndSetDefaults(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid", Options{ProjectID: project}, false},
		{"missing project", Options{}, true},
		{"bad project", Options{ProjectID: "../etc"}, true},
		{"bad threshold", Options{ProjectID: project, Threshold: 1.5}, true},
		{"bad target", Options{ProjectID: project, TargetCRS: "wgs84"}, true},
		{"threshold override", Options{ProjectID: project, Threshold: 0.9}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.ValidateAndSetDefaults()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateAndSetDefaults() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tt.opts.Table == nil || tt.opts.Logger == nil || tt.opts.Units != geometry.UnitsUnknown {
				t.Error("defaults not applied")
			}
			if tt.opts.Threshold > 0 && tt.opts.Table.Threshold != tt.opts.Threshold {
				t.Errorf("Table.Threshold = %v, want %v", tt.opts.Table.Threshold, tt.opts.Threshold)
			}
			if err := tt.opts.ValidateAndSetDefaults(); err != nil {
				t.Errorf("second call: %v", err)
			}
		})
	}
}

func TestProcessAwaitingInput(t *testing.T) {
	ctx := context.Background()
	r := newTestRunner(nil)

	run, err := r.Process(ctx, drawing(), Options{ProjectID: project})
	if err != nil {
		t.Fatal(err)
	}
	if run.State != StateAwaitingInput || run.Ready() {
		t.Fatalf("State = %s, want awaiting-input", run.State)
	}
	want := []string{"missing-crs", "missing-rotation", "missing-depth [P1]", "missing-depth [G1]", "unclassified-asset [X1]"}
	if got := gapKinds(run.Gaps); !slices.Equal(got, want) {
		t.Errorf("Gaps = %v, want %v", got, want)
	}
	if run.Model != nil {
		t.Error("unresolved run should have no georeferenced model")
	}

	_, err = r.Export(ctx, run, export.FormatGeoJSON, export.Options{})
	if !errors.Is(err, errors.ErrCodeExportPrecondition) {
		t.Errorf("Export() error = %v, want EXPORT_PRECONDITION_FAILED", err)
	}
}

func TestIngestSkipsMalformed(t *testing.T) {
	r := newTestRunner(nil)
	es := append(drawing(), geometry.Entity{Handle: "BAD", Kind: geometry.KindPolyline, Layer: "SS", Vertices: []geometry.Vertex{geometry.V2(0, 0)}})

	run, err := r.Ingest(context.Background(), es, Options{ProjectID: project})
	if err != nil {
		t.Fatal(err)
	}
	if run.State != StateIngested || run.Ingested.Len() != 4 {
		t.Errorf("State = %s, entities = %d", run.State, run.Ingested.Len())
	}
	if len(run.Warnings) != 1 || run.Warnings[0].Code != errors.ErrCodeMalformedEntity {
		t.Errorf("Warnings = %v", run.Warnings)
	}
	if len(run.Gaps) == 0 {
		t.Error("ingestion should report the gaps known so far")
	}
}

func TestPartialAnswersLeaveRemainingGaps(t *testing.T) {
	ctx := context.Background()
	r := newTestRunner(nil)
	run, err := r.Process(ctx, drawing(), Options{ProjectID: project})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ApplyMetadata(ctx, run, metadata.Patch{SourceCRS: ptr("EPSG:2263")}); err != nil {
		t.Fatal(err)
	}
	want := []string{"missing-rotation", "missing-depth [P1]", "missing-depth [G1]", "unclassified-asset [X1]"}
	if got := gapKinds(run.Gaps); !slices.Equal(got, want) {
		t.Errorf("Gaps = %v, want %v", got, want)
	}
	if run.State != StateAwaitingInput || run.MetadataVersion != 1 {
		t.Errorf("State = %s, version = %d", run.State, run.MetadataVersion)
	}
}

func TestUnknownCRSBecomesGap(t *testing.T) {
	ctx := context.Background()
	r := newTestRunner(nil)
	run, err := r.Process(ctx, drawing(), Options{ProjectID: project})
	if err != nil {
		t.Fatal(err)
	}
	patch := fullAnswers()
	patch.SourceCRS = ptr("EPSG:0")
	if err := r.ApplyMetadata(ctx, run, patch); err != nil {
		t.Fatal(err)
	}
	if run.State != StateAwaitingInput || len(run.Gaps) != 1 || run.Gaps[0].Kind != gaps.MissingCRS {
		t.Errorf("State = %s, Gaps = %v", run.State, gapKinds(run.Gaps))
	}
}

func TestReadyAndRepeatedExport(t *testing.T) {
	ctx := context.Background()
	r := newTestRunner(nil)
	run := readyRun(t, r)

	if run.Model == nil || !run.Model.Georeferenced || run.Model.Len() != 4 {
		t.Fatalf("Model = %+v", run.Model)
	}
	if run.Classes.AssetType("X1") != classify.Telecom {
		t.Errorf("override not applied: %v", run.Classes.Get("X1"))
	}
	if run.StateHash == "" {
		t.Error("StateHash not set")
	}

	a, err := r.Export(ctx, run, export.FormatGeoJSON, export.Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Export(ctx, run, export.FormatGeoJSON, export.Options{ExtrasNamespace: export.DefaultExtrasNamespace})
	if err != nil {
		t.Fatal(err)
	}
	if a.Checksum != b.Checksum {
		t.Error("repeated export changed checksum")
	}
	if run.State != StateReady || run.Status() != "exported(2)" {
		t.Errorf("Status() = %s, want exported(2)", run.Status())
	}
	if len(run.Outputs()) != 1 {
		t.Errorf("Outputs = %d, want 1 (second request reused the first)", len(run.Outputs()))
	}

	if err := r.Resolve(ctx, run); err != nil {
		t.Fatal(err)
	}
	if run.Status() != "exported(2)" {
		t.Error("resolving a ready run should be a no-op")
	}
}

func TestResolveStaleMetadata(t *testing.T) {
	ctx := context.Background()
	r := newTestRunner(nil)
	run, err := r.Ingest(ctx, drawing(), Options{ProjectID: project})
	if err != nil {
		t.Fatal(err)
	}

	// Another writer answers the wizard first.
	if _, err := r.Store.Update(ctx, project, 0, fullAnswers().Apply); err != nil {
		t.Fatal(err)
	}
	if err := r.Resolve(ctx, run); !errors.Is(err, errors.ErrCodeStaleMetadata) {
		t.Fatalf("Resolve() error = %v, want STALE_METADATA", err)
	}
	if run.State != StateIngested {
		t.Errorf("State = %s, stale resolve must not advance the run", run.State)
	}

	if err := r.Refresh(ctx, run); err != nil {
		t.Fatal(err)
	}
	if run.State != StateReady || run.MetadataVersion != 1 {
		t.Errorf("after Refresh: State = %s, version = %d", run.State, run.MetadataVersion)
	}
}

func TestApplyMetadataStale(t *testing.T) {
	ctx := context.Background()
	r := newTestRunner(nil)
	first, err := r.Process(ctx, drawing(), Options{ProjectID: project})
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Process(ctx, drawing(), Options{ProjectID: project})
	if err != nil {
		t.Fatal(err)
	}

	if err := r.ApplyMetadata(ctx, second, fullAnswers()); err != nil {
		t.Fatal(err)
	}
	err = r.ApplyMetadata(ctx, first, metadata.Patch{Rotation: ptr(30.0)})
	if !errors.Is(err, errors.ErrCodeStaleMetadata) {
		t.Fatalf("ApplyMetadata() error = %v, want STALE_METADATA", err)
	}
	rec, _ := r.Store.Get(ctx, project)
	if *rec.Rotation != 15 {
		t.Errorf("stale write landed: rotation = %v", *rec.Rotation)
	}
}

func TestDrawingLevelEditRetiresAllArtifacts(t *testing.T) {
	ctx := context.Background()
	r := newTestRunner(nil)
	run := readyRun(t, r)

	before, err := r.Export(ctx, run, export.FormatGeoJSON, export.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Export(ctx, run, export.FormatCSV, export.Options{}); err != nil {
		t.Fatal(err)
	}
	oldHash := run.StateHash

	if err := r.ApplyMetadata(ctx, run, metadata.Patch{Rotation: ptr(20.0)}); err != nil {
		t.Fatal(err)
	}
	if run.State != StateReady || run.Exports != 0 {
		t.Errorf("State = %s, Exports = %d", run.State, run.Exports)
	}
	for _, o := range run.Outputs() {
		if o.Current {
			t.Errorf("%s artifact survived a drawing-level edit", o.Format)
		}
		if o.StateHash != oldHash {
			t.Errorf("retired artifact lost its state hash")
		}
	}

	after, err := r.Export(ctx, run, export.FormatGeoJSON, export.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if after.Checksum == before.Checksum {
		t.Error("rotation change should change the artifact")
	}
	if len(run.Outputs()) != 3 {
		t.Errorf("Outputs = %d, want history of 3", len(run.Outputs()))
	}
}

func TestEntityLevelEditRetiresDependentArtifacts(t *testing.T) {
	ctx := context.Background()
	r := newTestRunner(nil)
	run := readyRun(t, r)

	sewer, err := r.Export(ctx, run, export.FormatGeoJSON, export.Options{AssetTypes: []string{classify.Sewer}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Export(ctx, run, export.FormatGeoJSON, export.Options{AssetTypes: []string{classify.Gas}}); err != nil {
		t.Fatal(err)
	}

	// A depth answer for G1 affects only the gas artifact.
	if err := r.ApplyMetadata(ctx, run, metadata.Patch{DepthByHandle: map[string]float64{"G1": 3}}); err != nil {
		t.Fatal(err)
	}
	current := func() []string {
		var out []string
		for _, o := range run.Outputs() {
			if o.Current {
				out = append(out, o.Options.AssetTypes[0])
			}
		}
		return out
	}
	if got := current(); !slices.Equal(got, []string{classify.Sewer}) {
		t.Errorf("current artifacts = %v, want [sewer]", got)
	}
	again, err := r.Export(ctx, run, export.FormatGeoJSON, export.Options{AssetTypes: []string{classify.Sewer}})
	if err != nil {
		t.Fatal(err)
	}
	if again != sewer {
		t.Error("unaffected artifact should be reused")
	}

	// Reclassifying WTR-MAIN as gas moves L1 into the gas scope.
	if _, err := r.Export(ctx, run, export.FormatGeoJSON, export.Options{AssetTypes: []string{classify.Gas}}); err != nil {
		t.Fatal(err)
	}
	if err := r.ApplyMetadata(ctx, run, metadata.Patch{AssetTypeByLayer: map[string]string{"WTR-MAIN": classify.Gas}}); err != nil {
		t.Fatal(err)
	}
	if got := current(); !slices.Equal(got, []string{classify.Sewer}) {
		t.Errorf("current artifacts = %v, want [sewer]", got)
	}
}

type countingCacheHooks struct {
	observability.NoopCacheHooks
	mu   sync.Mutex
	hits map[string]int
}

func (h *countingCacheHooks) OnCacheHit(_ context.Context, keyType string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hits[keyType]++
}

func TestCacheAcrossRuns(t *testing.T) {
	hooks := &countingCacheHooks{hits: make(map[string]int)}
	observability.SetCacheHooks(hooks)
	defer observability.Reset()

	c, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	r := newTestRunner(c)
	first := readyRun(t, r)
	a, err := r.Export(ctx, first, export.FormatKML, export.Options{})
	if err != nil {
		t.Fatal(err)
	}

	second, err := r.Process(ctx, drawing(), Options{ProjectID: project, Units: geometry.UnitsFeet})
	if err != nil {
		t.Fatal(err)
	}
	if second.State != StateReady || second.StateHash != first.StateHash {
		t.Fatalf("second run: State = %s", second.State)
	}
	b, err := r.Export(ctx, second, export.FormatKML, export.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if a.Checksum != b.Checksum || string(a.Data) != string(b.Data) {
		t.Error("cached artifact differs")
	}
	if hooks.hits["resolved"] != 1 || hooks.hits["artifact"] != 1 {
		t.Errorf("cache hits = %v, want one resolved and one artifact", hooks.hits)
	}
}

func TestTransitions(t *testing.T) {
	run := &Run{ID: "r", State: StateIngested}
	if err := run.transition(StateReady); !errors.Is(err, errors.ErrCodeInvalidState) {
		t.Errorf("Ingested -> Ready error = %v, want INVALID_STATE", err)
	}
	for _, s := range []State{StateResolving, StateAwaitingInput, StateResolving, StateClassified, StateReady, StateResolving} {
		if err := run.transition(s); err != nil {
			t.Errorf("transition(%s): %v", s, err)
		}
	}
}

func TestArtifactKeyOpts(t *testing.T) {
	a := ArtifactKeyOpts(export.FormatCSV, export.Options{AssetTypes: []string{"gas", "sewer", "gas"}})
	b := ArtifactKeyOpts(export.FormatCSV, export.Options{AssetTypes: []string{"sewer", "gas"}, ExtrasNamespace: export.DefaultExtrasNamespace})
	if !slices.Equal(a.AssetTypes, b.AssetTypes) || a.ExtrasNamespace != b.ExtrasNamespace {
		t.Errorf("ArtifactKeyOpts() = %+v and %+v, want equal", a, b)
	}
	if a.DefaultDiameter != export.DefaultDiameter {
		t.Errorf("DefaultDiameter = %v, want %v", a.DefaultDiameter, export.DefaultDiameter)
	}
	tubes := ArtifactKeyOpts(export.FormatGLTF, export.Options{Tubes: true, DefaultDiameter: 0.3})
	if !tubes.Tubes || tubes.DefaultDiameter != 0.3 {
		t.Errorf("ArtifactKeyOpts() = %+v, want tubes of 0.3", tubes)
	}
}

func TestRunnerLiteralConcurrentRuns(t *testing.T) {
	r := &Runner{
		Store:  metadata.NewMemoryStore(),
		Cache:  cache.NewNullCache(),
		Keyer:  cache.NewDefaultKeyer(),
		Logger: log.NewWithOptions(io.Discard, log.Options{}),
	}

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := r.Process(context.Background(), drawing(), Options{ProjectID: id})
			if err != nil {
				t.Errorf("Process(%s): %v", id, err)
				return
			}
			if run.State != StateAwaitingInput {
				t.Errorf("Process(%s) state = %s, want %s", id, run.State, StateAwaitingInput)
			}
		}()
	}
	wg.Wait()

	if r.Resolver != nil {
		t.Error("resolving should not install a default resolver on a shared Runner")
	}
}
