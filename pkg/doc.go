// Package pkg provides the core libraries for PipeVision, which turns parsed
// CAD utility drawings into georeferenced, classified asset datasets for AR
// viewers and GIS tools.
//
// # Overview
//
// A drawing arrives as a list of entities with local planar coordinates. It
// usually lacks the facts needed to place it on the earth: the source CRS,
// the rotation to north, depths for 2D linework and the asset type of
// ambiguous layers. PipeVision reports those facts as gaps, records the
// answers in a versioned metadata store, and exports once nothing is missing.
//
// # Architecture
//
//	Drawing entities ([io])
//	         ↓
//	    [geometry] (validate, normalize units, bounds)
//	         ↓
//	    [classify] (layer rules → asset type + confidence)
//	         ↓
//	    [georef] + [metadata] (rotate, reproject, apply depth)
//	         ↓
//	    [gaps] (what is still missing)
//	         ↓
//	    [export] (GeoJSON, CSV, glTF, KML, Shapefile)
//
// [pipeline] drives these stages as a run with explicit states and caches
// resolutions and artifacts through [cache].
//
// # Quick Start
//
//	store := metadata.NewMemoryStore()
//	runner := pipeline.NewRunner(store, cache.NewNullCache(), nil, nil)
//	defer runner.Close()
//
//	run, err := runner.Process(ctx, drawing.Entities, pipeline.Options{
//	    ProjectID: "site-42",
//	    Units:     drawing.Units,
//	})
//	if err != nil {
//	    return err
//	}
//	if !run.Ready() {
//	    for _, g := range run.Gaps {
//	        fmt.Println(g.Prompt)
//	    }
//	    return nil
//	}
//	art, err := runner.Export(ctx, run, export.FormatGeoJSON, export.Options{})
//
// # Main Packages
//
//   - [geometry]: entities, units, the normalized model and its bounds
//   - [classify]: the layer rule table and classification results
//   - [georef]: rotation, reprojection through PROJ and depth application
//   - [metadata]: versioned per-project records (file, memory, Redis, MongoDB)
//   - [gaps]: gap detection
//   - [export]: artifact writers
//   - [pipeline]: run orchestration
//   - [cache]: resolution and artifact caching (file, Redis, null)
//   - [config]: TOML configuration and environment overrides
//   - [errors]: error codes and validation
//   - [observability]: hooks for logging and metrics
//
// [io]: https://pkg.go.dev/github.com/pipevision/pipevision/pkg/io
// [geometry]: https://pkg.go.dev/github.com/pipevision/pipevision/pkg/geometry
// [classify]: https://pkg.go.dev/github.com/pipevision/pipevision/pkg/classify
// [georef]: https://pkg.go.dev/github.com/pipevision/pipevision/pkg/georef
// [metadata]: https://pkg.go.dev/github.com/pipevision/pipevision/pkg/metadata
// [gaps]: https://pkg.go.dev/github.com/pipevision/pipevision/pkg/gaps
// [export]: https://pkg.go.dev/github.com/pipevision/pipevision/pkg/export
// [pipeline]: https://pkg.go.dev/github.com/pipevision/pipevision/pkg/pipeline
// [cache]: https://pkg.go.dev/github.com/pipevision/pipevision/pkg/cache
// [config]: https://pkg.go.dev/github.com/pipevision/pipevision/pkg/config
// [errors]: https://pkg.go.dev/github.com/pipevision/pipevision/pkg/errors
// [observability]: https://pkg.go.dev/github.com/pipevision/pipevision/pkg/observability
package pkg
