// Package geometry defines the normalized drawing model consumed by every
// other stage: typed entities (points, polylines, polygons, meshes) with a
// layer, free-form attributes and 2D or 3D vertices, plus the drawing-level
// georeferencing fields that the resolver fills in.
//
// # Nullability
//
// Drawing-level metadata distinguishes "unset" from zero values:
//
//   - SourceCRS and TargetCRS: empty string means unset
//   - Rotation: nil means unset; a rotation of 0 is a valid answer
//   - Depth: empty [DepthConvention] means unset
//
// # Immutability
//
// Entities are copied on ingestion by [NewModel] and never mutated afterwards.
// Stages that change coordinates (the resolver) build a new [Model] with new
// entity values instead of editing the ingested one.
//
// # Canonical Form
//
// [Marshal] produces a stable JSON encoding (entity order preserved, attribute
// maps sorted by encoding/json). Hashes of this encoding identify a geometry
// state for artifact versioning.
package geometry
