// Package io reads parsed drawings and writes export artifacts.
//
// # Drawing Format
//
// The CAD parser hands drawings over as JSON: an entity list plus the
// drawing's units.
//
//	{
//	  "units": "feet",
//	  "entities": [
//	    {"handle": "1A", "kind": "point", "layer": "SS-MH", "vertices": [[1052.5, 877.25]]},
//	    {"handle": "1B", "kind": "polyline", "layer": "WTR-MAIN",
//	     "vertices": [[0, 0, -1.2], [50, 10, -1.3]],
//	     "attributes": {"diameter": "300"}}
//	  ]
//	}
//
// Instead of "units" a drawing may carry the DXF "$INSUNITS" code, which is
// mapped through [geometry.UnitsFromINSUNITS]. Mesh entities may add
// "faces", a list of vertex index triples.
//
// Structural problems with individual entities are not decoding errors: the
// pipeline skips them with a MALFORMED_ENTITY warning. Only a document that
// is not a drawing at all fails to import.
//
// # Artifacts
//
// [WriteArtifact] writes an artifact's bytes atomically; when the target is
// a directory the file is named after the project and format.
package io
