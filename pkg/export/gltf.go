package export

import (
	"bytes"
	"fmt"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/pipevision/pipevision/pkg/classify"
	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/geometry"
	"github.com/pipevision/pipevision/pkg/georef"
)

// GLTF writes a binary glTF (GLB) scene with one node per entity.
//
// Coordinates are converted to metres east, north and up of the first
// exported vertex and stored Y-up (x = east, y = up, z = -north). The
// geographic origin is written to the scene extras so consumers can anchor
// the scene. Points become POINTS primitives, polylines indexed LINES (or,
// with Tubes, TRIANGLES tubes as wide as the pipe diameter), polygons
// indexed LINE_LOOPs and meshes indexed TRIANGLES. A polyline with no
// non-degenerate segment stays LINES. Handle, layer, classification and pipe
// properties go into node extras under the configured namespace.
func GLTF(m *geometry.Model, classes classify.Results, opts Options) (*Artifact, error) {
	items, warnings, err := prepare(FormatGLTF, m, classes, &opts)
	if err != nil {
		return nil, err
	}

	doc := gltf.NewDocument()
	doc.Asset.Generator = "pipevision"
	ns := opts.ExtrasNamespace

	if len(items) == 0 {
		doc.Scenes[0].Extras = map[string]any{ns: map[string]any{"crs": m.TargetCRS}}
		return encodeGLB(doc, 0, warnings)
	}

	frame, err := georef.NewLocalFrame(opts.NewProjector, m.TargetCRS, items[0].Vertices[0])
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "build local frame for %s", m.TargetCRS)
	}
	defer frame.Close()

	materials := make(map[string]int)
	exported := 0
	for _, it := range items {
		vs := it.Vertices
		if it.Kind == geometry.KindPolygon {
			ring := it.Ring()
			vs = ring[:len(ring)-1]
		}
		positions, err := localPositions(frame, vs)
		if err != nil {
			warnings = append(warnings, errors.Warn(errors.ErrCodeNonFiniteTransform, it.Handle,
				"excluded from gltf: %s", errors.UserMessage(err)))
			continue
		}

		var (
			mode    gltf.PrimitiveMode
			indices []uint32
		)
		switch it.Kind {
		case geometry.KindPoint:
			mode = gltf.PrimitivePoints
		case geometry.KindPolyline:
			mode, indices = gltf.PrimitiveLines, segmentIndices(len(positions))
			if opts.Tubes {
				if tp, ti, ok := tube(positions, diameter(it.Entity, opts.DefaultDiameter)/2); ok {
					mode, positions, indices = gltf.PrimitiveTriangles, tp, ti
				}
			}
		case geometry.KindPolygon:
			mode, indices = gltf.PrimitiveLineLoop, loopIndices(len(positions))
		case geometry.KindMesh:
			mode, indices = gltf.PrimitiveTriangles, faceIndices(it.Triangles())
		}

		prim := &gltf.Primitive{
			Attributes: map[string]int{gltf.POSITION: modeler.WritePosition(doc, positions)},
			Material:   gltf.Index(material(doc, materials, it.class.AssetType)),
			Mode:       mode,
		}
		if indices != nil {
			prim.Indices = gltf.Index(modeler.WriteIndices(doc, indices))
		}

		doc.Meshes = append(doc.Meshes, &gltf.Mesh{Name: it.Handle, Primitives: []*gltf.Primitive{prim}})
		doc.Nodes = append(doc.Nodes, &gltf.Node{
			Name:   it.Handle,
			Mesh:   gltf.Index(len(doc.Meshes) - 1),
			Extras: map[string]any{ns: nodeExtras(it, opts)},
		})
		doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, len(doc.Nodes)-1)
		exported++
	}

	lon, lat := frame.OriginLonLat()
	o := frame.Origin
	doc.Scenes[0].Extras = map[string]any{ns: map[string]any{
		"crs":        m.TargetCRS,
		"origin":     []float64{o.X(), o.Y(), o.Z()},
		"origin_lon": lon,
		"origin_lat": lat,
		"frame":      "enu",
		"up_axis":    "y",
		"units":      "meters",
	}}
	return encodeGLB(doc, exported, warnings)
}

func encodeGLB(doc *gltf.Document, n int, warnings []errors.Warning) (*Artifact, error) {
	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode glb: %w", err)
	}
	return newArtifact(FormatGLTF, buf.Bytes(), n, warnings), nil
}

func localPositions(frame *georef.LocalFrame, vs []geometry.Vertex) ([][3]float32, error) {
	out := make([][3]float32, len(vs))
	for i, v := range vs {
		e, n, u, err := frame.ENU(v)
		if err != nil {
			return nil, err
		}
		out[i] = [3]float32{float32(e), float32(u), float32(-n)}
	}
	return out, nil
}

func material(doc *gltf.Document, cache map[string]int, assetType string) int {
	if idx, ok := cache[assetType]; ok {
		return idx
	}
	r, g, b := classify.RGB(assetType)
	doc.Materials = append(doc.Materials, &gltf.Material{
		Name: assetType,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float64{float64(r) / 255, float64(g) / 255, float64(b) / 255, 1},
			MetallicFactor:  gltf.Float(0),
			RoughnessFactor: gltf.Float(1),
		},
		DoubleSided: true,
	})
	cache[assetType] = len(doc.Materials) - 1
	return cache[assetType]
}

func nodeExtras(it item, opts Options) map[string]any {
	x := map[string]any{
		"handle":     it.Handle,
		"kind":       string(it.Kind),
		"layer":      it.Layer,
		"asset_type": it.class.AssetType,
		"confidence": it.class.Confidence,
	}
	if d := pipeDiameter(it.Entity, opts.DefaultDiameter); d > 0 {
		x["diameter"] = d
	}
	if mat := pipeMaterial(it.Entity); mat != "" {
		x["material"] = mat
	}
	if opts.IncludeProperties && len(it.Attributes) > 0 {
		x["attributes"] = it.Attributes
	}
	return x
}

// segmentIndices joins consecutive vertices: 0-1, 1-2, ...
func segmentIndices(n int) []uint32 {
	out := make([]uint32, 0, 2*(n-1))
	for i := 0; i+1 < n; i++ {
		out = append(out, uint32(i), uint32(i+1))
	}
	return out
}

func loopIndices(n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(i)
	}
	return out
}

func faceIndices(faces [][]int) []uint32 {
	var out []uint32
	for _, f := range faces {
		// Fan-triangulate faces with more than three corners.
		for i := 1; i+1 < len(f); i++ {
			out = append(out, uint32(f[0]), uint32(f[i]), uint32(f[i+1]))
		}
	}
	return out
}
