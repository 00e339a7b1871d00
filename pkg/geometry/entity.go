package geometry

import (
	"math"

	"github.com/pipevision/pipevision/pkg/errors"
)

// Kind is the geometric primitive type of an entity.
type Kind string

// Entity kinds.
const (
	KindPoint    Kind = "point"
	KindPolyline Kind = "polyline"
	KindPolygon  Kind = "polygon"
	KindMesh     Kind = "mesh"
)

// Kinds lists every entity kind in a stable order.
var Kinds = []Kind{KindPoint, KindPolyline, KindPolygon, KindMesh}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPoint, KindPolyline, KindPolygon, KindMesh:
		return true
	}
	return false
}

// Vertex is a 2 or 3 component coordinate in drawing units (before
// resolution) or target CRS units (after).
type Vertex []float64

// V2 returns a 2D vertex.
func V2(x, y float64) Vertex { return Vertex{x, y} }

// V3 returns a 3D vertex.
func V3(x, y, z float64) Vertex { return Vertex{x, y, z} }

// X returns the first component.
func (v Vertex) X() float64 { return v[0] }

// Y returns the second component.
func (v Vertex) Y() float64 { return v[1] }

// Z returns the third component, or 0 for a 2D vertex.
func (v Vertex) Z() float64 {
	if len(v) > 2 {
		return v[2]
	}
	return 0
}

// Is3D reports whether the vertex carries a Z component.
func (v Vertex) Is3D() bool { return len(v) == 3 }

// Finite reports whether every component is a finite number.
func (v Vertex) Finite() bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

func (v Vertex) clone() Vertex {
	out := make(Vertex, len(v))
	copy(out, v)
	return out
}

// Entity is one drawing primitive. Handle is the source identifier and is
// unique within a drawing.
type Entity struct {
	Handle     string            `json:"handle" bson:"handle"`
	Kind       Kind              `json:"kind" bson:"kind"`
	Layer      string            `json:"layer" bson:"layer"`
	Vertices   []Vertex          `json:"vertices" bson:"vertices"`
	Faces      [][]int           `json:"faces,omitempty" bson:"faces,omitempty"` // mesh only
	Attributes map[string]string `json:"attributes,omitempty" bson:"attributes,omitempty"`
}

// Dimension returns 2 or 3 when every vertex has that many components,
// and 0 when the entity mixes dimensions or has no vertices.
func (e Entity) Dimension() int {
	if len(e.Vertices) == 0 {
		return 0
	}
	d := len(e.Vertices[0])
	for _, v := range e.Vertices[1:] {
		if len(v) != d {
			return 0
		}
	}
	if d != 2 && d != 3 {
		return 0
	}
	return d
}

// Is3D reports whether every vertex carries a Z component.
func (e Entity) Is3D() bool { return e.Dimension() == 3 }

// Validate checks the structural rules for the entity's kind. The returned
// error has code MALFORMED_ENTITY.
func (e Entity) Validate() error {
	if e.Handle == "" {
		return errors.New(errors.ErrCodeMalformedEntity, "entity has no handle")
	}
	if !e.Kind.Valid() {
		return errors.New(errors.ErrCodeMalformedEntity, "entity %s: unknown kind %q", e.Handle, e.Kind)
	}
	if e.Dimension() == 0 {
		return errors.New(errors.ErrCodeMalformedEntity, "entity %s: vertices must all be 2D or all be 3D", e.Handle)
	}
	for i, v := range e.Vertices {
		if !v.Finite() {
			return errors.New(errors.ErrCodeMalformedEntity, "entity %s: vertex %d is not finite", e.Handle, i)
		}
	}

	n := len(e.Vertices)
	switch e.Kind {
	case KindPoint:
		if n != 1 {
			return errors.New(errors.ErrCodeMalformedEntity, "entity %s: point needs exactly 1 vertex, got %d", e.Handle, n)
		}
	case KindPolyline:
		if n < 2 {
			return errors.New(errors.ErrCodeMalformedEntity, "entity %s: polyline needs at least 2 vertices, got %d", e.Handle, n)
		}
	case KindPolygon:
		if len(e.openRing()) < 3 {
			return errors.New(errors.ErrCodeMalformedEntity, "entity %s: polygon needs at least 3 distinct vertices", e.Handle)
		}
	case KindMesh:
		if len(e.Faces) == 0 {
			if n < 3 || n%3 != 0 {
				return errors.New(errors.ErrCodeMalformedEntity, "entity %s: mesh without faces needs a multiple of 3 vertices, got %d", e.Handle, n)
			}
		}
		for fi, f := range e.Faces {
			if len(f) < 3 {
				return errors.New(errors.ErrCodeMalformedEntity, "entity %s: face %d has fewer than 3 indices", e.Handle, fi)
			}
			for _, idx := range f {
				if idx < 0 || idx >= n {
					return errors.New(errors.ErrCodeMalformedEntity, "entity %s: face %d index %d out of range", e.Handle, fi, idx)
				}
			}
		}
	}
	if len(e.Faces) > 0 && e.Kind != KindMesh {
		return errors.New(errors.ErrCodeMalformedEntity, "entity %s: only meshes may carry faces", e.Handle)
	}
	return nil
}

// Clone returns a deep copy of the entity.
func (e Entity) Clone() Entity {
	out := e
	out.Vertices = make([]Vertex, len(e.Vertices))
	for i, v := range e.Vertices {
		out.Vertices[i] = v.clone()
	}
	if e.Faces != nil {
		out.Faces = make([][]int, len(e.Faces))
		for i, f := range e.Faces {
			out.Faces[i] = append([]int(nil), f...)
		}
	}
	if e.Attributes != nil {
		out.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// WithVertices returns a copy of the entity with its vertices replaced.
func (e Entity) WithVertices(vs []Vertex) Entity {
	out := e.Clone()
	out.Vertices = vs
	return out
}

// Ring returns the polygon's vertices as a closed ring (first vertex repeated
// at the end). For other kinds it returns the vertices unchanged.
func (e Entity) Ring() []Vertex {
	if e.Kind != KindPolygon {
		return e.Vertices
	}
	open := e.openRing()
	ring := make([]Vertex, 0, len(open)+1)
	ring = append(ring, open...)
	return append(ring, open[0])
}

// openRing drops a trailing vertex that duplicates the first one.
func (e Entity) openRing() []Vertex {
	vs := e.Vertices
	if len(vs) > 1 && equalVertex(vs[0], vs[len(vs)-1]) {
		return vs[:len(vs)-1]
	}
	return vs
}

// Triangles returns the mesh faces, or consecutive vertex triples when the
// mesh was ingested without explicit faces.
func (e Entity) Triangles() [][]int {
	if e.Kind != KindMesh {
		return nil
	}
	if len(e.Faces) > 0 {
		return e.Faces
	}
	faces := make([][]int, 0, len(e.Vertices)/3)
	for i := 0; i+2 < len(e.Vertices); i += 3 {
		faces = append(faces, []int{i, i + 1, i + 2})
	}
	return faces
}

// Centroid returns the arithmetic mean of the entity's distinct vertices.
func (e Entity) Centroid() Vertex {
	vs := e.Vertices
	if e.Kind == KindPolygon {
		vs = e.openRing()
	}
	var sx, sy, sz float64
	for _, v := range vs {
		sx += v.X()
		sy += v.Y()
		sz += v.Z()
	}
	n := float64(len(vs))
	if e.Is3D() {
		return V3(sx/n, sy/n, sz/n)
	}
	return V2(sx/n, sy/n)
}

func equalVertex(a, b Vertex) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
