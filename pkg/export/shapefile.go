package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jonas-p/go-shp"

	"github.com/pipevision/pipevision/pkg/classify"
	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/geometry"
)

// Shapefile limits.
const (
	shpFieldNameLimit  = 10
	shpFieldValueLimit = 254
)

// dbfDate replaces the last-update date go-shp stamps into .dbf headers,
// so the same input always zips to the same bytes.
var dbfDate = [3]byte{100, 1, 1} // 2000-01-01

// zipTime is the modification time of every archive entry.
var zipTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// shapeSet is one output layer: a single geometry type.
type shapeSet struct {
	name      string
	shapeType shp.ShapeType
	items     []item
}

// prjWKT holds ESRI WKT for the target CRSs a .prj can be written for.
var prjWKT = map[string]string{
	"EPSG:4326": `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`,
	"EPSG:3857": `PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Mercator_Auxiliary_Sphere"],PARAMETER["False_Easting",0.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",0.0],PARAMETER["Standard_Parallel_1",0.0],PARAMETER["Auxiliary_Sphere_Type",0.0],UNIT["Meter",1.0]]`,
}

// Shapefile writes a zip archive holding one shapefile set per geometry
// type present: points (POINTZ), lines (POLYLINEZ) and polygons (POLYGONZ),
// each with .shp, .shx and .dbf, plus .prj when the target CRS is known.
//
// Attribute field names are cut to 10 characters and values to 254; every
// cut is reported as a FIELD_TRUNCATED warning. Meshes are not supported.
func Shapefile(m *geometry.Model, classes classify.Results, opts Options) (*Artifact, error) {
	items, warnings, err := prepare(FormatShapefile, m, classes, &opts)
	if err != nil {
		return nil, err
	}

	sets := []*shapeSet{
		{name: "points", shapeType: shp.POINTZ},
		{name: "lines", shapeType: shp.POLYLINEZ},
		{name: "polygons", shapeType: shp.POLYGONZ},
	}
	for _, it := range items {
		switch it.Kind {
		case geometry.KindPoint:
			sets[0].items = append(sets[0].items, it)
		case geometry.KindPolyline:
			sets[1].items = append(sets[1].items, it)
		case geometry.KindPolygon:
			sets[2].items = append(sets[2].items, it)
		}
	}

	dir, err := os.MkdirTemp("", "pipevision-shp-")
	if err != nil {
		return nil, fmt.Errorf("create shapefile workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	prj, hasPRJ := prjWKT[m.TargetCRS]
	if !hasPRJ && len(items) > 0 {
		warnings = append(warnings, errors.Warn(errors.ErrCodeUnsupported, "",
			"no .prj written: projection text for %s is not known", m.TargetCRS))
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, set := range sets {
		if len(set.items) == 0 {
			continue
		}
		setWarnings, err := writeShapeSet(dir, set, opts)
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, setWarnings...)

		for _, ext := range []string{".shp", ".shx", ".dbf"} {
			data, err := os.ReadFile(filepath.Join(dir, set.name+ext))
			if err != nil {
				return nil, fmt.Errorf("read %s%s: %w", set.name, ext, err)
			}
			if ext == ".dbf" && len(data) > 3 {
				copy(data[1:4], dbfDate[:])
			}
			if err := addZipEntry(zw, set.name+ext, data); err != nil {
				return nil, err
			}
		}
		if hasPRJ {
			if err := addZipEntry(zw, set.name+".prj", []byte(prj)); err != nil {
				return nil, err
			}
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close shapefile archive: %w", err)
	}
	return newArtifact(FormatShapefile, buf.Bytes(), len(items), warnings), nil
}

func addZipEntry(zw *zip.Writer, name string, data []byte) error {
	if err := errors.ValidateOutputPath(name); err != nil {
		return err
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: zipTime})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// column is one dbf attribute field.
type column struct {
	name   string // truncated, unique
	source string // original attribute key, empty for fixed columns
	values []string
	float  bool
}

func writeShapeSet(dir string, set *shapeSet, opts Options) ([]errors.Warning, error) {
	cols, warnings := shapeColumns(set.items, opts)

	w, err := shp.Create(filepath.Join(dir, set.name+".shp"), set.shapeType)
	if err != nil {
		return nil, fmt.Errorf("create %s shapefile: %w", set.name, err)
	}

	fields := make([]shp.Field, len(cols))
	for i, c := range cols {
		if c.float {
			fields[i] = shp.FloatField(c.name, 18, 6)
			continue
		}
		width := 1
		for _, v := range c.values {
			width = max(width, len(v))
		}
		fields[i] = shp.StringField(c.name, uint8(width))
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return nil, fmt.Errorf("set %s fields: %w", set.name, err)
	}

	for row, it := range set.items {
		w.Write(shape(it.Entity))
		for fi, c := range cols {
			var value any = c.values[row]
			if c.float {
				value, _ = strconv.ParseFloat(c.values[row], 64)
			}
			if err := w.WriteAttribute(row, fi, value); err != nil {
				w.Close()
				return nil, fmt.Errorf("write %s attribute %s: %w", it.Handle, c.name, err)
			}
		}
	}
	w.Close()
	return warnings, nil
}

// shapeColumns builds the attribute table for a set: HANDLE, LAYER,
// ASSET_TYPE, CONFIDENCE and, with IncludeProperties, one column per
// attribute key in sorted order.
func shapeColumns(items []item, opts Options) ([]*column, []errors.Warning) {
	cols := []*column{
		{name: "HANDLE"},
		{name: "LAYER"},
		{name: "ASSET_TYPE"},
		{name: "CONFIDENCE", float: true},
	}
	used := map[string]bool{"HANDLE": true, "LAYER": true, "ASSET_TYPE": true, "CONFIDENCE": true}
	var warnings []errors.Warning

	if opts.IncludeProperties {
		keys := make(map[string]string)
		for _, it := range items {
			for k := range it.Attributes {
				keys[k] = k
			}
		}
		for _, k := range sortedKeys(keys) {
			name := fieldName(k, used)
			if name != k {
				warnings = append(warnings, errors.Warn(errors.ErrCodeFieldTruncated, "",
					"attribute %q stored as field %q", k, name))
			}
			cols = append(cols, &column{name: name, source: k})
		}
	}

	for _, it := range items {
		for _, c := range cols {
			var v string
			switch c.name {
			case "HANDLE":
				v = it.Handle
			case "LAYER":
				v = it.Layer
			case "ASSET_TYPE":
				v = it.class.AssetType
			case "CONFIDENCE":
				v = formatFloat(it.class.Confidence, 0)
			}
			if c.source != "" {
				v = it.Attributes[c.source]
			}
			if len(v) > shpFieldValueLimit {
				warnings = append(warnings, errors.Warn(errors.ErrCodeFieldTruncated, it.Handle,
					"field %s cut from %d to %d bytes", c.name, len(v), shpFieldValueLimit))
				v = v[:shpFieldValueLimit]
			}
			c.values = append(c.values, v)
		}
	}
	return cols, warnings
}

// fieldName shortens an attribute key to a unique dbf field name.
func fieldName(key string, used map[string]bool) string {
	name := key
	if len(name) > shpFieldNameLimit {
		name = name[:shpFieldNameLimit]
	}
	for i := 1; used[name]; i++ {
		suffix := "~" + strconv.Itoa(i)
		base := key
		if len(base) > shpFieldNameLimit-len(suffix) {
			base = base[:shpFieldNameLimit-len(suffix)]
		}
		name = base + suffix
	}
	used[name] = true
	return name
}

func shape(e geometry.Entity) shp.Shape {
	switch e.Kind {
	case geometry.KindPoint:
		v := e.Vertices[0]
		return &shp.PointZ{X: v.X(), Y: v.Y(), Z: v.Z()}
	case geometry.KindPolygon:
		ring := clockwise(e.Ring())
		pz := shp.PolygonZ(*polyLineZ(ring))
		return &pz
	default:
		return polyLineZ(e.Vertices)
	}
}

func polyLineZ(vs []geometry.Vertex) *shp.PolyLineZ {
	points := make([]shp.Point, len(vs))
	zs := make([]float64, len(vs))
	zmin, zmax := vs[0].Z(), vs[0].Z()
	for i, v := range vs {
		points[i] = shp.Point{X: v.X(), Y: v.Y()}
		zs[i] = v.Z()
		zmin = min(zmin, v.Z())
		zmax = max(zmax, v.Z())
	}
	return &shp.PolyLineZ{
		Box:       shp.BBoxFromPoints(points),
		NumParts:  1,
		NumPoints: int32(len(points)),
		Parts:     []int32{0},
		Points:    points,
		ZRange:    [2]float64{zmin, zmax},
		ZArray:    zs,
		MRange:    [2]float64{0, 0},
		MArray:    make([]float64, len(points)),
	}
}

// clockwise returns the ring in clockwise order, as shapefile outer rings
// require.
func clockwise(ring []geometry.Vertex) []geometry.Vertex {
	area := 0.0
	for i := 0; i+1 < len(ring); i++ {
		area += ring[i].X()*ring[i+1].Y() - ring[i+1].X()*ring[i].Y()
	}
	if area <= 0 {
		return ring
	}
	out := make([]geometry.Vertex, len(ring))
	for i, v := range ring {
		out[len(ring)-1-i] = v
	}
	return out
}
