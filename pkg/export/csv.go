package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/pipevision/pipevision/pkg/classify"
	"github.com/pipevision/pipevision/pkg/geometry"
)

// CSVSchemaVersion is the value of the first column of every row. It changes
// whenever CSVHeader changes.
const CSVSchemaVersion = "2"

// CSVHeader is the fixed header row.
var CSVHeader = []string{
	"schema_version",
	"handle",
	"kind",
	"layer",
	"asset_type",
	"confidence",
	"centroid_x",
	"centroid_y",
	"centroid_z",
	"diameter",
	"material",
	"color",
	"vertex_count",
	"vertices",
	"attributes",
}

// CSV writes one row per entity. The diameter column is in metres: the
// entity's own diameter, else the default diameter for polylines, else
// empty. The vertices column lists "x y z" triples separated by ';'; the
// attributes column lists "key=value" pairs separated by ';' and is empty
// unless IncludeProperties is set.
func CSV(m *geometry.Model, classes classify.Results, opts Options) (*Artifact, error) {
	items, warnings, err := prepare(FormatCSV, m, classes, &opts)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	p := opts.Precision
	for _, it := range items {
		c := it.Centroid()
		row := []string{
			CSVSchemaVersion,
			it.Handle,
			string(it.Kind),
			it.Layer,
			it.class.AssetType,
			formatFloat(it.class.Confidence, 0),
			formatFloat(round(c.X(), p), p),
			formatFloat(round(c.Y(), p), p),
			formatFloat(round(c.Z(), p), p),
			csvDiameter(it.Entity, opts.DefaultDiameter),
			pipeMaterial(it.Entity),
			classify.Color(it.class.AssetType),
			fmt.Sprint(len(it.Vertices)),
			vertexList(it.Vertices, p),
			"",
		}
		if opts.IncludeProperties {
			row[len(row)-1] = attributeList(it.Attributes)
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row %s: %w", it.Handle, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return newArtifact(FormatCSV, buf.Bytes(), len(items), warnings), nil
}

func csvDiameter(e geometry.Entity, fallback float64) string {
	if d := pipeDiameter(e, fallback); d > 0 {
		return formatFloat(d, 0)
	}
	return ""
}

func vertexList(vs []geometry.Vertex, precision int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = formatFloat(round(v.X(), precision), precision) + " " +
			formatFloat(round(v.Y(), precision), precision) + " " +
			formatFloat(round(v.Z(), precision), precision)
	}
	return strings.Join(parts, ";")
}

func attributeList(attrs map[string]string) string {
	parts := make([]string, 0, len(attrs))
	for _, k := range sortedKeys(attrs) {
		parts = append(parts, k+"="+attrs[k])
	}
	return strings.Join(parts, ";")
}
