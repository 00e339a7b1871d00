// Package export serializes a georeferenced, classified model into
// interchange formats.
//
// Each format is a free function over the shared model: [GeoJSON], [CSV],
// [GLTF], [KML] and [Shapefile]. [Export] dispatches by [Format]. Exporters
// are pure: the same model, classification and options always yield the
// same bytes and therefore the same checksum.
//
// Which entity kinds a format can carry is declared in [Capabilities].
// Entities a format cannot represent are left out of its artifact with an
// UNSUPPORTED_GEOMETRY_FOR_FORMAT warning; the export still succeeds.
//
// Every exporter refuses models that still have a drawing-level gap (missing
// CRS or rotation) or were never resolved, failing with
// EXPORT_PRECONDITION_FAILED.
package export

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/pipevision/pipevision/pkg/cache"
	"github.com/pipevision/pipevision/pkg/classify"
	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/gaps"
	"github.com/pipevision/pipevision/pkg/geometry"
	"github.com/pipevision/pipevision/pkg/georef"
)

// Format identifies an output format.
type Format string

// Supported formats.
const (
	FormatGeoJSON   Format = "geojson"
	FormatCSV       Format = "csv"
	FormatGLTF      Format = "gltf"
	FormatKML       Format = "kml"
	FormatShapefile Format = "shapefile"
)

// Formats lists every format in a stable order.
var Formats = []Format{FormatGeoJSON, FormatCSV, FormatGLTF, FormatKML, FormatShapefile}

// ParseFormat validates a format name. "shp" and "glb" are accepted as
// aliases.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatGeoJSON, FormatCSV, FormatGLTF, FormatKML, FormatShapefile:
		return f, nil
	case "shp":
		return FormatShapefile, nil
	case "glb":
		return FormatGLTF, nil
	}
	return "", errors.New(errors.ErrCodeInvalidFormat,
		"invalid format: %q (must be one of: geojson, csv, gltf, kml, shapefile)", s)
}

// Extension returns the file extension for the format's artifact.
func (f Format) Extension() string {
	switch f {
	case FormatGLTF:
		return ".glb"
	case FormatShapefile:
		return ".zip"
	}
	return "." + string(f)
}

// ContentType returns the MIME type of the format's artifact.
func (f Format) ContentType() string {
	switch f {
	case FormatGeoJSON:
		return "application/geo+json"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatGLTF:
		return "model/gltf-binary"
	case FormatKML:
		return "application/vnd.google-earth.kml+xml"
	case FormatShapefile:
		return "application/zip"
	}
	return "application/octet-stream"
}

// Capabilities declares which entity kinds each format accepts.
var Capabilities = map[Format][]geometry.Kind{
	FormatGeoJSON:   geometry.Kinds,
	FormatCSV:       geometry.Kinds,
	FormatGLTF:      geometry.Kinds,
	FormatKML:       geometry.Kinds,
	FormatShapefile: {geometry.KindPoint, geometry.KindPolyline, geometry.KindPolygon},
}

// Supports reports whether format f can carry entities of kind k.
func Supports(f Format, k geometry.Kind) bool {
	return slices.Contains(Capabilities[f], k)
}

// DefaultExtrasNamespace keys the glTF extras written on nodes and the scene.
const DefaultExtrasNamespace = "pipevision"

// Options narrows and tunes an export.
type Options struct {
	// AssetTypes limits the artifact to entities of these types. Empty means
	// every entity.
	AssetTypes []string `json:"asset_types,omitempty"`

	// IncludeProperties adds the entities' free-form attributes.
	IncludeProperties bool `json:"include_properties,omitempty"`

	// Precision is the number of decimal places for coordinates.
	// 0 keeps the shortest representation that round-trips exactly.
	Precision int `json:"precision,omitempty"`

	// ExtrasNamespace keys glTF extras.
	ExtrasNamespace string `json:"extras_namespace,omitempty"`

	// DefaultDiameter is the pipe diameter in metres for entities without a
	// diameter attribute. 0 means [DefaultDiameter].
	DefaultDiameter float64 `json:"default_diameter,omitempty"`

	// Tubes makes glTF draw polylines as tubes of the pipe diameter instead
	// of lines.
	Tubes bool `json:"tubes,omitempty"`

	// NewProjector builds the transformations glTF uses to place geometry
	// in a local metric frame and KML uses to reach longitude, latitude.
	// Defaults to PROJ.
	NewProjector georef.Factory `json:"-"`
}

func (o *Options) setDefaults() {
	if o.ExtrasNamespace == "" {
		o.ExtrasNamespace = DefaultExtrasNamespace
	}
	if o.DefaultDiameter == 0 {
		o.DefaultDiameter = DefaultDiameter
	}
	if o.NewProjector == nil {
		o.NewProjector = georef.NewProjProjector
	}
}

// Validate checks option ranges.
func (o *Options) Validate() error {
	if o.Precision < 0 || o.Precision > 15 {
		return errors.New(errors.ErrCodeInvalidInput, "precision %d outside [0,15]", o.Precision)
	}
	if o.DefaultDiameter < 0 || math.IsNaN(o.DefaultDiameter) || math.IsInf(o.DefaultDiameter, 0) {
		return errors.New(errors.ErrCodeInvalidInput, "default diameter %g must be a positive number of metres", o.DefaultDiameter)
	}
	return nil
}

// Includes reports whether an asset type passes the filter.
func (o *Options) Includes(assetType string) bool {
	return len(o.AssetTypes) == 0 || slices.Contains(o.AssetTypes, assetType)
}

// Artifact is one export result. Data is never modified after creation.
type Artifact struct {
	Format   Format           `json:"format"`
	Data     []byte           `json:"-"`
	Checksum string           `json:"checksum"`
	Entities int              `json:"entities"`
	Warnings []errors.Warning `json:"warnings,omitempty"`
}

// Filename returns a file name for the artifact.
func (a *Artifact) Filename(base string) string {
	return base + a.Format.Extension()
}

func newArtifact(f Format, data []byte, entities int, warnings []errors.Warning) *Artifact {
	return &Artifact{
		Format:   f,
		Data:     data,
		Checksum: cache.Hash(data),
		Entities: entities,
		Warnings: warnings,
	}
}

// Export serializes m in the given format.
func Export(f Format, m *geometry.Model, classes classify.Results, opts Options) (*Artifact, error) {
	switch f {
	case FormatGeoJSON:
		return GeoJSON(m, classes, opts)
	case FormatCSV:
		return CSV(m, classes, opts)
	case FormatGLTF:
		return GLTF(m, classes, opts)
	case FormatKML:
		return KML(m, classes, opts)
	case FormatShapefile:
		return Shapefile(m, classes, opts)
	}
	return nil, errors.New(errors.ErrCodeInvalidFormat, "invalid format: %q", f)
}

// CheckPrecondition fails with EXPORT_PRECONDITION_FAILED when m still has a
// drawing-level gap or was never resolved.
func CheckPrecondition(m *geometry.Model) error {
	if m == nil {
		return errors.New(errors.ErrCodeExportPrecondition, "no geometry to export")
	}
	if gaps.HasDrawingLevel(m, nil) {
		var kinds []string
		for _, g := range gaps.DrawingLevel(gaps.Detect(m, nil, nil)) {
			kinds = append(kinds, string(g.Kind))
		}
		return errors.New(errors.ErrCodeExportPrecondition, "unresolved drawing-level gaps: %s", strings.Join(kinds, ", "))
	}
	if !m.Georeferenced {
		return errors.New(errors.ErrCodeExportPrecondition, "geometry has not been georeferenced")
	}
	return nil
}

// item is an entity selected for export with its classification.
type item struct {
	geometry.Entity
	class classify.Result
}

// prepare validates inputs and picks the entities format f will carry.
func prepare(f Format, m *geometry.Model, classes classify.Results, opts *Options) ([]item, []errors.Warning, error) {
	if err := CheckPrecondition(m); err != nil {
		return nil, nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	opts.setDefaults()

	var items []item
	var warnings []errors.Warning
	for _, e := range m.Entities {
		class := classes.Get(e.Handle)
		if !opts.Includes(class.AssetType) {
			continue
		}
		if !Supports(f, e.Kind) {
			warnings = append(warnings, errors.Warn(errors.ErrCodeUnsupportedGeometry, e.Handle,
				"%s cannot carry %s entities; excluded", f, e.Kind))
			continue
		}
		items = append(items, item{Entity: e, class: class})
	}
	return items, warnings, nil
}

// Scope returns the handles an export with opts would draw from m, in
// ingestion order. The orchestrator keys artifact invalidation on it.
func Scope(m *geometry.Model, classes classify.Results, opts Options) []string {
	var out []string
	for _, e := range m.Entities {
		if opts.Includes(classes.AssetType(e.Handle)) {
			out = append(out, e.Handle)
		}
	}
	return out
}

// round applies the precision option to a coordinate.
func round(v float64, precision int) float64 {
	if precision <= 0 {
		return v
	}
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}

// formatFloat renders a number for text formats.
func formatFloat(v float64, precision int) string {
	if precision <= 0 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', precision, 64)
}

// sortedKeys returns map keys in order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func describe(e item) string {
	return fmt.Sprintf("%s %s on %s", e.class.AssetType, e.Kind, e.Layer)
}
