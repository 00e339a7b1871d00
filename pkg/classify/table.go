package classify

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/pipevision/pipevision/pkg/errors"
)

// Asset types known to the built-in table.
const (
	Sewer    = "sewer"
	Storm    = "storm"
	Potable  = "potable"
	Gas      = "gas"
	Electric = "electric"
	Telecom  = "telecom"
	Fiber    = "fiber"
)

// builtinConfidence is assigned to every built-in rule.
const builtinConfidence = 0.8

var builtinKeywords = []struct {
	assetType string
	keywords  []string
}{
	{Sewer, []string{"sewer", "san", "sanitary", "ss", "swr"}},
	{Storm, []string{"storm", "drain", "sd", "stm", "drainage"}},
	{Potable, []string{"water", "potable", "wtr", "wm", "domestic"}},
	{Gas, []string{"gas", "natural", "ng", "fuel"}},
	{Electric, []string{"electric", "elec", "power", "hv", "lv", "mv"}},
	{Telecom, []string{"telecom", "telephone", "tel", "comm", "cable"}},
	{Fiber, []string{"fiber", "fibre", "fo", "optical"}},
}

// DefaultTable returns the built-in rule table. Each keyword becomes a
// prefix rule with id "<asset type>.<keyword>", in a fixed order.
func DefaultTable() *Table {
	t := &Table{Threshold: DefaultThreshold}
	for _, group := range builtinKeywords {
		for _, kw := range group.keywords {
			t.Rules = append(t.Rules, Rule{
				ID:         group.assetType + "." + kw,
				Pattern:    kw,
				Match:      MatchPrefix,
				AssetType:  group.assetType,
				Confidence: builtinConfidence,
			})
		}
	}
	return t
}

// ParseTable decodes a TOML rule table:
//
//	threshold = 0.6
//
//	[[rule]]
//	id = "sewer-main"
//	pattern = "ss"
//	match = "token"
//	asset_type = "sewer"
//	confidence = 0.9
//
// An absent threshold means [DefaultThreshold].
func ParseTable(data string) (*Table, error) {
	var t Table
	md, err := toml.Decode(data, &t)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "parse rule table")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.New(errors.ErrCodeInvalidFormat, "unknown rule table key %q", undecoded[0].String())
	}
	if !md.IsDefined("threshold") {
		t.Threshold = DefaultThreshold
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadTable reads a TOML rule table from path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule table: %w", err)
	}
	return ParseTable(string(data))
}

// WithThreshold returns a copy of t using a different threshold.
func (t *Table) WithThreshold(threshold float64) *Table {
	out := *t
	out.Rules = append([]Rule(nil), t.Rules...)
	out.Threshold = threshold
	return &out
}

// =============================================================================
// Colours
// =============================================================================

// UnclassifiedColor is used for unclassified and unknown asset types.
const UnclassifiedColor = "#808080"

var colors = map[string]string{
	Sewer:    "#8B4513",
	Storm:    "#4169E1",
	Potable:  "#00CED1",
	Gas:      "#FFD700",
	Electric: "#FF4500",
	Telecom:  "#9370DB",
	Fiber:    "#32CD32",
}

// Color returns the display colour for an asset type as "#RRGGBB".
func Color(assetType string) string {
	if c, ok := colors[assetType]; ok {
		return c
	}
	return UnclassifiedColor
}

// RGB returns the colour for an asset type as 8-bit components.
func RGB(assetType string) (r, g, b uint8) {
	var v uint32
	_, _ = fmt.Sscanf(Color(assetType)[1:], "%06x", &v)
	return uint8(v >> 16), uint8(v >> 8), uint8(v)
}
