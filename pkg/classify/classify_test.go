package classify

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/pipevision/pipevision/pkg/geometry"
	"github.com/pipevision/pipevision/pkg/metadata"
)

func model(t *testing.T, layers ...string) *geometry.Model {
	t.Helper()
	var es []geometry.Entity
	for i, l := range layers {
		es = append(es, geometry.Entity{
			Handle:   string(rune('A' + i)),
			Kind:     geometry.KindPoint,
			Layer:    l,
			Vertices: []geometry.Vertex{geometry.V2(float64(i), 0)},
		})
	}
	m, w := geometry.NewModel(es, geometry.UnitsFeet)
	if len(w) > 0 {
		t.Fatalf("NewModel warnings: %v", w)
	}
	return m
}

func TestTokens(t *testing.T) {
	tests := []struct {
		layer string
		want  []string
	}{
		{"SS-MH_8in", []string{"ss", "mh", "8in"}},
		{"Water Main", []string{"water", "main"}},
		{"--", nil},
		{"", nil},
	}
	for _, tt := range tests {
		if got := Tokens(tt.layer); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tokens(%q) = %v, want %v", tt.layer, got, tt.want)
		}
	}
}

func TestRuleMatches(t *testing.T) {
	tests := []struct {
		rule  Rule
		layer string
		want  bool
	}{
		{Rule{Pattern: "wtr"}, "C-WTR-MAIN", true},
		{Rule{Pattern: "wtr"}, "c-wtrline", true},
		{Rule{Pattern: "wtr"}, "C-NEWTR", false},
		{Rule{Pattern: "WTR", Match: MatchSubstring}, "c-newtr", true},
		{Rule{Pattern: "ss", Match: MatchToken}, "SS-MH", true},
		{Rule{Pattern: "ss", Match: MatchToken}, "SSD", false},
		{Rule{Pattern: ""}, "anything", false},
	}
	for _, tt := range tests {
		if got := tt.rule.Matches(tt.layer); got != tt.want {
			t.Errorf("Rule{%q,%q}.Matches(%q) = %v, want %v", tt.rule.Pattern, tt.rule.Match, tt.layer, got, tt.want)
		}
	}
}

func TestClassifyDefaultTable(t *testing.T) {
	tests := []struct {
		layer string
		want  string
	}{
		{"SS-MH", Sewer},
		{"SANITARY_SEWER", Sewer},
		{"STORM-DRAIN", Storm},
		{"C-WTR-MAIN", Potable},
		{"DOMESTIC WATER", Potable},
		{"GAS-HP", Gas},
		{"E-POWER", Electric},
		{"TEL-DUCT", Telecom},
		{"FO_TRUNK", Fiber},
		{"A-WALL", Unclassified},
		{"", Unclassified},
	}
	table := DefaultTable()
	for _, tt := range tests {
		m := model(t, tt.layer)
		got := Classify(m, table).Get("A")
		if got.AssetType != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.layer, got.AssetType, tt.want)
		}
		if tt.want == Unclassified && (got.Confidence != 0 || got.RuleID != "") {
			t.Errorf("Classify(%q) unmatched result = %+v, want zero confidence and no rule", tt.layer, got)
		}
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	table := &Table{Rules: []Rule{
		{ID: "weak", Pattern: "main", AssetType: Storm, Confidence: 0.6},
		{ID: "strong", Pattern: "wtr", AssetType: Potable, Confidence: 0.99},
	}}
	got := Classify(model(t, "WTR-MAIN"), table).Get("A")
	if got.RuleID != "weak" || got.AssetType != Storm {
		t.Errorf("Classify() = %+v, want first rule", got)
	}
}

func TestClassifyThreshold(t *testing.T) {
	table := &Table{Threshold: 0.7, Rules: []Rule{
		{ID: "low", Pattern: "gas", AssetType: Gas, Confidence: 0.4},
	}}
	got := Classify(model(t, "GAS"), table).Get("A")
	if got.Classified() {
		t.Errorf("below-threshold match should be unclassified, got %+v", got)
	}
	if got.RuleID != "low" || got.Confidence != 0.4 {
		t.Errorf("below-threshold match should keep rule and confidence, got %+v", got)
	}

	got = Classify(model(t, "GAS"), table.WithThreshold(0.3)).Get("A")
	if got.AssetType != Gas {
		t.Errorf("WithThreshold(0.3): %+v", got)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	m := model(t, "SS-MH", "WTR", "X", "GAS", "SS-MH")
	a, err := Marshal(Classify(m, DefaultTable()))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Marshal(Classify(m, DefaultTable()))
	if !bytes.Equal(a, b) {
		t.Errorf("classification not byte-identical:\n%s\n%s", a, b)
	}
}

func TestApplyOverrides(t *testing.T) {
	m := model(t, "MISC", "MISC", "SS")
	rs := Classify(m, DefaultTable())
	rec := &metadata.Record{
		AssetTypeByHandle: map[string]string{"B": Gas},
		AssetTypeByLayer:  map[string]string{"MISC": Telecom},
	}
	out := ApplyOverrides(rs, m, rec)

	want := map[string]string{"A": Telecom, "B": Gas, "C": Sewer}
	for h, at := range want {
		if got := out.AssetType(h); got != at {
			t.Errorf("AssetType(%s) = %s, want %s", h, got, at)
		}
	}
	if out["A"].RuleID != OverrideRuleID || out["A"].Confidence != 1 {
		t.Errorf("override result = %+v", out["A"])
	}
	if rs.AssetType("A") != Unclassified {
		t.Error("ApplyOverrides mutated its input")
	}
}

func TestParseTable(t *testing.T) {
	table, err := ParseTable(`
[[rule]]
id = "ss"
pattern = "ss"
match = "token"
asset_type = "sewer"
confidence = 0.9
`)
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}
	if table.Threshold != DefaultThreshold {
		t.Errorf("Threshold = %v, want default", table.Threshold)
	}
	if len(table.Rules) != 1 || table.Rules[0].Match != MatchToken {
		t.Errorf("Rules = %+v", table.Rules)
	}

	zero, err := ParseTable("threshold = 0.0\n")
	if err != nil {
		t.Fatal(err)
	}
	if zero.Threshold != 0 {
		t.Errorf("explicit zero threshold = %v", zero.Threshold)
	}

	bad := []string{
		`[[rule]]
id = "x"
pattern = "a"
asset_type = "gas"
confidence = 1.5`,
		`[[rule]]
id = "x"
pattern = "a"
match = "regex"
asset_type = "gas"`,
		`[[rule]]
id = "x"
pattern = "a"
asset_type = "gas"
[[rule]]
id = "x"
pattern = "b"
asset_type = "gas"`,
		`colour = "red"`,
		`[[rule`,
	}
	for _, src := range bad {
		if _, err := ParseTable(src); err == nil {
			t.Errorf("ParseTable(%q) succeeded, want error", src)
		}
	}
}

func TestDefaultTableValid(t *testing.T) {
	if err := DefaultTable().Validate(); err != nil {
		t.Fatalf("DefaultTable().Validate() = %v", err)
	}
}

func TestColor(t *testing.T) {
	if got := Color(Sewer); got != "#8B4513" {
		t.Errorf("Color(sewer) = %s", got)
	}
	if got := Color(Unclassified); got != UnclassifiedColor {
		t.Errorf("Color(unclassified) = %s", got)
	}
	if r, g, b := RGB(Gas); r != 0xFF || g != 0xD7 || b != 0 {
		t.Errorf("RGB(gas) = %d,%d,%d", r, g, b)
	}
}
