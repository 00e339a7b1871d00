// Package classify assigns asset types to drawing entities from their layer
// names.
//
// Classification evaluates an ordered [Table] of rules. The first rule whose
// pattern matches an entity's layer wins; there is no scoring across rules.
// An entity no rule matches is [Unclassified] with confidence 0. A match whose
// confidence falls below the table threshold is also reported as
// unclassified, keeping the rule id so the wizard can show what nearly
// matched.
//
// Wizard answers stored in the metadata record (per-handle and per-layer
// asset types) are applied on top with [ApplyOverrides].
//
// # Usage
//
//	table, err := classify.LoadTable("rules.toml") // or classify.DefaultTable()
//	results := classify.Classify(model, table)
//	results = classify.ApplyOverrides(results, model, record)
package classify

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/geometry"
	"github.com/pipevision/pipevision/pkg/metadata"
)

// Unclassified is the asset type of entities no rule accepted.
const Unclassified = "unclassified"

// OverrideRuleID marks results that came from a wizard answer.
const OverrideRuleID = "override"

// DefaultThreshold is the confidence below which a match stays unclassified
// when the table does not set its own threshold.
const DefaultThreshold = 0.5

// Match selects how a rule pattern is compared against a layer name.
type Match string

// Match modes. All comparisons are case-insensitive.
const (
	// MatchPrefix matches when any layer token starts with the pattern.
	MatchPrefix Match = "prefix"
	// MatchToken matches when any layer token equals the pattern.
	MatchToken Match = "token"
	// MatchSubstring matches when the whole layer name contains the pattern.
	MatchSubstring Match = "substring"
)

// Rule maps a layer-name pattern to an asset type.
type Rule struct {
	ID         string  `json:"id" toml:"id"`
	Pattern    string  `json:"pattern" toml:"pattern"`
	Match      Match   `json:"match,omitempty" toml:"match"`
	AssetType  string  `json:"asset_type" toml:"asset_type"`
	Confidence float64 `json:"confidence" toml:"confidence"`
}

// Matches reports whether the rule accepts a layer name.
func (r Rule) Matches(layer string) bool {
	pattern := strings.ToLower(r.Pattern)
	if pattern == "" {
		return false
	}
	switch r.Match {
	case MatchSubstring:
		return strings.Contains(strings.ToLower(layer), pattern)
	case MatchToken:
		for _, tok := range Tokens(layer) {
			if tok == pattern {
				return true
			}
		}
	default:
		for _, tok := range Tokens(layer) {
			if strings.HasPrefix(tok, pattern) {
				return true
			}
		}
	}
	return false
}

// Tokens splits a layer name into lower-case alphanumeric runs.
// "SS-MH_8in" yields [ss mh 8in].
func Tokens(layer string) []string {
	return strings.FieldsFunc(strings.ToLower(layer), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Table is an ordered rule list plus the acceptance threshold.
type Table struct {
	Threshold float64 `json:"threshold" toml:"threshold"`
	Rules     []Rule  `json:"rules" toml:"rule"`
}

// Validate checks rule ids, patterns, match modes and confidences.
func (t *Table) Validate() error {
	if t.Threshold < 0 || t.Threshold > 1 {
		return errors.New(errors.ErrCodeInvalidInput, "threshold %v outside [0,1]", t.Threshold)
	}
	seen := make(map[string]bool, len(t.Rules))
	for i, r := range t.Rules {
		if r.ID == "" {
			return errors.New(errors.ErrCodeInvalidInput, "rule %d has no id", i)
		}
		if seen[r.ID] {
			return errors.New(errors.ErrCodeInvalidInput, "duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if strings.TrimSpace(r.Pattern) == "" {
			return errors.New(errors.ErrCodeInvalidInput, "rule %q has an empty pattern", r.ID)
		}
		switch r.Match {
		case "", MatchPrefix, MatchToken, MatchSubstring:
		default:
			return errors.New(errors.ErrCodeInvalidInput, "rule %q: unknown match %q", r.ID, r.Match)
		}
		if r.AssetType == "" {
			return errors.New(errors.ErrCodeInvalidInput, "rule %q has no asset type", r.ID)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return errors.New(errors.ErrCodeInvalidInput, "rule %q: confidence %v outside [0,1]", r.ID, r.Confidence)
		}
	}
	return nil
}

// First returns the first rule matching layer.
func (t *Table) First(layer string) (Rule, bool) {
	for _, r := range t.Rules {
		if r.Matches(layer) {
			return r, true
		}
	}
	return Rule{}, false
}

// Result is the classification of one entity.
type Result struct {
	AssetType  string  `json:"asset_type" bson:"asset_type"`
	Confidence float64 `json:"confidence" bson:"confidence"`
	RuleID     string  `json:"rule_id,omitempty" bson:"rule_id,omitempty"`
}

// Classified reports whether the entity has a usable asset type.
func (r Result) Classified() bool {
	return r.AssetType != "" && r.AssetType != Unclassified
}

// Results maps entity handles to their classification.
type Results map[string]Result

// Get returns the result for handle, or an unclassified result if absent.
func (rs Results) Get(handle string) Result {
	if r, ok := rs[handle]; ok {
		return r
	}
	return Result{AssetType: Unclassified}
}

// AssetType returns the asset type for handle.
func (rs Results) AssetType(handle string) string {
	return rs.Get(handle).AssetType
}

// Marshal encodes results deterministically (JSON object keys are sorted).
func Marshal(rs Results) ([]byte, error) {
	data, err := json.Marshal(rs)
	if err != nil {
		return nil, fmt.Errorf("marshal classification: %w", err)
	}
	return data, nil
}

// Classify evaluates the table against every entity's layer. Layers are
// matched once and the answer reused for every entity on that layer.
func Classify(m *geometry.Model, t *Table) Results {
	threshold := t.Threshold
	byLayer := make(map[string]Result)
	out := make(Results, m.Len())

	for _, e := range m.Entities {
		res, ok := byLayer[e.Layer]
		if !ok {
			res = Result{AssetType: Unclassified}
			if rule, hit := t.First(e.Layer); hit {
				res = Result{AssetType: rule.AssetType, Confidence: rule.Confidence, RuleID: rule.ID}
				if rule.Confidence < threshold {
					res.AssetType = Unclassified
				}
			}
			byLayer[e.Layer] = res
		}
		out[e.Handle] = res
	}
	return out
}

// ApplyOverrides returns a copy of rs with the record's asset-type answers
// applied. Overrides carry confidence 1 and rule id [OverrideRuleID].
func ApplyOverrides(rs Results, m *geometry.Model, r *metadata.Record) Results {
	out := make(Results, len(rs))
	for k, v := range rs {
		out[k] = v
	}
	if r == nil {
		return out
	}
	for _, e := range m.Entities {
		if assetType, ok := r.AssetTypeOverride(e.Handle, e.Layer); ok {
			out[e.Handle] = Result{AssetType: assetType, Confidence: 1, RuleID: OverrideRuleID}
		}
	}
	return out
}
