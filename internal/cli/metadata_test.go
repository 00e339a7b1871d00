package cli

import (
	"io"
	"testing"

	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/geometry"
)

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    map[string]string
		wantErr bool
	}{
		{"none", nil, nil, false},
		{"pairs", []string{"H1=gas", " H2 = sewer "}, map[string]string{"H1": "gas", "H2": "sewer"}, false},
		{"missing equals", []string{"H1"}, nil, true},
		{"empty value", []string{"H1="}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAssignments(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestParseDepths(t *testing.T) {
	got, err := parseDepths([]string{"sewer=2.5", "water=1"})
	if err != nil {
		t.Fatalf("parseDepths() error: %v", err)
	}
	if got["sewer"] != 2.5 || got["water"] != 1 {
		t.Errorf("got %v", got)
	}
	if _, err := parseDepths([]string{"sewer=deep"}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}

func TestSetFlagsPatch(t *testing.T) {
	c := New(io.Discard, LogInfo)
	cmd := c.metadataSetCommand()
	if err := cmd.ParseFlags([]string{
		"--crs", "EPSG:2263",
		"--rotation", "0",
		"--depth-convention", "relative-depth",
		"--depth", "sewer=3",
		"--asset-type", "H1=gas",
	}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	var sf setFlags
	sf.sourceCRS, _ = cmd.Flags().GetString("crs")
	sf.rotation, _ = cmd.Flags().GetFloat64("rotation")
	sf.depthConvention, _ = cmd.Flags().GetString("depth-convention")
	sf.depthByType, _ = cmd.Flags().GetStringArray("depth")
	sf.typeByHandle, _ = cmd.Flags().GetStringArray("asset-type")

	p, err := sf.patch(cmd)
	if err != nil {
		t.Fatalf("patch() error: %v", err)
	}
	if p.SourceCRS == nil || *p.SourceCRS != "EPSG:2263" {
		t.Errorf("SourceCRS = %v", p.SourceCRS)
	}
	if p.Rotation == nil || *p.Rotation != 0 {
		t.Errorf("Rotation = %v, want explicit 0", p.Rotation)
	}
	if p.DepthConvention == nil || *p.DepthConvention != geometry.DepthRelative {
		t.Errorf("DepthConvention = %v", p.DepthConvention)
	}
	if p.TargetCRS != nil || p.DefaultDepth != nil {
		t.Error("unset flags should stay nil")
	}
	if p.DepthByAssetType["sewer"] != 3 || p.AssetTypeByHandle["H1"] != "gas" {
		t.Errorf("maps = %v %v", p.DepthByAssetType, p.AssetTypeByHandle)
	}
}

func TestSetFlagsBadConvention(t *testing.T) {
	c := New(io.Discard, LogInfo)
	cmd := c.metadataSetCommand()
	if err := cmd.ParseFlags([]string{"--depth-convention", "sideways"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	sf := setFlags{depthConvention: "sideways"}
	if _, err := sf.patch(cmd); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}
