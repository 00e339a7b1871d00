package cli

import (
	"slices"
	"testing"

	"github.com/pipevision/pipevision/pkg/export"
)

func TestParseFormats(t *testing.T) {
	tests := []struct {
		in      string
		want    []export.Format
		wantErr bool
	}{
		{"", []export.Format{export.FormatGeoJSON}, false},
		{"csv", []export.Format{export.FormatCSV}, false},
		{"geojson, shp,glb", []export.Format{export.FormatGeoJSON, export.FormatShapefile, export.FormatGLTF}, false},
		{"csv,CSV", []export.Format{export.FormatCSV}, false},
		{"dwg", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFormats(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
