package errors

import (
	"testing"
)

func TestValidateProjectID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid uuid", "0b7c5f0e-4a9b-4c7d-9a41-8d2f0f1c2b3a", false},
		{"valid slug", "main-street_2024", false},

		{"empty", "", true},
		{"too long", string(make([]byte, 200)), true},
		{"path traversal", "..", true},
		{"slash", "a/b", true},
		{"backslash", "a\\b", true},
		{"null byte", "a\x00b", true},
		{"newline", "a\nb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProjectID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProjectID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateCRS(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"EPSG:4326", false},
		{"EPSG:2263", false},
		{"OGC:CRS84", false},
		{"ESRI:102718", false},

		{"", true},
		{"4326", true},
		{"EPSG:", true},
		{"EPSG 4326", true},
		{":4326", true},
	}

	for _, tt := range tests {
		err := ValidateCRS(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateCRS(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if err != nil && !Is(err, ErrCodeInvalidCRS) {
			t.Errorf("ValidateCRS(%q) code = %v, want %v", tt.input, GetCode(err), ErrCodeInvalidCRS)
		}
	}
}

func TestValidateOutputPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "points.shp", false},
		{"nested", "lines/lines.dbf", false},

		{"empty", "", true},
		{"absolute", "/etc/passwd", true},
		{"traversal", "../x.shp", true},
		{"backslash", "a\\b.shp", true},
		{"control", "a\x01.shp", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutputPath(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOutputPath(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
