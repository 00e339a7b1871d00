package io

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/geometry"
)

// Drawing is a parsed drawing as delivered by the CAD parser.
type Drawing struct {
	ProjectID string            `json:"project_id,omitempty"`
	Units     geometry.Units    `json:"units,omitempty"`
	INSUNITS  *int              `json:"$INSUNITS,omitempty"`
	Entities  []geometry.Entity `json:"entities"`
}

// ReadDrawing decodes a drawing from r. Units fall back to the $INSUNITS
// code and then to unknown. ReadDrawing does not close r.
func ReadDrawing(r io.Reader) (*Drawing, error) {
	var d Drawing
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "decode drawing")
	}
	if d.Entities == nil {
		return nil, errors.New(errors.ErrCodeInvalidFormat, "drawing has no entities array")
	}
	if d.Units == "" {
		d.Units = geometry.UnitsUnknown
		if d.INSUNITS != nil {
			d.Units = geometry.UnitsFromINSUNITS(*d.INSUNITS)
		}
	}
	return &d, nil
}

// ImportDrawing reads a drawing file.
func ImportDrawing(path string) (*Drawing, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadDrawing(f)
}
