package server

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pipevision/pipevision/pkg/errors"
	pvio "github.com/pipevision/pipevision/pkg/io"
)

// DrawingSource returns the parsed drawing for a project.
type DrawingSource interface {
	Drawing(ctx context.Context, projectID string) (*pvio.Drawing, error)
}

// DirSource reads <Dir>/<project id>.json.
type DirSource struct {
	Dir string
}

// Drawing loads the project's drawing file. A missing file is NOT_FOUND.
func (s DirSource) Drawing(_ context.Context, projectID string) (*pvio.Drawing, error) {
	if err := errors.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	path := filepath.Join(s.Dir, projectID+".json")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.New(errors.ErrCodeNotFound, "no drawing for project %s", projectID)
	}
	return pvio.ImportDrawing(path)
}

// MapSource serves drawings held in memory.
type MapSource map[string]*pvio.Drawing

// Drawing returns the stored drawing or NOT_FOUND.
func (s MapSource) Drawing(_ context.Context, projectID string) (*pvio.Drawing, error) {
	d, ok := s[projectID]
	if !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "no drawing for project %s", projectID)
	}
	return d, nil
}

var (
	_ DrawingSource = DirSource{}
	_ DrawingSource = MapSource(nil)
)
