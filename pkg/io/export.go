package io

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/export"
)

// WriteArtifact writes a's bytes to path and returns the path written. When
// path is an existing directory the file is named "<base><ext>" inside it.
// The file is written to a temporary name and renamed into place.
func WriteArtifact(a *export.Artifact, path, base string) (string, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		name := a.Filename(base)
		if err := errors.ValidateOutputPath(name); err != nil {
			return "", err
		}
		path = filepath.Join(path, name)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".pipevision-*")
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(a.Data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename into %s: %w", path, err)
	}
	return path, nil
}

// WriteJSON encodes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}
