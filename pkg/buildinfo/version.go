// Package buildinfo holds version information stamped in at link time:
//
//	go build -ldflags "-X github.com/pipevision/pipevision/pkg/buildinfo.Version=v0.3.0 \
//	    -X github.com/pipevision/pipevision/pkg/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	    -X github.com/pipevision/pipevision/pkg/buildinfo.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/pipevision
package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns the build information, one field per line.
func String() string {
	return fmt.Sprintf("version: %s\ncommit: %s\nbuilt: %s", Version, Commit, Date)
}

// Template returns the cobra version template.
func Template() string {
	return "{{.Name}} " + String() + "\n"
}
