package buildinfo

import (
	"strings"
	"testing"
)

func TestTemplate(t *testing.T) {
	old := Version
	defer func() { Version = old }()
	Version = "v0.3.0"

	got := Template()
	if !strings.HasPrefix(got, "{{.Name}} version: v0.3.0\n") {
		t.Errorf("Template() = %q", got)
	}
	if !strings.HasSuffix(got, "built: "+Date+"\n") {
		t.Errorf("Template() = %q, want trailing build date", got)
	}
}
