package mongostore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/metadata"
)

func TestStoreUpdate(t *testing.T) {
	uri := os.Getenv("PIPEVISION_TEST_MONGO")
	if uri == "" {
		t.Skip("PIPEVISION_TEST_MONGO not set")
	}
	ctx := context.Background()
	s, err := New(ctx, Config{URI: uri, Database: "pipevision_test", Collection: "metadata_" + uuid.NewString()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		_ = s.coll.Drop(context.Background())
		s.Close()
	})

	rotation := 0.0
	r, err := s.Update(ctx, "site-1", 0, metadata.Patch{Rotation: &rotation}.Apply)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if r.Version != 1 {
		t.Errorf("version = %d, want 1", r.Version)
	}

	if _, err := s.Update(ctx, "site-1", 0, nil); !errors.Is(err, errors.ErrCodeStaleMetadata) {
		t.Errorf("stale Update error = %v, want STALE_METADATA", err)
	}

	got, err := s.Get(ctx, "site-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Rotation == nil || *got.Rotation != 0 || got.Version != 1 {
		t.Errorf("Get() = %+v", got)
	}
}
