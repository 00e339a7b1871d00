package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/metadata"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("PIPEVISION_TEST_REDIS")
	if addr == "" {
		t.Skip("PIPEVISION_TEST_REDIS not set")
	}
	s, err := New(context.Background(), Config{Addr: addr, Prefix: "pipevision:test:" + uuid.NewString() + ":"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	crs := "EPSG:2263"

	r, err := s.Get(ctx, "site-1")
	if err != nil {
		t.Fatal(err)
	}
	if r.Version != 0 {
		t.Fatalf("version = %d, want 0", r.Version)
	}

	r, err = s.Update(ctx, "site-1", 0, metadata.Patch{SourceCRS: &crs}.Apply)
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
	if got.SourceCRS != crs || got.Version != 1 {
		t.Errorf("Get() = %+v", got)
	}
}
