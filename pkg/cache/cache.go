// Package cache stores derived pipeline outputs keyed by the exact inputs
// they were computed from.
//
// Two kinds of entries exist: resolved models, keyed by the ingested model
// and the metadata that resolved it, and export artifacts, keyed by the
// resolved state hash plus export options. Because every key embeds the
// state it was derived from, an edited model or metadata record never hits
// a stale entry; old entries simply age out.
//
// Backends:
//   - [NullCache]: caching disabled
//   - [FileCache]: one JSON file per entry, for the CLI
//   - [RedisCache]: shared cache for the HTTP adapter and workers
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key/value store with expiry.
type Cache interface {
	// Get returns the stored value and true, or nil and false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Clearer is implemented by caches that can drop every entry they own.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Entry lifetimes.
const (
	TTLResolved = 24 * time.Hour
	TTLArtifact = 7 * 24 * time.Hour
)

// Keyer derives cache keys.
type Keyer interface {
	// ResolvedKey keys a resolved model by the hash of the ingested model.
	ResolvedKey(modelHash string, opts ResolvedKeyOpts) string

	// ArtifactKey keys an export artifact by the resolved state hash.
	ArtifactKey(stateHash string, opts ArtifactKeyOpts) string
}

// ResolvedKeyOpts are the inputs besides the model that determine a
// resolution.
type ResolvedKeyOpts struct {
	TargetCRS    string `json:"target_crs"`
	MetadataHash string `json:"metadata_hash"`
}

// ArtifactKeyOpts are the export options that change artifact bytes.
type ArtifactKeyOpts struct {
	Format            string   `json:"format"`
	AssetTypes        []string `json:"asset_types,omitempty"`
	IncludeProperties bool     `json:"include_properties,omitempty"`
	Precision         int      `json:"precision,omitempty"`
	ExtrasNamespace   string   `json:"extras_namespace,omitempty"`
	DefaultDiameter   float64  `json:"default_diameter,omitempty"`
	Tubes             bool     `json:"tubes,omitempty"`
}

// DefaultKeyer hashes key components with SHA-256.
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// ResolvedKey implements Keyer.
func (DefaultKeyer) ResolvedKey(modelHash string, opts ResolvedKeyOpts) string {
	return hashKey("resolved", modelHash, opts)
}

// ArtifactKey implements Keyer.
func (DefaultKeyer) ArtifactKey(stateHash string, opts ArtifactKeyOpts) string {
	return hashKey("artifact", stateHash, opts)
}

var _ Keyer = DefaultKeyer{}
