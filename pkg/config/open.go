package config

import (
	"context"
	"fmt"

	"github.com/pipevision/pipevision/pkg/cache"
	"github.com/pipevision/pipevision/pkg/classify"
	"github.com/pipevision/pipevision/pkg/export"
	"github.com/pipevision/pipevision/pkg/metadata"
	"github.com/pipevision/pipevision/pkg/metadata/mongostore"
	"github.com/pipevision/pipevision/pkg/metadata/redisstore"
)

// OpenStore connects the configured metadata store.
func (c *Config) OpenStore(ctx context.Context) (metadata.Store, error) {
	switch c.Store.Backend {
	case BackendMemory:
		return metadata.NewMemoryStore(), nil
	case BackendRedis:
		s, err := redisstore.New(ctx, redisstore.Config{
			Addr:     c.Store.RedisAddr,
			Password: c.Store.RedisPassword,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMongo:
		s, err := mongostore.New(ctx, mongostore.Config{
			URI:      c.Store.MongoURI,
			Database: c.Store.MongoDatabase,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendFile, "":
		s, err := metadata.NewFileStore(c.Store.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
}

// OpenCache connects the configured artifact cache. The "none" backend
// disables caching.
func (c *Config) OpenCache(ctx context.Context) (cache.Cache, error) {
	switch c.Cache.Backend {
	case BackendNone:
		return cache.NewNullCache(), nil
	case BackendRedis:
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{Addr: c.Cache.RedisAddr})
		if err != nil {
			return nil, err
		}
		return rc, nil
	case BackendFile, "":
		dir, err := c.CacheDir()
		if err != nil {
			return nil, err
		}
		fc, err := cache.NewFileCache(dir)
		if err != nil {
			return nil, err
		}
		return fc, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
}

// Keyer returns the cache keyer, scoped when cache.namespace is set. A nil
// keyer selects the runner's default.
func (c *Config) Keyer() cache.Keyer {
	if c.Cache.Namespace == "" {
		return nil
	}
	return cache.NewScopedKeyer(nil, cache.Namespace(c.Cache.Namespace))
}

// CacheDir returns the file cache directory.
func (c *Config) CacheDir() (string, error) {
	if c.Cache.Dir != "" {
		return c.Cache.Dir, nil
	}
	return cache.DefaultDir()
}

// LoadTable returns the rule table from rules_file, or the built-in table,
// with confidence_threshold applied when set.
func (c *Config) LoadTable() (*classify.Table, error) {
	t := classify.DefaultTable()
	if c.RulesFile != "" {
		loaded, err := classify.LoadTable(c.RulesFile)
		if err != nil {
			return nil, err
		}
		t = loaded
	}
	if c.ConfidenceThreshold > 0 {
		t = t.WithThreshold(c.ConfidenceThreshold)
	}
	return t, t.Validate()
}

// ExportOptions returns the export defaults. CSV precision applies to every
// format that writes decimal coordinates.
func (c *Config) ExportOptions() export.Options {
	return export.Options{
		AssetTypes:      append([]string(nil), c.Export.AssetTypes...),
		Precision:       c.Export.CSVPrecision,
		ExtrasNamespace: c.Export.GLTFExtrasNamespace,
		DefaultDiameter: c.Export.DefaultDiameter,
		Tubes:           c.Export.GLTFTubes,
	}
}
