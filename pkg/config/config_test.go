package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/pipevision/pipevision/pkg/cache"
	"github.com/pipevision/pipevision/pkg/classify"
	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/metadata"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.TargetCRS != DefaultTargetCRS {
		t.Errorf("TargetCRS = %q, want %q", cfg.TargetCRS, DefaultTargetCRS)
	}
	if cfg.Store.Backend != BackendFile || cfg.Cache.Backend != BackendFile {
		t.Errorf("backends = %q/%q, want file/file", cfg.Store.Backend, cfg.Cache.Backend)
	}
	if cfg.Server.Addr != DefaultServerAddr {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse(`
target_crs = "EPSG:3857"
confidence_threshold = 0.7

[store]
backend = "redis"
redis_addr = "localhost:6379"

[cache]
backend = "none"

[export]
gltf_extras_namespace = "acme"
csv_precision = 6
asset_types = ["gas", "sewer"]
default_diameter = 0.2
gltf_tubes = true
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.TargetCRS != "EPSG:3857" || cfg.ConfidenceThreshold != 0.7 {
		t.Errorf("top level = %q/%v", cfg.TargetCRS, cfg.ConfidenceThreshold)
	}
	if cfg.Store.Backend != BackendRedis || cfg.Store.RedisAddr != "localhost:6379" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Server.Addr != DefaultServerAddr {
		t.Errorf("unset Server.Addr = %q, want default", cfg.Server.Addr)
	}

	opts := cfg.ExportOptions()
	if opts.ExtrasNamespace != "acme" || opts.Precision != 6 || opts.DefaultDiameter != 0.2 || !opts.Tubes {
		t.Errorf("ExportOptions = %+v", opts)
	}
	if !reflect.DeepEqual(opts.AssetTypes, []string{"gas", "sewer"}) {
		t.Errorf("AssetTypes = %v", opts.AssetTypes)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   errors.Code
	}{
		{"bad crs", func(c *Config) { c.TargetCRS = "wgs84" }, errors.ErrCodeInvalidCRS},
		{"threshold", func(c *Config) { c.ConfidenceThreshold = 1.5 }, errors.ErrCodeInvalidInput},
		{"store backend", func(c *Config) { c.Store.Backend = "sqlite" }, errors.ErrCodeInvalidInput},
		{"cache backend", func(c *Config) { c.Cache.Backend = "memcached" }, errors.ErrCodeInvalidInput},
		{"redis addr", func(c *Config) { c.Store.Backend = BackendRedis }, errors.ErrCodeInvalidInput},
		{"mongo uri", func(c *Config) { c.Store.Backend = BackendMongo }, errors.ErrCodeInvalidInput},
		{"cache redis addr", func(c *Config) { c.Cache.Backend = BackendRedis }, errors.ErrCodeInvalidInput},
		{"precision", func(c *Config) { c.Export.CSVPrecision = 16 }, errors.ErrCodeInvalidInput},
		{"diameter", func(c *Config) { c.Export.DefaultDiameter = -0.1 }, errors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.code) {
				t.Errorf("Validate() = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestParseUnknownBackend(t *testing.T) {
	if _, err := Parse("[store]\nbackend = \"etcd\"\n"); err == nil {
		t.Error("Parse accepted an unknown store backend")
	}
	if _, err := Parse("target_crs = ["); !errors.Is(err, errors.ErrCodeInvalidFormat) {
		t.Errorf("Parse(malformed) = %v, want INVALID_FORMAT", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PIPEVISION_TARGET_CRS":              "EPSG:32618",
		"PIPEVISION_CONFIDENCE_THRESHOLD":    "0.25",
		"PIPEVISION_CACHE_BACKEND":           "none",
		"PIPEVISION_EXPORT_CSV_PRECISION":    "3",
		"PIPEVISION_EXPORT_ASSET_TYPES":      "gas, ,potable",
		"PIPEVISION_EXPORT_GLTF_TUBES":       "true",
		"PIPEVISION_EXPORT_DEFAULT_DIAMETER": "0.25",
		"PIPEVISION_SERVER_DRAWINGS_DIR":     "/srv/drawings",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.TargetCRS != "EPSG:32618" || cfg.ConfidenceThreshold != 0.25 {
		t.Errorf("top level = %q/%v", cfg.TargetCRS, cfg.ConfidenceThreshold)
	}
	if cfg.Cache.Backend != BackendNone || cfg.Export.CSVPrecision != 3 {
		t.Errorf("cache/export = %q/%d", cfg.Cache.Backend, cfg.Export.CSVPrecision)
	}
	if !reflect.DeepEqual(cfg.Export.AssetTypes, []string{"gas", "potable"}) {
		t.Errorf("AssetTypes = %v", cfg.Export.AssetTypes)
	}
	if cfg.Server.DrawingsDir != "/srv/drawings" {
		t.Errorf("DrawingsDir = %q", cfg.Server.DrawingsDir)
	}
	if !cfg.Export.GLTFTubes || cfg.Export.DefaultDiameter != 0.25 {
		t.Errorf("tubes/diameter = %v/%v", cfg.Export.GLTFTubes, cfg.Export.DefaultDiameter)
	}

	env["PIPEVISION_CONFIDENCE_THRESHOLD"] = "high"
	if err := Default().applyEnv(lookup); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("applyEnv(bad float) = %v, want INVALID_INPUT", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	// Missing default file falls back to defaults.
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(default, missing): %v", err)
	}
	if cfg.Path != "" {
		t.Errorf("Path = %q, want empty", cfg.Path)
	}

	path := filepath.Join(dir, "pipevision", "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("[store]\nbackend = \"memory\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load(default): %v", err)
	}
	if cfg.Path != path || cfg.Store.Backend != BackendMemory {
		t.Errorf("Load = %q/%q", cfg.Path, cfg.Store.Backend)
	}

	t.Setenv("PIPEVISION_STORE_BACKEND", "file")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load(explicit): %v", err)
	}
	if cfg.Store.Backend != BackendFile {
		t.Errorf("env override: Store.Backend = %q, want file", cfg.Store.Backend)
	}

	if _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("Load(explicit missing) succeeded")
	}
}

func TestOpenStoreAndCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := Default()
	cfg.Store.Dir = filepath.Join(dir, "store")
	cfg.Cache.Dir = filepath.Join(dir, "cache")

	store, err := cfg.OpenStore(ctx)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*metadata.FileStore); !ok {
		t.Errorf("OpenStore = %T, want *metadata.FileStore", store)
	}

	c, err := cfg.OpenCache(ctx)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer c.Close()
	fc, ok := c.(*cache.FileCache)
	if !ok {
		t.Fatalf("OpenCache = %T, want *cache.FileCache", c)
	}
	if fc.Dir() != cfg.Cache.Dir {
		t.Errorf("cache dir = %q, want %q", fc.Dir(), cfg.Cache.Dir)
	}

	cfg.Store.Backend = BackendMemory
	cfg.Cache.Backend = BackendNone
	if s, _ := cfg.OpenStore(ctx); s == nil {
		t.Error("OpenStore(memory) = nil")
	} else if _, ok := s.(*metadata.MemoryStore); !ok {
		t.Errorf("OpenStore(memory) = %T", s)
	}
	if c, _ := cfg.OpenCache(ctx); c == nil {
		t.Error("OpenCache(none) = nil")
	} else if _, ok := c.(*cache.NullCache); !ok {
		t.Errorf("OpenCache(none) = %T", c)
	}
}

func TestLoadTable(t *testing.T) {
	cfg := Default()
	table, err := cfg.LoadTable()
	if err != nil {
		t.Fatalf("LoadTable(builtin): %v", err)
	}
	if table.Threshold != classify.DefaultThreshold {
		t.Errorf("Threshold = %v, want %v", table.Threshold, classify.DefaultThreshold)
	}

	path := filepath.Join(t.TempDir(), "rules.toml")
	rules := `
[[rule]]
id = "vault"
pattern = "vault"
match = "substring"
asset_type = "gas"
confidence = 0.9
`
	if err := os.WriteFile(path, []byte(rules), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.RulesFile = path
	cfg.ConfidenceThreshold = 0.95
	table, err = cfg.LoadTable()
	if err != nil {
		t.Fatalf("LoadTable(file): %v", err)
	}
	if len(table.Rules) != 1 || table.Rules[0].ID != "vault" {
		t.Errorf("Rules = %+v", table.Rules)
	}
	if table.Threshold != 0.95 {
		t.Errorf("Threshold = %v, want 0.95", table.Threshold)
	}
}

func TestKeyer(t *testing.T) {
	cfg := Default()
	if cfg.Keyer() != nil {
		t.Error("Keyer() without namespace should be nil")
	}
	cfg.Cache.Namespace = "staging"
	k := cfg.Keyer()
	if k == nil {
		t.Fatal("Keyer() with namespace returned nil")
	}
	if got := k.ArtifactKey("s", cache.ArtifactKeyOpts{Format: "csv"}); !strings.HasPrefix(got, "ns:staging:") {
		t.Errorf("ArtifactKey() = %q, want ns:staging: prefix", got)
	}
}
