// Package config loads PipeVision settings from a TOML file and the
// environment.
//
// The file lives at $XDG_CONFIG_HOME/pipevision/config.toml (or
// ~/.config/pipevision/config.toml) unless a path is given explicitly. A
// missing file is not an error: every key has a default. Environment
// variables named PIPEVISION_<KEY> override the file, with dots in nested
// keys replaced by underscores (PIPEVISION_STORE_BACKEND, PIPEVISION_CACHE_DIR).
//
// # Example
//
//	target_crs = "EPSG:4326"
//	confidence_threshold = 0.6
//	rules_file = "/etc/pipevision/rules.toml"
//
//	[store]
//	backend = "redis"
//	redis_addr = "localhost:6379"
//
//	[cache]
//	backend = "file"
//
//	[export]
//	csv_precision = 7
//	default_diameter = 0.2
//	gltf_tubes = true
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/pipevision/pipevision/pkg/errors"
)

const appName = "pipevision"

// Backend names.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
	BackendNone   = "none"
)

// DefaultTargetCRS is the target CRS when neither the config nor the
// metadata record names one.
const DefaultTargetCRS = "EPSG:4326"

// DefaultServerAddr is the listen address for "pipevision serve".
const DefaultServerAddr = ":8080"

// Config is the full configuration tree.
type Config struct {
	TargetCRS           string  `toml:"target_crs"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	RulesFile           string  `toml:"rules_file"`

	Store  StoreConfig  `toml:"store"`
	Cache  CacheConfig  `toml:"cache"`
	Export ExportConfig `toml:"export"`
	Server ServerConfig `toml:"server"`

	// Path is the file the config was read from, empty when none existed.
	Path string `toml:"-"`
}

// StoreConfig selects the metadata store backend.
type StoreConfig struct {
	Backend       string `toml:"backend"`
	Dir           string `toml:"dir"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	MongoURI      string `toml:"mongo_uri"`
	MongoDatabase string `toml:"mongo_database"`
}

// CacheConfig selects the artifact cache backend.
type CacheConfig struct {
	Backend   string `toml:"backend"`
	Dir       string `toml:"dir"`
	RedisAddr string `toml:"redis_addr"`
	Namespace string `toml:"namespace"`
}

// ExportConfig holds export defaults.
type ExportConfig struct {
	GLTFExtrasNamespace string   `toml:"gltf_extras_namespace"`
	CSVPrecision        int      `toml:"csv_precision"`
	AssetTypes          []string `toml:"asset_types"`
	DefaultDiameter     float64  `toml:"default_diameter"`
	GLTFTubes           bool     `toml:"gltf_tubes"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Addr        string `toml:"addr"`
	DrawingsDir string `toml:"drawings_dir"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		TargetCRS: DefaultTargetCRS,
		Store:     StoreConfig{Backend: BackendFile},
		Cache:     CacheConfig{Backend: BackendFile},
		Server:    ServerConfig{Addr: DefaultServerAddr},
	}
}

// DefaultPath returns the XDG config file location.
func DefaultPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName, "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".config", appName, "config.toml"), nil
}

// Load reads the config at path, or at DefaultPath when path is empty, then
// applies environment overrides. An explicit path that does not exist is an
// error; a missing default file is not.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !os.IsNotExist(err) || explicit {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		cfg.Path = path
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a TOML document over the defaults without reading the
// environment.
func Parse(data string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and backend names.
func (c *Config) Validate() error {
	if c.TargetCRS != "" {
		if err := errors.ValidateCRS(c.TargetCRS); err != nil {
			return err
		}
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.New(errors.ErrCodeInvalidInput, "confidence_threshold %v outside [0,1]", c.ConfidenceThreshold)
	}
	switch c.Store.Backend {
	case BackendFile, BackendMemory, BackendRedis, BackendMongo:
	default:
		return errors.New(errors.ErrCodeInvalidInput, "unknown store backend %q", c.Store.Backend)
	}
	switch c.Cache.Backend {
	case BackendFile, BackendRedis, BackendNone:
	default:
		return errors.New(errors.ErrCodeInvalidInput, "unknown cache backend %q", c.Cache.Backend)
	}
	if c.Store.Backend == BackendRedis && c.Store.RedisAddr == "" {
		return errors.New(errors.ErrCodeInvalidInput, "store.redis_addr is required for the redis backend")
	}
	if c.Store.Backend == BackendMongo && c.Store.MongoURI == "" {
		return errors.New(errors.ErrCodeInvalidInput, "store.mongo_uri is required for the mongo backend")
	}
	if c.Cache.Backend == BackendRedis && c.Cache.RedisAddr == "" {
		return errors.New(errors.ErrCodeInvalidInput, "cache.redis_addr is required for the redis backend")
	}
	if c.Export.CSVPrecision < 0 || c.Export.CSVPrecision > 15 {
		return errors.New(errors.ErrCodeInvalidInput, "export.csv_precision %d outside [0,15]", c.Export.CSVPrecision)
	}
	if c.Export.DefaultDiameter < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "export.default_diameter %v is negative", c.Export.DefaultDiameter)
	}
	return nil
}

// =============================================================================
// Environment overrides
// =============================================================================

// applyEnv overrides fields from PIPEVISION_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"TARGET_CRS":                   &c.TargetCRS,
		"RULES_FILE":                   &c.RulesFile,
		"STORE_BACKEND":                &c.Store.Backend,
		"STORE_DIR":                    &c.Store.Dir,
		"STORE_REDIS_ADDR":             &c.Store.RedisAddr,
		"STORE_REDIS_PASSWORD":         &c.Store.RedisPassword,
		"STORE_MONGO_URI":              &c.Store.MongoURI,
		"STORE_MONGO_DATABASE":         &c.Store.MongoDatabase,
		"CACHE_BACKEND":                &c.Cache.Backend,
		"CACHE_DIR":                    &c.Cache.Dir,
		"CACHE_REDIS_ADDR":             &c.Cache.RedisAddr,
		"CACHE_NAMESPACE":              &c.Cache.Namespace,
		"EXPORT_GLTF_EXTRAS_NAMESPACE": &c.Export.GLTFExtrasNamespace,
		"SERVER_ADDR":                  &c.Server.Addr,
		"SERVER_DRAWINGS_DIR":          &c.Server.DrawingsDir,
	}
	for name, dst := range strs {
		if v, ok := lookup(envName(name)); ok {
			*dst = v
		}
	}

	if v, ok := lookup(envName("CONFIDENCE_THRESHOLD")); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidInput, err, "%s", envName("CONFIDENCE_THRESHOLD"))
		}
		c.ConfidenceThreshold = f
	}
	if v, ok := lookup(envName("EXPORT_CSV_PRECISION")); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidInput, err, "%s", envName("EXPORT_CSV_PRECISION"))
		}
		c.Export.CSVPrecision = n
	}
	if v, ok := lookup(envName("EXPORT_DEFAULT_DIAMETER")); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidInput, err, "%s", envName("EXPORT_DEFAULT_DIAMETER"))
		}
		c.Export.DefaultDiameter = f
	}
	if v, ok := lookup(envName("EXPORT_GLTF_TUBES")); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidInput, err, "%s", envName("EXPORT_GLTF_TUBES"))
		}
		c.Export.GLTFTubes = b
	}
	if v, ok := lookup(envName("EXPORT_ASSET_TYPES")); ok {
		c.Export.AssetTypes = splitList(v)
	}
	return nil
}

func envName(key string) string {
	return "PIPEVISION_" + key
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
