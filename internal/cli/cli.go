// Package cli implements the pipevision command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/pipevision/pipevision/pkg/buildinfo"
	"github.com/pipevision/pipevision/pkg/cache"
	"github.com/pipevision/pipevision/pkg/config"
	pvio "github.com/pipevision/pipevision/pkg/io"
	"github.com/pipevision/pipevision/pkg/pipeline"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "pipevision"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	cfg        *config.Config
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "PipeVision georeferences utility drawings and exports them for AR",
		Long: `PipeVision turns a parsed CAD drawing into a georeferenced, classified asset
dataset. It reports the metadata a drawing is missing (CRS, rotation, depth,
asset type), records the answers, and exports GeoJSON, CSV, glTF, KML and
Shapefile artifacts once nothing is missing.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/pipevision/config.toml)")

	root.AddCommand(c.resolveCommand())
	root.AddCommand(c.gapsCommand())
	root.AddCommand(c.exportCommand())
	root.AddCommand(c.metadataCommand())
	root.AddCommand(c.rulesCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// config loads the configuration once per invocation.
func (c *CLI) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Path != "" {
		c.Logger.Debug("loaded config", "path", cfg.Path)
	}
	c.cfg = cfg
	return cfg, nil
}

// =============================================================================
// Runner Factory
// =============================================================================

// newRunner creates a pipeline runner over the configured store and cache.
func (c *CLI) newRunner(ctx context.Context, noCache bool) (*pipeline.Runner, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	store, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	var ch cache.Cache = cache.NewNullCache()
	if !noCache {
		ch, err = cfg.OpenCache(ctx)
		if err != nil {
			c.Logger.Warn("cache unavailable, continuing without it", "err", err)
			ch = cache.NewNullCache()
		}
	}
	return pipeline.NewRunner(store, ch, cfg.Keyer(), c.Logger), nil
}

// =============================================================================
// Drawing Helpers
// =============================================================================

// runFlags are the flags shared by commands that process a drawing.
type runFlags struct {
	project string
	refresh bool
	noCache bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.project, "project", "p", "", "project id (default: drawing's project_id, else file name)")
	cmd.Flags().BoolVar(&f.refresh, "refresh", false, "ignore cached resolutions")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "disable caching")
}

// loadDrawing reads a drawing and decides its project id: the flag, then the
// drawing's own id, then the file name without extension.
func loadDrawing(path, project string) (*pvio.Drawing, string, error) {
	d, err := pvio.ImportDrawing(path)
	if err != nil {
		return nil, "", err
	}
	switch {
	case project != "":
	case d.ProjectID != "":
		project = d.ProjectID
	default:
		project = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return d, project, nil
}

// pipelineOptions builds run options from the config and a drawing.
func (c *CLI) pipelineOptions(d *pvio.Drawing, project string, refresh bool) (pipeline.Options, error) {
	cfg, err := c.config()
	if err != nil {
		return pipeline.Options{}, err
	}
	table, err := cfg.LoadTable()
	if err != nil {
		return pipeline.Options{}, fmt.Errorf("load rule table: %w", err)
	}
	return pipeline.Options{
		ProjectID: project,
		Units:     d.Units,
		TargetCRS: cfg.TargetCRS,
		Refresh:   refresh,
		Table:     table,
		Logger:    c.Logger,
	}, nil
}

// process loads a drawing and runs it against the stored metadata. The
// caller closes the returned runner.
func (c *CLI) process(ctx context.Context, path string, f runFlags) (*pipeline.Runner, *pipeline.Run, error) {
	d, project, err := loadDrawing(path, f.project)
	if err != nil {
		return nil, nil, err
	}
	opts, err := c.pipelineOptions(d, project, f.refresh)
	if err != nil {
		return nil, nil, err
	}
	runner, err := c.newRunner(ctx, f.noCache)
	if err != nil {
		return nil, nil, err
	}
	run, err := runner.Process(ctx, d.Entities, opts)
	if err != nil {
		runner.Close()
		return nil, nil, err
	}
	return runner, run, nil
}
