package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/export"
	pvio "github.com/pipevision/pipevision/pkg/io"
)

// exportFlags holds the export command's options.
type exportFlags struct {
	formats           string
	output            string
	assetTypes        []string
	precision         int
	includeProperties bool
	namespace         string
	diameter          float64
	tubes             bool
}

// exportCommand creates the export command.
func (c *CLI) exportCommand() *cobra.Command {
	var (
		flags runFlags
		ef    exportFlags
	)

	cmd := &cobra.Command{
		Use:   "export <drawing.json>",
		Short: "Export a resolved drawing to GeoJSON, CSV, glTF, KML or Shapefile",
		Long: `Export resolves the drawing against its stored metadata and, when nothing
is missing, writes one artifact per requested format.

Formats: geojson, csv, gltf (binary .glb), kml, shapefile (.zip with one
shapefile per geometry type). Several formats may be given comma-separated.
A drawing that still has gaps is refused with EXPORT_PRECONDITION_FAILED.`,
		Example: `  pipevision export -f geojson site.json
  pipevision export -f csv,kml -o out/ --asset-type gas,sewer site.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			formats, err := parseFormats(ef.formats)
			if err != nil {
				return err
			}
			cfg, err := c.config()
			if err != nil {
				return err
			}
			opts := ef.options(cmd, cfg.ExportOptions())
			if err := opts.Validate(); err != nil {
				return err
			}

			spinner := newSpinnerWithContext(ctx, "Resolving drawing...")
			spinner.Start()
			runner, run, err := c.process(ctx, args[0], flags)
			spinner.Stop()
			if err != nil {
				return err
			}
			defer runner.Close()

			if !run.Ready() {
				printGaps(run.Gaps)
				printNewline()
				printNextStep("Answer the gaps", "pipevision gaps -i "+args[0])
				return errors.New(errors.ErrCodeExportPrecondition,
					"project %s has %d open gaps", run.ProjectID, len(run.Gaps))
			}

			if ef.output == "" {
				ef.output = "."
			}
			if len(formats) > 1 {
				if err := os.MkdirAll(ef.output, 0o755); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
			}

			for _, f := range formats {
				prog := newProgress(c.Logger)
				art, err := runner.Export(ctx, run, f, opts)
				if err != nil {
					return err
				}
				path, err := pvio.WriteArtifact(art, ef.output, run.ProjectID)
				if err != nil {
					return err
				}
				prog.done(fmt.Sprintf("Exported %s", f))
				printSuccess("%s · %d entities · %s", f, art.Entities, art.Checksum[:12])
				printFile(path)
				printWarnings(art.Warnings)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&ef.formats, "format", "f", "geojson", "output formats, comma-separated")
	cmd.Flags().StringVarP(&ef.output, "output", "o", "", "output file or directory (default current directory)")
	cmd.Flags().StringSliceVar(&ef.assetTypes, "asset-type", nil, "only export these asset types")
	cmd.Flags().IntVar(&ef.precision, "precision", 0, "decimal places for coordinates (0 = shortest exact)")
	cmd.Flags().BoolVar(&ef.includeProperties, "include-properties", false, "include entity attributes")
	cmd.Flags().StringVar(&ef.namespace, "extras-namespace", "", "glTF extras namespace")
	cmd.Flags().Float64Var(&ef.diameter, "default-diameter", 0, "pipe diameter in metres for entities without one (0 = 0.15)")
	cmd.Flags().BoolVar(&ef.tubes, "tubes", false, "draw glTF polylines as pipe tubes")
	return cmd
}

// options overlays explicitly set flags on the configured defaults.
func (ef *exportFlags) options(cmd *cobra.Command, defaults export.Options) export.Options {
	opts := defaults
	if cmd.Flags().Changed("asset-type") {
		opts.AssetTypes = ef.assetTypes
	}
	if cmd.Flags().Changed("precision") {
		opts.Precision = ef.precision
	}
	if cmd.Flags().Changed("include-properties") {
		opts.IncludeProperties = ef.includeProperties
	}
	if ef.namespace != "" {
		opts.ExtrasNamespace = ef.namespace
	}
	if cmd.Flags().Changed("default-diameter") {
		opts.DefaultDiameter = ef.diameter
	}
	if cmd.Flags().Changed("tubes") {
		opts.Tubes = ef.tubes
	}
	return opts
}

// parseFormats parses a comma-separated format list, dropping duplicates.
func parseFormats(s string) ([]export.Format, error) {
	if strings.TrimSpace(s) == "" {
		return []export.Format{export.FormatGeoJSON}, nil
	}
	var out []export.Format
	seen := map[export.Format]bool{}
	for _, part := range strings.Split(s, ",") {
		f, err := export.ParseFormat(part)
		if err != nil {
			return nil, err
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}
