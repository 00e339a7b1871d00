package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/geometry"
	pvio "github.com/pipevision/pipevision/pkg/io"
	"github.com/pipevision/pipevision/pkg/metadata"
)

// metadataCommand creates the metadata command.
func (c *CLI) metadataCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Show or edit a project's metadata record",
	}

	cmd.AddCommand(c.metadataShowCommand())
	cmd.AddCommand(c.metadataSetCommand())

	return cmd
}

func (c *CLI) metadataShowCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <project>",
		Short: "Print the stored metadata record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.newRunner(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer runner.Close()

			rec, err := runner.Store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return pvio.WriteJSON(os.Stdout, rec)
			}
			printRecord(rec)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the record as JSON")
	return cmd
}

// setFlags are the answers "metadata set" can write.
type setFlags struct {
	version         int64
	sourceCRS       string
	targetCRS       string
	rotation        float64
	depthConvention string
	defaultDepth    float64
	depthByType     []string
	depthByHandle   []string
	typeByHandle    []string
	typeByLayer     []string
}

func (c *CLI) metadataSetCommand() *cobra.Command {
	var sf setFlags

	cmd := &cobra.Command{
		Use:   "set <project>",
		Short: "Write wizard answers to the metadata record",
		Long: `Set writes answers to the project's metadata record.

The write is checked against the record's version: pass --version with the
version you read, or omit it to write against the current version. A record
that advanced in the meantime is refused with STALE_METADATA.`,
		Example: `  pipevision metadata set site-42 --crs EPSG:2263 --rotation 15
  pipevision metadata set site-42 --depth sewer=2.5 --asset-type H12=gas`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			patch, err := sf.patch(cmd)
			if err != nil {
				return err
			}
			if patch.Empty() {
				return errors.New(errors.ErrCodeInvalidInput, "nothing to set")
			}

			runner, err := c.newRunner(ctx, true)
			if err != nil {
				return err
			}
			defer runner.Close()

			expected := sf.version
			if !cmd.Flags().Changed("version") {
				current, err := runner.Store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				expected = current.Version
			}
			rec, err := runner.Store.Update(ctx, args[0], expected, patch.Apply)
			if err != nil {
				return err
			}
			printSuccess("Metadata for %s is at version %d", rec.ProjectID, rec.Version)
			return nil
		},
	}

	f := cmd.Flags()
	f.Int64Var(&sf.version, "version", 0, "expected record version")
	f.StringVar(&sf.sourceCRS, "crs", "", "source CRS, e.g. EPSG:2263")
	f.StringVar(&sf.targetCRS, "target-crs", "", "target CRS")
	f.Float64Var(&sf.rotation, "rotation", 0, "rotation to north in degrees")
	f.StringVar(&sf.depthConvention, "depth-convention", "", "absolute-elevation, relative-depth or none")
	f.Float64Var(&sf.defaultDepth, "default-depth", 0, "depth for every 2D entity without a more specific answer")
	f.StringArrayVar(&sf.depthByType, "depth", nil, "depth per asset type, TYPE=DEPTH (repeatable)")
	f.StringArrayVar(&sf.depthByHandle, "handle-depth", nil, "depth per entity, HANDLE=DEPTH (repeatable)")
	f.StringArrayVar(&sf.typeByHandle, "asset-type", nil, "asset type per entity, HANDLE=TYPE (repeatable)")
	f.StringArrayVar(&sf.typeByLayer, "layer-type", nil, "asset type per layer, LAYER=TYPE (repeatable)")
	return cmd
}

// patch builds a metadata patch from the flags that were set.
func (sf *setFlags) patch(cmd *cobra.Command) (metadata.Patch, error) {
	var p metadata.Patch
	changed := cmd.Flags().Changed

	if changed("crs") {
		p.SourceCRS = &sf.sourceCRS
	}
	if changed("target-crs") {
		p.TargetCRS = &sf.targetCRS
	}
	if changed("rotation") {
		p.Rotation = &sf.rotation
	}
	if changed("depth-convention") {
		conv := geometry.DepthConvention(sf.depthConvention)
		if !conv.Valid() {
			return p, errors.New(errors.ErrCodeInvalidInput, "unknown depth convention %q", sf.depthConvention)
		}
		p.DepthConvention = &conv
	}
	if changed("default-depth") {
		p.DefaultDepth = &sf.defaultDepth
	}

	var err error
	if p.DepthByAssetType, err = parseDepths(sf.depthByType); err != nil {
		return p, err
	}
	if p.DepthByHandle, err = parseDepths(sf.depthByHandle); err != nil {
		return p, err
	}
	if p.AssetTypeByHandle, err = parseAssignments(sf.typeByHandle); err != nil {
		return p, err
	}
	if p.AssetTypeByLayer, err = parseAssignments(sf.typeByLayer); err != nil {
		return p, err
	}
	return p, nil
}

// parseAssignments parses KEY=VALUE pairs.
func parseAssignments(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "expected KEY=VALUE, got %q", pair)
		}
		out[k] = v
	}
	return out, nil
}

// parseDepths parses KEY=DEPTH pairs.
func parseDepths(pairs []string) (map[string]float64, error) {
	kv, err := parseAssignments(pairs)
	if err != nil || kv == nil {
		return nil, err
	}
	out := make(map[string]float64, len(kv))
	for k, v := range kv {
		d, err := parseFinite(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = d
	}
	return out, nil
}

// printRecord prints a metadata record.
func printRecord(rec *metadata.Record) {
	fmt.Println(StyleTitle.Render(rec.ProjectID) + " " + StyleDim.Render(fmt.Sprintf("version %d", rec.Version)))
	printKeyValue("source crs", orUnset(rec.SourceCRS))
	printKeyValue("target crs", orUnset(rec.TargetCRS))
	if rec.Rotation != nil {
		printKeyValue("rotation", fmt.Sprintf("%g°", *rec.Rotation))
	} else {
		printKeyValue("rotation", orUnset(""))
	}
	printKeyValue("depth convention", orUnset(string(rec.DepthConvention)))
	if rec.DefaultDepth != nil {
		printKeyValue("default depth", fmt.Sprintf("%g", *rec.DefaultDepth))
	}
	for _, k := range sortedKeys(rec.DepthByAssetType) {
		printKeyValue("depth "+k, fmt.Sprintf("%g", rec.DepthByAssetType[k]))
	}
	for _, k := range sortedKeys(rec.DepthByHandle) {
		printKeyValue("depth ["+k+"]", fmt.Sprintf("%g", rec.DepthByHandle[k]))
	}
	for _, k := range sortedKeys(rec.AssetTypeByLayer) {
		printKeyValue("layer "+k, rec.AssetTypeByLayer[k])
	}
	for _, k := range sortedKeys(rec.AssetTypeByHandle) {
		printKeyValue("type ["+k+"]", rec.AssetTypeByHandle[k])
	}
	if !rec.UpdatedAt.IsZero() {
		printDetail("updated %s", rec.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	}
}

func orUnset(s string) string {
	if s == "" {
		return StyleDim.Render("unset")
	}
	return s
}
