package cli

import (
	"fmt"
	"maps"
	"math"
	"os"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/gaps"
	pvio "github.com/pipevision/pipevision/pkg/io"
	"github.com/pipevision/pipevision/pkg/metadata"
)

// gapsCommand creates the gaps command.
func (c *CLI) gapsCommand() *cobra.Command {
	var (
		flags       runFlags
		asJSON      bool
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "gaps <drawing.json>",
		Short: "List the metadata a drawing is missing",
		Long: `Gaps lists what must be answered before the drawing can be exported:
source CRS and rotation for the whole drawing, depth for 2D entities, and an
asset type for entities no rule classified.

With -i, the gaps are answered interactively and written to the metadata
store, after which the drawing is resolved again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runner, run, err := c.process(ctx, args[0], flags)
			if err != nil {
				return err
			}
			defer runner.Close()

			if asJSON {
				return pvio.WriteJSON(os.Stdout, run.Gaps)
			}
			if !interactive || run.Ready() {
				printGaps(run.Gaps)
				return nil
			}

			final, err := tea.NewProgram(NewGapPickerModel(run.Gaps), tea.WithContext(ctx)).Run()
			if err != nil {
				return err
			}
			picker := final.(GapPickerModel)
			if !picker.Saved {
				printInfo("No answers saved")
				return nil
			}
			patch, err := picker.Patch()
			if err != nil {
				return err
			}
			if err := runner.ApplyMetadata(ctx, run, patch); err != nil {
				if errors.Is(err, errors.ErrCodeStaleMetadata) {
					printError("Metadata changed while you were answering; run gaps again")
				}
				return err
			}
			printSuccess("Saved %d answers (metadata version %d)", len(picker.Answers), run.MetadataVersion)
			printNewline()
			reportRun(run)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the gap list as JSON")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "answer gaps interactively")
	return cmd
}

// answerPatch converts a typed answer into the metadata patch that resolves
// the gap.
func answerPatch(g gaps.Gap, value string) (metadata.Patch, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return metadata.Patch{}, errors.New(errors.ErrCodeInvalidInput, "an answer is required")
	}

	switch g.Kind {
	case gaps.MissingCRS:
		if err := errors.ValidateCRS(value); err != nil {
			return metadata.Patch{}, err
		}
		return metadata.Patch{SourceCRS: &value}, nil

	case gaps.MissingRotation:
		deg, err := parseFinite(value)
		if err != nil {
			return metadata.Patch{}, err
		}
		return metadata.Patch{Rotation: &deg}, nil

	case gaps.MissingDepth:
		depth, err := parseFinite(value)
		if err != nil {
			return metadata.Patch{}, err
		}
		byHandle := make(map[string]float64, len(g.Handles))
		for _, h := range g.Handles {
			byHandle[h] = depth
		}
		return metadata.Patch{DepthByHandle: byHandle}, nil

	case gaps.Unclassified:
		byHandle := make(map[string]string, len(g.Handles))
		for _, h := range g.Handles {
			byHandle[h] = strings.ToLower(value)
		}
		return metadata.Patch{AssetTypeByHandle: byHandle}, nil
	}
	return metadata.Patch{}, fmt.Errorf("unknown gap kind %q", g.Kind)
}

// mergePatch overlays b on a. Scalar fields in b win; maps are merged.
func mergePatch(a, b metadata.Patch) metadata.Patch {
	if b.SourceCRS != nil {
		a.SourceCRS = b.SourceCRS
	}
	if b.TargetCRS != nil {
		a.TargetCRS = b.TargetCRS
	}
	if b.Rotation != nil {
		a.Rotation = b.Rotation
	}
	if b.DepthConvention != nil {
		a.DepthConvention = b.DepthConvention
	}
	if b.DefaultDepth != nil {
		a.DefaultDepth = b.DefaultDepth
	}
	a.DepthByAssetType = mergeInto(a.DepthByAssetType, b.DepthByAssetType)
	a.DepthByHandle = mergeInto(a.DepthByHandle, b.DepthByHandle)
	a.AssetTypeByHandle = mergeInto(a.AssetTypeByHandle, b.AssetTypeByHandle)
	a.AssetTypeByLayer = mergeInto(a.AssetTypeByLayer, b.AssetTypeByLayer)
	return a
}

func mergeInto[V any](dst, src map[string]V) map[string]V {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]V, len(src))
	}
	maps.Copy(dst, src)
	return dst
}

func parseFinite(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.New(errors.ErrCodeInvalidInput, "%q is not a number", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New(errors.ErrCodeInvalidInput, "%q is not finite", s)
	}
	return f, nil
}
