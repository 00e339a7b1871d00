package cli

import (
	"os"

	"github.com/spf13/cobra"

	pvio "github.com/pipevision/pipevision/pkg/io"
	"github.com/pipevision/pipevision/pkg/pipeline"
)

// resolveCommand creates the resolve command.
func (c *CLI) resolveCommand() *cobra.Command {
	var (
		flags  runFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <drawing.json>",
		Short: "Georeference and classify a drawing against its stored metadata",
		Long: `Resolve ingests a parsed drawing, reads the project's metadata record and
runs coordinate resolution and classification.

The run ends either ready (nothing missing, exports may be requested) or
awaiting-input, with the list of gaps the validation wizard must fill.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog := newProgress(c.Logger)
			runner, run, err := c.process(cmd.Context(), args[0], flags)
			if err != nil {
				return err
			}
			defer runner.Close()

			if asJSON {
				return pvio.WriteJSON(os.Stdout, run)
			}
			prog.done("Resolved " + run.ProjectID)
			reportRun(run)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run as JSON")
	return cmd
}

// reportRun prints the run summary and what to do next.
func reportRun(run *pipeline.Run) {
	printRun(run)
	printNewline()
	printGaps(run.Gaps)
	printWarnings(run.Warnings)
	printNewline()
	if run.Ready() {
		printNextStep("Export it", "pipevision export -f geojson <drawing.json>")
		return
	}
	printNextStep("Answer the gaps", "pipevision gaps -i <drawing.json>")
}
