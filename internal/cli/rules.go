package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/pipevision/pipevision/pkg/classify"
)

// rulesCommand creates the rules command.
func (c *CLI) rulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the classification rule table",
	}

	cmd.AddCommand(c.rulesListCommand())
	cmd.AddCommand(c.rulesCheckCommand())

	return cmd
}

func (c *CLI) rulesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the rules in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := c.table()
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(t.Rules))
			for _, r := range t.Rules {
				match := r.Match
				if match == "" {
					match = classify.MatchPrefix
				}
				rows = append(rows, []string{r.ID, r.Pattern, string(match), r.AssetType, fmt.Sprintf("%.2f", r.Confidence)})
			}
			headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)
			fmt.Println(table.New().
				Border(lipgloss.RoundedBorder()).
				BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
				Headers("Rule", "Pattern", "Match", "Asset type", "Confidence").
				Rows(rows...).
				StyleFunc(func(row, col int) lipgloss.Style {
					if row == table.HeaderRow {
						return headerStyle
					}
					if col == 3 {
						return lipgloss.NewStyle().Foreground(lipgloss.Color(classify.Color(t.Rules[row].AssetType)))
					}
					return lipgloss.NewStyle()
				}).
				Render())
			printDetail("%d rules, threshold %.2f", len(t.Rules), t.Threshold)
			return nil
		},
	}
}

func (c *CLI) rulesCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <layer>...",
		Short: "Show which rule classifies each layer name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := c.table()
			if err != nil {
				return err
			}
			for _, layer := range args {
				r, ok := t.First(layer)
				switch {
				case !ok:
					printWarning("%s: %s", layer, classify.Unclassified)
				case r.Confidence < t.Threshold:
					printWarning("%s: %s via %s (confidence %.2f below %.2f)", layer, r.AssetType, r.ID, r.Confidence, t.Threshold)
				default:
					printSuccess("%s: %s via %s (confidence %.2f)", layer, r.AssetType, r.ID, r.Confidence)
				}
			}
			return nil
		},
	}
}

// table loads the configured rule table.
func (c *CLI) table() (*classify.Table, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	return cfg.LoadTable()
}
