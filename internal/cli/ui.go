package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/pipevision/pipevision/pkg/classify"
	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/gaps"
	"github.com/pipevision/pipevision/pkg/pipeline"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorCyan   = lipgloss.Color("36")  // Teal - primary actions
	colorGreen  = lipgloss.Color("35")  // Green - success
	colorYellow = lipgloss.Color("220") // Amber - warnings
	colorRed    = lipgloss.Color("167") // Soft red - errors
	colorBlue   = lipgloss.Color("75")  // Light blue - commands
	colorWhite  = lipgloss.Color("255") // Bright white - values
	colorGray   = lipgloss.Color("245") // Gray - secondary text
	colorDim    = lipgloss.Color("240") // Dim gray - muted text
)

// =============================================================================
// Public Styles
// =============================================================================

var (
	// StyleTitle for main headings.
	StyleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)

	// StyleDim for secondary/muted text.
	StyleDim = lipgloss.NewStyle().Foreground(colorDim)

	// StyleValue for data values.
	StyleValue = lipgloss.NewStyle().Foreground(colorWhite)

	// StyleWarning for warning messages.
	StyleWarning = lipgloss.NewStyle().Foreground(colorYellow)
)

// =============================================================================
// Internal Styles
// =============================================================================

var (
	styleIconSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconError   = lipgloss.NewStyle().Foreground(colorRed)
	styleIconWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleIconInfo    = lipgloss.NewStyle().Foreground(colorGray)
	styleIconSpinner = lipgloss.NewStyle().Foreground(colorCyan)

	styleReady    = lipgloss.NewStyle().Foreground(colorGreen)
	styleAwaiting = lipgloss.NewStyle().Foreground(colorYellow)

	styleCommand = lipgloss.NewStyle().Foreground(colorBlue)
)

// =============================================================================
// Icons
// =============================================================================

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "!"
	iconInfo    = "›"
	iconArrow   = "→"
)

// =============================================================================
// Status Output
// =============================================================================

func printSuccess(format string, args ...any) {
	fmt.Println(styleIconSuccess.Render(iconSuccess) + " " + fmt.Sprintf(format, args...))
}

func printError(format string, args ...any) {
	fmt.Println(styleIconError.Render(iconError) + " " + fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	fmt.Println(styleIconWarning.Render(iconWarning) + " " + StyleWarning.Render(fmt.Sprintf(format, args...)))
}

func printInfo(format string, args ...any) {
	fmt.Println(styleIconInfo.Render(iconInfo) + " " + fmt.Sprintf(format, args...))
}

// printDetail prints an indented, dimmed line.
func printDetail(format string, args ...any) {
	fmt.Println("  " + StyleDim.Render(fmt.Sprintf(format, args...)))
}

// printFile prints a file output line.
func printFile(path string) {
	fmt.Println("  " + StyleDim.Render(iconArrow) + " " + StyleValue.Render(path))
}

// printKeyValue prints a labeled value.
func printKeyValue(key, value string) {
	keyStyle := lipgloss.NewStyle().Foreground(colorGray).Width(18)
	fmt.Println(keyStyle.Render(key) + " " + StyleValue.Render(value))
}

// printNextStep prints a suggested next command.
func printNextStep(description, cmd string) {
	fmt.Println(StyleDim.Render(description+":") + " " + styleCommand.Render(cmd))
}

func printNewline() {
	fmt.Println()
}

// =============================================================================
// Run Display
// =============================================================================

// printRun prints the run summary: status, counts and bounds.
func printRun(run *pipeline.Run) {
	status := styleAwaiting.Render(run.Status())
	if run.Ready() {
		status = styleReady.Render(run.Status())
	}
	fmt.Println(StyleTitle.Render(run.ProjectID) + " " + status)

	printKeyValue("entities", fmt.Sprintf("%d", run.Ingested.Len()))
	printKeyValue("metadata version", fmt.Sprintf("%d", run.MetadataVersion))
	if b, ok := run.Ingested.Bounds(); ok {
		printKeyValue("bounds", fmt.Sprintf("(%g, %g) – (%g, %g)", b.MinX, b.MinY, b.MaxX, b.MaxY))
	}
	if run.Model != nil {
		printKeyValue("target crs", run.Model.TargetCRS)
	}
	if len(run.Classes) > 0 {
		printKeyValue("asset types", classSummary(run.Classes))
	}
}

// classSummary renders per-asset-type counts in a stable order.
func classSummary(rs classify.Results) string {
	counts := map[string]int{}
	for _, r := range rs {
		counts[r.AssetType]++
	}
	var parts []string
	for _, t := range sortedKeys(counts) {
		parts = append(parts, fmt.Sprintf("%s %d", t, counts[t]))
	}
	return strings.Join(parts, " · ")
}

// gapRows renders gaps as table rows.
func gapRows(gs []gaps.Gap) [][]string {
	rows := make([][]string, 0, len(gs))
	for i, g := range gs {
		handles := "drawing"
		if !g.DrawingLevel() {
			handles = strings.Join(g.Handles, ", ")
		}
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), string(g.Kind), handles, g.Prompt})
	}
	return rows
}

// printGaps prints the gap list as a table.
func printGaps(gs []gaps.Gap) {
	if len(gs) == 0 {
		printSuccess("No missing metadata")
		return
	}
	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("#", "Gap", "Applies to", "Prompt").
		Rows(gapRows(gs)...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 {
				return lipgloss.NewStyle().Foreground(colorYellow)
			}
			return lipgloss.NewStyle()
		})
	fmt.Println(t.Render())
}

// printWarnings lists accumulated warnings.
func printWarnings(ws []errors.Warning) {
	for _, w := range ws {
		printWarning("%s", w.String())
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
