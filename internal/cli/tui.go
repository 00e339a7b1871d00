package cli

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pipevision/pipevision/pkg/gaps"
	"github.com/pipevision/pipevision/pkg/metadata"
)

// List styles
var (
	listSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	listNormalStyle   = lipgloss.NewStyle().Foreground(colorWhite)
	listDimStyle      = lipgloss.NewStyle().Foreground(colorDim)
	listDoneStyle     = lipgloss.NewStyle().Foreground(colorGreen)
	listErrorStyle    = lipgloss.NewStyle().Foreground(colorRed)
)

// =============================================================================
// GapPickerModel - Interactive gap answering
// =============================================================================

// Answer is a value typed for one gap.
type Answer struct {
	Gap   gaps.Gap
	Value string
}

// GapPickerModel is the bubbletea model for answering gaps one at a time.
// Answers are validated as they are entered and written together when the
// user saves.
type GapPickerModel struct {
	Gaps    []gaps.Gap
	Cursor  int
	Answers map[int]Answer
	Saved   bool

	editing bool
	input   string
	err     string
}

// NewGapPickerModel creates a picker over gs.
func NewGapPickerModel(gs []gaps.Gap) GapPickerModel {
	return GapPickerModel{Gaps: gs, Answers: map[int]Answer{}}
}

func (m GapPickerModel) Init() tea.Cmd {
	return nil
}

func (m GapPickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if m.editing {
		return m.updateEditing(key)
	}

	switch key.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.Cursor > 0 {
			m.Cursor--
		}
	case "down", "j":
		if m.Cursor < len(m.Gaps)-1 {
			m.Cursor++
		}
	case "enter":
		if len(m.Gaps) == 0 {
			return m, nil
		}
		m.editing = true
		m.input = m.Answers[m.Cursor].Value
		m.err = ""
	case "w":
		m.Saved = len(m.Answers) > 0
		return m, tea.Quit
	}
	return m, nil
}

func (m GapPickerModel) updateEditing(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		m.editing = false
		m.err = ""
	case tea.KeyEnter:
		g := m.Gaps[m.Cursor]
		if _, err := answerPatch(g, m.input); err != nil {
			m.err = err.Error()
			return m, nil
		}
		m.Answers[m.Cursor] = Answer{Gap: g, Value: strings.TrimSpace(m.input)}
		m.editing = false
		m.err = ""
		if m.Cursor < len(m.Gaps)-1 {
			m.Cursor++
		}
		if len(m.Answers) == len(m.Gaps) {
			m.Saved = true
			return m, tea.Quit
		}
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
	case tea.KeyRunes, tea.KeySpace:
		m.input += string(key.Runes)
	}
	return m, nil
}

func (m GapPickerModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Missing Metadata"))
	b.WriteString("\n")
	if m.editing {
		b.WriteString(listDimStyle.Render("type a value  enter: accept  esc: back"))
	} else {
		b.WriteString(listDimStyle.Render("↑/↓ navigate  ⏎ answer  w: save  q: quit"))
	}
	b.WriteString("\n\n")

	for i, g := range m.Gaps {
		cursor := "  "
		style := listNormalStyle
		if i == m.Cursor {
			cursor = "▸ "
			style = listSelectedStyle
		}
		line := cursor + style.Render(g.String())
		if a, ok := m.Answers[i]; ok {
			line += " " + listDoneStyle.Render("= "+a.Value)
		}
		b.WriteString(line)
		b.WriteString("\n")
		if i == m.Cursor {
			b.WriteString("    " + listDimStyle.Render(g.Prompt))
			b.WriteString("\n")
		}
	}

	if m.editing {
		b.WriteString("\n")
		b.WriteString(listSelectedStyle.Render("> ") + m.input + "█")
		b.WriteString("\n")
	}
	if m.err != "" {
		b.WriteString(listErrorStyle.Render(m.err))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d answered]", len(m.Answers), len(m.Gaps))))
	return b.String()
}

// Patch merges every answer into one metadata patch.
func (m GapPickerModel) Patch() (metadata.Patch, error) {
	var out metadata.Patch
	for i := range m.Gaps {
		a, ok := m.Answers[i]
		if !ok {
			continue
		}
		p, err := answerPatch(a.Gap, a.Value)
		if err != nil {
			return metadata.Patch{}, err
		}
		out = mergePatch(out, p)
	}
	return out, nil
}
