package cli

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pipevision/pipevision/pkg/gaps"
)

func typeKeys(m GapPickerModel, s string) GapPickerModel {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return next.(GapPickerModel)
}

func press(m GapPickerModel, k tea.KeyType) (GapPickerModel, tea.Cmd) {
	next, cmd := m.Update(tea.KeyMsg{Type: k})
	return next.(GapPickerModel), cmd
}

func testGaps() []gaps.Gap {
	return []gaps.Gap{
		gaps.CRS("Which CRS?"),
		gaps.Rotation("Which rotation?"),
	}
}

func TestGapPickerAnswerAll(t *testing.T) {
	m := NewGapPickerModel(testGaps())

	m, _ = press(m, tea.KeyEnter)
	if !m.editing {
		t.Fatal("enter should start editing")
	}
	m = typeKeys(m, "EPSG:2263")
	m, _ = press(m, tea.KeyEnter)
	if m.editing || m.Cursor != 1 {
		t.Fatalf("editing = %v, cursor = %d; want next gap", m.editing, m.Cursor)
	}

	m, _ = press(m, tea.KeyEnter)
	m = typeKeys(m, "15")
	m, cmd := press(m, tea.KeyEnter)
	if !m.Saved || cmd == nil {
		t.Fatal("answering every gap should save and quit")
	}

	p, err := m.Patch()
	if err != nil {
		t.Fatalf("Patch() error: %v", err)
	}
	if p.SourceCRS == nil || *p.SourceCRS != "EPSG:2263" {
		t.Errorf("SourceCRS = %v", p.SourceCRS)
	}
	if p.Rotation == nil || *p.Rotation != 15 {
		t.Errorf("Rotation = %v", p.Rotation)
	}
}

func TestGapPickerRejectsInvalid(t *testing.T) {
	m := NewGapPickerModel(testGaps())
	m, _ = press(m, tea.KeyEnter)
	m = typeKeys(m, "nonsense")
	m, _ = press(m, tea.KeyEnter)

	if !m.editing {
		t.Error("invalid answer should keep the editor open")
	}
	if m.err == "" {
		t.Error("expected an error message")
	}
	if len(m.Answers) != 0 {
		t.Errorf("Answers = %v, want none", m.Answers)
	}
	if !strings.Contains(m.View(), m.err) {
		t.Error("View() should show the error")
	}
}

func TestGapPickerBackspaceAndEscape(t *testing.T) {
	m := NewGapPickerModel(testGaps())
	m, _ = press(m, tea.KeyEnter)
	m = typeKeys(m, "12")
	m, _ = press(m, tea.KeyBackspace)
	if m.input != "1" {
		t.Errorf("input = %q, want %q", m.input, "1")
	}
	m, _ = press(m, tea.KeyEsc)
	if m.editing {
		t.Error("esc should leave the editor")
	}
}

func TestGapPickerNavigationAndSave(t *testing.T) {
	m := NewGapPickerModel(testGaps())

	m, _ = press(m, tea.KeyDown)
	m, _ = press(m, tea.KeyDown)
	if m.Cursor != 1 {
		t.Errorf("Cursor = %d, want 1", m.Cursor)
	}
	m, _ = press(m, tea.KeyUp)
	if m.Cursor != 0 {
		t.Errorf("Cursor = %d, want 0", m.Cursor)
	}

	// Saving with no answers quits without marking saved.
	m = typeKeys(m, "w")
	if m.Saved {
		t.Error("save with no answers should not mark Saved")
	}

	m = NewGapPickerModel(testGaps())
	m, _ = press(m, tea.KeyEnter)
	m = typeKeys(m, "EPSG:4326")
	m, _ = press(m, tea.KeyEnter)
	m = typeKeys(m, "w")
	if !m.Saved {
		t.Error("save with one answer should mark Saved")
	}
}
