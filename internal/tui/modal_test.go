package tui

import (
	"strings"
	"testing"

	xansi "github.com/charmbracelet/x/ansi"
)

func TestRenderInputLine_StaysOnOneLine(t *testing.T) {
	line := renderInputLine(20, "abc\ndef"+strings.Repeat("x", 40))
	if strings.Contains(line, "\n") {
		t.Fatalf("input line wrapped: %q", line)
	}
	if w := xansi.StringWidth(line); w > 20 {
		t.Fatalf("width %d exceeds 20", w)
	}
}

func TestModalBodyWidth(t *testing.T) {
	if got := modalBodyWidth(200); got != modalMaxWidth-2*modalPadX {
		t.Fatalf("wide terminal: %d", got)
	}
	if got := modalBodyWidth(10); got != 24-2*modalPadX {
		t.Fatalf("narrow terminal: %d", got)
	}
}

func TestRenderConfirmModal(t *testing.T) {
	out := renderConfirmModal(80, "Delete item", "Delete \"Tarp\"?", "Delete", "Cancel", confirmFocusCancel)
	for _, want := range []string{"Delete item", "Delete \"Tarp\"?", "Delete", "Cancel", "esc: cancel"} {
		if !strings.Contains(out, want) {
			t.Fatalf("modal missing %q:\n%s", want, out)
		}
	}
}

func TestThemeFromEnv(t *testing.T) {
	t.Setenv("PACKLIST_TUI_THEME", "")
	t.Setenv("PACKLIST_TUI_DARKBG", "")
	t.Setenv("COLORFGBG", "")
	if _, ok := themeFromEnv(); ok {
		t.Fatalf("expected no preference")
	}

	t.Setenv("COLORFGBG", "15;0")
	if dark, ok := themeFromEnv(); !ok || !dark {
		t.Fatalf("COLORFGBG 15;0 should be dark")
	}
	t.Setenv("PACKLIST_TUI_DARKBG", "false")
	if dark, ok := themeFromEnv(); !ok || dark {
		t.Fatalf("DARKBG=false should win over COLORFGBG")
	}
	t.Setenv("PACKLIST_TUI_THEME", "dark")
	if dark, ok := themeFromEnv(); !ok || !dark {
		t.Fatalf("THEME=dark should win")
	}
}
