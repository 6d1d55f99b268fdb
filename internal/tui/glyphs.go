package tui

import (
	"os"
	"strings"
	"sync"

	"packlist/internal/model"
)

// Some fonts render the status marks badly; PACKLIST_TUI_GLYPHS=ascii
// switches every affordance to plain ASCII.

type glyphSet int

const (
	glyphSetUnicode glyphSet = iota
	glyphSetASCII
)

var (
	glyphsMu      sync.RWMutex
	currentGlyphs = glyphSetUnicode
)

func applyGlyphPreference() {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("PACKLIST_TUI_GLYPHS"))) {
	case "", "unicode", "utf8":
		setGlyphs(glyphSetUnicode)
	case "ascii":
		setGlyphs(glyphSetASCII)
	}
}

func setGlyphs(gs glyphSet) {
	glyphsMu.Lock()
	currentGlyphs = gs
	glyphsMu.Unlock()
}

func glyphs() glyphSet {
	glyphsMu.RLock()
	gs := currentGlyphs
	glyphsMu.RUnlock()
	return gs
}

func glyphStatus(s model.Status) string {
	ascii := glyphs() == glyphSetASCII
	switch s {
	case model.StatusComplete:
		if ascii {
			return "(*)"
		}
		return "●"
	case model.StatusPartial:
		if ascii {
			return "(~)"
		}
		return "◐"
	default:
		if ascii {
			return "( )"
		}
		return "○"
	}
}

func glyphCheckbox(checked bool) string {
	if glyphs() == glyphSetASCII {
		if checked {
			return "[x]"
		}
		return "[ ]"
	}
	if checked {
		return "☑"
	}
	return "☐"
}

func glyphCursor() string {
	if glyphs() == glyphSetASCII {
		return ">"
	}
	return "›"
}

func glyphHRule() string {
	if glyphs() == glyphSetASCII {
		return "-"
	}
	return "─"
}
