package cli

import (
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	colorGreen  = lipgloss.Color("#a6e3a1")
	colorRed    = lipgloss.Color("#f38ba8")
	colorYellow = lipgloss.Color("#f9e2af")
	colorBlue   = lipgloss.Color("#89b4fa")
	colorMuted  = lipgloss.Color("#6c7086")
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// detectWidth returns the terminal width, honouring COLUMNS.
func detectWidth() int {
	if cols, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && cols > 0 {
		return clampWidth(cols)
	}
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return clampWidth(w)
	}
	return 80
}

func clampWidth(w int) int {
	if w < 72 {
		return 72
	}
	if w > 120 {
		return 120
	}
	return w
}

// supportsUnicode guesses from the locale whether glyphs render.
func supportsUnicode() bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	for _, env := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		v := strings.ToLower(os.Getenv(env))
		if strings.Contains(v, "utf-8") || strings.Contains(v, "utf8") {
			return true
		}
	}
	return false
}

// printer renders text output, styled only when writing to a terminal.
type printer struct {
	w       io.Writer
	styled  bool
	unicode bool
}

func newPrinter(w io.Writer) *printer {
	styled := isTerminal(w)
	return &printer{w: w, styled: styled, unicode: styled && supportsUnicode()}
}

func (p *printer) style(c lipgloss.Color, s string, bold bool) string {
	if !p.styled {
		return s
	}
	return lipgloss.NewStyle().Foreground(c).Bold(bold).Render(s)
}

func (p *printer) title(s string) string { return p.style(colorBlue, s, true) }
func (p *printer) muted(s string) string { return p.style(colorMuted, s, false) }

// badge renders a pass/fail marker.
func (p *printer) badge(passed bool) string {
	switch {
	case passed && p.unicode:
		return p.style(colorGreen, "✓ PASS", true)
	case passed:
		return p.style(colorGreen, "PASS", true)
	case p.unicode:
		return p.style(colorRed, "✗ FAIL", true)
	default:
		return p.style(colorRed, "FAIL", true)
	}
}

// status colours a run status string.
func (p *printer) status(s string) string {
	switch s {
	case "passed":
		return p.style(colorGreen, s, true)
	case "failed", "error":
		return p.style(colorRed, s, true)
	default:
		return p.style(colorYellow, s, false)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
