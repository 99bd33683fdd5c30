package commands

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	colorPrimary = lipgloss.Color("#7aa2f7")
	colorDim     = lipgloss.Color("#565f89")
	colorError   = lipgloss.Color("#f7768e")
	colorSuccess = lipgloss.Color("#9ece6a")

	titleStyle  = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(colorDim)
	promptStyle = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(colorError)
)

const defaultWidth = 80

// terminalFile returns w as an *os.File attached to a terminal, or nil.
func terminalFile(w io.Writer) *os.File {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return f
}

// terminalWidth returns the width of w's terminal, or 80.
func terminalWidth(w io.Writer) int {
	f := terminalFile(w)
	if f == nil {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}

// renderer turns model output into what gets printed. Markdown is rendered
// only for terminals; everything else gets the text as is.
type renderer struct {
	tr *glamour.TermRenderer
}

func newRenderer(out io.Writer, raw bool) *renderer {
	if raw || terminalFile(out) == nil {
		return &renderer{}
	}
	tr, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(terminalWidth(out)-4),
	)
	if err != nil {
		return &renderer{}
	}
	return &renderer{tr: tr}
}

func (r *renderer) Render(text string) string {
	if r.tr == nil {
		return strings.TrimRight(text, "\n") + "\n"
	}
	out, err := r.tr.Render(text)
	if err != nil {
		return strings.TrimRight(text, "\n") + "\n"
	}
	return out
}

func formatError(err error) string {
	return errorStyle.Render("Error: " + err.Error())
}
