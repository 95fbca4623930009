// Package output provides consistent CLI output formatting: styled on a
// TTY, plain text on pipes, CI, and redirects.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette. One accent color, everything else neutral.
const (
	colorAccent = "81"  // cyan-blue
	colorGray   = "245" // secondary text
	colorDim    = "238" // borders, separators
	colorRed    = "196" // errors
	colorYellow = "220" // warnings
	colorGreen  = "78"  // success
)

// Styles holds the render styles used by the writer and the job view.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Accent  lipgloss.Style
	Label   lipgloss.Style
	Panel   lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreen)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorDim)),
		Accent:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorDim)).
			Padding(0, 1),
	}
}

// PlainStyles renders without color for non-TTY output.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header: plain, Success: plain, Warning: plain, Error: plain,
		Dim: plain, Accent: plain, Label: plain, Panel: plain,
	}
}

// Writer prints command output. Color follows the destination: styled on a
// TTY, plain everywhere else.
type Writer struct {
	out    io.Writer
	styles Styles
}

// NewWriter builds a writer for out, detecting TTY capability when out is a
// file handle. NO_COLOR disables styling regardless.
func NewWriter(out io.Writer) *Writer {
	styled := false
	if f, ok := out.(*os.File); ok {
		styled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	if os.Getenv("NO_COLOR") != "" {
		styled = false
	}
	if styled {
		return &Writer{out: out, styles: DefaultStyles()}
	}
	return NewPlain(out)
}

// NewPlain builds an unstyled writer, for --plain or non-terminal output.
func NewPlain(out io.Writer) *Writer {
	return &Writer{out: out, styles: PlainStyles()}
}

// Write errors are ignored throughout; console output is best-effort.

func (w *Writer) Println(msg string) {
	_, _ = fmt.Fprintln(w.out, msg)
}

func (w *Writer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format+"\n", args...)
}

func (w *Writer) Header(msg string) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(msg))
}

func (w *Writer) Success(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.styles.Success.Render("✓ "+fmt.Sprintf(format, args...)))
}

func (w *Writer) Warning(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.styles.Warning.Render("! "+fmt.Sprintf(format, args...)))
}

func (w *Writer) Error(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.styles.Error.Render("✗ "+fmt.Sprintf(format, args...)))
}

// Field prints an aligned label: value line for status-style output.
func (w *Writer) Field(label, format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, "  %s %s\n",
		w.styles.Label.Render(fmt.Sprintf("%-22s", label+":")),
		fmt.Sprintf(format, args...))
}

// Hint prints a dimmed suggestion line.
func (w *Writer) Hint(msg string) {
	if msg == "" {
		return
	}
	_, _ = fmt.Fprintln(w.out, w.styles.Dim.Render("  hint: "+msg))
}
