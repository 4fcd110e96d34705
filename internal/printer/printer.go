// Package printer renders CLI messages with colour. Messages go to stdout and errors to
// stderr unless a Printer is built with other writers.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Printer writes formatted CLI output.
type Printer struct {
	out io.Writer
	err io.Writer
}

// New returns a printer writing to out and errOut.
func New(out, errOut io.Writer) *Printer {
	return &Printer{out: out, err: errOut}
}

var std = New(os.Stdout, os.Stderr)

// Success prints a success message in green with a checkmark prefix
func (p *Printer) Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(p.out, msg)
}

// Info prints an informational message in the default color
func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// Warning prints a warning message in yellow
func (p *Printer) Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(p.out, msg)
}

// Step prints a step message with emphasis (used in multi-step operations)
func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintf(p.out, "→ %s", fmt.Sprintf(format, a...))
}

// Hint prints a dimmed follow-up suggestion
func (p *Printer) Hint(format string, a ...any) {
	faint.Fprintf(p.out, format, a...)
}

// Error prints a title, an explanation and numbered suggestions to the error writer.
// The returned error carries only the title, for Cobra.
func (p *Printer) Error(title string, explanation string, suggestions []string) error {
	return p.ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details printed between explanation and suggestions.
func (p *Printer) ErrorWithContext(title string, explanation string, details map[string]string, suggestions []string) error {
	red.Fprintf(p.err, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(p.err, "%s\n", explanation)
	}

	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintf(p.err, "\n")
		for _, k := range keys {
			fmt.Fprintf(p.err, "  %s: %s\n", k, details[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(p.err, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(p.err, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(p.err, "  %d. %s\n", i+1, s)
		}
	}

	return fmt.Errorf("%s", title)
}

// Status colours an objective status for terminal display
func Status(status string) string {
	switch status {
	case "completed", "approved":
		return green.Sprint(status)
	case "in_progress", "awaiting_approval", "planning", "staging":
		return yellow.Sprint(status)
	case "failed":
		return red.Sprint(status)
	default:
		return status
	}
}

// ProgressBar renders workdone (0-100) as a fixed-width bar
func ProgressBar(workdone, width int) string {
	if width <= 0 {
		width = 20
	}
	if workdone < 0 {
		workdone = 0
	}
	if workdone > 100 {
		workdone = 100
	}
	filled := workdone * width / 100
	return fmt.Sprintf("[%s%s] %3d%%", strings.Repeat("#", filled), strings.Repeat(".", width-filled), workdone)
}

// Package-level helpers write to stdout and stderr.

func Success(format string, a ...any) { std.Success(format, a...) }
func Info(format string, a ...any)    { std.Info(format, a...) }
func Warning(format string, a ...any) { std.Warning(format, a...) }
func Step(format string, a ...any)    { std.Step(format, a...) }
func Hint(format string, a ...any)    { std.Hint(format, a...) }

func Error(title string, explanation string, suggestions []string) error {
	return std.Error(title, explanation, suggestions)
}

func ErrorWithContext(title string, explanation string, details map[string]string, suggestions []string) error {
	return std.ErrorWithContext(title, explanation, details, suggestions)
}
