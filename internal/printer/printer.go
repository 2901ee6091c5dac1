// Package printer centralizes colored terminal output for the CLI. Build
// status lines, warnings and rich error blocks all render through here so
// commands and reporters stay free of formatting concerns.
package printer

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to a TTY.
	// Users can disable with the NO_COLOR environment variable.
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

// Success prints a success message in green with a checkmark prefix.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		green.Printf("✓ %s", msg)
	} else {
		green.Print(msg)
	}
}

// Failure prints a failure message in red with a cross prefix. Unlike Error
// it does not return anything; it marks one failed item inside a run that
// keeps going.
func Failure(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✗") {
		red.Printf("✗ %s", msg)
	} else {
		red.Print(msg)
	}
}

// Info prints an informational message in the default color.
func Info(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Warning prints a warning message in yellow.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠") {
		yellow.Printf("⚠ %s", msg)
	} else {
		yellow.Print(msg)
	}
}

// Detail prints a dimmed secondary line, indented under the line above it.
func Detail(format string, a ...any) {
	faint.Printf("  %s", fmt.Sprintf(format, a...))
}

// Step prints a step message with emphasis (used in multi-step operations).
func Step(format string, a ...any) {
	cyan.Printf("→ %s", fmt.Sprintf(format, a...))
}

// Error prints a formatted error block to stderr (title, explanation,
// suggestions) and returns a bare error carrying only the title for Cobra,
// which has SilenceErrors set so nothing prints twice.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithDetails(title, explanation, nil, suggestions)
}

// ErrorWithDetails is Error with an ordered list of detail lines between the
// explanation and the suggestions. Validation problems and build diagnostics
// render through this.
func ErrorWithDetails(title string, explanation string, details []string, suggestions []string) error {
	red.Fprintf(os.Stderr, "%s\n", title)

	if explanation != "" {
		fmt.Fprintf(os.Stderr, "\n%s\n", explanation)
	}

	if len(details) > 0 {
		fmt.Fprintf(os.Stderr, "\n")
		for _, detail := range details {
			fmt.Fprintf(os.Stderr, "  %s\n", detail)
		}
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(os.Stderr, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(os.Stderr, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(os.Stderr, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	return fmt.Errorf("%s", title)
}

// Println prints a plain message (for output that doesn't need coloring).
func Println(a ...any) {
	fmt.Println(a...)
}

// Printf prints a plain formatted message (for output that doesn't need coloring).
func Printf(format string, a ...any) {
	fmt.Printf(format, a...)
}
