package config

import (
	"fmt"
	"strings"
)

// LoadError means the config file could not be read or parsed at all.
// Validation never ran; nothing about the config's content can be reported.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load config %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Problem is one field-level validation failure.
type Problem struct {
	Field   string // dotted path into the config, e.g. "instruments[2].modules[0].resolve"
	Message string
}

func (p Problem) String() string {
	if p.Field == "" {
		return p.Message
	}
	return p.Field + ": " + p.Message
}

// ValidationError carries every field-level problem found in one pass, so a
// config author can fix them all at once instead of replaying the build per
// mistake.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) addf(field, format string, args ...any) {
	e.Problems = append(e.Problems, Problem{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid configuration: %s", e.Problems[0])
	}
	lines := make([]string, 0, len(e.Problems)+1)
	lines = append(lines, fmt.Sprintf("invalid configuration (%d problems):", len(e.Problems)))
	for _, p := range e.Problems {
		lines = append(lines, "  "+p.String())
	}
	return strings.Join(lines, "\n")
}
