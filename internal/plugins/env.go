// Package plugins provides the build passes injected around the bundler:
// environment substitution, submodule aliasing, stylesheet merging, manifest
// export, and user plugin scripts.
package plugins

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/avionicsdev/mach/internal/bundle"
)

// envRefPattern matches textual references to named environment values.
var envRefPattern = regexp.MustCompile(`process\.env\.([A-Za-z_][A-Za-z0-9_]*)`)

// EnvSubstitution rewrites references to named environment values into
// string literals. A reference to an undefined name is left in place and
// reported as a warning with its source location, never as a failure: the
// value may be legitimately absent for the code path that reads it.
type EnvSubstitution struct {
	values map[string]string
}

// NewEnvSubstitution returns a substitution pass over the given snapshot.
// The snapshot is taken once per run; builds never read the ambient process
// environment directly.
func NewEnvSubstitution(values map[string]string) *EnvSubstitution {
	return &EnvSubstitution{values: values}
}

func (p *EnvSubstitution) PluginName() string {
	return "env-substitution"
}

func (p *EnvSubstitution) TransformSource(path string, src []byte) ([]byte, []bundle.Diagnostic, error) {
	matches := envRefPattern.FindAllSubmatchIndex(src, -1)
	if len(matches) == 0 {
		return src, nil, nil
	}

	var out []byte
	var warnings []bundle.Diagnostic
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		name := string(src[m[2]:m[3]])

		value, defined := p.values[name]
		if !defined {
			line, column, lineText := locate(src, start)
			warnings = append(warnings, bundle.Diagnostic{
				ID:   "undefined-env",
				Text: fmt.Sprintf("Undefined environment variable %q", name),
				Location: &bundle.Location{
					File:     path,
					Line:     line,
					Column:   column,
					LineText: lineText,
				},
			})
			continue
		}

		out = append(out, src[last:start]...)
		out = append(out, strconv.Quote(value)...)
		last = end
	}

	if out == nil {
		// Nothing was defined; the source is unchanged.
		return src, warnings, nil
	}
	out = append(out, src[last:]...)
	return out, warnings, nil
}

// locate converts a byte offset into a 1-based line, 0-based column and the
// text of the containing line, matching the bundler's diagnostic convention.
func locate(src []byte, offset int) (line, column int, lineText string) {
	line = 1
	lineStart := 0
	for i := 0; i < offset; i++ {
		if src[i] == '\n' {
			line++
			lineStart = i + 1
		}
	}
	lineEnd := len(src)
	for i := offset; i < len(src); i++ {
		if src[i] == '\n' {
			lineEnd = i
			break
		}
	}
	return line, offset - lineStart, string(src[lineStart:lineEnd])
}
