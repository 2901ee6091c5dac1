// Package bundle defines the contract between the build orchestrator and the
// bundling backend. The orchestrator describes one bundling pass as an Options
// record, hands it to an Engine, and receives either a Result (the output
// manifest, consumed inputs and non-fatal warnings) or a *BuildError carrying
// structured diagnostics.
//
// The concrete backend is esbuild (see esbuild.go), but everything above this
// package speaks only in the types declared here so that drivers and tests can
// substitute a fake engine.
package bundle

import (
	"context"
	"fmt"
)

// Format selects the module format of the emitted bundle.
type Format string

const (
	// FormatIIFE wraps the bundle in an immediately-invoked function
	// expression. Used for top-level instrument bundles loaded by the
	// simulator's embedded web runtime.
	FormatIIFE Format = "iife"

	// FormatESM emits a native ES module. Used for submodule library
	// artifacts consumed by a parent instrument via import aliasing.
	FormatESM Format = "esm"
)

// Sourcemap selects how (and whether) source maps are emitted.
type Sourcemap string

const (
	// SourcemapNone disables source map generation.
	SourcemapNone Sourcemap = ""

	// SourcemapInline appends the map as a data URL inside the bundle.
	SourcemapInline Sourcemap = "inline"

	// SourcemapLinked writes a sibling .map file referenced by a comment.
	SourcemapLinked Sourcemap = "linked"

	// SourcemapExternal writes a sibling .map file with no reference comment.
	SourcemapExternal Sourcemap = "external"
)

// LogLevel controls the backend's own console output. The drivers own all
// user-facing reporting, so builds normally run silent and diagnostics are
// surfaced through Result.Warnings and BuildError.
type LogLevel string

const (
	LogSilent  LogLevel = "silent"
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// Options describes one bundling pass.
type Options struct {
	// EntryPoints lists the source files the bundle starts from. The
	// orchestrator always supplies exactly one per instrument.
	EntryPoints []string

	// Outfile is the absolute path of the emitted bundle.
	Outfile string

	// AbsWorkingDir anchors relative entry points and manifest paths.
	AbsWorkingDir string

	// Format is the module format (IIFE for instruments, ESM for submodules).
	Format Format

	// Target names the ECMAScript feature level, e.g. "es2017".
	Target string

	// External lists path patterns resolved at runtime rather than bundled
	// (image and font assets for the simulator's virtual file system).
	External []string

	// Bundle enables dependency inlining. Always true for instrument builds.
	Bundle bool

	// Metafile requests the dependency/size manifest. Always true: the watch
	// driver derives its watch set from the reported inputs.
	Metafile bool

	// Minify enables whitespace, identifier and syntax minification.
	Minify bool

	// Sourcemap selects source map emission.
	Sourcemap Sourcemap

	// LogLevel controls backend console output. Empty means silent.
	LogLevel LogLevel

	// LogOverrides remaps individual message categories (by message ID) to a
	// different severity. Remapping a category to LogError makes the backend
	// fail builds that would otherwise only warn.
	LogOverrides map[string]LogLevel

	// Plugins run inside the backend in slice order.
	Plugins []Plugin
}

// Diagnostic is one structured warning or error reported by the backend or by
// a plugin.
type Diagnostic struct {
	Text     string    `json:"text"`
	ID       string    `json:"id,omitempty"`
	Location *Location `json:"location,omitempty"`
	Notes    []Note    `json:"notes,omitempty"`
}

// Location points a diagnostic at a source position. Line is 1-based and
// Column is 0-based, matching the backend's convention.
type Location struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	LineText string `json:"lineText,omitempty"`
}

// Note attaches human-readable context to a diagnostic.
type Note struct {
	Text string `json:"text"`
}

// String renders the diagnostic with its location and notes, one per line.
func (d Diagnostic) String() string {
	s := d.Text
	if d.Location != nil {
		s = fmt.Sprintf("%s:%d:%d: %s", d.Location.File, d.Location.Line, d.Location.Column, d.Text)
	}
	for _, n := range d.Notes {
		s += "\n  note: " + n.Text
	}
	return s
}

// MetaInput describes one source file the build consumed.
type MetaInput struct {
	Bytes   int64        `json:"bytes"`
	Imports []MetaImport `json:"imports,omitempty"`
}

// MetaImport is one import edge recorded in the manifest.
type MetaImport struct {
	Path string `json:"path"`
	Kind string `json:"kind,omitempty"`
}

// MetaOutput describes one emitted file.
type MetaOutput struct {
	Bytes      int64  `json:"bytes"`
	EntryPoint string `json:"entryPoint,omitempty"`
	CSSBundle  string `json:"cssBundle,omitempty"`
}

// Result is the manifest of a successful bundling pass. Input and output
// paths are relative to Options.AbsWorkingDir.
type Result struct {
	// Inputs maps every consumed source file to its metadata. The watch
	// driver turns this set into the files it observes.
	Inputs map[string]MetaInput

	// Outputs maps every emitted file to its metadata.
	Outputs map[string]MetaOutput

	// Warnings are the non-fatal diagnostics the pass produced.
	Warnings []Diagnostic

	// Metafile is the raw serialized manifest, suitable for writing to
	// build_meta.json verbatim.
	Metafile []byte
}

// BuildError is the rejection side of the contract: the pass failed and these
// are its diagnostics.
type BuildError struct {
	Diagnostics []Diagnostic
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	if len(e.Diagnostics) == 0 {
		return "bundling failed"
	}
	if len(e.Diagnostics) == 1 {
		return fmt.Sprintf("bundling failed: %s", e.Diagnostics[0].Text)
	}
	return fmt.Sprintf("bundling failed: %s (and %d more errors)", e.Diagnostics[0].Text, len(e.Diagnostics)-1)
}

// Engine is the bundling backend.
type Engine interface {
	// Build runs one pass to completion. On failure the returned error is a
	// *BuildError whenever structured diagnostics are available.
	Build(ctx context.Context, opts Options) (*Result, error)

	// Context prepares a reusable incremental build. The initial pass has not
	// run yet; call Rebuild for the first and every subsequent pass. Callers
	// must Dispose the context when done with it.
	Context(ctx context.Context, opts Options) (BuildContext, error)
}

// BuildContext is a warm incremental build retained between passes so that
// rebuilds reuse cached parse and resolve state.
type BuildContext interface {
	Rebuild(ctx context.Context) (*Result, error)
	Dispose()
}
