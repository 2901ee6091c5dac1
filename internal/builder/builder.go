// Package builder drives instrument builds: it resolves per-instrument
// bundler options from the layered configuration, builds submodule trees
// bottom-up, fans out across instruments, and in watch mode keeps warm
// bundler contexts alive and rebuilds on file changes.
package builder

import (
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/avionicsdev/mach/internal/bundle"
	"github.com/avionicsdev/mach/internal/config"
	"github.com/avionicsdev/mach/internal/watcher"
)

// RunArgs are the per-invocation parameters layered on top of the config
// file. They are captured once at startup; the build drivers never consult
// ambient process state.
type RunArgs struct {
	// WorkDir is the absolute directory config paths resolve against.
	WorkDir string

	// BundlesDir is the absolute root for built bundles. Each instrument
	// writes under <BundlesDir>/<name>/.
	BundlesDir string

	// Filter restricts the run to instruments whose name matches. Nil means
	// every configured instrument.
	Filter *regexp.Regexp

	// WError remaps a fixed set of advisory diagnostics to errors.
	WError bool

	// Minify enables bundle minification.
	Minify bool

	// Sourcemaps selects source map emission.
	Sourcemaps bundle.Sourcemap

	// OutputMetafile writes each instrument's build manifest next to its
	// bundle as build_meta.json.
	OutputMetafile bool

	// SkipPackages disables the packaging export step.
	SkipPackages bool

	// Env is the substitution table for process.env references, captured
	// once when the run starts.
	Env map[string]string
}

// Status is the outcome of one instrument build.
type Status string

const (
	// StatusFulfilled means the instrument (and all its submodules) built.
	StatusFulfilled Status = "fulfilled"

	// StatusRejected means the build failed, either in a submodule or in the
	// instrument's own bundling pass.
	StatusRejected Status = "rejected"
)

// InstrumentResult is the settled outcome of one instrument build attempt.
type InstrumentResult struct {
	Name     string
	Status   Status
	Duration time.Duration

	// Outputs maps emitted file paths to their sizes in bytes. Populated on
	// success.
	Outputs map[string]int64

	// Warnings are non-fatal diagnostics from a fulfilled build.
	Warnings []bundle.Diagnostic

	// Errors are the diagnostics of a rejected build.
	Errors []bundle.Diagnostic

	// Err classifies a rejected build: *SubmoduleError, *BundleError or
	// *WatchInitError. Nil on success.
	Err error
}

// SortedOutputs returns the emitted file paths in stable order.
func (r InstrumentResult) SortedOutputs() []string {
	paths := make([]string, 0, len(r.Outputs))
	for p := range r.Outputs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Report aggregates every instrument outcome of one run.
type Report struct {
	RunID     string
	Succeeded int
	Failed    int
	Duration  time.Duration
	Results   []InstrumentResult
}

// Ok reports whether every requested instrument built successfully.
func (r *Report) Ok() bool {
	return r.Failed == 0
}

// Builder owns one run over a validated configuration.
type Builder struct {
	cfg      *config.MachConfig
	args     RunArgs
	engine   bundle.Engine
	reporter Reporter

	// newWatcher is swapped out by watch tests.
	newWatcher func() (watcher.Watcher, error)
}

// New returns a Builder over a validated configuration. A nil reporter
// discards events. An empty BundlesDir defaults to <WorkDir>/bundles, and a
// relative one is resolved against WorkDir.
func New(cfg *config.MachConfig, args RunArgs, engine bundle.Engine, reporter Reporter) *Builder {
	if reporter == nil {
		reporter = NopReporter{}
	}
	if args.BundlesDir == "" {
		args.BundlesDir = filepath.Join(args.WorkDir, "bundles")
	} else if !filepath.IsAbs(args.BundlesDir) {
		args.BundlesDir = filepath.Join(args.WorkDir, args.BundlesDir)
	}
	return &Builder{
		cfg:        cfg,
		args:       args,
		engine:     engine,
		reporter:   reporter,
		newWatcher: watcher.New,
	}
}

// absPath resolves a config-relative path against the working directory.
func (b *Builder) absPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.args.WorkDir, p)
}

// bundleDir is the output directory for one instrument's artifacts.
func (b *Builder) bundleDir(inst *config.Instrument) string {
	return filepath.Join(b.args.BundlesDir, inst.Name)
}

// outputFile is the bundle path for an instrument. Top-level instruments
// emit bundle.js; submodules emit module/module.mjs, the artifact their
// parent's import alias resolves to.
func (b *Builder) outputFile(inst *config.Instrument, submodule bool) string {
	if submodule {
		return filepath.Join(b.bundleDir(inst), "module", "module.mjs")
	}
	return filepath.Join(b.bundleDir(inst), "bundle.js")
}
