package builder

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avionicsdev/mach/internal/bundle"
	"github.com/avionicsdev/mach/internal/config"
	"github.com/avionicsdev/mach/internal/watcher"
)

// buildOutcome is one scripted Rebuild result.
type buildOutcome struct {
	result *bundle.Result
	err    error
}

// fakeEngine records every Build and Context call. Builds fail when the
// entry point contains a registered marker; watch rebuilds can additionally
// be scripted pass by pass.
type fakeEngine struct {
	mu          sync.Mutex
	builds      []bundle.Options
	contexts    []bundle.Options
	created     []*fakeContext
	failMarkers map[string][]bundle.Diagnostic
	scripts     map[string][]buildOutcome
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		failMarkers: make(map[string][]bundle.Diagnostic),
		scripts:     make(map[string][]buildOutcome),
	}
}

func (f *fakeEngine) failOn(marker string, diags ...bundle.Diagnostic) {
	if len(diags) == 0 {
		diags = []bundle.Diagnostic{{Text: "transform failed in " + marker}}
	}
	f.failMarkers[marker] = diags
}

func (f *fakeEngine) buildCalls() []bundle.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bundle.Options(nil), f.builds...)
}

func (f *fakeEngine) Build(_ context.Context, opts bundle.Options) (*bundle.Result, error) {
	f.mu.Lock()
	f.builds = append(f.builds, opts)
	f.mu.Unlock()
	if diags := f.failureFor(opts); diags != nil {
		return nil, &bundle.BuildError{Diagnostics: diags}
	}
	return defaultResult(opts), nil
}

func (f *fakeEngine) Context(_ context.Context, opts bundle.Options) (bundle.BuildContext, error) {
	c := &fakeContext{engine: f, opts: opts}
	f.mu.Lock()
	f.contexts = append(f.contexts, opts)
	f.created = append(f.created, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeEngine) contextCalls() []bundle.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bundle.Options(nil), f.contexts...)
}

func (f *fakeEngine) allDisposed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.created {
		if !c.isDisposed() {
			return false
		}
	}
	return true
}

func (f *fakeEngine) failureFor(opts bundle.Options) []bundle.Diagnostic {
	f.mu.Lock()
	defer f.mu.Unlock()
	for marker, diags := range f.failMarkers {
		if strings.Contains(opts.EntryPoints[0], marker) {
			return diags
		}
	}
	return nil
}

func (f *fakeEngine) scriptFor(opts bundle.Options) []buildOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	for marker, outcomes := range f.scripts {
		if strings.Contains(opts.EntryPoints[0], marker) {
			return outcomes
		}
	}
	return nil
}

func defaultResult(opts bundle.Options) *bundle.Result {
	entry := opts.EntryPoints[0]
	rel := strings.TrimPrefix(entry, opts.AbsWorkingDir+"/")
	return &bundle.Result{
		Inputs: map[string]bundle.MetaInput{
			rel: {Bytes: 256},
		},
		Outputs: map[string]bundle.MetaOutput{
			opts.Outfile: {Bytes: 1024, EntryPoint: rel},
		},
	}
}

type fakeContext struct {
	engine *fakeEngine
	opts   bundle.Options

	mu       sync.Mutex
	pass     int
	disposed bool
}

func (c *fakeContext) Rebuild(context.Context) (*bundle.Result, error) {
	c.mu.Lock()
	pass := c.pass
	c.pass++
	c.mu.Unlock()

	if script := c.engine.scriptFor(c.opts); script != nil {
		if pass >= len(script) {
			pass = len(script) - 1
		}
		return script[pass].result, script[pass].err
	}
	if diags := c.engine.failureFor(c.opts); diags != nil {
		return nil, &bundle.BuildError{Diagnostics: diags}
	}
	return defaultResult(c.opts), nil
}

func (c *fakeContext) Dispose() {
	c.mu.Lock()
	c.disposed = true
	c.mu.Unlock()
}

func (c *fakeContext) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// fakeWatcher is an in-memory watcher.Watcher; tests feed events straight
// into its channel.
type fakeWatcher struct {
	mu     sync.Mutex
	paths  map[string]bool
	events chan watcher.Event
	errs   chan error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		paths:  make(map[string]bool),
		events: make(chan watcher.Event, 16),
		errs:   make(chan error, 1),
	}
}

func (w *fakeWatcher) Add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paths[path] = true
	return nil
}

func (w *fakeWatcher) Remove(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.paths, path)
	return nil
}

func (w *fakeWatcher) WatchList() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.paths))
	for p := range w.paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (w *fakeWatcher) Events() <-chan watcher.Event { return w.events }
func (w *fakeWatcher) Errors() <-chan error         { return w.errs }
func (w *fakeWatcher) Close() error                 { return nil }

// recordingReporter captures events for assertions. Safe for concurrent use
// like any Reporter must be.
type recordingReporter struct {
	mu        sync.Mutex
	started   []string
	succeeded []InstrumentResult
	failed    []InstrumentResult
	watched   []string
	changes   []string
	reports   []Report
}

func (r *recordingReporter) BuildStarted(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, name)
}

func (r *recordingReporter) BuildSucceeded(res InstrumentResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded = append(r.succeeded, res)
}

func (r *recordingReporter) BuildFailed(res InstrumentResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, res)
}

func (r *recordingReporter) WatchStarted(name string, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watched = append(r.watched, name)
}

func (r *recordingReporter) ChangeDetected(name, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, name+":"+path)
}

func (r *recordingReporter) WatchError(string, error) {}

func (r *recordingReporter) RunFinished(report Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *recordingReporter) succeededCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, res := range r.succeeded {
		if res.Name == name {
			n++
		}
	}
	return n
}

func (r *recordingReporter) failedCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, res := range r.failed {
		if res.Name == name {
			n++
		}
	}
	return n
}

func (r *recordingReporter) watchedCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.watched {
		if w == name {
			n++
		}
	}
	return n
}

func instrument(name string) *config.Instrument {
	return &config.Instrument{Name: name, Index: "src/" + name + "/index.ts"}
}

func submoduleOf(parent *config.Instrument, name, resolve string) *config.Instrument {
	m := &config.Instrument{Name: name, Index: "src/" + name + "/index.ts", Resolve: resolve}
	parent.Modules = append(parent.Modules, m)
	return m
}

func testConfig(instruments ...*config.Instrument) *config.MachConfig {
	return &config.MachConfig{
		PackageName: "avionics-suite",
		PackageDir:  "PackageSources",
		Instruments: instruments,
	}
}

func TestRun_BuildsEveryInstrument(t *testing.T) {
	engine := newFakeEngine()
	cfg := testConfig(instrument("PFD"), instrument("MFD"), instrument("EICAS"))
	b := New(cfg, RunArgs{WorkDir: t.TempDir()}, engine, nil)

	report := b.Run(context.Background())

	require.Len(t, report.Results, 3)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.True(t, report.Ok())
	assert.NotEmpty(t, report.RunID)

	names := []string{report.Results[0].Name, report.Results[1].Name, report.Results[2].Name}
	assert.Equal(t, []string{"PFD", "MFD", "EICAS"}, names)
	assert.Len(t, engine.buildCalls(), 3)
}

func TestRun_FilterSelectsMatchingInstruments(t *testing.T) {
	engine := newFakeEngine()
	cfg := testConfig(instrument("DisplayUnits"), instrument("CTP"), instrument("ISI"))
	args := RunArgs{WorkDir: t.TempDir(), Filter: regexpMust(t, "ISI")}
	b := New(cfg, args, engine, nil)

	report := b.Run(context.Background())

	require.Len(t, report.Results, 1)
	assert.Equal(t, "ISI", report.Results[0].Name)
	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, engine.buildCalls(), 1)
	assert.Contains(t, engine.buildCalls()[0].EntryPoints[0], "ISI")
}

func TestRun_SiblingFailureIsIsolated(t *testing.T) {
	engine := newFakeEngine()
	engine.failOn("MFD")
	cfg := testConfig(instrument("PFD"), instrument("MFD"), instrument("EICAS"))
	rep := &recordingReporter{}
	b := New(cfg, RunArgs{WorkDir: t.TempDir()}, engine, rep)

	report := b.Run(context.Background())

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.Ok())

	require.Len(t, report.Results, 3)
	assert.Equal(t, StatusFulfilled, report.Results[0].Status)
	assert.Equal(t, StatusRejected, report.Results[1].Status)
	assert.Equal(t, StatusFulfilled, report.Results[2].Status)

	// The failure did not stop the siblings from being attempted.
	assert.Len(t, engine.buildCalls(), 3)
	assert.Equal(t, 1, rep.failedCount("MFD"))
	assert.Equal(t, 1, rep.succeededCount("PFD"))
	assert.Equal(t, 1, rep.succeededCount("EICAS"))
}

func TestRun_ReportCarriesDiagnostics(t *testing.T) {
	engine := newFakeEngine()
	engine.failOn("PFD", bundle.Diagnostic{
		Text:     "Could not resolve \"./missing\"",
		Location: &bundle.Location{File: "src/PFD/index.ts", Line: 3, Column: 8},
	})
	cfg := testConfig(instrument("PFD"))
	b := New(cfg, RunArgs{WorkDir: t.TempDir()}, engine, nil)

	report := b.Run(context.Background())

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Text, "missing")
	require.NotNil(t, res.Errors[0].Location)
	assert.Equal(t, 3, res.Errors[0].Location.Line)

	var berr *BundleError
	require.ErrorAs(t, res.Err, &berr)
	assert.Equal(t, "PFD", berr.Instrument)
}

func TestBuildInstrument_SubmoduleFailureSkipsParent(t *testing.T) {
	engine := newFakeEngine()
	engine.failOn("navdata")
	parent := instrument("MFD")
	submoduleOf(parent, "wtsdk", "@avionics/sdk")
	submoduleOf(parent, "navdata", "@avionics/navdata")
	cfg := testConfig(parent)
	rep := &recordingReporter{}
	b := New(cfg, RunArgs{WorkDir: t.TempDir()}, engine, rep)

	res := b.buildInstrument(context.Background(), parent, false)

	assert.Equal(t, StatusRejected, res.Status)
	var serr *SubmoduleError
	require.ErrorAs(t, res.Err, &serr)
	assert.Equal(t, "MFD", serr.Instrument)
	assert.Equal(t, []string{"navdata"}, serr.Failed)

	// Both submodules were attempted, the parent's own pass never was.
	calls := engine.buildCalls()
	require.Len(t, calls, 2)
	for _, call := range calls {
		assert.NotContains(t, call.EntryPoints[0], "MFD")
		assert.Equal(t, bundle.FormatESM, call.Format)
	}
	assert.Equal(t, 1, rep.failedCount("MFD"))
	assert.Equal(t, 1, rep.failedCount("navdata"))
	assert.Equal(t, 1, rep.succeededCount("wtsdk"))
}

func TestBuildInstrument_SubmodulesBuildBeforeParent(t *testing.T) {
	engine := newFakeEngine()
	parent := instrument("MFD")
	submoduleOf(parent, "wtsdk", "@avionics/sdk")
	submoduleOf(parent, "navdata", "@avionics/navdata")
	cfg := testConfig(parent)
	b := New(cfg, RunArgs{WorkDir: t.TempDir()}, engine, nil)

	res := b.buildInstrument(context.Background(), parent, false)

	require.Equal(t, StatusFulfilled, res.Status)
	calls := engine.buildCalls()
	require.Len(t, calls, 3)

	// The parent settles last, after both submodules.
	last := calls[2]
	assert.Contains(t, last.EntryPoints[0], "MFD")
	assert.Equal(t, bundle.FormatIIFE, last.Format)
	for _, call := range calls[:2] {
		assert.Equal(t, bundle.FormatESM, call.Format)
		assert.Contains(t, call.Outfile, "module/module.mjs")
	}
}

func TestBuildInstrument_NestedSubmodules(t *testing.T) {
	engine := newFakeEngine()
	parent := instrument("MFD")
	mid := submoduleOf(parent, "charts", "@avionics/charts")
	submoduleOf(mid, "geodata", "@avionics/geodata")
	cfg := testConfig(parent)
	b := New(cfg, RunArgs{WorkDir: t.TempDir()}, engine, nil)

	res := b.buildInstrument(context.Background(), parent, false)

	require.Equal(t, StatusFulfilled, res.Status)
	calls := engine.buildCalls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[0].EntryPoints[0], "geodata")
	assert.Contains(t, calls[1].EntryPoints[0], "charts")
	assert.Contains(t, calls[2].EntryPoints[0], "MFD")
}

func TestBuildInstrument_RecordsOutputsAndDuration(t *testing.T) {
	engine := newFakeEngine()
	inst := instrument("PFD")
	cfg := testConfig(inst)
	b := New(cfg, RunArgs{WorkDir: t.TempDir()}, engine, nil)

	res := b.buildInstrument(context.Background(), inst, false)

	require.Equal(t, StatusFulfilled, res.Status)
	require.Len(t, res.Outputs, 1)
	for path, size := range res.Outputs {
		assert.Contains(t, path, "PFD")
		assert.Equal(t, int64(1024), size)
	}
	assert.GreaterOrEqual(t, res.Duration.Nanoseconds(), int64(0))
}

func TestBuildInstrument_PluginLoadFailureRejectsWithoutBundling(t *testing.T) {
	engine := newFakeEngine()
	inst := instrument("PFD")
	cfg := testConfig(inst)
	cfg.Plugins = []config.PluginRef{{Name: "imports", Path: "plugins/does-not-exist.go"}}
	b := New(cfg, RunArgs{WorkDir: t.TempDir()}, engine, nil)

	res := b.buildInstrument(context.Background(), inst, false)

	assert.Equal(t, StatusRejected, res.Status)
	var berr *BundleError
	require.ErrorAs(t, res.Err, &berr)
	assert.Empty(t, engine.buildCalls())
}

func regexpMust(t *testing.T, expr string) *regexp.Regexp {
	t.Helper()
	re, err := regexp.Compile(expr)
	require.NoError(t, err)
	return re
}
