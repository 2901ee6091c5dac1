package builder

import (
	"context"
	"sync"
	"time"

	"github.com/avionicsdev/mach/internal/bundle"
	"github.com/avionicsdev/mach/internal/config"
)

// buildInstrument runs exactly one build attempt for an instrument:
// submodules first, concurrently, then the instrument's own bundling pass.
// If any submodule fails the parent's pass is never attempted and the result
// carries a *SubmoduleError.
func (b *Builder) buildInstrument(ctx context.Context, inst *config.Instrument, submodule bool) InstrumentResult {
	start := time.Now()
	b.reporter.BuildStarted(inst.Name)

	if serr := b.buildSubmodules(ctx, inst); serr != nil {
		res := InstrumentResult{
			Name:     inst.Name,
			Status:   StatusRejected,
			Duration: time.Since(start),
			Errors:   serr.Diagnostics,
			Err:      serr,
		}
		b.reporter.BuildFailed(res)
		return res
	}

	opts, err := b.resolveOptions(inst, submodule)
	if err != nil {
		res := b.rejected(inst.Name, time.Since(start), err)
		b.reporter.BuildFailed(res)
		return res
	}

	result, err := b.engine.Build(ctx, opts)
	if err != nil {
		res := b.rejected(inst.Name, time.Since(start), err)
		b.reporter.BuildFailed(res)
		return res
	}

	res := fulfilled(inst.Name, result, time.Since(start))
	b.reporter.BuildSucceeded(res)
	return res
}

// buildSubmodules builds every submodule of an instrument concurrently and
// waits for all of them. It returns nil when there are no submodules or all
// of them succeeded.
func (b *Builder) buildSubmodules(ctx context.Context, parent *config.Instrument) *SubmoduleError {
	if len(parent.Modules) == 0 {
		return nil
	}

	results := make([]InstrumentResult, len(parent.Modules))
	var wg sync.WaitGroup
	for i, m := range parent.Modules {
		wg.Add(1)
		go func(i int, m *config.Instrument) {
			defer wg.Done()
			results[i] = b.buildInstrument(ctx, m, true)
		}(i, m)
	}
	wg.Wait()

	var failed []string
	var diags []bundle.Diagnostic
	for _, r := range results {
		if r.Status == StatusRejected {
			failed = append(failed, r.Name)
			diags = append(diags, r.Errors...)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &SubmoduleError{Instrument: parent.Name, Failed: failed, Diagnostics: diags}
}

// rejected shapes a failed bundling pass (or option resolution failure) into
// a result carrying a *BundleError.
func (b *Builder) rejected(name string, d time.Duration, err error) InstrumentResult {
	diags := diagnosticsOf(err)
	return InstrumentResult{
		Name:     name,
		Status:   StatusRejected,
		Duration: d,
		Errors:   diags,
		Err:      &BundleError{Instrument: name, Diagnostics: diags},
	}
}

// fulfilled shapes a successful bundling pass into a result with its output
// manifest.
func fulfilled(name string, result *bundle.Result, d time.Duration) InstrumentResult {
	outputs := make(map[string]int64, len(result.Outputs))
	for path, out := range result.Outputs {
		outputs[path] = out.Bytes
	}
	return InstrumentResult{
		Name:     name,
		Status:   StatusFulfilled,
		Duration: d,
		Outputs:  outputs,
		Warnings: result.Warnings,
	}
}
