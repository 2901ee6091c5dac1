package builder

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avionicsdev/mach/internal/config"
)

// Run builds every instrument matching the filter, concurrently, and waits
// for all of them regardless of individual failures. The report's Results
// follow the configuration order.
func (b *Builder) Run(ctx context.Context) *Report {
	start := time.Now()
	targets := b.filterInstruments()

	results := make([]InstrumentResult, len(targets))
	var wg sync.WaitGroup
	for i, inst := range targets {
		wg.Add(1)
		go func(i int, inst *config.Instrument) {
			defer wg.Done()
			results[i] = b.buildInstrument(ctx, inst, false)
		}(i, inst)
	}
	wg.Wait()

	report := aggregate(results, time.Since(start))
	b.reporter.RunFinished(*report)
	return report
}

// Watch performs the initial build of every matching instrument, reports the
// aggregated initial outcomes, then blocks rebuilding on file changes until
// ctx is cancelled. Instruments whose initial build failed sit the session
// out; the rest keep watching.
func (b *Builder) Watch(ctx context.Context) *Report {
	start := time.Now()
	targets := b.filterInstruments()

	var loops sync.WaitGroup
	results := make([]InstrumentResult, len(targets))
	var wg sync.WaitGroup
	for i, inst := range targets {
		wg.Add(1)
		go func(i int, inst *config.Instrument) {
			defer wg.Done()
			results[i] = b.armWatch(ctx, inst, false, &loops)
		}(i, inst)
	}
	wg.Wait()

	report := aggregate(results, time.Since(start))
	b.reporter.RunFinished(*report)

	loops.Wait()
	return report
}

// filterInstruments selects the top-level instruments this run targets.
func (b *Builder) filterInstruments() []*config.Instrument {
	if b.args.Filter == nil {
		return b.cfg.Instruments
	}
	var targets []*config.Instrument
	for _, inst := range b.cfg.Instruments {
		if b.args.Filter.MatchString(inst.Name) {
			targets = append(targets, inst)
		}
	}
	return targets
}

func aggregate(results []InstrumentResult, d time.Duration) *Report {
	report := &Report{
		RunID:    uuid.New().String(),
		Duration: d,
		Results:  results,
	}
	for _, r := range results {
		if r.Status == StatusFulfilled {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	return report
}
