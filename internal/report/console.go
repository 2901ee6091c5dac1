// Package report contains the Reporter implementations the CLI wires into
// the build drivers: a colored human-readable console reporter and a
// line-delimited JSON reporter for machine consumption.
package report

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/avionicsdev/mach/internal/builder"
	"github.com/avionicsdev/mach/internal/printer"
)

// Console renders build lifecycle events as colored terminal output. A
// mutex keeps concurrently-building instruments from interleaving their
// multi-line blocks.
type Console struct {
	mu      sync.Mutex
	verbose bool
}

// NewConsole returns a console reporter. Verbose adds per-build start lines
// and an output size table after every successful build.
func NewConsole(verbose bool) *Console {
	return &Console{verbose: verbose}
}

// BuildStarted implements builder.Reporter.
func (c *Console) BuildStarted(instrument string) {
	if !c.verbose {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	printer.Step("building %s\n", instrument)
}

// BuildSucceeded implements builder.Reporter.
func (c *Console) BuildSucceeded(result builder.InstrumentResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	printer.Success("%s built in %s\n", result.Name, result.Duration.Round(time.Millisecond))
	for _, w := range result.Warnings {
		printer.Warning("%s\n", w.String())
	}
	if c.verbose && len(result.Outputs) > 0 {
		renderOutputs(result)
	}
}

// BuildFailed implements builder.Reporter.
func (c *Console) BuildFailed(result builder.InstrumentResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	printer.Failure("%s failed after %s\n", result.Name, result.Duration.Round(time.Millisecond))
	for _, d := range result.Errors {
		printer.Detail("%s\n", d.String())
	}
}

// WatchStarted implements builder.Reporter.
func (c *Console) WatchStarted(instrument string, watchedFiles int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	printer.Step("watching %s (%d files)\n", instrument, watchedFiles)
}

// ChangeDetected implements builder.Reporter.
func (c *Console) ChangeDetected(instrument, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	printer.Step("%s: %s changed\n", instrument, path)
}

// WatchError implements builder.Reporter.
func (c *Console) WatchError(instrument string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	printer.Warning("watch %s: %v\n", instrument, err)
}

// RunFinished implements builder.Reporter.
func (c *Console) RunFinished(report builder.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	printer.Println()
	total := len(report.Results)
	if report.Ok() {
		printer.Success("built %d %s in %s\n",
			report.Succeeded, pluralize("instrument", report.Succeeded), report.Duration.Round(time.Millisecond))
		return
	}
	printer.Failure("%d of %d %s failed to build\n",
		report.Failed, total, pluralize("instrument", total))
}

// renderOutputs prints the emitted files of one build as a two-column table.
func renderOutputs(result builder.InstrumentResult) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"FILE", "SIZE"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, path := range result.SortedOutputs() {
		table.Append([]string{path, formatBytes(result.Outputs[path])})
	}
	table.Render()
}

// formatBytes renders a byte count with a compact unit suffix.
func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f kB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func pluralize(word string, n int) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
