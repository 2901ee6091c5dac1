package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/avionicsdev/mach/internal/builder"
)

// JSONL emits one JSON object per event, one per line. The format is stable
// and compact, suitable for streaming into jq or log pipelines.
type JSONL struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONL returns a reporter writing line-delimited JSON events to w.
func NewJSONL(w io.Writer) *JSONL {
	return &JSONL{w: w}
}

// emit writes one event line. Every event carries a UTC timestamp, a level
// and an event_type alongside the event-specific fields.
func (j *JSONL) emit(level, eventType string, data map[string]interface{}) {
	event := map[string]interface{}{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"level":      level,
		"component":  "mach",
		"event_type": eventType,
	}
	for k, v := range data {
		event[k] = v
	}

	line, err := json.Marshal(event)
	if err != nil {
		j.mu.Lock()
		fmt.Fprintf(j.w, `{"level":"error","event_type":"marshal_failed","error":%q}`+"\n", err.Error())
		j.mu.Unlock()
		return
	}
	j.mu.Lock()
	fmt.Fprintf(j.w, "%s\n", line)
	j.mu.Unlock()
}

// BuildStarted implements builder.Reporter.
func (j *JSONL) BuildStarted(instrument string) {
	j.emit("info", "build_started", map[string]interface{}{
		"instrument": instrument,
	})
}

// BuildSucceeded implements builder.Reporter.
func (j *JSONL) BuildSucceeded(result builder.InstrumentResult) {
	warnings := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		warnings = append(warnings, w.String())
	}
	j.emit("info", "build_succeeded", map[string]interface{}{
		"instrument":  result.Name,
		"duration_ms": result.Duration.Milliseconds(),
		"outputs":     result.Outputs,
		"warnings":    warnings,
	})
}

// BuildFailed implements builder.Reporter.
func (j *JSONL) BuildFailed(result builder.InstrumentResult) {
	errs := make([]string, 0, len(result.Errors))
	for _, d := range result.Errors {
		errs = append(errs, d.String())
	}
	j.emit("error", "build_failed", map[string]interface{}{
		"instrument":  result.Name,
		"duration_ms": result.Duration.Milliseconds(),
		"errors":      errs,
	})
}

// WatchStarted implements builder.Reporter.
func (j *JSONL) WatchStarted(instrument string, watchedFiles int) {
	j.emit("info", "watch_started", map[string]interface{}{
		"instrument":    instrument,
		"watched_files": watchedFiles,
	})
}

// ChangeDetected implements builder.Reporter.
func (j *JSONL) ChangeDetected(instrument, path string) {
	j.emit("info", "change_detected", map[string]interface{}{
		"instrument": instrument,
		"path":       path,
	})
}

// WatchError implements builder.Reporter.
func (j *JSONL) WatchError(instrument string, err error) {
	j.emit("warn", "watch_error", map[string]interface{}{
		"instrument": instrument,
		"error":      err.Error(),
	})
}

// RunFinished implements builder.Reporter.
func (j *JSONL) RunFinished(report builder.Report) {
	j.emit("info", "run_finished", map[string]interface{}{
		"run_id":      report.RunID,
		"succeeded":   report.Succeeded,
		"failed":      report.Failed,
		"duration_ms": report.Duration.Milliseconds(),
	})
}
