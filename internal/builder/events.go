package builder

// Reporter receives build lifecycle events. Instruments build concurrently,
// so implementations must be safe for concurrent use.
type Reporter interface {
	// BuildStarted fires when an instrument (or submodule) build begins.
	BuildStarted(instrument string)

	// BuildSucceeded fires after a fulfilled build with its output manifest,
	// warnings and wall-clock duration.
	BuildSucceeded(result InstrumentResult)

	// BuildFailed fires after a rejected build with its diagnostics.
	BuildFailed(result InstrumentResult)

	// WatchStarted fires once an instrument's subscription is armed, with the
	// number of files under observation.
	WatchStarted(instrument string, watchedFiles int)

	// ChangeDetected fires when a watched file changes, before the rebuild.
	ChangeDetected(instrument, path string)

	// WatchError fires on watcher backend errors and on files that could not
	// be (un)subscribed. The watch session stays alive.
	WatchError(instrument string, err error)

	// RunFinished fires once per run with the aggregated report. In watch
	// mode it reflects the initial builds.
	RunFinished(report Report)
}

// NopReporter discards every event. Useful as a default and in tests.
type NopReporter struct{}

func (NopReporter) BuildStarted(string)             {}
func (NopReporter) BuildSucceeded(InstrumentResult) {}
func (NopReporter) BuildFailed(InstrumentResult)    {}
func (NopReporter) WatchStarted(string, int)        {}
func (NopReporter) ChangeDetected(string, string)   {}
func (NopReporter) WatchError(string, error)        {}
func (NopReporter) RunFinished(Report)              {}
