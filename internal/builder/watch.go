package builder

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avionicsdev/mach/internal/bundle"
	"github.com/avionicsdev/mach/internal/config"
	"github.com/avionicsdev/mach/internal/watcher"
)

// armWatch starts the watch session for an instrument tree: submodule
// sessions first (a change to a submodule source rewrites its artifact,
// which is an input of the parent and cascades into a parent rebuild), then
// the instrument's own initial build with a retained bundler context. On any
// initial-build failure the session never starts and the result carries a
// *WatchInitError.
//
// The returned result reflects the initial build. Rebuild loops run on
// their own goroutines, tracked by loops, until ctx ends.
func (b *Builder) armWatch(ctx context.Context, inst *config.Instrument, submodule bool, loops *sync.WaitGroup) InstrumentResult {
	start := time.Now()
	b.reporter.BuildStarted(inst.Name)

	for _, m := range inst.Modules {
		mres := b.armWatch(ctx, m, true, loops)
		if mres.Status == StatusRejected {
			serr := &SubmoduleError{Instrument: inst.Name, Failed: []string{m.Name}, Diagnostics: mres.Errors}
			res := InstrumentResult{
				Name:     inst.Name,
				Status:   StatusRejected,
				Duration: time.Since(start),
				Errors:   serr.Diagnostics,
				Err:      &WatchInitError{Instrument: inst.Name, Err: serr},
			}
			b.reporter.BuildFailed(res)
			return res
		}
	}

	opts, err := b.resolveOptions(inst, submodule)
	if err != nil {
		res := b.watchRejected(inst.Name, time.Since(start), err)
		b.reporter.BuildFailed(res)
		return res
	}

	bctx, err := b.engine.Context(ctx, opts)
	if err != nil {
		res := b.watchRejected(inst.Name, time.Since(start), err)
		b.reporter.BuildFailed(res)
		return res
	}

	result, err := bctx.Rebuild(ctx)
	if err != nil {
		bctx.Dispose()
		res := b.watchRejected(inst.Name, time.Since(start), err)
		b.reporter.BuildFailed(res)
		return res
	}

	res := fulfilled(inst.Name, result, time.Since(start))
	b.reporter.BuildSucceeded(res)

	w, err := b.newWatcher()
	if err != nil {
		bctx.Dispose()
		failed := b.watchRejected(inst.Name, time.Since(start), err)
		b.reporter.BuildFailed(failed)
		return failed
	}
	for _, p := range watchPaths(b.args.WorkDir, result) {
		if err := w.Add(p); err != nil {
			b.reporter.WatchError(inst.Name, err)
		}
	}
	b.reporter.WatchStarted(inst.Name, len(w.WatchList()))

	loops.Add(1)
	go func() {
		defer loops.Done()
		defer w.Close()
		defer bctx.Dispose()
		b.watchLoop(ctx, inst.Name, bctx, w)
	}()
	return res
}

// watchRejected shapes a failed initial pass into a result whose error marks
// the watch session as never started.
func (b *Builder) watchRejected(name string, d time.Duration, err error) InstrumentResult {
	res := b.rejected(name, d, err)
	res.Err = &WatchInitError{Instrument: name, Err: res.Err}
	return res
}

// watchLoop rebuilds the instrument on every change notification until ctx
// ends. Rebuilds are serialized on this goroutine; notifications arriving
// mid-rebuild queue up and coalesce into a single follow-up pass. A failed
// rebuild keeps the subscription alive.
func (b *Builder) watchLoop(ctx context.Context, name string, bctx bundle.BuildContext, w watcher.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			b.reporter.ChangeDetected(name, ev.Path)
			drainEvents(w)
			b.rebuild(ctx, name, bctx, w)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			b.reporter.WatchError(name, err)
		}
	}
}

// rebuild runs one incremental pass. On success the watch set is
// reconciled against the fresh input manifest; on failure the old set is
// kept so the next save still triggers a rebuild.
func (b *Builder) rebuild(ctx context.Context, name string, bctx bundle.BuildContext, w watcher.Watcher) {
	start := time.Now()
	result, err := bctx.Rebuild(ctx)
	if err != nil {
		res := b.rejected(name, time.Since(start), err)
		b.reporter.BuildFailed(res)
		return
	}
	res := fulfilled(name, result, time.Since(start))
	b.reporter.BuildSucceeded(res)
	b.syncWatchSet(name, w, result)
}

// syncWatchSet reconciles the subscription with the inputs of the latest
// successful pass: newly pulled-in files are added, files the build no
// longer consumes are dropped.
func (b *Builder) syncWatchSet(name string, w watcher.Watcher, result *bundle.Result) {
	desired := make(map[string]bool, len(result.Inputs))
	for input := range result.Inputs {
		desired[resolveInputPath(b.args.WorkDir, input)] = true
	}
	for _, p := range w.WatchList() {
		if desired[p] {
			delete(desired, p)
			continue
		}
		if err := w.Remove(p); err != nil {
			b.reporter.WatchError(name, err)
		}
	}
	for p := range desired {
		if err := w.Add(p); err != nil {
			b.reporter.WatchError(name, err)
		}
	}
}

// drainEvents discards queued change notifications so that a burst of saves
// triggers one rebuild instead of one per file.
func drainEvents(w watcher.Watcher) {
	for {
		select {
		case _, ok := <-w.Events():
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// watchPaths canonicalizes the input manifest into the sorted, deduplicated
// set of files to observe.
func watchPaths(workDir string, result *bundle.Result) []string {
	set := make(map[string]bool, len(result.Inputs))
	for input := range result.Inputs {
		set[resolveInputPath(workDir, input)] = true
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// resolveInputPath canonicalizes one manifest input path against the
// working directory. Backends report inputs relative to the working
// directory, but plugin-resolved entries can come through absolute or with
// namespace prefixes stuck in front. If the path already embeds the working
// directory the suffix from there on is the canonical form, which also makes
// resolution idempotent; anything else is treated as relative.
func resolveInputPath(workDir, input string) string {
	if i := strings.Index(input, workDir); i >= 0 {
		return input[i:]
	}
	return filepath.Join(workDir, input)
}
