package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avionicsdev/mach/internal/builder"
	"github.com/avionicsdev/mach/internal/bundle"
	"github.com/avionicsdev/mach/internal/printer"
)

var (
	watchBundlesDir     string
	watchFilter         string
	watchWError         bool
	watchMinify         bool
	watchSourcemaps     string
	watchOutputMetafile bool
	watchSkipPackages   bool
	watchVerbose        bool
	watchJSONOutput     bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Build instruments and rebuild on file changes",
	Long: `Build every instrument in the configuration (or the subset matching
--filter), then keep watching the files each build consumed and rebuild
incrementally whenever one changes.

The watched set follows the build: files newly pulled in by a rebuild are
picked up, files no longer imported are dropped. A failing rebuild keeps
the session alive; the next save triggers another attempt.

Press Ctrl+C to stop watching.

Examples:
  # Watch everything in mach.yaml
  mach watch

  # Watch one instrument with inline source maps
  mach watch --filter PFD --sourcemaps inline`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchBundlesDir, "bundles", "b", "bundles", "Directory bundles are written into (relative to the working directory)")
	watchCmd.Flags().StringVarP(&watchFilter, "filter", "f", "", "Regular expression selecting instruments by name")
	watchCmd.Flags().BoolVar(&watchWError, "werror", false, "Treat advisory bundler warnings as errors")
	watchCmd.Flags().BoolVar(&watchMinify, "minify", false, "Minify emitted bundles")
	watchCmd.Flags().StringVar(&watchSourcemaps, "sourcemaps", "none", "Source map mode (none, inline, linked or external)")
	watchCmd.Flags().BoolVar(&watchOutputMetafile, "output-metafile", false, "Write build_meta.json next to each bundle on every rebuild")
	watchCmd.Flags().BoolVar(&watchSkipPackages, "skip-packages", false, "Skip the simulator package export step")
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "Print per-build detail and output size tables")
	watchCmd.Flags().BoolVar(&watchJSONOutput, "json", false, "Emit line-delimited JSON events instead of human-readable output")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	wd, err := resolveWorkDir()
	if err != nil {
		return err
	}
	cfg, err := loadConfiguration(wd)
	if err != nil {
		return err
	}
	filter, err := compileFilter(watchFilter)
	if err != nil {
		return err
	}
	sourcemaps, err := parseSourcemaps(watchSourcemaps)
	if err != nil {
		return err
	}

	runArgs := builder.RunArgs{
		WorkDir:        wd,
		BundlesDir:     watchBundlesDir,
		Filter:         filter,
		WError:         watchWError,
		Minify:         watchMinify,
		Sourcemaps:     sourcemaps,
		OutputMetafile: watchOutputMetafile,
		SkipPackages:   watchSkipPackages,
		Env:            envSnapshot(),
	}

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for SIGINT and SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		printer.Println()
		printer.Info("shutting down watch...\n")
		cancel()
	}()

	b := builder.New(cfg, runArgs, bundle.NewEngine(), newReporter(watchJSONOutput, watchVerbose))
	summary := b.Watch(ctx)

	if len(summary.Results) == 0 {
		return printer.Error(
			"no instruments matched",
			fmt.Sprintf("No configured instrument matches %q.", watchFilter),
			[]string{"Check the --filter expression against the instrument names in mach.yaml"},
		)
	}
	if summary.Failed == len(summary.Results) {
		// Every initial build failed, so nothing was ever watched.
		return fmt.Errorf("no instrument could be watched")
	}
	return nil
}
