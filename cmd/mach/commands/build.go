package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avionicsdev/mach/internal/builder"
	"github.com/avionicsdev/mach/internal/bundle"
	"github.com/avionicsdev/mach/internal/printer"
)

var (
	buildBundlesDir     string
	buildFilter         string
	buildWError         bool
	buildMinify         bool
	buildSourcemaps     string
	buildOutputMetafile bool
	buildSkipPackages   bool
	buildVerbose        bool
	buildJSONOutput     bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build all configured instruments once",
	Long: `Build every instrument in the configuration (or the subset matching
--filter). Submodules bundle first and their parents import the built
artifacts; instruments with a package block are exported into the
simulator package layout.

Instruments build concurrently and a failure in one never stops the
others. The command exits non-zero when at least one instrument failed.

Examples:
  # Build everything in mach.yaml
  mach build

  # Build only the ISI instrument, minified, advisories as errors
  mach build --filter ISI --minify --werror

  # Emit machine-readable build events
  mach build --json > events.jsonl`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&buildBundlesDir, "bundles", "b", "bundles", "Directory bundles are written into (relative to the working directory)")
	buildCmd.Flags().StringVarP(&buildFilter, "filter", "f", "", "Regular expression selecting instruments by name")
	buildCmd.Flags().BoolVar(&buildWError, "werror", false, "Treat advisory bundler warnings as errors")
	buildCmd.Flags().BoolVar(&buildMinify, "minify", false, "Minify emitted bundles")
	buildCmd.Flags().StringVar(&buildSourcemaps, "sourcemaps", "none", "Source map mode (none, inline, linked or external)")
	buildCmd.Flags().BoolVar(&buildOutputMetafile, "output-metafile", false, "Write build_meta.json next to each bundle")
	buildCmd.Flags().BoolVar(&buildSkipPackages, "skip-packages", false, "Skip the simulator package export step")
	buildCmd.Flags().BoolVarP(&buildVerbose, "verbose", "v", false, "Print per-build detail and output size tables")
	buildCmd.Flags().BoolVar(&buildJSONOutput, "json", false, "Emit line-delimited JSON events instead of human-readable output")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	wd, err := resolveWorkDir()
	if err != nil {
		return err
	}
	cfg, err := loadConfiguration(wd)
	if err != nil {
		return err
	}
	filter, err := compileFilter(buildFilter)
	if err != nil {
		return err
	}
	sourcemaps, err := parseSourcemaps(buildSourcemaps)
	if err != nil {
		return err
	}

	runArgs := builder.RunArgs{
		WorkDir:        wd,
		BundlesDir:     buildBundlesDir,
		Filter:         filter,
		WError:         buildWError,
		Minify:         buildMinify,
		Sourcemaps:     sourcemaps,
		OutputMetafile: buildOutputMetafile,
		SkipPackages:   buildSkipPackages,
		Env:            envSnapshot(),
	}

	b := builder.New(cfg, runArgs, bundle.NewEngine(), newReporter(buildJSONOutput, buildVerbose))
	summary := b.Run(ctx)

	if len(summary.Results) == 0 {
		return printer.Error(
			"no instruments matched",
			fmt.Sprintf("No configured instrument matches %q.", buildFilter),
			[]string{"Check the --filter expression against the instrument names in mach.yaml"},
		)
	}
	if !summary.Ok() {
		// The reporter already rendered the per-instrument failures.
		return fmt.Errorf("%d of %d instruments failed to build", summary.Failed, len(summary.Results))
	}
	return nil
}
