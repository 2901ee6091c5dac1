package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avionicsdev/mach/internal/builder"
	"github.com/avionicsdev/mach/internal/bundle"
	"github.com/avionicsdev/mach/internal/config"
	"github.com/avionicsdev/mach/internal/printer"
	"github.com/avionicsdev/mach/internal/report"
)

var (
	version string
	commit  string
	date    string
)

// Global flags shared by every subcommand.
var (
	configPath string
	workDir    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mach",
	Short: "Mach - avionics instrument build orchestrator",
	Long: `Mach bundles simulator avionics instruments from a declarative
configuration: each instrument (and the submodules it depends on) is
compiled into a self-contained bundle, optionally exported into the
simulator package layout, and rebuilt incrementally in watch mode.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	// e.g., "mach --filter ISI" instead of "mach build --filter ISI"
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no subcommand is specified, show help
		return cmd.Help()
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mach.yaml", "Path to the build configuration file")
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "C", ".", "Working directory that configuration paths resolve against")
}

// resolveWorkDir returns the absolute working directory for this invocation.
func resolveWorkDir() (string, error) {
	wd, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve working directory: %w", err)
	}
	return wd, nil
}

// loadConfiguration loads and validates the config file, rendering load and
// validation failures as rich error blocks.
func loadConfiguration(wd string) (*config.MachConfig, error) {
	path := configPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(wd, path)
	}

	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}

	var verr *config.ValidationError
	if errors.As(err, &verr) {
		details := make([]string, len(verr.Problems))
		for i, p := range verr.Problems {
			details[i] = p.String()
		}
		return nil, printer.ErrorWithDetails(
			"invalid configuration",
			fmt.Sprintf("%s has problems:", path),
			details,
			nil,
		)
	}

	var lerr *config.LoadError
	if errors.As(err, &lerr) && errors.Is(lerr.Err, os.ErrNotExist) {
		return nil, printer.Error(
			"configuration not found",
			fmt.Sprintf("No configuration file at %s.", path),
			[]string{
				"Run 'mach init' to create a starter project",
				"Point --config at an existing file",
			},
		)
	}

	return nil, printer.Error("failed to load configuration", err.Error(), nil)
}

// envSnapshot captures the process environment once; the build drivers never
// read ambient state after this.
func envSnapshot() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

// parseSourcemaps maps the CLI flag value to a bundler sourcemap mode.
func parseSourcemaps(mode string) (bundle.Sourcemap, error) {
	switch mode {
	case "", "none":
		return bundle.SourcemapNone, nil
	case "inline":
		return bundle.SourcemapInline, nil
	case "linked":
		return bundle.SourcemapLinked, nil
	case "external":
		return bundle.SourcemapExternal, nil
	}
	return bundle.SourcemapNone, printer.Error(
		"invalid sourcemap mode",
		fmt.Sprintf("Unknown mode: %s", mode),
		[]string{"Valid modes: none, inline, linked, external"},
	)
}

// compileFilter compiles the instrument name filter. Empty means no filter.
func compileFilter(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, printer.Error(
			"invalid instrument filter",
			fmt.Sprintf("%q is not a valid regular expression: %v", expr, err),
			nil,
		)
	}
	return re, nil
}

// newReporter picks the reporter implementation for this invocation.
func newReporter(jsonOutput, verbose bool) builder.Reporter {
	if jsonOutput {
		return report.NewJSONL(os.Stdout)
	}
	return report.NewConsole(verbose)
}
