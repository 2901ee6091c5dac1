package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avionicsdev/mach/internal/scaffold"
)

var (
	forceInit bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new mach project",
	Long: `Initialize a new mach project with a starter configuration and a
matching instrument source stub.

Creates:
  - mach.yaml - build configuration with one instrument
  - src/MyInstrument/ - starter entry point and stylesheet

Use --force to reinitialize an existing project (WARNING: overwrites the
starter files).`,
	RunE: runInit,
}

func init() {
	// Note: Cannot use -f shorthand because build and watch use it for --filter
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Force reinitialization (removes existing mach.yaml and starter sources)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	wd, err := resolveWorkDir()
	if err != nil {
		return err
	}

	// Check for existing files (unless --force)
	if !forceInit {
		if err := scaffold.CheckExisting(wd); err != nil {
			return err
		}
	}

	if err := scaffold.Initialize(wd, forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	scaffold.PrintSuccess()
	return nil
}
