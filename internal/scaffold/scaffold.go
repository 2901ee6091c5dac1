// Package scaffold creates the starter layout for a new mach project: a
// mach.yaml with one instrument and the matching source stub.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/avionicsdev/mach/internal/config"
	"github.com/avionicsdev/mach/internal/printer"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization.
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// CheckExisting returns an error when dir already contains a mach.yaml or a
// src/ directory, so init does not silently clobber a project.
func CheckExisting(dir string) error {
	var existing []string

	if _, err := os.Stat(filepath.Join(dir, "mach.yaml")); err == nil {
		existing = append(existing, "mach.yaml")
	}
	if info, err := os.Stat(filepath.Join(dir, "src")); err == nil && info.IsDir() {
		existing = append(existing, "src/")
	}

	if len(existing) > 0 {
		errMsg := "project already initialized\n\nFound existing"
		if len(existing) == 1 {
			errMsg += fmt.Sprintf(": %s", existing[0])
		} else {
			errMsg += " files:\n"
			for _, file := range existing {
				errMsg += fmt.Sprintf("  - %s\n", file)
			}
		}
		errMsg += "\nUse 'mach init --force' to reinitialize (this will overwrite existing configuration)"
		return fmt.Errorf("%s", errMsg)
	}
	return nil
}

// Initialize creates the mach project structure in dir. If force is true any
// existing mach.yaml and starter instrument sources are removed first.
func Initialize(dir string, force bool) error {
	if force {
		if err := handleForce(dir); err != nil {
			return err
		}
	}

	files, err := templateFiles()
	if err != nil {
		return err
	}
	if err := createDirectories(dir); err != nil {
		return err
	}
	if err := writeFiles(dir, files); err != nil {
		return err
	}
	return validateCreatedConfig(dir)
}

func handleForce(dir string) error {
	machYaml := filepath.Join(dir, "mach.yaml")
	if _, err := os.Stat(machYaml); err == nil {
		printer.Warning("removing existing mach.yaml\n")
		if err := os.Remove(machYaml); err != nil {
			return fmt.Errorf("failed to remove mach.yaml: %w", err)
		}
	}

	starter := filepath.Join(dir, "src", "MyInstrument")
	if info, err := os.Stat(starter); err == nil && info.IsDir() {
		printer.Warning("removing existing src/MyInstrument/\n")
		if err := os.RemoveAll(starter); err != nil {
			return fmt.Errorf("failed to remove src/MyInstrument: %w", err)
		}
	}
	return nil
}

func templateFiles() ([]FileInfo, error) {
	specs := []struct {
		template string
		path     string
	}{
		{"templates/mach.yaml.tmpl", "mach.yaml"},
		{"templates/index.ts.tmpl", filepath.Join("src", "MyInstrument", "index.ts")},
		{"templates/styles.css.tmpl", filepath.Join("src", "MyInstrument", "styles.css")},
	}

	files := make([]FileInfo, 0, len(specs))
	for _, spec := range specs {
		content, err := templatesFS.ReadFile(spec.template)
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", spec.template, err)
		}
		files = append(files, FileInfo{Path: spec.path, Content: content, Permissions: 0644})
	}
	return files, nil
}

func createDirectories(dir string) error {
	starter := filepath.Join(dir, "src", "MyInstrument")
	if err := os.MkdirAll(starter, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", starter, err)
	}
	return nil
}

func writeFiles(dir string, files []FileInfo) error {
	for _, file := range files {
		path := filepath.Join(dir, file.Path)
		if err := os.WriteFile(path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}
	return nil
}

// validateCreatedConfig loads the generated mach.yaml through the real
// config loader so init can never produce a file the build would reject.
func validateCreatedConfig(dir string) error {
	if _, err := config.Load(filepath.Join(dir, "mach.yaml")); err != nil {
		return fmt.Errorf("generated mach.yaml failed validation: %w", err)
	}
	return nil
}

// PrintSuccess prints the created files and the first commands to try.
func PrintSuccess() {
	printer.Success("initialized mach project\n")
	printer.Println()
	printer.Println("Created:")
	printer.Println("  mach.yaml")
	printer.Println("  src/MyInstrument/index.ts")
	printer.Println("  src/MyInstrument/styles.css")
	printer.Println()
	printer.Println("Next steps:")
	printer.Println("  1. Point instruments[].index at your real entry points")
	printer.Println("  2. Run 'mach build' to bundle every instrument")
	printer.Println("  3. Run 'mach watch' to rebuild on changes")
}
