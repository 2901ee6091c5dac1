// Package packaging exports built instruments into the simulator package
// tree, wrapping each bundle in the HTML/JS harness the simulator loads.
package packaging

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/avionicsdev/mach/internal/bundle"
	"github.com/avionicsdev/mach/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

var wrapperTemplates = template.Must(template.ParseFS(templatesFS, "templates/*.tmpl"))

// Exporter copies a built instrument into the simulator package tree and
// renders its wrapper files. It runs as a build-end hook so that watch mode
// keeps the packaged copy current after every successful rebuild.
type Exporter struct {
	packageName string
	packageDir  string
	instrument  string
	bundleDir   string
	settings    *config.PackageSettings
}

// NewExporter exports the bundle in bundleDir for one instrument.
func NewExporter(packageName, packageDir, instrument, bundleDir string, settings *config.PackageSettings) *Exporter {
	return &Exporter{
		packageName: packageName,
		packageDir:  packageDir,
		instrument:  instrument,
		bundleDir:   bundleDir,
		settings:    settings,
	}
}

func (e *Exporter) PluginName() string {
	return "package-export"
}

func (e *Exporter) BuildEnd(*bundle.Result) error {
	return e.Export()
}

// DestDir is the directory this instrument is packaged into.
func (e *Exporter) DestDir() string {
	return filepath.Join(e.packageDir, "html_ui", "Pages", "VCockpit", "Instruments", e.packageName, e.instrument)
}

// Export copies the built artifacts and renders the wrapper HTML.
func (e *Exporter) Export() error {
	destDir := e.DestDir()
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create package directory: %w", err)
	}

	js, err := os.ReadFile(filepath.Join(e.bundleDir, "bundle.js"))
	if err != nil {
		return fmt.Errorf("failed to read built bundle: %w", err)
	}
	if err := os.WriteFile(filepath.Join(destDir, e.settings.FileName+".js"), js, 0644); err != nil {
		return fmt.Errorf("failed to export bundle: %w", err)
	}

	hasCSS := false
	css, err := os.ReadFile(filepath.Join(e.bundleDir, "bundle.css"))
	switch {
	case err == nil:
		hasCSS = true
		if err := os.WriteFile(filepath.Join(destDir, e.settings.FileName+".css"), css, 0644); err != nil {
			return fmt.Errorf("failed to export stylesheet: %w", err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("failed to read built stylesheet: %w", err)
	}

	html, err := e.renderWrapper(hasCSS)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(destDir, e.settings.FileName+".html"), html, 0644); err != nil {
		return fmt.Errorf("failed to write wrapper: %w", err)
	}
	return nil
}

type wrapperData struct {
	TemplateID     string
	MountElementID string
	IsInteractive  bool
	FileName       string
	Imports        []string
	ClassName      string
	ElementName    string
	HasCSS         bool
}

func (e *Exporter) renderWrapper(hasCSS bool) ([]byte, error) {
	data := wrapperData{
		TemplateID:     e.settings.TemplateID,
		MountElementID: e.settings.MountElementID,
		IsInteractive:  e.settings.IsInteractive == nil || *e.settings.IsInteractive,
		FileName:       e.settings.FileName,
		Imports:        e.settings.Imports,
		ClassName:      identifier(e.instrument) + "_Instrument",
		ElementName:    elementName(e.instrument),
		HasCSS:         hasCSS,
	}

	var name string
	switch e.settings.Type {
	case config.PackageTypeReact:
		name = "react.html.tmpl"
	case config.PackageTypeBaseInstrument:
		name = "base_instrument.html.tmpl"
	default:
		return nil, fmt.Errorf("unknown packaging type %q for instrument %s", e.settings.Type, e.instrument)
	}

	var buf bytes.Buffer
	if err := wrapperTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("failed to render wrapper for instrument %s: %w", e.instrument, err)
	}
	return buf.Bytes(), nil
}

// identifier rewrites an instrument name into a valid script class name.
func identifier(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// elementName rewrites an instrument name into a custom element tag.
func elementName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	return b.String() + "-instrument"
}
