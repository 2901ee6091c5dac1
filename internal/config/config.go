// Package config loads and validates mach.yaml, the declarative description
// of every instrument a project builds.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Packaging variants supported by PackageSettings.
const (
	PackageTypeReact          = "react"
	PackageTypeBaseInstrument = "baseInstrument"
)

// maxModuleDepth bounds module nesting so a pathological tree fails
// validation instead of exhausting the stack.
const maxModuleDepth = 16

// MachConfig represents the top-level mach.yaml configuration.
type MachConfig struct {
	PackageName string            `yaml:"packageName"`
	PackageDir  string            `yaml:"packageDir"`
	Bundler     *BundlerOverrides `yaml:"bundler,omitempty"`
	Plugins     []PluginRef       `yaml:"plugins,omitempty"`
	Instruments []*Instrument     `yaml:"instruments"`
}

// Instrument is one independently buildable unit. Entries under Modules are
// built first as library artifacts and aliased into this instrument's bundle
// via their Resolve specifier.
type Instrument struct {
	Name    string           `yaml:"name"`
	Index   string           `yaml:"index"`
	Modules []*Instrument    `yaml:"modules,omitempty"`
	Resolve string           `yaml:"resolve,omitempty"` // Required when nested under another instrument's modules
	Package *PackageSettings `yaml:"package,omitempty"` // Ignored on submodules; only final bundles are packaged
	Plugins []PluginRef      `yaml:"plugins,omitempty"`
}

// PackageSettings directs how an instrument's output is exported into the
// simulator package tree. The shape depends on Type.
type PackageSettings struct {
	Type           string   `yaml:"type"` // "react" or "baseInstrument"
	TemplateID     string   `yaml:"templateId,omitempty"`     // react: defaults to the instrument name
	IsInteractive  *bool    `yaml:"isInteractive,omitempty"`  // react only, default true
	MountElementID string   `yaml:"mountElementId,omitempty"` // baseInstrument only, required
	FileName       string   `yaml:"fileName,omitempty"`       // Output base name, default "instrument"
	Imports        []string `yaml:"imports,omitempty"`        // Extra scripts injected into the wrapper HTML
}

// BundlerOverrides carries the global bundler settings a project may tune.
// Entry points, output paths, formats and manifest generation are owned by
// the build engine and cannot be overridden here.
type BundlerOverrides struct {
	Target       string            `yaml:"target,omitempty"`
	External     []string          `yaml:"external,omitempty"`
	LogLevel     string            `yaml:"logLevel,omitempty"`
	LogOverrides map[string]string `yaml:"logOverrides,omitempty"`
}

// PluginRef names a plugin script to load into the build.
type PluginRef struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

var validTargets = map[string]bool{
	"es5":    true,
	"es2015": true,
	"es2016": true,
	"es2017": true,
	"es2018": true,
	"es2019": true,
	"es2020": true,
	"es2021": true,
	"es2022": true,
	"esnext": true,
}

var validLogLevels = map[string]bool{
	"silent":  true,
	"info":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the whole config tree, collecting one problem per violated
// field, and fills in defaults. It is idempotent: validating an already
// validated config changes nothing.
func (c *MachConfig) Validate() error {
	v := &ValidationError{}

	if c.PackageName == "" {
		v.addf("packageName", "a value is required")
	}
	if c.PackageDir == "" {
		v.addf("packageDir", "a value is required")
	}
	if c.Bundler != nil {
		c.Bundler.validate(v, "bundler")
	}
	validatePlugins(v, "plugins", c.Plugins)

	if len(c.Instruments) == 0 {
		v.addf("instruments", "at least one instrument is required")
	}

	// Instrument names key output directories, so they must be unique
	// across the whole tree, submodules included.
	names := make(map[string]string)
	for i, inst := range c.Instruments {
		field := fmt.Sprintf("instruments[%d]", i)
		if inst == nil {
			v.addf(field, "instrument must not be empty")
			continue
		}
		inst.validate(v, field, false, names, make(map[*Instrument]bool), 0)
	}

	if len(v.Problems) > 0 {
		return v
	}
	return nil
}

// validate checks one instrument and recurses through its modules. The
// ancestors set holds the path from the root to here so an instrument that
// includes itself, directly or transitively, is rejected instead of walked
// forever.
func (in *Instrument) validate(v *ValidationError, field string, submodule bool, names map[string]string, ancestors map[*Instrument]bool, depth int) {
	if depth > maxModuleDepth {
		v.addf(field, "module nesting exceeds %d levels", maxModuleDepth)
		return
	}

	if in.Name == "" {
		v.addf(field+".name", "a value is required")
	} else if strings.ContainsAny(in.Name, `/\`) {
		v.addf(field+".name", "must not contain path separators: %q", in.Name)
	} else if prev, taken := names[in.Name]; taken {
		v.addf(field+".name", "duplicate instrument name %q (already used by %s)", in.Name, prev)
	} else {
		names[in.Name] = field
	}

	if in.Index == "" {
		v.addf(field+".index", "an entry point is required")
	}
	if submodule && in.Resolve == "" {
		v.addf(field+".resolve", "submodules must declare the import specifier they are aliased as")
	}
	if in.Package != nil {
		in.Package.validate(v, field+".package", in.Name)
	}
	validatePlugins(v, field+".plugins", in.Plugins)

	ancestors[in] = true
	// Resolve specifiers key the parent's import aliases, so siblings
	// must not collide or one module silently shadows the other.
	resolves := make(map[string]string)
	for i, m := range in.Modules {
		mf := fmt.Sprintf("%s.modules[%d]", field, i)
		if m == nil {
			v.addf(mf, "module must not be empty")
			continue
		}
		if ancestors[m] {
			v.addf(mf, "instrument %q includes itself through its modules", m.Name)
			continue
		}
		if m.Resolve != "" {
			if prev, taken := resolves[m.Resolve]; taken {
				v.addf(mf+".resolve", "duplicate resolve specifier %q (already used by %s)", m.Resolve, prev)
			} else {
				resolves[m.Resolve] = mf
			}
		}
		m.validate(v, mf, true, names, ancestors, depth+1)
	}
	delete(ancestors, in)
}

func (p *PackageSettings) validate(v *ValidationError, field, instrumentName string) {
	switch p.Type {
	case PackageTypeReact:
		if p.TemplateID == "" {
			p.TemplateID = instrumentName
		}
		if p.IsInteractive == nil {
			interactive := true
			p.IsInteractive = &interactive
		}
		if p.MountElementID != "" {
			v.addf(field+".mountElementId", "only valid for baseInstrument packaging")
		}

	case PackageTypeBaseInstrument:
		if p.TemplateID == "" {
			v.addf(field+".templateId", "baseInstrument packaging requires an explicit template id")
		}
		if p.MountElementID == "" {
			v.addf(field+".mountElementId", "baseInstrument packaging requires an explicit mount element id")
		}
		if p.IsInteractive != nil {
			v.addf(field+".isInteractive", "only valid for react packaging")
		}

	case "":
		v.addf(field+".type", "a packaging type is required (react or baseInstrument)")

	default:
		v.addf(field+".type", "unknown packaging type %q (must be react or baseInstrument)", p.Type)
	}

	if p.FileName == "" {
		p.FileName = "instrument"
	}
}

func (b *BundlerOverrides) validate(v *ValidationError, field string) {
	if b.Target != "" && !validTargets[b.Target] {
		v.addf(field+".target", "unknown target %q", b.Target)
	}
	if b.LogLevel != "" && !validLogLevels[b.LogLevel] {
		v.addf(field+".logLevel", "unknown log level %q (must be silent, info, warning, or error)", b.LogLevel)
	}
	for id, level := range b.LogOverrides {
		if !validLogLevels[level] {
			v.addf(fmt.Sprintf("%s.logOverrides[%s]", field, id), "unknown log level %q", level)
		}
	}
}

func validatePlugins(v *ValidationError, field string, refs []PluginRef) {
	for i, ref := range refs {
		f := fmt.Sprintf("%s[%d]", field, i)
		if ref.Name == "" {
			v.addf(f+".name", "a value is required")
		}
		if ref.Path == "" {
			v.addf(f+".path", "a script path is required")
		}
	}
}

// Load reads and validates mach.yaml from the specified path.
func Load(path string) (*MachConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	var cfg MachConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("config file is empty")}
		}
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			// Unknown fields and type mismatches arrive as one message
			// per offending line; surface them all.
			v := &ValidationError{}
			for _, msg := range typeErr.Errors {
				v.addf("", "%s", msg)
			}
			return nil, v
		}
		return nil, &LoadError{Path: path, Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
