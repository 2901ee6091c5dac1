package builder

import (
	"path/filepath"
	"strings"

	"github.com/avionicsdev/mach/internal/bundle"
	"github.com/avionicsdev/mach/internal/config"
	"github.com/avionicsdev/mach/internal/packaging"
	"github.com/avionicsdev/mach/internal/plugins"
)

// baselineTarget is the newest ECMAScript level the simulator's embedded web
// runtime supports.
const baselineTarget = "es2017"

// baselineExternal leaves image and font references unbundled so the
// simulator's virtual file system serves them at runtime.
var baselineExternal = []string{"/Images/*", "/Fonts/*"}

// werrorRemap lists the advisory diagnostic categories that are promoted to
// errors when warnings-as-errors is enabled.
var werrorRemap = []string{
	"ambiguous-reexport",
	"direct-eval",
	"ignored-bare-import",
	"import-is-undefined",
	"suspicious-boolean-not",
	"this-is-undefined-in-esm",
	"unsupported-css-property",
	"unsupported-regexp",
}

// resolveOptions produces the complete bundler options record for one
// instrument. Layering, lowest to highest: the baseline profile, the global
// bundler overrides from the config file, then the settings an instrument
// build cannot function without (entry point, output path, module format,
// manifest generation).
func (b *Builder) resolveOptions(inst *config.Instrument, submodule bool) (bundle.Options, error) {
	opts := bundle.Options{
		Target:   baselineTarget,
		External: append([]string(nil), baselineExternal...),
		LogLevel: bundle.LogSilent,
	}

	if ov := b.cfg.Bundler; ov != nil {
		if ov.Target != "" {
			opts.Target = ov.Target
		}
		if len(ov.External) > 0 {
			opts.External = append([]string(nil), ov.External...)
		}
		if ov.LogLevel != "" {
			opts.LogLevel = bundle.LogLevel(ov.LogLevel)
		}
	}

	opts.EntryPoints = []string{b.absPath(inst.Index)}
	opts.Outfile = b.outputFile(inst, submodule)
	opts.AbsWorkingDir = b.args.WorkDir
	opts.Bundle = true
	opts.Metafile = true
	if submodule {
		opts.Format = bundle.FormatESM
	} else {
		opts.Format = bundle.FormatIIFE
	}
	opts.Minify = b.args.Minify
	opts.Sourcemap = b.args.Sourcemaps
	opts.LogOverrides = b.logOverrides()

	passes, err := b.assemblePlugins(inst, submodule)
	if err != nil {
		return bundle.Options{}, err
	}
	opts.Plugins = passes
	return opts, nil
}

// logOverrides merges the config file's per-category severity overrides with
// the warnings-as-errors promotion table. The promotion wins on conflict.
func (b *Builder) logOverrides() map[string]bundle.LogLevel {
	overrides := make(map[string]bundle.LogLevel)
	if ov := b.cfg.Bundler; ov != nil {
		for id, level := range ov.LogOverrides {
			overrides[id] = bundle.LogLevel(level)
		}
	}
	if b.args.WError {
		for _, id := range werrorRemap {
			overrides[id] = bundle.LogError
		}
	}
	if len(overrides) == 0 {
		return nil
	}
	return overrides
}

// assemblePlugins builds the plugin chain for one instrument, in the fixed
// order the backend runs them: environment substitution, global scripts,
// instrument scripts, the manifest writer, submodule wiring, and finally the
// packaging export.
func (b *Builder) assemblePlugins(inst *config.Instrument, submodule bool) ([]bundle.Plugin, error) {
	passes := []bundle.Plugin{plugins.NewEnvSubstitution(b.args.Env)}

	for _, ref := range b.cfg.Plugins {
		p, err := plugins.LoadScript(ref.Name, b.absPath(ref.Path))
		if err != nil {
			return nil, err
		}
		passes = append(passes, p)
	}
	for _, ref := range inst.Plugins {
		p, err := plugins.LoadScript(ref.Name, b.absPath(ref.Path))
		if err != nil {
			return nil, err
		}
		passes = append(passes, p)
	}

	if b.args.OutputMetafile {
		passes = append(passes, plugins.NewMetafileWriter(b.bundleDir(inst)))
	}

	if len(inst.Modules) > 0 {
		aliases := make(map[string]string, len(inst.Modules))
		stylesheets := make([]string, 0, len(inst.Modules))
		for _, m := range inst.Modules {
			artifact := b.outputFile(m, true)
			aliases[m.Resolve] = artifact
			stylesheets = append(stylesheets, stylesheetFor(artifact))
		}
		passes = append(passes,
			plugins.NewSubmoduleResolver(aliases),
			plugins.NewStylesheetMerger(stylesheetFor(b.outputFile(inst, submodule)), stylesheets),
		)
	}

	if inst.Package != nil && !b.args.SkipPackages && !submodule {
		passes = append(passes, packaging.NewExporter(
			b.cfg.PackageName,
			b.absPath(b.cfg.PackageDir),
			inst.Name,
			b.bundleDir(inst),
			inst.Package,
		))
	}
	return passes, nil
}

// stylesheetFor maps a bundle path to the CSS bundle the backend emits next
// to it (bundle.js to bundle.css, module.mjs to module.css).
func stylesheetFor(bundlePath string) string {
	ext := filepath.Ext(bundlePath)
	return strings.TrimSuffix(bundlePath, ext) + ".css"
}
