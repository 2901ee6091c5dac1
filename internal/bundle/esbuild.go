package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/evanw/esbuild/pkg/api"
)

// sourceFilter selects the files SourceTransformer plugins may rewrite.
const sourceFilter = `\.(mjs|cjs|jsx?|tsx?)$`

// esbuildEngine implements Engine on the embedded esbuild compiler.
type esbuildEngine struct{}

// NewEngine returns the esbuild-backed bundling engine.
func NewEngine() Engine {
	return esbuildEngine{}
}

// Build runs a single one-shot bundling pass.
func (esbuildEngine) Build(ctx context.Context, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bo, err := apiOptions(opts)
	if err != nil {
		return nil, err
	}
	res := api.Build(bo)
	return convertResult(&res)
}

// Context prepares a warm incremental build.
func (esbuildEngine) Context(ctx context.Context, opts Options) (BuildContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bo, err := apiOptions(opts)
	if err != nil {
		return nil, err
	}
	inner, ctxErr := api.Context(bo)
	if ctxErr != nil {
		return nil, &BuildError{Diagnostics: fromMessages(ctxErr.Errors)}
	}
	return &esbuildContext{inner: inner}, nil
}

type esbuildContext struct {
	inner api.BuildContext
}

func (c *esbuildContext) Rebuild(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := c.inner.Rebuild()
	return convertResult(&res)
}

func (c *esbuildContext) Dispose() {
	c.inner.Dispose()
}

// apiOptions translates the contract options into esbuild's option record.
func apiOptions(opts Options) (api.BuildOptions, error) {
	target, err := apiTarget(opts.Target)
	if err != nil {
		return api.BuildOptions{}, err
	}
	bo := api.BuildOptions{
		EntryPoints:   opts.EntryPoints,
		Outfile:       opts.Outfile,
		AbsWorkingDir: opts.AbsWorkingDir,
		Bundle:        opts.Bundle,
		Metafile:      opts.Metafile,
		External:      opts.External,
		Target:        target,
		Format:        apiFormat(opts.Format),
		Sourcemap:     apiSourcemap(opts.Sourcemap),
		LogLevel:      apiLogLevel(opts.LogLevel),
		Write:         true,
	}
	if opts.Minify {
		bo.MinifyWhitespace = true
		bo.MinifyIdentifiers = true
		bo.MinifySyntax = true
	}
	if len(opts.LogOverrides) > 0 {
		bo.LogOverride = make(map[string]api.LogLevel, len(opts.LogOverrides))
		for id, level := range opts.LogOverrides {
			bo.LogOverride[id] = apiLogLevel(level)
		}
	}
	if host := hostPlugin(opts.Plugins); host != nil {
		bo.Plugins = []api.Plugin{*host}
	}
	return bo, nil
}

// hostPlugin bridges the contract plugins into a single esbuild plugin,
// preserving their registration order within each hook kind.
func hostPlugin(plugins []Plugin) *api.Plugin {
	var resolvers []Resolver
	var transformers []SourceTransformer
	var endHooks []EndHook
	for _, p := range plugins {
		if r, ok := p.(Resolver); ok {
			resolvers = append(resolvers, r)
		}
		if t, ok := p.(SourceTransformer); ok {
			transformers = append(transformers, t)
		}
		if h, ok := p.(EndHook); ok {
			endHooks = append(endHooks, h)
		}
	}
	if len(resolvers)+len(transformers)+len(endHooks) == 0 {
		return nil
	}

	return &api.Plugin{
		Name: "mach",
		Setup: func(build api.PluginBuild) {
			for _, r := range resolvers {
				r := r
				build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					res, err := r.ResolveImport(ResolveArgs{
						Path:       args.Path,
						Importer:   args.Importer,
						ResolveDir: args.ResolveDir,
					})
					if err != nil {
						return api.OnResolveResult{}, fmt.Errorf("%s: %w", r.PluginName(), err)
					}
					if res == nil {
						// Not handled; fall through to the next resolver.
						return api.OnResolveResult{}, nil
					}
					return api.OnResolveResult{
						PluginName: r.PluginName(),
						Path:       res.Path,
						External:   res.External,
					}, nil
				})
			}

			if len(transformers) > 0 {
				build.OnLoad(api.OnLoadOptions{Filter: sourceFilter}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					src, err := os.ReadFile(args.Path)
					if err != nil {
						return api.OnLoadResult{}, err
					}
					var warnings []api.Message
					for _, t := range transformers {
						out, diags, err := t.TransformSource(args.Path, src)
						if err != nil {
							return api.OnLoadResult{}, fmt.Errorf("%s: %w", t.PluginName(), err)
						}
						src = out
						for _, d := range diags {
							warnings = append(warnings, toMessage(d, t.PluginName()))
						}
					}
					contents := string(src)
					return api.OnLoadResult{
						Contents:   &contents,
						Loader:     loaderFor(args.Path),
						ResolveDir: filepath.Dir(args.Path),
						Warnings:   warnings,
					}, nil
				})
			}

			if len(endHooks) > 0 {
				build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
					if len(result.Errors) > 0 {
						// End hooks only run for successful passes.
						return api.OnEndResult{}, nil
					}
					converted, err := convertResult(result)
					if err != nil {
						return api.OnEndResult{}, err
					}
					for _, h := range endHooks {
						if err := h.BuildEnd(converted); err != nil {
							return api.OnEndResult{
								Errors: []api.Message{{PluginName: h.PluginName(), Text: err.Error()}},
							}, nil
						}
					}
					return api.OnEndResult{}, nil
				})
			}
		},
	}
}

// convertResult maps esbuild's result into the contract Result, parsing the
// manifest so drivers get typed input/output maps.
func convertResult(res *api.BuildResult) (*Result, error) {
	if len(res.Errors) > 0 {
		return nil, &BuildError{Diagnostics: fromMessages(res.Errors)}
	}
	out := &Result{
		Warnings: fromMessages(res.Warnings),
		Metafile: []byte(res.Metafile),
	}
	if res.Metafile != "" {
		var meta struct {
			Inputs  map[string]MetaInput  `json:"inputs"`
			Outputs map[string]MetaOutput `json:"outputs"`
		}
		if err := json.Unmarshal([]byte(res.Metafile), &meta); err != nil {
			return nil, fmt.Errorf("failed to parse build manifest: %w", err)
		}
		out.Inputs = meta.Inputs
		out.Outputs = meta.Outputs
	}
	return out, nil
}

func fromMessages(msgs []api.Message) []Diagnostic {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Diagnostic, 0, len(msgs))
	for _, m := range msgs {
		d := Diagnostic{Text: m.Text, ID: m.ID}
		if m.Location != nil {
			d.Location = &Location{
				File:     m.Location.File,
				Line:     m.Location.Line,
				Column:   m.Location.Column,
				LineText: m.Location.LineText,
			}
		}
		for _, n := range m.Notes {
			d.Notes = append(d.Notes, Note{Text: n.Text})
		}
		out = append(out, d)
	}
	return out
}

func toMessage(d Diagnostic, pluginName string) api.Message {
	m := api.Message{Text: d.Text, ID: d.ID, PluginName: pluginName}
	if d.Location != nil {
		m.Location = &api.Location{
			File:     d.Location.File,
			Line:     d.Location.Line,
			Column:   d.Location.Column,
			LineText: d.Location.LineText,
		}
	}
	for _, n := range d.Notes {
		m.Notes = append(m.Notes, api.Note{Text: n.Text})
	}
	return m
}

func loaderFor(path string) api.Loader {
	switch filepath.Ext(path) {
	case ".ts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	default:
		return api.LoaderJS
	}
}

func apiFormat(f Format) api.Format {
	if f == FormatESM {
		return api.FormatESModule
	}
	return api.FormatIIFE
}

func apiSourcemap(s Sourcemap) api.SourceMap {
	switch s {
	case SourcemapInline:
		return api.SourceMapInline
	case SourcemapLinked:
		return api.SourceMapLinked
	case SourcemapExternal:
		return api.SourceMapExternal
	default:
		return api.SourceMapNone
	}
}

func apiLogLevel(l LogLevel) api.LogLevel {
	switch l {
	case LogInfo:
		return api.LogLevelInfo
	case LogWarning:
		return api.LogLevelWarning
	case LogError:
		return api.LogLevelError
	default:
		return api.LogLevelSilent
	}
}

func apiTarget(t string) (api.Target, error) {
	switch t {
	case "":
		return api.DefaultTarget, nil
	case "es5":
		return api.ES5, nil
	case "es2015":
		return api.ES2015, nil
	case "es2016":
		return api.ES2016, nil
	case "es2017":
		return api.ES2017, nil
	case "es2018":
		return api.ES2018, nil
	case "es2019":
		return api.ES2019, nil
	case "es2020":
		return api.ES2020, nil
	case "es2021":
		return api.ES2021, nil
	case "es2022":
		return api.ES2022, nil
	case "esnext":
		return api.ESNext, nil
	default:
		return api.DefaultTarget, fmt.Errorf("unknown build target %q", t)
	}
}
