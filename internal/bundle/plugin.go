package bundle

// Plugin is a named build extension. A plugin declares the hooks it supports
// by additionally implementing one or more of the capability interfaces
// below; the engine adapter discovers capabilities by type assertion and
// invokes them in the order the plugins appear in Options.Plugins. An error
// returned from any hook fails that build.
type Plugin interface {
	// PluginName identifies the plugin in diagnostics.
	PluginName() string
}

// ResolveArgs describes one import the backend is about to resolve.
type ResolveArgs struct {
	// Path is the import specifier as written in the source.
	Path string

	// Importer is the file containing the import.
	Importer string

	// ResolveDir is the directory resolution would start from.
	ResolveDir string
}

// ResolveResult redirects an import to a concrete location. Path must be
// absolute unless External is set.
type ResolveResult struct {
	Path     string
	External bool
}

// Resolver intercepts import resolution. Returning a nil result passes the
// import through to the next resolver, and ultimately to the backend's own
// resolution.
type Resolver interface {
	Plugin
	ResolveImport(args ResolveArgs) (*ResolveResult, error)
}

// SourceTransformer rewrites source file contents before they are parsed.
// Transformers chain: each receives the previous transformer's output.
// Returned diagnostics are attached to the build as non-fatal warnings.
type SourceTransformer interface {
	Plugin
	TransformSource(path string, src []byte) ([]byte, []Diagnostic, error)
}

// EndHook runs after every successful pass, including incremental rebuilds.
// Hooks may perform side-effecting I/O such as writing extra artifacts next
// to the bundle. Hooks never run for failed passes.
type EndHook interface {
	Plugin
	BuildEnd(result *Result) error
}
