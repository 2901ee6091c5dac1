package plugins

import (
	"fmt"
	"os"
	"strings"

	"github.com/avionicsdev/mach/internal/bundle"
)

// SubmoduleResolver redirects each submodule's declared import specifier to
// that submodule's already-built artifact, so the parent bundle consumes the
// library output instead of re-bundling the submodule's sources.
type SubmoduleResolver struct {
	aliases map[string]string
}

// NewSubmoduleResolver maps import specifiers to absolute artifact paths.
func NewSubmoduleResolver(aliases map[string]string) *SubmoduleResolver {
	return &SubmoduleResolver{aliases: aliases}
}

func (p *SubmoduleResolver) PluginName() string {
	return "submodule-resolver"
}

func (p *SubmoduleResolver) ResolveImport(args bundle.ResolveArgs) (*bundle.ResolveResult, error) {
	target, ok := p.aliases[args.Path]
	if !ok {
		return nil, nil
	}
	return &bundle.ResolveResult{Path: target}, nil
}

// StylesheetMerger appends each submodule's separately-built stylesheet onto
// the parent instrument's stylesheet bundle after every successful pass.
type StylesheetMerger struct {
	targetPath string
	sources    []string
}

// NewStylesheetMerger merges the source stylesheets, in order, into target.
func NewStylesheetMerger(target string, sources []string) *StylesheetMerger {
	return &StylesheetMerger{targetPath: target, sources: sources}
}

func (p *StylesheetMerger) PluginName() string {
	return "stylesheet-merger"
}

func (p *StylesheetMerger) BuildEnd(res *bundle.Result) error {
	var merged []byte
	for _, src := range p.sources {
		css, err := os.ReadFile(src)
		if os.IsNotExist(err) {
			// The submodule emitted no styles.
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read submodule stylesheet: %w", err)
		}
		merged = append(merged, css...)
		if len(css) > 0 && css[len(css)-1] != '\n' {
			merged = append(merged, '\n')
		}
	}
	if len(merged) == 0 {
		return nil
	}

	// The bundler rewrites the parent stylesheet on every pass it emits
	// one, so appending is safe then. When the parent has no styles of its
	// own, the file holds only previously merged content and must be
	// replaced, not grown.
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if parentEmittedCSS(res) {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(p.targetPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open stylesheet bundle: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(merged); err != nil {
		return fmt.Errorf("failed to merge stylesheets: %w", err)
	}
	return nil
}

func parentEmittedCSS(res *bundle.Result) bool {
	if res == nil {
		return false
	}
	for path := range res.Outputs {
		if strings.HasSuffix(path, ".css") {
			return true
		}
	}
	return false
}
