package plugins

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/avionicsdev/mach/internal/bundle"
)

// MetafileWriter serializes the build's dependency and size metadata to
// build_meta.json in the instrument's output directory on every successful
// build.
type MetafileWriter struct {
	path string
}

// NewMetafileWriter writes the manifest into the given output directory.
func NewMetafileWriter(outputDir string) *MetafileWriter {
	return &MetafileWriter{path: filepath.Join(outputDir, "build_meta.json")}
}

func (p *MetafileWriter) PluginName() string {
	return "metafile-writer"
}

func (p *MetafileWriter) BuildEnd(res *bundle.Result) error {
	if len(res.Metafile) == 0 {
		return nil
	}
	if err := os.WriteFile(p.path, res.Metafile, 0o644); err != nil {
		return fmt.Errorf("failed to write build manifest: %w", err)
	}
	return nil
}
