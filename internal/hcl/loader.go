package hcl

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/conveyorgo/internal/config"
	"github.com/vk/conveyorgo/internal/ctxlog"
)

// Loader implements config.Loader for HCL pipeline files.
type Loader struct {
	parser *hclparse.Parser
}

// NewLoader creates a new HCL loader.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

// Load reads all .hcl files from the given paths (each a file or a
// directory searched recursively), decodes them and translates the result
// into the format-agnostic config model.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)

	var files []string
	for _, path := range paths {
		found, err := findPipelineFiles(path)
		if err != nil {
			return nil, fmt.Errorf("discovering pipeline files in %q: %w", path, err)
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, config.Errorf("no pipeline files found in %s", strings.Join(paths, ", "))
	}
	logger.Debug("Pipeline files discovered.", "count", len(files))

	merged := &fileSchema{}
	for _, name := range files {
		parsed, diags := l.parser.ParseHCLFile(name)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing %s: %w", name, diags)
		}
		var schema fileSchema
		if diags := gohcl.DecodeBody(parsed.Body, nil, &schema); diags.HasErrors() {
			return nil, fmt.Errorf("decoding %s: %w", name, diags)
		}
		mergeSchema(merged, &schema)
		logger.Debug("Pipeline file decoded.", "file", name,
			"triggers", len(schema.Triggers), "jobs", len(schema.Jobs))
	}

	model, err := l.translate(ctx, merged)
	if err != nil {
		return nil, err
	}
	logger.Debug("Configuration translated into unified model.",
		"triggers", len(model.Triggers), "jobs", len(model.Jobs))
	return model, nil
}

// mergeSchema folds one decoded file into the accumulated schema. Blocks
// append; scalar settings are last-writer-wins; env entries merge per key.
func mergeSchema(dst, src *fileSchema) {
	dst.Triggers = append(dst.Triggers, src.Triggers...)
	dst.Jobs = append(dst.Jobs, src.Jobs...)
	if src.FailFast != nil {
		dst.FailFast = src.FailFast
	}
	if src.Workers != nil {
		dst.Workers = src.Workers
	}
	if len(src.Env) > 0 {
		if dst.Env == nil {
			dst.Env = make(map[string]string)
		}
		for k, v := range src.Env {
			dst.Env[k] = v
		}
	}
}

// findPipelineFiles resolves a path to the list of .hcl files it names.
// A file path is returned as-is; a directory is walked recursively.
func findPipelineFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".hcl") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

var _ config.Loader = (*Loader)(nil)
