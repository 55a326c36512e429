// Package artifact collects named output files from a job's workspace and
// stores them keyed by run, job and artifact name. An artifact is
// write-once and finalized at publish time.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/vk/conveyorgo/internal/ctxlog"
)

// ErrNoFiles is returned when an artifact's patterns matched nothing and
// the artifact was not declared lenient.
var ErrNoFiles = errors.New("no files matched artifact patterns")

// Ref describes one published artifact.
type Ref struct {
	Name          string    `json:"name"`
	RunID         string    `json:"run_id"`
	JobID         string    `json:"job_id"`
	Files         []string  `json:"files"`
	RetentionDays int       `json:"retention_days"`
	CreatedAt     time.Time `json:"created_at"`
}

// Publisher stores artifacts under a root directory. Names are job-scoped,
// so the only cross-job coordination needed is the write-once check.
type Publisher struct {
	root string

	mu        sync.Mutex
	published map[string]*Ref
}

// NewPublisher creates a publisher rooted at dir.
func NewPublisher(dir string) (*Publisher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact root: %w", err)
	}
	return &Publisher{root: dir, published: make(map[string]*Ref)}, nil
}

// Publish globs the given patterns relative to workDir and stores the
// matches as one named artifact. Zero matches is an error unless lenient;
// publishing the same (run, job, name) twice is always an error.
func (p *Publisher) Publish(ctx context.Context, runID, jobID, name string, workDir string, patterns []string, retentionDays int, lenient bool) (*Ref, error) {
	logger := ctxlog.FromContext(ctx)

	var files []string
	fsys := os.DirFS(workDir)
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("artifact %q: bad pattern %q: %w", name, pattern, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	files = dedupe(files)

	if len(files) == 0 && !lenient {
		return nil, fmt.Errorf("artifact %q: %w", name, ErrNoFiles)
	}

	storeKey := fmt.Sprintf("%s/%s/%s", runID, jobID, name)
	p.mu.Lock()
	if _, exists := p.published[storeKey]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("artifact %q already published for job %q", name, jobID)
	}
	ref := &Ref{
		Name:          name,
		RunID:         runID,
		JobID:         jobID,
		Files:         files,
		RetentionDays: retentionDays,
		CreatedAt:     time.Now().UTC(),
	}
	p.published[storeKey] = ref
	p.mu.Unlock()

	destDir := filepath.Join(p.root, runID, jobID, name)
	for _, rel := range files {
		if err := copyInto(filepath.Join(workDir, rel), filepath.Join(destDir, rel)); err != nil {
			return nil, fmt.Errorf("artifact %q: storing %q: %w", name, rel, err)
		}
	}
	manifest, err := json.MarshalIndent(ref, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(destDir, "manifest.json"), manifest, 0o644); err != nil {
		return nil, fmt.Errorf("artifact %q: writing manifest: %w", name, err)
	}

	logger.Info("Artifact published.", "artifact", name, "files", len(files), "retention_days", retentionDays)
	return ref, nil
}

// Get returns a published artifact's ref, if any.
func (p *Publisher) Get(runID, jobID, name string) (*Ref, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ref, ok := p.published[fmt.Sprintf("%s/%s/%s", runID, jobID, name)]
	return ref, ok
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}

func copyInto(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		// Directories are reached through their files; nothing to copy.
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
