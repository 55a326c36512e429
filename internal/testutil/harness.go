// Package testutil provides the shared harness for integration tests: it
// materializes pipeline files into a temp directory, runs the app against
// a captured log buffer and hands back the outcome.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/conveyorgo/internal/app"
	"github.com/vk/conveyorgo/internal/hcl"
)

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	LogOutput string
	Err       error
	App       *app.App
	// WorkspaceDir is the root under which run workspaces were kept.
	WorkspaceDir string
	// ArtifactDir is where published artifacts landed.
	ArtifactDir string
}

// Options tweaks the harness configuration for one test.
type Options struct {
	EventKind   string
	EventRef    string
	EventBranch string
	EventTag    string
	EventInputs map[string]string
	FailFast    bool
	Workers     int
	ReportURL   string
}

// RunPipeline writes the given pipeline files to a temp directory, runs
// the app against them with a default push event, and returns the result.
func RunPipeline(t *testing.T, files map[string]string, opts Options) *HarnessResult {
	t.Helper()
	return RunPipelineWithContext(context.Background(), t, files, opts)
}

// RunPipelineWithContext is RunPipeline with a caller-provided context.
func RunPipelineWithContext(ctx context.Context, t *testing.T, files map[string]string, opts Options) *HarnessResult {
	t.Helper()

	tmpDir := t.TempDir()
	pipelineDir := filepath.Join(tmpDir, "pipeline")
	require.NoError(t, os.Mkdir(pipelineDir, 0o755))

	for name, content := range files {
		filePath := filepath.Join(pipelineDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
		require.NoError(t, os.WriteFile(filePath, []byte(content), 0o644))
	}

	if opts.EventKind == "" {
		opts.EventKind = "push"
	}

	workspaceDir := filepath.Join(tmpDir, "workspace")
	artifactDir := filepath.Join(tmpDir, "artifacts")
	appConfig, err := app.NewConfig(app.Config{
		PipelinePath: pipelineDir,
		EventKind:    opts.EventKind,
		EventRef:     opts.EventRef,
		EventBranch:  opts.EventBranch,
		EventTag:     opts.EventTag,
		EventInputs:  opts.EventInputs,
		LogFormat:    "text",
		LogLevel:     "debug",
		Workers:      opts.Workers,
		FailFast:     opts.FailFast,
		WorkspaceDir: workspaceDir,
		CacheDir:     filepath.Join(tmpDir, "cache"),
		ArtifactDir:  artifactDir,
		ReportURL:    opts.ReportURL,
	})
	require.NoError(t, err)

	logBuffer := &SafeBuffer{}
	testApp, err := app.New(logBuffer, appConfig, hcl.NewLoader())
	if err != nil {
		return &HarnessResult{LogOutput: logBuffer.String(), Err: err}
	}

	runErr := testApp.Run(ctx)
	if os.Getenv("CONVEYOR_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
	}

	return &HarnessResult{
		LogOutput:    logBuffer.String(),
		Err:          runErr,
		App:          testApp,
		WorkspaceDir: workspaceDir,
		ArtifactDir:  artifactDir,
	}
}
