package actions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/conveyorgo/internal/artifact"
	"github.com/vk/conveyorgo/internal/cache"
	"github.com/vk/conveyorgo/internal/report"
)

func runAction(t *testing.T, sc *StepContext, name string, with map[string]cty.Value) (map[string]cty.Value, error) {
	t.Helper()
	action, ok := NewRegistry().Lookup(name)
	require.True(t, ok)
	input := action.NewInput()
	require.NoError(t, DecodeInput(with, input))
	return action.Fn(testContext(), sc, input)
}

func TestResolveVersionAction_TakesFirstStdoutLine(t *testing.T) {
	sc := &StepContext{
		Exec: func(_ context.Context, command string) (string, error) {
			assert.Equal(t, "python setup.py --version", command)
			return "  2.7.1\nwarning: deprecated config\n", nil
		},
	}

	outputs, err := runAction(t, sc, "resolve-version", map[string]cty.Value{
		"command": cty.StringVal("python setup.py --version"),
	})

	require.NoError(t, err)
	assert.Equal(t, "2.7.1", outputs["version"].AsString())
}

func TestResolveVersionAction_EmptyOutputFails(t *testing.T) {
	sc := &StepContext{
		Exec: func(context.Context, string) (string, error) { return "\n\n", nil },
	}

	_, err := runAction(t, sc, "resolve-version", map[string]cty.Value{
		"command": cty.StringVal("true"),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output")
}

func TestResolveVersionAction_CommandFailurePropagates(t *testing.T) {
	sc := &StepContext{
		Exec: func(context.Context, string) (string, error) {
			return "", errors.New("exit status 1")
		},
	}

	_, err := runAction(t, sc, "resolve-version", map[string]cty.Value{
		"command": cty.StringVal("false"),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolving version")
}

func TestCacheAction_HashFilesExtendKeyAndSaveIsDeferred(t *testing.T) {
	backend, err := cache.NewFSBackend(t.TempDir())
	require.NoError(t, err)

	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "go.sum"), []byte("lock"), 0o644))

	var deferred []cache.SaveRequest
	sc := &StepContext{
		WorkDir:        workDir,
		Caches:         cache.NewManager(backend, 0),
		DeferCacheSave: func(req cache.SaveRequest) { deferred = append(deferred, req) },
	}

	outputs, err := runAction(t, sc, "cache", map[string]cty.Value{
		"key":        cty.StringVal("gomod"),
		"paths":      cty.ListVal([]cty.Value{cty.StringVal("vendor")}),
		"hash_files": cty.ListVal([]cty.Value{cty.StringVal("go.sum")}),
	})

	require.NoError(t, err)
	assert.Equal(t, cty.False, outputs["cache_hit"])

	key := outputs["key"].AsString()
	assert.Regexp(t, `^gomod-[0-9a-f]{16}$`, key)

	require.Len(t, deferred, 1)
	assert.Equal(t, key, deferred[0].Key)
	assert.Equal(t, []string{"vendor"}, deferred[0].Paths)
}

func TestCacheAction_RestoreHitReportsMatchedKey(t *testing.T) {
	backend, err := cache.NewFSBackend(t.TempDir())
	require.NoError(t, err)

	seed := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(seed, "vendor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(seed, "vendor", "a.go"), []byte("pkg"), 0o644))
	require.NoError(t, backend.Save(testContext(), "deps-old", seed, []string{"vendor"}))

	workDir := t.TempDir()
	sc := &StepContext{
		WorkDir:        workDir,
		Caches:         cache.NewManager(backend, 0),
		DeferCacheSave: func(cache.SaveRequest) {},
	}

	outputs, err := runAction(t, sc, "cache", map[string]cty.Value{
		"key":              cty.StringVal("deps-new"),
		"paths":            cty.ListVal([]cty.Value{cty.StringVal("vendor")}),
		"restore_prefixes": cty.ListVal([]cty.Value{cty.StringVal("deps-")}),
	})

	require.NoError(t, err)
	assert.Equal(t, cty.True, outputs["cache_hit"])
	assert.Equal(t, "deps-old", outputs["matched_key"].AsString())
	assert.FileExists(t, filepath.Join(workDir, "vendor", "a.go"))
}

func TestUploadArtifactAction_DefaultsAndValidation(t *testing.T) {
	pub, err := artifact.NewPublisher(t.TempDir())
	require.NoError(t, err)

	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "app.bin"), []byte("elf"), 0o755))

	sc := &StepContext{RunID: "r1", JobID: "job.build[0]", WorkDir: workDir, Artifacts: pub}

	outputs, err := runAction(t, sc, "upload-artifact", map[string]cty.Value{
		"name":  cty.StringVal("binary"),
		"paths": cty.ListVal([]cty.Value{cty.StringVal("*.bin")}),
	})
	require.NoError(t, err)
	assert.Equal(t, "binary", outputs["name"].AsString())

	ref, ok := pub.Get("r1", "job.build[0]", "binary")
	require.True(t, ok)
	assert.Equal(t, 90, ref.RetentionDays, "retention defaults to 90 days")

	_, err = runAction(t, sc, "upload-artifact", map[string]cty.Value{
		"name":              cty.StringVal("other"),
		"paths":             cty.ListVal([]cty.Value{cty.StringVal("*.bin")}),
		"if_no_files_found": cty.StringVal("warn"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "if_no_files_found")
}

func TestUploadArtifactAction_IgnoreModeToleratesNoMatches(t *testing.T) {
	pub, err := artifact.NewPublisher(t.TempDir())
	require.NoError(t, err)
	sc := &StepContext{RunID: "r1", JobID: "job.a[0]", WorkDir: t.TempDir(), Artifacts: pub}

	_, err = runAction(t, sc, "upload-artifact", map[string]cty.Value{
		"name":              cty.StringVal("maybe"),
		"paths":             cty.ListVal([]cty.Value{cty.StringVal("dist/*")}),
		"if_no_files_found": cty.StringVal("ignore"),
	})
	require.NoError(t, err)

	_, err = runAction(t, sc, "upload-artifact", map[string]cty.Value{
		"name":  cty.StringVal("strict"),
		"paths": cty.ListVal([]cty.Value{cty.StringVal("dist/*")}),
	})
	require.ErrorIs(t, err, artifact.ErrNoFiles)
}

func TestReportUploadAction_FailureToleranceIsOptIn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "cov.xml"), []byte("<c/>"), 0o644))

	sc := &StepContext{WorkDir: workDir, Sink: report.NewSink(server.URL, server.Client())}

	// Default: a sink failure is downgraded to a warning.
	outputs, err := runAction(t, sc, "report-upload", map[string]cty.Value{
		"path": cty.StringVal("cov.xml"),
	})
	require.NoError(t, err)
	assert.Equal(t, cty.False, outputs["uploaded"])

	// fail_ci_if_error promotes it to a step failure.
	_, err = runAction(t, sc, "report-upload", map[string]cty.Value{
		"path":             cty.StringVal("cov.xml"),
		"fail_ci_if_error": cty.True,
	})
	var sinkErr *report.SinkError
	require.ErrorAs(t, err, &sinkErr)
}

func TestReportUploadAction_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "cov.xml"), []byte("<c/>"), 0o644))

	sc := &StepContext{WorkDir: workDir, Sink: report.NewSink(server.URL, server.Client())}

	outputs, err := runAction(t, sc, "report-upload", map[string]cty.Value{
		"path": cty.StringVal("cov.xml"),
		"tags": cty.ListVal([]cty.Value{cty.StringVal("unit")}),
	})
	require.NoError(t, err)
	assert.Equal(t, cty.True, outputs["uploaded"])
}
