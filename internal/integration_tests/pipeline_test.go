package integration_tests

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/conveyorgo/internal/testutil"
)

// workspaceGlob finds files under the kept run workspaces.
func workspaceGlob(t *testing.T, result *testutil.HarnessResult, pattern string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(result.WorkspaceDir, "*", pattern))
	require.NoError(t, err)
	return matches
}

func readWorkspaceFile(t *testing.T, result *testutil.HarnessResult, pattern string) string {
	t.Helper()
	matches := workspaceGlob(t, result, pattern)
	require.Len(t, matches, 1, "expected exactly one match for %s", pattern)
	content, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(content)
}

func TestPushEvent_SimplePipelineSucceeds(t *testing.T) {
	result := testutil.RunPipeline(t, map[string]string{
		"ci.hcl": `
trigger "push" {
  branches = ["main"]
}

job "build" {
  step "compile" {
    run = "printf built > build.log"
  }
}
`,
	}, testutil.Options{EventRef: "refs/heads/main"})

	require.NoError(t, result.Err)
	assert.Equal(t, "built", readWorkspaceFile(t, result, "build-0/build.log"))
	assert.Contains(t, result.LogOutput, "finished: succeeded")
}

func TestPushEvent_UnmatchedBranchRunsNothing(t *testing.T) {
	result := testutil.RunPipeline(t, map[string]string{
		"ci.hcl": `
trigger "push" {
  branches = ["main"]
}

job "build" {
  step "compile" {
    run = "touch ran.txt"
  }
}
`,
	}, testutil.Options{EventRef: "refs/heads/feature/other"})

	require.NoError(t, result.Err)
	assert.Empty(t, workspaceGlob(t, result, "build-0/ran.txt"))
	assert.Contains(t, result.LogOutput, "nothing to run")
}

func TestIndependentJobs_OneFailureDoesNotStopSiblings(t *testing.T) {
	result := testutil.RunPipeline(t, map[string]string{
		"ci.hcl": `
trigger "pull_request" {}

job "quality" {
  step "lint" {
    run = "exit 1"
  }
}

job "test" {
  step "unit" {
    run = "printf passed > tests.log"
  }
}
`,
	}, testutil.Options{EventKind: "pull_request", EventBranch: "feature/x"})

	require.Error(t, result.Err, "a failed job must fail the run")
	assert.Contains(t, result.Err.Error(), "failed")
	assert.Equal(t, "passed", readWorkspaceFile(t, result, "test-0/tests.log"),
		"the independent job still ran to completion")
}

func TestNeeds_FailureSkipsDownstream(t *testing.T) {
	result := testutil.RunPipeline(t, map[string]string{
		"ci.hcl": `
trigger "push" {}

job "build" {
  step "compile" {
    run = "exit 2"
  }
}

job "deploy" {
  needs = ["build"]
  step "ship" {
    run = "touch shipped.txt"
  }
}
`,
	}, testutil.Options{EventBranch: "main"})

	require.Error(t, result.Err)
	assert.Empty(t, workspaceGlob(t, result, "deploy-0/shipped.txt"))
	assert.Contains(t, result.LogOutput, "skipped")
}

func TestMatrix_EachCombinationGetsOwnWorkspaceAndEnv(t *testing.T) {
	result := testutil.RunPipeline(t, map[string]string{
		"ci.hcl": `
trigger "push" {}

job "test" {
  matrix {
    os     = ["linux", "macos"]
    python = ["3.12", "3.13"]
  }

  step "mark" {
    run = "printf '%s' \"$MATRIX_OS-$MATRIX_PYTHON\" > combo.txt"
  }
}
`,
	}, testutil.Options{EventBranch: "main"})

	require.NoError(t, result.Err)
	matches := workspaceGlob(t, result, "test-*/combo.txt")
	require.Len(t, matches, 4)

	combos := make(map[string]bool)
	for _, m := range matches {
		content, err := os.ReadFile(m)
		require.NoError(t, err)
		combos[string(content)] = true
	}
	assert.Len(t, combos, 4, "every matrix cell ran with its own axis values")
	assert.True(t, combos["linux-3.12"])
	assert.True(t, combos["macos-3.13"])
}

func TestStepOutputs_FeedConditionsAndJobOutputs(t *testing.T) {
	result := testutil.RunPipeline(t, map[string]string{
		"ci.hcl": `
trigger "push" {}

job "release" {
  step "resolve" {
    run = "echo version=3.1.4 >> \"$CONVEYOR_OUTPUT\""
  }

  step "banner" {
    if  = steps.resolve.status == "succeeded"
    run = "printf '%s' ${steps.resolve.outputs.version} > version.txt"
  }

  step "never" {
    if  = steps.resolve.status == "failed"
    run = "touch should-not-exist.txt"
  }
}
`,
	}, testutil.Options{EventBranch: "main"})

	require.NoError(t, result.Err)
	assert.Equal(t, "3.1.4", readWorkspaceFile(t, result, "release-0/version.txt"))
	assert.Empty(t, workspaceGlob(t, result, "release-0/should-not-exist.txt"))
}

func TestContinueOnError_KeepsJobGreen(t *testing.T) {
	result := testutil.RunPipeline(t, map[string]string{
		"ci.hcl": `
trigger "push" {}

job "test" {
  step "flaky" {
    run               = "exit 1"
    continue_on_error = true
  }

  step "after" {
    run = "printf ok > after.txt"
  }
}
`,
	}, testutil.Options{EventBranch: "main"})

	require.NoError(t, result.Err)
	assert.Equal(t, "ok", readWorkspaceFile(t, result, "test-0/after.txt"))
}

func TestManualDispatch_InputsReachStepsAndExpressions(t *testing.T) {
	result := testutil.RunPipeline(t, map[string]string{
		"ci.hcl": `
trigger "manual" {
  input "environment" {
    default = "staging"
  }
  input "verbose" {
    default = "false"
  }
}

job "deploy" {
  if = event.inputs.environment == "production"

  step "target" {
    run = "printf '%s' \"$INPUT_ENVIRONMENT/$INPUT_VERBOSE\" > target.txt"
  }
}
`,
	}, testutil.Options{
		EventKind:   "manual",
		EventInputs: map[string]string{"environment": "production"},
	})

	require.NoError(t, result.Err)
	assert.Equal(t, "production/false", readWorkspaceFile(t, result, "deploy-0/target.txt"),
		"explicit inputs override, absent ones keep defaults")
}

func TestManualDispatch_UndeclaredInputAborts(t *testing.T) {
	result := testutil.RunPipeline(t, map[string]string{
		"ci.hcl": `
trigger "manual" {}

job "a" {
  step "s" {
    run = "true"
  }
}
`,
	}, testutil.Options{
		EventKind:   "manual",
		EventInputs: map[string]string{"surprise": "1"},
	})

	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), `does not declare input "surprise"`)
}

func TestNeedsOutputs_VersionFlowsToPublishJob(t *testing.T) {
	var uploaded struct {
		sync.Mutex
		names []string
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploaded.Lock()
		uploaded.names = append(uploaded.names, r.URL.Query().Get("name"))
		uploaded.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := testutil.RunPipeline(t, map[string]string{
		"ci.hcl": `
trigger "tag_push" {
  tags = ["v*"]
}

job "build" {
  step "version" {
    uses = "resolve-version"
    with {
      command = "echo 2.7.1"
    }
  }

  step "package" {
    run = "mkdir -p dist && touch dist/pkg-${steps.version.outputs.version}.whl dist/pkg-${steps.version.outputs.version}.tar.gz"
  }

  step "upload" {
    uses = "upload-artifact"
    with {
      name  = "python-dist"
      paths = ["dist/*.whl", "dist/*.tar.gz"]
    }
  }

  step "coverage" {
    run = "printf '<coverage/>' > coverage.xml"
  }

  step "report" {
    uses = "report-upload"
    with {
      path             = "coverage.xml"
      tags             = ["release"]
      fail_ci_if_error = true
    }
  }

  outputs = {
    version = steps.version.outputs.version
  }
}

job "publish" {
  needs = ["build"]

  step "announce" {
    run = "printf '%s' ${needs.build.outputs.version} > released.txt"
  }
}
`,
	}, testutil.Options{
		EventRef:  "refs/tags/v2.7.1",
		ReportURL: server.URL + "/upload",
	})

	require.NoError(t, result.Err)
	assert.Equal(t, "2.7.1", readWorkspaceFile(t, result, "publish-0/released.txt"))

	// The artifact landed under run/job/name with its manifest.
	manifests, err := filepath.Glob(filepath.Join(
		result.ArtifactDir, "*", "job.build*", "python-dist", "manifest.json"))
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	wheels, err := filepath.Glob(filepath.Join(
		result.ArtifactDir, "*", "job.build*", "python-dist", "dist", "*.whl"))
	require.NoError(t, err)
	assert.Len(t, wheels, 1)

	uploaded.Lock()
	defer uploaded.Unlock()
	assert.Equal(t, []string{"coverage.xml"}, uploaded.names)
}

func TestCache_PopulatedByOneJobRestoredByDependent(t *testing.T) {
	result := testutil.RunPipeline(t, map[string]string{
		"ci.hcl": `
trigger "push" {}

job "warm" {
  step "populate" {
    run = "mkdir -p deps && printf lib > deps/lib.txt"
  }

  step "cache" {
    uses = "cache"
    with {
      key   = "shared-deps"
      paths = ["deps"]
    }
  }
}

job "reuse" {
  needs = ["warm"]

  step "cache" {
    uses = "cache"
    with {
      key   = "shared-deps"
      paths = ["deps"]
    }
  }

  step "check" {
    if  = steps.cache.outputs.cache_hit
    run = "cp deps/lib.txt restored.txt"
  }
}
`,
	}, testutil.Options{EventBranch: "main"})

	require.NoError(t, result.Err)
	assert.Equal(t, "lib", readWorkspaceFile(t, result, "reuse-0/restored.txt"),
		"the second job restored what the first one saved")
}

func TestFailFast_CancelsIndependentWork(t *testing.T) {
	result := testutil.RunPipeline(t, map[string]string{
		"ci.hcl": `
trigger "push" {}

fail_fast = true
workers   = 2

job "fails" {
  step "boom" {
    run = "exit 1"
  }
}

job "slow" {
  step "wait" {
    run = "sleep 30"
  }
}
`,
	}, testutil.Options{EventBranch: "main"})

	require.Error(t, result.Err)
	assert.Contains(t, result.LogOutput, "Fail-fast")
}

func TestMultipleFiles_MergeIntoOnePipeline(t *testing.T) {
	result := testutil.RunPipeline(t, map[string]string{
		"triggers.hcl": `
trigger "push" {}

env = {
  GREETING = "hello"
}
`,
		"jobs.hcl": `
job "speak" {
  step "say" {
    run = "printf '%s' \"$GREETING\" > said.txt"
  }
}
`,
	}, testutil.Options{EventBranch: "main"})

	require.NoError(t, result.Err)
	assert.Equal(t, "hello", readWorkspaceFile(t, result, "speak-0/said.txt"))
}

func TestInvalidPipeline_FailsBeforeExecution(t *testing.T) {
	result := testutil.RunPipeline(t, map[string]string{
		"ci.hcl": `
trigger "push" {}

job "a" {
  needs = ["a"]
  step "s" {
    run = "true"
  }
}
`,
	}, testutil.Options{EventBranch: "main"})

	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), `needs itself`)
	assert.Empty(t, workspaceGlob(t, result, "a-0"))
}
