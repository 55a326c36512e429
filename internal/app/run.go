package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/conveyorgo/internal/actions"
	"github.com/vk/conveyorgo/internal/artifact"
	"github.com/vk/conveyorgo/internal/cache"
	"github.com/vk/conveyorgo/internal/ctxlog"
	"github.com/vk/conveyorgo/internal/report"
	"github.com/vk/conveyorgo/internal/runner"
	"github.com/vk/conveyorgo/internal/scheduler"
	"github.com/vk/conveyorgo/internal/trigger"
)

// Run evaluates the configured event against the pipeline's triggers and
// executes one independent run per satisfied rule. It returns an error
// iff the worst aggregate status across runs is failed, so the process
// exit code tracks the run outcome.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	event := trigger.Event{
		Kind:   a.config.EventKind,
		Ref:    a.config.EventRef,
		Branch: a.config.EventBranch,
		Tag:    a.config.EventTag,
		Inputs: a.config.EventInputs,
	}
	runs, err := trigger.Evaluate(ctx, event, a.model)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		a.logger.Info("No trigger rule matched the event, nothing to run.",
			"event", event.Kind, "ref", event.Ref)
		return nil
	}

	aggregate := scheduler.Succeeded
	for _, run := range runs {
		status, err := a.executeRun(ctx, run)
		if err != nil {
			return err
		}
		aggregate = scheduler.Worse(aggregate, status)
	}

	a.logger.Debug("App.Run method finished.", "aggregate", aggregate.String())
	if aggregate == scheduler.Failed {
		return fmt.Errorf("pipeline finished with status %s", aggregate)
	}
	return nil
}

// executeRun builds and executes the job graph for one triggered run.
// A returned error is a configuration problem; execution failures are
// reported through the returned status instead.
func (a *App) executeRun(ctx context.Context, run *trigger.RunContext) (scheduler.Status, error) {
	logger := a.logger.With("run_id", run.ID)
	ctx = ctxlog.WithLogger(ctx, logger)

	graph, err := scheduler.Build(ctx, a.model)
	if err != nil {
		return scheduler.Failed, err
	}

	workspace, cleanup, err := a.runWorkspace(run.ID)
	if err != nil {
		return scheduler.Failed, err
	}
	defer cleanup()

	cacheDir := a.config.CacheDir
	if cacheDir == "" {
		if userCache, err := os.UserCacheDir(); err == nil {
			cacheDir = filepath.Join(userCache, "conveyor")
		} else {
			cacheDir = filepath.Join(os.TempDir(), "conveyor-cache")
		}
	}
	backend, err := cache.NewFSBackend(cacheDir)
	if err != nil {
		return scheduler.Failed, err
	}
	caches := cache.NewManager(backend, 0)

	artifactDir := a.config.ArtifactDir
	if artifactDir == "" {
		artifactDir = "artifacts"
	}
	publisher, err := artifact.NewPublisher(artifactDir)
	if err != nil {
		return scheduler.Failed, err
	}

	sink := report.NewSink(a.config.ReportURL, nil)
	registry := actions.NewRegistry()
	jobRunner := runner.New(run, registry, workspace, caches, publisher, sink)

	workers := a.model.Workers
	if a.config.Workers > 0 {
		workers = a.config.Workers
	}
	failFast := a.model.FailFast || a.config.FailFast

	logger.Info("🚀 Starting run", "event", run.Event.Kind,
		"instances", len(graph.Ordered), "workers", workers, "fail_fast", failFast)
	executor := scheduler.NewExecutor(graph, jobRunner, workers, failFast)
	status := executor.Run(ctx)
	logger.Info("🏁 Run finished", "status", status.String())

	a.writeSummary(run, graph, status)
	return status, nil
}

// runWorkspace allocates the isolated workspace root of one run. The
// default temp workspace is removed at run end regardless of outcome; an
// explicitly configured root is kept for inspection.
func (a *App) runWorkspace(runID string) (string, func(), error) {
	if a.config.WorkspaceDir != "" {
		dir := filepath.Join(a.config.WorkspaceDir, runID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", nil, fmt.Errorf("creating workspace: %w", err)
		}
		return dir, func() {}, nil
	}
	dir, err := os.MkdirTemp("", "conveyor-run-*")
	if err != nil {
		return "", nil, fmt.Errorf("creating workspace: %w", err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}
