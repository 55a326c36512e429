package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/conveyorgo/internal/ctxlog"
)

// ErrJobSkipped is returned by a JobRunner when the job's own run
// condition evaluated to false. The instance is recorded skipped, not
// failed, and the skip propagates to dependents like any other skip.
var ErrJobSkipped = errors.New("job condition not met")

// JobRunner executes one job instance: its steps, caching, artifacts and
// outputs. The scheduler only observes the returned outputs and error.
type JobRunner interface {
	RunJob(ctx context.Context, inst *Instance) (map[string]cty.Value, error)
}

// Executor runs a built graph with a fixed pool of workers.
type Executor struct {
	graph    *Graph
	runner   JobRunner
	workers  int
	failFast bool
	wg       sync.WaitGroup
}

// NewExecutor creates an executor. workers bounds how many instances run
// concurrently; failFast requests cancellation of every non-terminal
// instance after the first failure.
func NewExecutor(graph *Graph, runner JobRunner, workers int, failFast bool) *Executor {
	if workers < 1 {
		workers = 1
	}
	return &Executor{
		graph:    graph,
		runner:   runner,
		workers:  workers,
		failFast: failFast,
	}
}

// Run executes the whole graph and blocks until every instance is
// terminal. It returns the aggregate run status.
func (e *Executor) Run(ctx context.Context) Status {
	logger := ctxlog.FromContext(ctx)

	readyChan := make(chan *Instance, len(e.graph.Instances))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rootCount := 0
	for _, inst := range e.graph.Ordered {
		if inst.Status() == Ready {
			readyChan <- inst
			rootCount++
		}
	}
	logger.Debug("Root instances queued.", "count", rootCount)

	e.wg.Add(len(e.graph.Instances))
	for i := 0; i < e.workers; i++ {
		go e.worker(runCtx, readyChan, cancel, i)
	}

	e.wg.Wait()
	close(readyChan)

	agg := e.graph.Aggregate()
	logger.Info("All job instances completed.", "aggregate", agg.String())
	return agg
}

// worker is the processing loop of one concurrent worker slot.
func (e *Executor) worker(ctx context.Context, readyChan chan *Instance, cancel context.CancelFunc, workerID int) {
	logger := ctxlog.FromContext(ctx)

	for inst := range readyChan {
		instLogger := logger.With("worker", workerID, "instance", inst.ID)

		if ctx.Err() != nil {
			// The run was cancelled while this instance sat in the queue.
			e.cascade(ctx, inst, Cancelled, ctx.Err())
			continue
		}
		if !inst.claimRun() {
			// A cascade finished this instance before we picked it up.
			continue
		}

		instLogger.Info("▶️ Starting job", "job", inst.DisplayName())
		inst.StartedAt = time.Now()
		outputs, err := e.runner.RunJob(ctx, inst)
		inst.FinishedAt = time.Now()

		switch {
		case err == nil:
			inst.Outputs = outputs
			e.finish(inst, Succeeded, nil)
			instLogger.Info("✅ Job succeeded", "job", inst.DisplayName())
			e.releaseDependents(inst, readyChan)

		case errors.Is(err, ErrJobSkipped):
			e.finish(inst, Skipped, nil)
			instLogger.Info("⏭️ Job skipped by condition", "job", inst.DisplayName())
			e.skipDependents(ctx, inst)

		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			e.finish(inst, Cancelled, err)
			instLogger.Warn("Job cancelled.", "job", inst.DisplayName())
			e.cascadeDependents(ctx, inst, Cancelled)

		default:
			e.finish(inst, Failed, err)
			instLogger.Error("❌ Job failed", "job", inst.DisplayName(), "error", err)
			if e.failFast {
				instLogger.Warn("Fail-fast: cancelling remaining instances.")
				cancel()
			}
			e.skipDependents(ctx, inst)
		}
	}
}

// finish records a terminal status exactly once and releases the
// instance's slot in the run's wait group.
func (e *Executor) finish(inst *Instance, s Status, err error) {
	inst.finishOnce.Do(func() {
		inst.setStatus(s)
		inst.Err = err
		e.wg.Done()
	})
}

// releaseDependents decrements dependents' unmet-dependency counters and
// queues any that became ready.
func (e *Executor) releaseDependents(inst *Instance, readyChan chan *Instance) {
	for _, dependent := range inst.Dependents {
		if dependent.depCount.Add(-1) == 0 {
			dependent.setStatus(Ready)
			readyChan <- dependent
		}
	}
}

// skipDependents transitively marks all downstream instances skipped.
func (e *Executor) skipDependents(ctx context.Context, inst *Instance) {
	e.cascade(ctx, inst, Skipped, nil)
}

// cascadeDependents propagates a terminal status downstream without
// touching the instance itself.
func (e *Executor) cascadeDependents(ctx context.Context, inst *Instance, s Status) {
	for _, dependent := range inst.Dependents {
		e.cascade(ctx, dependent, s, nil)
	}
}

// cascade finishes an instance without running it, then walks its
// dependents. finish is once-only, so overlapping cascades from multiple
// upstream failures settle on the first writer.
func (e *Executor) cascade(ctx context.Context, inst *Instance, s Status, cause error) {
	if cause == nil && s == Skipped {
		cause = fmt.Errorf("skipped due to upstream result")
	}
	e.finish(inst, s, cause)
	for _, dependent := range inst.Dependents {
		e.cascade(ctx, dependent, s, cause)
	}
}
