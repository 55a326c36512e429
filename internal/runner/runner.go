package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/conveyorgo/internal/actions"
	"github.com/vk/conveyorgo/internal/artifact"
	"github.com/vk/conveyorgo/internal/cache"
	"github.com/vk/conveyorgo/internal/config"
	"github.com/vk/conveyorgo/internal/ctxlog"
	"github.com/vk/conveyorgo/internal/report"
	"github.com/vk/conveyorgo/internal/scheduler"
	"github.com/vk/conveyorgo/internal/trigger"
)

// Runner executes job instances for one run. It implements
// scheduler.JobRunner.
type Runner struct {
	run       *trigger.RunContext
	registry  *actions.Registry
	baseDir   string
	caches    *cache.Manager
	artifacts *artifact.Publisher
	sink      *report.Sink
}

// New creates a job runner for a single run. baseDir is the run's
// workspace root; each instance gets an isolated directory beneath it.
func New(run *trigger.RunContext, registry *actions.Registry, baseDir string, caches *cache.Manager, artifacts *artifact.Publisher, sink *report.Sink) *Runner {
	return &Runner{
		run:       run,
		registry:  registry,
		baseDir:   baseDir,
		caches:    caches,
		artifacts: artifacts,
		sink:      sink,
	}
}

// RunJob executes one job instance: condition, steps in order, deferred
// cache saves, then the job-level outputs expression.
func (r *Runner) RunJob(ctx context.Context, inst *scheduler.Instance) (map[string]cty.Value, error) {
	logger := ctxlog.FromContext(ctx).With("job", inst.DisplayName())

	workDir := filepath.Join(r.baseDir, instanceDirName(inst))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace for %s: %w", inst.ID, err)
	}
	inst.WorkDir = workDir

	jc := newJobContext(r.run, inst, workDir)

	if inst.Job.Condition != nil {
		ok, err := evalCondition(inst.Job.Condition, jc.evalContext())
		if err != nil {
			return nil, fmt.Errorf("evaluating condition of job %q: %w", inst.Job.Name, err)
		}
		if !ok {
			return nil, scheduler.ErrJobSkipped
		}
	}

	var failure error
	for _, step := range inst.Job.Steps {
		stepLogger := logger.With("step", step.Name)

		if failure != nil || ctx.Err() != nil {
			jc.record(step.Name, "skipped", nil)
			stepLogger.Debug("Step skipped: job already failing.")
			continue
		}

		if step.Condition != nil {
			ok, err := evalCondition(step.Condition, jc.evalContext())
			if err != nil {
				failure = &StepError{Step: step.Name, Err: fmt.Errorf("evaluating condition: %w", err)}
				jc.record(step.Name, "failed", nil)
				continue
			}
			if !ok {
				jc.record(step.Name, "skipped", nil)
				stepLogger.Info("⏭️ Step skipped by condition")
				continue
			}
		}

		stepLogger.Info("▶️ Running step")
		outputs, err := r.runStep(ctx, jc, step)
		if err != nil {
			jc.record(step.Name, "failed", nil)
			if ctx.Err() != nil {
				failure = ctx.Err()
				continue
			}
			if step.ContinueOnError {
				stepLogger.Warn("Step failed, continuing per continue_on_error.", "error", err)
				continue
			}
			stepLogger.Error("❌ Step failed", "error", err)
			failure = &StepError{Step: step.Name, Err: err}
			continue
		}
		jc.record(step.Name, "succeeded", outputs)
		stepLogger.Info("✅ Step finished")
	}

	if failure != nil {
		return nil, failure
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Caches are saved only after a clean job so a cancelled or failed run
	// never publishes a half-built entry.
	for _, req := range jc.cacheSaves {
		r.caches.Save(ctx, req.Key, workDir, req.Paths)
	}

	return r.evalJobOutputs(jc)
}

// runStep dispatches a single step to the shell or to a built-in action.
func (r *Runner) runStep(ctx context.Context, jc *jobContext, step *config.Step) (map[string]cty.Value, error) {
	evalCtx := jc.evalContext()

	if step.Run != nil {
		val, diags := step.Run.Value(evalCtx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("evaluating run command: %w", diags)
		}
		strVal, err := convert.Convert(val, cty.String)
		if err != nil || strVal.IsNull() {
			return nil, fmt.Errorf("run command is not a string")
		}
		return r.runCommandStep(ctx, jc, step.Name, strVal.AsString(), jc.commandEnv(step))
	}

	action, ok := r.registry.Lookup(step.Uses)
	if !ok {
		return nil, fmt.Errorf("unknown action %q", step.Uses)
	}

	withVals := make(map[string]cty.Value, len(step.With))
	for name, expr := range step.With {
		val, diags := expr.Value(evalCtx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("evaluating input %q: %w", name, diags)
		}
		withVals[name] = val
	}
	input := action.NewInput()
	if err := actions.DecodeInput(withVals, input); err != nil {
		return nil, fmt.Errorf("action %q: %w", step.Uses, err)
	}

	sc := &actions.StepContext{
		RunID:     r.run.ID,
		JobID:     jc.inst.ID,
		JobName:   jc.inst.Job.Name,
		WorkDir:   jc.workDir,
		Env:       jc.env,
		Caches:    r.caches,
		Artifacts: r.artifacts,
		Sink:      r.sink,
		Exec: func(execCtx context.Context, command string) (string, error) {
			stdout, stderr, err := runShell(execCtx, jc.workDir, command, jc.commandEnv(step))
			if err != nil {
				return "", fmt.Errorf("%w (stderr: %s)", err, strings.TrimSpace(stderr))
			}
			return stdout, nil
		},
		DeferCacheSave: jc.deferSave,
	}
	return action.Fn(ctx, sc, input)
}

// evalJobOutputs evaluates the job's `outputs` expression with the final
// step results in scope.
func (r *Runner) evalJobOutputs(jc *jobContext) (map[string]cty.Value, error) {
	expr := jc.inst.Job.Outputs
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(jc.evalContext())
	if diags.HasErrors() {
		return nil, fmt.Errorf("evaluating outputs of job %q: %w", jc.inst.Job.Name, diags)
	}
	if !val.CanIterateElements() {
		return nil, fmt.Errorf("outputs of job %q must be an object", jc.inst.Job.Name)
	}
	outputs := make(map[string]cty.Value)
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		outputs[k.AsString()] = v
	}
	return outputs, nil
}

// instanceDirName keeps workspace paths readable and collision-free.
func instanceDirName(inst *scheduler.Instance) string {
	name := fmt.Sprintf("%s-%d", inst.Job.Name, inst.Matrix.Ordinal)
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, name)
}

var _ scheduler.JobRunner = (*Runner)(nil)
