package runner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/conveyorgo/internal/cache"
	"github.com/vk/conveyorgo/internal/config"
	"github.com/vk/conveyorgo/internal/scheduler"
	"github.com/vk/conveyorgo/internal/trigger"
)

// stepResult records the outcome of one step for later steps' conditions
// and for the job-level outputs expression.
type stepResult struct {
	Status  string
	Outputs map[string]cty.Value
}

// jobContext is the layered evaluation state of one running job instance:
// run scope, job scope, then per-step results accumulating as steps
// complete. It is confined to the goroutine running the job.
type jobContext struct {
	run     *trigger.RunContext
	inst    *scheduler.Instance
	workDir string

	env        map[string]string
	stepOrder  []string
	steps      map[string]*stepResult
	cacheSaves []cache.SaveRequest
}

func newJobContext(run *trigger.RunContext, inst *scheduler.Instance, workDir string) *jobContext {
	env := make(map[string]string, len(run.Env)+len(inst.Job.Env))
	for k, v := range run.Env {
		env[k] = v
	}
	for k, v := range inst.Job.Env {
		env[k] = v
	}
	return &jobContext{
		run:     run,
		inst:    inst,
		workDir: workDir,
		env:     env,
		steps:   make(map[string]*stepResult),
	}
}

// record stores a step's outcome, keeping declaration order.
func (jc *jobContext) record(name, status string, outputs map[string]cty.Value) {
	if _, seen := jc.steps[name]; !seen {
		jc.stepOrder = append(jc.stepOrder, name)
	}
	jc.steps[name] = &stepResult{Status: status, Outputs: outputs}
}

func (jc *jobContext) deferSave(req cache.SaveRequest) {
	jc.cacheSaves = append(jc.cacheSaves, req)
}

// evalContext builds the HCL evaluation context visible to conditions,
// run commands, `with` attributes and the job outputs expression.
func (jc *jobContext) evalContext() *hcl.EvalContext {
	event := jc.run.Event
	inputs := make(map[string]cty.Value, len(jc.run.Params))
	for k, v := range jc.run.Params {
		inputs[k] = cty.StringVal(v)
	}
	eventVal := cty.ObjectVal(map[string]cty.Value{
		"kind":   cty.StringVal(event.Kind),
		"ref":    cty.StringVal(event.Ref),
		"branch": cty.StringVal(event.Branch),
		"tag":    cty.StringVal(event.Tag),
		"inputs": objectVal(inputs),
	})

	matrixVals := make(map[string]cty.Value, len(jc.inst.Matrix.Values))
	for k, v := range jc.inst.Matrix.Values {
		matrixVals[k] = cty.StringVal(v)
	}

	envVals := make(map[string]cty.Value, len(jc.env))
	for k, v := range jc.env {
		envVals[k] = cty.StringVal(v)
	}

	stepVals := make(map[string]cty.Value, len(jc.steps))
	for name, res := range jc.steps {
		stepVals[name] = cty.ObjectVal(map[string]cty.Value{
			"status":  cty.StringVal(res.Status),
			"outputs": objectVal(res.Outputs),
		})
	}

	needVals := make(map[string]cty.Value, len(jc.inst.Job.Needs))
	for _, needed := range jc.inst.Job.Needs {
		needVals[needed] = cty.ObjectVal(map[string]cty.Value{
			"outputs": objectVal(jc.neededOutputs(needed)),
		})
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"event":  eventVal,
			"matrix": objectVal(matrixVals),
			"env":    objectVal(envVals),
			"steps":  objectVal(stepVals),
			"needs":  objectVal(needVals),
		},
	}
}

// neededOutputs merges the outputs of every instance of a needed job, in
// ordinal order so later matrix cells win on key collisions.
func (jc *jobContext) neededOutputs(jobName string) map[string]cty.Value {
	var deps []*scheduler.Instance
	for _, dep := range jc.inst.Deps {
		if dep.Job.Name == jobName {
			deps = append(deps, dep)
		}
	}
	sort.Slice(deps, func(i, k int) bool {
		return deps[i].Matrix.Ordinal < deps[k].Matrix.Ordinal
	})
	merged := make(map[string]cty.Value)
	for _, dep := range deps {
		for k, v := range dep.Outputs {
			merged[k] = v
		}
	}
	return merged
}

// commandEnv assembles the environment for a step's process: the layered
// pipeline env, matrix axis values, manual inputs and run metadata.
func (jc *jobContext) commandEnv(step *config.Step) []string {
	env := make([]string, 0, len(jc.env)+len(step.Env)+len(jc.inst.Matrix.Values)+8)
	for k, v := range jc.env {
		env = append(env, k+"="+v)
	}
	for k, v := range step.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range jc.inst.Matrix.Values {
		env = append(env, "MATRIX_"+envName(k)+"="+v)
	}
	for k, v := range jc.run.Params {
		env = append(env, "INPUT_"+envName(k)+"="+v)
	}
	env = append(env,
		"CONVEYOR_RUN_ID="+jc.run.ID,
		"CONVEYOR_JOB="+jc.inst.Job.Name,
		"CONVEYOR_WORKSPACE="+jc.workDir,
	)
	return env
}

// envName uppercases an identifier for use as an environment variable name.
func envName(name string) string {
	name = strings.ToUpper(name)
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, name)
}

// objectVal wraps a value map as a cty object, handling the empty case.
func objectVal(vals map[string]cty.Value) cty.Value {
	if len(vals) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(vals)
}

// evalCondition evaluates an `if` expression to a boolean.
func evalCondition(expr hcl.Expression, evalCtx *hcl.EvalContext) (bool, error) {
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return false, diags
	}
	boolVal, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("condition is not a boolean: %w", err)
	}
	if boolVal.IsNull() || !boolVal.IsKnown() {
		return false, fmt.Errorf("condition did not produce a known boolean")
	}
	return boolVal.True(), nil
}
