package hcl

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/conveyorgo/internal/config"
	"github.com/vk/conveyorgo/internal/ctxlog"
)

// knownTriggerKinds are the event kinds a trigger rule may respond to.
var knownTriggerKinds = map[string]bool{
	"push":         true,
	"pull_request": true,
	"tag_push":     true,
	"manual":       true,
}

// translate converts the merged HCL schema into the agnostic config model.
func (l *Loader) translate(ctx context.Context, s *fileSchema) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	model := &config.Model{
		Env:     s.Env,
		Workers: 4,
	}
	if s.FailFast != nil {
		model.FailFast = *s.FailFast
	}
	if s.Workers != nil {
		if *s.Workers < 1 {
			return nil, config.Errorf("workers must be at least 1, got %d", *s.Workers)
		}
		model.Workers = *s.Workers
	}

	for _, t := range s.Triggers {
		rule, err := translateTrigger(t)
		if err != nil {
			return nil, err
		}
		model.Triggers = append(model.Triggers, rule)
	}

	seen := make(map[string]bool)
	for _, j := range s.Jobs {
		if seen[j.Name] {
			return nil, config.Errorf("duplicate job name %q", j.Name)
		}
		seen[j.Name] = true
		job, err := translateJob(j)
		if err != nil {
			return nil, err
		}
		model.Jobs = append(model.Jobs, job)
		logger.Debug("Job translated.", "job", job.Name,
			"steps", len(job.Steps), "matrix_axes", len(job.Matrix))
	}

	return model, nil
}

// translateTrigger converts a trigger block into a rule.
func translateTrigger(t *triggerBlock) (*config.TriggerRule, error) {
	if !knownTriggerKinds[t.Kind] {
		return nil, config.Errorf("unknown trigger kind %q", t.Kind)
	}
	rule := &config.TriggerRule{
		Kind:     t.Kind,
		Branches: t.Branches,
		Tags:     t.Tags,
	}
	if len(t.Inputs) > 0 {
		if t.Kind != "manual" {
			return nil, config.Errorf("trigger %q declares inputs, only manual triggers may", t.Kind)
		}
		rule.Inputs = make(map[string]*config.InputDefinition, len(t.Inputs))
		for _, in := range t.Inputs {
			if _, dup := rule.Inputs[in.Name]; dup {
				return nil, config.Errorf("duplicate input %q on manual trigger", in.Name)
			}
			rule.Inputs[in.Name] = &config.InputDefinition{
				Name:        in.Name,
				Description: in.Description,
				Default:     in.Default,
			}
		}
	}
	return rule, nil
}

// translateJob converts a job block into the agnostic model.
func translateJob(j *jobBlock) (*config.Job, error) {
	job := &config.Job{
		Name:      j.Name,
		Needs:     j.Needs,
		Condition: j.If,
		Env:       j.Env,
		Outputs:   j.Outputs,
	}

	if j.Matrix != nil {
		axes, err := translateMatrix(j.Name, j.Matrix)
		if err != nil {
			return nil, err
		}
		job.Matrix = axes
	}

	if len(j.Steps) == 0 {
		return nil, config.Errorf("job %q declares no steps", j.Name)
	}
	seen := make(map[string]bool)
	for _, st := range j.Steps {
		if seen[st.Name] {
			return nil, config.Errorf("duplicate step name %q in job %q", st.Name, j.Name)
		}
		seen[st.Name] = true
		step, err := translateStep(j.Name, st)
		if err != nil {
			return nil, err
		}
		job.Steps = append(job.Steps, step)
	}

	return job, nil
}

// translateStep converts a step block, enforcing the run/uses exclusivity.
func translateStep(jobName string, st *stepBlock) (*config.Step, error) {
	hasRun := st.Run != nil
	hasUses := st.Uses != ""
	if hasRun == hasUses {
		return nil, config.Errorf(
			"step %q in job %q must set exactly one of 'run' or 'uses'", st.Name, jobName)
	}
	step := &config.Step{
		Name:            st.Name,
		Run:             st.Run,
		Uses:            st.Uses,
		Condition:       st.If,
		ContinueOnError: st.ContinueOnError,
		Env:             st.Env,
	}
	if st.With != nil {
		step.With = extractBodyAttributes(st.With.Body)
	}
	return step, nil
}

// translateMatrix recovers the axes of a matrix block in declaration order.
// HCL hands attributes back as a map, so the order is rebuilt from source
// positions before the axis values are evaluated.
func translateMatrix(jobName string, m *matrixBlock) ([]*config.MatrixAxis, error) {
	attrs, diags := m.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("matrix block of job %q: %w", jobName, diags)
	}

	ordered := make([]*hcl.Attribute, 0, len(attrs))
	for _, attr := range attrs {
		ordered = append(ordered, attr)
	}
	sort.Slice(ordered, func(i, k int) bool {
		ri, rk := ordered[i].NameRange, ordered[k].NameRange
		if ri.Filename != rk.Filename {
			return ri.Filename < rk.Filename
		}
		return ri.Start.Byte < rk.Start.Byte
	})

	axes := make([]*config.MatrixAxis, 0, len(ordered))
	for _, attr := range ordered {
		values, err := evalStringList(attr.Expr)
		if err != nil {
			return nil, config.Errorf(
				"matrix axis %q of job %q: %v", attr.Name, jobName, err)
		}
		axes = append(axes, &config.MatrixAxis{Name: attr.Name, Values: values})
	}
	return axes, nil
}

// evalStringList evaluates a static expression to a list of strings.
func evalStringList(expr hcl.Expression) ([]string, error) {
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	if !val.CanIterateElements() {
		return nil, fmt.Errorf("expected a list of strings, got %s", val.Type().FriendlyName())
	}
	var out []string
	for it := val.ElementIterator(); it.Next(); {
		_, v := it.Element()
		sv, err := convert.Convert(v, cty.String)
		if err != nil {
			return nil, fmt.Errorf("list element is not a string: %w", err)
		}
		out = append(out, sv.AsString())
	}
	return out, nil
}

// extractBodyAttributes pulls the attributes of a raw body out as a map of
// unevaluated expressions.
func extractBodyAttributes(body hcl.Body) map[string]hcl.Expression {
	if body == nil {
		return nil
	}
	attrs, _ := body.JustAttributes()
	if len(attrs) == 0 {
		return nil
	}
	exprMap := make(map[string]hcl.Expression, len(attrs))
	for name, attr := range attrs {
		exprMap[name] = attr.Expr
	}
	return exprMap
}
