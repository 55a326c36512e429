package config

import (
	"github.com/hashicorp/hcl/v2"
)

// Model is the unified, format-agnostic representation of an entire
// pipeline definition: trigger rules, global environment, execution
// settings and the job list.
type Model struct {
	Triggers []*TriggerRule
	Env      map[string]string
	FailFast bool
	Workers  int
	Jobs     []*Job
}

// TriggerRule declares one condition under which an incoming event starts a
// run. Kind is one of "push", "pull_request", "tag_push" or "manual".
type TriggerRule struct {
	Kind     string
	Branches []string
	Tags     []string
	Inputs   map[string]*InputDefinition
}

// InputDefinition declares a single manual-dispatch parameter.
type InputDefinition struct {
	Name        string
	Description string
	Default     string
}

// Job is the format-agnostic representation of a `job` block. It is a
// template: matrix expansion turns it into one or more concrete instances.
type Job struct {
	Name      string
	Needs     []string
	Matrix    []*MatrixAxis
	Condition hcl.Expression
	Env       map[string]string
	Steps     []*Step
	// Outputs is an expression producing an object of values the job
	// exposes to its dependents. Evaluated after the last step.
	Outputs hcl.Expression
}

// MatrixAxis is one named axis of a job's expansion matrix. Axes keep their
// declaration order so that expansion is row-major and deterministic.
type MatrixAxis struct {
	Name   string
	Values []string
}

// Step is the format-agnostic representation of a `step` block. Exactly one
// of Run or Uses is set: Run is a command expression, Uses names a built-in
// action whose inputs come from With.
type Step struct {
	Name            string
	Run             hcl.Expression
	Uses            string
	With            map[string]hcl.Expression
	Condition       hcl.Expression
	ContinueOnError bool
	Env             map[string]string
}

// JobByName returns the job with the given name, or nil.
func (m *Model) JobByName(name string) *Job {
	for _, j := range m.Jobs {
		if j.Name == name {
			return j
		}
	}
	return nil
}
