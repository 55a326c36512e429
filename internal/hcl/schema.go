package hcl

import (
	"github.com/hashicorp/hcl/v2"
)

// fileSchema represents the top-level structure of a pipeline file.
type fileSchema struct {
	Env      map[string]string `hcl:"env,optional"`
	FailFast *bool             `hcl:"fail_fast,optional"`
	Workers  *int              `hcl:"workers,optional"`
	Triggers []*triggerBlock   `hcl:"trigger,block"`
	Jobs     []*jobBlock       `hcl:"job,block"`
}

// triggerBlock represents a `trigger` block. The label is the event kind
// the rule responds to.
type triggerBlock struct {
	Kind     string        `hcl:"kind,label"`
	Branches []string      `hcl:"branches,optional"`
	Tags     []string      `hcl:"tags,optional"`
	Inputs   []*inputBlock `hcl:"input,block"`
}

// inputBlock declares one manual-dispatch parameter inside a manual trigger.
type inputBlock struct {
	Name        string `hcl:"name,label"`
	Description string `hcl:"description,optional"`
	Default     string `hcl:"default,optional"`
}

// jobBlock represents a `job` block from a pipeline file.
type jobBlock struct {
	Name    string            `hcl:"name,label"`
	Needs   []string          `hcl:"needs,optional"`
	If      hcl.Expression    `hcl:"if,optional"`
	Env     map[string]string `hcl:"env,optional"`
	Matrix  *matrixBlock      `hcl:"matrix,block"`
	Steps   []*stepBlock      `hcl:"step,block"`
	Outputs hcl.Expression    `hcl:"outputs,optional"`
}

// matrixBlock holds the raw body of a `matrix` block. Axes are plain
// attributes; the body is kept raw so their declaration order can be
// recovered from source ranges during translation.
type matrixBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// stepBlock represents a `step` block within a job.
type stepBlock struct {
	Name            string            `hcl:"name,label"`
	Run             hcl.Expression    `hcl:"run,optional"`
	Uses            string            `hcl:"uses,optional"`
	If              hcl.Expression    `hcl:"if,optional"`
	ContinueOnError bool              `hcl:"continue_on_error,optional"`
	Env             map[string]string `hcl:"env,optional"`
	With            *withBlock        `hcl:"with,block"`
}

// withBlock holds the raw body of a `with` block. Attribute values may
// reference runtime context, so they are extracted as expressions and
// evaluated only when the step runs.
type withBlock struct {
	Body hcl.Body `hcl:",remain"`
}
