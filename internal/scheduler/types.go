package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/conveyorgo/internal/config"
	"github.com/vk/conveyorgo/internal/matrix"
)

// Instance is one concrete job: a job template bound to a single matrix
// combination. It owns its lifecycle state and, after success, the outputs
// it exposes to dependents.
type Instance struct {
	// ID is the stable identifier, e.g. "job.test[3]".
	ID string
	// Job is the template this instance was expanded from.
	Job *config.Job
	// Matrix is the combination bound to this instance.
	Matrix matrix.Combination

	// Deps and Dependents are the `needs` edges, at instance granularity.
	Deps       map[string]*Instance
	Dependents map[string]*Instance

	// Err is the failure cause; valid to read only once the instance is
	// terminal and the executor has returned.
	Err error
	// Outputs holds the job-level outputs; written before dependents are
	// released, so they may read it without locking.
	Outputs map[string]cty.Value
	// WorkDir is the instance's isolated workspace, set by the job runner.
	WorkDir string

	StartedAt  time.Time
	FinishedAt time.Time

	state      atomic.Int32
	depCount   atomic.Int32
	finishOnce sync.Once
}

// Status returns the instance's current lifecycle state.
func (n *Instance) Status() Status {
	return Status(n.state.Load())
}

func (n *Instance) setStatus(s Status) {
	n.state.Store(int32(s))
}

// claimRun atomically moves a ready instance to running. It fails when a
// cancellation or skip cascade already finished the instance while it was
// sitting in the ready queue.
func (n *Instance) claimRun() bool {
	return n.state.CompareAndSwap(int32(Ready), int32(Running))
}

// DisplayName is the human-readable name used in logs and the summary
// table: the job name plus the matrix key when one exists.
func (n *Instance) DisplayName() string {
	if n.Matrix.Key == "" {
		return n.Job.Name
	}
	return fmt.Sprintf("%s (%s)", n.Job.Name, n.Matrix.Key)
}

// Graph holds all instances of a run, keyed by ID, plus a deterministic
// ordering for reporting.
type Graph struct {
	Instances map[string]*Instance
	// Ordered lists instances in job declaration order, matrix row-major
	// within a job.
	Ordered []*Instance
}

// Aggregate reduces all instance statuses to the run-level status.
func (g *Graph) Aggregate() Status {
	agg := Succeeded
	for _, inst := range g.Ordered {
		agg = Worse(agg, inst.Status())
	}
	return agg
}

// InstancesOf returns the expanded instances of a job, in ordinal order.
func (g *Graph) InstancesOf(jobName string) []*Instance {
	var out []*Instance
	for _, inst := range g.Ordered {
		if inst.Job.Name == jobName {
			out = append(out, inst)
		}
	}
	return out
}
