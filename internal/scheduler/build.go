package scheduler

import (
	"context"
	"fmt"

	"github.com/vk/conveyorgo/internal/config"
	"github.com/vk/conveyorgo/internal/ctxlog"
	"github.com/vk/conveyorgo/internal/matrix"
)

// Build expands every job template against its matrix and links the
// resulting instances along `needs` edges. A dangling `needs` reference,
// an empty matrix axis and a dependency cycle are all configuration
// errors: the graph must be fully valid before anything is scheduled.
func Build(ctx context.Context, model *config.Model) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	graph := &Graph{Instances: make(map[string]*Instance)}

	// First pass: expand templates into instances.
	for _, job := range model.Jobs {
		combos, err := matrix.Expand(job.Name, job.Matrix)
		if err != nil {
			return nil, err
		}
		for _, combo := range combos {
			inst := &Instance{
				ID:         fmt.Sprintf("job.%s[%d]", job.Name, combo.Ordinal),
				Job:        job,
				Matrix:     combo,
				Deps:       make(map[string]*Instance),
				Dependents: make(map[string]*Instance),
			}
			graph.Instances[inst.ID] = inst
			graph.Ordered = append(graph.Ordered, inst)
		}
		logger.Debug("Job expanded.", "job", job.Name, "instances", len(combos))
	}

	// Second pass: link `needs` edges. A job-level dependency blocks every
	// instance of the dependent on every instance of the needed job.
	for _, job := range model.Jobs {
		for _, need := range job.Needs {
			if need == job.Name {
				return nil, config.Errorf("job %q needs itself", job.Name)
			}
			if model.JobByName(need) == nil {
				return nil, config.Errorf("job %q needs undeclared job %q", job.Name, need)
			}
			for _, from := range graph.InstancesOf(need) {
				for _, to := range graph.InstancesOf(job.Name) {
					to.Deps[from.ID] = from
					from.Dependents[to.ID] = to
				}
			}
		}
	}

	// Third pass: initial counters and states.
	for _, inst := range graph.Ordered {
		inst.depCount.Store(int32(len(inst.Deps)))
		if len(inst.Deps) == 0 {
			inst.setStatus(Ready)
		} else {
			inst.setStatus(Blocked)
		}
	}

	if err := detectCycles(graph); err != nil {
		return nil, err
	}

	logger.Debug("Graph construction successful.", "instances", len(graph.Ordered))
	return graph, nil
}

// detectCycles runs a classic three-color depth-first search over the
// dependent edges and reports the first cycle found.
func detectCycles(g *Graph) error {
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *Instance) error
	visit = func(n *Instance) error {
		if permanent[n.ID] {
			return nil
		}
		if temporary[n.ID] {
			return config.Errorf("dependency cycle detected involving %q", n.Job.Name)
		}
		temporary[n.ID] = true
		for _, dependent := range n.Dependents {
			if err := visit(dependent); err != nil {
				return err
			}
		}
		delete(temporary, n.ID)
		permanent[n.ID] = true
		return nil
	}

	for _, n := range g.Ordered {
		if !permanent[n.ID] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}
