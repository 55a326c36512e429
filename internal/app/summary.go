package app

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/vk/conveyorgo/internal/scheduler"
	"github.com/vk/conveyorgo/internal/trigger"
)

// writeSummary prints the per-job status table and the aggregate status
// for one finished run.
func (a *App) writeSummary(run *trigger.RunContext, graph *scheduler.Graph, status scheduler.Status) {
	fmt.Fprintf(a.outW, "\nRun %s (%s %s) finished: %s\n\n", run.ID, run.Event.Kind, run.Event.Ref, status)

	tw := tabwriter.NewWriter(a.outW, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATUS\tDURATION")
	for _, inst := range graph.Ordered {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", inst.DisplayName(), inst.Status(), instanceDuration(inst))
	}
	tw.Flush()
	fmt.Fprintln(a.outW)
}

func instanceDuration(inst *scheduler.Instance) string {
	if inst.StartedAt.IsZero() {
		return "-"
	}
	return inst.FinishedAt.Sub(inst.StartedAt).Round(time.Millisecond).String()
}
