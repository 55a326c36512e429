package app

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/conveyorgo/internal/config"
	"github.com/vk/conveyorgo/internal/ctxlog"
	"github.com/vk/conveyorgo/internal/scheduler"
	"github.com/vk/conveyorgo/internal/trigger"
)

func TestNewConfig_RequiredFields(t *testing.T) {
	_, err := NewConfig(Config{EventKind: "push"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PipelinePath")

	_, err = NewConfig(Config{PipelinePath: "ci.hcl"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EventKind")

	cfg, err := NewConfig(Config{PipelinePath: "ci.hcl", EventKind: "push"})
	require.NoError(t, err)
	assert.Equal(t, "ci.hcl", cfg.PipelinePath)
}

func TestWriteSummary_TableAndAggregate(t *testing.T) {
	ctx := ctxlog.WithLogger(t.Context(), slog.New(slog.DiscardHandler))
	graph, err := scheduler.Build(ctx, &config.Model{
		Jobs: []*config.Job{
			{Name: "build"},
			{Name: "test", Matrix: []*config.MatrixAxis{
				{Name: "os", Values: []string{"linux"}},
			}},
		},
	})
	require.NoError(t, err)

	started := graph.Instances["job.build[0]"]
	started.StartedAt = time.Now().Add(-2 * time.Second)
	started.FinishedAt = time.Now()

	var out bytes.Buffer
	a := &App{outW: &out}
	run := &trigger.RunContext{
		ID:    "run-42",
		Event: trigger.Event{Kind: "push", Ref: "refs/heads/main"},
	}

	a.writeSummary(run, graph, scheduler.Succeeded)

	text := out.String()
	assert.Contains(t, text, "Run run-42 (push refs/heads/main) finished: succeeded")
	assert.Contains(t, text, "JOB")
	assert.Contains(t, text, "build")
	assert.Contains(t, text, "test (linux)")
	assert.Contains(t, text, "-", "never-started instances show a dash for duration")
}

func TestInstanceDuration(t *testing.T) {
	inst := &scheduler.Instance{}
	assert.Equal(t, "-", instanceDuration(inst))

	inst.StartedAt = time.Now()
	inst.FinishedAt = inst.StartedAt.Add(1500 * time.Millisecond)
	assert.Equal(t, "1.5s", instanceDuration(inst))
}
