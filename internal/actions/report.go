package actions

import (
	"context"
	"path/filepath"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/conveyorgo/internal/ctxlog"
)

// reportUploadInput is the `with` block of a `uses = "report-upload"` step.
type reportUploadInput struct {
	Path string   `hcl:"path"`
	Tags []string `hcl:"tags,optional"`
	// FailCIIfError promotes a sink failure to a step failure. Off by
	// default: losing a coverage report should not sink a green build.
	FailCIIfError bool `hcl:"fail_ci_if_error,optional"`
}

func reportUploadAction() *Action {
	return &Action{
		Name:     "report-upload",
		NewInput: func() any { return new(reportUploadInput) },
		Fn: func(ctx context.Context, sc *StepContext, input any) (map[string]cty.Value, error) {
			in := input.(*reportUploadInput)

			err := sc.Sink.Upload(ctx, filepath.Join(sc.WorkDir, in.Path), in.Tags)
			if err != nil {
				if in.FailCIIfError {
					return nil, err
				}
				ctxlog.FromContext(ctx).Warn("Report upload failed, continuing.", "error", err)
				return map[string]cty.Value{"uploaded": cty.False}, nil
			}
			return map[string]cty.Value{"uploaded": cty.True}, nil
		},
	}
}
