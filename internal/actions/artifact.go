package actions

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// uploadArtifactInput is the `with` block of a `uses = "upload-artifact"` step.
type uploadArtifactInput struct {
	Name  string   `hcl:"name"`
	Paths []string `hcl:"paths"`
	// RetentionDays defaults to 90 when unset.
	RetentionDays int `hcl:"retention_days,optional"`
	// IfNoFilesFound is "error" (default) or "ignore".
	IfNoFilesFound string `hcl:"if_no_files_found,optional"`
}

func uploadArtifactAction() *Action {
	return &Action{
		Name:     "upload-artifact",
		NewInput: func() any { return new(uploadArtifactInput) },
		Fn: func(ctx context.Context, sc *StepContext, input any) (map[string]cty.Value, error) {
			in := input.(*uploadArtifactInput)

			lenient := false
			switch in.IfNoFilesFound {
			case "", "error":
			case "ignore":
				lenient = true
			default:
				return nil, fmt.Errorf("if_no_files_found must be 'error' or 'ignore', got %q", in.IfNoFilesFound)
			}
			retention := in.RetentionDays
			if retention == 0 {
				retention = 90
			}

			ref, err := sc.Artifacts.Publish(ctx, sc.RunID, sc.JobID, in.Name, sc.WorkDir, in.Paths, retention, lenient)
			if err != nil {
				return nil, err
			}
			return map[string]cty.Value{
				"name":  cty.StringVal(ref.Name),
				"files": cty.NumberIntVal(int64(len(ref.Files))),
			}, nil
		},
	}
}
