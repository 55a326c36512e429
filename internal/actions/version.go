package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// resolveVersionInput is the `with` block of a `uses = "resolve-version"` step.
type resolveVersionInput struct {
	// Command queries the project's declared version; the first line of
	// its stdout becomes the step's `version` output.
	Command string `hcl:"command"`
}

func resolveVersionAction() *Action {
	return &Action{
		Name:     "resolve-version",
		NewInput: func() any { return new(resolveVersionInput) },
		Fn: func(ctx context.Context, sc *StepContext, input any) (map[string]cty.Value, error) {
			in := input.(*resolveVersionInput)

			stdout, err := sc.Exec(ctx, in.Command)
			if err != nil {
				return nil, fmt.Errorf("resolving version: %w", err)
			}
			version, _, _ := strings.Cut(stdout, "\n")
			version = strings.TrimSpace(version)
			if version == "" {
				return nil, fmt.Errorf("version command produced no output")
			}
			return map[string]cty.Value{"version": cty.StringVal(version)}, nil
		},
	}
}
