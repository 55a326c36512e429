package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/vk/conveyorgo/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// inputFlags collects repeated -input key=value flags.
type inputFlags map[string]string

func (f inputFlags) String() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (f inputFlags) Set(raw string) error {
	key, value, found := strings.Cut(raw, "=")
	if !found || key == "" {
		return fmt.Errorf("expected key=value, got %q", raw)
	}
	f[key] = value
	return nil
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	flagSet := flag.NewFlagSet("conveyor", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
ConveyorGo - A declarative, dependency-aware CI pipeline engine.

Usage:
  conveyor [options] [PIPELINE_PATH]

Arguments:
  PIPELINE_PATH
    Path to a single .hcl file or a directory containing .hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	pipelineFlag := flagSet.String("pipeline", "", "Path to the pipeline file or directory.")
	pFlag := flagSet.String("p", "", "Path to the pipeline file or directory (shorthand).")
	eventFlag := flagSet.String("event", "push", "Event kind: 'push', 'pull_request', 'tag_push' or 'manual'.")
	refFlag := flagSet.String("ref", "", "Full git ref of the event, e.g. refs/heads/main.")
	branchFlag := flagSet.String("branch", "", "Branch name; derived from -ref when omitted.")
	tagFlag := flagSet.String("tag", "", "Tag name; derived from -ref when omitted.")
	inputs := inputFlags{}
	flagSet.Var(inputs, "input", "Manual-dispatch input as key=value. Repeatable.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 0, "Concurrent job slots. 0 uses the pipeline's setting.")
	failFastFlag := flagSet.Bool("fail-fast", false, "Cancel remaining jobs after the first failure.")
	workspaceFlag := flagSet.String("workspace", "", "Keep run workspaces under this directory instead of a temp dir.")
	cacheDirFlag := flagSet.String("cache-dir", "", "Cache storage directory. Defaults to the user cache dir.")
	artifactDirFlag := flagSet.String("artifact-dir", "artifacts", "Artifact storage directory.")
	reportURLFlag := flagSet.String("report-url", "", "Report sink endpoint URL. Empty disables uploads.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	path := ""
	if *pipelineFlag != "" {
		path = *pipelineFlag
	} else if *pFlag != "" {
		path = *pFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}

	if path == "" {
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	eventKind := strings.ToLower(*eventFlag)
	switch eventKind {
	case "push", "pull_request", "tag_push", "manual":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid event: must be 'push', 'pull_request', 'tag_push' or 'manual'"}
	}
	if len(inputs) > 0 && eventKind != "manual" {
		return nil, false, &ExitError{Code: 2, Message: "-input is only valid with -event manual"}
	}

	config, err := app.NewConfig(app.Config{
		PipelinePath: path,
		EventKind:    eventKind,
		EventRef:     *refFlag,
		EventBranch:  *branchFlag,
		EventTag:     *tagFlag,
		EventInputs:  inputs,
		LogFormat:    logFormat,
		LogLevel:     logLevel,
		Workers:      *workersFlag,
		FailFast:     *failFastFlag,
		WorkspaceDir: *workspaceFlag,
		CacheDir:     *cacheDirFlag,
		ArtifactDir:  *artifactDirFlag,
		ReportURL:    *reportURLFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	return config, false, nil
}
