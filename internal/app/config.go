package app

import "errors"

// Config holds everything an App instance needs to run.
type Config struct {
	// PipelinePath is a .hcl file or a directory of them.
	PipelinePath string

	// Event fields describe the incoming event being evaluated.
	EventKind   string
	EventRef    string
	EventBranch string
	EventTag    string
	EventInputs map[string]string

	LogFormat string
	LogLevel  string

	// Workers overrides the pipeline's worker count when positive.
	Workers int
	// FailFast forces run-level fail-fast on, regardless of the pipeline.
	FailFast bool

	// WorkspaceDir, when set, keeps run workspaces under a fixed root
	// instead of a temp dir that is removed at run end.
	WorkspaceDir string
	// CacheDir defaults to the user cache dir.
	CacheDir string
	// ArtifactDir is where published artifacts are stored.
	ArtifactDir string
	// ReportURL is the report sink endpoint; empty disables uploads.
	ReportURL string
}

// NewConfig validates a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.PipelinePath == "" {
		return nil, errors.New("PipelinePath is a required configuration field and cannot be empty")
	}
	if cfg.EventKind == "" {
		return nil, errors.New("EventKind is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}
