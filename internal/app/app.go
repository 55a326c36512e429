package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/conveyorgo/internal/config"
	"github.com/vk/conveyorgo/internal/ctxlog"
)

// App encapsulates the engine's dependencies, configuration and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
	model  *config.Model
}

// New constructs the application: it builds an isolated logger and loads
// the pipeline definition through the given loader. A failure to load or
// translate the pipeline is fatal before anything is scheduled.
func New(outW io.Writer, appConfig *Config, loader config.Loader) (*App, error) {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, appConfig.PipelinePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline definition: %w", err)
	}
	logger.Debug("Pipeline definition loaded.",
		"triggers", len(model.Triggers), "jobs", len(model.Jobs))

	return &App{
		outW:   outW,
		logger: logger,
		config: appConfig,
		model:  model,
	}, nil
}

// Model returns the loaded pipeline model. This is primarily for testing.
func (a *App) Model() *config.Model {
	return a.model
}
