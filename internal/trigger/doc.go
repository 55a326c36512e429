// Package trigger decides whether an incoming event starts a pipeline run.
// Each satisfied trigger rule produces one independent run context; runs
// share no mutable state.
package trigger
