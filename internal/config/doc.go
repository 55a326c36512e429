// Package config defines the format-agnostic representation of a pipeline
// definition: triggers, jobs, matrices and steps. Loaders for concrete
// formats (see internal/hcl) translate their own schemas into this model,
// which is the only shape the rest of the engine understands.
package config
