// Package hcl implements the HCL-backed configuration loader. It parses
// pipeline definition files into an HCL-tagged schema and translates that
// schema into the format-agnostic model in internal/config. Expressions
// that must see runtime context (step conditions, run commands, job
// outputs) are carried through untouched for lazy evaluation.
package hcl
