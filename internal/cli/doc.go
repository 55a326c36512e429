// Package cli parses command-line arguments into an app.Config and owns
// the mapping from errors to process exit codes.
package cli
