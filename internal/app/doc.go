// Package app wires the engine together: it owns the logger, loads the
// pipeline definition through a format-agnostic loader, evaluates the
// trigger, and drives one executor per produced run. Everything the user
// sees (logs, the summary table, the exit status) funnels through here.
package app
