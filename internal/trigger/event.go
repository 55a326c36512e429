package trigger

import "strings"

// Event is a single incoming repository event. It is immutable once
// received: the evaluator reads it, never writes it.
type Event struct {
	// Kind is one of "push", "pull_request", "tag_push" or "manual".
	Kind string
	// Ref is the full git ref, e.g. "refs/heads/main" or "refs/tags/v1.2.3".
	Ref string
	// Branch and Tag are the short names; either may be derived from Ref.
	Branch string
	Tag    string
	// Inputs carries manual-dispatch parameters. Nil for other kinds.
	Inputs map[string]string
}

// Normalize fills Branch and Tag from Ref when they were not given
// explicitly, and returns the normalized copy.
func Normalize(ev Event) Event {
	if ev.Branch == "" {
		if name, ok := strings.CutPrefix(ev.Ref, "refs/heads/"); ok {
			ev.Branch = name
		}
	}
	if ev.Tag == "" {
		if name, ok := strings.CutPrefix(ev.Ref, "refs/tags/"); ok {
			ev.Tag = name
		}
	}
	return ev
}
