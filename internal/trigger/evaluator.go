package trigger

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/vk/conveyorgo/internal/config"
	"github.com/vk/conveyorgo/internal/ctxlog"
)

// RunContext is everything a triggered run carries: the event that started
// it, the rule that matched, resolved manual parameters and a snapshot of
// the global environment. Each run gets its own copy of the mutable maps.
type RunContext struct {
	ID     string
	Event  Event
	Rule   *config.TriggerRule
	Params map[string]string
	Env    map[string]string
}

// Evaluate matches an event against the model's trigger rules and returns
// one independent run context per satisfied rule. A malformed manual input
// (an undeclared key) is a configuration error and aborts before any run
// is produced.
func Evaluate(ctx context.Context, ev Event, model *config.Model) ([]*RunContext, error) {
	logger := ctxlog.FromContext(ctx)
	ev = Normalize(ev)

	var runs []*RunContext
	for _, rule := range model.Triggers {
		matched, err := ruleMatches(rule, ev)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		params, err := resolveInputs(rule, ev)
		if err != nil {
			return nil, err
		}
		run := &RunContext{
			ID:     uuid.NewString(),
			Event:  ev,
			Rule:   rule,
			Params: params,
			Env:    cloneEnv(model.Env),
		}
		logger.Debug("Trigger rule matched.", "kind", rule.Kind, "run_id", run.ID)
		runs = append(runs, run)
	}

	logger.Info("Trigger evaluation complete.", "event", ev.Kind, "runs", len(runs))
	return runs, nil
}

// ruleMatches reports whether one rule is satisfied by the event. A push
// rule that declares tag filters also responds to tag_push events, which
// is how a single rule covers "push to main or push of a release tag".
func ruleMatches(rule *config.TriggerRule, ev Event) (bool, error) {
	switch ev.Kind {
	case "push":
		if rule.Kind != "push" {
			return false, nil
		}
		return matchesFilters(rule.Branches, ev.Branch), nil
	case "tag_push":
		if rule.Kind == "tag_push" {
			return matchesFilters(rule.Tags, ev.Tag), nil
		}
		if rule.Kind == "push" && len(rule.Tags) > 0 {
			return matchesFilters(rule.Tags, ev.Tag), nil
		}
		return false, nil
	case "pull_request":
		if rule.Kind != "pull_request" {
			return false, nil
		}
		return matchesFilters(rule.Branches, ev.Branch), nil
	case "manual":
		return rule.Kind == "manual", nil
	default:
		return false, config.Errorf("unknown event kind %q", ev.Kind)
	}
}

// matchesFilters reports whether a name passes a filter list. An empty
// list matches everything; a trailing '*' makes a filter a prefix match.
func matchesFilters(filters []string, name string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if prefix, ok := strings.CutSuffix(f, "*"); ok {
			if strings.HasPrefix(name, prefix) {
				return true
			}
			continue
		}
		if f == name {
			return true
		}
	}
	return false
}

// resolveInputs validates manual-dispatch parameters against the rule's
// declared inputs and applies defaults for absent ones.
func resolveInputs(rule *config.TriggerRule, ev Event) (map[string]string, error) {
	if rule.Kind != "manual" {
		return nil, nil
	}
	params := make(map[string]string, len(rule.Inputs))
	for name, def := range rule.Inputs {
		params[name] = def.Default
	}
	for name, value := range ev.Inputs {
		if _, declared := rule.Inputs[name]; !declared {
			return nil, config.Errorf("manual trigger does not declare input %q", name)
		}
		params[name] = value
	}
	return params, nil
}

func cloneEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
