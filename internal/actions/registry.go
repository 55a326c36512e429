// Package actions holds the built-in composite steps a pipeline can
// reference with `uses`: cache, upload-artifact, report-upload and
// resolve-version. Each action declares a typed input struct; the `with`
// block is decoded into it before the handler runs.
package actions

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/vk/conveyorgo/internal/artifact"
	"github.com/vk/conveyorgo/internal/cache"
	"github.com/vk/conveyorgo/internal/report"
)

// StepContext is the slice of the running job an action is allowed to see.
type StepContext struct {
	RunID   string
	JobID   string
	JobName string
	WorkDir string
	Env     map[string]string

	Caches    *cache.Manager
	Artifacts *artifact.Publisher
	Sink      *report.Sink

	// Exec runs a shell command in the job workspace and returns its
	// stdout. Wired by the job runner so actions share its process
	// handling.
	Exec func(ctx context.Context, command string) (string, error)
	// DeferCacheSave registers a save to perform if the job succeeds.
	DeferCacheSave func(req cache.SaveRequest)
}

// Action is one registered built-in step type.
type Action struct {
	Name     string
	NewInput func() any
	Fn       func(ctx context.Context, sc *StepContext, input any) (map[string]cty.Value, error)
}

// Registry maps action names to their handlers.
type Registry struct {
	actions map[string]*Action
}

// NewRegistry returns a registry with all core actions registered.
func NewRegistry() *Registry {
	r := &Registry{actions: make(map[string]*Action)}
	r.Register(cacheAction())
	r.Register(uploadArtifactAction())
	r.Register(reportUploadAction())
	r.Register(resolveVersionAction())
	return r
}

// Register adds an action. Re-registering a name is a programmer error.
func (r *Registry) Register(a *Action) {
	if _, exists := r.actions[a.Name]; exists {
		panic(fmt.Sprintf("actions: duplicate registration of %q", a.Name))
	}
	r.actions[a.Name] = a
}

// Lookup returns the action with the given name.
func (r *Registry) Lookup(name string) (*Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// DecodeInput fills an action's input struct from the evaluated `with`
// attributes, honoring `hcl:"name"` and `hcl:"name,optional"` tags.
func DecodeInput(vals map[string]cty.Value, target any) error {
	structVal := reflect.ValueOf(target).Elem()
	structType := structVal.Type()

	known := make(map[string]bool)
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		tag := field.Tag.Get("hcl")
		if tag == "" {
			continue
		}
		parts := strings.Split(tag, ",")
		name := parts[0]
		optional := len(parts) > 1 && parts[1] == "optional"
		known[name] = true

		val, present := vals[name]
		if !present {
			if optional {
				continue
			}
			return fmt.Errorf("required input %q is missing", name)
		}

		fieldVal := structVal.Field(i)
		wantType, err := gocty.ImpliedType(fieldVal.Interface())
		if err != nil {
			return fmt.Errorf("input %q: unsupported target type: %w", name, err)
		}
		converted, err := convert.Convert(val, wantType)
		if err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
		if err := gocty.FromCtyValue(converted, fieldVal.Addr().Interface()); err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
	}

	for name := range vals {
		if !known[name] {
			return fmt.Errorf("unknown input %q", name)
		}
	}
	return nil
}
