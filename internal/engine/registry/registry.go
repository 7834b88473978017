package registry

import (
	"context"
	"errors"
	"fmt"

	enginectx "github.com/davidroman0O/studioflow/internal/engine/context"
	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/sasha-s/go-deadlock"
)

var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrInvalidWorkflow  = errors.New("invalid workflow definition")
)

// Handler runs the steps of one attempt in order.
type Handler func(ctx enginectx.WorkflowContext) error

// Compensation runs once after the last attempt failed. It receives the
// trigger that started the execution and the terminal error.
type Compensation func(ctx context.Context, trigger types.Trigger, cause error) error

type Definition struct {
	Name       string
	Event      types.EventName
	Steps      []string
	Config     types.WorkflowConfig
	Handler    Handler
	Compensate Compensation
}

func (d *Definition) validate() error {
	switch {
	case d == nil:
		return fmt.Errorf("%w: nil definition", ErrInvalidWorkflow)
	case d.Name == "":
		return fmt.Errorf("%w: missing name", ErrInvalidWorkflow)
	case d.Event == "":
		return fmt.Errorf("%w: %s has no trigger event", ErrInvalidWorkflow, d.Name)
	case d.Handler == nil:
		return fmt.Errorf("%w: %s has no handler", ErrInvalidWorkflow, d.Name)
	case len(d.Steps) == 0:
		return fmt.Errorf("%w: %s declares no steps", ErrInvalidWorkflow, d.Name)
	case d.Config.Retry.MaxAttempts < 1:
		return fmt.Errorf("%w: %s retry budget %d", ErrInvalidWorkflow, d.Name, d.Config.Retry.MaxAttempts)
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for _, step := range d.Steps {
		if step == "" {
			return fmt.Errorf("%w: %s has an unnamed step", ErrInvalidWorkflow, d.Name)
		}
		if _, ok := seen[step]; ok {
			return fmt.Errorf("%w: %s declares step %q twice", ErrInvalidWorkflow, d.Name, step)
		}
		seen[step] = struct{}{}
	}
	return nil
}

// RegistryBuildFn is a function that builds a registry
type RegistryBuildFn func() (*Registry, error)

type Registry struct {
	mu          deadlock.RWMutex
	definitions map[types.EventName]*Definition
	order       []types.EventName
}

func New() *Registry {
	return &Registry{
		definitions: make(map[types.EventName]*Definition),
	}
}

func (r *Registry) register(def *Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.definitions[def.Event]; ok {
		return fmt.Errorf("%w: event %s already handled by %s", ErrInvalidWorkflow, def.Event, existing.Name)
	}
	r.definitions[def.Event] = def
	r.order = append(r.order, def.Event)
	return nil
}

// Lookup returns the definition that handles event.
func (r *Registry) Lookup(event types.EventName) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[event]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, event)
	}
	return def, nil
}

// Definitions lists definitions in registration order.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.order))
	for _, event := range r.order {
		out = append(out, r.definitions[event])
	}
	return out
}

// RegistryBuilder is used to register workflow definitions
type RegistryBuilder struct {
	definitions []*Definition
}

// NewBuilder creates a new RegistryBuilder
func NewBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		definitions: make([]*Definition, 0),
	}
}

// Workflow adds a workflow to be registered
func (b *RegistryBuilder) Workflow(def *Definition) *RegistryBuilder {
	b.definitions = append(b.definitions, def)
	return b
}

// Build finalizes the registry and returns it
func (b *RegistryBuilder) Build() RegistryBuildFn {
	return func() (*Registry, error) {
		r := New()
		var errs []error
		for _, def := range b.definitions {
			if err := r.register(def); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return r, nil
	}
}
