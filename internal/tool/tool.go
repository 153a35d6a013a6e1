// Package tool defines the tool-execution collaborator and a registry of
// executable tools with their parameter requirements and hard limits.
package tool

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/capitalize-ai/clarification-engine/internal/model"
)

// Result is the output of one tool execution.
type Result map[string]any

// Executor is the tool-execution collaborator.
type Executor interface {
	Execute(ctx context.Context, name string, params map[string]string) (Result, error)
}

// Spec describes a registered tool: its contract with the analyzer and the
// hard limits the classifier negotiates against.
type Spec struct {
	Name        string
	Description string
	// Required lists parameter names that must be present before execution.
	Required []string
	// Aliases maps a required parameter to an acceptable substitute
	// (patient_id satisfies name, for example).
	Aliases map[string]string
	// Limits maps a numeric parameter name to its maximum allowed value.
	Limits map[string]int
}

// RunFunc executes a tool against its parameters.
type RunFunc func(ctx context.Context, params map[string]string) (Result, error)

// Registry holds the registered tools and implements Executor.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
	runs  map[string]RunFunc
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		specs: make(map[string]Spec),
		runs:  make(map[string]RunFunc),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(spec Spec, run RunFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Name] = spec
	r.runs[spec.Name] = run
}

// Execute runs a registered tool.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]string) (Result, error) {
	r.mu.RLock()
	run, ok := r.runs[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return run(ctx, params)
}

// Known reports whether the intent names a registered tool.
func (r *Registry) Known(intent string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.specs[intent]
	return ok
}

// Capabilities returns "name - description" lines for every registered
// tool, sorted by name. Used as the fixed capability list for scope
// guidance.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec.Name+" - "+spec.Description)
	}
	sort.Strings(out)
	return out
}

// MissingParams returns the required parameters of an intent that are
// satisfied neither directly nor through an alias.
func (r *Registry) MissingParams(intent string, have map[string]string) []string {
	r.mu.RLock()
	spec, ok := r.specs[intent]
	r.mu.RUnlock()

	if !ok {
		return nil
	}

	var missing []string
	for _, name := range spec.Required {
		if _, present := have[name]; present {
			continue
		}
		if alias, aliased := spec.Aliases[name]; aliased {
			if _, present := have[alias]; present {
				continue
			}
		}
		missing = append(missing, name)
	}
	return missing
}

// CheckConstraints compares numeric parameters against the intent's hard
// limits and returns a constraint condition per violation. A violation is
// never an error; it is routed to negotiation.
func (r *Registry) CheckConstraints(intent string, params map[string]string) []model.Condition {
	r.mu.RLock()
	spec, ok := r.specs[intent]
	r.mu.RUnlock()

	if !ok {
		return nil
	}

	var conds []model.Condition
	for param, limit := range spec.Limits {
		raw, present := params[param]
		if !present {
			continue
		}
		n := numericSize(raw)
		if n > limit {
			conds = append(conds, model.Condition{
				Kind:       model.ConditionConstraintConflict,
				Constraint: param,
				Parameter:  param,
				Detail:     fmt.Sprintf("%s=%d exceeds limit %d", param, n, limit),
			})
		}
	}
	return conds
}

// Limit returns the configured limit for an intent parameter.
func (r *Registry) Limit(intent, param string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[intent]
	if !ok {
		return 0, false
	}
	limit, ok := spec.Limits[param]
	return limit, ok
}

// numericSize interprets a parameter as a magnitude: a plain integer is its
// value, a comma-separated list is its element count.
func numericSize(raw string) int {
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		return n
	}
	if strings.Contains(raw, ",") {
		return len(strings.Split(raw, ","))
	}
	return 0
}
