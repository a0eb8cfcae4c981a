// Package executor turns scheduler invocations into handler executions and
// tracks them until they finish.
package executor

import (
	"context"
	"jobexecutor/internal/apperrors"
	"jobexecutor/internal/job"
	"jobexecutor/internal/logsink"
	"slices"
	"strings"
	"sync"
)

// Handler runs one invocation to completion. Failures are reported in the
// Outcome, never as a panic or error.
type Handler interface {
	Execute(ctx context.Context, inv job.Invocation, sink logsink.Sink) job.Outcome
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, inv job.Invocation, sink logsink.Sink) job.Outcome

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, inv job.Invocation, sink logsink.Sink) job.Outcome {
	return f(ctx, inv, sink)
}

// Registry maps handler names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds name to h. Names are unique.
func (r *Registry) Register(name string, h Handler) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.Validation("handler", "handler name is required")
	}
	if h == nil {
		return apperrors.Validation("handler", "handler is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		return apperrors.Conflict("handler", name, "handler "+name+" is already registered")
	}
	r.handlers[name] = h
	return nil
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, apperrors.NotFound("handler", name)
	}
	return h, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
