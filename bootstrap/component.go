package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
)

// Component is a lifecycle-managed part of a service: the HTTP server,
// telemetry exporters, a running pipeline.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	observability.HealthChecker
}

type entry struct {
	component Component
	started   bool
}

// Registry starts components in registration order and stops them in
// reverse order.
type Registry struct {
	mu          sync.Mutex
	entries     []*entry
	names       map[string]bool
	stopTimeout time.Duration
	log         *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		names:       make(map[string]bool),
		stopTimeout: 10 * time.Second,
		log:         log,
	}
}

// Register adds c. Register dependencies first.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names[c.Name()] {
		return fmt.Errorf("component %s already registered", c.Name())
	}
	r.names[c.Name()] = true
	r.entries = append(r.entries, &entry{component: c})
	return nil
}

// StartAll starts every component, stopping at the first failure.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		name := e.component.Name()
		if err := e.component.Start(ctx); err != nil {
			r.log.Error("component start failed", logger.WithError(logger.Fields(logger.FieldComponent, name), err))
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		e.started = true
		r.log.Debug("component started", logger.Fields(logger.FieldComponent, name))
	}
	return nil
}

// StopAll stops the started components in reverse order and joins their
// errors.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if !e.started {
			continue
		}
		name := e.component.Name()
		stopCtx, cancel := context.WithTimeout(ctx, r.stopTimeout)
		if err := e.component.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", name, err))
			r.log.Error("component stop failed", logger.WithError(logger.Fields(logger.FieldComponent, name), err))
		} else {
			r.log.Debug("component stopped", logger.Fields(logger.FieldComponent, name))
		}
		cancel()
		e.started = false
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// Checkers returns the registered components as health checkers.
func (r *Registry) Checkers() []observability.HealthChecker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]observability.HealthChecker, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.component)
	}
	return out
}
