// Package registry holds the handler registry: the dispatch table from command
// names and event subscriptions to handler factories and their metadata.
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/automation-client/pkg/handler"
)

const logPrefix = "registry:handlers"

// Registration pairs a factory with the metadata extracted from it.
type Registration struct {
	Metadata *handler.Metadata
	Factory  handler.Factory
}

// New makes a fresh handler instance.
func (r *Registration) New() handler.Describer {
	return r.Factory()
}

// Registry maps names to handler registrations. Registration happens at
// startup; lookups during traffic only take the read lock.
type Registry struct {
	mu        sync.RWMutex
	commands  []*Registration
	byName    map[string]*Registration
	events    []*Registration
	ingestors []*Registration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Registration)}
}

// Register extracts metadata by instantiating factory once, checks the
// instance has the shape kind requires, and stores the factory. The sample
// instance is discarded.
func (r *Registry) Register(kind handler.Kind, factory handler.Factory) (*handler.Metadata, error) {
	if factory == nil {
		return nil, fmt.Errorf("%s - nil factory", logPrefix)
	}
	sample := factory()
	if sample == nil {
		return nil, fmt.Errorf("%s - factory returned nil", logPrefix)
	}
	meta, err := handler.Describe(sample).Metadata()
	if err != nil {
		return nil, fmt.Errorf("%s - invalid metadata: %w", logPrefix, err)
	}
	if meta.Kind() != kind {
		return nil, fmt.Errorf("%s - %s declares itself as %s, registered as %s", logPrefix, meta.Name, meta.Kind(), kind)
	}

	reg := &Registration{Metadata: meta, Factory: factory}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch kind {
	case handler.KindCommand:
		if _, ok := sample.(handler.CommandHandler); !ok {
			return nil, fmt.Errorf("%s - %s does not implement CommandHandler", logPrefix, meta.Name)
		}
		if _, dup := r.byName[meta.Name]; dup {
			return nil, fmt.Errorf("%s - command %s already registered", logPrefix, meta.Name)
		}
		r.byName[meta.Name] = reg
		r.commands = append(r.commands, reg)
	case handler.KindEvent:
		if _, ok := sample.(handler.EventHandler); !ok {
			return nil, fmt.Errorf("%s - %s does not implement EventHandler", logPrefix, meta.Name)
		}
		r.events = append(r.events, reg)
	case handler.KindIngestor:
		if _, ok := sample.(handler.EventHandler); !ok {
			return nil, fmt.Errorf("%s - %s does not implement EventHandler", logPrefix, meta.Name)
		}
		r.ingestors = append(r.ingestors, reg)
	default:
		return nil, fmt.Errorf("%s - unknown kind %d", logPrefix, kind)
	}

	slog.Debug(fmt.Sprintf("%s - Registered %s %s", logPrefix, kind, meta.Name))
	return meta, nil
}

// RegisterCommand registers a command handler factory.
func (r *Registry) RegisterCommand(factory handler.Factory) error {
	_, err := r.Register(handler.KindCommand, factory)
	return err
}

// RegisterEvent registers an event handler factory.
func (r *Registry) RegisterEvent(factory handler.Factory) error {
	_, err := r.Register(handler.KindEvent, factory)
	return err
}

// RegisterIngestor registers a route-matched event handler factory.
func (r *Registry) RegisterIngestor(factory handler.Factory) error {
	_, err := r.Register(handler.KindIngestor, factory)
	return err
}

// Command looks up a command by name.
func (r *Registry) Command(name string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	return reg, ok
}

// EventsFor returns the event handlers subscribed to subscription, in registration order.
func (r *Registry) EventsFor(subscription string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Registration
	for _, reg := range r.events {
		if reg.Metadata.Subscription() == subscription {
			out = append(out, reg)
		}
	}
	return out
}

// IngestorsFor returns the ingestors registered for route, in registration order.
func (r *Registry) IngestorsFor(route string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Registration
	for _, reg := range r.ingestors {
		if reg.Metadata.Route() == route {
			out = append(out, reg)
		}
	}
	return out
}

// Commands returns all command registrations.
func (r *Registry) Commands() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Registration(nil), r.commands...)
}

// Events returns all event registrations.
func (r *Registry) Events() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Registration(nil), r.events...)
}

// Ingestors returns all ingestor registrations.
func (r *Registry) Ingestors() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Registration(nil), r.ingestors...)
}

// Len reports the number of registered handlers of all kinds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands) + len(r.events) + len(r.ingestors)
}
