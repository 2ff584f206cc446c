// Package registry is the in-memory catalog of configured server adapters:
// the single source of truth for what servers exist, with a synchronous
// publish/subscribe channel for add/remove/update/status-change events.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcpbridge/mcpbridge-go/internal/adapter"
)

// Registry catalogs all configured adapters keyed by server id.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]adapter.ServerAdapter
	logger   *zap.Logger

	listenerMu sync.RWMutex
	listeners  map[EventType][]subscription
	nextSubID  int
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		adapters:  make(map[string]adapter.ServerAdapter),
		listeners: make(map[EventType][]subscription),
		logger:    logger,
	}
}

// Register adds an adapter under its configured id. Registering an id that is
// already present replaces the entry in place and emits "updated" instead of
// "added" — the registry never holds two entries for one id.
func (r *Registry) Register(a adapter.ServerAdapter) {
	cfg := a.GetConfig()

	r.mu.Lock()
	old, exists := r.adapters[cfg.ID]
	r.adapters[cfg.ID] = a
	r.mu.Unlock()

	eventType := EventAdded
	if exists {
		eventType = EventUpdated
		// The displaced adapter may hold a live session.
		if old != a {
			if closer, ok := old.(interface{ Close() }); ok {
				closer.Close()
			}
		}
	}
	r.logger.Info("Registered server adapter",
		zap.String("id", cfg.ID),
		zap.String("kind", string(cfg.Kind)),
		zap.Bool("replaced", exists))
	r.emit(Event{Type: eventType, ServerID: cfg.ID, Timestamp: time.Now().UTC()})
}

// Unregister removes the adapter with the given id, if present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	a, exists := r.adapters[id]
	if exists {
		delete(r.adapters, id)
	}
	r.mu.Unlock()

	if !exists {
		return false
	}
	if closer, ok := a.(interface{ Close() }); ok {
		closer.Close()
	}
	r.logger.Info("Unregistered server adapter", zap.String("id", id))
	r.emit(Event{Type: EventRemoved, ServerID: id, Timestamp: time.Now().UTC()})
	return true
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (adapter.ServerAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// GetAll returns all registered adapters, sorted by id for determinism.
func (r *Registry) GetAll() []adapter.ServerAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]adapter.ServerAdapter, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.adapters[id])
	}
	return out
}

// GetEnabled returns all adapters whose configuration is enabled.
func (r *Registry) GetEnabled() []adapter.ServerAdapter {
	all := r.GetAll()
	out := make([]adapter.ServerAdapter, 0, len(all))
	for _, a := range all {
		if a.GetConfig().Enabled {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// UpdateStatus publishes a status-change notification for a server. The data
// payload is the new derived status snapshot.
func (r *Registry) UpdateStatus(id string, data interface{}) {
	r.emit(Event{Type: EventStatusChanged, ServerID: id, Data: data, Timestamp: time.Now().UTC()})
}

// InitializeAll sequentially initializes every registered adapter, isolating
// failures per adapter so one broken server cannot block the rest.
func (r *Registry) InitializeAll(ctx context.Context) {
	for _, a := range r.GetAll() {
		cfg := a.GetConfig()
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("Adapter initialization panicked",
						zap.String("id", cfg.ID),
						zap.Any("panic", rec))
				}
			}()
			a.Initialize(ctx)
		}()
	}
}

// Clear removes all adapters without emitting per-server events.
func (r *Registry) Clear() {
	r.mu.Lock()
	for id, a := range r.adapters {
		if closer, ok := a.(interface{ Close() }); ok {
			closer.Close()
		}
		delete(r.adapters, id)
	}
	r.mu.Unlock()
}

// Subscribe registers a listener for one event type and returns a
// subscription id for Unsubscribe. Delivery is synchronous, in subscription
// order.
func (r *Registry) Subscribe(eventType EventType, listener Listener) int {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.nextSubID++
	r.listeners[eventType] = append(r.listeners[eventType], subscription{
		id:       r.nextSubID,
		listener: listener,
	})
	return r.nextSubID
}

// Unsubscribe removes a listener by subscription id.
func (r *Registry) Unsubscribe(eventType EventType, subID int) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	subs := r.listeners[eventType]
	for i, sub := range subs {
		if sub.id == subID {
			r.listeners[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// emit delivers the event to each subscriber of its type. A panicking
// listener is isolated: delivery continues to subsequent listeners.
func (r *Registry) emit(event Event) {
	event.ID = uuid.NewString()

	r.listenerMu.RLock()
	subs := make([]subscription, len(r.listeners[event.Type]))
	copy(subs, r.listeners[event.Type])
	r.listenerMu.RUnlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("Registry listener panicked",
						zap.String("event", string(event.Type)),
						zap.String("server", event.ServerID),
						zap.Any("panic", rec))
				}
			}()
			sub.listener(event)
		}()
	}
}
