package registry

import "time"

// EventType represents a registry event category delivered to subscribers.
type EventType string

const (
	// EventAdded is emitted when a server is registered under a new id.
	EventAdded EventType = "added"
	// EventRemoved is emitted when a server is unregistered.
	EventRemoved EventType = "removed"
	// EventUpdated is emitted when registering over an existing id.
	EventUpdated EventType = "updated"
	// EventStatusChanged is emitted when a server's derived status changes.
	EventStatusChanged EventType = "status-changed"
)

// Event is a transient notification delivered synchronously to subscribers.
// Events are never persisted.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	ServerID  string      `json:"serverId"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Listener receives registry events. Listeners run synchronously on the
// emitter's goroutine and should return promptly.
type Listener func(Event)

type subscription struct {
	id       int
	listener Listener
}
