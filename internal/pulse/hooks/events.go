// Event system for the protocol service's hook points.
package hooks

import (
	"time"
)

// EventType names a lifecycle point ProtocolService fires hooks on.
type EventType string

const (
	// EventConnectionPut fires when ProtocolService allocates and accepts a
	// new Connection (spec.md §4.8).
	EventConnectionPut EventType = "connection_put"
	// EventConnectionUnlink fires when a Connection is torn down.
	EventConnectionUnlink EventType = "connection_unlink"
	// EventServersChanged fires when the advertised server-address list
	// mutates.
	EventServersChanged EventType = "servers_changed"
	// EventAuthFailed fires when a connection's AUTH handshake is rejected.
	EventAuthFailed EventType = "auth_failed"
)

// Event represents a single protocol-service event that can trigger hooks.
type Event struct {
	Type           EventType              `json:"type"`
	Timestamp      int64                  `json:"timestamp"`
	ConnectionID   string                 `json:"connection_id,omitempty"`
	ServerAddr     string                 `json:"server_addr,omitempty"`
	Data           map[string]interface{} `json:"data,omitempty"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      make(map[string]interface{}),
	}
}

// WithConnectionID sets the connection identifier for the event.
func (e *Event) WithConnectionID(id string) *Event {
	e.ConnectionID = id
	return e
}

// WithServerAddr sets the server address for a ServersChanged event.
func (e *Event) WithServerAddr(addr string) *Event {
	e.ServerAddr = addr
	return e
}

// WithData adds data fields to the event.
func (e *Event) WithData(key string, value interface{}) *Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// String returns a human-readable representation of the event.
func (e *Event) String() string {
	if e.ConnectionID != "" {
		return string(e.Type) + ":" + e.ConnectionID
	}
	if e.ServerAddr != "" {
		return string(e.Type) + ":" + e.ServerAddr
	}
	return string(e.Type)
}
