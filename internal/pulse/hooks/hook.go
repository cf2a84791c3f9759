// Hook interface and shared configuration for the protocol service's
// connection-lifecycle and server-list notification points (spec.md §9).
package hooks

import (
	"context"
)

// Hook represents a handler that can be executed when an event occurs.
type Hook interface {
	// Execute runs the hook with the given event.
	Execute(ctx context.Context, event Event) error

	// Type returns the hook type identifier.
	Type() string

	// ID returns a unique identifier for this hook instance.
	ID() string
}

// Config is the configuration for a Manager.
type Config struct {
	// Timeout for hook execution (default: 30s).
	Timeout string `json:"timeout"`

	// Concurrency is the maximum number of concurrent hook executions
	// (default: 10).
	Concurrency int `json:"concurrency"`

	// StdioFormat enables structured stdio output: "json", "env", or "".
	StdioFormat string `json:"stdio_format"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     "30s",
		Concurrency: 10,
		StdioFormat: "",
	}
}
