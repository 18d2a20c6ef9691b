// Package hooks runs user-configured scripts and webhooks when session
// events fire, for example to notify a channel when a plan fails.
package hooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/taskforge/internal/events"
)

// DefaultTimeout bounds one hook execution when its config sets none
const DefaultTimeout = 30 * time.Second

// Hook types
const (
	TypeScript  = "script"
	TypeWebhook = "webhook"
)

// Hook reacts to one event
type Hook interface {
	Name() string
	Execute(ctx context.Context, e events.Event) error
}

// Config declares a hook in the configuration file
type Config struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`

	// Events are event types such as "plan.completed". "*" matches every
	// event and "task.*" every task event.
	Events []string `yaml:"events" json:"events"`

	// OnlyFailures limits the hook to events that report a failure
	OnlyFailures bool `yaml:"only_failures,omitempty" json:"only_failures,omitempty"`

	// Command is run with sh -c by script hooks
	Command string `yaml:"command,omitempty" json:"command,omitempty"`

	// URL and Headers configure webhook hooks
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	Timeout  time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Disabled bool          `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// Validate reports the first problem with c
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Name) == "":
		return fmt.Errorf("hook needs a name")
	case len(c.Events) == 0:
		return fmt.Errorf("hook %s needs at least one event", c.Name)
	case c.Timeout < 0:
		return fmt.Errorf("hook %s: timeout must not be negative", c.Name)
	}
	return nil
}

// Matches reports whether c subscribes to e
func (c Config) Matches(e events.Event) bool {
	if c.OnlyFailures && !IsFailure(e) {
		return false
	}
	for _, pattern := range c.Events {
		if matchesType(pattern, e.Type) {
			return true
		}
	}
	return false
}

func matchesType(pattern string, t events.EventType) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(string(t), strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == string(t)
	}
}

// IsFailure reports whether e describes something that went wrong
func IsFailure(e events.Event) bool {
	switch e.Type {
	case events.TaskFailed, events.TaskBlocked, events.RuleFailed, events.ConsistencyError:
		return true
	}
	if v, ok := e.Data["success"].(bool); ok && !v {
		return true
	}
	if v, ok := e.Data["passed"].(bool); ok && !v {
		return true
	}
	return false
}

// ExecutionResult records one hook run
type ExecutionResult struct {
	HookName  string           `json:"hook"`
	EventType events.EventType `json:"event_type"`
	EventID   string           `json:"event_id"`
	Success   bool             `json:"success"`
	Error     string           `json:"error,omitempty"`
	Duration  time.Duration    `json:"duration"`
	Timestamp time.Time        `json:"timestamp"`
}
