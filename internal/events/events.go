// Package events provides the publish/subscribe channel through which the
// planner, verification engine and file tracker report state changes to
// outer layers (CLI, logging, UI).
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of lifecycle event
type EventType string

const (
	// Plan events
	PlanCreated   EventType = "plan.created"
	PlanStarted   EventType = "plan.started"
	PlanAdapted   EventType = "plan.adapted"
	PlanCompleted EventType = "plan.completed"

	// Task events
	TaskStarted   EventType = "task.started"
	TaskProgress  EventType = "task.progress"
	TaskCompleted EventType = "task.completed"
	TaskFailed    EventType = "task.failed"
	TaskRetrying  EventType = "task.retrying"
	TaskBlocked   EventType = "task.blocked"

	// Verification events
	VerificationStarted   EventType = "verification.started"
	RuleStarted           EventType = "rule.started"
	RuleCompleted         EventType = "rule.completed"
	RuleFailed            EventType = "rule.failed"
	VerificationCompleted EventType = "verification.completed"

	// File tracking events
	FileAccessed           EventType = "file.accessed"
	FileModified           EventType = "file.modified"
	FileDeleted            EventType = "file.deleted"
	RelationshipDiscovered EventType = "relationship.discovered"
	ConsistencyWarning     EventType = "consistency.warning"
	ConsistencyError       EventType = "consistency.error"
)

// Event represents a lifecycle event published on a Bus
type Event struct {
	// ID uniquely identifies the event
	ID string `json:"id"`

	// Type is the event type
	Type EventType `json:"type"`

	// Timestamp when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Subject identifies what the event is about (plan id, file path, run id)
	Subject string `json:"subject"`

	// Data contains event-specific data
	Data map[string]any `json:"data,omitempty"`
}

// New creates a new event
func New(eventType EventType, subject string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Subject:   subject,
		Data:      data,
	}
}

// GetString gets a string value from event data
func (e Event) GetString(key string) string {
	if s, ok := e.Data[key].(string); ok {
		return s
	}
	return ""
}

// GetInt gets an int value from event data. int64 and float64 values are
// converted.
func (e Event) GetInt(key string) int {
	switch v := e.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// GetBool gets a bool value from event data
func (e Event) GetBool(key string) bool {
	if b, ok := e.Data[key].(bool); ok {
		return b
	}
	return false
}

// Publisher is the emitting side of a Bus. Components depend on this rather
// than on *Bus so tests can substitute a Recorder.
type Publisher interface {
	Publish(Event)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(Event) {}
