package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusSubscribeAndPublish(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	bus.Subscribe(PlanCreated, func(e Event) { got = append(got, "specific:"+e.Subject) })
	bus.SubscribeAll(func(e Event) { got = append(got, "all:"+string(e.Type)) })

	bus.Publish(New(PlanCreated, "plan-1", nil))
	bus.Publish(New(TaskStarted, "plan-1", nil))

	assert.Equal(t, []string{
		"specific:plan-1",
		"all:plan.created",
		"all:task.started",
	}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	id := bus.Subscribe(FileAccessed, func(Event) { calls++ })
	require.Equal(t, 1, bus.SubscriptionCount())

	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id))
	assert.Equal(t, 0, bus.SubscriptionCount())

	bus.Publish(New(FileAccessed, "a.ts", nil))
	assert.Zero(t, calls)
}

func TestBusRecoversFromPanickingHandler(t *testing.T) {
	bus := NewBus(nil)

	delivered := false
	bus.Subscribe(RuleFailed, func(Event) { panic("boom") })
	bus.Subscribe(RuleFailed, func(Event) { delivered = true })

	assert.NotPanics(t, func() { bus.Publish(New(RuleFailed, "lint", nil)) })
	assert.True(t, delivered)
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)
	rec := NewRecorder()
	bus.SubscribeAll(rec.Publish)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(New(TaskProgress, "p", nil))
		}()
	}
	wg.Wait()

	assert.Len(t, rec.OfType(TaskProgress), 50)
}

func TestEventAccessors(t *testing.T) {
	e := New(TaskRetrying, "plan-1", map[string]any{"task_id": "task-001", "attempt": 2, "final": true})

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, "task-001", e.GetString("task_id"))
	assert.Equal(t, 2, e.GetInt("attempt"))
	assert.True(t, e.GetBool("final"))
	assert.Equal(t, "", e.GetString("missing"))
	assert.NotNil(t, New(PlanStarted, "x", nil).Data)
}

func TestRecorderTypes(t *testing.T) {
	rec := NewRecorder()
	var p Publisher = rec
	p.Publish(New(PlanStarted, "p", nil))
	p.Publish(New(PlanCompleted, "p", nil))
	Nop{}.Publish(New(PlanStarted, "p", nil))

	assert.Equal(t, []EventType{PlanStarted, PlanCompleted}, rec.Types())
	assert.Len(t, rec.Events(), 2)
}
