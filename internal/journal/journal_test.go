package journal

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskforge/internal/events"
)

func TestWriter_AppendsEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()

	w, err := Open(cfg, "s1", nil)
	require.NoError(t, err)

	bus := events.NewBus(nil)
	bus.SubscribeAll(w.Handle)
	bus.Publish(events.New(events.PlanStarted, "p1", map[string]any{"task_count": 2}))
	bus.Publish(events.New(events.TaskCompleted, "p1", map[string]any{"task_id": "a"}))
	require.NoError(t, w.Close())

	// closed writers drop events
	w.Handle(events.New(events.TaskFailed, "p1", nil))

	header, got, err := ReadFile(filepath.Join(cfg.Dir, "journal_s1.jsonl"))
	require.NoError(t, err)
	require.NotNil(t, header)
	assert.Equal(t, "s1", header.SessionID)
	assert.Equal(t, FormatVersion, header.Version)

	require.Len(t, got, 2)
	assert.Equal(t, events.PlanStarted, got[0].Type)
	assert.Equal(t, 2, got[0].GetInt("task_count"))
	assert.Equal(t, "a", got[1].GetString("task_id"))
}

func TestWriter_Rotates(t *testing.T) {
	cfg := Config{Dir: t.TempDir(), MaxFileSize: 400, MaxFiles: 2}
	w, err := Open(cfg, "s2", nil)
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		w.Handle(events.New(events.FileAccessed, fmt.Sprintf("file-%02d.go", i), nil))
	}
	require.NoError(t, w.Close())

	rotated, err := Rotated(cfg.Dir, "s2")
	require.NoError(t, err)
	assert.Len(t, rotated, 2, "only MaxFiles rotated files are kept")

	// the newest rotated file continues where the older one stopped
	_, older, err := ReadFile(rotated[0])
	require.NoError(t, err)
	_, newer, err := ReadFile(rotated[1])
	require.NoError(t, err)
	require.NotEmpty(t, older)
	require.NotEmpty(t, newer)
	assert.Less(t, older[len(older)-1].Subject, newer[0].Subject)

	_, current, err := ReadFile(w.Path())
	require.NoError(t, err)
	require.NotEmpty(t, current)
	assert.Equal(t, "file-29.go", current[len(current)-1].Subject)
}
