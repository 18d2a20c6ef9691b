package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/taskforge/internal/events"
)

func TestNewIndicator(t *testing.T) {
	buf := &bytes.Buffer{}
	ind := NewIndicator(Config{
		Writer:      buf,
		ShowSpinner: true,
		IsCI:        false,
	})

	if ind == nil {
		t.Fatal("Expected indicator to be created")
	}

	if ind.writer != buf {
		t.Error("Writer not set correctly")
	}

	if !ind.showSpinner {
		t.Error("Spinner should be enabled")
	}
}

func TestNewIndicatorCIMode(t *testing.T) {
	buf := &bytes.Buffer{}
	ind := NewIndicator(Config{
		Writer:      buf,
		ShowSpinner: true,
		IsCI:        true,
	})

	if ind.showSpinner {
		t.Error("Spinner should be disabled in CI mode")
	}

	if !ind.isCI {
		t.Error("IsCI should be true")
	}
}

func runPlan(ind *Indicator) {
	ind.Handle(events.New(events.PlanStarted, "p1", map[string]any{"task_count": 3}))
	ind.Handle(events.New(events.TaskStarted, "p1", map[string]any{"task_id": "a", "type": "implement", "description": "Build a"}))
	ind.Handle(events.New(events.TaskCompleted, "p1", map[string]any{"task_id": "a", "duration_ms": int64(2000), "attempts": 1}))
	ind.Handle(events.New(events.RuleCompleted, "syntax-check", map[string]any{"rule_id": "syntax-check", "cached": true}))
	ind.Handle(events.New(events.RuleFailed, "lint", map[string]any{"rule_id": "lint", "message": "2 issue(s)"}))
	ind.Handle(events.New(events.TaskStarted, "p1", map[string]any{"task_id": "b", "type": "test"}))
	ind.Handle(events.New(events.TaskRetrying, "p1", map[string]any{"task_id": "b", "attempt": 2, "error": "flaky"}))
	ind.Handle(events.New(events.TaskFailed, "p1", map[string]any{"task_id": "b", "error": "still flaky", "attempts": 2}))
	ind.Handle(events.New(events.TaskBlocked, "p1", map[string]any{"task_id": "c", "blocked_by": "b"}))
}

func TestHandle_PrintsLinesInCIMode(t *testing.T) {
	buf := &bytes.Buffer{}
	ind := NewIndicator(Config{Writer: buf, IsCI: true})

	runPlan(ind)

	output := buf.String()
	for _, want := range []string{
		"▶ a [implement] Build a",
		"✓ a (2s)",
		"  ✓ rule syntax-check (cached)",
		"  ✗ rule lint - 2 issue(s)",
		"⟲ b attempt 2 - flaky",
		"✗ b - still flaky",
		"⊘ c [blocked]",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, output)
		}
	}
}

func TestHandle_SpinnerModeSuppressesLines(t *testing.T) {
	buf := &bytes.Buffer{}
	ind := NewIndicator(Config{Writer: buf, ShowSpinner: true})
	if ind.isCI {
		t.Skip("CI environment forces line mode")
	}

	runPlan(ind)
	ind.Handle(events.New(events.PlanAdapted, "p1", map[string]any{"changes": "added task-004"}))

	output := buf.String()
	if strings.Contains(output, "▶ a") {
		t.Errorf("Task lines should be hidden behind the spinner, got:\n%s", output)
	}
	if !strings.Contains(output, "↻ plan adapted: added task-004") {
		t.Errorf("Adaptations are always printed, got:\n%s", output)
	}
}

func TestPrintSummary(t *testing.T) {
	buf := &bytes.Buffer{}
	ind := NewIndicator(Config{Writer: buf, IsCI: true})

	runPlan(ind)
	buf.Reset()
	ind.PrintSummary()

	output := buf.String()
	for _, want := range []string{
		"Execution Summary",
		"Total Tasks:     3",
		"Completed:       1 ✓",
		"Failed:          1 ✗",
		"Blocked:         1 ⊘",
		"Success Rate:    33.3%",
		"Rules:           1 passed, 1 failed",
		"Failed Tasks:",
		"✗ b - still flaky",
		"✗ c - blocked by b",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected summary to contain %q, got:\n%s", want, output)
		}
	}
}

func TestPrintSummaryWithoutPlan(t *testing.T) {
	buf := &bytes.Buffer{}
	ind := NewIndicator(Config{Writer: buf, IsCI: true})

	ind.PrintSummary()

	if buf.Len() != 0 {
		t.Errorf("Expected no output without a plan, got: %s", buf.String())
	}
}

func TestTotalGrowsWithAddedTasks(t *testing.T) {
	ind := NewIndicator(Config{Writer: &bytes.Buffer{}, IsCI: true})

	ind.Handle(events.New(events.PlanStarted, "p1", map[string]any{"task_count": 1}))
	ind.Handle(events.New(events.TaskCompleted, "p1", map[string]any{"task_id": "a"}))
	ind.Handle(events.New(events.TaskCompleted, "p1", map[string]any{"task_id": "task-002"}))

	if ind.total != 2 {
		t.Errorf("Expected total 2 after a follow-up task, got %d", ind.total)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{5 * time.Second, "5s"},
		{65 * time.Second, "1m5s"},
		{3665 * time.Second, "1h1m5s"},
		{3600 * time.Second, "1h0m0s"},
		{90 * time.Second, "1m30s"},
	}

	for _, tt := range tests {
		result := formatDuration(tt.duration)
		if result != tt.expected {
			t.Errorf("formatDuration(%v) = %s, expected %s", tt.duration, result, tt.expected)
		}
	}
}

func TestIndicatorStartStop(t *testing.T) {
	buf := &bytes.Buffer{}
	ind := NewIndicator(Config{Writer: buf, IsCI: true})

	ind.Start()
	ind.Stop()
	ind.Stop()
}
