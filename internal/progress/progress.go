// Package progress renders plan and verification progress from bus events.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/taskforge/internal/events"
)

// Task statuses as rendered by the indicator
const (
	statusRunning   = "running"
	statusCompleted = "completed"
	statusFailed    = "failed"
	statusBlocked   = "blocked"
	statusRetrying  = "retrying"
)

type taskState struct {
	status   string
	err      string
	attempts int
}

// Indicator provides progress tracking and display for long-running operations
type Indicator struct {
	writer      io.Writer
	startTime   time.Time
	mu          sync.Mutex
	showSpinner bool
	spinnerIdx  int
	stopChan    chan struct{}
	stopOnce    sync.Once // Ensures Stop() is only called once
	isCI        bool

	total int
	order []string
	tasks map[string]*taskState

	rulesPassed int
	rulesFailed []string
	adaptations int
}

// Config holds configuration for progress indicator
type Config struct {
	Writer      io.Writer
	ShowSpinner bool
	IsCI        bool // Set to true in CI/CD environments to disable fancy output
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// NewIndicator creates a new progress indicator
func NewIndicator(cfg Config) *Indicator {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	// Auto-detect CI environment
	if !cfg.IsCI {
		cfg.IsCI = os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
	}

	return &Indicator{
		writer:      cfg.Writer,
		startTime:   time.Now(),
		showSpinner: cfg.ShowSpinner && !cfg.IsCI,
		stopChan:    make(chan struct{}),
		isCI:        cfg.IsCI,
		tasks:       make(map[string]*taskState),
	}
}

// Start begins the progress indicator display
func (p *Indicator) Start() {
	if p.showSpinner {
		go p.spinnerLoop()
	}
}

// Stop stops the progress indicator
func (p *Indicator) Stop() {
	p.stopOnce.Do(func() {
		if p.showSpinner {
			close(p.stopChan)
			// Clear spinner line
			fmt.Fprintf(p.writer, "\r%s\r", strings.Repeat(" ", 80))
		}
	})
}

// spinnerLoop runs the spinner animation
func (p *Indicator) spinnerLoop() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.total > 0 {
				p.renderProgress()
			}
			p.spinnerIdx = (p.spinnerIdx + 1) % len(spinnerFrames)
			p.mu.Unlock()
		}
	}
}

// Handle consumes one bus event. Subscribe it with Bus.SubscribeAll.
func (p *Indicator) Handle(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := e.GetString("task_id")
	switch e.Type {
	case events.PlanStarted:
		p.total = e.GetInt("task_count")
		p.startTime = e.Timestamp
	case events.PlanAdapted:
		p.adaptations++
		p.line("↻ plan adapted: %s", e.GetString("changes"))
	case events.TaskStarted:
		p.task(id).status = statusRunning
		p.lineCI("▶ %s [%s] %s", id, e.GetString("type"), e.GetString("description"))
	case events.TaskRetrying:
		t := p.task(id)
		t.status = statusRetrying
		t.attempts = e.GetInt("attempt")
		p.lineCI("⟲ %s attempt %d - %s", id, t.attempts, e.GetString("error"))
	case events.TaskCompleted:
		t := p.task(id)
		t.status = statusCompleted
		t.attempts = e.GetInt("attempts")
		p.lineCI("✓ %s (%s)", id, formatDuration(time.Duration(e.GetInt("duration_ms"))*time.Millisecond))
	case events.TaskFailed:
		t := p.task(id)
		t.status = statusFailed
		t.err = e.GetString("error")
		t.attempts = e.GetInt("attempts")
		p.lineCI("✗ %s - %s", id, t.err)
	case events.TaskBlocked:
		t := p.task(id)
		t.status = statusBlocked
		if by := e.GetString("blocked_by"); by != "" {
			t.err = "blocked by " + by
		}
		p.lineCI("⊘ %s [blocked]", id)
	case events.RuleCompleted:
		p.rulesPassed++
		p.lineCI("  ✓ rule %s %s", e.GetString("rule_id"), cachedTag(e))
	case events.RuleFailed:
		p.rulesFailed = append(p.rulesFailed, e.GetString("rule_id"))
		p.lineCI("  ✗ rule %s %s- %s", e.GetString("rule_id"), cachedTag(e), e.GetString("message"))
	case events.ConsistencyError:
		p.lineCI("! %s is inconsistent", e.Subject)
	}
	if len(p.tasks) > p.total {
		p.total = len(p.tasks)
	}
}

func cachedTag(e events.Event) string {
	if e.GetBool("cached") {
		return "(cached) "
	}
	return ""
}

func (p *Indicator) task(id string) *taskState {
	t, ok := p.tasks[id]
	if !ok {
		t = &taskState{}
		p.tasks[id] = t
		p.order = append(p.order, id)
	}
	return t
}

// line prints a status line, clearing the spinner first
func (p *Indicator) line(format string, args ...any) {
	if p.showSpinner {
		fmt.Fprintf(p.writer, "\r%s\r", strings.Repeat(" ", 80))
	}
	fmt.Fprintf(p.writer, format+"\n", args...)
}

// lineCI prints only when there is no spinner to show the same information
func (p *Indicator) lineCI(format string, args ...any) {
	if p.showSpinner {
		return
	}
	p.line(format, args...)
}

func (p *Indicator) count(status string) int {
	n := 0
	for _, t := range p.tasks {
		if t.status == status {
			n++
		}
	}
	return n
}

// renderProgress renders the current progress state
func (p *Indicator) renderProgress() {
	completed := p.count(statusCompleted)
	failed := p.count(statusFailed) + p.count(statusBlocked)
	progress := float64(completed+failed) / float64(p.total)
	elapsed := time.Since(p.startTime)

	// Calculate ETA
	var eta string
	if progress > 0 && progress < 1.0 {
		totalEstimated := time.Duration(float64(elapsed) / progress)
		remaining := totalEstimated - elapsed
		eta = fmt.Sprintf(" | ETA: %s", formatDuration(remaining))
	}

	// Build progress bar
	barWidth := 30
	filled := int(float64(barWidth) * progress)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	// Spinner frame
	spinner := spinnerFrames[p.spinnerIdx]

	// Status line
	statusLine := fmt.Sprintf("\r%s [%s] %.1f%% | %d/%d tasks | ✓ %d | ✗ %d | %s%s",
		spinner,
		bar,
		progress*100,
		completed+failed,
		p.total,
		completed,
		failed,
		formatDuration(elapsed),
		eta,
	)

	fmt.Fprint(p.writer, statusLine)
}

// PrintSummary prints final execution summary
func (p *Indicator) PrintSummary() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.total == 0 {
		return
	}

	fmt.Fprintln(p.writer)
	fmt.Fprintln(p.writer, "═══════════════════════════════════════════════════════════")
	fmt.Fprintln(p.writer, "Execution Summary")
	fmt.Fprintln(p.writer, "═══════════════════════════════════════════════════════════")

	completed := p.count(statusCompleted)
	failed := p.count(statusFailed)
	blocked := p.count(statusBlocked)
	elapsed := time.Since(p.startTime)

	fmt.Fprintf(p.writer, "Total Tasks:     %d\n", p.total)
	fmt.Fprintf(p.writer, "Completed:       %d ✓\n", completed)
	fmt.Fprintf(p.writer, "Failed:          %d ✗\n", failed)
	fmt.Fprintf(p.writer, "Blocked:         %d ⊘\n", blocked)
	fmt.Fprintf(p.writer, "Success Rate:    %.1f%%\n", float64(completed)/float64(p.total)*100)
	fmt.Fprintf(p.writer, "Total Time:      %s\n", formatDuration(elapsed))
	if p.adaptations > 0 {
		fmt.Fprintf(p.writer, "Adaptations:     %d\n", p.adaptations)
	}
	if p.rulesPassed+len(p.rulesFailed) > 0 {
		fmt.Fprintf(p.writer, "Rules:           %d passed, %d failed\n", p.rulesPassed, len(p.rulesFailed))
	}

	fmt.Fprintln(p.writer, "═══════════════════════════════════════════════════════════")

	// Print failed tasks details
	if failed+blocked > 0 {
		fmt.Fprintln(p.writer)
		fmt.Fprintln(p.writer, "Failed Tasks:")
		for _, id := range p.order {
			task := p.tasks[id]
			if task.status != statusFailed && task.status != statusBlocked {
				continue
			}
			fmt.Fprintf(p.writer, "  ✗ %s", id)
			if task.err != "" {
				fmt.Fprintf(p.writer, " - %s", task.err)
			}
			fmt.Fprintln(p.writer)
		}
	}
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
