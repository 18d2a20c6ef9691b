package plan

import (
	"context"
	"maps"
	"time"

	"github.com/felixgeelhaar/taskforge/internal/domain"
)

// TaskStatus is the lifecycle state of a task node
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
	TaskSkipped    TaskStatus = "skipped"
)

// IsTerminal reports whether a task in this status will never run again.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskBlocked, TaskSkipped:
		return true
	default:
		return false
	}
}

// PlanStatus is the lifecycle state of a plan
type PlanStatus string

const (
	PlanPlanning  PlanStatus = "planning"
	PlanExecuting PlanStatus = "executing"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
)

// TaskSpec is the caller-supplied description of a task.
// Zero estimates are filled in by the planner.
type TaskSpec struct {
	ID                string            `json:"id,omitempty" yaml:"id,omitempty"`
	Description       string            `json:"description" yaml:"description"`
	Type              domain.TaskType   `json:"type" yaml:"type"`
	Dependencies      []string          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Complexity        domain.Complexity `json:"complexity,omitempty" yaml:"complexity,omitempty"`
	EstimatedTokens   int               `json:"estimated_tokens,omitempty" yaml:"estimated_tokens,omitempty"`
	EstimatedDuration time.Duration     `json:"estimated_duration,omitempty" yaml:"estimated_duration,omitempty"`
	MaxRetries        *int              `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Context           map[string]any    `json:"context,omitempty" yaml:"context,omitempty"`
}

// TaskNode is a single unit of work inside a plan
type TaskNode struct {
	ID                string            `json:"id"`
	Description       string            `json:"description"`
	Type              domain.TaskType   `json:"type"`
	Status            TaskStatus        `json:"status"`
	Dependencies      []string          `json:"depends_on"`
	Complexity        domain.Complexity `json:"complexity"`
	EstimatedTokens   int               `json:"estimated_tokens"`
	EstimatedDuration time.Duration     `json:"estimated_duration"`
	ActualDuration    time.Duration     `json:"actual_duration,omitempty"`
	Result            any               `json:"result,omitempty"`
	Error             string            `json:"error,omitempty"`
	RetryCount        int               `json:"retry_count"`
	MaxRetries        int               `json:"max_retries"`
	Context           map[string]any    `json:"context,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// Clone returns a copy that shares no mutable slices or maps with t.
// Result is copied by reference.
func (t *TaskNode) Clone() *TaskNode {
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.Context = maps.Clone(t.Context)
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}

// Estimates are the summed per-task estimates of a plan
type Estimates struct {
	Complexity int           `json:"complexity"`
	Tokens     int           `json:"tokens"`
	Duration   time.Duration `json:"duration"`
}

// Progress tracks execution counters of a plan
type Progress struct {
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Blocked   int     `json:"blocked"`
	Skipped   int     `json:"skipped"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent_complete"`
}

func (p *Progress) recompute() {
	if p.Total == 0 {
		p.Percent = 0
		return
	}
	p.Percent = float64(p.Completed) / float64(p.Total) * 100
}

// Adaptation is one entry of a plan's audit log
type Adaptation struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Changes   string    `json:"changes"`
}

// Plan is a DAG of tasks working toward a goal
type Plan struct {
	ID          string               `json:"id"`
	Goal        string               `json:"goal"`
	Tasks       map[string]*TaskNode `json:"tasks"`
	Order       []string             `json:"order"`
	Roots       []string             `json:"roots"`
	Estimates   Estimates            `json:"estimates"`
	Status      PlanStatus           `json:"status"`
	CurrentTask string               `json:"current_task,omitempty"`
	Progress    Progress             `json:"progress"`
	Adaptations []Adaptation         `json:"adaptations,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// Task returns the task with the given id, or nil
func (p *Plan) Task(id string) *TaskNode {
	return p.Tasks[id]
}

// TasksInOrder returns the tasks in insertion order
func (p *Plan) TasksInOrder() []*TaskNode {
	out := make([]*TaskNode, 0, len(p.Order))
	for _, id := range p.Order {
		out = append(out, p.Tasks[id])
	}
	return out
}

// Clone returns a deep copy of the plan safe to read while the planner keeps
// executing the original.
func (p *Plan) Clone() *Plan {
	c := *p
	c.Tasks = make(map[string]*TaskNode, len(p.Tasks))
	for id, t := range p.Tasks {
		c.Tasks[id] = t.Clone()
	}
	c.Order = append([]string(nil), p.Order...)
	c.Roots = append([]string(nil), p.Roots...)
	c.Adaptations = append([]Adaptation(nil), p.Adaptations...)
	if p.StartedAt != nil {
		ts := *p.StartedAt
		c.StartedAt = &ts
	}
	if p.CompletedAt != nil {
		ts := *p.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}

// Budget is the remaining-budget hint handed to executors.
// A zero field means no budget of that kind was configured.
type Budget struct {
	RemainingTokens int           `json:"remaining_tokens,omitempty"`
	RemainingTime   time.Duration `json:"remaining_time,omitempty"`
}

// ExecutionContext carries everything an executor knows about the attempt
type ExecutionContext struct {
	PlanID            string
	TaskID            string
	DependencyResults map[string]any
	Attempt           int
	Budget            *Budget

	// Report publishes a task.progress event for the running task.
	Report func(message string)
}

// Executor performs a single task. A returned error triggers a retry.
type Executor interface {
	Execute(ctx context.Context, task *TaskNode, ec ExecutionContext) (any, error)
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, task *TaskNode, ec ExecutionContext) (any, error)

// Execute implements Executor
func (f ExecutorFunc) Execute(ctx context.Context, task *TaskNode, ec ExecutionContext) (any, error) {
	return f(ctx, task, ec)
}

// Changes is the mutation block accepted by AdaptPlan.
// Only pending tasks may be updated, skipped or removed.
type Changes struct {
	AddTasks    []TaskSpec            `json:"add_tasks,omitempty" yaml:"add_tasks,omitempty"`
	UpdateTasks map[string]TaskUpdate `json:"update_tasks,omitempty" yaml:"update_tasks,omitempty"`
	SkipTasks   []string              `json:"skip_tasks,omitempty" yaml:"skip_tasks,omitempty"`
	RemoveTasks []string              `json:"remove_tasks,omitempty" yaml:"remove_tasks,omitempty"`
}

// IsEmpty reports whether the block carries no structural change
func (c Changes) IsEmpty() bool {
	return len(c.AddTasks) == 0 && len(c.UpdateTasks) == 0 && len(c.SkipTasks) == 0 && len(c.RemoveTasks) == 0
}

// TaskUpdate replaces the non-nil fields of a pending task
type TaskUpdate struct {
	Description  *string           `json:"description,omitempty" yaml:"description,omitempty"`
	Dependencies []string          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Complexity   domain.Complexity `json:"complexity,omitempty" yaml:"complexity,omitempty"`
	MaxRetries   *int              `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Context      map[string]any    `json:"context,omitempty" yaml:"context,omitempty"`
}

// Stats summarizes a plan by status and type
type Stats struct {
	ByStatus map[TaskStatus]int      `json:"by_status"`
	ByType   map[domain.TaskType]int `json:"by_type"`
	Depth    int                     `json:"depth"`
	Roots    int                     `json:"roots"`
	Leaves   int                     `json:"leaves"`
}
