// Package plan builds and executes dependency graphs of agent tasks.
//
// A Planner owns every Plan it creates. Plans are validated as a whole on
// creation and on every structural change, so a registered plan is always an
// acyclic graph within the configured size and depth limits. Execution runs
// the graph in waves: all ready tasks are dispatched, then the pending set is
// re-scanned until nothing more can run.
package plan

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/taskforge/internal/domain"
	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/events"
	"github.com/felixgeelhaar/taskforge/internal/log"
	"github.com/felixgeelhaar/taskforge/internal/metrics"
)

// Config controls planner limits and execution behavior
type Config struct {
	// Graph limits
	MaxTasks int `yaml:"max_tasks"`
	MaxDepth int `yaml:"max_depth"`

	// Parallel dispatches each wave concurrently; otherwise tasks of a wave
	// run one at a time in task id order.
	Parallel bool `yaml:"parallel"`

	// MaxConcurrency caps concurrent executor calls in parallel mode (0 = no cap)
	MaxConcurrency int `yaml:"max_concurrency"`

	// Retry settings
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	RetryJitter bool          `yaml:"retry_jitter"`

	// AdaptivePlanning allows AdaptPlan at any time
	AdaptivePlanning bool `yaml:"adaptive_planning"`

	// VerifyEdits runs the configured EditVerifier after edit-type tasks
	VerifyEdits bool `yaml:"verify_edits"`

	// Optional budgets reported to executors
	TokenBudget int           `yaml:"token_budget"`
	TimeBudget  time.Duration `yaml:"time_budget"`
}

// DefaultConfig returns the default planner configuration
func DefaultConfig() Config {
	return Config{
		MaxTasks:         100,
		MaxDepth:         10,
		Parallel:         true,
		MaxConcurrency:   8,
		MaxRetries:       2,
		RetryDelay:       time.Second,
		RetryJitter:      false,
		AdaptivePlanning: true,
		VerifyEdits:      true,
	}
}

// Deps are the collaborators of a Planner. Every field is optional except
// Executor, which is required by ExecutePlan.
type Deps struct {
	Executor Executor
	Verifier EditVerifier
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Logger   *log.Logger
}

// Planner creates, adapts and executes plans
type Planner struct {
	mu     sync.Mutex
	plans  map[string]*Plan
	order  []string
	config Config

	executor Executor
	verifier EditVerifier
	events   events.Publisher
	metrics  *metrics.Metrics
	logger   *log.Logger

	// sleep is replaced in tests
	sleep func(d time.Duration) <-chan time.Time
}

// NewPlanner creates a planner with the given configuration
func NewPlanner(cfg Config, deps Deps) *Planner {
	pub := deps.Events
	if pub == nil {
		pub = events.Nop{}
	}
	return &Planner{
		plans:    make(map[string]*Plan),
		config:   cfg,
		executor: deps.Executor,
		verifier: deps.Verifier,
		events:   pub,
		metrics:  deps.Metrics,
		logger:   log.OrDiscard(deps.Logger).WithComponent("planner"),
		sleep:    time.After,
	}
}

// Config returns the planner configuration
func (p *Planner) Config() Config {
	return p.config
}

// SetExecutor replaces the task executor
func (p *Planner) SetExecutor(e Executor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executor = e
}

// SetVerifier replaces the edit verifier
func (p *Planner) SetVerifier(v EditVerifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifier = v
}

// CreatePlan validates the task specs and registers a new plan.
// On any validation failure no plan is registered.
func (p *Planner) CreatePlan(goal string, specs []TaskSpec) (*Plan, error) {
	now := time.Now()
	plan := &Plan{
		ID:        uuid.NewString(),
		Goal:      goal,
		Tasks:     make(map[string]*TaskNode, len(specs)),
		Status:    PlanPlanning,
		CreatedAt: now,
	}

	if p.config.MaxTasks > 0 && len(specs) > p.config.MaxTasks {
		p.metrics.RecordPlanCreated(false, len(specs))
		return nil, errors.NewTooManyTasksError(len(specs), p.config.MaxTasks)
	}

	for i, spec := range specs {
		if err := p.insertTask(plan, spec, i+1, now); err != nil {
			p.metrics.RecordPlanCreated(false, len(specs))
			return nil, err
		}
	}

	roots, err := validateGraph(plan.Tasks, plan.Order, p.config.MaxTasks, p.config.MaxDepth)
	if err != nil {
		p.metrics.RecordPlanCreated(false, len(specs))
		p.logger.WithError(err).Warn("plan rejected", "goal", goal, "tasks", len(specs))
		return nil, err
	}
	plan.Roots = roots
	plan.Estimates = sumEstimates(plan)
	plan.Progress = Progress{Total: len(plan.Tasks)}

	p.mu.Lock()
	p.plans[plan.ID] = plan
	p.order = append(p.order, plan.ID)
	snapshot := plan.Clone()
	p.mu.Unlock()

	p.metrics.RecordPlanCreated(true, len(plan.Tasks))
	p.logger.Info("plan created", "plan_id", plan.ID, "tasks", len(plan.Tasks), "roots", len(roots))
	p.events.Publish(events.New(events.PlanCreated, plan.ID, map[string]any{
		"goal":       goal,
		"task_count": len(plan.Tasks),
		"roots":      roots,
	}))

	return snapshot, nil
}

// insertTask builds a node from spec and adds it to plan without validating
// the graph. seq is used for generated ids.
func (p *Planner) insertTask(plan *Plan, spec TaskSpec, seq int, now time.Time) error {
	id := spec.ID
	if id == "" {
		id = nextTaskID(plan, seq)
	}
	if err := validateSpec(id, spec); err != nil {
		return err
	}
	if _, exists := plan.Tasks[id]; exists {
		return errors.NewDuplicateTaskError(id)
	}

	maxRetries := p.config.MaxRetries
	if spec.MaxRetries != nil {
		maxRetries = *spec.MaxRetries
	}

	node := &TaskNode{
		ID:           id,
		Description:  spec.Description,
		Type:         spec.Type,
		Status:       TaskPending,
		Dependencies: append([]string(nil), spec.Dependencies...),
		MaxRetries:   maxRetries,
		Context:      spec.Context,
		CreatedAt:    now,
	}
	if node.Context == nil {
		node.Context = make(map[string]any)
	}
	applyEstimates(node, spec)

	plan.Tasks[id] = node
	plan.Order = append(plan.Order, id)
	return nil
}

// nextTaskID generates the first free task-NNN id at or after seq
func nextTaskID(plan *Plan, seq int) string {
	for {
		id := domain.GeneratedTaskID(seq).String()
		if _, taken := plan.Tasks[id]; !taken {
			return id
		}
		seq++
	}
}

// AddTask inserts a task into a plan that has not started executing.
// The whole graph is re-validated and the insertion rolled back on failure.
func (p *Planner) AddTask(planID string, spec TaskSpec) (*TaskNode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	plan, ok := p.plans[planID]
	if !ok {
		return nil, errors.NewPlanNotFoundError(planID)
	}
	if plan.Status != PlanPlanning {
		return nil, errors.New(errors.ErrCodePlanNotModifiable,
			fmt.Sprintf("plan %s is %s; tasks can only be added while planning", planID, plan.Status)).
			WithSuggestion("Use AdaptPlan to change a plan that is executing")
	}

	candidate := plan.Clone()
	if err := p.insertTask(candidate, spec, len(candidate.Tasks)+1, time.Now()); err != nil {
		return nil, err
	}
	roots, err := validateGraph(candidate.Tasks, candidate.Order, p.config.MaxTasks, p.config.MaxDepth)
	if err != nil {
		return nil, err
	}

	p.commit(plan, candidate, roots)
	added := plan.Tasks[candidate.Order[len(candidate.Order)-1]]
	p.logger.Debug("task added", "plan_id", planID, "task_id", added.ID)
	return added.Clone(), nil
}

// AdaptPlan applies a block of changes to a plan and records why.
// Terminal plans accept only an empty change block, which annotates the log.
func (p *Planner) AdaptPlan(planID, reason string, changes Changes) (*Plan, error) {
	if !p.config.AdaptivePlanning {
		return nil, errors.New(errors.ErrCodePlanAdaptDisabled, "adaptive planning is disabled").
			WithSuggestion("Set planner.adaptive_planning: true")
	}

	p.mu.Lock()
	plan, ok := p.plans[planID]
	if !ok {
		p.mu.Unlock()
		return nil, errors.NewPlanNotFoundError(planID)
	}
	terminal := plan.Status == PlanCompleted || plan.Status == PlanFailed
	if terminal && !changes.IsEmpty() {
		p.mu.Unlock()
		return nil, errors.New(errors.ErrCodePlanNotModifiable,
			fmt.Sprintf("plan %s is %s and can no longer change", planID, plan.Status))
	}

	candidate := plan.Clone()
	summary, err := p.applyChanges(candidate, changes)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	roots, err := validateGraph(candidate.Tasks, candidate.Order, p.config.MaxTasks, p.config.MaxDepth)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	p.commit(plan, candidate, roots)
	plan.Adaptations = append(plan.Adaptations, Adaptation{
		Timestamp: time.Now(),
		Reason:    reason,
		Changes:   summary,
	})
	snapshot := plan.Clone()
	p.mu.Unlock()

	p.metrics.RecordPlanAdapted()
	p.logger.Info("plan adapted", "plan_id", planID, "reason", reason, "changes", summary)
	p.events.Publish(events.New(events.PlanAdapted, planID, map[string]any{
		"reason":  reason,
		"changes": summary,
	}))
	return snapshot, nil
}

// applyChanges mutates candidate and returns a human-readable summary
func (p *Planner) applyChanges(candidate *Plan, changes Changes) (string, error) {
	var summary []string
	now := time.Now()

	for _, id := range changes.RemoveTasks {
		t, ok := candidate.Tasks[id]
		if !ok {
			return "", errors.NewTaskNotFoundError(candidate.ID, id)
		}
		if t.Status != TaskPending {
			return "", notPendingError(candidate.ID, t)
		}
		if deps := Dependents(candidate, id); len(deps) > 0 {
			return "", errors.New(errors.ErrCodePlanNotModifiable,
				fmt.Sprintf("task %s is still required by %s", id, strings.Join(deps, ", ")))
		}
		delete(candidate.Tasks, id)
		candidate.Order = removeID(candidate.Order, id)
		summary = append(summary, "removed "+id)
	}

	// Ids are keyed by map, so sort them for a stable summary
	updateIDs := make([]string, 0, len(changes.UpdateTasks))
	for id := range changes.UpdateTasks {
		updateIDs = append(updateIDs, id)
	}
	sort.Strings(updateIDs)
	for _, id := range updateIDs {
		upd := changes.UpdateTasks[id]
		t, ok := candidate.Tasks[id]
		if !ok {
			return "", errors.NewTaskNotFoundError(candidate.ID, id)
		}
		if t.Status != TaskPending {
			return "", notPendingError(candidate.ID, t)
		}
		if upd.Description != nil {
			t.Description = *upd.Description
		}
		if upd.Dependencies != nil {
			spec := TaskSpec{Type: t.Type, Dependencies: upd.Dependencies}
			if err := validateSpec(id, spec); err != nil {
				return "", err
			}
			t.Dependencies = append([]string(nil), upd.Dependencies...)
		}
		if upd.Complexity != 0 {
			if err := upd.Complexity.Validate(); err != nil {
				return "", errors.NewInvalidTaskError(id, err)
			}
			t.Complexity = upd.Complexity
		}
		if upd.MaxRetries != nil {
			t.MaxRetries = *upd.MaxRetries
		}
		for k, v := range upd.Context {
			t.Context[k] = v
		}
		summary = append(summary, "updated "+id)
	}

	for _, id := range changes.SkipTasks {
		t, ok := candidate.Tasks[id]
		if !ok {
			return "", errors.NewTaskNotFoundError(candidate.ID, id)
		}
		if t.Status != TaskPending {
			return "", notPendingError(candidate.ID, t)
		}
		t.Status = TaskSkipped
		summary = append(summary, "skipped "+id)
	}

	for _, spec := range changes.AddTasks {
		if p.config.MaxTasks > 0 && len(candidate.Tasks) >= p.config.MaxTasks {
			return "", errors.NewTooManyTasksError(len(candidate.Tasks)+1, p.config.MaxTasks)
		}
		if err := p.insertTask(candidate, spec, len(candidate.Tasks)+1, now); err != nil {
			return "", err
		}
		summary = append(summary, "added "+candidate.Order[len(candidate.Order)-1])
	}

	if len(summary) == 0 {
		return "no structural changes", nil
	}
	return strings.Join(summary, "; "), nil
}

// commit copies the validated candidate graph onto the live plan
func (p *Planner) commit(plan, candidate *Plan, roots []string) {
	plan.Tasks = candidate.Tasks
	plan.Order = candidate.Order
	plan.Roots = roots
	plan.Estimates = sumEstimates(plan)
	plan.Progress.Total = len(plan.Tasks)
	plan.Progress.Skipped = countStatus(plan, TaskSkipped)
	plan.Progress.recompute()
}

// SkipTask marks a pending task as skipped. Its dependents will not run.
func (p *Planner) SkipTask(planID, taskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	plan, ok := p.plans[planID]
	if !ok {
		return errors.NewPlanNotFoundError(planID)
	}
	t, ok := plan.Tasks[taskID]
	if !ok {
		return errors.NewTaskNotFoundError(planID, taskID)
	}
	if t.Status != TaskPending {
		return notPendingError(planID, t)
	}
	t.Status = TaskSkipped
	plan.Progress.Skipped++
	return nil
}

// GetPlan returns a snapshot of the plan
func (p *Planner) GetPlan(planID string) (*Plan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	plan, ok := p.plans[planID]
	if !ok {
		return nil, errors.NewPlanNotFoundError(planID)
	}
	return plan.Clone(), nil
}

// ListPlans returns snapshots of every plan in creation order
func (p *Planner) ListPlans() []*Plan {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Plan, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.plans[id].Clone())
	}
	return out
}

// GetReadyTasks returns snapshots of the tasks that could run now
func (p *Planner) GetReadyTasks(planID string) ([]*TaskNode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	plan, ok := p.plans[planID]
	if !ok {
		return nil, errors.NewPlanNotFoundError(planID)
	}
	ready := ReadyTasks(plan)
	out := make([]*TaskNode, len(ready))
	for i, t := range ready {
		out[i] = t.Clone()
	}
	return out, nil
}

// GetExecutionOrder returns the plan's tasks grouped into dependency waves
func (p *Planner) GetExecutionOrder(planID string) ([][]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	plan, ok := p.plans[planID]
	if !ok {
		return nil, errors.NewPlanNotFoundError(planID)
	}
	return ExecutionOrder(plan), nil
}

// Stats summarizes a plan
func (p *Planner) Stats(planID string) (Stats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	plan, ok := p.plans[planID]
	if !ok {
		return Stats{}, errors.NewPlanNotFoundError(planID)
	}
	return ComputeStats(plan), nil
}

func notPendingError(planID string, t *TaskNode) error {
	return errors.New(errors.ErrCodePlanTaskNotPending,
		fmt.Sprintf("task %s in plan %s is %s, not pending", t.ID, planID, t.Status))
}

func countStatus(plan *Plan, status TaskStatus) int {
	n := 0
	for _, t := range plan.Tasks {
		if t.Status == status {
			n++
		}
	}
	return n
}

func removeID(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
