package plan

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/events"
	"github.com/felixgeelhaar/taskforge/internal/telemetry"
)

// EditVerifier checks the files touched by an edit-type task once it has
// completed. Follow-up specs are added to the plan when verification fails
// and adaptive planning is enabled.
type EditVerifier interface {
	VerifyTask(ctx context.Context, planID string, task *TaskNode) (*VerificationOutcome, error)
}

// VerificationOutcome is what an EditVerifier reports back to the planner
type VerificationOutcome struct {
	Passed    bool
	ResultID  string
	Summary   string
	FollowUps []TaskSpec
}

// ExecutePlan runs the plan to completion. It reports false if any task
// failed or was blocked. An error is returned only when the plan cannot run
// at all or ctx is cancelled.
func (p *Planner) ExecutePlan(ctx context.Context, planID string) (bool, error) {
	p.mu.Lock()
	plan, ok := p.plans[planID]
	if !ok {
		p.mu.Unlock()
		return false, errors.NewPlanNotFoundError(planID)
	}
	if p.executor == nil {
		p.mu.Unlock()
		return false, errors.New(errors.ErrCodePlanNoExecutor, "no task executor configured").
			WithSuggestion("Pass an Executor in plan.Deps or call SetExecutor")
	}
	if plan.Status != PlanPlanning {
		p.mu.Unlock()
		return false, errors.New(errors.ErrCodePlanNotExecutable,
			fmt.Sprintf("plan %s is %s and cannot be executed", planID, plan.Status))
	}
	started := time.Now()
	plan.Status = PlanExecuting
	plan.StartedAt = &started
	run := &planRun{
		planner:  p,
		planID:   planID,
		executor: p.executor,
		verifier: p.verifier,
		started:  started,
	}
	taskCount := len(plan.Tasks)
	p.mu.Unlock()

	ctx, span := telemetry.StartPlanSpan(ctx, planID, taskCount)
	defer span.End()

	p.logger.Info("plan execution started", "plan_id", planID, "tasks", taskCount, "parallel", p.config.Parallel)
	p.events.Publish(events.New(events.PlanStarted, planID, map[string]any{
		"task_count": taskCount,
		"parallel":   p.config.Parallel,
	}))

	for wave := 1; ctx.Err() == nil; wave++ {
		ready := p.readyIDs(planID)
		if len(ready) == 0 {
			break
		}
		p.logger.Debug("dispatching wave", "plan_id", planID, "wave", wave, "tasks", ready)
		run.runWave(ctx, ready)
	}

	success, status := p.finalize(planID, ctx.Err())
	duration := time.Since(started)

	p.metrics.RecordPlanExecution(string(status), duration)
	telemetry.RecordDuration(span, "plan.duration_ms", duration)
	if success {
		telemetry.RecordSuccess(span)
	} else {
		telemetry.RecordError(span, fmt.Errorf("plan %s", status))
	}

	if err := ctx.Err(); err != nil {
		p.logger.Warn("plan execution cancelled", "plan_id", planID, "error", err)
		return false, err
	}
	return success, nil
}

// readyIDs returns the ids of the next wave. Sequential mode orders them by id.
func (p *Planner) readyIDs(planID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ready := ReadyTasks(p.plans[planID])
	ids := make([]string, len(ready))
	for i, t := range ready {
		ids[i] = t.ID
	}
	if !p.config.Parallel {
		sort.Strings(ids)
	}
	return ids
}

// finalize blocks every task left pending, settles the plan status and
// publishes plan.completed.
func (p *Planner) finalize(planID string, cause error) (bool, PlanStatus) {
	p.mu.Lock()
	plan := p.plans[planID]

	var newlyBlocked []string
	for _, id := range plan.Order {
		t := plan.Tasks[id]
		if t.Status != TaskPending {
			continue
		}
		t.Status = TaskBlocked
		if cause != nil {
			t.Error = fmt.Sprintf("plan cancelled: %v", cause)
		} else {
			t.Error = "dependencies did not complete"
		}
		newlyBlocked = append(newlyBlocked, id)
	}

	plan.Progress = Progress{
		Completed: countStatus(plan, TaskCompleted),
		Failed:    countStatus(plan, TaskFailed),
		Blocked:   countStatus(plan, TaskBlocked),
		Skipped:   countStatus(plan, TaskSkipped),
		Total:     len(plan.Tasks),
	}
	plan.Progress.recompute()

	// Tasks blocked behind a skipped task do not fail the plan
	success := cause == nil && plan.Progress.Failed == 0
	plan.Status = PlanCompleted
	if !success {
		plan.Status = PlanFailed
	}
	now := time.Now()
	plan.CompletedAt = &now
	plan.CurrentTask = ""
	progress := plan.Progress
	status := plan.Status
	p.mu.Unlock()

	for _, id := range newlyBlocked {
		p.events.Publish(events.New(events.TaskBlocked, planID, map[string]any{"task_id": id}))
	}
	p.metrics.RecordTasksBlocked(len(newlyBlocked))

	p.logger.Info("plan execution finished",
		"plan_id", planID,
		"status", status,
		"completed", progress.Completed,
		"failed", progress.Failed,
		"blocked", progress.Blocked,
	)
	p.events.Publish(events.New(events.PlanCompleted, planID, map[string]any{
		"success":   success,
		"status":    string(status),
		"completed": progress.Completed,
		"failed":    progress.Failed,
		"blocked":   progress.Blocked,
		"total":     progress.Total,
		"percent":   progress.Percent,
	}))

	return success, status
}

// planRun holds the collaborators captured for one ExecutePlan call
type planRun struct {
	planner  *Planner
	planID   string
	executor Executor
	verifier EditVerifier
	started  time.Time
}

// runWave executes one wave of ready tasks and waits for all of them
func (r *planRun) runWave(ctx context.Context, ids []string) {
	cfg := r.planner.config
	if !cfg.Parallel || len(ids) == 1 {
		for _, id := range ids {
			if ctx.Err() != nil {
				return
			}
			r.executeTask(ctx, id)
		}
		return
	}

	var g errgroup.Group
	if cfg.MaxConcurrency > 0 {
		g.SetLimit(cfg.MaxConcurrency)
	}
	for _, id := range ids {
		g.Go(func() error {
			r.executeTask(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// executeTask runs one task through the executor with retries. Failures are
// recorded on the task and never returned.
func (r *planRun) executeTask(ctx context.Context, id string) {
	p := r.planner

	p.mu.Lock()
	plan := p.plans[r.planID]
	task, ok := plan.Tasks[id]
	// An adaptation may have removed or skipped the task since the wave was built
	if !ok || task.Status != TaskPending || !dependenciesCompleted(plan, task) || ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	start := time.Now()
	task.Status = TaskInProgress
	task.StartedAt = &start
	plan.CurrentTask = id
	depResults := make(map[string]any, len(task.Dependencies))
	for _, dep := range task.Dependencies {
		depResults[dep] = plan.Tasks[dep].Result
	}
	budget := r.budget(plan)
	snapshot := task.Clone()
	p.mu.Unlock()

	taskType := string(snapshot.Type)
	ctx, span := telemetry.StartTaskSpan(ctx, r.planID, id, taskType)
	defer span.End()

	p.logger.Debug("task started", "plan_id", r.planID, "task_id", id, "type", taskType)
	p.events.Publish(events.New(events.TaskStarted, r.planID, map[string]any{
		"task_id":     id,
		"type":        taskType,
		"description": snapshot.Description,
	}))

	var (
		result  any
		lastErr error
	)
	attempts := snapshot.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			retry := attempt - 1
			p.setRetryCount(r.planID, id, retry)
			p.metrics.RecordTaskRetry(taskType)
			p.events.Publish(events.New(events.TaskRetrying, r.planID, map[string]any{
				"task_id": id,
				"attempt": attempt,
				"error":   lastErr.Error(),
			}))
			if !p.wait(ctx, retry) {
				lastErr = ctx.Err()
				break
			}
		}

		ec := ExecutionContext{
			PlanID:            r.planID,
			TaskID:            id,
			DependencyResults: depResults,
			Attempt:           attempt,
			Budget:            budget,
			Report: func(message string) {
				p.events.Publish(events.New(events.TaskProgress, r.planID, map[string]any{
					"task_id": id,
					"message": message,
				}))
			},
		}
		result, lastErr = r.executor.Execute(ctx, snapshot, ec)
		if lastErr == nil {
			break
		}
		p.logger.WithError(lastErr).Warn("task attempt failed",
			"plan_id", r.planID, "task_id", id, "attempt", attempt, "max_attempts", attempts)
		if ctx.Err() != nil {
			break
		}
	}

	elapsed := time.Since(start)
	p.metrics.RecordTask(taskType, statusLabel(lastErr), elapsed)
	telemetry.RecordDuration(span, "task.duration_ms", elapsed)

	if lastErr != nil {
		telemetry.RecordError(span, lastErr)
		r.failTask(id, lastErr, elapsed)
		return
	}

	telemetry.RecordSuccess(span)
	completed := r.completeTask(id, result, elapsed)
	if completed != nil && r.verifier != nil && p.config.VerifyEdits && completed.Type.IsEdit() {
		r.verifyEdit(ctx, completed)
	}
}

func statusLabel(err error) string {
	if err != nil {
		return string(TaskFailed)
	}
	return string(TaskCompleted)
}

// wait sleeps for the linear backoff of the given retry number.
// It reports false if ctx ended first.
func (p *Planner) wait(ctx context.Context, retry int) bool {
	delay := p.config.RetryDelay * time.Duration(retry)
	if p.config.RetryJitter && p.config.RetryDelay > 1 {
		delay += rand.N(p.config.RetryDelay / 2)
	}
	if delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.sleep(delay):
		return true
	}
}

func (p *Planner) setRetryCount(planID, taskID string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.plans[planID].Tasks[taskID]; ok {
		t.RetryCount = n
	}
}

// budget computes the remaining-budget hint; callers hold p.mu
func (r *planRun) budget(plan *Plan) *Budget {
	cfg := r.planner.config
	if cfg.TokenBudget == 0 && cfg.TimeBudget == 0 {
		return nil
	}
	b := &Budget{}
	if cfg.TokenBudget > 0 {
		spent := 0
		for _, t := range plan.Tasks {
			if t.Status == TaskCompleted {
				spent += t.EstimatedTokens
			}
		}
		b.RemainingTokens = max(cfg.TokenBudget-spent, 0)
	}
	if cfg.TimeBudget > 0 {
		b.RemainingTime = max(cfg.TimeBudget-time.Since(r.started), 0)
	}
	return b
}

// completeTask records a successful result and returns a snapshot of the task
func (r *planRun) completeTask(id string, result any, elapsed time.Duration) *TaskNode {
	p := r.planner

	p.mu.Lock()
	plan := p.plans[r.planID]
	task, ok := plan.Tasks[id]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	now := time.Now()
	task.Status = TaskCompleted
	task.Result = result
	task.Error = ""
	task.ActualDuration = elapsed
	task.CompletedAt = &now
	plan.Progress.Completed++
	plan.Progress.recompute()
	if plan.CurrentTask == id {
		plan.CurrentTask = ""
	}
	progress := plan.Progress
	snapshot := task.Clone()
	p.mu.Unlock()

	p.logger.Info("task completed", "plan_id", r.planID, "task_id", id, "duration", elapsed)
	p.events.Publish(events.New(events.TaskCompleted, r.planID, map[string]any{
		"task_id":     id,
		"type":        string(snapshot.Type),
		"duration_ms": elapsed.Milliseconds(),
		"attempts":    snapshot.RetryCount + 1,
	}))
	r.publishProgress(progress)
	return snapshot
}

// failTask records the final error and blocks the task's pending dependents
func (r *planRun) failTask(id string, cause error, elapsed time.Duration) {
	p := r.planner

	p.mu.Lock()
	plan := p.plans[r.planID]
	task, ok := plan.Tasks[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	now := time.Now()
	task.Status = TaskFailed
	task.Error = cause.Error()
	task.ActualDuration = elapsed
	task.CompletedAt = &now
	plan.Progress.Failed++

	var blocked []string
	for _, depID := range Dependents(plan, id) {
		dep := plan.Tasks[depID]
		if dep.Status != TaskPending {
			continue
		}
		dep.Status = TaskBlocked
		dep.Error = fmt.Sprintf("dependency %s failed", id)
		plan.Progress.Blocked++
		blocked = append(blocked, depID)
	}
	if plan.CurrentTask == id {
		plan.CurrentTask = ""
	}
	progress := plan.Progress
	attempts := task.RetryCount + 1
	p.mu.Unlock()

	p.logger.Error("task failed",
		"plan_id", r.planID, "task_id", id, "attempts", attempts, "error", cause.Error(), "blocked", blocked)
	p.events.Publish(events.New(events.TaskFailed, r.planID, map[string]any{
		"task_id":  id,
		"error":    cause.Error(),
		"attempts": attempts,
	}))
	for _, depID := range blocked {
		p.events.Publish(events.New(events.TaskBlocked, r.planID, map[string]any{
			"task_id":    depID,
			"blocked_by": id,
		}))
	}
	p.metrics.RecordTasksBlocked(len(blocked))
	r.publishProgress(progress)
}

func (r *planRun) publishProgress(progress Progress) {
	r.planner.events.Publish(events.New(events.TaskProgress, r.planID, map[string]any{
		"completed": progress.Completed,
		"failed":    progress.Failed,
		"total":     progress.Total,
		"percent":   progress.Percent,
	}))
}

// verifyEdit asks the verifier about a completed edit task and adapts the
// plan with its follow-ups when verification failed.
func (r *planRun) verifyEdit(ctx context.Context, task *TaskNode) {
	p := r.planner

	outcome, err := r.verifier.VerifyTask(ctx, r.planID, task)
	if err != nil {
		p.logger.WithError(err).Warn("edit verification could not run", "plan_id", r.planID, "task_id", task.ID)
		return
	}
	if outcome == nil {
		return
	}

	p.mu.Lock()
	if t, ok := p.plans[r.planID].Tasks[task.ID]; ok {
		if t.Context == nil {
			t.Context = make(map[string]any)
		}
		t.Context["verification"] = map[string]any{
			"passed":    outcome.Passed,
			"result_id": outcome.ResultID,
			"summary":   outcome.Summary,
		}
	}
	p.mu.Unlock()

	if outcome.Passed || len(outcome.FollowUps) == 0 || !p.config.AdaptivePlanning {
		return
	}
	reason := fmt.Sprintf("verification failed after %s: %s", task.ID, outcome.Summary)
	if _, err := p.AdaptPlan(r.planID, reason, Changes{AddTasks: outcome.FollowUps}); err != nil {
		p.logger.WithError(err).Warn("could not add follow-up tasks", "plan_id", r.planID, "task_id", task.ID)
	}
}
