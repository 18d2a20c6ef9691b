package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskforge/internal/config"
	"github.com/felixgeelhaar/taskforge/internal/domain"
	"github.com/felixgeelhaar/taskforge/internal/events"
	"github.com/felixgeelhaar/taskforge/internal/exec"
	"github.com/felixgeelhaar/taskforge/internal/files"
	"github.com/felixgeelhaar/taskforge/internal/hooks"
	"github.com/felixgeelhaar/taskforge/internal/journal"
	"github.com/felixgeelhaar/taskforge/internal/plan"
	"github.com/felixgeelhaar/taskforge/internal/verify"
)

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Tracker.Root = dir
	cfg.Planner.Parallel = false
	cfg.Planner.RetryDelay = time.Millisecond
	cfg.Verification.RetryDelay = time.Millisecond
	return cfg, dir
}

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func tasksOfType(p *plan.Plan, typ domain.TaskType) []*plan.TaskNode {
	var out []*plan.TaskNode
	for _, task := range p.TasksInOrder() {
		if task.Type == typ {
			out = append(out, task)
		}
	}
	return out
}

func verification(t *testing.T, task *plan.TaskNode) map[string]any {
	t.Helper()
	v, ok := task.Context["verification"].(map[string]any)
	require.True(t, ok, "task %s has no verification outcome", task.ID)
	return v
}

func TestRun_FailedVerificationAddsDebugTask(t *testing.T) {
	cfg, dir := testConfig(t)

	executor := plan.ExecutorFunc(func(_ context.Context, task *plan.TaskNode, _ plan.ExecutionContext) (any, error) {
		switch task.Type {
		case domain.TaskTypeImplement:
			write(t, dir, "a.ts", "import { b } from './b';\nexport const a = b + 1;\n")
			return EditOutput{Files: []string{"a.ts"}, Success: true}, nil
		case domain.TaskTypeDebug:
			write(t, dir, "b.ts", "export const b = 1;\n")
			return map[string]any{"files": []any{"a.ts", "b.ts"}}, nil
		}
		return nil, nil
	})

	s, err := New(cfg, Options{Executor: executor})
	require.NoError(t, err)
	rec := events.NewRecorder()
	s.Bus.SubscribeAll(rec.Publish)

	p, ok, err := s.Run(context.Background(), "add a", []plan.TaskSpec{
		{ID: "impl", Description: "Add a", Type: domain.TaskTypeImplement},
	})
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, p.Tasks, 2)
	require.Len(t, p.Adaptations, 1)

	impl := p.Task("impl")
	assert.Equal(t, false, verification(t, impl)["passed"])

	debug := tasksOfType(p, domain.TaskTypeDebug)
	require.Len(t, debug, 1)
	fix := debug[0]
	assert.Equal(t, plan.TaskCompleted, fix.Status)
	assert.Equal(t, []string{"impl"}, fix.Dependencies)
	assert.Equal(t, "impl", fix.Context[ContextFollowUpOf])
	assert.Equal(t, 1, fix.Context[ContextFixAttempt])
	assert.Contains(t, fix.Description, verify.RuleConsistency)
	assert.Equal(t, true, verification(t, fix)["passed"])

	meta, found := s.Tracker.GetFile("a.ts")
	require.True(t, found)
	assert.Equal(t, []string{"b.ts"}, meta.Dependencies)
	// The debug task touched a.ts last, so its description is the last edit
	assert.Equal(t, fix.Description, meta.LastEdit.Description)
	assert.NotEqual(t, "Add a", meta.LastEdit.Description)
	bMeta, found := s.Tracker.GetFile("b.ts")
	require.True(t, found)
	assert.Equal(t, fix.Description, bMeta.LastEdit.Description)

	var together bool
	for _, rel := range s.Tracker.Relationships("a.ts") {
		if rel.Type == files.RelModifiedTogether && rel.To == "b.ts" {
			together = true
		}
	}
	assert.True(t, together, "a.ts and b.ts were edited by one task")

	assert.Len(t, rec.OfType(events.VerificationCompleted), 2)
	assert.Len(t, rec.OfType(events.PlanAdapted), 1)
	assert.NotEmpty(t, rec.OfType(events.FileModified))
}

func TestRun_DefaultExecutorRunsTaskCommands(t *testing.T) {
	cfg, dir := testConfig(t)
	cfg.Planner.AdaptivePlanning = false

	s, err := New(cfg, Options{})
	require.NoError(t, err)

	p, ok, err := s.Run(context.Background(), "write modules", []plan.TaskSpec{
		{ID: "b", Description: "Add b", Type: domain.TaskTypeImplement, Context: map[string]any{
			exec.ContextCommand: "printf 'export const b = 1;\\n' > b.ts",
			exec.ContextFiles:   []any{"b.ts"},
		}},
		{ID: "a", Description: "Add a", Type: domain.TaskTypeImplement, Dependencies: []string{"b"}, Context: map[string]any{
			exec.ContextCommand: "printf \"import { b } from './b';\\n\" > a.ts",
			exec.ContextFiles:   []any{"a.ts"},
		}},
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, true, verification(t, p.Task("a"))["passed"])
	assert.FileExists(t, filepath.Join(dir, "a.ts"))

	meta, found := s.Tracker.GetFile("a.ts")
	require.True(t, found)
	assert.Equal(t, []string{"b.ts"}, meta.Dependencies)
}

func TestRun_FixAttemptsAreBounded(t *testing.T) {
	cfg, dir := testConfig(t)

	executor := plan.ExecutorFunc(func(_ context.Context, task *plan.TaskNode, _ plan.ExecutionContext) (any, error) {
		if task.Type == domain.TaskTypeImplement {
			write(t, dir, "a.ts", "import { b } from './missing';\nexport const a = b;\n")
			return []string{"a.ts"}, nil
		}
		// debug tasks change nothing; their files come from the task context
		return nil, nil
	})

	s, err := New(cfg, Options{Executor: executor})
	require.NoError(t, err)

	p, ok, err := s.Run(context.Background(), "broken", []plan.TaskSpec{
		{ID: "impl", Description: "Add a", Type: domain.TaskTypeImplement},
	})
	require.NoError(t, err)
	assert.True(t, ok, "tasks themselves succeed")

	debug := tasksOfType(p, domain.TaskTypeDebug)
	require.Len(t, debug, DefaultMaxFixAttempts)
	assert.Equal(t, 2, debug[1].Context[ContextFixAttempt])
	assert.Equal(t, debug[0].ID, debug[1].Context[ContextFollowUpOf])
	assert.Equal(t, false, verification(t, debug[1])["passed"])
}

func TestRun_FollowUpsDisabled(t *testing.T) {
	cfg, dir := testConfig(t)
	executor := plan.ExecutorFunc(func(context.Context, *plan.TaskNode, plan.ExecutionContext) (any, error) {
		write(t, dir, "a.ts", "import { b } from './missing';\n")
		return []string{"a.ts"}, nil
	})

	s, err := New(cfg, Options{Executor: executor, MaxFixAttempts: -1})
	require.NoError(t, err)

	p, ok, err := s.Run(context.Background(), "broken", []plan.TaskSpec{
		{ID: "impl", Description: "Add a", Type: domain.TaskTypeImplement},
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, p.Tasks, 1)
	assert.Empty(t, p.Adaptations)
}

func TestVerifyTask_NoFiles(t *testing.T) {
	cfg, _ := testConfig(t)
	s, err := New(cfg, Options{})
	require.NoError(t, err)

	outcome, err := s.VerifyTask(context.Background(), "p1", &plan.TaskNode{ID: "t1", Type: domain.TaskTypeImplement})
	require.NoError(t, err)
	assert.Nil(t, outcome)
	assert.Empty(t, s.Engine.History())
}

func TestVerifyTask_FailedEditIsSkipped(t *testing.T) {
	cfg, dir := testConfig(t)
	write(t, dir, "a.ts", "export const a = 1;\n")
	s, err := New(cfg, Options{})
	require.NoError(t, err)

	outcome, err := s.VerifyTask(context.Background(), "p1", &plan.TaskNode{
		ID:     "t1",
		Type:   domain.TaskTypeImplement,
		Result: verify.EditResult{Success: false, Files: []string{"a.ts"}},
	})
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.False(t, outcome.Passed)
	assert.Equal(t, "verification skipped", outcome.Summary)
	assert.Empty(t, outcome.FollowUps)

	res, err := s.Engine.GetResult(outcome.ResultID)
	require.NoError(t, err)
	assert.Equal(t, verify.StatusSkipped, res.Status)
	assert.Equal(t, "p1:t1", res.EditID)
}

func TestVerifyTask_UsesProvidedContents(t *testing.T) {
	cfg, dir := testConfig(t)
	write(t, dir, "a.py", "def run():\n    return 1\n")
	s, err := New(cfg, Options{})
	require.NoError(t, err)

	outcome, err := s.VerifyTask(context.Background(), "p1", &plan.TaskNode{
		ID:   "t1",
		Type: domain.TaskTypeRefactor,
		Result: &EditOutput{
			Files:        []string{filepath.Join(dir, "a.py")},
			Success:      true,
			Contents:     map[string]string{filepath.Join(dir, "a.py"): "def run():\n    return 1\n"},
			LinesChanged: map[string]int{filepath.Join(dir, "a.py"): 2},
		},
	})
	require.NoError(t, err)
	assert.True(t, outcome.Passed, outcome.Summary)

	meta, ok := s.Tracker.GetFile("a.py")
	require.True(t, ok)
	assert.Equal(t, []string{"run"}, meta.Functions)
	assert.Equal(t, 2, meta.LastEdit.LinesChanged)
}

func TestVerifyTask_DeletedFileIsUntracked(t *testing.T) {
	cfg, _ := testConfig(t)
	s, err := New(cfg, Options{})
	require.NoError(t, err)

	_, err = s.Tracker.AccessFile("gone.ts", []byte("export const x = 1;\n"))
	require.NoError(t, err)

	_, err = s.VerifyTask(context.Background(), "p1", &plan.TaskNode{
		ID:     "t1",
		Type:   domain.TaskTypeImplement,
		Result: []string{"gone.ts"},
	})
	require.NoError(t, err)

	_, ok := s.Tracker.GetFile("gone.ts")
	assert.False(t, ok)
}

func TestNew_RegistersConfiguredRules(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Verification.Rules = []config.CommandRule{{ID: "unit", Type: "test", Command: "true"}}

	s, err := New(cfg, Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	require.NotNil(t, s.Metrics)

	var ids []string
	for _, r := range s.Engine.Rules() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{verify.RuleSyntaxCheck, verify.RuleTypeCheck, verify.RuleLint, verify.RuleConsistency, "unit"}, ids)
	assert.Equal(t, s.Tracker.Root(), s.Engine.Config().WorkingDir)

	cfg.Verification.ConsistencyRule = false
	cfg.Verification.Rules = nil
	s, err = New(cfg, Options{})
	require.NoError(t, err)
	assert.Len(t, s.Engine.Rules(), 3)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Planner.MaxTasks = 0
	_, err := New(cfg, Options{})
	assert.Error(t, err)
}

func TestSessionsAreIsolated(t *testing.T) {
	a, err := New(nil, Options{})
	require.NoError(t, err)
	b, err := New(nil, Options{})
	require.NoError(t, err)

	_, err = a.Planner.CreatePlan("goal", []plan.TaskSpec{{Description: "x", Type: domain.TaskTypeResearch}})
	require.NoError(t, err)
	_, err = a.Tracker.AccessFile("x.go", []byte("package x\n"))
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, a.Planner.ListPlans(), 1)
	assert.Empty(t, b.Planner.ListPlans())
	assert.Empty(t, b.Tracker.ListFiles())
}

func TestParseEditOutput(t *testing.T) {
	tests := []struct {
		name   string
		result any
		want   EditOutput
	}{
		{"nil", nil, EditOutput{Success: true}},
		{"paths", []string{"a.go"}, EditOutput{Files: []string{"a.go"}, Success: true}},
		{"edit result", verify.EditResult{Files: []string{"a.go"}}, EditOutput{Files: []string{"a.go"}}},
		{"pointer", &EditOutput{Files: []string{"a.go"}, Success: true}, EditOutput{Files: []string{"a.go"}, Success: true}},
		{"map", map[string]any{
			"files":         []any{"a.go", 3, ""},
			"success":       false,
			"contents":      map[string]any{"a.go": "package a\n"},
			"lines_changed": map[string]any{"a.go": float64(4)},
		}, EditOutput{
			Files:        []string{"a.go"},
			Contents:     map[string]string{"a.go": "package a\n"},
			LinesChanged: map[string]int{"a.go": 4},
		}},
		{"command result", &exec.Result{Files: []string{"a.go"}}, EditOutput{Files: []string{"a.go"}, Success: true}},
		{"failed command", &exec.Result{ExitCode: 1, Files: []string{"a.go"}}, EditOutput{Files: []string{"a.go"}}},
		{"dry run", &exec.Result{DryRun: true}, EditOutput{}},
		{"single path in map", map[string]any{"files": "a.go"}, EditOutput{Files: []string{"a.go"}, Success: true}},
		{"unrelated", 42, EditOutput{Success: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseEditOutput(tt.result))
		})
	}
}

func TestWatch_TracksExistingAndChangedFiles(t *testing.T) {
	cfg, dir := testConfig(t)
	cfg.Watcher.Debounce = 10 * time.Millisecond
	write(t, dir, "a.ts", "export const a = 1;\n")

	s, err := New(cfg, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan files.WatchEvent, 8)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func(ev files.WatchEvent) {
			select {
			case changes <- ev:
			default:
			}
		})
	}()

	require.Eventually(t, func() bool {
		_, ok := s.Tracker.GetFile("a.ts")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// The directory watch is registered after the initial scan; rewrite
	// until a change comes through.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "b.ts"), []byte("export const b = 2;\n"), 0o644)
		select {
		case ev := <-changes:
			return ev.Path == "b.ts" && ev.Operation == files.OpModify
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSession_JournalAndHooks(t *testing.T) {
	cfg, dir := testConfig(t)
	cfg.Journal.Enabled = true
	cfg.Hooks = []hooks.Config{
		{
			Name:    "record-outcome",
			Type:    hooks.TypeScript,
			Events:  []string{string(events.PlanCompleted)},
			Command: `printf '%s' "$TASKFORGE_EVENT_SUBJECT" > outcome.txt`,
		},
		{
			Name:         "failures-only",
			Type:         hooks.TypeScript,
			Events:       []string{"*"},
			OnlyFailures: true,
			Command:      "touch failure.txt",
		},
	}

	s, err := New(cfg, Options{Executor: plan.ExecutorFunc(func(context.Context, *plan.TaskNode, plan.ExecutionContext) (any, error) {
		return nil, nil
	})})
	require.NoError(t, err)

	p, ok, err := s.Run(context.Background(), "observe", []plan.TaskSpec{
		{ID: "r", Description: "Look around", Type: domain.TaskTypeResearch},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Close(context.Background()))

	data, err := os.ReadFile(filepath.Join(dir, "outcome.txt"))
	require.NoError(t, err)
	assert.Equal(t, p.ID, string(data))
	assert.NoFileExists(t, filepath.Join(dir, "failure.txt"))

	results := s.HookResults()
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	path := s.JournalPath()
	assert.Equal(t, filepath.Join(dir, ".taskforge", "journal", "journal_"+s.ID+".jsonl"), path)
	header, recorded, err := journal.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, s.ID, header.SessionID)

	var types []events.EventType
	for _, e := range recorded {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, events.PlanCreated)
	assert.Contains(t, types, events.TaskCompleted)
	assert.Equal(t, events.PlanCompleted, types[len(types)-1])
}

func TestNew_RejectsInvalidHook(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Hooks = []hooks.Config{{Name: "h", Type: hooks.TypeWebhook, Events: []string{"*"}}}

	_, err := New(cfg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a url")
}
