package exec

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/log"
	"github.com/felixgeelhaar/taskforge/internal/plan"
)

const maxErrorOutput = 512

// Config controls how task commands are run
type Config struct {
	Shell       string        `yaml:"shell"`
	Timeout     time.Duration `yaml:"timeout"`
	DryRun      bool          `yaml:"dry_run"`
	ManifestDir string        `yaml:"manifest_dir,omitempty"`
	Policy      `yaml:",inline"`
}

// DefaultConfig returns the default executor configuration
func DefaultConfig() Config {
	return Config{
		Shell:   "sh",
		Timeout: 10 * time.Minute,
	}
}

// Executor runs the shell command stored in a task's context. Tasks
// without a command complete immediately and report their declared files.
type Executor struct {
	config  Config
	workDir string
	logger  *log.Logger
}

// New creates an executor running commands in workDir
func New(cfg Config, workDir string, logger *log.Logger) *Executor {
	return &Executor{
		config:  cfg,
		workDir: workDir,
		logger:  log.OrDiscard(logger).WithComponent("executor"),
	}
}

var _ plan.Executor = (*Executor)(nil)

// Execute implements plan.Executor
func (e *Executor) Execute(ctx context.Context, task *plan.TaskNode, ec plan.ExecutionContext) (any, error) {
	step := e.createStep(task, ec)

	if step.Command == "" {
		e.logger.Debug("task has no command", "task_id", task.ID)
		return &Result{Files: step.Files}, nil
	}

	if err := EnforcePolicy(step, e.config.Policy); err != nil {
		return nil, err
	}

	if e.config.DryRun {
		e.logger.Info("dry run", "task_id", task.ID, "command", step.Command)
		return &Result{DryRun: true}, nil
	}

	if ec.Report != nil {
		ec.Report("running " + step.Command)
	}
	e.logger.Debug("running task command", "task_id", task.ID, "attempt", ec.Attempt, "command", step.Command)

	result, err := RunShell(ctx, step)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeTaskFailed, fmt.Sprintf("task %s could not run", task.ID), err)
	}

	if e.config.ManifestDir != "" {
		e.saveManifest(step, result)
	}

	if !result.Success() {
		return result, errors.New(errors.ErrCodeTaskFailed,
			fmt.Sprintf("%q exited with status %d%s", step.Command, result.ExitCode, outputTail(result)))
	}
	return result, nil
}

// createStep converts a task to an execution step
func (e *Executor) createStep(task *plan.TaskNode, ec plan.ExecutionContext) Step {
	step := Step{
		ID:      task.ID,
		PlanID:  ec.PlanID,
		Shell:   e.config.Shell,
		Workdir: e.workDir,
		Timeout: e.config.Timeout,
		Env:     make(map[string]string),
	}

	if cmd, ok := task.Context[ContextCommand].(string); ok {
		step.Command = strings.TrimSpace(cmd)
	}
	step.Files = contextFiles(task.Context[ContextFiles])
	if env, ok := task.Context[ContextEnv].(map[string]any); ok {
		for k, v := range env {
			step.Env[k] = fmt.Sprint(v)
		}
	}

	return step
}

func (e *Executor) saveManifest(step Step, result *Result) {
	manifest := CreateManifest(step, result)
	for _, f := range step.Files {
		path := f
		if !filepath.IsAbs(path) {
			path = filepath.Join(e.workDir, f)
		}
		if err := manifest.AddOutputHash(f, path); err != nil {
			e.logger.Warn("failed to hash output", "task_id", step.ID, "file", f, "error", err)
		}
	}
	path, err := SaveManifest(manifest, e.config.ManifestDir)
	if err != nil {
		e.logger.Warn("failed to save manifest", "task_id", step.ID, "error", err)
		return
	}
	e.logger.Debug("manifest saved", "task_id", step.ID, "path", path)
}

func contextFiles(v any) []string {
	var out []string
	switch files := v.(type) {
	case []string:
		out = append(out, files...)
	case []any:
		for _, f := range files {
			if s, ok := f.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case string:
		if files != "" {
			out = append(out, files)
		}
	}
	return out
}

func outputTail(r *Result) string {
	out := strings.TrimSpace(r.Stderr)
	if out == "" {
		out = strings.TrimSpace(r.Stdout)
	}
	if out == "" {
		return ""
	}
	if len(out) > maxErrorOutput {
		out = "..." + out[len(out)-maxErrorOutput:]
	}
	return ": " + out
}
