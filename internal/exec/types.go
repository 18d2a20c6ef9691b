package exec

import "time"

// Task context keys read by the executor
const (
	ContextCommand = "command"
	ContextFiles   = "files"
	ContextEnv     = "env"
)

// Step is a single shell invocation derived from a task
type Step struct {
	ID      string
	PlanID  string
	Shell   string
	Command string
	Args    []string // positional parameters, "$1" onwards
	Workdir string
	Env     map[string]string
	Timeout time.Duration
	Files   []string // files the task declares it edits
}

// Result is the outcome of running a step. It is also the task result
// handed back to the planner.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
	Files    []string      `json:"files,omitempty"`
	DryRun   bool          `json:"dry_run,omitempty"`
}

// Success reports whether the command exited cleanly
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// RunManifest is the audit record of one task run
type RunManifest struct {
	Timestamp    time.Time         `json:"timestamp"`
	PlanID       string            `json:"plan_id,omitempty"`
	StepID       string            `json:"step_id"`
	Shell        string            `json:"shell"`
	Command      string            `json:"command"`
	Env          map[string]string `json:"env,omitempty"`
	ExitCode     int               `json:"exit_code"`
	Duration     string            `json:"duration"`
	OutputHashes map[string]string `json:"output_hashes"`
}
