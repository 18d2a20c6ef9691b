package exec

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

const waitDelay = time.Second

// RunShell executes a step through its shell. A non-zero exit status is
// reported in the result; an error means the command could not run.
func RunShell(ctx context.Context, step Step) (*Result, error) {
	startTime := time.Now()

	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	shell := step.Shell
	if shell == "" {
		shell = "sh"
	}
	args := []string{"-c", step.Command}
	if len(step.Args) > 0 {
		args = append(append(args, shell), step.Args...)
	}
	cmd := exec.CommandContext(ctx, shell, args...)
	cmd.Dir = step.Workdir
	cmd.Env = buildEnv(step)
	// Children holding the output pipes open must not outlive the timeout
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !stderrors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %q: %w", step.Command, err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("command %q: %w", step.Command, ctx.Err())
		}
		exitCode = exitErr.ExitCode()
	}

	return &Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(startTime),
		Files:    step.Files,
	}, nil
}

// buildEnv layers the step environment over the process environment
func buildEnv(step Step) []string {
	env := os.Environ()
	for key, value := range step.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	if step.PlanID != "" {
		env = append(env, "TASKFORGE_PLAN_ID="+step.PlanID)
	}
	if step.ID != "" {
		env = append(env, "TASKFORGE_TASK_ID="+step.ID)
	}
	return env
}
