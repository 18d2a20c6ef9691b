package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/exec"
)

const maxOutputLines = 50

// NewCommandRule builds a rule that runs command through sh. The rule's
// files are passed as positional arguments ("$@").
func NewCommandRule(id string, ruleType RuleType, command string, critical bool, timeout time.Duration, patterns ...string) Rule {
	return Rule{
		ID:       id,
		Name:     command,
		Type:     ruleType,
		Critical: critical,
		Enabled:  true,
		Timeout:  timeout,
		Patterns: patterns,
		Command:  command,
	}
}

// CommandValidator runs command in the working directory. A non-zero exit
// status fails the rule with the command's output as errors.
func CommandValidator(command string) Validator {
	return func(ctx context.Context, vc *VerificationContext) (*RuleResult, error) {
		env := make(map[string]string, len(vc.Env)+1)
		for k, v := range vc.Env {
			env[k] = v
		}
		if vc.EditID != "" {
			env["TASKFORGE_EDIT_ID"] = vc.EditID
		}

		out, err := exec.RunShell(ctx, exec.Step{
			Command: command,
			Args:    vc.Files,
			Workdir: vc.WorkingDir,
			Env:     env,
		})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeCommandFailed, fmt.Sprintf("could not run %q", command), err)
		}

		lines := outputLines(out.Stdout + "\n" + out.Stderr)
		if !out.Success() {
			res := Fail(fmt.Sprintf("%q exited with status %d", command, out.ExitCode), lines...)
			res.Duration = out.Duration
			res.Metadata = map[string]any{"exit_code": out.ExitCode}
			return res, nil
		}

		res := Pass(fmt.Sprintf("%q succeeded", command))
		res.Duration = out.Duration
		res.Metadata = map[string]any{"exit_code": 0, "output": strings.Join(lines, "\n")}
		return res, nil
	}
}

func outputLines(s string) []string {
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(s), "\n") {
		if l = strings.TrimRight(l, "\r"); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > maxOutputLines {
		lines = append(lines[:maxOutputLines], fmt.Sprintf("... %d more line(s)", len(lines)-maxOutputLines))
	}
	return lines
}
