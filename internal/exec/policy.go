package exec

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/taskforge/internal/errors"
)

// Policy restricts which commands tasks may run
type Policy struct {
	// Allow lists permitted programs. An empty list allows everything.
	Allow []string `yaml:"allow,omitempty"`
}

// EnforcePolicy validates a step against the policy
func EnforcePolicy(step Step, pol Policy) error {
	if len(pol.Allow) == 0 {
		return nil
	}

	program := programOf(step.Command)
	for _, pattern := range pol.Allow {
		if matchesPattern(program, pattern) {
			return nil
		}
	}
	return errors.New(errors.ErrCodeTaskCommandDenied,
		fmt.Sprintf("policy violation: %q is not in the executor allowlist", program)).
		WithSuggestion("Add the program to executor.allow")
}

// programOf returns the first word of a command line, skipping leading
// environment assignments
func programOf(command string) string {
	for _, field := range strings.Fields(command) {
		if strings.Contains(field, "=") && !strings.HasPrefix(field, "=") {
			continue
		}
		return field
	}
	return ""
}

// matchesPattern supports exact matches and a trailing wildcard
func matchesPattern(program, pattern string) bool {
	if program == pattern {
		return true
	}

	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(program, prefix)
	}

	return false
}
