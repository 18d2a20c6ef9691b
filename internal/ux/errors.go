package ux

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/felixgeelhaar/taskforge/internal/config"
	"github.com/felixgeelhaar/taskforge/internal/errors"
)

// ErrorWithSuggestion wraps an uncoded error with a recovery hint
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v\n\n💡 Suggestion: %s", e.Err, e.Suggestion)
}

func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// NewErrorWithSuggestion attaches suggestion to err. A nil err stays nil.
func NewErrorWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{Err: err, Suggestion: suggestion}
}

// hint matches an error message fragment to a suggestion
type hint struct {
	fragment   string
	suggestion string
}

var messageHints = []hint{
	{"unmarshal plan", "Each task needs a description and a type (research, design, implement, test, refactor, debug, deploy, verify, document)"},
	{"has no goal", "Add a top-level 'goal:' key to the plan file"},
	{"executable file not found", "A verification rule command is not on PATH; fix verification.rules in " + config.DefaultPath},
	{"too many open files", "Narrow watcher.patterns or raise the open file limit (ulimit -n)"},
}

// EnhanceError adds a suggestion to errors that carry none. Coded errors
// already print their own suggestions and are returned unchanged.
func EnhanceError(err error) error {
	if err == nil || errors.CodeOf(err) != "" {
		return err
	}
	msg := err.Error()

	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		return NewErrorWithSuggestion(err, notExistSuggestion(msg))
	case stderrors.Is(err, fs.ErrPermission):
		return NewErrorWithSuggestion(err, "Check that the current user can read and write the project files")
	}
	for _, h := range messageHints {
		if strings.Contains(msg, h.fragment) {
			return NewErrorWithSuggestion(err, h.suggestion)
		}
	}
	return err
}

func notExistSuggestion(msg string) string {
	switch {
	case strings.Contains(msg, config.DefaultPath):
		return "Write a starting configuration with 'taskforge config init'"
	case strings.Contains(msg, "plan file"):
		return "Pass a YAML or JSON file with a goal and a tasks list, e.g. 'taskforge plan run plan.yaml'"
	default:
		return "Check the path; file arguments are resolved against --root"
	}
}

// FormatError enhances err and prefixes it with context
func FormatError(err error, context string) error {
	if err == nil {
		return nil
	}
	enhanced := EnhanceError(err)
	if context == "" {
		return enhanced
	}
	return fmt.Errorf("%s: %w", context, enhanced)
}
