package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Plan errors (PLAN-001 to PLAN-099)
	ErrCodePlanNotFound       ErrorCode = "PLAN-001"
	ErrCodePlanInvalid        ErrorCode = "PLAN-002"
	ErrCodePlanNotModifiable  ErrorCode = "PLAN-003"
	ErrCodePlanTaskMissing    ErrorCode = "PLAN-004"
	ErrCodePlanCyclicDep      ErrorCode = "PLAN-005"
	ErrCodePlanTooDeep        ErrorCode = "PLAN-006"
	ErrCodePlanTooLarge       ErrorCode = "PLAN-007"
	ErrCodePlanNotExecutable  ErrorCode = "PLAN-008"
	ErrCodePlanAdaptDisabled  ErrorCode = "PLAN-009"
	ErrCodePlanNoExecutor     ErrorCode = "PLAN-010"
	ErrCodePlanDuplicateTask  ErrorCode = "PLAN-011"
	ErrCodePlanTaskNotFound   ErrorCode = "PLAN-012"
	ErrCodePlanTaskNotPending ErrorCode = "PLAN-013"

	// Task execution errors (TASK-001 to TASK-099)
	ErrCodeTaskFailed        ErrorCode = "TASK-001"
	ErrCodeTaskTimeout       ErrorCode = "TASK-002"
	ErrCodeTaskCommandDenied ErrorCode = "TASK-003"

	// Verification errors (VERIFY-001 to VERIFY-099)
	ErrCodeRuleNotFound    ErrorCode = "VERIFY-001"
	ErrCodeRuleInvalid     ErrorCode = "VERIFY-002"
	ErrCodeRuleTimeout     ErrorCode = "VERIFY-003"
	ErrCodeRuleFailed      ErrorCode = "VERIFY-004"
	ErrCodeStrategyUnknown ErrorCode = "VERIFY-005"
	ErrCodeResultNotFound  ErrorCode = "VERIFY-006"
	ErrCodeCommandFailed   ErrorCode = "VERIFY-007"
	ErrCodeNoValidator     ErrorCode = "VERIFY-008"

	// File tracking errors (FILE-001 to FILE-099)
	ErrCodeFileNotTracked   ErrorCode = "FILE-001"
	ErrCodeFileReadFailed   ErrorCode = "FILE-002"
	ErrCodeFileWatchFailed  ErrorCode = "FILE-003"
	ErrCodeFileInconsistent ErrorCode = "FILE-004"

	// Configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigNotFound ErrorCode = "CONFIG-001"
	ErrCodeConfigInvalid  ErrorCode = "CONFIG-002"
)

// Error represents an error with a code, suggestions and an optional cause
type Error struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	Cause       error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same error code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// New creates a new Error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new Error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// Sentinel returns a code-only error usable as an errors.Is target.
func Sentinel(code ErrorCode) *Error {
	return &Error{Code: code}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, Sentinel(code))
}

// PlanValidationError is returned when a task graph fails validation.
// No plan state is retained when it is raised.
type PlanValidationError struct {
	Err    *Error
	TaskID string
	Path   []string
}

// Error implements the error interface
func (e *PlanValidationError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the coded error for errors.Is/As.
func (e *PlanValidationError) Unwrap() error {
	return e.Err
}

// NewMissingDependencyError reports a dependency id absent from the task set
func NewMissingDependencyError(taskID, depID string) *PlanValidationError {
	return &PlanValidationError{
		Err: New(ErrCodePlanTaskMissing, fmt.Sprintf("task %s depends on unknown task %s", taskID, depID)).
			WithSuggestion("Check the dependency ids in the task list"),
		TaskID: taskID,
	}
}

// NewCycleError reports a dependency cycle along path
func NewCycleError(path []string) *PlanValidationError {
	return &PlanValidationError{
		Err: New(ErrCodePlanCyclicDep, fmt.Sprintf("circular dependency detected: %s", strings.Join(path, " -> "))).
			WithSuggestion("Remove one of the dependencies forming the cycle"),
		Path: path,
	}
}

// NewDepthExceededError reports a dependency chain deeper than allowed
func NewDepthExceededError(taskID string, depth, maxDepth int) *PlanValidationError {
	return &PlanValidationError{
		Err: New(ErrCodePlanTooDeep, fmt.Sprintf("dependency depth %d at task %s exceeds maximum %d", depth, taskID, maxDepth)).
			WithSuggestion("Flatten the task graph or raise planner.max_depth"),
		TaskID: taskID,
	}
}

// NewTooManyTasksError reports a task set larger than the configured ceiling
func NewTooManyTasksError(count, max int) *PlanValidationError {
	return &PlanValidationError{
		Err: New(ErrCodePlanTooLarge, fmt.Sprintf("plan has %d tasks, maximum is %d", count, max)).
			WithSuggestion("Split the goal into several plans or raise planner.max_tasks"),
	}
}

// NewNoRootTaskError reports a non-empty task set without any root task
func NewNoRootTaskError() *PlanValidationError {
	return &PlanValidationError{
		Err: New(ErrCodePlanInvalid, "plan has no root task (every task has dependencies)"),
	}
}

// NewDuplicateTaskError reports two tasks sharing one id
func NewDuplicateTaskError(taskID string) *PlanValidationError {
	return &PlanValidationError{
		Err:    New(ErrCodePlanDuplicateTask, fmt.Sprintf("duplicate task id %q", taskID)),
		TaskID: taskID,
	}
}

// NewInvalidTaskError reports a task spec that fails field validation
func NewInvalidTaskError(taskID string, cause error) *PlanValidationError {
	return &PlanValidationError{
		Err:    Wrap(ErrCodePlanInvalid, fmt.Sprintf("task %s is invalid", taskID), cause),
		TaskID: taskID,
	}
}

// NewPlanNotFoundError creates a plan not found error
func NewPlanNotFoundError(planID string) *Error {
	return New(ErrCodePlanNotFound, fmt.Sprintf("plan not found: %s", planID))
}

// NewTaskNotFoundError creates a task not found error
func NewTaskNotFoundError(planID, taskID string) *Error {
	return New(ErrCodePlanTaskNotFound, fmt.Sprintf("task %s not found in plan %s", taskID, planID))
}

// NewRuleNotFoundError creates a verification rule not found error
func NewRuleNotFoundError(ruleID string) *Error {
	return New(ErrCodeRuleNotFound, fmt.Sprintf("verification rule not found: %s", ruleID))
}

// NewFileNotTrackedError creates an untracked file error
func NewFileNotTrackedError(path string) *Error {
	return New(ErrCodeFileNotTracked, fmt.Sprintf("File not tracked: %s", path)).
		WithSuggestion("Call AccessFile before checking consistency")
}

// NewConfigInvalidError creates a configuration validation error
func NewConfigInvalidError(details string) *Error {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", details)).
		WithSuggestion("Run 'taskforge config show' to inspect the effective configuration")
}
