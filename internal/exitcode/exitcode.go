package exitcode

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/felixgeelhaar/taskforge/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// PlanFailed indicates a plan ran but some tasks failed or were blocked
	PlanFailed = 3

	// VerificationFailed indicates a critical verification rule failed
	VerificationFailed = 4

	// ConsistencyFailed indicates tracked files have unresolved imports or cycles
	ConsistencyFailed = 5

	// ValidationError indicates an invalid task graph or configuration
	ValidationError = 6

	// Interrupted indicates the run was cancelled by a signal
	Interrupted = 130
)

// DetermineExitCode maps an error to an exit code. Coded errors are matched
// by code family; plain errors fall back to cobra's usage messages.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}
	if stderrors.Is(err, context.Canceled) {
		return Interrupted
	}

	code := string(errors.CodeOf(err))
	switch {
	case code == string(errors.ErrCodeFileInconsistent):
		return ConsistencyFailed
	case code == string(errors.ErrCodeTaskFailed):
		return PlanFailed
	case code == string(errors.ErrCodeRuleFailed):
		return VerificationFailed
	case strings.HasPrefix(code, "CONFIG-"):
		return ValidationError
	case isValidationCode(errors.ErrorCode(code)):
		return ValidationError
	case code != "":
		return GeneralError
	}

	errMsg := strings.ToLower(err.Error())

	// Usage errors
	if strings.Contains(errMsg, "invalid flag") || strings.Contains(errMsg, "unknown command") {
		return UsageError
	}
	if strings.Contains(errMsg, "unknown flag") || strings.Contains(errMsg, "unknown shorthand flag") {
		return UsageError
	}
	if strings.Contains(errMsg, "required flag") || strings.Contains(errMsg, "missing argument") {
		return UsageError
	}
	if strings.Contains(errMsg, "accepts") && strings.Contains(errMsg, "arg(s)") {
		return UsageError
	}

	// Default to general error
	return GeneralError
}

func isValidationCode(code errors.ErrorCode) bool {
	switch code {
	case errors.ErrCodePlanInvalid,
		errors.ErrCodePlanTaskMissing,
		errors.ErrCodePlanCyclicDep,
		errors.ErrCodePlanTooDeep,
		errors.ErrCodePlanTooLarge,
		errors.ErrCodePlanDuplicateTask,
		errors.ErrCodeStrategyUnknown,
		errors.ErrCodeRuleInvalid:
		return true
	default:
		return false
	}
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case PlanFailed:
		return "Plan finished with failed or blocked tasks"
	case VerificationFailed:
		return "Verification failed"
	case ConsistencyFailed:
		return "File consistency check failed"
	case ValidationError:
		return "Invalid plan or configuration"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
