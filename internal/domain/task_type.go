package domain

import (
	"fmt"
	"strings"
)

// TaskType classifies what a task does.
// This is a value object that enforces valid type values.
type TaskType string

// Valid task types
const (
	TaskTypeResearch  TaskType = "research"
	TaskTypeDesign    TaskType = "design"
	TaskTypeImplement TaskType = "implement"
	TaskTypeTest      TaskType = "test"
	TaskTypeRefactor  TaskType = "refactor"
	TaskTypeDebug     TaskType = "debug"
	TaskTypeDeploy    TaskType = "deploy"
	TaskTypeVerify    TaskType = "verify"
	TaskTypeDocument  TaskType = "document"
)

// AllTaskTypes lists every valid task type in declaration order.
var AllTaskTypes = []TaskType{
	TaskTypeResearch, TaskTypeDesign, TaskTypeImplement, TaskTypeTest, TaskTypeRefactor,
	TaskTypeDebug, TaskTypeDeploy, TaskTypeVerify, TaskTypeDocument,
}

// NewTaskType creates a new TaskType value object with validation
func NewTaskType(value string) (TaskType, error) {
	t := TaskType(value)
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

// Validate checks if the task type is valid
func (t TaskType) Validate() error {
	for _, valid := range AllTaskTypes {
		if t == valid {
			return nil
		}
	}
	names := make([]string, len(AllTaskTypes))
	for i, v := range AllTaskTypes {
		names[i] = string(v)
	}
	return fmt.Errorf("invalid task type %q: must be one of %s", string(t), strings.Join(names, ", "))
}

// String returns the string representation
func (t TaskType) String() string {
	return string(t)
}

// IsEdit reports whether tasks of this type change source files and should be
// followed by verification.
func (t TaskType) IsEdit() bool {
	switch t {
	case TaskTypeImplement, TaskTypeRefactor, TaskTypeDebug:
		return true
	default:
		return false
	}
}
