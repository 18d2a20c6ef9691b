package domain

import (
	"fmt"
	"regexp"
)

// TaskID identifies a task within a plan. Ids are case-sensitive and may
// use dots and underscores so that ids taken from external trackers
// (e.g. "JIRA-12.a") survive unchanged.
type TaskID string

// MaxTaskIDLength bounds ids so they stay readable in logs and metrics labels
const MaxTaskIDLength = 100

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// NewTaskID validates value and returns it as a TaskID
func NewTaskID(value string) (TaskID, error) {
	id := TaskID(value)
	return id, id.Validate()
}

// GeneratedTaskID is the id of the n-th (1-based) task of a plan whose
// author supplied none
func GeneratedTaskID(n int) TaskID {
	return TaskID(fmt.Sprintf("task-%03d", n))
}

func (t TaskID) Validate() error {
	switch s := string(t); {
	case s == "":
		return fmt.Errorf("task ID cannot be empty")
	case len(s) > MaxTaskIDLength:
		return fmt.Errorf("task ID %q is longer than %d characters", s, MaxTaskIDLength)
	case !taskIDPattern.MatchString(s):
		return fmt.Errorf("task ID %q must start with a letter or digit and contain only letters, digits, '.', '_' and '-'", s)
	}
	return nil
}

func (t TaskID) String() string {
	return string(t)
}
