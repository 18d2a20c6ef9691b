package plan

import (
	"fmt"

	"github.com/felixgeelhaar/taskforge/internal/domain"
	"github.com/felixgeelhaar/taskforge/internal/errors"
)

// validateSpec checks the fields of a single task spec
func validateSpec(id string, spec TaskSpec) error {
	if _, err := domain.NewTaskID(id); err != nil {
		return errors.NewInvalidTaskError(id, err)
	}
	if err := spec.Type.Validate(); err != nil {
		return errors.NewInvalidTaskError(id, err)
	}
	if spec.Complexity != 0 {
		if err := spec.Complexity.Validate(); err != nil {
			return errors.NewInvalidTaskError(id, err)
		}
	}
	if spec.MaxRetries != nil && *spec.MaxRetries < 0 {
		return errors.NewInvalidTaskError(id, fmt.Errorf("max retries must not be negative, got %d", *spec.MaxRetries))
	}
	for i, dep := range spec.Dependencies {
		if dep == id {
			return errors.NewCycleError([]string{id, id})
		}
		for _, other := range spec.Dependencies[:i] {
			if other == dep {
				return errors.NewInvalidTaskError(id, fmt.Errorf("dependency %q listed twice", dep))
			}
		}
	}
	return nil
}

// validateGraph checks referential integrity, acyclicity and depth of the
// task set. It returns the root task ids in insertion order.
func validateGraph(tasks map[string]*TaskNode, order []string, maxTasks, maxDepth int) ([]string, error) {
	if maxTasks > 0 && len(tasks) > maxTasks {
		return nil, errors.NewTooManyTasksError(len(tasks), maxTasks)
	}

	// Validate that all dependencies reference existing tasks
	for _, id := range order {
		for _, dep := range tasks[id].Dependencies {
			if _, ok := tasks[dep]; !ok {
				return nil, errors.NewMissingDependencyError(id, dep)
			}
		}
	}

	if err := checkCircularDependencies(tasks, order); err != nil {
		return nil, err
	}

	if maxDepth > 0 {
		depths := computeDepths(tasks, order)
		for _, id := range order {
			if depths[id] > maxDepth {
				return nil, errors.NewDepthExceededError(id, depths[id], maxDepth)
			}
		}
	}

	var roots []string
	for _, id := range order {
		if len(tasks[id].Dependencies) == 0 {
			roots = append(roots, id)
		}
	}
	if len(tasks) > 0 && len(roots) == 0 {
		return nil, errors.NewNoRootTaskError()
	}

	return roots, nil
}

// checkCircularDependencies detects cycles in the task dependency graph
func checkCircularDependencies(tasks map[string]*TaskNode, order []string) error {
	// Track visited and recursion stack
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(taskID string, path []string) error
	hasCycle = func(taskID string, path []string) error {
		visited[taskID] = true
		recStack[taskID] = true
		path = append(path, taskID)

		for _, dep := range tasks[taskID].Dependencies {
			if !visited[dep] {
				if err := hasCycle(dep, path); err != nil {
					return err
				}
			} else if recStack[dep] {
				// Report only the cycle itself, not the path leading into it
				start := 0
				for i, id := range path {
					if id == dep {
						start = i
						break
					}
				}
				cyclePath := append(append([]string(nil), path[start:]...), dep)
				return errors.NewCycleError(cyclePath)
			}
		}

		recStack[taskID] = false
		return nil
	}

	for _, id := range order {
		if !visited[id] {
			if err := hasCycle(id, nil); err != nil {
				return err
			}
		}
	}

	return nil
}

// computeDepths returns the length of the longest dependency chain ending at
// each task; roots have depth 1. The graph must already be acyclic.
func computeDepths(tasks map[string]*TaskNode, order []string) map[string]int {
	depths := make(map[string]int, len(tasks))

	var depthOf func(id string) int
	depthOf = func(id string) int {
		if d, ok := depths[id]; ok {
			return d
		}
		d := 1
		for _, dep := range tasks[id].Dependencies {
			if dd := depthOf(dep) + 1; dd > d {
				d = dd
			}
		}
		depths[id] = d
		return d
	}

	for _, id := range order {
		depthOf(id)
	}
	return depths
}
