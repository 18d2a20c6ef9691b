package plan

import "github.com/felixgeelhaar/taskforge/internal/domain"

// ReadyTasks returns the pending tasks whose dependencies are all completed,
// in insertion order.
func ReadyTasks(p *Plan) []*TaskNode {
	var ready []*TaskNode
	for _, id := range p.Order {
		t := p.Tasks[id]
		if t.Status != TaskPending {
			continue
		}
		if dependenciesCompleted(p, t) {
			ready = append(ready, t)
		}
	}
	return ready
}

func dependenciesCompleted(p *Plan, t *TaskNode) bool {
	for _, dep := range t.Dependencies {
		if d, ok := p.Tasks[dep]; !ok || d.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// Dependents returns the ids of tasks that list id as a direct dependency
func Dependents(p *Plan, id string) []string {
	var out []string
	for _, tid := range p.Order {
		for _, dep := range p.Tasks[tid].Dependencies {
			if dep == id {
				out = append(out, tid)
				break
			}
		}
	}
	return out
}

// ExecutionOrder returns a topological ordering of the plan's tasks grouped
// into waves: every task in wave n depends only on tasks in earlier waves.
func ExecutionOrder(p *Plan) [][]string {
	remaining := make(map[string]int, len(p.Tasks))
	for _, id := range p.Order {
		remaining[id] = len(p.Tasks[id].Dependencies)
	}

	var waves [][]string
	done := make(map[string]bool, len(p.Tasks))
	for len(done) < len(p.Order) {
		var wave []string
		for _, id := range p.Order {
			if !done[id] && remaining[id] == 0 {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			// Only reachable for an invalid graph
			break
		}
		for _, id := range wave {
			done[id] = true
			for _, dependent := range Dependents(p, id) {
				remaining[dependent]--
			}
		}
		waves = append(waves, wave)
	}
	return waves
}

// ComputeStats summarizes the plan by status and type
func ComputeStats(p *Plan) Stats {
	s := Stats{
		ByStatus: make(map[TaskStatus]int),
		ByType:   make(map[domain.TaskType]int),
		Roots:    len(p.Roots),
	}
	hasDependents := make(map[string]bool)
	for _, t := range p.Tasks {
		s.ByStatus[t.Status]++
		s.ByType[t.Type]++
		for _, dep := range t.Dependencies {
			hasDependents[dep] = true
		}
	}
	for id := range p.Tasks {
		if !hasDependents[id] {
			s.Leaves++
		}
	}
	for _, d := range computeDepths(p.Tasks, p.Order) {
		if d > s.Depth {
			s.Depth = d
		}
	}
	return s
}
