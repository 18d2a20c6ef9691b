package files

import (
	"fmt"
	"sort"
	"strings"

	"github.com/felixgeelhaar/taskforge/internal/errors"
)

// CheckConsistency inspects a tracked file's imports, exports and cycle
// membership. An untracked path is caller misuse and returns FILE-001.
func (t *Tracker) CheckConsistency(p string) (*ConsistencyReport, error) {
	norm := t.Normalize(p)

	t.mu.RLock()
	meta, ok := t.files[norm]
	if !ok {
		t.mu.RUnlock()
		return nil, errors.NewFileNotTrackedError(norm)
	}
	report := t.checkLocked(meta)
	t.mu.RUnlock()

	t.metrics.RecordConsistencyIssues(len(report.Warnings), len(report.Errors))
	return report, nil
}

// checkLocked must be called with t.mu held
func (t *Tracker) checkLocked(meta *FileMetadata) *ConsistencyReport {
	report := &ConsistencyReport{Path: meta.Path}

	var unresolved []string
	for _, spec := range meta.Imports {
		targets, local := t.resolve(meta, spec)
		if local && len(targets) == 0 {
			unresolved = append(unresolved, spec)
			report.Warnings = append(report.Warnings, "Import not found: "+spec)
		}
	}
	if len(unresolved) > 0 {
		report.Errors = append(report.Errors, fmt.Sprintf("%d unresolved import(s)", len(unresolved)))
		report.Suggestions = append(report.Suggestions,
			"Track the imported files or fix the import paths: "+strings.Join(unresolved, ", "))
	}

	if len(meta.Exports) > 0 && len(meta.Dependents) == 0 {
		report.Suggestions = append(report.Suggestions,
			"No tracked file imports this file; review whether its exports are still needed")
	}

	if cycle := t.findCycle(meta.Path); cycle != nil {
		msg := "Circular dependency detected: " + strings.Join(cycle, " -> ")
		report.Warnings = append(report.Warnings, msg)
		report.Errors = append(report.Errors, msg)
		report.Suggestions = append(report.Suggestions,
			"Break the cycle by moving shared code into a separate file")
	}

	if meta.Language.HasStaticTypes() {
		for _, dep := range meta.Dependencies {
			if d, ok := t.files[dep]; ok && len(d.Exports) == 0 {
				report.Warnings = append(report.Warnings, "Dependency exports nothing: "+dep)
			}
		}
	}

	report.Passed = len(report.Errors) == 0
	return report
}

// findCycle returns a dependency path that leaves origin and returns to it,
// or nil. The visited set is shared across the whole traversal so each file
// is expanded once.
func (t *Tracker) findCycle(origin string) []string {
	visited := make(map[string]bool)
	var stack []string

	var visit func(p string) []string
	visit = func(p string) []string {
		visited[p] = true
		stack = append(stack, p)
		if m, ok := t.files[p]; ok {
			for _, dep := range m.Dependencies {
				if dep == origin {
					cycle := append([]string(nil), stack...)
					return append(cycle, origin)
				}
				if visited[dep] {
					continue
				}
				if found := visit(dep); found != nil {
					return found
				}
			}
		}
		stack = stack[:len(stack)-1]
		return nil
	}
	return visit(origin)
}

// GetRelatedFiles walks dependency and dependent edges breadth-first up to
// maxDepth (0 uses the configured default). The origin is excluded and
// results are ordered by distance, then path.
func (t *Tracker) GetRelatedFiles(p string, maxDepth int) ([]string, error) {
	norm := t.Normalize(p)
	if maxDepth <= 0 {
		maxDepth = t.config.MaxRelatedDepth
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.files[norm]; !ok {
		return nil, errors.NewFileNotTrackedError(norm)
	}

	seen := map[string]bool{norm: true}
	frontier := []string{norm}
	var related []string
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, cur := range frontier {
			m, ok := t.files[cur]
			if !ok {
				continue
			}
			for _, list := range [][]string{m.Dependencies, m.Dependents} {
				for _, n := range list {
					if seen[n] {
						continue
					}
					seen[n] = true
					next = append(next, n)
				}
			}
		}
		sort.Strings(next)
		related = append(related, next...)
		frontier = next
	}
	return related, nil
}
