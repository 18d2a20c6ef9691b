package session

import (
	"github.com/felixgeelhaar/taskforge/internal/exec"
	"github.com/felixgeelhaar/taskforge/internal/verify"
)

// EditOutput is what an executor returns from an edit-type task to have
// its files tracked and verified. Executors may also return a
// verify.EditResult, an *exec.Result, a []string of paths or a map with the same keys as the
// yaml tags below.
type EditOutput struct {
	Files   []string `json:"files" yaml:"files"`
	Success bool     `json:"success" yaml:"success"`

	// Contents holds the new content per path; missing paths are read
	// from disk
	Contents map[string]string `json:"contents,omitempty" yaml:"contents,omitempty"`

	LinesChanged map[string]int `json:"lines_changed,omitempty" yaml:"lines_changed,omitempty"`
}

// ParseEditOutput extracts the edit output from a task result. Results
// that name no files yield an EditOutput with Success set and no files.
func ParseEditOutput(result any) EditOutput {
	switch r := result.(type) {
	case EditOutput:
		return r
	case *EditOutput:
		if r != nil {
			return *r
		}
	case verify.EditResult:
		return EditOutput{Files: r.Files, Success: r.Success}
	case *verify.EditResult:
		if r != nil {
			return EditOutput{Files: r.Files, Success: r.Success}
		}
	case *exec.Result:
		if r != nil {
			// A dry run edited nothing
			return EditOutput{Files: r.Files, Success: r.Success() && !r.DryRun}
		}
	case []string:
		return EditOutput{Files: r, Success: true}
	case map[string]any:
		return fromMap(r)
	}
	return EditOutput{Success: true}
}

func fromMap(m map[string]any) EditOutput {
	out := EditOutput{
		Files:   stringList(m["files"]),
		Success: true,
	}
	if ok, isBool := m["success"].(bool); isBool {
		out.Success = ok
	}
	switch c := m["contents"].(type) {
	case map[string]string:
		out.Contents = c
	case map[string]any:
		out.Contents = make(map[string]string, len(c))
		for k, v := range c {
			if s, ok := v.(string); ok {
				out.Contents[k] = s
			}
		}
	}
	switch l := m["lines_changed"].(type) {
	case map[string]int:
		out.LinesChanged = l
	case map[string]any:
		out.LinesChanged = make(map[string]int, len(l))
		for k, v := range l {
			switch n := v.(type) {
			case int:
				out.LinesChanged[k] = n
			case float64:
				out.LinesChanged[k] = int(n)
			}
		}
	}
	return out
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case string:
		if l != "" {
			return []string{l}
		}
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
