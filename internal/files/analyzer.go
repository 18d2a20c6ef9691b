package files

import (
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Symbols are the constructs an analyzer found in a file
type Symbols struct {
	Imports   []string `json:"imports"`
	Exports   []string `json:"exports"`
	Functions []string `json:"functions"`
	Classes   []string `json:"classes"`
	Types     []string `json:"types"`
}

// Analyzer extracts symbols from source text and maps import specifiers to
// candidate file paths. Extraction is heuristic and must never fail: an
// unrecognized construct simply yields nothing.
type Analyzer interface {
	// Name identifies the analyzer
	Name() string

	// Languages lists the languages handled
	Languages() []Language

	// Extract finds imports, exports, functions, classes and types
	Extract(content string) Symbols

	// Candidates returns normalized paths an import may refer to, in
	// preference order. External imports yield nil. A candidate ending in
	// "/" stands for every tracked file directly inside that directory.
	Candidates(from, spec string) []string
}

// Registry selects an analyzer by language
type Registry struct {
	mu        sync.RWMutex
	analyzers map[Language]Analyzer
}

// NewRegistry creates an empty analyzer registry
func NewRegistry() *Registry {
	return &Registry{analyzers: make(map[Language]Analyzer)}
}

// DefaultRegistry returns a registry with the built-in analyzers.
// goModule is the module path used to resolve Go imports; it may be empty.
func DefaultRegistry(goModule string) *Registry {
	r := NewRegistry()
	r.Register(NewScriptAnalyzer())
	r.Register(NewPythonAnalyzer())
	r.Register(NewGoAnalyzer(goModule))
	return r
}

// Register adds an analyzer for each of its languages, replacing any
// earlier analyzer for the same language.
func (r *Registry) Register(a Analyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lang := range a.Languages() {
		r.analyzers[lang] = a
	}
}

// For returns the analyzer for a language
func (r *Registry) For(lang Language) (Analyzer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[lang]
	return a, ok
}

// Languages lists the languages with a registered analyzer
func (r *Registry) Languages() []Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Language, 0, len(r.analyzers))
	for lang := range r.analyzers {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// allMatches returns group 1 of every match of re in content
func allMatches(re *regexp.Regexp, content string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(content, -1) {
		if len(m) > 1 && m[1] != "" {
			out = append(out, m[1])
		}
	}
	return out
}

// unique returns the sorted distinct values of in
func unique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// uniqueOrdered removes duplicates but keeps first-seen order
func uniqueOrdered(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// joinRelative resolves spec against the directory of from
func joinRelative(from, spec string) string {
	return path.Clean(path.Join(path.Dir(from), spec))
}
