package files

import (
	"path"
	"regexp"
	"strings"
)

var (
	pyFromImport     = regexp.MustCompile(`(?m)^[ \t]*from[ \t]+(\.*[\w.]*[\w]|\.+)[ \t]+import\b`)
	pyFromDotsImport = regexp.MustCompile(`(?m)^[ \t]*from[ \t]+(\.+)[ \t]+import[ \t]+\(?([\w, \t]+)`)
	pyImport         = regexp.MustCompile(`(?m)^[ \t]*import[ \t]+([\w., \t]+)`)
	pyAll            = regexp.MustCompile(`(?s)__all__\s*=\s*[\[(](.*?)[\])]`)
	pyQuoted         = regexp.MustCompile(`['"]([^'"]+)['"]`)

	pyFunction    = regexp.MustCompile(`(?m)^[ \t]*(?:async[ \t]+)?def[ \t]+([A-Za-z_]\w*)`)
	pyClass       = regexp.MustCompile(`(?m)^[ \t]*class[ \t]+([A-Za-z_]\w*)`)
	pyTopFunction = regexp.MustCompile(`(?m)^(?:async[ \t]+)?def[ \t]+([A-Za-z]\w*)`)
	pyTopClass    = regexp.MustCompile(`(?m)^class[ \t]+([A-Za-z]\w*)`)
	pyTypeAlias   = regexp.MustCompile(`(?m)^([A-Za-z_]\w*)[ \t]*(?::[ \t]*TypeAlias[ \t]*)?=[ \t]*(?:TypeVar|NewType)\(`)
	pyTypeStmt    = regexp.MustCompile(`(?m)^type[ \t]+([A-Za-z_]\w*)[ \t]*=`)
)

// PythonAnalyzer handles Python, the indentation-based family
type PythonAnalyzer struct{}

// NewPythonAnalyzer creates the Python analyzer
func NewPythonAnalyzer() *PythonAnalyzer {
	return &PythonAnalyzer{}
}

// Name implements Analyzer
func (a *PythonAnalyzer) Name() string { return "python" }

// Languages implements Analyzer
func (a *PythonAnalyzer) Languages() []Language {
	return []Language{LanguagePython}
}

// Extract implements Analyzer
func (a *PythonAnalyzer) Extract(content string) Symbols {
	var imports []string

	// "from . import a, b" names sibling modules, so record ".a" and ".b"
	for _, m := range pyFromDotsImport.FindAllStringSubmatch(content, -1) {
		for _, name := range strings.Split(m[2], ",") {
			if name = firstField(name); name != "" {
				imports = append(imports, m[1]+name)
			}
		}
	}
	for _, mod := range allMatches(pyFromImport, content) {
		if strings.Trim(mod, ".") != "" {
			imports = append(imports, mod)
		}
	}
	for _, list := range allMatches(pyImport, content) {
		for _, item := range strings.Split(list, ",") {
			if name := firstField(item); name != "" {
				imports = append(imports, name)
			}
		}
	}

	var exports []string
	if m := pyAll.FindStringSubmatch(content); m != nil {
		exports = allMatches(pyQuoted, m[1])
	} else {
		exports = append(allMatches(pyTopFunction, content), allMatches(pyTopClass, content)...)
	}

	types := append(allMatches(pyTypeAlias, content), allMatches(pyTypeStmt, content)...)

	return Symbols{
		Imports:   uniqueOrdered(imports),
		Exports:   unique(exports),
		Functions: unique(allMatches(pyFunction, content)),
		Classes:   unique(allMatches(pyClass, content)),
		Types:     unique(types),
	}
}

// firstField returns the module name of "name as alias"
func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Candidates implements Analyzer. Only relative (dotted) imports resolve.
func (a *PythonAnalyzer) Candidates(from, spec string) []string {
	dots := len(spec) - len(strings.TrimLeft(spec, "."))
	if dots == 0 {
		return nil
	}

	dir := path.Dir(from)
	for i := 1; i < dots; i++ {
		dir = path.Dir(dir)
	}
	rest := strings.ReplaceAll(spec[dots:], ".", "/")
	if rest == "" {
		return []string{path.Join(dir, "__init__.py")}
	}
	base := path.Join(dir, rest)
	return []string{base + ".py", base + "/__init__.py"}
}
