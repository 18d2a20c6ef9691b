package files

import (
	"regexp"
	"strings"
)

var (
	goImportSingle = regexp.MustCompile(`(?m)^import[ \t]+(?:[\w.]+[ \t]+)?"([^"]+)"`)
	goImportBlock  = regexp.MustCompile(`(?ms)^import[ \t]*\((.*?)\)`)
	goImportLine   = regexp.MustCompile(`(?m)^[ \t]*(?:[\w.]+[ \t]+)?"([^"]+)"`)

	goFunction = regexp.MustCompile(`(?m)^func[ \t]+(?:\([^)]*\)[ \t]*)?([A-Za-z_]\w*)`)
	goType     = regexp.MustCompile(`(?m)^type[ \t]+([A-Za-z_]\w*)`)
	goStruct   = regexp.MustCompile(`(?m)^type[ \t]+([A-Za-z_]\w*)[ \t]+struct\b`)

	goExportFunc  = regexp.MustCompile(`(?m)^func[ \t]+([A-Z]\w*)`)
	goExportType  = regexp.MustCompile(`(?m)^type[ \t]+([A-Z]\w*)`)
	goExportValue = regexp.MustCompile(`(?m)^(?:var|const)[ \t]+([A-Z]\w*)`)
)

// GoAnalyzer handles Go. Imports inside Module resolve to the package
// directory; everything else is external.
type GoAnalyzer struct {
	Module string
}

// NewGoAnalyzer creates the Go analyzer for the given module path
func NewGoAnalyzer(module string) *GoAnalyzer {
	return &GoAnalyzer{Module: strings.TrimSuffix(module, "/")}
}

// Name implements Analyzer
func (a *GoAnalyzer) Name() string { return "go" }

// Languages implements Analyzer
func (a *GoAnalyzer) Languages() []Language {
	return []Language{LanguageGo}
}

// Extract implements Analyzer
func (a *GoAnalyzer) Extract(content string) Symbols {
	imports := allMatches(goImportSingle, content)
	for _, block := range allMatches(goImportBlock, content) {
		imports = append(imports, allMatches(goImportLine, block)...)
	}

	exports := allMatches(goExportFunc, content)
	exports = append(exports, allMatches(goExportType, content)...)
	exports = append(exports, allMatches(goExportValue, content)...)

	return Symbols{
		Imports:   uniqueOrdered(imports),
		Exports:   unique(exports),
		Functions: unique(allMatches(goFunction, content)),
		Classes:   unique(allMatches(goStruct, content)),
		Types:     unique(allMatches(goType, content)),
	}
}

// Candidates implements Analyzer
func (a *GoAnalyzer) Candidates(from, spec string) []string {
	switch {
	case isRelativeSpec(spec):
		return []string{joinRelative(from, spec) + "/"}
	case a.Module != "" && spec == a.Module:
		return []string{"./"}
	case a.Module != "" && strings.HasPrefix(spec, a.Module+"/"):
		return []string{strings.TrimPrefix(spec, a.Module+"/") + "/"}
	default:
		return nil
	}
}
