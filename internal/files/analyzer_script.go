package files

import (
	"path"
	"regexp"
	"strings"
)

var (
	jsImportFrom    = regexp.MustCompile(`(?m)^\s*import\s+(?:type\s+)?[\w*${}\s,]+?\s+from\s+['"]([^'"]+)['"]`)
	jsImportBare    = regexp.MustCompile(`(?m)^\s*import\s+['"]([^'"]+)['"]`)
	jsImportDynamic = regexp.MustCompile(`\bimport\(\s*['"]([^'"]+)['"]\s*\)`)
	jsRequire       = regexp.MustCompile(`\brequire\(\s*['"]([^'"]+)['"]\s*\)`)
	jsExportFrom    = regexp.MustCompile(`(?m)^\s*export\s+(?:type\s+)?(?:\*(?:\s+as\s+\w+)?|\{[^}]*\})\s+from\s+['"]([^'"]+)['"]`)

	jsExportDecl    = regexp.MustCompile(`(?m)^\s*export\s+(?:default\s+)?(?:declare\s+)?(?:abstract\s+)?(?:async\s+)?(?:function\*?|class|const|let|var|interface|type|enum)\s+([A-Za-z_$][\w$]*)`)
	jsExportDefault = regexp.MustCompile(`(?m)^\s*export\s+default\b`)
	jsExportList    = regexp.MustCompile(`(?m)^\s*export\s+(?:type\s+)?\{([^}]*)\}`)
	jsCommonExport  = regexp.MustCompile(`(?m)^\s*(?:module\.)?exports\.([A-Za-z_$][\w$]*)\s*=`)
	jsModuleExports = regexp.MustCompile(`(?m)^\s*module\.exports\s*=`)

	jsFunction = regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\*?\s+([A-Za-z_$][\w$]*)`)
	jsArrow    = regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*(?::[^=\n]+)?=\s*(?:async\s+)?(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*(?::[^=\n]+)?=>`)
	jsClass    = regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][\w$]*)`)
	jsType     = regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:declare\s+)?(?:interface|type|enum)\s+([A-Za-z_$][\w$]*)`)
)

var scriptExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}

// ScriptAnalyzer handles JavaScript and TypeScript
type ScriptAnalyzer struct{}

// NewScriptAnalyzer creates the JavaScript/TypeScript analyzer
func NewScriptAnalyzer() *ScriptAnalyzer {
	return &ScriptAnalyzer{}
}

// Name implements Analyzer
func (a *ScriptAnalyzer) Name() string { return "script" }

// Languages implements Analyzer
func (a *ScriptAnalyzer) Languages() []Language {
	return []Language{LanguageJavaScript, LanguageTypeScript}
}

// Extract implements Analyzer
func (a *ScriptAnalyzer) Extract(content string) Symbols {
	var imports []string
	for _, re := range []*regexp.Regexp{jsImportFrom, jsImportBare, jsImportDynamic, jsRequire, jsExportFrom} {
		imports = append(imports, allMatches(re, content)...)
	}

	exports := allMatches(jsExportDecl, content)
	exports = append(exports, allMatches(jsCommonExport, content)...)
	if jsExportDefault.MatchString(content) || jsModuleExports.MatchString(content) {
		exports = append(exports, "default")
	}
	for _, list := range allMatches(jsExportList, content) {
		for _, item := range strings.Split(list, ",") {
			// "a as b" exports b
			if fields := strings.Fields(item); len(fields) > 0 {
				exports = append(exports, fields[len(fields)-1])
			}
		}
	}

	functions := allMatches(jsFunction, content)
	functions = append(functions, allMatches(jsArrow, content)...)

	return Symbols{
		Imports:   uniqueOrdered(imports),
		Exports:   unique(exports),
		Functions: unique(functions),
		Classes:   unique(allMatches(jsClass, content)),
		Types:     unique(allMatches(jsType, content)),
	}
}

// Candidates implements Analyzer. Only relative specifiers resolve; bare
// package names are external.
func (a *ScriptAnalyzer) Candidates(from, spec string) []string {
	if !isRelativeSpec(spec) {
		return nil
	}
	base := joinRelative(from, spec)

	ext := path.Ext(base)
	for _, known := range scriptExtensions {
		if ext == known {
			// ESM TypeScript imports name the emitted .js file
			stem := strings.TrimSuffix(base, ext)
			return []string{base, stem + ".ts", stem + ".tsx"}
		}
	}

	out := []string{base}
	for _, e := range scriptExtensions {
		out = append(out, base+e)
	}
	for _, e := range scriptExtensions {
		out = append(out, base+"/index"+e)
	}
	return out
}

func isRelativeSpec(spec string) bool {
	return spec == "." || spec == ".." || strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")
}
