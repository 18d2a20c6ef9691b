package files

import (
	"path/filepath"
	"strings"
)

// Language is the detected source language of a file
type Language string

const (
	LanguageUnknown    Language = "unknown"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguagePython     Language = "python"
	LanguageGo         Language = "go"
	LanguageJava       Language = "java"
	LanguageRust       Language = "rust"
	LanguageC          Language = "c"
	LanguageCPP        Language = "cpp"
)

var extensionLanguages = map[string]Language{
	".js":   LanguageJavaScript,
	".jsx":  LanguageJavaScript,
	".mjs":  LanguageJavaScript,
	".cjs":  LanguageJavaScript,
	".ts":   LanguageTypeScript,
	".tsx":  LanguageTypeScript,
	".mts":  LanguageTypeScript,
	".py":   LanguagePython,
	".pyi":  LanguagePython,
	".go":   LanguageGo,
	".java": LanguageJava,
	".rs":   LanguageRust,
	".c":    LanguageC,
	".h":    LanguageC,
	".cc":   LanguageCPP,
	".cpp":  LanguageCPP,
	".hpp":  LanguageCPP,
}

// DetectLanguage maps a path to a language by extension
func DetectLanguage(path string) Language {
	if lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return LanguageUnknown
}

// HasStaticTypes reports whether symbols of this language carry types that
// other files resolve at build time.
func (l Language) HasStaticTypes() bool {
	switch l {
	case LanguageTypeScript, LanguageGo, LanguageJava, LanguageRust, LanguageC, LanguageCPP:
		return true
	default:
		return false
	}
}

// String returns the language name
func (l Language) String() string {
	return string(l)
}
