package verify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/taskforge/internal/files"
)

// Baseline rule ids
const (
	RuleSyntaxCheck = "syntax-check"
	RuleTypeCheck   = "type-check"
	RuleLint        = "lint"
)

const maxLineLength = 120

// BaselineRules returns the rules every engine starts with
func BaselineRules() []Rule {
	return []Rule{
		{
			ID:        RuleSyntaxCheck,
			Name:      "Syntax validation",
			Type:      RuleTypeSyntax,
			Critical:  true,
			Enabled:   true,
			Timeout:   30 * time.Second,
			Retries:   1,
			Validator: SyntaxValidator,
		},
		{
			ID:        RuleTypeCheck,
			Name:      "Type checking",
			Type:      RuleTypeType,
			Critical:  true,
			Enabled:   true,
			Timeout:   60 * time.Second,
			Retries:   1,
			Validator: TypeCheckValidator,
		},
		{
			ID:        RuleLint,
			Name:      "Linting",
			Type:      RuleTypeLint,
			Critical:  false,
			Enabled:   true,
			Timeout:   30 * time.Second,
			Validator: LintValidator,
		},
	}
}

// readFile resolves path against the working directory. Missing files are
// reported as (nil, false, nil).
func readFile(vc *VerificationContext, path string) ([]byte, bool, error) {
	full := path
	if !filepath.IsAbs(full) && vc.WorkingDir != "" {
		full = filepath.Join(vc.WorkingDir, path)
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// SyntaxValidator parses Go, JSON and YAML files and checks delimiter
// balance for other brace and indentation languages.
func SyntaxValidator(ctx context.Context, vc *VerificationContext) (*RuleResult, error) {
	var errs, warnings []string
	checked := 0
	for _, path := range vc.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, ok, err := readFile(vc, path)
		if err != nil {
			return nil, err
		}
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s: file not found, skipped", path))
			continue
		}
		checked++

		switch ext := strings.ToLower(filepath.Ext(path)); {
		case ext == ".go":
			if _, err := parser.ParseFile(token.NewFileSet(), path, data, parser.AllErrors); err != nil {
				errs = append(errs, err.Error())
			}
		case ext == ".json":
			if !json.Valid(data) {
				errs = append(errs, fmt.Sprintf("%s: invalid JSON", path))
			}
		case ext == ".yaml" || ext == ".yml":
			var v any
			if err := yaml.Unmarshal(data, &v); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", path, err))
			}
		default:
			lang := files.DetectLanguage(path)
			if lang == files.LanguageUnknown {
				continue
			}
			if err := checkDelimiters(data, lineComment(lang)); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", path, err))
			}
		}
	}

	res := &RuleResult{Passed: len(errs) == 0, Errors: errs, Warnings: warnings}
	if res.Passed {
		res.Message = fmt.Sprintf("%d file(s) parsed", checked)
	} else {
		res.Message = fmt.Sprintf("%d syntax error(s)", len(errs))
	}
	return res, nil
}

func lineComment(lang files.Language) string {
	if lang == files.LanguagePython {
		return "#"
	}
	return "//"
}

// checkDelimiters verifies (), [] and {} nest correctly outside string
// literals and line comments.
func checkDelimiters(src []byte, comment string) error {
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}
	var stack []byte
	var lines []int
	line := 1
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c == '\n' {
			line++
			if quote != '`' {
				quote = 0
			}
			continue
		}
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		if bytes.HasPrefix(src[i:], []byte(comment)) {
			for i < len(src) && src[i] != '\n' {
				i++
			}
			i--
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '(', '[', '{':
			stack = append(stack, c)
			lines = append(lines, line)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[c] {
				return fmt.Errorf("line %d: unexpected %q", line, c)
			}
			stack = stack[:len(stack)-1]
			lines = lines[:len(lines)-1]
		}
	}
	if len(stack) > 0 {
		return fmt.Errorf("line %d: unclosed %q", lines[len(lines)-1], stack[len(stack)-1])
	}
	return nil
}

// TypeCheckValidator is a placeholder that passes with a warning until a
// real checker is plugged in with Engine.SetValidator.
func TypeCheckValidator(_ context.Context, vc *VerificationContext) (*RuleResult, error) {
	res := Pass("no type checker configured")
	langs := map[files.Language]bool{}
	for _, f := range vc.Files {
		if lang := files.DetectLanguage(f); lang != files.LanguageUnknown && !langs[lang] {
			langs[lang] = true
			res.Warnings = append(res.Warnings, fmt.Sprintf("type checking not configured for %s", lang))
		}
	}
	return res, nil
}

// LintValidator flags trailing whitespace and mixed indentation; long lines
// are warnings only.
func LintValidator(ctx context.Context, vc *VerificationContext) (*RuleResult, error) {
	var errs, warnings []string
	for _, path := range vc.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, ok, err := readFile(vc, path)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		n := 0
		for scanner.Scan() {
			n++
			text := scanner.Text()
			if strings.TrimRight(text, " \t") != text {
				errs = append(errs, fmt.Sprintf("%s:%d: trailing whitespace", path, n))
			}
			indent := text[:len(text)-len(strings.TrimLeft(text, " \t"))]
			if strings.Contains(indent, " ") && strings.Contains(indent, "\t") {
				errs = append(errs, fmt.Sprintf("%s:%d: mixed tabs and spaces in indentation", path, n))
			}
			if len(text) > maxLineLength {
				warnings = append(warnings, fmt.Sprintf("%s:%d: line longer than %d characters", path, n, maxLineLength))
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	res := &RuleResult{Passed: len(errs) == 0, Errors: errs, Warnings: warnings}
	if res.Passed {
		res.Message = "no lint issues"
	} else {
		res.Message = fmt.Sprintf("%d lint issue(s)", len(errs))
	}
	return res, nil
}
