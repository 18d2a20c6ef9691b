package verify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/files"
)

func writeFiles(t *testing.T, contents map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range contents {
		full := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
	}
	return dir
}

func TestGlobToRegexp(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.ts", "src/a.ts", true},
		{"src/*.ts", "src/x/b.ts", true},
		{"*.ts", "src/a.tsx", false},
		{"a?.go", "ab.go", true},
		{"a?.go", "abc.go", false},
		{"a.go", "axgo", false},
		{"main.go", "cmd/main.go", false},
	}
	for _, tt := range tests {
		re, err := globToRegexp(tt.pattern)
		require.NoError(t, err)
		assert.Equal(t, tt.want, re.MatchString(tt.path), "%s ~ %s", tt.pattern, tt.path)
	}
}

func TestCacheKey_IgnoresFileOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		fs := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,6}\.ts`), 0, 6).Draw(t, "files")
		perm := rapid.Permutation(fs).Draw(t, "perm")
		id := rapid.StringMatching(`[a-z-]{1,10}`).Draw(t, "rule")

		if CacheKey(id, fs, "e1") != CacheKey(id, perm, "e1") {
			t.Fatalf("key depends on file order: %v vs %v", fs, perm)
		}
		if CacheKey(id, fs, "e1") == CacheKey(id, fs, "e2") {
			t.Fatalf("key ignores edit id")
		}
		if CacheKey(id, fs, "e1") == CacheKey(id+"x", fs, "e1") {
			t.Fatalf("key ignores rule id")
		}
	})
}

func TestCache_TTL(t *testing.T) {
	c := NewCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put("k", Pass("ok"))
	got, ok := c.Get("k")
	require.True(t, ok)
	got.Message = "mutated"

	again, _ := c.Get("k")
	assert.Equal(t, "ok", again.Message)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestSyntaxValidator(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"good.go":   "package main\n\nfunc main() {}\n",
		"bad.go":    "package main\n\nfunc main() {\n",
		"good.json": `{"a": [1, 2]}`,
		"bad.json":  `{"a": }`,
		"good.yaml": "a: 1\nb: [x, y]\n",
		"bad.ts":    "function f( {\n  return 1;\n}\n",
		"good.py":   "def f(x):\n    return {'a': (x, [1])}  # )\n",
		"notes.txt": "((((",
	})
	vc := func(names ...string) *VerificationContext {
		return &VerificationContext{Files: names, WorkingDir: dir}
	}
	ctx := context.Background()

	res, err := SyntaxValidator(ctx, vc("good.go", "good.json", "good.yaml", "good.py", "notes.txt", "missing.go"))
	require.NoError(t, err)
	assert.True(t, res.Passed, res.Errors)
	assert.Equal(t, []string{"missing.go: file not found, skipped"}, res.Warnings)

	for _, bad := range []string{"bad.go", "bad.json", "bad.ts"} {
		res, err := SyntaxValidator(ctx, vc(bad))
		require.NoError(t, err)
		assert.False(t, res.Passed, bad)
		assert.Len(t, res.Errors, 1, bad)
	}
}

func TestCheckDelimiters(t *testing.T) {
	assert.NoError(t, checkDelimiters([]byte("const s = \"(\"; // }\nf([1]);\n"), "//"))
	assert.ErrorContains(t, checkDelimiters([]byte("f(]\n"), "//"), "line 1")
	assert.ErrorContains(t, checkDelimiters([]byte("{\n\n"), "//"), "unclosed")
}

func TestLintValidator(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"clean.ts": "export const a = 1;\n",
		"dirty.ts": "const a = 1;  \n\t  const b = 2;\n// " + strings.Repeat("x", 130) + "\n",
	})

	res, err := LintValidator(context.Background(), &VerificationContext{Files: []string{"clean.ts"}, WorkingDir: dir})
	require.NoError(t, err)
	assert.True(t, res.Passed)

	res, err = LintValidator(context.Background(), &VerificationContext{Files: []string{"dirty.ts"}, WorkingDir: dir})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{
		"dirty.ts:1: trailing whitespace",
		"dirty.ts:2: mixed tabs and spaces in indentation",
	}, res.Errors)
	assert.Len(t, res.Warnings, 1)
}

func TestTypeCheckValidator(t *testing.T) {
	res, err := TypeCheckValidator(context.Background(), &VerificationContext{Files: []string{"a.ts", "b.ts", "c.go", "d.md"}})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Len(t, res.Warnings, 2)
}

func TestCommandRule(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(StrategySequential)
	cfg.WorkingDir = dir
	cfg.Env = map[string]string{"GREETING": "hello"}

	e, _ := newTestEngine(t, cfg,
		NewCommandRule("echo", RuleTypeTest, `test "$GREETING" = hello && test "$TASKFORGE_EDIT_ID" = e1 && test "$1" = a.ts`, true, 5*time.Second),
		NewCommandRule("exit", RuleTypeLint, `echo "bad thing"; exit 3`, false, 5*time.Second),
	)

	res, err := e.Verify(context.Background(), []string{"a.ts"}, "e1")
	require.NoError(t, err)

	assert.True(t, res.Passed)
	assert.Equal(t, []string{"echo"}, res.PassedRules)
	failed := res.RuleResults["exit"]
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, []string{"bad thing"}, failed.Errors)
	assert.Equal(t, 3, failed.Metadata["exit_code"])
}

func TestOutputLinesTruncates(t *testing.T) {
	lines := outputLines(strings.Repeat("line\n", maxOutputLines+5))
	assert.Len(t, lines, maxOutputLines+1)
	assert.Equal(t, "... 5 more line(s)", lines[maxOutputLines])
}

type fakeSource map[string]*files.ConsistencyReport

func (f fakeSource) CheckConsistency(path string) (*files.ConsistencyReport, error) {
	r, ok := f[path]
	if !ok {
		return nil, errors.NewFileNotTrackedError(path)
	}
	return r, nil
}

func TestConsistencyRule(t *testing.T) {
	src := fakeSource{
		"a.ts": {Path: "a.ts", Passed: false, Warnings: []string{"Import not found: ./b"}, Errors: []string{"1 unresolved import(s)"}},
		"c.ts": {Path: "c.ts", Passed: true, Warnings: []string{"Dependency exports nothing: d.ts"}},
	}
	e, _ := newTestEngine(t, testConfig(StrategySequential), NewConsistencyRule(src, true))

	res, err := e.Verify(context.Background(), []string{"a.ts", "c.ts", "new.ts"}, "")
	require.NoError(t, err)

	assert.False(t, res.Passed)
	rr := res.RuleResults[RuleConsistency]
	assert.Equal(t, []string{"a.ts: Import not found: ./b"}, rr.Errors)
	assert.Equal(t, []string{"c.ts: Dependency exports nothing: d.ts", "new.ts: not tracked, skipped"}, rr.Warnings)
	assert.Equal(t, "1 of 2 file(s) inconsistent", rr.Message)
}

func TestConsistencyRule_WithTracker(t *testing.T) {
	tracker := files.NewTracker(files.Config{Root: t.TempDir()}, files.Deps{})
	_, err := tracker.AccessFile("a.ts", []byte("import { b } from './b';\n"))
	require.NoError(t, err)

	e, _ := newTestEngine(t, testConfig(StrategySequential), NewConsistencyRule(tracker, true))
	res, err := e.Verify(context.Background(), []string{"a.ts"}, "1")
	require.NoError(t, err)
	assert.False(t, res.Passed)

	_, err = tracker.AccessFile("b.ts", []byte("export const b = 1;\n"))
	require.NoError(t, err)
	res, err = e.Verify(context.Background(), []string{"a.ts"}, "2")
	require.NoError(t, err)
	assert.True(t, res.Passed)
}
