package ux

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tferrors "github.com/felixgeelhaar/taskforge/internal/errors"
)

func TestNewErrorWithSuggestion(t *testing.T) {
	if NewErrorWithSuggestion(nil, "ignored") != nil {
		t.Error("nil error should stay nil")
	}

	base := errors.New("something failed")
	err := NewErrorWithSuggestion(base, "try this fix")
	if !strings.HasPrefix(err.Error(), "something failed") || !strings.Contains(err.Error(), "Suggestion: try this fix") {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should unwrap to the original")
	}
	if got := NewErrorWithSuggestion(base, "").Error(); got != "something failed" {
		t.Errorf("empty suggestion Error() = %q", got)
	}
}

func TestEnhanceError(t *testing.T) {
	_, missingPlan := os.ReadFile(filepath.Join(t.TempDir(), "plan.yaml"))

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "missing plan file",
			err:  fmt.Errorf("read plan file: %w", missingPlan),
			want: "taskforge plan run plan.yaml",
		},
		{
			name: "missing config",
			err:  fmt.Errorf("open .taskforge.yaml: %w", fs.ErrNotExist),
			want: "taskforge config init",
		},
		{
			name: "other missing path",
			err:  fmt.Errorf("open src/a.ts: %w", fs.ErrNotExist),
			want: "resolved against --root",
		},
		{
			name: "permission",
			err:  fmt.Errorf("open out: %w", fs.ErrPermission),
			want: "can read and write",
		},
		{
			name: "bad plan yaml",
			err:  errors.New("unmarshal plan: yaml: line 3: mapping values are not allowed"),
			want: "Each task needs a description and a type",
		},
		{
			name: "plan without goal",
			err:  errors.New("plan file p.yaml has no goal"),
			want: "goal:",
		},
		{
			name: "rule command missing",
			err:  errors.New(`exec: "eslint": executable file not found in $PATH`),
			want: "verification.rules",
		},
		{
			name: "watch limit",
			err:  errors.New("too many open files"),
			want: "ulimit -n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnhanceError(tt.err)
			var ews *ErrorWithSuggestion
			if !errors.As(got, &ews) {
				t.Fatalf("EnhanceError() = %v, want a suggestion", got)
			}
			if !strings.Contains(ews.Suggestion, tt.want) {
				t.Errorf("suggestion = %q, want it to mention %q", ews.Suggestion, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("enhanced error lost its cause")
			}
		})
	}
}

func TestEnhanceError_Unchanged(t *testing.T) {
	if EnhanceError(nil) != nil {
		t.Error("nil should stay nil")
	}

	plain := errors.New("nothing to suggest")
	if got := EnhanceError(plain); got != plain {
		t.Errorf("EnhanceError() = %v, want unrecognized error unchanged", got)
	}

	coded := tferrors.Wrap(tferrors.ErrCodeFileReadFailed, "failed to read a.ts", fs.ErrNotExist)
	if got := EnhanceError(coded); got != error(coded) {
		t.Errorf("EnhanceError() = %v, want the coded error unchanged", got)
	}
}

func TestFormatError(t *testing.T) {
	if FormatError(nil, "ctx") != nil {
		t.Error("nil error should stay nil")
	}

	err := FormatError(fmt.Errorf("open .taskforge.yaml: %w", fs.ErrNotExist), "loading configuration")
	msg := err.Error()
	if !strings.HasPrefix(msg, "loading configuration: open .taskforge.yaml") {
		t.Errorf("FormatError() = %q, want context prefix", msg)
	}
	if !strings.Contains(msg, "config init") {
		t.Errorf("FormatError() = %q, want enhanced suggestion", msg)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("formatted error lost its cause")
	}

	bare := errors.New("boom")
	if got := FormatError(bare, ""); got != bare {
		t.Errorf("FormatError without context = %v", got)
	}
}
