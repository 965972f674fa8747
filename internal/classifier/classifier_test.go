package classifier

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Harsh-BH/brewgate/internal/config"
	"github.com/Harsh-BH/brewgate/internal/domain"
)

func newTestClassifier() *Classifier {
	p := config.DefaultProfile()
	return NewClassifier(Patterns{Dependency: p.DependencyPatterns, Syntax: p.SyntaxPatterns}, 5*time.Minute)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		outcome domain.ProcessOutcome
		want    domain.ErrorCategory
		contain string
	}{
		{
			name:    "timeout wins over everything",
			outcome: domain.ProcessOutcome{TimedOut: true, ExitCode: -1, Stderr: "syntax error"},
			want:    domain.CategoryTimeout,
			contain: "5m0s",
		},
		{
			name:    "executable missing",
			outcome: domain.ProcessOutcome{StartErr: errors.New("exec: \"dotnet\": executable file not found in $PATH"), ExitCode: -1},
			want:    domain.CategoryMissingDependency,
			contain: "could not be started",
		},
		{
			name:    "nonzero exit with dependency message",
			outcome: domain.ProcessOutcome{ExitCode: 1, Stdout: "Stripping comments...\n/bin/sh: 1: luajit: not found\n"},
			want:    domain.CategoryMissingDependency,
			contain: "luajit: not found",
		},
		{
			name:    "dependency text on zero exit is not a dependency failure",
			outcome: domain.ProcessOutcome{ExitCode: 0, Stdout: "module not found, continuing"},
			want:    domain.CategoryOutputNotFound,
		},
		{
			name:    "syntax rejection",
			outcome: domain.ProcessOutcome{ExitCode: 1, Stderr: "luac: input.lua:3: SYNTAX error near 'end'"},
			want:    domain.CategoryInvalidInput,
			contain: "input.lua:3",
		},
		{
			name:    "syntax rejection on zero exit",
			outcome: domain.ProcessOutcome{ExitCode: 0, Stdout: "Invalid input file."},
			want:    domain.CategoryInvalidInput,
		},
		{
			name:    "silent success",
			outcome: domain.ProcessOutcome{ExitCode: 0},
			want:    domain.CategoryOutputNotFound,
		},
		{
			name:    "unknown failure",
			outcome: domain.ProcessOutcome{ExitCode: 134, Stderr: "Unhandled exception. System.NullReferenceException"},
			want:    domain.CategoryUnknown,
			contain: "NullReferenceException",
		},
		{
			name:    "unknown failure without output",
			outcome: domain.ProcessOutcome{ExitCode: 2},
			want:    domain.CategoryUnknown,
			contain: "(no output)",
		},
	}

	c := newTestClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Classify(&tt.outcome, true)
			if d.Category != tt.want {
				t.Errorf("expected %s, got %s (%s)", tt.want, d.Category, d.Diagnostic)
			}
			if tt.contain != "" && !strings.Contains(d.Diagnostic, tt.contain) {
				t.Errorf("diagnostic %q should contain %q", d.Diagnostic, tt.contain)
			}
		})
	}
}

func TestClassify_ResolvedOutputNeedsNoDiagnosis(t *testing.T) {
	d := newTestClassifier().Classify(&domain.ProcessOutcome{ExitCode: 1, Stderr: "syntax"}, false)
	if d.Category != "" || d.Diagnostic != "" {
		t.Errorf("expected zero diagnosis, got %+v", d)
	}
}

func TestClassify_ExcerptIsBounded(t *testing.T) {
	long := strings.Repeat("é", 4000)
	d := newTestClassifier().Classify(&domain.ProcessOutcome{ExitCode: 1, Stderr: long}, true)

	if d.Category != domain.CategoryUnknown {
		t.Fatalf("expected UNKNOWN, got %s", d.Category)
	}
	if n := utf8.RuneCountInString(d.Diagnostic); n > ExcerptLen+len("exit code 1: ") {
		t.Errorf("diagnostic too long: %d runes", n)
	}
	if !utf8.ValidString(d.Diagnostic) {
		t.Error("truncation split a multi-byte rune")
	}
}
