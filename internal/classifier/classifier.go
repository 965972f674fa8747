// Package classifier turns what the process invoker observed into a failure
// category and a human-readable diagnostic.
package classifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/Harsh-BH/brewgate/internal/domain"
)

// ExcerptLen bounds the stream text carried by a diagnosis.
const ExcerptLen = 1500

// Diagnosis is the classifier's verdict.
type Diagnosis struct {
	Category   domain.ErrorCategory
	Diagnostic string
}

// Patterns are case-insensitive substrings searched for in the captured
// streams.
type Patterns struct {
	Dependency []string
	Syntax     []string
}

// Classifier maps process outcomes to error categories.
type Classifier struct {
	dependency []string
	syntax     []string
	timeout    time.Duration
}

// NewClassifier creates a new classifier. timeout is only used to word the
// TIMEOUT diagnostic.
func NewClassifier(p Patterns, timeout time.Duration) *Classifier {
	return &Classifier{
		dependency: lowerAll(p.Dependency),
		syntax:     lowerAll(p.Syntax),
		timeout:    timeout,
	}
}

// Classify explains why an invocation produced no usable output. When
// resolution found output there is nothing to explain and the zero
// Diagnosis is returned.
//
// Precedence: timeout, missing dependency, rejected input, missing output,
// then unknown with an excerpt of the streams.
func (c *Classifier) Classify(outcome *domain.ProcessOutcome, resolutionEmpty bool) Diagnosis {
	if !resolutionEmpty {
		return Diagnosis{}
	}

	if outcome.TimedOut {
		return Diagnosis{
			Category:   domain.CategoryTimeout,
			Diagnostic: fmt.Sprintf("tool did not finish within %s and was killed", c.timeout),
		}
	}

	if outcome.StartErr != nil {
		return Diagnosis{
			Category:   domain.CategoryMissingDependency,
			Diagnostic: fmt.Sprintf("tool could not be started: %v", outcome.StartErr),
		}
	}

	combined := outcome.Combined()

	if outcome.ExitCode != 0 {
		if line, ok := matchLine(combined, c.dependency); ok {
			return Diagnosis{
				Category:   domain.CategoryMissingDependency,
				Diagnostic: fmt.Sprintf("exit code %d: %s", outcome.ExitCode, excerpt(line)),
			}
		}
	}

	if line, ok := matchLine(combined, c.syntax); ok {
		return Diagnosis{
			Category:   domain.CategoryInvalidInput,
			Diagnostic: excerpt(line),
		}
	}

	if outcome.ExitCode == 0 {
		return Diagnosis{
			Category:   domain.CategoryOutputNotFound,
			Diagnostic: "tool exited successfully but produced no usable output",
		}
	}

	text := excerpt(strings.TrimSpace(combined))
	if text == "" {
		text = "(no output)"
	}
	return Diagnosis{
		Category:   domain.CategoryUnknown,
		Diagnostic: fmt.Sprintf("exit code %d: %s", outcome.ExitCode, text),
	}
}

// matchLine returns the first line of text containing any of patterns.
func matchLine(text string, patterns []string) (string, bool) {
	if len(patterns) == 0 || text == "" {
		return "", false
	}
	for _, line := range strings.Split(text, "\n") {
		l := strings.ToLower(line)
		for _, p := range patterns {
			if strings.Contains(l, p) {
				return strings.TrimSpace(line), true
			}
		}
	}
	return "", false
}

func excerpt(s string) string {
	return domain.TruncateDiagnostic(s, ExcerptLen)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
