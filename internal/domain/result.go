package domain

// ErrorCategory classifies a failed invocation.
type ErrorCategory string

const (
	CategoryValidation        ErrorCategory = "VALIDATION_ERROR"
	CategoryTimeout           ErrorCategory = "TIMEOUT"
	CategoryMissingDependency ErrorCategory = "MISSING_DEPENDENCY"
	CategoryInvalidInput      ErrorCategory = "INVALID_INPUT"
	CategoryOutputNotFound    ErrorCategory = "OUTPUT_NOT_FOUND"
	CategoryUnknown           ErrorCategory = "UNKNOWN"
)

// Confidence ranks how strongly a candidate is believed to be genuine output.
type Confidence int

const (
	ConfidenceNone Confidence = iota
	ConfidenceDifferentOnly
	ConfidenceGrownAndDifferent
	ConfidenceWatermarked
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceWatermarked:
		return "WATERMARKED"
	case ConfidenceGrownAndDifferent:
		return "GROWN_AND_DIFFERENT"
	case ConfidenceDifferentOnly:
		return "DIFFERENT_ONLY"
	}
	return "NONE"
}

// CandidateSource names where a candidate output was found.
type CandidateSource string

const (
	SourceWorkspaceOutput CandidateSource = "workspace_output"
	SourceInstallOutput   CandidateSource = "install_output"
	SourceNewFile         CandidateSource = "new_file"
	SourceStdout          CandidateSource = "stdout"
)

// CandidateOutput is a location inspected during resolution.
type CandidateOutput struct {
	Path       string
	Source     CandidateSource
	Exists     bool
	Content    []byte
	Size       int
	Hash       Digest
	Confidence Confidence
}

// ProcessOutcome is what the process invoker observed.
type ProcessOutcome struct {
	ExitCode        int
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	TimedOut        bool
	Cancelled       bool
	// StartErr is set when the child could not be started at all.
	StartErr error
	Elapsed  int64 // milliseconds
}

// Combined returns stdout followed by stderr.
func (o *ProcessOutcome) Combined() string {
	if o.Stderr == "" {
		return o.Stdout
	}
	if o.Stdout == "" {
		return o.Stderr
	}
	return o.Stdout + "\n" + o.Stderr
}

// InvocationResult is the only value handed back to collaborators:
// either Success with content, or Failure with a category and diagnostic.
type InvocationResult struct {
	JobID      string          `json:"job_id"`
	Content    []byte          `json:"content,omitempty"`
	Confidence string          `json:"confidence,omitempty"`
	Source     CandidateSource `json:"source,omitempty"`
	Category   ErrorCategory   `json:"category,omitempty"`
	Diagnostic string          `json:"diagnostic,omitempty"`
}

// Succeeded builds a Success result from the selected candidate.
func Succeeded(jobID string, c *CandidateOutput) *InvocationResult {
	return &InvocationResult{
		JobID:      jobID,
		Content:    c.Content,
		Confidence: c.Confidence.String(),
		Source:     c.Source,
	}
}

// Failed builds a Failure result.
func Failed(jobID string, category ErrorCategory, diagnostic string) *InvocationResult {
	return &InvocationResult{
		JobID:      jobID,
		Category:   category,
		Diagnostic: diagnostic,
	}
}

// OK reports whether the result is a Success.
func (r *InvocationResult) OK() bool {
	return r.Category == ""
}

// MaxDiagnosticLen bounds diagnostics shown to end users.
const MaxDiagnosticLen = 1500

// TruncateDiagnostic cuts s to at most n runes.
func TruncateDiagnostic(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
