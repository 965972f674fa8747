package domain

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestJob_HappyPathTransitions(t *testing.T) {
	job := NewJob(uuid.New(), "script.lua")
	if job.State() != StateCreated {
		t.Fatalf("new job state = %s", job.State())
	}

	var seen []JobState
	job.Observe(func(s JobState) { seen = append(seen, s) })

	for _, to := range []JobState{StateSubmitted, StateRunning, StateCompleted, StateResolved, StateCleanedUp} {
		if err := job.Transition(to); err != nil {
			t.Fatalf("Transition(%s): %v", to, err)
		}
	}
	if len(seen) != 5 || seen[4] != StateCleanedUp {
		t.Errorf("observer saw %v", seen)
	}
}

func TestJob_RejectsDisallowedTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []JobState
		bad  JobState
	}{
		{"skip submit", nil, StateRunning},
		{"resolve before run", []JobState{StateSubmitted}, StateResolved},
		{"run twice", []JobState{StateSubmitted, StateRunning}, StateRunning},
		{"timeout then complete", []JobState{StateSubmitted, StateRunning, StateTimedOut}, StateCompleted},
		{"leave cleaned up", []JobState{StateCleanedUp}, StateSubmitted},
		{"clean up twice", []JobState{StateCleanedUp}, StateCleanedUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewJob(uuid.New(), "script.lua")
			for _, s := range tt.path {
				if err := job.Transition(s); err != nil {
					t.Fatalf("setup Transition(%s): %v", s, err)
				}
			}
			before := job.State()
			if err := job.Transition(tt.bad); err == nil {
				t.Fatalf("Transition(%s) from %s should fail", tt.bad, before)
			}
			if job.State() != before {
				t.Errorf("state changed to %s after rejected transition", job.State())
			}
		})
	}
}

func TestJob_CleanedUpReachableFromEveryLiveState(t *testing.T) {
	paths := [][]JobState{
		{},
		{StateSubmitted},
		{StateSubmitted, StateRunning},
		{StateSubmitted, StateRunning, StateProcessError},
		{StateSubmitted, StateRunning, StateTimedOut, StateResolved},
	}
	for _, path := range paths {
		job := NewJob(uuid.New(), "script.lua")
		for _, s := range path {
			if err := job.Transition(s); err != nil {
				t.Fatalf("setup Transition(%s): %v", s, err)
			}
		}
		if err := job.Transition(StateCleanedUp); err != nil {
			t.Errorf("CleanedUp from %s: %v", job.State(), err)
		}
	}
}

func TestJob_CleanupOnce(t *testing.T) {
	job := NewJob(uuid.New(), "script.lua")

	var mu sync.Mutex
	calls := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job.CleanupOnce(func() {
				mu.Lock()
				calls++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("cleanup ran %d times, want 1", calls)
	}
}

func TestJob_SetInput(t *testing.T) {
	job := NewJob(uuid.New(), "script.lua")
	job.SetInput([]byte("print('hi')"))

	if job.InputSize != 11 {
		t.Errorf("InputSize = %d", job.InputSize)
	}
	if job.InputHash != DigestOf([]byte("print('hi')")) {
		t.Error("InputHash does not match content")
	}
	if len(job.InputHash.String()) != 64 {
		t.Errorf("digest string %q is not hex sha256", job.InputHash.String())
	}
}

func TestObfuscationRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     ObfuscationRequest
		wantErr bool
	}{
		{"valid", ObfuscationRequest{RequestID: "r1", Name: "a.lua", Content: []byte("x")}, false},
		{"missing id", ObfuscationRequest{Name: "a.lua"}, true},
		{"missing name", ObfuscationRequest{RequestID: "r1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("error %v does not wrap ErrInvalidRequest", err)
			}
		})
	}
}

func TestInvocationResult(t *testing.T) {
	ok := Succeeded("job-1", &CandidateOutput{
		Content:    []byte("out"),
		Source:     SourceWorkspaceOutput,
		Confidence: ConfidenceWatermarked,
	})
	if !ok.OK() || ok.Confidence != "WATERMARKED" || ok.Source != SourceWorkspaceOutput {
		t.Errorf("unexpected success result %+v", ok)
	}

	failed := Failed("job-2", CategoryTimeout, "took too long")
	if failed.OK() {
		t.Error("failure reported OK")
	}
}

func TestTruncateDiagnostic(t *testing.T) {
	if got := TruncateDiagnostic("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}

	long := strings.Repeat("é", MaxDiagnosticLen+10)
	got := TruncateDiagnostic(long, MaxDiagnosticLen)
	if n := len([]rune(got)); n != MaxDiagnosticLen {
		t.Errorf("truncated to %d runes, want %d", n, MaxDiagnosticLen)
	}
}
