// Package report records pass/fail steps produced by the facades and exports
// them as JSON, CSV or HTML.
package report

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a recorded step
type Status string

const (
	StatusPass  Status = "PASS"
	StatusFail  Status = "FAIL"
	StatusSkip  Status = "SKIP"
	StatusError Status = "ERROR"
)

// Step is a single reported check
type Step struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Expected  string    `json:"expected,omitempty"`
	Actual    string    `json:"actual,omitempty"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder receives steps from the facades
type Recorder interface {
	Record(step Step)
}

// Nop discards all steps
type Nop struct{}

func (Nop) Record(Step) {}

// OrNop returns rec, or a Nop recorder when rec is nil
func OrNop(rec Recorder) Recorder {
	if rec == nil {
		return Nop{}
	}
	return rec
}

// Run collects the steps of one test execution
type Run struct {
	ID      string    `json:"run_id"`
	Name    string    `json:"name"`
	Started time.Time `json:"started"`

	mu    sync.Mutex
	steps []Step
}

// NewRun creates an empty run with a fresh ID
func NewRun(name string) *Run {
	return &Run{
		ID:      uuid.NewString(),
		Name:    name,
		Started: time.Now(),
	}
}

// Record appends a step, filling in ID and timestamp when missing
func (r *Run) Record(step Step) {
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

// Steps returns a copy of the recorded steps
func (r *Run) Steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// Summary counts steps per status
type Summary struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Errored  int           `json:"errored"`
	Duration time.Duration `json:"duration"`
}

// Summary returns the per-status counts of the run
func (r *Run) Summary() Summary {
	steps := r.Steps()
	s := Summary{Total: len(steps)}
	for _, st := range steps {
		switch st.Status {
		case StatusPass:
			s.Passed++
		case StatusFail:
			s.Failed++
		case StatusSkip:
			s.Skipped++
		case StatusError:
			s.Errored++
		}
	}
	if len(steps) > 0 {
		s.Duration = steps[len(steps)-1].Timestamp.Sub(r.Started)
	}
	return s
}

// Passed reports whether no step failed or errored
func (r *Run) Passed() bool {
	s := r.Summary()
	return s.Failed == 0 && s.Errored == 0
}

// Pass records a passing step
func Pass(rec Recorder, name, expected, actual string) {
	OrNop(rec).Record(Step{Name: name, Expected: expected, Actual: actual, Status: StatusPass})
}

// Fail records a failing step
func Fail(rec Recorder, name, expected, actual string) {
	OrNop(rec).Record(Step{Name: name, Expected: expected, Actual: actual, Status: StatusFail})
}

// Error records a step that could not be evaluated
func Error(rec Recorder, name string, err error) {
	OrNop(rec).Record(Step{Name: name, Status: StatusError, Error: fmt.Sprint(err)})
}

// Check records a pass when ok is true, otherwise a fail. It returns ok.
func Check(rec Recorder, ok bool, name, expected, actual string) bool {
	if ok {
		Pass(rec, name, expected, actual)
	} else {
		Fail(rec, name, expected, actual)
	}
	return ok
}
