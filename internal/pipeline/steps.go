package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Step is one fine-grained progress entry recorded while the pipeline
// works through emails. The UI lists and clears these over REST.
type Step struct {
	ID        string    `json:"id"`
	Step      string    `json:"step"`
	EmailID   string    `json:"emailId,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StepLog is a bounded in-memory record of recent processing steps.
// Steps are ephemeral by design; they are not part of the durable store.
type StepLog struct {
	mu    sync.Mutex
	steps []Step
	max   int
}

func NewStepLog(max int) *StepLog {
	if max <= 0 {
		max = 200
	}
	return &StepLog{max: max}
}

func (l *StepLog) Record(step, emailID, subject, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.steps) >= l.max {
		l.steps = l.steps[1:]
	}
	l.steps = append(l.steps, Step{
		ID:        uuid.New().String(),
		Step:      step,
		EmailID:   emailID,
		Subject:   subject,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

func (l *StepLog) List() []Step {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Step, len(l.steps))
	copy(out, l.steps)
	return out
}

func (l *StepLog) Clear() {
	l.mu.Lock()
	l.steps = nil
	l.mu.Unlock()
}
