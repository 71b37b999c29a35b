package run

import (
	"time"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
)

// Impact holds the optional deltas reported for, or projected from, a step
type Impact struct {
	SentimentDelta  *float64 `json:"sentiment_delta,omitempty"`
	CoverageDelta   *float64 `json:"coverage_delta,omitempty"`
	EngagementDelta *float64 `json:"engagement_delta,omitempty"`
}

// IsZero reports whether no delta is set
func (i Impact) IsZero() bool {
	return i.SentimentDelta == nil && i.CoverageDelta == nil && i.EngagementDelta == nil
}

// Sentiment returns the sentiment delta or 0
func (i Impact) Sentiment() float64 { return deref(i.SentimentDelta) }

// Coverage returns the coverage delta or 0
func (i Impact) Coverage() float64 { return deref(i.CoverageDelta) }

// Engagement returns the engagement delta or 0
func (i Impact) Engagement() float64 { return deref(i.EngagementDelta) }

// Clone returns a copy that shares no pointers
func (i Impact) Clone() Impact {
	return Impact{
		SentimentDelta:  clonePtr(i.SentimentDelta),
		CoverageDelta:   clonePtr(i.CoverageDelta),
		EngagementDelta: clonePtr(i.EngagementDelta),
	}
}

// NewImpact builds an impact with every delta set
func NewImpact(sentiment, coverage, engagement float64) Impact {
	return Impact{SentimentDelta: &sentiment, CoverageDelta: &coverage, EngagementDelta: &engagement}
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// RunStep is the snapshot of one StepDefinition inside a run, plus its execution state
type RunStep struct {
	ID         model.RunStepID
	RunID      model.RunID
	Definition playbook.StepDefinition
	Status     StepStatus

	// ExecutionContext captures the inputs at the moment the step became ready
	ExecutionContext model.Payload
	SimulatedImpact  Impact
	ObservedImpact   Impact

	// WaitUntil is set while a wait timer is armed, WaitRemaining while it is paused
	WaitUntil     *time.Time
	WaitRemaining *time.Duration

	Approved      *bool
	ApprovedAt    *time.Time
	ApprovalNotes string
	ErrorMessage  string

	StartedAt   *time.Time
	CompletedAt *time.Time
}

// StepIndex mirrors the definition's stepIndex
func (s *RunStep) StepIndex() int {
	return s.Definition.StepIndex
}

// IsWaiting reports whether an armed or paused timer holds the step
func (s *RunStep) IsWaiting() bool {
	return s.Status == StepPending && (s.WaitUntil != nil || s.WaitRemaining != nil)
}

// Clone returns a deep copy
func (s *RunStep) Clone() *RunStep {
	cp := *s
	cp.Definition = s.Definition.Clone()
	cp.ExecutionContext = s.ExecutionContext.Clone()
	cp.SimulatedImpact = s.SimulatedImpact.Clone()
	cp.ObservedImpact = s.ObservedImpact.Clone()
	cp.WaitUntil = clonePtr(s.WaitUntil)
	cp.WaitRemaining = clonePtr(s.WaitRemaining)
	cp.Approved = clonePtr(s.Approved)
	cp.ApprovedAt = clonePtr(s.ApprovedAt)
	cp.StartedAt = clonePtr(s.StartedAt)
	cp.CompletedAt = clonePtr(s.CompletedAt)
	return &cp
}

func (s *RunStep) transition(next StepStatus) error {
	if !s.Status.CanTransitionTo(next) {
		return model.NewStateConflictError("step %d: invalid transition from %s to %s", s.StepIndex(), s.Status, next)
	}
	s.Status = next
	return nil
}
