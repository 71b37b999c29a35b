package run

import (
	"strconv"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
)

// ScenarioRun is a live instance of a template version's steps.
// Steps are copied at creation, so later template edits never reach a run.
type ScenarioRun struct {
	ID              model.RunID
	TenantID        model.TenantID
	ScenarioID      model.ScenarioID
	PlaybookID      model.PlaybookID
	PlaybookVersion int
	Baseline        model.RiskLevel
	Context         model.Payload
	Status          Status
	Steps           []*RunStep

	StartedAt   time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time

	RiskScore        *float64
	OpportunityScore *float64
	NarrativeSummary string
	ErrorMessage     string
	CancelReason     string

	// Revision counts saves; 0 means never stored. Repositories reject a save
	// whose revision is behind the stored one.
	Revision int64
}

// NewRunParams gathers what a run is created from
type NewRunParams struct {
	TenantID        model.TenantID
	ScenarioID      model.ScenarioID
	PlaybookID      model.PlaybookID
	PlaybookVersion int
	Baseline        model.RiskLevel
	Context         model.Payload
	Steps           []playbook.StepDefinition
	// SimulatedImpacts is aligned with Steps; missing entries stay zero
	SimulatedImpacts []Impact
}

// NewScenarioRun snapshots the given steps into a pending run
func NewScenarioRun(p NewRunParams, now time.Time) (*ScenarioRun, error) {
	steps, err := playbook.NormalizeSteps(p.Steps)
	if err != nil {
		return nil, err
	}

	r := &ScenarioRun{
		ID:              model.NewRunID(now),
		TenantID:        p.TenantID,
		ScenarioID:      p.ScenarioID,
		PlaybookID:      p.PlaybookID,
		PlaybookVersion: p.PlaybookVersion,
		Baseline:        p.Baseline,
		Context:         p.Context.Clone(),
		Status:          StatusPending,
		StartedAt:       now,
		UpdatedAt:       now,
	}
	for i, def := range steps {
		step := &RunStep{
			ID:         model.NewRunStepID(now),
			RunID:      r.ID,
			Definition: def,
			Status:     StepPending,
		}
		if i < len(p.SimulatedImpacts) {
			step.SimulatedImpact = p.SimulatedImpacts[i].Clone()
		}
		r.Steps = append(r.Steps, step)
	}
	return r, nil
}

// Clone returns a deep copy safe to hand to other goroutines
func (r *ScenarioRun) Clone() *ScenarioRun {
	cp := *r
	cp.Context = r.Context.Clone()
	cp.CompletedAt = clonePtr(r.CompletedAt)
	cp.RiskScore = clonePtr(r.RiskScore)
	cp.OpportunityScore = clonePtr(r.OpportunityScore)
	cp.Steps = make([]*RunStep, len(r.Steps))
	for i, s := range r.Steps {
		cp.Steps[i] = s.Clone()
	}
	return &cp
}

// Step returns the step at index or nil
func (r *ScenarioRun) Step(index int) *RunStep {
	if index < 0 || index >= len(r.Steps) {
		return nil
	}
	return r.Steps[index]
}

// StepByID returns the step with the given id or nil
func (r *ScenarioRun) StepByID(id model.RunStepID) *RunStep {
	for _, s := range r.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// CurrentStep returns the lowest-index step that is neither completed nor skipped
func (r *ScenarioRun) CurrentStep() *RunStep {
	for _, s := range r.Steps {
		if !s.Status.IsResolved() {
			return s
		}
	}
	return nil
}

// ExecutingStep returns the step currently being dispatched or nil
func (r *ScenarioRun) ExecutingStep() *RunStep {
	for _, s := range r.Steps {
		if s.Status == StepExecuting {
			return s
		}
	}
	return nil
}

// Observed returns the dispatcher-reported impacts of completed steps in order
func (r *ScenarioRun) Observed() []Impact {
	var out []Impact
	for _, s := range r.Steps {
		if s.Status == StepCompleted && !s.ObservedImpact.IsZero() {
			out = append(out, s.ObservedImpact.Clone())
		}
	}
	return out
}

func (r *ScenarioRun) transition(next Status, now time.Time) error {
	if !r.Status.CanTransitionTo(next) {
		return model.NewStateConflictError("run %s: invalid transition from %s to %s", r.ID, r.Status, next)
	}
	r.Status = next
	r.UpdatedAt = now
	if next.IsTerminal() {
		t := now
		r.CompletedAt = &t
	}
	return nil
}

func (r *ScenarioRun) stepAt(index int) (*RunStep, error) {
	s := r.Step(index)
	if s == nil {
		return nil, model.NewNotFoundError("run step", r.ID.String()+"#"+strconv.Itoa(index))
	}
	return s, nil
}

// checkSequence is the per-run sequence guard: every earlier step must be
// completed or skipped and no other step may be executing.
func (r *ScenarioRun) checkSequence(index int) error {
	for _, s := range r.Steps {
		if s.StepIndex() < index && !s.Status.IsResolved() {
			return model.NewStateConflictError("step %d cannot advance: step %d is %s", index, s.StepIndex(), s.Status)
		}
		if s.StepIndex() != index && s.Status == StepExecuting {
			return model.NewStateConflictError("step %d cannot advance: step %d is executing", index, s.StepIndex())
		}
	}
	return nil
}

// Start moves a pending run to running
func (r *ScenarioRun) Start(now time.Time) error {
	return r.transition(StatusRunning, now)
}

// ArmWait records the deadline of the step's wait timer
func (r *ScenarioRun) ArmWait(index int, until time.Time, now time.Time) error {
	s, err := r.stepAt(index)
	if err != nil {
		return err
	}
	if s.Status != StepPending {
		return model.NewStateConflictError("step %d: cannot wait in status %s", index, s.Status)
	}
	u := until
	s.WaitUntil = &u
	s.WaitRemaining = nil
	r.UpdatedAt = now
	return nil
}

// SuspendWait converts an armed deadline into a remaining duration
func (r *ScenarioRun) SuspendWait(index int, now time.Time) error {
	s, err := r.stepAt(index)
	if err != nil {
		return err
	}
	if s.Status != StepPending || s.WaitUntil == nil {
		return nil
	}
	remaining := s.WaitUntil.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	s.WaitRemaining = &remaining
	s.WaitUntil = nil
	r.UpdatedAt = now
	return nil
}

// MarkReady makes a pending step eligible, capturing its execution context
func (r *ScenarioRun) MarkReady(index int, execCtx model.Payload, now time.Time) error {
	s, err := r.stepAt(index)
	if err != nil {
		return err
	}
	if err := r.checkSequence(index); err != nil {
		return err
	}
	if err := s.transition(StepReady); err != nil {
		return err
	}
	s.ExecutionContext = execCtx.Clone()
	s.WaitUntil = nil
	s.WaitRemaining = nil
	r.UpdatedAt = now
	return nil
}

// AwaitApproval suspends the run on a ready, approval-gated step
func (r *ScenarioRun) AwaitApproval(index int, now time.Time) error {
	s, err := r.stepAt(index)
	if err != nil {
		return err
	}
	if s.Status != StepReady || !s.Definition.RequiresApproval {
		return model.NewStateConflictError("step %d is not a ready approval gate", index)
	}
	return r.transition(StatusAwaitingApproval, now)
}

// RecordDecision stamps an approval decision on the gated step.
// Approval returns the run to running with the step still ready; rejection skips it.
func (r *ScenarioRun) RecordDecision(index int, approved bool, notes string, now time.Time) error {
	s, err := r.stepAt(index)
	if err != nil {
		return err
	}
	if r.Status != StatusAwaitingApproval || s.Status != StepReady || !s.Definition.RequiresApproval {
		return model.NewStateConflictError("step %d is not awaiting approval (run %s, step %s)", index, r.Status, s.Status)
	}
	notes = strings.TrimSpace(notes)
	if !approved && notes == "" {
		return model.NewValidationError("notes are required when rejecting a step")
	}

	t := now
	s.ApprovedAt = &t
	s.ApprovalNotes = notes
	s.Approved = &approved
	if !approved {
		if err := s.transition(StepSkipped); err != nil {
			return err
		}
		s.CompletedAt = &t
	}
	return r.transition(StatusRunning, now)
}

// BeginStep moves a ready step to executing.
// This is the only way into executing and is always checked against the sequence guard.
func (r *ScenarioRun) BeginStep(index int, now time.Time) error {
	s, err := r.stepAt(index)
	if err != nil {
		return err
	}
	if r.Status != StatusRunning {
		return model.NewStateConflictError("run %s cannot execute steps in status %s", r.ID, r.Status)
	}
	if s.Definition.RequiresApproval && (s.Approved == nil || !*s.Approved) {
		return model.NewStateConflictError("step %d requires approval before execution", index)
	}
	if err := r.checkSequence(index); err != nil {
		return err
	}
	if err := s.transition(StepExecuting); err != nil {
		return err
	}
	t := now
	s.StartedAt = &t
	r.UpdatedAt = now
	return nil
}

// CompleteStep records a successful dispatch
func (r *ScenarioRun) CompleteStep(index int, impact Impact, now time.Time) error {
	s, err := r.stepAt(index)
	if err != nil {
		return err
	}
	if err := s.transition(StepCompleted); err != nil {
		return err
	}
	s.ObservedImpact = impact.Clone()
	t := now
	s.CompletedAt = &t
	r.UpdatedAt = now
	return nil
}

// FailStep records a failed dispatch on the step
func (r *ScenarioRun) FailStep(index int, message string, now time.Time) error {
	s, err := r.stepAt(index)
	if err != nil {
		return err
	}
	if err := s.transition(StepFailed); err != nil {
		return err
	}
	s.ErrorMessage = message
	t := now
	s.CompletedAt = &t
	r.UpdatedAt = now
	return nil
}

// SkipStep resolves a pending or ready step without executing it
func (r *ScenarioRun) SkipStep(index int, now time.Time) error {
	s, err := r.stepAt(index)
	if err != nil {
		return err
	}
	if err := s.transition(StepSkipped); err != nil {
		return err
	}
	s.WaitUntil = nil
	s.WaitRemaining = nil
	t := now
	s.CompletedAt = &t
	r.UpdatedAt = now
	return nil
}

// Pause suspends advancement; statuses of steps are untouched
func (r *ScenarioRun) Pause(now time.Time) error {
	if r.Status != StatusRunning {
		return model.NewStateConflictError("run %s can only be paused while running, current: %s", r.ID, r.Status)
	}
	return r.transition(StatusPaused, now)
}

// Resume returns a paused run to running
func (r *ScenarioRun) Resume(now time.Time) error {
	if r.Status != StatusPaused {
		return model.NewStateConflictError("run %s can only be resumed while paused, current: %s", r.ID, r.Status)
	}
	return r.transition(StatusRunning, now)
}

// RequestCancel skips every pending or ready step and records the reason.
// It reports true when the run reached cancelled; false means a step is
// still executing and FinalizeCancel must follow once it lands.
func (r *ScenarioRun) RequestCancel(reason string, now time.Time) (bool, error) {
	if r.Status.IsTerminal() {
		return false, model.NewStateConflictError("run %s is already %s", r.ID, r.Status)
	}
	t := now
	for _, s := range r.Steps {
		if s.Status == StepPending || s.Status == StepReady {
			s.Status = StepSkipped
			s.WaitUntil = nil
			s.WaitRemaining = nil
			s.CompletedAt = &t
		}
	}
	r.CancelReason = reason
	r.UpdatedAt = now
	if r.ExecutingStep() != nil {
		return false, nil
	}
	return true, r.transition(StatusCancelled, now)
}

// FinalizeCancel completes a cancellation deferred by an executing step
func (r *ScenarioRun) FinalizeCancel(now time.Time) error {
	if r.ExecutingStep() != nil {
		return model.NewStateConflictError("run %s still has an executing step", r.ID)
	}
	return r.transition(StatusCancelled, now)
}

// Complete marks the run completed once every step is completed or skipped
func (r *ScenarioRun) Complete(now time.Time) error {
	if s := r.CurrentStep(); s != nil {
		return model.NewStateConflictError("run %s cannot complete: step %d is %s", r.ID, s.StepIndex(), s.Status)
	}
	return r.transition(StatusCompleted, now)
}

// Fail marks the run failed with the given message
func (r *ScenarioRun) Fail(message string, now time.Time) error {
	if err := r.transition(StatusFailed, now); err != nil {
		return err
	}
	r.ErrorMessage = message
	return nil
}

// SetOutcome stores the aggregated scores and narrative
func (r *ScenarioRun) SetOutcome(risk, opportunity float64, narrative string) {
	r.RiskScore = &risk
	r.OpportunityScore = &opportunity
	r.NarrativeSummary = narrative
}
