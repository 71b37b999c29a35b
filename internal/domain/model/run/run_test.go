package run

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newRun(t *testing.T, steps ...playbook.StepDefinition) *ScenarioRun {
	t.Helper()
	if len(steps) == 0 {
		steps = []playbook.StepDefinition{
			{StepIndex: 0, Name: "alert", ActionType: playbook.ActionMediaAlert},
			{StepIndex: 1, Name: "gate", ActionType: playbook.ActionApprovalGate, RequiresApproval: true, ApprovalRoles: []string{"legal"}},
			{StepIndex: 2, Name: "publish", ActionType: playbook.ActionContentPublish, WaitDurationMinutes: 30},
		}
	}
	r, err := NewScenarioRun(NewRunParams{
		TenantID:         model.MustTenantID("acme"),
		ScenarioID:       model.NewScenarioID(),
		PlaybookID:       model.NewPlaybookID(),
		PlaybookVersion:  1,
		Baseline:         model.RiskHigh,
		Context:          model.Payload{"region": "emea"},
		Steps:            steps,
		SimulatedImpacts: []Impact{NewImpact(1, 2, 3)},
	}, testNow)
	require.NoError(t, err)
	return r
}

func TestNewScenarioRun(t *testing.T) {
	r := newRun(t)

	assert.Equal(t, StatusPending, r.Status)
	require.Len(t, r.Steps, 3)
	for i, s := range r.Steps {
		assert.Equal(t, i, s.StepIndex())
		assert.Equal(t, StepPending, s.Status)
		assert.Equal(t, r.ID, s.RunID)
		assert.NotEmpty(t, s.ID)
	}
	assert.Equal(t, 1.0, r.Steps[0].SimulatedImpact.Sentiment())
	assert.True(t, r.Steps[1].SimulatedImpact.IsZero())
	assert.Equal(t, r.Steps[0], r.CurrentStep())
}

func TestScenarioRun_HappyPath(t *testing.T) {
	r := newRun(t)
	now := testNow

	require.NoError(t, r.Start(now))
	require.NoError(t, r.MarkReady(0, model.Payload{"k": "v"}, now))
	require.NoError(t, r.BeginStep(0, now))
	require.NoError(t, r.CompleteStep(0, NewImpact(5, 0, 0), now))

	require.NoError(t, r.MarkReady(1, nil, now))
	require.NoError(t, r.AwaitApproval(1, now))
	assert.Equal(t, StatusAwaitingApproval, r.Status)
	assert.True(t, model.IsStateConflict(r.BeginStep(1, now)), "gate cannot execute while awaiting")

	require.NoError(t, r.RecordDecision(1, true, "", now))
	assert.Equal(t, StatusRunning, r.Status)
	assert.NotNil(t, r.Steps[1].ApprovedAt)
	require.NoError(t, r.BeginStep(1, now))
	require.NoError(t, r.CompleteStep(1, Impact{}, now))

	require.NoError(t, r.ArmWait(2, now.Add(30*time.Minute), now))
	assert.True(t, r.Steps[2].IsWaiting())
	require.NoError(t, r.MarkReady(2, nil, now.Add(30*time.Minute)))
	assert.Nil(t, r.Steps[2].WaitUntil)
	require.NoError(t, r.BeginStep(2, now))
	require.NoError(t, r.CompleteStep(2, NewImpact(1, 1, 1), now))

	require.NoError(t, r.Complete(now))
	assert.Equal(t, StatusCompleted, r.Status)
	assert.NotNil(t, r.CompletedAt)
	assert.Nil(t, r.CurrentStep())
	assert.Len(t, r.Observed(), 2)
}

func TestScenarioRun_SequenceGuard(t *testing.T) {
	r := newRun(t)
	require.NoError(t, r.Start(testNow))

	err := r.MarkReady(2, nil, testNow)
	assert.True(t, model.IsStateConflict(err), "later step cannot become ready before earlier ones resolve")

	require.NoError(t, r.MarkReady(0, nil, testNow))
	require.NoError(t, r.BeginStep(0, testNow))

	assert.True(t, model.IsStateConflict(r.MarkReady(1, nil, testNow)), "no step advances while another executes")
	assert.True(t, model.IsStateConflict(r.BeginStep(0, testNow)), "executing step cannot begin twice")
}

func TestScenarioRun_BeginRequiresApproval(t *testing.T) {
	r := newRun(t)
	require.NoError(t, r.Start(testNow))
	require.NoError(t, r.SkipStep(0, testNow))
	require.NoError(t, r.MarkReady(1, nil, testNow))

	assert.True(t, model.IsStateConflict(r.BeginStep(1, testNow)))
}

func TestScenarioRun_RejectSkipsStep(t *testing.T) {
	r := newRun(t)
	require.NoError(t, r.Start(testNow))
	require.NoError(t, r.SkipStep(0, testNow))
	require.NoError(t, r.MarkReady(1, nil, testNow))
	require.NoError(t, r.AwaitApproval(1, testNow))

	err := r.RecordDecision(1, false, "  ", testNow)
	assert.True(t, model.IsValidation(err), "rejection needs notes")
	assert.Equal(t, StatusAwaitingApproval, r.Status)

	require.NoError(t, r.RecordDecision(1, false, "off-message", testNow))
	assert.Equal(t, StepSkipped, r.Steps[1].Status)
	assert.Equal(t, "off-message", r.Steps[1].ApprovalNotes)
	require.NotNil(t, r.Steps[1].Approved)
	assert.False(t, *r.Steps[1].Approved)
	assert.Equal(t, StatusRunning, r.Status)

	assert.True(t, model.IsStateConflict(r.RecordDecision(1, true, "", testNow)), "decision is one-shot")
}

func TestScenarioRun_PauseResume(t *testing.T) {
	r := newRun(t)

	assert.True(t, model.IsStateConflict(r.Pause(testNow)), "pending run cannot pause")
	require.NoError(t, r.Start(testNow))
	assert.True(t, model.IsStateConflict(r.Resume(testNow)))

	require.NoError(t, r.ArmWait(0, testNow.Add(30*time.Minute), testNow))
	require.NoError(t, r.Pause(testNow))
	require.NoError(t, r.SuspendWait(0, testNow.Add(10*time.Minute)))

	require.NotNil(t, r.Steps[0].WaitRemaining)
	assert.Equal(t, 20*time.Minute, *r.Steps[0].WaitRemaining)
	assert.Nil(t, r.Steps[0].WaitUntil)
	assert.True(t, r.Steps[0].IsWaiting())

	assert.True(t, model.IsStateConflict(r.Pause(testNow)))
	require.NoError(t, r.Resume(testNow))
	assert.Equal(t, StatusRunning, r.Status)
}

func TestScenarioRun_SuspendWaitPastDeadline(t *testing.T) {
	r := newRun(t)
	require.NoError(t, r.Start(testNow))
	require.NoError(t, r.ArmWait(0, testNow.Add(time.Minute), testNow))
	require.NoError(t, r.SuspendWait(0, testNow.Add(time.Hour)))
	assert.Equal(t, time.Duration(0), *r.Steps[0].WaitRemaining)
}

func TestScenarioRun_Cancel(t *testing.T) {
	statuses := []struct {
		name  string
		setup func(t *testing.T, r *ScenarioRun)
	}{
		{"pending", func(t *testing.T, r *ScenarioRun) {}},
		{"running", func(t *testing.T, r *ScenarioRun) { require.NoError(t, r.Start(testNow)) }},
		{"paused", func(t *testing.T, r *ScenarioRun) {
			require.NoError(t, r.Start(testNow))
			require.NoError(t, r.Pause(testNow))
		}},
		{"awaiting_approval", func(t *testing.T, r *ScenarioRun) {
			require.NoError(t, r.Start(testNow))
			require.NoError(t, r.SkipStep(0, testNow))
			require.NoError(t, r.MarkReady(1, nil, testNow))
			require.NoError(t, r.AwaitApproval(1, testNow))
		}},
	}

	for _, tt := range statuses {
		t.Run(tt.name, func(t *testing.T) {
			r := newRun(t)
			tt.setup(t, r)

			done, err := r.RequestCancel("budget cut", testNow)
			require.NoError(t, err)
			assert.True(t, done)
			assert.Equal(t, StatusCancelled, r.Status)
			assert.Equal(t, "budget cut", r.CancelReason)
			for _, s := range r.Steps {
				assert.Equal(t, StepSkipped, s.Status)
			}

			_, err = r.RequestCancel("again", testNow)
			assert.True(t, model.IsStateConflict(err))
		})
	}
}

func TestScenarioRun_CancelWithExecutingStep(t *testing.T) {
	r := newRun(t)
	require.NoError(t, r.Start(testNow))
	require.NoError(t, r.MarkReady(0, nil, testNow))
	require.NoError(t, r.BeginStep(0, testNow))

	done, err := r.RequestCancel("stop", testNow)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, StatusRunning, r.Status)
	assert.Equal(t, StepExecuting, r.Steps[0].Status)
	assert.Equal(t, StepSkipped, r.Steps[1].Status)

	assert.True(t, model.IsStateConflict(r.FinalizeCancel(testNow)))

	require.NoError(t, r.CompleteStep(0, Impact{}, testNow))
	require.NoError(t, r.FinalizeCancel(testNow))
	assert.Equal(t, StatusCancelled, r.Status)
	assert.Equal(t, StepCompleted, r.Steps[0].Status)
}

func TestScenarioRun_FailStep(t *testing.T) {
	r := newRun(t)
	require.NoError(t, r.Start(testNow))
	require.NoError(t, r.MarkReady(0, nil, testNow))
	require.NoError(t, r.BeginStep(0, testNow))
	require.NoError(t, r.FailStep(0, "outlet down", testNow))
	require.NoError(t, r.Fail("step 0 failed: outlet down", testNow))

	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, "outlet down", r.Steps[0].ErrorMessage)
	assert.True(t, model.IsStateConflict(r.Complete(testNow)))
	assert.True(t, model.IsStateConflict(r.Fail("again", testNow)))
}

func TestScenarioRun_CompleteRequiresResolvedSteps(t *testing.T) {
	r := newRun(t)
	require.NoError(t, r.Start(testNow))
	assert.True(t, model.IsStateConflict(r.Complete(testNow)))
}

func TestScenarioRun_CloneIsIndependent(t *testing.T) {
	r := newRun(t)
	cp := r.Clone()

	cp.Steps[0].Status = StepFailed
	cp.Context["region"] = "apac"
	cp.Steps[0].SimulatedImpact.SentimentDelta = nil

	assert.Equal(t, StepPending, r.Steps[0].Status)
	assert.Equal(t, "emea", r.Context["region"])
	assert.Equal(t, 1.0, r.Steps[0].SimulatedImpact.Sentiment())
}

func TestScenarioRun_StepByID(t *testing.T) {
	r := newRun(t)
	assert.Equal(t, r.Steps[1], r.StepByID(r.Steps[1].ID))
	assert.Nil(t, r.StepByID("missing"))
	assert.Nil(t, r.Step(7))
}

func TestStatusTransitions(t *testing.T) {
	for _, s := range AllStatuses() {
		if s.IsTerminal() {
			for _, next := range AllStatuses() {
				assert.False(t, s.CanTransitionTo(next), "%s -> %s", s, next)
			}
		}
	}
	assert.True(t, StatusPending.CanTransitionTo(StatusRunning))
	assert.False(t, StatusPending.CanTransitionTo(StatusPaused))
	assert.False(t, StatusPaused.CanTransitionTo(StatusAwaitingApproval))

	assert.True(t, StepPending.CanTransitionTo(StepReady))
	assert.False(t, StepPending.CanTransitionTo(StepExecuting))
	assert.False(t, StepCompleted.CanTransitionTo(StepFailed))
	assert.True(t, StepSkipped.IsResolved())
	assert.False(t, StepFailed.IsResolved())
}
