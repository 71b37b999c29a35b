package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
)

// persistRun stores a run prepared with domain calls, as a previous process would have left it
func (h *harness) persistRun(t *testing.T, steps []playbook.StepDefinition, prepare func(r *run.ScenarioRun, now time.Time) error) *run.ScenarioRun {
	t.Helper()
	tpl, sc := h.seed(t, true, steps)
	now := h.clock.Now()
	r, err := run.NewScenarioRun(run.NewRunParams{
		TenantID:        tenant,
		ScenarioID:      sc.ID(),
		PlaybookID:      tpl.ID(),
		PlaybookVersion: tpl.Version(),
		Baseline:        sc.Baseline(),
		Context:         sc.Context(),
		Steps:           tpl.Steps(),
	}, now)
	require.NoError(t, err)
	require.NoError(t, r.Start(now))
	require.NoError(t, prepare(r, now))
	require.NoError(t, h.runRepo.Save(context.Background(), r))
	return r
}

func TestRecover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	single := []playbook.StepDefinition{{StepIndex: 0, Name: "Alert", ActionType: playbook.ActionMediaAlert}}
	waiting := []playbook.StepDefinition{{StepIndex: 0, Name: "Cool down", ActionType: playbook.ActionWait, WaitDurationMinutes: 30}}

	armed := h.persistRun(t, waiting, func(r *run.ScenarioRun, now time.Time) error {
		return r.ArmWait(0, now.Add(10*time.Minute), now)
	})
	overdue := h.persistRun(t, waiting, func(r *run.ScenarioRun, now time.Time) error {
		return r.ArmWait(0, now.Add(-time.Minute), now)
	})
	interrupted := h.persistRun(t, single, func(r *run.ScenarioRun, now time.Time) error {
		if err := r.MarkReady(0, nil, now); err != nil {
			return err
		}
		return r.BeginStep(0, now)
	})
	cancelling := h.persistRun(t, single, func(r *run.ScenarioRun, now time.Time) error {
		if err := r.MarkReady(0, nil, now); err != nil {
			return err
		}
		if err := r.BeginStep(0, now); err != nil {
			return err
		}
		_, err := r.RequestCancel("pulled", now)
		return err
	})
	paused := h.persistRun(t, waiting, func(r *run.ScenarioRun, now time.Time) error {
		if err := r.ArmWait(0, now.Add(30*time.Minute), now); err != nil {
			return err
		}
		if err := r.Pause(now); err != nil {
			return err
		}
		return r.SuspendWait(0, now.Add(10*time.Minute))
	})
	awaiting := h.persistRun(t, gatedSteps(), func(r *run.ScenarioRun, now time.Time) error {
		for _, step := range []func() error{
			func() error { return r.MarkReady(0, nil, now) },
			func() error { return r.BeginStep(0, now) },
			func() error { return r.CompleteStep(0, run.Impact{}, now) },
			func() error { return r.MarkReady(1, nil, now) },
			func() error { return r.AwaitApproval(1, now) },
		} {
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	})

	n, err := h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	got := h.get(t, interrupted.ID.String())
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, "dispatch interrupted", got.Steps[0].ErrorMessage)
	assert.Contains(t, got.ErrorMessage, "dispatch interrupted")

	got = h.get(t, cancelling.ID.String())
	assert.Equal(t, "cancelled", got.Status)
	assert.Equal(t, "pulled", got.CancelReason)

	for _, c := range h.dispatcher.Calls() {
		assert.NotEqual(t, interrupted.ID, c.RunID, "an interrupted dispatch is never repeated")
		assert.NotEqual(t, cancelling.ID, c.RunID)
	}

	assert.Equal(t, "completed", h.get(t, overdue.ID.String()).Status, "an elapsed deadline fires at once")
	assert.Equal(t, "running", h.get(t, armed.ID.String()).Status)
	assert.Equal(t, "awaiting_approval", h.get(t, awaiting.ID.String()).Status)

	got = h.get(t, paused.ID.String())
	assert.Equal(t, "paused", got.Status)
	assert.Equal(t, (20 * time.Minute).String(), got.Steps[0].WaitRemaining)

	h.clock.Step(10 * time.Minute)
	h.waitForStatus(t, armed.ID.String(), run.StatusCompleted)
	assert.Equal(t, "paused", h.get(t, paused.ID.String()).Status, "paused runs do not wake up")

	_, err = h.orch.ResumeRun(ctx, tenant, paused.ID.String())
	require.NoError(t, err)
	h.clock.Step(20 * time.Minute)
	h.waitForStatus(t, paused.ID.String(), run.StatusCompleted)

	_, err = h.gateway.ApproveStep(ctx, tenant, dto.ApproveStepRequest{StepID: awaiting.Steps[1].ID.String(), Approved: true})
	require.NoError(t, err)
	h.clock.Step(5 * time.Minute)
	h.waitForStatus(t, awaiting.ID.String(), run.StatusCompleted)

	calls := h.dispatcher.CallCount()
	_, err = h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, calls, h.dispatcher.CallCount(), "nothing left to recover")
}

func TestRecover_SkipsLiveRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, sc := h.seed(t, true, []playbook.StepDefinition{
		{StepIndex: 0, Name: "Cool down", ActionType: playbook.ActionWait, WaitDurationMinutes: 30},
	})
	r, err := h.orch.StartRun(ctx, tenant, sc.ID().String())
	require.NoError(t, err)

	n, err := h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, h.orch.ActiveRuns())

	h.clock.Step(30 * time.Minute)
	h.waitForStatus(t, r.ID, run.StatusCompleted)
	assert.Equal(t, 1, h.dispatcher.CallCount(), "the live timer is the only one")
}
