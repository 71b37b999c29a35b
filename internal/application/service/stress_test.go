package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
)

func TestConcurrentRuns_AdvanceSequentially(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}
	h := newHarness(t)
	ctx := context.Background()
	h.dispatcher.Default(func(context.Context, output.DispatchRequest) (output.DispatchResult, error) {
		time.Sleep(200 * time.Microsecond)
		return output.DispatchResult{Success: true, Impact: run.NewImpact(1, 1, 1)}, nil
	})

	steps := []playbook.StepDefinition{
		{StepIndex: 0, Name: "Notify", ActionType: playbook.ActionStakeholderNotify},
		{StepIndex: 1, Name: "Gate", ActionType: playbook.ActionApprovalGate, RequiresApproval: true, ApprovalRoles: []string{"legal"}},
		{StepIndex: 2, Name: "Alert", ActionType: playbook.ActionMediaAlert},
		{StepIndex: 3, Name: "Publish", ActionType: playbook.ActionContentPublish},
	}

	const runs = 24
	scenarios := make([]string, runs)
	for i := range scenarios {
		_, sc := h.seed(t, true, steps)
		scenarios[i] = sc.ID().String()
	}

	started := make([]*dto.RunDTO, runs)
	g, gctx := errgroup.WithContext(ctx)
	for i := range scenarios {
		i := i
		g.Go(func() error {
			r, err := h.orch.StartRun(gctx, tenant, scenarios[i])
			started[i] = r
			return err
		})
	}
	require.NoError(t, g.Wait())

	// Approve, read and cancel concurrently
	g, gctx = errgroup.WithContext(ctx)
	for i, r := range started {
		require.Equal(t, "awaiting_approval", r.Status)
		gateID := r.Steps[1].ID
		runID := r.ID
		i := i
		g.Go(func() error {
			if i%4 == 0 {
				_, err := h.orch.CancelRun(gctx, tenant, runID, "stress")
				return err
			}
			_, err := h.gateway.ApproveStep(gctx, tenant, dto.ApproveStepRequest{StepID: gateID, Approved: true, ActorRole: "legal"})
			return err
		})
		g.Go(func() error {
			_, err := h.orch.GetRun(gctx, tenant, runID)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Zero(t, h.dispatcher.Violations(), "a run never has two dispatches in flight")
	assert.Equal(t, 1, h.dispatcher.Inflight().MaxPeak())

	perRun := map[model.RunID][]int{}
	for _, c := range h.dispatcher.Calls() {
		perRun[c.RunID] = append(perRun[c.RunID], c.StepIndex)
	}
	for i, r := range started {
		final := h.get(t, r.ID)
		indexes := perRun[model.RunID(r.ID)]
		if i%4 == 0 {
			assert.Equal(t, "cancelled", final.Status)
			assert.Equal(t, []int{0}, indexes)
			continue
		}
		assert.Equal(t, "completed", final.Status)
		assert.Equal(t, []int{0, 1, 2, 3}, indexes, "steps dispatch in strictly increasing order")
	}
	assert.Zero(t, h.orch.ActiveRuns())
}
