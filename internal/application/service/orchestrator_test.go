package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/scenario"
	"github.com/YoshitsuguKoike/deeplay/internal/infrastructure/dispatcher"
	"github.com/YoshitsuguKoike/deeplay/internal/infrastructure/repository/mock"
	"github.com/YoshitsuguKoike/deeplay/internal/infrastructure/transaction"
)

var tenant = model.MustTenantID("acme")

const (
	eventually = 2 * time.Second
	tick       = 5 * time.Millisecond
)

type recordingMetrics struct {
	mu        sync.Mutex
	started   int
	finished  map[run.Status]int
	decisions []bool
	active    int
}

func (m *recordingMetrics) RunStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *recordingMetrics) RunFinished(status run.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finished == nil {
		m.finished = make(map[run.Status]int)
	}
	m.finished[status]++
}

func (m *recordingMetrics) StepDispatched(playbook.ActionType, bool, time.Duration) {}

func (m *recordingMetrics) ApprovalDecided(approved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, approved)
}

func (m *recordingMetrics) SetActiveRuns(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = n
}

func (m *recordingMetrics) finishedCount(status run.Status) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished[status]
}

type harness struct {
	orch         *Orchestrator
	gateway      *ApprovalGateway
	clock        *clocktesting.FakeClock
	dispatcher   *dispatcher.MemoryDispatcher
	playbookRepo *mock.MockPlaybookRepository
	scenarioRepo *mock.MockScenarioRepository
	runRepo      *mock.MockRunRepository
	metrics      *recordingMetrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, _ := test.NewNullLogger()
	h := &harness{
		clock:        clocktesting.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		dispatcher:   dispatcher.NewMemoryDispatcher(),
		playbookRepo: mock.NewMockPlaybookRepository(),
		scenarioRepo: mock.NewMockScenarioRepository(),
		runRepo:      mock.NewMockRunRepository(),
		metrics:      &recordingMetrics{},
	}
	h.orch = NewOrchestrator(OrchestratorDeps{
		RunRepo:      h.runRepo,
		ScenarioRepo: h.scenarioRepo,
		PlaybookRepo: h.playbookRepo,
		TxManager:    transaction.NewMockTransactionManager(),
		Dispatcher:   h.dispatcher,
		Clock:        h.clock,
		Metrics:      h.metrics,
		Logger:       logger,
	})
	h.gateway = NewApprovalGateway(h.orch, logger)
	t.Cleanup(h.orch.Stop)
	return h
}

// gatedSteps is the three-step playbook: notify, approval gate, publish after 5 minutes
func gatedSteps() []playbook.StepDefinition {
	return []playbook.StepDefinition{
		{StepIndex: 0, Name: "Brief stakeholders", ActionType: playbook.ActionStakeholderNotify},
		{StepIndex: 1, Name: "Legal sign-off", ActionType: playbook.ActionApprovalGate, RequiresApproval: true, ApprovalRoles: []string{"legal", "pr_lead"}},
		{StepIndex: 2, Name: "Publish statement", ActionType: playbook.ActionContentPublish, WaitDurationMinutes: 5},
	}
}

func (h *harness) seed(t *testing.T, activate bool, steps []playbook.StepDefinition) (*playbook.Template, *scenario.Scenario) {
	t.Helper()
	ctx := context.Background()
	now := h.clock.Now()
	tpl, err := playbook.NewTemplate(tenant, playbook.TemplateMetadata{Name: "Crisis"}, steps, now)
	require.NoError(t, err)
	if activate {
		require.NoError(t, tpl.Activate(now))
	}
	require.NoError(t, h.playbookRepo.Insert(ctx, tpl))

	sc, err := scenario.NewScenario(tenant, "Recall", "crisis", scenario.Binding{PlaybookID: tpl.ID(), Version: tpl.Version()},
		model.Payload{"product": "widget"}, model.RiskHigh, 14, now)
	require.NoError(t, err)
	require.NoError(t, h.scenarioRepo.Save(ctx, sc))
	return tpl, sc
}

func (h *harness) get(t *testing.T, runID string) *dto.RunDTO {
	t.Helper()
	r, err := h.orch.GetRun(context.Background(), tenant, runID)
	require.NoError(t, err)
	return r
}

// peek is safe to call from Eventually conditions
func (h *harness) peek(runID string) *dto.RunDTO {
	r, err := h.orch.GetRun(context.Background(), tenant, runID)
	if err != nil {
		return &dto.RunDTO{}
	}
	return r
}

func (h *harness) waitForStatus(t *testing.T, runID string, status run.Status) *dto.RunDTO {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.peek(runID).Status == status.String()
	}, eventually, tick, "run never reached %s", status)
	return h.get(t, runID)
}

func stepStatuses(r *dto.RunDTO) []string {
	out := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Status
	}
	return out
}

func TestEndToEnd_ApproveThenComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, sc := h.seed(t, true, gatedSteps())

	r, err := h.orch.StartRun(ctx, tenant, sc.ID().String())
	require.NoError(t, err)
	assert.Equal(t, "awaiting_approval", r.Status)
	assert.Equal(t, []string{"completed", "ready", "pending"}, stepStatuses(r))
	assert.Equal(t, 1, h.dispatcher.CallCount())

	step, err := h.gateway.ApproveStep(ctx, tenant, dto.ApproveStepRequest{StepID: r.Steps[1].ID, Approved: true, Notes: "ok", ActorRole: "legal"})
	require.NoError(t, err)
	assert.Equal(t, "completed", step.Status)
	require.NotNil(t, step.Approved)
	assert.True(t, *step.Approved)
	assert.NotNil(t, step.ApprovedAt)

	r = h.get(t, r.ID)
	assert.Equal(t, "running", r.Status)
	assert.Equal(t, "pending", r.Steps[2].Status)
	require.NotNil(t, r.Steps[2].WaitUntil)
	assert.Equal(t, h.clock.Now().Add(5*time.Minute), *r.Steps[2].WaitUntil)

	h.clock.Step(4 * time.Minute)
	assert.Equal(t, "pending", h.get(t, r.ID).Steps[2].Status)

	h.clock.Step(time.Minute)
	r = h.waitForStatus(t, r.ID, run.StatusCompleted)
	assert.Equal(t, []string{"completed", "completed", "completed"}, stepStatuses(r))
	assert.NotNil(t, r.CompletedAt)
	assert.NotNil(t, r.RiskScore)
	assert.NotEmpty(t, r.NarrativeSummary)

	calls := h.dispatcher.Calls()
	require.Len(t, calls, 3)
	for i, c := range calls {
		assert.Equal(t, i, c.StepIndex)
		assert.Equal(t, model.RiskHigh, c.Baseline, "the run baseline reaches the dispatcher")
	}
	assert.Equal(t, "widget", calls[2].ExecutionContext["product"])
	assert.Len(t, calls[2].ExecutionContext["previous_steps"], 2)

	assert.Equal(t, 1, h.metrics.finishedCount(run.StatusCompleted))
	assert.Zero(t, h.orch.ActiveRuns())
}

func TestEndToEnd_RejectStillCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, sc := h.seed(t, true, gatedSteps())

	r, err := h.orch.StartRun(ctx, tenant, sc.ID().String())
	require.NoError(t, err)

	step, err := h.gateway.ApproveStep(ctx, tenant, dto.ApproveStepRequest{StepID: r.Steps[1].ID, Approved: false, Notes: "not relevant"})
	require.NoError(t, err)
	assert.Equal(t, "skipped", step.Status)
	assert.Equal(t, "not relevant", step.ApprovalNotes)

	h.clock.Step(5 * time.Minute)
	r = h.waitForStatus(t, r.ID, run.StatusCompleted)
	assert.Equal(t, []string{"completed", "skipped", "completed"}, stepStatuses(r))
	assert.Equal(t, 2, h.dispatcher.CallCount(), "the rejected step is never dispatched")
}

func TestEndToEnd_DispatchFailureFailsRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.dispatcher.On(playbook.ActionContentPublish, dispatcher.Fail("cms unavailable"))
	_, sc := h.seed(t, true, gatedSteps())

	r, err := h.orch.StartRun(ctx, tenant, sc.ID().String())
	require.NoError(t, err)
	_, err = h.gateway.ApproveStep(ctx, tenant, dto.ApproveStepRequest{StepID: r.Steps[1].ID, Approved: true})
	require.NoError(t, err)

	h.clock.Step(5 * time.Minute)
	r = h.waitForStatus(t, r.ID, run.StatusFailed)
	assert.Equal(t, []string{"completed", "completed", "failed"}, stepStatuses(r))
	assert.Contains(t, r.ErrorMessage, "cms unavailable")
	assert.Equal(t, "cms unavailable", r.Steps[2].ErrorMessage)
	assert.Equal(t, 1, h.metrics.finishedCount(run.StatusFailed))
}

func TestDispatchErrorCountsAsFailure(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.Default(func(context.Context, output.DispatchRequest) (output.DispatchResult, error) {
		return output.DispatchResult{}, errors.New("connection reset")
	})
	_, sc := h.seed(t, true, []playbook.StepDefinition{
		{StepIndex: 0, Name: "Alert", ActionType: playbook.ActionMediaAlert},
		{StepIndex: 1, Name: "Publish", ActionType: playbook.ActionContentPublish},
	})

	r, err := h.orch.StartRun(context.Background(), tenant, sc.ID().String())
	require.NoError(t, err)
	assert.Equal(t, "failed", r.Status)
	assert.Equal(t, []string{"failed", "pending"}, stepStatuses(r))
	assert.Contains(t, r.ErrorMessage, "connection reset")
	assert.Equal(t, 1, h.dispatcher.CallCount(), "failures are not retried")
}

func TestStartRun_RequiresActiveVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, draft := h.seed(t, false, gatedSteps())
	_, err := h.orch.StartRun(ctx, tenant, draft.ID().String())
	assert.True(t, model.IsStateConflict(err))

	tpl, archived := h.seed(t, true, gatedSteps())
	require.NoError(t, h.playbookRepo.Archive(ctx, tenant, tpl.ID(), h.clock.Now()))
	_, err = h.orch.StartRun(ctx, tenant, archived.ID().String())
	assert.True(t, model.IsStateConflict(err))

	_, err = h.orch.StartRun(ctx, tenant, "missing")
	assert.True(t, model.IsNotFound(err))

	_, err = h.orch.StartRun(ctx, model.MustTenantID("other"), archived.ID().String())
	assert.True(t, model.IsNotFound(err), "tenants are isolated")
	assert.Zero(t, h.runRepo.Saves())
}

func TestEditMidRunDoesNotReachRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tpl, sc := h.seed(t, true, gatedSteps())

	r, err := h.orch.StartRun(ctx, tenant, sc.ID().String())
	require.NoError(t, err)
	before := r.Steps

	v2, err := tpl.NextVersion([]playbook.StepDefinition{
		{StepIndex: 0, Name: "Other", ActionType: playbook.ActionOutreach},
	}, h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, h.playbookRepo.Insert(ctx, v2))
	require.NoError(t, h.playbookRepo.Archive(ctx, tenant, tpl.ID(), h.clock.Now()))

	after := h.get(t, r.ID)
	require.Len(t, after.Steps, 3)
	for i := range before {
		assert.Equal(t, before[i].Name, after.Steps[i].Name)
		assert.Equal(t, before[i].ActionType, after.Steps[i].ActionType)
	}
	assert.Equal(t, 1, after.PlaybookVersion)

	_, err = h.gateway.ApproveStep(ctx, tenant, dto.ApproveStepRequest{StepID: r.Steps[1].ID, Approved: true})
	require.NoError(t, err)
	h.clock.Step(5 * time.Minute)
	h.waitForStatus(t, r.ID, run.StatusCompleted)
}

func TestPauseResume_KeepsRemainingWait(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, sc := h.seed(t, true, []playbook.StepDefinition{
		{StepIndex: 0, Name: "Cool down", ActionType: playbook.ActionWait, WaitDurationMinutes: 30},
		{StepIndex: 1, Name: "Publish", ActionType: playbook.ActionContentPublish},
	})

	r, err := h.orch.StartRun(ctx, tenant, sc.ID().String())
	require.NoError(t, err)
	assert.Equal(t, "running", r.Status)
	assert.True(t, h.clock.HasWaiters())

	h.clock.Step(10 * time.Minute)
	r, err = h.orch.PauseRun(ctx, tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "paused", r.Status)
	assert.Equal(t, (20 * time.Minute).String(), r.Steps[0].WaitRemaining)
	assert.Nil(t, r.Steps[0].WaitUntil)
	assert.False(t, h.clock.HasWaiters(), "pausing stops the timer")

	h.clock.Step(time.Hour)
	assert.Equal(t, "pending", h.get(t, r.ID).Steps[0].Status, "a paused wait does not elapse")

	_, err = h.orch.PauseRun(ctx, tenant, r.ID)
	assert.True(t, model.IsStateConflict(err))

	r, err = h.orch.ResumeRun(ctx, tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "running", r.Status)
	require.NotNil(t, r.Steps[0].WaitUntil)
	assert.Equal(t, h.clock.Now().Add(20*time.Minute), *r.Steps[0].WaitUntil)

	h.clock.Step(19 * time.Minute)
	assert.Equal(t, "pending", h.get(t, r.ID).Steps[0].Status)

	h.clock.Step(time.Minute)
	r = h.waitForStatus(t, r.ID, run.StatusCompleted)
	assert.Equal(t, []string{"completed", "completed"}, stepStatuses(r))

	_, err = h.orch.ResumeRun(ctx, tenant, r.ID)
	assert.True(t, model.IsStateConflict(err))
}

func TestCancel_FromEveryNonTerminalStatus(t *testing.T) {
	waitingSteps := []playbook.StepDefinition{
		{StepIndex: 0, Name: "Notify", ActionType: playbook.ActionStakeholderNotify},
		{StepIndex: 1, Name: "Cool down", ActionType: playbook.ActionWait, WaitDurationMinutes: 30},
		{StepIndex: 2, Name: "Publish", ActionType: playbook.ActionContentPublish},
	}

	tests := []struct {
		name    string
		steps   []playbook.StepDefinition
		prepare func(t *testing.T, h *harness, runID string)
		from    string
	}{
		{
			name:  "running",
			steps: waitingSteps,
			from:  "running",
		},
		{
			name:  "paused",
			steps: waitingSteps,
			prepare: func(t *testing.T, h *harness, runID string) {
				_, err := h.orch.PauseRun(context.Background(), tenant, runID)
				require.NoError(t, err)
			},
			from: "paused",
		},
		{
			name:  "awaiting_approval",
			steps: gatedSteps(),
			from:  "awaiting_approval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			_, sc := h.seed(t, true, tt.steps)

			r, err := h.orch.StartRun(ctx, tenant, sc.ID().String())
			require.NoError(t, err)
			if tt.prepare != nil {
				tt.prepare(t, h, r.ID)
			}
			require.Equal(t, tt.from, h.get(t, r.ID).Status)

			r, err = h.orch.CancelRun(ctx, tenant, r.ID, "campaign pulled")
			require.NoError(t, err)
			assert.Equal(t, "cancelled", r.Status)
			assert.Equal(t, "campaign pulled", r.CancelReason)
			assert.Equal(t, []string{"completed", "skipped", "skipped"}, stepStatuses(r), "completed steps are untouched")
			assert.False(t, h.clock.HasWaiters())

			_, err = h.orch.CancelRun(ctx, tenant, r.ID, "again")
			assert.True(t, model.IsStateConflict(err))
			assert.Equal(t, 1, h.metrics.finishedCount(run.StatusCancelled))
		})
	}
}

func TestCancel_Pending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tpl, sc := h.seed(t, true, gatedSteps())

	pending, err := run.NewScenarioRun(run.NewRunParams{
		TenantID:        tenant,
		ScenarioID:      sc.ID(),
		PlaybookID:      tpl.ID(),
		PlaybookVersion: tpl.Version(),
		Baseline:        sc.Baseline(),
		Steps:           tpl.Steps(),
	}, h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, h.runRepo.Save(ctx, pending))

	r, err := h.orch.CancelRun(ctx, tenant, pending.ID.String(), "never mind")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", r.Status)
	assert.Equal(t, []string{"skipped", "skipped", "skipped"}, stepStatuses(r))
	assert.Zero(t, h.dispatcher.CallCount())
}

func TestCancel_LateApprovalConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, sc := h.seed(t, true, gatedSteps())

	r, err := h.orch.StartRun(ctx, tenant, sc.ID().String())
	require.NoError(t, err)
	_, err = h.orch.CancelRun(ctx, tenant, r.ID, "stop")
	require.NoError(t, err)

	_, err = h.gateway.ApproveStep(ctx, tenant, dto.ApproveStepRequest{StepID: r.Steps[1].ID, Approved: true})
	assert.True(t, model.IsStateConflict(err))
}

func TestCancel_WaitsForExecutingStep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	started := make(chan output.DispatchRequest, 1)
	release := make(chan struct{})
	h.dispatcher.On(playbook.ActionMediaAlert, dispatcher.Blocking(started, release, dispatcher.Succeed()))
	_, sc := h.seed(t, true, []playbook.StepDefinition{
		{StepIndex: 0, Name: "Alert", ActionType: playbook.ActionMediaAlert},
		{StepIndex: 1, Name: "Publish", ActionType: playbook.ActionContentPublish},
	})

	startDone := make(chan *dto.RunDTO, 1)
	go func() {
		r, err := h.orch.StartRun(ctx, tenant, sc.ID().String())
		assert.NoError(t, err)
		startDone <- r
	}()
	req := <-started

	cancelDone := make(chan *dto.RunDTO, 1)
	go func() {
		r, err := h.orch.CancelRun(ctx, tenant, req.RunID.String(), "pulled")
		assert.NoError(t, err)
		cancelDone <- r
	}()

	require.Eventually(t, func() bool {
		r := h.peek(req.RunID.String())
		return len(r.Steps) == 2 && r.Steps[1].Status == "skipped"
	}, eventually, tick)
	mid := h.get(t, req.RunID.String())
	assert.Equal(t, "running", mid.Status, "cancel waits for the executing step")
	assert.Equal(t, "executing", mid.Steps[0].Status)

	close(release)
	r := <-cancelDone
	<-startDone
	assert.Equal(t, "cancelled", r.Status)
	assert.Equal(t, []string{"completed", "skipped"}, stepStatuses(r), "the executing step finishes")
	assert.Equal(t, 1, h.dispatcher.CallCount())
}

func TestCancel_ContextDoneWhileWaiting(t *testing.T) {
	h := newHarness(t)
	started := make(chan output.DispatchRequest, 1)
	release := make(chan struct{})
	h.dispatcher.Default(dispatcher.Blocking(started, release, dispatcher.Succeed()))
	_, sc := h.seed(t, true, []playbook.StepDefinition{
		{StepIndex: 0, Name: "Alert", ActionType: playbook.ActionMediaAlert},
	})

	startDone := make(chan struct{})
	go func() {
		defer close(startDone)
		_, _ = h.orch.StartRun(context.Background(), tenant, sc.ID().String())
	}()
	req := <-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.orch.CancelRun(ctx, tenant, req.RunID.String(), "pulled")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-startDone
	assert.Equal(t, "cancelled", h.get(t, req.RunID.String()).Status, "the deferred cancel still lands")
}

func TestPauseDuringDispatch_HoldsAdvancement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	started := make(chan output.DispatchRequest, 1)
	release := make(chan struct{})
	h.dispatcher.On(playbook.ActionMediaAlert, dispatcher.Blocking(started, release, dispatcher.Succeed()))
	_, sc := h.seed(t, true, []playbook.StepDefinition{
		{StepIndex: 0, Name: "Alert", ActionType: playbook.ActionMediaAlert},
		{StepIndex: 1, Name: "Publish", ActionType: playbook.ActionContentPublish},
	})

	startDone := make(chan struct{})
	go func() {
		defer close(startDone)
		_, err := h.orch.StartRun(ctx, tenant, sc.ID().String())
		assert.NoError(t, err)
	}()
	req := <-started

	_, err := h.orch.PauseRun(ctx, tenant, req.RunID.String())
	require.NoError(t, err)
	close(release)
	<-startDone

	r := h.get(t, req.RunID.String())
	assert.Equal(t, "paused", r.Status)
	assert.Equal(t, []string{"completed", "pending"}, stepStatuses(r), "the landed result is applied, advancement waits")

	_, err = h.orch.ResumeRun(ctx, tenant, r.ID)
	require.NoError(t, err)
	h.waitForStatus(t, r.ID, run.StatusCompleted)
}

func TestApproveStep_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, sc := h.seed(t, true, gatedSteps())

	r, err := h.orch.StartRun(ctx, tenant, sc.ID().String())
	require.NoError(t, err)

	_, err = h.gateway.ApproveStep(ctx, tenant, dto.ApproveStepRequest{StepID: r.Steps[1].ID, Approved: false})
	assert.True(t, model.IsValidation(err), "rejection needs notes")

	_, err = h.gateway.ApproveStep(ctx, tenant, dto.ApproveStepRequest{StepID: r.Steps[1].ID, Approved: true, ActorRole: "intern"})
	assert.True(t, model.IsValidation(err), "role outside approval roles")

	_, err = h.gateway.ApproveStep(ctx, tenant, dto.ApproveStepRequest{StepID: r.Steps[0].ID, Approved: true})
	assert.True(t, model.IsStateConflict(err), "step is not awaiting approval")

	_, err = h.gateway.ApproveStep(ctx, tenant, dto.ApproveStepRequest{StepID: "missing", Approved: true})
	assert.True(t, model.IsNotFound(err))

	_, err = h.gateway.ApproveStep(ctx, model.MustTenantID("other"), dto.ApproveStepRequest{StepID: r.Steps[1].ID, Approved: true})
	assert.True(t, model.IsNotFound(err))

	assert.Equal(t, "awaiting_approval", h.get(t, r.ID).Status, "failed decisions change nothing")

	_, err = h.gateway.ApproveStep(ctx, tenant, dto.ApproveStepRequest{StepID: r.Steps[1].ID, Approved: true, ActorRole: "pr_lead"})
	require.NoError(t, err)
	_, err = h.gateway.ApproveStep(ctx, tenant, dto.ApproveStepRequest{StepID: r.Steps[1].ID, Approved: true})
	assert.True(t, model.IsStateConflict(err), "a step is decided once")
}

func TestListRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, sc := h.seed(t, true, []playbook.StepDefinition{
		{StepIndex: 0, Name: "Alert", ActionType: playbook.ActionMediaAlert},
	})
	_, gated := h.seed(t, true, gatedSteps())

	var ids []string
	for i := 0; i < 3; i++ {
		r, err := h.orch.StartRun(ctx, tenant, sc.ID().String())
		require.NoError(t, err)
		ids = append(ids, r.ID)
		h.clock.Step(time.Minute)
	}
	_, err := h.orch.StartRun(ctx, tenant, gated.ID().String())
	require.NoError(t, err)

	all, err := h.orch.ListRuns(ctx, tenant, dto.ListRunsRequest{})
	require.NoError(t, err)
	assert.Equal(t, 4, all.Total)
	assert.False(t, all.HasMore)

	page, err := h.orch.ListRuns(ctx, tenant, dto.ListRunsRequest{ScenarioID: sc.ID().String(), SortBy: "started_at", SortOrder: "asc", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Runs, 2)
	assert.Equal(t, ids[0], page.Runs[0].ID)
	assert.Equal(t, ids[1], page.Runs[1].ID)

	rest, err := h.orch.ListRuns(ctx, tenant, dto.ListRunsRequest{ScenarioID: sc.ID().String(), SortOrder: "asc", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.False(t, rest.HasMore)
	require.Len(t, rest.Runs, 1)
	assert.Equal(t, ids[2], rest.Runs[0].ID)

	awaiting, err := h.orch.ListRuns(ctx, tenant, dto.ListRunsRequest{Status: "awaiting_approval"})
	require.NoError(t, err)
	assert.Equal(t, 1, awaiting.Total)

	for _, bad := range []dto.ListRunsRequest{{Status: "bogus"}, {SortBy: "name"}, {SortOrder: "up"}, {Limit: -1}} {
		_, err := h.orch.ListRuns(ctx, tenant, bad)
		assert.True(t, model.IsValidation(err), "%+v", bad)
	}
}

func TestTrend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, sc := h.seed(t, true, []playbook.StepDefinition{
		{StepIndex: 0, Name: "Publish", ActionType: playbook.ActionContentPublish},
	})

	trend, err := h.orch.Trend(ctx, tenant, sc.ID().String())
	require.NoError(t, err)
	assert.Equal(t, "unknown", trend.RiskTrend)

	h.dispatcher.On(playbook.ActionContentPublish, dispatcher.Report(run.NewImpact(1, 1, 1)))
	_, err = h.orch.StartRun(ctx, tenant, sc.ID().String())
	require.NoError(t, err)
	h.clock.Step(time.Minute)

	trend, err = h.orch.Trend(ctx, tenant, sc.ID().String())
	require.NoError(t, err)
	assert.Equal(t, "unknown", trend.RiskTrend, "one run has nothing to compare against")
	require.NotNil(t, trend.RiskScore)

	h.dispatcher.On(playbook.ActionContentPublish, dispatcher.Report(run.NewImpact(10, 10, 10)))
	_, err = h.orch.StartRun(ctx, tenant, sc.ID().String())
	require.NoError(t, err)

	trend, err = h.orch.Trend(ctx, tenant, sc.ID().String())
	require.NoError(t, err)
	assert.Equal(t, "improving", trend.RiskTrend)
	assert.Equal(t, "improving", trend.OpportunityTrend)
	assert.Less(t, *trend.RiskScore, *trend.PreviousRiskScore)

	_, err = h.orch.Trend(ctx, tenant, "missing")
	assert.True(t, model.IsNotFound(err))
}

func TestStop_RejectsNewWork(t *testing.T) {
	h := newHarness(t)
	_, sc := h.seed(t, true, []playbook.StepDefinition{
		{StepIndex: 0, Name: "Cool down", ActionType: playbook.ActionWait, WaitDurationMinutes: 30},
	})
	r, err := h.orch.StartRun(context.Background(), tenant, sc.ID().String())
	require.NoError(t, err)

	h.orch.Stop()
	assert.False(t, h.clock.HasWaiters())
	h.clock.Step(time.Hour)
	assert.Equal(t, "running", h.get(t, r.ID).Status)

	_, err = h.orch.StartRun(context.Background(), tenant, sc.ID().String())
	assert.ErrorIs(t, err, ErrOrchestratorStopped)
}

func TestSaveFailureLeavesRunUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, sc := h.seed(t, true, []playbook.StepDefinition{
		{StepIndex: 0, Name: "Cool down", ActionType: playbook.ActionWait, WaitDurationMinutes: 30},
	})
	r, err := h.orch.StartRun(ctx, tenant, sc.ID().String())
	require.NoError(t, err)

	h.runRepo.SetSaveError(errors.New("disk full"))
	_, err = h.orch.PauseRun(ctx, tenant, r.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, "running", h.get(t, r.ID).Status)
	assert.True(t, h.clock.HasWaiters(), "the timer keeps running")
	h.runRepo.SetSaveError(nil)
}
