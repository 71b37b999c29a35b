package di

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
)

var tenant = model.MustTenantID("acme")

func newTestContainer(t *testing.T, dbPath string) *Container {
	t.Helper()
	logger, _ := test.NewNullLogger()
	c, err := NewContainer(Config{
		DBPath:       dbPath,
		OutputWriter: &bytes.Buffer{},
		Dispatcher:   "noop",
		Logger:       logger,
	})
	require.NoError(t, err)
	return c
}

func counterValue(t *testing.T, c *Container, name string) float64 {
	t.Helper()
	families, err := c.GetRegistry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func gatedPlaybook() dto.CreatePlaybookRequest {
	return dto.CreatePlaybookRequest{
		Name:        "Recall",
		RiskLevel:   "high",
		TriggerType: "event",
		Steps: []dto.StepDTO{
			{StepIndex: 0, Name: "Notify", ActionType: "stakeholder_notify"},
			{StepIndex: 1, Name: "Legal review", ActionType: "approval_gate", RequiresApproval: true, ApprovalRoles: []string{"legal"}},
			{StepIndex: 2, Name: "Publish", ActionType: "content_publish"},
		},
	}
}

func TestContainer_RunSurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "deeplay.db")
	ctx := context.Background()

	c := newTestContainer(t, dbPath)
	pb, err := c.GetPlaybookUseCase().CreatePlaybook(ctx, tenant, gatedPlaybook())
	require.NoError(t, err)
	_, err = c.GetPlaybookUseCase().ActivatePlaybook(ctx, tenant, pb.ID)
	require.NoError(t, err)
	sc, err := c.GetScenarioUseCase().CreateScenario(ctx, tenant, dto.CreateScenarioRequest{
		Name: "Q3 recall", PlaybookID: pb.ID, BaselineRisk: "high", HorizonDays: 3,
	})
	require.NoError(t, err)

	sim, err := c.GetSimulationUseCase().SimulateScenario(ctx, tenant, sc.ID)
	require.NoError(t, err)
	assert.Len(t, sim.Timeline, 3)

	r, err := c.GetRunUseCase().StartRun(ctx, tenant, sc.ID)
	require.NoError(t, err)
	require.Equal(t, "awaiting_approval", r.Status)
	assert.Equal(t, 1.0, counterValue(t, c, "deeplay_runs_started_total"))
	require.NoError(t, c.Close())

	restarted := newTestContainer(t, dbPath)
	defer restarted.Close()
	require.NoError(t, restarted.Start(ctx))

	got, err := restarted.GetRunUseCase().GetRun(ctx, tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "awaiting_approval", got.Status)

	_, err = restarted.GetApprovalUseCase().ApproveStep(ctx, tenant, dto.ApproveStepRequest{
		StepID: got.Steps[1].ID, Approved: true, ActorRole: "legal",
	})
	require.NoError(t, err)

	got, err = restarted.GetRunUseCase().GetRun(ctx, tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.NotNil(t, got.RiskScore)
}

func TestContainer_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"unknown dispatcher", Config{Dispatcher: "kafka"}},
		{"unknown output format", Config{OutputFormat: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.DBPath = filepath.Join(t.TempDir(), "deeplay.db")
			logger, _ := test.NewNullLogger()
			tt.config.Logger = logger
			_, err := NewContainer(tt.config)
			assert.Error(t, err)
		})
	}
}
