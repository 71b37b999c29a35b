package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
)

// ApprovalGateway resolves human decisions on approval-gated steps.
// A decision is the only event that releases a run from awaiting_approval.
type ApprovalGateway struct {
	orchestrator *Orchestrator
	logger       logrus.FieldLogger
}

// NewApprovalGateway creates a gateway bound to the orchestrator that owns the runs
func NewApprovalGateway(orchestrator *Orchestrator, logger logrus.FieldLogger) *ApprovalGateway {
	return &ApprovalGateway{
		orchestrator: orchestrator,
		logger:       logger.WithField("component", "approval"),
	}
}

// ApproveStep records the decision and lets the run continue.
// Approval dispatches the step; rejection skips it.
func (g *ApprovalGateway) ApproveStep(ctx context.Context, tenant model.TenantID, req dto.ApproveStepRequest) (*dto.RunStepDTO, error) {
	o := g.orchestrator
	stepID := model.RunStepID(req.StepID)
	runID, err := o.runRepo.FindRunIDByStepID(ctx, tenant, stepID)
	if err != nil {
		return nil, err
	}
	u, err := o.unit(ctx, tenant, runID)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	step := u.run.StepByID(stepID)
	if step == nil {
		u.mu.Unlock()
		return nil, model.NewNotFoundError("run step", req.StepID)
	}
	idx := step.StepIndex()
	if u.run.Status != run.StatusAwaitingApproval || step.Status != run.StepReady {
		u.mu.Unlock()
		return nil, model.NewStateConflictError("step %s is not awaiting approval (run %s, step %s)", req.StepID, u.run.Status, step.Status)
	}
	if role := strings.TrimSpace(req.ActorRole); role != "" && !step.Definition.HasApprovalRole(role) {
		u.mu.Unlock()
		return nil, model.NewValidationError("role %q may not decide step %d", role, idx)
	}

	err = o.mutate(ctx, u, func(r *run.ScenarioRun, now time.Time) error {
		return r.RecordDecision(idx, req.Approved, req.Notes, now)
	})
	u.mu.Unlock()
	if err != nil {
		return nil, err
	}

	o.metrics.ApprovalDecided(req.Approved)
	g.logger.WithFields(logrus.Fields{
		"run_id":     runID,
		"tenant":     tenant,
		"step_index": idx,
		"approved":   req.Approved,
		"role":       req.ActorRole,
	}).Info("approval decided")

	if err := o.drive(ctx, u); err != nil {
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	out := dto.FromRunStep(u.run.Step(idx))
	return &out, nil
}
