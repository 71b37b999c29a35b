package service

import (
	"context"
	"strings"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/repository"
)

// GetRun returns the latest state of a run, including changes stored by other processes
func (o *Orchestrator) GetRun(ctx context.Context, tenant model.TenantID, runID string) (*dto.RunDTO, error) {
	u, err := o.unit(ctx, tenant, model.RunID(runID))
	if err != nil {
		return nil, err
	}
	return u.snapshot(), nil
}

// ListRuns filters, sorts and pages the runs of a tenant
func (o *Orchestrator) ListRuns(ctx context.Context, tenant model.TenantID, req dto.ListRunsRequest) (*dto.ListRunsResponse, error) {
	filter := repository.RunFilter{
		SortBy:    repository.SortByStartedAt,
		SortOrder: repository.SortDesc,
		Limit:     req.Limit,
		Offset:    req.Offset,
	}
	if req.Limit < 0 || req.Offset < 0 {
		return nil, model.NewValidationError("limit and offset must not be negative")
	}
	if req.ScenarioID != "" {
		id := model.ScenarioID(req.ScenarioID)
		filter.ScenarioID = &id
	}
	if req.PlaybookID != "" {
		id := model.PlaybookID(req.PlaybookID)
		filter.PlaybookID = &id
	}
	if req.Status != "" {
		status := run.Status(strings.ToLower(req.Status))
		if !status.IsValid() {
			return nil, model.NewValidationError("unknown run status %q", req.Status)
		}
		filter.Status = &status
	}
	if req.SortBy != "" {
		filter.SortBy = repository.RunSortField(strings.ToLower(req.SortBy))
		if !filter.SortBy.IsValid() {
			return nil, model.NewValidationError("cannot sort runs by %q", req.SortBy)
		}
	}
	if req.SortOrder != "" {
		filter.SortOrder = repository.SortOrder(strings.ToLower(req.SortOrder))
		if !filter.SortOrder.IsValid() {
			return nil, model.NewValidationError("unknown sort order %q", req.SortOrder)
		}
	}

	runs, total, err := o.runRepo.List(ctx, tenant, filter)
	if err != nil {
		return nil, err
	}
	out := &dto.ListRunsResponse{
		Runs:    make([]*dto.RunDTO, len(runs)),
		Total:   total,
		HasMore: req.Offset+len(runs) < total,
	}
	for i, r := range runs {
		out.Runs[i] = dto.FromRun(r)
	}
	return out, nil
}

// Trend compares the two most recent completed runs of a scenario
func (o *Orchestrator) Trend(ctx context.Context, tenant model.TenantID, scenarioID string) (*dto.TrendDTO, error) {
	id := model.ScenarioID(scenarioID)
	if _, err := o.scenarioRepo.Find(ctx, tenant, id); err != nil {
		return nil, err
	}

	completed := run.StatusCompleted
	runs, _, err := o.runRepo.List(ctx, tenant, repository.RunFilter{
		ScenarioID: &id,
		Status:     &completed,
		SortBy:     repository.SortByCompletedAt,
		SortOrder:  repository.SortDesc,
		Limit:      2,
	})
	if err != nil {
		return nil, err
	}

	out := &dto.TrendDTO{
		ScenarioID:       scenarioID,
		RiskTrend:        string(model.TrendUnknown),
		OpportunityTrend: string(model.TrendUnknown),
	}
	if len(runs) == 0 {
		return out, nil
	}
	latest := runs[0]
	out.RiskScore = latest.RiskScore
	out.OpportunityScore = latest.OpportunityScore
	if len(runs) < 2 || latest.RiskScore == nil || latest.OpportunityScore == nil {
		return out, nil
	}
	previous := runs[1]
	out.PreviousRiskScore = previous.RiskScore
	out.PreviousOpportunity = previous.OpportunityScore
	out.RiskTrend = string(model.RiskTrend(*latest.RiskScore, previous.RiskScore))
	out.OpportunityTrend = string(model.ScoreTrend(*latest.OpportunityScore, previous.OpportunityScore))
	return out, nil
}
