package dto

import (
	"time"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
)

// ImpactDTO carries optional impact deltas
type ImpactDTO struct {
	SentimentDelta  *float64 `json:"sentiment_delta,omitempty"`
	CoverageDelta   *float64 `json:"coverage_delta,omitempty"`
	EngagementDelta *float64 `json:"engagement_delta,omitempty"`
}

// RunStepDTO represents one step of a run
type RunStepDTO struct {
	ID               string                 `json:"id"`
	StepIndex        int                    `json:"step_index"`
	Name             string                 `json:"name"`
	ActionType       string                 `json:"action_type"`
	Status           string                 `json:"status"`
	RequiresApproval bool                   `json:"requires_approval"`
	ApprovalRoles    []string               `json:"approval_roles,omitempty"`
	WaitMinutes      int                    `json:"wait_duration_minutes"`
	ExecutionContext map[string]interface{} `json:"execution_context,omitempty"`
	SimulatedImpact  ImpactDTO              `json:"simulated_impact"`
	ObservedImpact   ImpactDTO              `json:"observed_impact"`
	WaitUntil        *time.Time             `json:"wait_until,omitempty"`
	WaitRemaining    string                 `json:"wait_remaining,omitempty"`
	Approved         *bool                  `json:"approved,omitempty"`
	ApprovedAt       *time.Time             `json:"approved_at,omitempty"`
	ApprovalNotes    string                 `json:"approval_notes,omitempty"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
}

// RunDTO represents a scenario run
type RunDTO struct {
	ID               string       `json:"id"`
	ScenarioID       string       `json:"scenario_id"`
	PlaybookID       string       `json:"playbook_id"`
	PlaybookVersion  int          `json:"playbook_version"`
	Status           string       `json:"status"`
	StartedAt        time.Time    `json:"started_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	RiskScore        *float64     `json:"risk_score,omitempty"`
	OpportunityScore *float64     `json:"opportunity_score,omitempty"`
	NarrativeSummary string       `json:"narrative_summary,omitempty"`
	ErrorMessage     string       `json:"error_message,omitempty"`
	CancelReason     string       `json:"cancel_reason,omitempty"`
	Steps            []RunStepDTO `json:"steps"`
}

// ListRunsRequest filters, sorts and pages run listings
type ListRunsRequest struct {
	ScenarioID string `json:"scenario_id,omitempty"`
	PlaybookID string `json:"playbook_id,omitempty"`
	Status     string `json:"status,omitempty"`
	SortBy     string `json:"sort_by,omitempty"`
	SortOrder  string `json:"sort_order,omitempty"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}

// ListRunsResponse is one page of runs
type ListRunsResponse struct {
	Runs    []*RunDTO `json:"runs"`
	Total   int       `json:"total"`
	HasMore bool      `json:"has_more"`
}

// ApproveStepRequest is a human decision on a gated step
type ApproveStepRequest struct {
	StepID    string `json:"step_id"`
	Approved  bool   `json:"approved"`
	Notes     string `json:"notes"`
	ActorRole string `json:"actor_role,omitempty"`
}

// TrendDTO compares the two most recent completed runs of a scenario
type TrendDTO struct {
	ScenarioID          string   `json:"scenario_id"`
	RiskScore           *float64 `json:"risk_score,omitempty"`
	PreviousRiskScore   *float64 `json:"previous_risk_score,omitempty"`
	RiskTrend           string   `json:"risk_trend"`
	OpportunityScore    *float64 `json:"opportunity_score,omitempty"`
	PreviousOpportunity *float64 `json:"previous_opportunity_score,omitempty"`
	OpportunityTrend    string   `json:"opportunity_trend"`
}

func fromImpact(i run.Impact) ImpactDTO {
	c := i.Clone()
	return ImpactDTO{SentimentDelta: c.SentimentDelta, CoverageDelta: c.CoverageDelta, EngagementDelta: c.EngagementDelta}
}

// FromRunStep converts a run step for transport
func FromRunStep(s *run.RunStep) RunStepDTO {
	c := s.Clone()
	out := RunStepDTO{
		ID:               c.ID.String(),
		StepIndex:        c.StepIndex(),
		Name:             c.Definition.Name,
		ActionType:       c.Definition.ActionType.String(),
		Status:           c.Status.String(),
		RequiresApproval: c.Definition.RequiresApproval,
		ApprovalRoles:    c.Definition.ApprovalRoles,
		WaitMinutes:      c.Definition.WaitDurationMinutes,
		ExecutionContext: c.ExecutionContext,
		SimulatedImpact:  fromImpact(c.SimulatedImpact),
		ObservedImpact:   fromImpact(c.ObservedImpact),
		WaitUntil:        c.WaitUntil,
		Approved:         c.Approved,
		ApprovedAt:       c.ApprovedAt,
		ApprovalNotes:    c.ApprovalNotes,
		ErrorMessage:     c.ErrorMessage,
		StartedAt:        c.StartedAt,
		CompletedAt:      c.CompletedAt,
	}
	if c.WaitRemaining != nil {
		out.WaitRemaining = c.WaitRemaining.String()
	}
	return out
}

// FromRun converts a run for transport
func FromRun(r *run.ScenarioRun) *RunDTO {
	c := r.Clone()
	out := &RunDTO{
		ID:               c.ID.String(),
		ScenarioID:       c.ScenarioID.String(),
		PlaybookID:       c.PlaybookID.String(),
		PlaybookVersion:  c.PlaybookVersion,
		Status:           c.Status.String(),
		StartedAt:        c.StartedAt,
		CompletedAt:      c.CompletedAt,
		RiskScore:        c.RiskScore,
		OpportunityScore: c.OpportunityScore,
		NarrativeSummary: c.NarrativeSummary,
		ErrorMessage:     c.ErrorMessage,
		CancelReason:     c.CancelReason,
		Steps:            make([]RunStepDTO, len(c.Steps)),
	}
	for i, s := range c.Steps {
		out.Steps[i] = FromRunStep(s)
	}
	return out
}
