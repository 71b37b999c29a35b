package dto

import (
	"time"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
)

// StepDTO mirrors a step definition for transport and YAML files
type StepDTO struct {
	StepIndex           int                    `json:"step_index" yaml:"step_index"`
	Name                string                 `json:"name" yaml:"name"`
	ActionType          string                 `json:"action_type" yaml:"action_type"`
	ActionPayload       map[string]interface{} `json:"action_payload,omitempty" yaml:"action_payload,omitempty"`
	RequiresApproval    bool                   `json:"requires_approval" yaml:"requires_approval"`
	ApprovalRoles       []string               `json:"approval_roles,omitempty" yaml:"approval_roles,omitempty"`
	WaitDurationMinutes int                    `json:"wait_duration_minutes" yaml:"wait_duration_minutes"`
}

// CreatePlaybookRequest holds the draft of a new template
type CreatePlaybookRequest struct {
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	Category    string    `json:"category" yaml:"category"`
	RiskLevel   string    `json:"risk_level" yaml:"risk_level"`
	TriggerType string    `json:"trigger_type" yaml:"trigger_type"`
	Steps       []StepDTO `json:"steps" yaml:"steps"`
}

// EditPlaybookRequest fully replaces the step list of a template
type EditPlaybookRequest struct {
	PlaybookID      string    `json:"playbook_id"`
	Steps           []StepDTO `json:"steps"`
	ExpectedVersion int       `json:"expected_version"`
}

// ListPlaybooksRequest filters template listings
type ListPlaybooksRequest struct {
	Status   string `json:"status,omitempty"`
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
}

// PlaybookDTO represents one template version
type PlaybookDTO struct {
	ID          string    `json:"id"`
	Version     int       `json:"version"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	RiskLevel   string    `json:"risk_level"`
	TriggerType string    `json:"trigger_type"`
	Status      string    `json:"status"`
	Steps       []StepDTO `json:"steps"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ToStepDefinitions converts transport steps into domain steps
func ToStepDefinitions(steps []StepDTO) []playbook.StepDefinition {
	out := make([]playbook.StepDefinition, len(steps))
	for i, s := range steps {
		out[i] = playbook.StepDefinition{
			StepIndex:           s.StepIndex,
			Name:                s.Name,
			ActionType:          playbook.ActionType(s.ActionType),
			ActionPayload:       model.Payload(s.ActionPayload).Clone(),
			RequiresApproval:    s.RequiresApproval,
			ApprovalRoles:       append([]string(nil), s.ApprovalRoles...),
			WaitDurationMinutes: s.WaitDurationMinutes,
		}
	}
	return out
}

// FromStepDefinition converts a domain step for transport
func FromStepDefinition(s playbook.StepDefinition) StepDTO {
	return StepDTO{
		StepIndex:           s.StepIndex,
		Name:                s.Name,
		ActionType:          s.ActionType.String(),
		ActionPayload:       s.ActionPayload.Clone(),
		RequiresApproval:    s.RequiresApproval,
		ApprovalRoles:       append([]string(nil), s.ApprovalRoles...),
		WaitDurationMinutes: s.WaitDurationMinutes,
	}
}

// FromTemplate converts a template version for transport
func FromTemplate(t *playbook.Template) *PlaybookDTO {
	meta := t.Metadata()
	steps := t.Steps()
	out := &PlaybookDTO{
		ID:          t.ID().String(),
		Version:     t.Version(),
		Name:        meta.Name,
		Description: meta.Description,
		Category:    meta.Category,
		RiskLevel:   meta.RiskLevel.String(),
		TriggerType: meta.TriggerType.String(),
		Status:      t.Status().String(),
		Steps:       make([]StepDTO, len(steps)),
		CreatedAt:   t.CreatedAt(),
		UpdatedAt:   t.UpdatedAt(),
	}
	for i, s := range steps {
		out.Steps[i] = FromStepDefinition(s)
	}
	return out
}
