package dto

import (
	"time"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/scenario"
)

// CreateScenarioRequest binds a context to the current version of a template
type CreateScenarioRequest struct {
	Name              string                 `json:"name"`
	ScenarioType      string                 `json:"scenario_type"`
	PlaybookID        string                 `json:"playbook_id"`
	ContextParameters map[string]interface{} `json:"context_parameters"`
	BaselineRisk      string                 `json:"baseline_risk"`
	HorizonDays       int                    `json:"horizon_days"`
}

// ListScenariosRequest filters scenario listings
type ListScenariosRequest struct {
	PlaybookID string `json:"playbook_id,omitempty"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}

// ScenarioDTO represents a scenario
type ScenarioDTO struct {
	ID                string                 `json:"id"`
	Name              string                 `json:"name"`
	ScenarioType      string                 `json:"scenario_type"`
	PlaybookID        string                 `json:"playbook_id"`
	PlaybookVersion   int                    `json:"playbook_version"`
	ContextParameters map[string]interface{} `json:"context_parameters"`
	BaselineRisk      string                 `json:"baseline_risk"`
	HorizonDays       int                    `json:"horizon_days"`
	CreatedAt         time.Time              `json:"created_at"`
}

// FromScenario converts a scenario for transport
func FromScenario(s *scenario.Scenario) *ScenarioDTO {
	return &ScenarioDTO{
		ID:                s.ID().String(),
		Name:              s.Name(),
		ScenarioType:      s.ScenarioType(),
		PlaybookID:        s.Binding().PlaybookID.String(),
		PlaybookVersion:   s.Binding().Version,
		ContextParameters: s.Context(),
		BaselineRisk:      s.Baseline().String(),
		HorizonDays:       s.HorizonDays(),
		CreatedAt:         s.CreatedAt(),
	}
}
