package scenario

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
)

// MaxHorizonDays bounds the projection horizon of a scenario
const MaxHorizonDays = 365

// Binding pins a scenario to the template version current at creation time
type Binding struct {
	PlaybookID model.PlaybookID
	Version    int
}

// Scenario is a named binding of context and risk baseline to a template version
type Scenario struct {
	id           model.ScenarioID
	tenantID     model.TenantID
	name         string
	scenarioType string
	binding      Binding
	context      model.Payload
	baseline     model.RiskLevel
	horizonDays  int
	createdAt    time.Time
}

// NewScenario creates a scenario bound to a template version
func NewScenario(
	tenant model.TenantID,
	name string,
	scenarioType string,
	binding Binding,
	contextParameters model.Payload,
	baseline model.RiskLevel,
	horizonDays int,
	now time.Time,
) (*Scenario, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	switch {
	case tenant.IsZero():
		return nil, model.NewValidationError("tenant is required")
	case name == "":
		return nil, model.NewValidationError("scenario name is required")
	case binding.PlaybookID == "" || binding.Version < 1:
		return nil, model.NewValidationError("scenario must be bound to a playbook version")
	case !baseline.IsValid():
		return nil, model.NewValidationError("unknown baseline risk %q", baseline)
	case horizonDays < 1 || horizonDays > MaxHorizonDays:
		return nil, model.NewValidationError("horizon must be between 1 and %d days, got %d", MaxHorizonDays, horizonDays)
	}
	if contextParameters == nil {
		contextParameters = model.Payload{}
	}

	return &Scenario{
		id:           model.NewScenarioID(),
		tenantID:     tenant,
		name:         name,
		scenarioType: strings.TrimSpace(scenarioType),
		binding:      binding,
		context:      contextParameters.Clone(),
		baseline:     baseline,
		horizonDays:  horizonDays,
		createdAt:    now,
	}, nil
}

// ReconstructScenario reconstructs a scenario from stored data
func ReconstructScenario(
	id model.ScenarioID,
	tenant model.TenantID,
	name string,
	scenarioType string,
	binding Binding,
	contextParameters model.Payload,
	baseline model.RiskLevel,
	horizonDays int,
	createdAt time.Time,
) *Scenario {
	return &Scenario{
		id:           id,
		tenantID:     tenant,
		name:         name,
		scenarioType: scenarioType,
		binding:      binding,
		context:      contextParameters,
		baseline:     baseline,
		horizonDays:  horizonDays,
		createdAt:    createdAt,
	}
}

func (s *Scenario) ID() model.ScenarioID      { return s.id }
func (s *Scenario) TenantID() model.TenantID  { return s.tenantID }
func (s *Scenario) Name() string              { return s.name }
func (s *Scenario) ScenarioType() string      { return s.scenarioType }
func (s *Scenario) Binding() Binding          { return s.binding }
func (s *Scenario) Baseline() model.RiskLevel { return s.baseline }
func (s *Scenario) HorizonDays() int          { return s.horizonDays }
func (s *Scenario) CreatedAt() time.Time      { return s.createdAt }

// Context returns a copy of the context parameters
func (s *Scenario) Context() model.Payload {
	return s.context.Clone()
}
