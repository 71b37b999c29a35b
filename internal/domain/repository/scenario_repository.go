package repository

import (
	"context"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/scenario"
)

// ScenarioRepository persists scenarios
type ScenarioRepository interface {
	Save(ctx context.Context, s *scenario.Scenario) error
	Find(ctx context.Context, tenant model.TenantID, id model.ScenarioID) (*scenario.Scenario, error)
	List(ctx context.Context, tenant model.TenantID, filter ScenarioFilter) ([]*scenario.Scenario, error)
	Delete(ctx context.Context, tenant model.TenantID, id model.ScenarioID) error
}

// ScenarioFilter defines criteria for listing scenarios
type ScenarioFilter struct {
	PlaybookID *model.PlaybookID
	Limit      int
	Offset     int
}
