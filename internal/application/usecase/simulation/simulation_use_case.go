package simulation

import (
	"context"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/repository"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/service/simulation"
)

// SimulationUseCaseImpl implements input.SimulationUseCase.
// It only reads: there is no run repository and no dispatcher in reach.
type SimulationUseCaseImpl struct {
	scenarioRepo repository.ScenarioRepository
	playbookRepo repository.PlaybookRepository
	engine       *simulation.Engine
	clock        clock.PassiveClock
	logger       logrus.FieldLogger
}

// NewSimulationUseCase creates a new simulation use case
func NewSimulationUseCase(
	scenarioRepo repository.ScenarioRepository,
	playbookRepo repository.PlaybookRepository,
	engine *simulation.Engine,
	clk clock.PassiveClock,
	logger logrus.FieldLogger,
) *SimulationUseCaseImpl {
	return &SimulationUseCaseImpl{
		scenarioRepo: scenarioRepo,
		playbookRepo: playbookRepo,
		engine:       engine,
		clock:        clk,
		logger:       logger.WithField("component", "simulation"),
	}
}

// SimulateScenario projects the scenario over its bound template version
func (uc *SimulationUseCaseImpl) SimulateScenario(ctx context.Context, tenant model.TenantID, scenarioID string) (*simulation.Result, error) {
	sc, err := uc.scenarioRepo.Find(ctx, tenant, model.ScenarioID(scenarioID))
	if err != nil {
		return nil, err
	}
	binding := sc.Binding()
	tpl, err := uc.playbookRepo.FindVersion(ctx, tenant, binding.PlaybookID, binding.Version)
	if err != nil {
		return nil, err
	}

	result, err := uc.engine.Simulate(sc, tpl.Steps(), uc.clock.Now())
	if err != nil {
		return nil, err
	}

	uc.logger.WithFields(logrus.Fields{
		"tenant":      tenant,
		"scenario_id": scenarioID,
		"risk":        result.RiskScore,
		"opportunity": result.OpportunityScore,
	}).Debug("scenario simulated")
	return result, nil
}
