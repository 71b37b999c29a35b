package scenario

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/scenario"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/repository"
)

// ScenarioUseCaseImpl implements input.ScenarioUseCase
type ScenarioUseCaseImpl struct {
	scenarioRepo repository.ScenarioRepository
	playbookRepo repository.PlaybookRepository
	runRepo      repository.RunRepository
	txManager    output.TransactionManager
	clock        clock.PassiveClock
	logger       logrus.FieldLogger
}

// NewScenarioUseCase creates a new scenario use case
func NewScenarioUseCase(
	scenarioRepo repository.ScenarioRepository,
	playbookRepo repository.PlaybookRepository,
	runRepo repository.RunRepository,
	txManager output.TransactionManager,
	clk clock.PassiveClock,
	logger logrus.FieldLogger,
) *ScenarioUseCaseImpl {
	return &ScenarioUseCaseImpl{
		scenarioRepo: scenarioRepo,
		playbookRepo: playbookRepo,
		runRepo:      runRepo,
		txManager:    txManager,
		clock:        clk,
		logger:       logger.WithField("component", "scenario"),
	}
}

// CreateScenario binds the scenario to the template's current version.
// Later edits of the template never move this binding.
func (uc *ScenarioUseCaseImpl) CreateScenario(ctx context.Context, tenant model.TenantID, req dto.CreateScenarioRequest) (*dto.ScenarioDTO, error) {
	var created *scenario.Scenario
	err := uc.txManager.InTransaction(ctx, func(txCtx context.Context) error {
		tpl, err := uc.playbookRepo.FindLatest(txCtx, tenant, model.PlaybookID(req.PlaybookID))
		if err != nil {
			return err
		}
		if tpl.Status() == playbook.StatusArchived {
			return model.NewStateConflictError("playbook %s is archived", tpl.ID())
		}

		created, err = scenario.NewScenario(
			tenant,
			req.Name,
			req.ScenarioType,
			scenario.Binding{PlaybookID: tpl.ID(), Version: tpl.Version()},
			model.Payload(req.ContextParameters),
			model.RiskLevel(strings.ToLower(req.BaselineRisk)),
			req.HorizonDays,
			uc.clock.Now(),
		)
		if err != nil {
			return err
		}
		return uc.scenarioRepo.Save(txCtx, created)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.WithFields(logrus.Fields{
		"tenant":      tenant,
		"scenario_id": created.ID(),
		"playbook_id": created.Binding().PlaybookID,
		"version":     created.Binding().Version,
	}).Info("scenario created")
	return dto.FromScenario(created), nil
}

// GetScenario retrieves a scenario by ID
func (uc *ScenarioUseCaseImpl) GetScenario(ctx context.Context, tenant model.TenantID, scenarioID string) (*dto.ScenarioDTO, error) {
	s, err := uc.scenarioRepo.Find(ctx, tenant, model.ScenarioID(scenarioID))
	if err != nil {
		return nil, err
	}
	return dto.FromScenario(s), nil
}

// ListScenarios lists scenarios, optionally those bound to one template
func (uc *ScenarioUseCaseImpl) ListScenarios(ctx context.Context, tenant model.TenantID, req dto.ListScenariosRequest) ([]*dto.ScenarioDTO, error) {
	filter := repository.ScenarioFilter{Limit: req.Limit, Offset: req.Offset}
	if req.PlaybookID != "" {
		id := model.PlaybookID(req.PlaybookID)
		filter.PlaybookID = &id
	}

	list, err := uc.scenarioRepo.List(ctx, tenant, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.ScenarioDTO, len(list))
	for i, s := range list {
		out[i] = dto.FromScenario(s)
	}
	return out, nil
}

// DeleteScenario removes a scenario unless a live run references it
func (uc *ScenarioUseCaseImpl) DeleteScenario(ctx context.Context, tenant model.TenantID, scenarioID string) error {
	id := model.ScenarioID(scenarioID)
	err := uc.txManager.InTransaction(ctx, func(txCtx context.Context) error {
		if _, err := uc.scenarioRepo.Find(txCtx, tenant, id); err != nil {
			return err
		}
		active, err := uc.runRepo.CountNonTerminal(txCtx, tenant, repository.RunReference{ScenarioID: &id})
		if err != nil {
			return err
		}
		if active > 0 {
			return model.NewStateConflictError("scenario %s is referenced by %d active run(s)", id, active)
		}
		return uc.scenarioRepo.Delete(txCtx, tenant, id)
	})
	if err != nil {
		return err
	}

	uc.logger.WithFields(logrus.Fields{"tenant": tenant, "scenario_id": scenarioID}).Info("scenario deleted")
	return nil
}
