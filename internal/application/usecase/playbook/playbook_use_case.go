package playbook

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/repository"
)

// PlaybookUseCaseImpl implements input.PlaybookUseCase
type PlaybookUseCaseImpl struct {
	playbookRepo repository.PlaybookRepository
	runRepo      repository.RunRepository
	txManager    output.TransactionManager
	clock        clock.PassiveClock
	logger       logrus.FieldLogger
}

// NewPlaybookUseCase creates a new playbook use case
func NewPlaybookUseCase(
	playbookRepo repository.PlaybookRepository,
	runRepo repository.RunRepository,
	txManager output.TransactionManager,
	clk clock.PassiveClock,
	logger logrus.FieldLogger,
) *PlaybookUseCaseImpl {
	return &PlaybookUseCaseImpl{
		playbookRepo: playbookRepo,
		runRepo:      runRepo,
		txManager:    txManager,
		clock:        clk,
		logger:       logger.WithField("component", "playbook"),
	}
}

// CreatePlaybook stores a validated draft as version 1
func (uc *PlaybookUseCaseImpl) CreatePlaybook(ctx context.Context, tenant model.TenantID, req dto.CreatePlaybookRequest) (*dto.PlaybookDTO, error) {
	tpl, err := playbook.NewTemplate(tenant, playbook.TemplateMetadata{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		RiskLevel:   model.RiskLevel(strings.ToLower(req.RiskLevel)),
		TriggerType: playbook.TriggerType(strings.ToLower(req.TriggerType)),
	}, dto.ToStepDefinitions(req.Steps), uc.clock.Now())
	if err != nil {
		return nil, err
	}

	err = uc.txManager.InTransaction(ctx, func(txCtx context.Context) error {
		return uc.playbookRepo.Insert(txCtx, tpl)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.WithFields(logrus.Fields{"tenant": tenant, "playbook_id": tpl.ID(), "steps": tpl.StepCount()}).Info("playbook created")
	return dto.FromTemplate(tpl), nil
}

// ActivatePlaybook moves the latest draft version to active
func (uc *PlaybookUseCaseImpl) ActivatePlaybook(ctx context.Context, tenant model.TenantID, playbookID string) (*dto.PlaybookDTO, error) {
	var activated *playbook.Template
	err := uc.txManager.InTransaction(ctx, func(txCtx context.Context) error {
		tpl, err := uc.playbookRepo.FindLatest(txCtx, tenant, model.PlaybookID(playbookID))
		if err != nil {
			return err
		}
		if err := tpl.Activate(uc.clock.Now()); err != nil {
			return err
		}
		activated = tpl
		return uc.playbookRepo.UpdateStatus(txCtx, tpl)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.WithFields(logrus.Fields{"tenant": tenant, "playbook_id": playbookID, "version": activated.Version()}).Info("playbook activated")
	return dto.FromTemplate(activated), nil
}

// ArchivePlaybook stops new runs from starting against any version; runs already started continue
func (uc *PlaybookUseCaseImpl) ArchivePlaybook(ctx context.Context, tenant model.TenantID, playbookID string) (*dto.PlaybookDTO, error) {
	var archived *playbook.Template
	err := uc.txManager.InTransaction(ctx, func(txCtx context.Context) error {
		id := model.PlaybookID(playbookID)
		if err := uc.playbookRepo.Archive(txCtx, tenant, id, uc.clock.Now()); err != nil {
			return err
		}
		tpl, err := uc.playbookRepo.FindLatest(txCtx, tenant, id)
		archived = tpl
		return err
	})
	if err != nil {
		return nil, err
	}

	uc.logger.WithFields(logrus.Fields{"tenant": tenant, "playbook_id": playbookID}).Info("playbook archived")
	return dto.FromTemplate(archived), nil
}

// DeletePlaybook removes every version unless a live run references any of them
func (uc *PlaybookUseCaseImpl) DeletePlaybook(ctx context.Context, tenant model.TenantID, playbookID string) error {
	id := model.PlaybookID(playbookID)
	err := uc.txManager.InTransaction(ctx, func(txCtx context.Context) error {
		if _, err := uc.playbookRepo.FindLatest(txCtx, tenant, id); err != nil {
			return err
		}
		active, err := uc.runRepo.CountNonTerminal(txCtx, tenant, repository.RunReference{PlaybookID: &id})
		if err != nil {
			return err
		}
		if active > 0 {
			return model.NewStateConflictError("playbook %s is referenced by %d active run(s)", id, active)
		}
		return uc.playbookRepo.Delete(txCtx, tenant, id)
	})
	if err != nil {
		return err
	}

	uc.logger.WithFields(logrus.Fields{"tenant": tenant, "playbook_id": playbookID}).Info("playbook deleted")
	return nil
}

// EditPlaybook replaces the full step list and commits it as version+1.
// Reordering steps is an edit with permuted stepIndex values.
func (uc *PlaybookUseCaseImpl) EditPlaybook(ctx context.Context, tenant model.TenantID, req dto.EditPlaybookRequest) (*dto.PlaybookDTO, error) {
	steps := dto.ToStepDefinitions(req.Steps)
	if _, err := playbook.NormalizeSteps(steps); err != nil {
		return nil, err
	}

	var next *playbook.Template
	err := uc.txManager.InTransaction(ctx, func(txCtx context.Context) error {
		current, err := uc.playbookRepo.FindLatest(txCtx, tenant, model.PlaybookID(req.PlaybookID))
		if err != nil {
			return err
		}
		if current.Version() != req.ExpectedVersion {
			return model.NewConcurrencyError(req.ExpectedVersion, current.Version())
		}
		next, err = current.NextVersion(steps, uc.clock.Now())
		if err != nil {
			return err
		}
		return uc.playbookRepo.Insert(txCtx, next)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.WithFields(logrus.Fields{"tenant": tenant, "playbook_id": req.PlaybookID, "version": next.Version()}).Info("playbook edited")
	return dto.FromTemplate(next), nil
}

// GetPlaybook retrieves the latest version, or the given version when version > 0
func (uc *PlaybookUseCaseImpl) GetPlaybook(ctx context.Context, tenant model.TenantID, playbookID string, version int) (*dto.PlaybookDTO, error) {
	var (
		tpl *playbook.Template
		err error
	)
	if version > 0 {
		tpl, err = uc.playbookRepo.FindVersion(ctx, tenant, model.PlaybookID(playbookID), version)
	} else {
		tpl, err = uc.playbookRepo.FindLatest(ctx, tenant, model.PlaybookID(playbookID))
	}
	if err != nil {
		return nil, err
	}
	return dto.FromTemplate(tpl), nil
}

// ListPlaybooks lists the latest version of each template
func (uc *PlaybookUseCaseImpl) ListPlaybooks(ctx context.Context, tenant model.TenantID, req dto.ListPlaybooksRequest) ([]*dto.PlaybookDTO, error) {
	filter := repository.PlaybookFilter{Category: req.Category, Limit: req.Limit, Offset: req.Offset}
	if req.Status != "" {
		status := playbook.Status(strings.ToLower(req.Status))
		if !status.IsValid() {
			return nil, model.NewValidationError("unknown playbook status %q", req.Status)
		}
		filter.Status = &status
	}

	templates, err := uc.playbookRepo.List(ctx, tenant, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.PlaybookDTO, len(templates))
	for i, t := range templates {
		out[i] = dto.FromTemplate(t)
	}
	return out, nil
}
