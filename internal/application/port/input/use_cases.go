package input

import (
	"context"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/service/simulation"
)

// PlaybookUseCase manages versioned playbook templates
type PlaybookUseCase interface {
	// CreatePlaybook stores a validated draft as version 1
	CreatePlaybook(ctx context.Context, tenant model.TenantID, req dto.CreatePlaybookRequest) (*dto.PlaybookDTO, error)

	// ActivatePlaybook moves the latest draft version to active
	ActivatePlaybook(ctx context.Context, tenant model.TenantID, playbookID string) (*dto.PlaybookDTO, error)

	// ArchivePlaybook stops new runs from starting against any version
	ArchivePlaybook(ctx context.Context, tenant model.TenantID, playbookID string) (*dto.PlaybookDTO, error)

	// DeletePlaybook removes every version unless a live run references it
	DeletePlaybook(ctx context.Context, tenant model.TenantID, playbookID string) error

	// EditPlaybook replaces the step list, producing version+1
	EditPlaybook(ctx context.Context, tenant model.TenantID, req dto.EditPlaybookRequest) (*dto.PlaybookDTO, error)

	// GetPlaybook retrieves the latest version, or a given version when version > 0
	GetPlaybook(ctx context.Context, tenant model.TenantID, playbookID string, version int) (*dto.PlaybookDTO, error)

	// ListPlaybooks lists the latest version of each template
	ListPlaybooks(ctx context.Context, tenant model.TenantID, req dto.ListPlaybooksRequest) ([]*dto.PlaybookDTO, error)
}

// ScenarioUseCase manages scenarios
type ScenarioUseCase interface {
	CreateScenario(ctx context.Context, tenant model.TenantID, req dto.CreateScenarioRequest) (*dto.ScenarioDTO, error)
	GetScenario(ctx context.Context, tenant model.TenantID, scenarioID string) (*dto.ScenarioDTO, error)
	ListScenarios(ctx context.Context, tenant model.TenantID, req dto.ListScenariosRequest) ([]*dto.ScenarioDTO, error)
	DeleteScenario(ctx context.Context, tenant model.TenantID, scenarioID string) error
}

// SimulationUseCase produces dry-run projections
type SimulationUseCase interface {
	// SimulateScenario never persists anything and never creates runs
	SimulateScenario(ctx context.Context, tenant model.TenantID, scenarioID string) (*simulation.Result, error)
}

// RunUseCase drives scenario runs
type RunUseCase interface {
	StartRun(ctx context.Context, tenant model.TenantID, scenarioID string) (*dto.RunDTO, error)
	PauseRun(ctx context.Context, tenant model.TenantID, runID string) (*dto.RunDTO, error)
	ResumeRun(ctx context.Context, tenant model.TenantID, runID string) (*dto.RunDTO, error)
	CancelRun(ctx context.Context, tenant model.TenantID, runID string, reason string) (*dto.RunDTO, error)
	GetRun(ctx context.Context, tenant model.TenantID, runID string) (*dto.RunDTO, error)
	ListRuns(ctx context.Context, tenant model.TenantID, req dto.ListRunsRequest) (*dto.ListRunsResponse, error)
	Trend(ctx context.Context, tenant model.TenantID, scenarioID string) (*dto.TrendDTO, error)
}

// ApprovalUseCase resolves human decisions on gated steps
type ApprovalUseCase interface {
	ApproveStep(ctx context.Context, tenant model.TenantID, req dto.ApproveStepRequest) (*dto.RunStepDTO, error)
}
