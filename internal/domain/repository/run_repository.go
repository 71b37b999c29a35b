package repository

import (
	"context"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
)

// RunRepository persists scenario runs together with their steps
type RunRepository interface {
	// Save stores the run and all of its steps. A run with Revision 0 is
	// inserted; otherwise the stored revision must equal r.Revision or a
	// ConcurrencyError is returned. On success r.Revision is incremented.
	Save(ctx context.Context, r *run.ScenarioRun) error

	// Find retrieves a run with its steps ordered by step index
	Find(ctx context.Context, tenant model.TenantID, id model.RunID) (*run.ScenarioRun, error)

	// FindRunIDByStepID resolves the run owning a step
	FindRunIDByStepID(ctx context.Context, tenant model.TenantID, stepID model.RunStepID) (model.RunID, error)

	// List retrieves runs matching filter and the total count before paging
	List(ctx context.Context, tenant model.TenantID, filter RunFilter) ([]*run.ScenarioRun, int, error)

	// ListNonTerminal retrieves every unfinished run across tenants, for recovery
	ListNonTerminal(ctx context.Context) ([]*run.ScenarioRun, error)

	// CountNonTerminal counts unfinished runs referencing a template or scenario
	CountNonTerminal(ctx context.Context, tenant model.TenantID, ref RunReference) (int, error)
}

// RunSortField selects the ordering column for run listings
type RunSortField string

const (
	SortByStartedAt   RunSortField = "started_at"
	SortByCompletedAt RunSortField = "completed_at"
)

// IsValid validates the sort field
func (f RunSortField) IsValid() bool {
	return f == SortByStartedAt || f == SortByCompletedAt
}

// SortOrder is asc or desc
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// IsValid validates the sort order
func (o SortOrder) IsValid() bool {
	return o == SortAsc || o == SortDesc
}

// RunFilter defines criteria for listing runs
type RunFilter struct {
	ScenarioID *model.ScenarioID // Filter by scenario
	PlaybookID *model.PlaybookID // Filter by source template, any version
	Status     *run.Status       // Filter by status
	SortBy     RunSortField      // Defaults to started_at
	SortOrder  SortOrder         // Defaults to desc
	Limit      int               // Limit number of results
	Offset     int               // Offset for pagination
}

// RunReference identifies what a run points at; exactly one field is set
type RunReference struct {
	PlaybookID *model.PlaybookID
	ScenarioID *model.ScenarioID
}
