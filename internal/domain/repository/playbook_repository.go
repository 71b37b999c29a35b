package repository

import (
	"context"
	"time"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
)

// PlaybookRepository persists template versions keyed by (id, version)
type PlaybookRepository interface {
	// FindLatest retrieves the highest version of a template
	FindLatest(ctx context.Context, tenant model.TenantID, id model.PlaybookID) (*playbook.Template, error)

	// FindVersion retrieves one specific version of a template
	FindVersion(ctx context.Context, tenant model.TenantID, id model.PlaybookID, version int) (*playbook.Template, error)

	// Insert stores a new version
	// Returns a concurrency error if (id, version) already exists
	Insert(ctx context.Context, t *playbook.Template) error

	// UpdateStatus changes the status of one stored version
	UpdateStatus(ctx context.Context, t *playbook.Template) error

	// Archive marks every version of a template archived
	Archive(ctx context.Context, tenant model.TenantID, id model.PlaybookID, now time.Time) error

	// List retrieves the latest version of each template matching filter
	List(ctx context.Context, tenant model.TenantID, filter PlaybookFilter) ([]*playbook.Template, error)

	// Delete removes every version of a template
	Delete(ctx context.Context, tenant model.TenantID, id model.PlaybookID) error
}

// PlaybookFilter defines criteria for listing templates
type PlaybookFilter struct {
	Status   *playbook.Status // Filter by status of the latest version
	Category string           // Filter by category
	Limit    int              // Limit number of results
	Offset   int              // Offset for pagination
}
