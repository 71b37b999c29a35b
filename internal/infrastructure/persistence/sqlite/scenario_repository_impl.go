package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/scenario"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/repository"
)

// ScenarioRepositoryImpl implements repository.ScenarioRepository with SQLite
type ScenarioRepositoryImpl struct {
	db *sql.DB
}

// NewScenarioRepository creates a new SQLite-based scenario repository
func NewScenarioRepository(db *sql.DB) repository.ScenarioRepository {
	return &ScenarioRepositoryImpl{db: db}
}

const scenarioColumns = `id, tenant_id, name, scenario_type, playbook_id, playbook_version,
	context_parameters, baseline_risk, horizon_days, created_at`

// Save persists a scenario
func (r *ScenarioRepositoryImpl) Save(ctx context.Context, s *scenario.Scenario) error {
	contextJSON, err := marshalJSON(payloadOrEmpty(s.Context()))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO scenarios (` + scenarioColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			scenario_type = excluded.scenario_type,
			context_parameters = excluded.context_parameters,
			baseline_risk = excluded.baseline_risk,
			horizon_days = excluded.horizon_days
	`

	db := getDB(ctx, r.db)
	_, err = db.ExecContext(ctx, query,
		s.ID().String(), s.TenantID().String(), s.Name(), s.ScenarioType(),
		s.Binding().PlaybookID.String(), s.Binding().Version,
		contextJSON, string(s.Baseline()), s.HorizonDays(), formatTime(s.CreatedAt()),
	)
	if err != nil {
		return fmt.Errorf("save scenario failed: %w", err)
	}
	return nil
}

// Find retrieves a scenario by its ID
func (r *ScenarioRepositoryImpl) Find(ctx context.Context, tenant model.TenantID, id model.ScenarioID) (*scenario.Scenario, error) {
	query := `SELECT ` + scenarioColumns + ` FROM scenarios WHERE tenant_id = ? AND id = ?`

	db := getDB(ctx, r.db)
	s, err := r.scanScenario(db.QueryRowContext(ctx, query, tenant.String(), id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewNotFoundError("scenario", id.String())
	}
	return s, err
}

// List retrieves scenarios by filter
func (r *ScenarioRepositoryImpl) List(ctx context.Context, tenant model.TenantID, filter repository.ScenarioFilter) ([]*scenario.Scenario, error) {
	query := `SELECT ` + scenarioColumns + ` FROM scenarios WHERE tenant_id = ?`
	args := []interface{}{tenant.String()}

	if filter.PlaybookID != nil {
		query += " AND playbook_id = ?"
		args = append(args, filter.PlaybookID.String())
	}
	query += " ORDER BY created_at ASC, id ASC"
	query, args = appendPaging(query, args, filter.Limit, filter.Offset)

	db := getDB(ctx, r.db)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scenarios failed: %w", err)
	}
	defer rows.Close()

	var result []*scenario.Scenario
	for rows.Next() {
		s, err := r.scanScenario(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// Delete removes a scenario
func (r *ScenarioRepositoryImpl) Delete(ctx context.Context, tenant model.TenantID, id model.ScenarioID) error {
	db := getDB(ctx, r.db)
	result, err := db.ExecContext(ctx, "DELETE FROM scenarios WHERE tenant_id = ? AND id = ?", tenant.String(), id.String())
	if err != nil {
		return fmt.Errorf("delete scenario failed: %w", err)
	}
	return requireRows(result, "scenario", id.String())
}

func (r *ScenarioRepositoryImpl) scanScenario(row scanner) (*scenario.Scenario, error) {
	var (
		id, tenantID, name, scenarioType string
		playbookID, contextJSON          string
		baseline, createdAt              string
		version, horizon                 int
	)
	if err := row.Scan(&id, &tenantID, &name, &scenarioType, &playbookID, &version,
		&contextJSON, &baseline, &horizon, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan scenario failed: %w", err)
	}

	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	tenant, err := model.NewTenantID(tenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant in storage: %w", err)
	}
	ctxParams := model.Payload{}
	if err := unmarshalJSON(contextJSON, &ctxParams); err != nil {
		return nil, err
	}

	return scenario.ReconstructScenario(
		model.ScenarioID(id), tenant, name, scenarioType,
		scenario.Binding{PlaybookID: model.PlaybookID(playbookID), Version: version},
		ctxParams, model.RiskLevel(baseline), horizon, created,
	), nil
}
