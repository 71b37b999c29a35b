package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/repository"
)

// PlaybookRepositoryImpl implements repository.PlaybookRepository with SQLite
type PlaybookRepositoryImpl struct {
	db *sql.DB
}

// NewPlaybookRepository creates a new SQLite-based playbook repository
func NewPlaybookRepository(db *sql.DB) repository.PlaybookRepository {
	return &PlaybookRepositoryImpl{db: db}
}

const templateColumns = `id, version, tenant_id, name, description, category, risk_level, trigger_type,
	status, created_at, updated_at`

// FindLatest retrieves the highest version of a template
func (r *PlaybookRepositoryImpl) FindLatest(ctx context.Context, tenant model.TenantID, id model.PlaybookID) (*playbook.Template, error) {
	query := `SELECT ` + templateColumns + `
		FROM playbook_templates
		WHERE tenant_id = ? AND id = ?
		ORDER BY version DESC
		LIMIT 1`

	db := getDB(ctx, r.db)
	t, err := r.scanTemplate(ctx, db, db.QueryRowContext(ctx, query, tenant.String(), id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewNotFoundError("playbook", id.String())
	}
	return t, err
}

// FindVersion retrieves one specific version of a template
func (r *PlaybookRepositoryImpl) FindVersion(ctx context.Context, tenant model.TenantID, id model.PlaybookID, version int) (*playbook.Template, error) {
	query := `SELECT ` + templateColumns + `
		FROM playbook_templates
		WHERE tenant_id = ? AND id = ? AND version = ?`

	db := getDB(ctx, r.db)
	t, err := r.scanTemplate(ctx, db, db.QueryRowContext(ctx, query, tenant.String(), id.String(), version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewNotFoundError("playbook version", fmt.Sprintf("%s@%d", id, version))
	}
	return t, err
}

// Insert stores a new version and its steps
func (r *PlaybookRepositoryImpl) Insert(ctx context.Context, t *playbook.Template) error {
	meta := t.Metadata()
	query := `
		INSERT INTO playbook_templates (` + templateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	db := getDB(ctx, r.db)
	_, err := db.ExecContext(ctx, query,
		t.ID().String(), t.Version(), t.TenantID().String(),
		meta.Name, meta.Description, meta.Category,
		string(meta.RiskLevel), string(meta.TriggerType), string(t.Status()),
		formatTime(t.CreatedAt()), formatTime(t.UpdatedAt()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.NewConcurrencyError(t.Version()-1, t.Version())
		}
		return fmt.Errorf("insert playbook failed: %w", err)
	}

	stepQuery := `
		INSERT INTO playbook_steps (template_id, version, step_index, name, action_type, action_payload,
		                            requires_approval, approval_roles, wait_duration_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, s := range t.Steps() {
		payload, err := marshalJSON(payloadOrEmpty(s.ActionPayload))
		if err != nil {
			return err
		}
		roles, err := marshalJSON(rolesOrEmpty(s.ApprovalRoles))
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, stepQuery,
			t.ID().String(), t.Version(), s.StepIndex, s.Name, string(s.ActionType), payload,
			s.RequiresApproval, roles, s.WaitDurationMinutes,
		); err != nil {
			return fmt.Errorf("insert playbook step %d failed: %w", s.StepIndex, err)
		}
	}
	return nil
}

// UpdateStatus changes the status of one stored version
func (r *PlaybookRepositoryImpl) UpdateStatus(ctx context.Context, t *playbook.Template) error {
	db := getDB(ctx, r.db)
	result, err := db.ExecContext(ctx,
		`UPDATE playbook_templates SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ? AND version = ?`,
		string(t.Status()), formatTime(t.UpdatedAt()), t.TenantID().String(), t.ID().String(), t.Version(),
	)
	if err != nil {
		return fmt.Errorf("update playbook status failed: %w", err)
	}
	return requireRows(result, "playbook version", t.ID().String())
}

// Archive marks every version of a template archived
func (r *PlaybookRepositoryImpl) Archive(ctx context.Context, tenant model.TenantID, id model.PlaybookID, now time.Time) error {
	db := getDB(ctx, r.db)
	result, err := db.ExecContext(ctx,
		`UPDATE playbook_templates
		 SET status = ?, updated_at = CASE WHEN status = ? THEN updated_at ELSE ? END
		 WHERE tenant_id = ? AND id = ?`,
		string(playbook.StatusArchived), string(playbook.StatusArchived), formatTime(now), tenant.String(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("archive playbook failed: %w", err)
	}
	return requireRows(result, "playbook", id.String())
}

// List retrieves the latest version of each template matching filter
func (r *PlaybookRepositoryImpl) List(ctx context.Context, tenant model.TenantID, filter repository.PlaybookFilter) ([]*playbook.Template, error) {
	query := `SELECT ` + templateColumns + `
		FROM playbook_templates t
		WHERE tenant_id = ?
		  AND version = (SELECT MAX(version) FROM playbook_templates WHERE id = t.id)
	`
	args := []interface{}{tenant.String()}

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}

	query += " ORDER BY created_at ASC, id ASC"
	query, args = appendPaging(query, args, filter.Limit, filter.Offset)

	db := getDB(ctx, r.db)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list playbooks failed: %w", err)
	}
	defer rows.Close()

	var heads []*playbook.Template
	for rows.Next() {
		t, err := r.scanTemplateRow(rows)
		if err != nil {
			return nil, err
		}
		heads = append(heads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate playbooks failed: %w", err)
	}
	rows.Close()

	// Steps are loaded after the cursor is closed; the pool holds a single connection
	result := make([]*playbook.Template, 0, len(heads))
	for _, h := range heads {
		t, err := r.withSteps(ctx, db, h)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

// Delete removes every version of a template
func (r *PlaybookRepositoryImpl) Delete(ctx context.Context, tenant model.TenantID, id model.PlaybookID) error {
	db := getDB(ctx, r.db)
	if _, err := db.ExecContext(ctx, `DELETE FROM playbook_steps WHERE template_id = ?
		AND template_id IN (SELECT id FROM playbook_templates WHERE tenant_id = ?)`, id.String(), tenant.String()); err != nil {
		return fmt.Errorf("delete playbook steps failed: %w", err)
	}
	result, err := db.ExecContext(ctx, "DELETE FROM playbook_templates WHERE tenant_id = ? AND id = ?", tenant.String(), id.String())
	if err != nil {
		return fmt.Errorf("delete playbook failed: %w", err)
	}
	return requireRows(result, "playbook", id.String())
}

func (r *PlaybookRepositoryImpl) scanTemplate(ctx context.Context, db dbExecutor, row scanner) (*playbook.Template, error) {
	t, err := r.scanTemplateRow(row)
	if err != nil {
		return nil, err
	}
	return r.withSteps(ctx, db, t)
}

func (r *PlaybookRepositoryImpl) scanTemplateRow(row scanner) (*playbook.Template, error) {
	var (
		id, tenantID, name, description, category string
		riskLevel, triggerType, status            string
		createdAt, updatedAt                      string
		version                                   int
	)
	if err := row.Scan(&id, &version, &tenantID, &name, &description, &category,
		&riskLevel, &triggerType, &status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan playbook failed: %w", err)
	}

	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	tenant, err := model.NewTenantID(tenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant in storage: %w", err)
	}

	return playbook.ReconstructTemplate(
		model.PlaybookID(id), tenant, version, playbook.Status(status),
		playbook.TemplateMetadata{
			Name:        name,
			Description: description,
			Category:    category,
			RiskLevel:   model.RiskLevel(riskLevel),
			TriggerType: playbook.TriggerType(triggerType),
		},
		nil, created, updated,
	), nil
}

func (r *PlaybookRepositoryImpl) withSteps(ctx context.Context, db dbExecutor, t *playbook.Template) (*playbook.Template, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT step_index, name, action_type, action_payload, requires_approval, approval_roles, wait_duration_minutes
		FROM playbook_steps
		WHERE template_id = ? AND version = ?
		ORDER BY step_index ASC`, t.ID().String(), t.Version())
	if err != nil {
		return nil, fmt.Errorf("query playbook steps failed: %w", err)
	}
	defer rows.Close()

	var steps []playbook.StepDefinition
	for rows.Next() {
		var (
			s                playbook.StepDefinition
			actionType       string
			payload, roles   string
			requiresApproval bool
		)
		if err := rows.Scan(&s.StepIndex, &s.Name, &actionType, &payload, &requiresApproval, &roles, &s.WaitDurationMinutes); err != nil {
			return nil, fmt.Errorf("scan playbook step failed: %w", err)
		}
		s.ActionType = playbook.ActionType(actionType)
		s.RequiresApproval = requiresApproval
		if err := unmarshalJSON(payload, &s.ActionPayload); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(roles, &s.ApprovalRoles); err != nil {
			return nil, err
		}
		if len(s.ActionPayload) == 0 {
			s.ActionPayload = nil
		}
		if len(s.ApprovalRoles) == 0 {
			s.ApprovalRoles = nil
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate playbook steps failed: %w", err)
	}

	return playbook.ReconstructTemplate(t.ID(), t.TenantID(), t.Version(), t.Status(), t.Metadata(),
		steps, t.CreatedAt(), t.UpdatedAt()), nil
}

func payloadOrEmpty(p model.Payload) model.Payload {
	if p == nil {
		return model.Payload{}
	}
	return p
}

func rolesOrEmpty(r []string) []string {
	if r == nil {
		return []string{}
	}
	return r
}

func requireRows(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected failed: %w", err)
	}
	if rows == 0 {
		return model.NewNotFoundError(kind, id)
	}
	return nil
}

func appendPaging(query string, args []interface{}, limit, offset int) (string, []interface{}) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	} else if offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}
