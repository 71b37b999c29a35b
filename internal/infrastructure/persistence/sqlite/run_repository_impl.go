package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/repository"
)

// RunRepositoryImpl implements repository.RunRepository with SQLite
type RunRepositoryImpl struct {
	db *sql.DB
}

// NewRunRepository creates a new SQLite-based run repository
func NewRunRepository(db *sql.DB) repository.RunRepository {
	return &RunRepositoryImpl{db: db}
}

const runColumns = `id, tenant_id, scenario_id, playbook_id, playbook_version, baseline_risk, context,
	status, started_at, completed_at, updated_at, risk_score, opportunity_score,
	narrative_summary, error_message, cancel_reason, revision`

const stepColumns = `id, run_id, step_index, name, action_type, action_payload, requires_approval,
	approval_roles, wait_duration_minutes, status, execution_context, simulated_impact, observed_impact,
	wait_until, wait_remaining_ms, approved, approved_at, approval_notes, error_message, started_at, completed_at`

// Save inserts a new run or updates a stored one guarded by its revision
func (r *RunRepositoryImpl) Save(ctx context.Context, sr *run.ScenarioRun) error {
	contextJSON, err := marshalJSON(payloadOrEmpty(sr.Context))
	if err != nil {
		return err
	}

	db := getDB(ctx, r.db)
	if sr.Revision == 0 {
		query := `
			INSERT INTO scenario_runs (` + runColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		`
		_, err = db.ExecContext(ctx, query,
			sr.ID.String(), sr.TenantID.String(), sr.ScenarioID.String(), sr.PlaybookID.String(), sr.PlaybookVersion,
			string(sr.Baseline), contextJSON, string(sr.Status),
			formatTime(sr.StartedAt), nullTime(sr.CompletedAt), formatTime(sr.UpdatedAt),
			nullFloat(sr.RiskScore), nullFloat(sr.OpportunityScore),
			sr.NarrativeSummary, sr.ErrorMessage, sr.CancelReason,
		)
		if err != nil {
			return fmt.Errorf("save run failed: %w", err)
		}
	} else {
		query := `
			UPDATE scenario_runs SET
				status = ?,
				completed_at = ?,
				updated_at = ?,
				risk_score = ?,
				opportunity_score = ?,
				narrative_summary = ?,
				error_message = ?,
				cancel_reason = ?,
				revision = revision + 1
			WHERE id = ? AND revision = ?
		`
		result, err := db.ExecContext(ctx, query,
			string(sr.Status), nullTime(sr.CompletedAt), formatTime(sr.UpdatedAt),
			nullFloat(sr.RiskScore), nullFloat(sr.OpportunityScore),
			sr.NarrativeSummary, sr.ErrorMessage, sr.CancelReason,
			sr.ID.String(), sr.Revision,
		)
		if err != nil {
			return fmt.Errorf("save run failed: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("save run failed: %w", err)
		}
		if affected == 0 {
			return r.revisionConflict(ctx, db, sr)
		}
	}

	for _, s := range sr.Steps {
		if err := r.saveStep(ctx, db, s); err != nil {
			return err
		}
	}
	sr.Revision++
	return nil
}

// revisionConflict reports why a guarded update matched no row
func (r *RunRepositoryImpl) revisionConflict(ctx context.Context, db dbExecutor, sr *run.ScenarioRun) error {
	var current int64
	err := db.QueryRowContext(ctx, `SELECT revision FROM scenario_runs WHERE id = ?`, sr.ID.String()).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NewNotFoundError("run", sr.ID.String())
	}
	if err != nil {
		return fmt.Errorf("read run revision failed: %w", err)
	}
	return model.NewConcurrencyError(int(sr.Revision), int(current))
}

func (r *RunRepositoryImpl) saveStep(ctx context.Context, db dbExecutor, s *run.RunStep) error {
	def := s.Definition
	payload, err := marshalJSON(payloadOrEmpty(def.ActionPayload))
	if err != nil {
		return err
	}
	roles, err := marshalJSON(rolesOrEmpty(def.ApprovalRoles))
	if err != nil {
		return err
	}
	simulated, err := marshalJSON(s.SimulatedImpact)
	if err != nil {
		return err
	}
	observed, err := marshalJSON(s.ObservedImpact)
	if err != nil {
		return err
	}
	var execCtx sql.NullString
	if s.ExecutionContext != nil {
		v, err := marshalJSON(s.ExecutionContext)
		if err != nil {
			return err
		}
		execCtx = sql.NullString{String: v, Valid: true}
	}
	var remaining sql.NullInt64
	if s.WaitRemaining != nil {
		remaining = sql.NullInt64{Int64: s.WaitRemaining.Milliseconds(), Valid: true}
	}
	var approved sql.NullBool
	if s.Approved != nil {
		approved = sql.NullBool{Bool: *s.Approved, Valid: true}
	}

	query := `
		INSERT INTO run_steps (` + stepColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			execution_context = excluded.execution_context,
			observed_impact = excluded.observed_impact,
			wait_until = excluded.wait_until,
			wait_remaining_ms = excluded.wait_remaining_ms,
			approved = excluded.approved,
			approved_at = excluded.approved_at,
			approval_notes = excluded.approval_notes,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`
	_, err = db.ExecContext(ctx, query,
		s.ID.String(), s.RunID.String(), def.StepIndex, def.Name, string(def.ActionType), payload,
		def.RequiresApproval, roles, def.WaitDurationMinutes, string(s.Status), execCtx,
		simulated, observed, nullTime(s.WaitUntil), remaining, approved, nullTime(s.ApprovedAt),
		s.ApprovalNotes, s.ErrorMessage, nullTime(s.StartedAt), nullTime(s.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save run step %d failed: %w", def.StepIndex, err)
	}
	return nil
}

// Find retrieves a run with its steps ordered by step index
func (r *RunRepositoryImpl) Find(ctx context.Context, tenant model.TenantID, id model.RunID) (*run.ScenarioRun, error) {
	query := `SELECT ` + runColumns + ` FROM scenario_runs WHERE tenant_id = ? AND id = ?`

	db := getDB(ctx, r.db)
	sr, err := r.scanRun(db.QueryRowContext(ctx, query, tenant.String(), id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewNotFoundError("run", id.String())
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadSteps(ctx, db, sr); err != nil {
		return nil, err
	}
	return sr, nil
}

// FindRunIDByStepID resolves the run owning a step
func (r *RunRepositoryImpl) FindRunIDByStepID(ctx context.Context, tenant model.TenantID, stepID model.RunStepID) (model.RunID, error) {
	var id string
	err := getDB(ctx, r.db).QueryRowContext(ctx, `
		SELECT s.run_id
		FROM run_steps s JOIN scenario_runs r ON r.id = s.run_id
		WHERE s.id = ? AND r.tenant_id = ?`, stepID.String(), tenant.String()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", model.NewNotFoundError("run step", stepID.String())
	}
	if err != nil {
		return "", fmt.Errorf("find run by step failed: %w", err)
	}
	return model.RunID(id), nil
}

// List retrieves runs matching filter and the total count before paging
func (r *RunRepositoryImpl) List(ctx context.Context, tenant model.TenantID, filter repository.RunFilter) ([]*run.ScenarioRun, int, error) {
	where := " WHERE tenant_id = ?"
	args := []interface{}{tenant.String()}

	if filter.ScenarioID != nil {
		where += " AND scenario_id = ?"
		args = append(args, filter.ScenarioID.String())
	}
	if filter.PlaybookID != nil {
		where += " AND playbook_id = ?"
		args = append(args, filter.PlaybookID.String())
	}
	if filter.Status != nil {
		where += " AND status = ?"
		args = append(args, string(*filter.Status))
	}

	db := getDB(ctx, r.db)

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scenario_runs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs failed: %w", err)
	}

	sortBy := repository.SortByStartedAt
	if filter.SortBy.IsValid() {
		sortBy = filter.SortBy
	}
	order := "DESC"
	if filter.SortOrder == repository.SortAsc {
		order = "ASC"
	}

	query := "SELECT " + runColumns + " FROM scenario_runs" + where +
		fmt.Sprintf(" ORDER BY %s %s, id %s", sortBy, order, order)
	query, args = appendPaging(query, args, filter.Limit, filter.Offset)

	runs, err := r.queryRuns(ctx, db, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// ListNonTerminal retrieves every unfinished run across tenants
func (r *RunRepositoryImpl) ListNonTerminal(ctx context.Context) ([]*run.ScenarioRun, error) {
	statuses := run.NonTerminalStatuses()
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		args[i] = string(s)
	}

	query := "SELECT " + runColumns + " FROM scenario_runs WHERE status IN (" +
		strings.Join(placeholders, ", ") + ") ORDER BY started_at ASC, id ASC"
	return r.queryRuns(ctx, getDB(ctx, r.db), query, args...)
}

// CountNonTerminal counts unfinished runs referencing a template or scenario
func (r *RunRepositoryImpl) CountNonTerminal(ctx context.Context, tenant model.TenantID, ref repository.RunReference) (int, error) {
	query := "SELECT COUNT(*) FROM scenario_runs WHERE tenant_id = ? AND status NOT IN (?, ?, ?)"
	args := []interface{}{tenant.String(),
		string(run.StatusCompleted), string(run.StatusFailed), string(run.StatusCancelled)}

	if ref.PlaybookID != nil {
		query += " AND playbook_id = ?"
		args = append(args, ref.PlaybookID.String())
	}
	if ref.ScenarioID != nil {
		query += " AND scenario_id = ?"
		args = append(args, ref.ScenarioID.String())
	}

	var count int
	if err := getDB(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active runs failed: %w", err)
	}
	return count, nil
}

func (r *RunRepositoryImpl) queryRuns(ctx context.Context, db dbExecutor, query string, args ...interface{}) ([]*run.ScenarioRun, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs failed: %w", err)
	}
	defer rows.Close()

	var runs []*run.ScenarioRun
	for rows.Next() {
		sr, err := r.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs failed: %w", err)
	}
	rows.Close()

	for _, sr := range runs {
		if err := r.loadSteps(ctx, db, sr); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (r *RunRepositoryImpl) scanRun(row scanner) (*run.ScenarioRun, error) {
	var (
		id, tenantID, scenarioID, playbookID string
		baseline, contextJSON, status        string
		startedAt, updatedAt                 string
		completedAt                          sql.NullString
		riskScore, opportunityScore          sql.NullFloat64
		version                              int
		sr                                   run.ScenarioRun
	)
	if err := row.Scan(&id, &tenantID, &scenarioID, &playbookID, &version, &baseline, &contextJSON,
		&status, &startedAt, &completedAt, &updatedAt, &riskScore, &opportunityScore,
		&sr.NarrativeSummary, &sr.ErrorMessage, &sr.CancelReason, &sr.Revision); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run failed: %w", err)
	}

	tenant, err := model.NewTenantID(tenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant in storage: %w", err)
	}
	if sr.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if sr.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if sr.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	sr.Context = model.Payload{}
	if err := unmarshalJSON(contextJSON, &sr.Context); err != nil {
		return nil, err
	}

	sr.ID = model.RunID(id)
	sr.TenantID = tenant
	sr.ScenarioID = model.ScenarioID(scenarioID)
	sr.PlaybookID = model.PlaybookID(playbookID)
	sr.PlaybookVersion = version
	sr.Baseline = model.RiskLevel(baseline)
	sr.Status = run.Status(status)
	sr.RiskScore = floatPtr(riskScore)
	sr.OpportunityScore = floatPtr(opportunityScore)
	return &sr, nil
}

func (r *RunRepositoryImpl) loadSteps(ctx context.Context, db dbExecutor, sr *run.ScenarioRun) error {
	rows, err := db.QueryContext(ctx,
		"SELECT "+stepColumns+" FROM run_steps WHERE run_id = ? ORDER BY step_index ASC", sr.ID.String())
	if err != nil {
		return fmt.Errorf("query run steps failed: %w", err)
	}
	defer rows.Close()

	sr.Steps = nil
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return err
		}
		sr.Steps = append(sr.Steps, s)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate run steps failed: %w", err)
	}
	return nil
}

func scanStep(row scanner) (*run.RunStep, error) {
	var (
		id, runID, name, actionType, payload, roles, status string
		simulated, observed                                 string
		execCtx, waitUntil, approvedAt, startedAt, doneAt   sql.NullString
		remaining                                           sql.NullInt64
		approved                                            sql.NullBool
		s                                                   run.RunStep
	)
	if err := row.Scan(&id, &runID, &s.Definition.StepIndex, &name, &actionType, &payload,
		&s.Definition.RequiresApproval, &roles, &s.Definition.WaitDurationMinutes, &status, &execCtx,
		&simulated, &observed, &waitUntil, &remaining, &approved, &approvedAt,
		&s.ApprovalNotes, &s.ErrorMessage, &startedAt, &doneAt); err != nil {
		return nil, fmt.Errorf("scan run step failed: %w", err)
	}

	s.ID = model.RunStepID(id)
	s.RunID = model.RunID(runID)
	s.Status = run.StepStatus(status)
	s.Definition.Name = name
	s.Definition.ActionType = playbook.ActionType(actionType)

	if err := unmarshalJSON(payload, &s.Definition.ActionPayload); err != nil {
		return nil, err
	}
	if len(s.Definition.ActionPayload) == 0 {
		s.Definition.ActionPayload = nil
	}
	if err := unmarshalJSON(roles, &s.Definition.ApprovalRoles); err != nil {
		return nil, err
	}
	if len(s.Definition.ApprovalRoles) == 0 {
		s.Definition.ApprovalRoles = nil
	}
	if execCtx.Valid {
		if err := unmarshalJSON(execCtx.String, &s.ExecutionContext); err != nil {
			return nil, err
		}
	}
	if err := unmarshalJSON(simulated, &s.SimulatedImpact); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(observed, &s.ObservedImpact); err != nil {
		return nil, err
	}

	var err error
	if s.WaitUntil, err = parseNullTime(waitUntil); err != nil {
		return nil, err
	}
	if s.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
		return nil, err
	}
	if s.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if s.CompletedAt, err = parseNullTime(doneAt); err != nil {
		return nil, err
	}
	if remaining.Valid {
		d := time.Duration(remaining.Int64) * time.Millisecond
		s.WaitRemaining = &d
	}
	if approved.Valid {
		v := approved.Bool
		s.Approved = &v
	}
	return &s, nil
}
