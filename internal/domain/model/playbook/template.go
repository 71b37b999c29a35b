package playbook

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
)

// TemplateMetadata holds descriptive fields shared by every version
type TemplateMetadata struct {
	Name        string
	Description string
	Category    string
	RiskLevel   model.RiskLevel
	TriggerType TriggerType
}

// Template is one version of a reusable playbook.
// Once a version is active its step list never changes; edits produce a new version.
type Template struct {
	id        model.PlaybookID
	tenantID  model.TenantID
	version   int
	status    Status
	metadata  TemplateMetadata
	steps     []StepDefinition
	createdAt time.Time
	updatedAt time.Time
}

// NewTemplate creates version 1 of a draft template
func NewTemplate(tenant model.TenantID, metadata TemplateMetadata, steps []StepDefinition, now time.Time) (*Template, error) {
	if tenant.IsZero() {
		return nil, model.NewValidationError("tenant is required")
	}
	meta, err := normalizeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	normalized, err := NormalizeSteps(steps)
	if err != nil {
		return nil, err
	}

	return &Template{
		id:        model.NewPlaybookID(),
		tenantID:  tenant,
		version:   1,
		status:    StatusDraft,
		metadata:  meta,
		steps:     normalized,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructTemplate reconstructs a template version from stored data
func ReconstructTemplate(
	id model.PlaybookID,
	tenant model.TenantID,
	version int,
	status Status,
	metadata TemplateMetadata,
	steps []StepDefinition,
	createdAt time.Time,
	updatedAt time.Time,
) *Template {
	return &Template{
		id:        id,
		tenantID:  tenant,
		version:   version,
		status:    status,
		metadata:  metadata,
		steps:     steps,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

func normalizeMetadata(m TemplateMetadata) (TemplateMetadata, error) {
	m.Name = norm.NFC.String(strings.TrimSpace(m.Name))
	m.Category = norm.NFC.String(strings.TrimSpace(m.Category))
	m.Description = norm.NFC.String(m.Description)
	if m.Name == "" {
		return m, model.NewValidationError("playbook name is required")
	}
	if m.RiskLevel == "" {
		m.RiskLevel = model.RiskMedium
	}
	if !m.RiskLevel.IsValid() {
		return m, model.NewValidationError("unknown risk level %q", m.RiskLevel)
	}
	if m.TriggerType == "" {
		m.TriggerType = TriggerManual
	}
	if !m.TriggerType.IsValid() {
		return m, model.NewValidationError("unknown trigger type %q", m.TriggerType)
	}
	return m, nil
}

func (t *Template) ID() model.PlaybookID       { return t.id }
func (t *Template) TenantID() model.TenantID   { return t.tenantID }
func (t *Template) Version() int               { return t.version }
func (t *Template) Status() Status             { return t.status }
func (t *Template) Metadata() TemplateMetadata { return t.metadata }
func (t *Template) Name() string               { return t.metadata.Name }
func (t *Template) CreatedAt() time.Time       { return t.createdAt }
func (t *Template) UpdatedAt() time.Time       { return t.updatedAt }

// Steps returns a copy of the ordered step list
func (t *Template) Steps() []StepDefinition {
	return CloneSteps(t.steps)
}

// StepCount returns the number of steps
func (t *Template) StepCount() int {
	return len(t.steps)
}

// IsRunnable reports whether new runs may start against this version
func (t *Template) IsRunnable() bool {
	return t.status == StatusActive
}

// Activate moves a draft version to active after re-validating it
func (t *Template) Activate(now time.Time) error {
	if t.status != StatusDraft {
		return model.NewStateConflictError("cannot activate playbook %s in status %s", t.id, t.status)
	}
	if err := ValidateSteps(t.steps); err != nil {
		return err
	}
	t.status = StatusActive
	t.updatedAt = now
	return nil
}

// Archive stops new runs from starting; archiving twice is a no-op
func (t *Template) Archive(now time.Time) {
	if t.status == StatusArchived {
		return
	}
	t.status = StatusArchived
	t.updatedAt = now
}

// NextVersion builds version+1 with a fully replaced, validated step list.
// The receiver is left untouched so the old version stays resolvable.
func (t *Template) NextVersion(steps []StepDefinition, now time.Time) (*Template, error) {
	if t.status == StatusArchived {
		return nil, model.NewStateConflictError("cannot edit archived playbook %s", t.id)
	}
	normalized, err := NormalizeSteps(steps)
	if err != nil {
		return nil, err
	}
	return &Template{
		id:        t.id,
		tenantID:  t.tenantID,
		version:   t.version + 1,
		status:    t.status,
		metadata:  t.metadata,
		steps:     normalized,
		createdAt: t.createdAt,
		updatedAt: now,
	}, nil
}

// Clone returns an independent copy
func (t *Template) Clone() *Template {
	cp := *t
	cp.steps = CloneSteps(t.steps)
	return &cp
}
