package model

import (
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// TenantID identifies the organization every call is scoped to
type TenantID struct {
	value string
}

// NewTenantID creates a TenantID from an existing string
func NewTenantID(id string) (TenantID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return TenantID{}, errors.New("tenant ID cannot be empty")
	}
	return TenantID{value: id}, nil
}

// MustTenantID is NewTenantID for known-good literals
func MustTenantID(id string) TenantID {
	t, err := NewTenantID(id)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the string representation
func (t TenantID) String() string {
	return t.value
}

// IsZero reports whether the tenant was never set
func (t TenantID) IsZero() bool {
	return t.value == ""
}

// PlaybookID represents a unique identifier for a playbook template.
// The same ID is shared by every version of the template.
type PlaybookID string

// NewPlaybookID creates a new PlaybookID
func NewPlaybookID() PlaybookID {
	return PlaybookID(uuid.New().String())
}

// String returns the string representation
func (id PlaybookID) String() string {
	return string(id)
}

// ScenarioID represents a unique identifier for a scenario
type ScenarioID string

// NewScenarioID creates a new ScenarioID
func NewScenarioID() ScenarioID {
	return ScenarioID(uuid.New().String())
}

// String returns the string representation
func (id ScenarioID) String() string {
	return string(id)
}

// RunID identifies a scenario run. ULIDs keep runs sortable by creation time.
type RunID string

// NewRunID creates a new RunID
func NewRunID(now time.Time) RunID {
	return RunID(newULID(now))
}

// String returns the string representation
func (id RunID) String() string {
	return string(id)
}

// RunStepID identifies one step snapshot inside a run
type RunStepID string

// NewRunStepID creates a new RunStepID
func NewRunStepID(now time.Time) RunStepID {
	return RunStepID(newULID(now))
}

// String returns the string representation
func (id RunStepID) String() string {
	return string(id)
}

func newULID(now time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// RiskLevel represents the qualitative risk attached to templates, scenarios and projections
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// AllRiskLevels lists every risk level from lowest to highest
func AllRiskLevels() []RiskLevel {
	return []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}
}

// String returns the string representation
func (r RiskLevel) String() string {
	return string(r)
}

// IsValid validates the risk level
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	default:
		return false
	}
}

// Score returns the 0..100 baseline score for the level
func (r RiskLevel) Score() float64 {
	switch r {
	case RiskLow:
		return 20
	case RiskMedium:
		return 45
	case RiskHigh:
		return 70
	case RiskCritical:
		return 90
	default:
		return 0
	}
}

// RiskLevelFromScore maps a 0..100 score back to a level
func RiskLevelFromScore(score float64) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 35:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
