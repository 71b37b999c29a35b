package playbook

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
)

// MaxSteps caps the number of steps a template may carry
const MaxSteps = 100

// MaxWaitMinutes caps a step's wait at one year, the longest scenario horizon
const MaxWaitMinutes = 365 * 24 * 60

// StepDefinition is one unit of work in a template version
type StepDefinition struct {
	StepIndex           int           `json:"step_index" yaml:"step_index"`
	Name                string        `json:"name" yaml:"name"`
	ActionType          ActionType    `json:"action_type" yaml:"action_type"`
	ActionPayload       model.Payload `json:"action_payload,omitempty" yaml:"action_payload,omitempty"`
	RequiresApproval    bool          `json:"requires_approval" yaml:"requires_approval"`
	ApprovalRoles       []string      `json:"approval_roles,omitempty" yaml:"approval_roles,omitempty"`
	WaitDurationMinutes int           `json:"wait_duration_minutes" yaml:"wait_duration_minutes"`
}

// WaitDuration returns the minimum delay before the step becomes eligible
func (s StepDefinition) WaitDuration() time.Duration {
	return time.Duration(s.WaitDurationMinutes) * time.Minute
}

// Clone returns a deep copy of the step
func (s StepDefinition) Clone() StepDefinition {
	cp := s
	cp.ActionPayload = s.ActionPayload.Clone()
	cp.ApprovalRoles = append([]string(nil), s.ApprovalRoles...)
	return cp
}

// HasApprovalRole reports whether role may decide on the step
func (s StepDefinition) HasApprovalRole(role string) bool {
	for _, r := range s.ApprovalRoles {
		if r == role {
			return true
		}
	}
	return false
}

// CloneSteps copies a step list
func CloneSteps(steps []StepDefinition) []StepDefinition {
	if steps == nil {
		return nil
	}
	out := make([]StepDefinition, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}

// ValidateSteps checks the full step list of a template version.
// stepIndex values must form exactly 0..N-1; the list may arrive in any order.
func ValidateSteps(steps []StepDefinition) error {
	if len(steps) == 0 {
		return model.NewValidationError("playbook must have at least one step")
	}
	if len(steps) > MaxSteps {
		return model.NewValidationError("playbook has %d steps, maximum is %d", len(steps), MaxSteps)
	}

	seen := make(map[int]bool, len(steps))
	for _, s := range steps {
		if s.StepIndex < 0 || s.StepIndex >= len(steps) {
			return model.NewValidationError("step index %d out of range 0..%d", s.StepIndex, len(steps)-1).
				WithDetails(map[string]interface{}{"step_index": s.StepIndex})
		}
		if seen[s.StepIndex] {
			return model.NewValidationError("duplicate step index %d", s.StepIndex).
				WithDetails(map[string]interface{}{"step_index": s.StepIndex})
		}
		seen[s.StepIndex] = true

		if err := validateStep(s); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s StepDefinition) error {
	where := fmt.Sprintf("step %d", s.StepIndex)
	if strings.TrimSpace(s.Name) == "" {
		return model.NewValidationError("%s: name is required", where)
	}
	if !s.ActionType.IsValid() {
		return model.NewValidationError("%s: unknown action type %q", where, s.ActionType)
	}
	if s.WaitDurationMinutes < 0 || s.WaitDurationMinutes > MaxWaitMinutes {
		return model.NewValidationError("%s: wait duration must be between 0 and %d minutes, got %d", where, MaxWaitMinutes, s.WaitDurationMinutes)
	}
	if s.RequiresApproval {
		if len(s.ApprovalRoles) == 0 {
			return model.NewValidationError("%s: approval roles are required when approval is required", where)
		}
		for _, r := range s.ApprovalRoles {
			if strings.TrimSpace(r) == "" {
				return model.NewValidationError("%s: approval role cannot be empty", where)
			}
		}
	}
	return nil
}

// NormalizeSteps validates and returns a copy sorted by stepIndex
func NormalizeSteps(steps []StepDefinition) ([]StepDefinition, error) {
	if err := ValidateSteps(steps); err != nil {
		return nil, err
	}
	out := CloneSteps(steps)
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	for i := range out {
		if !out[i].RequiresApproval {
			out[i].ApprovalRoles = nil
		}
	}
	return out, nil
}
