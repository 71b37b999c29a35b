package playbook

// ActionType is the closed set of step actions a playbook can carry
type ActionType string

const (
	ActionOutreach            ActionType = "outreach"
	ActionCrisisResponse      ActionType = "crisis_response"
	ActionGovernance          ActionType = "governance"
	ActionReportGeneration    ActionType = "report_generation"
	ActionMediaAlert          ActionType = "media_alert"
	ActionReputationAction    ActionType = "reputation_action"
	ActionCompetitiveAnalysis ActionType = "competitive_analysis"
	ActionStakeholderNotify   ActionType = "stakeholder_notify"
	ActionContentPublish      ActionType = "content_publish"
	ActionEscalation          ActionType = "escalation"
	ActionApprovalGate        ActionType = "approval_gate"
	ActionWait                ActionType = "wait"
	ActionConditional         ActionType = "conditional"
	ActionCustom              ActionType = "custom"
)

// AllActionTypes lists every action type in declaration order
func AllActionTypes() []ActionType {
	return []ActionType{
		ActionOutreach,
		ActionCrisisResponse,
		ActionGovernance,
		ActionReportGeneration,
		ActionMediaAlert,
		ActionReputationAction,
		ActionCompetitiveAnalysis,
		ActionStakeholderNotify,
		ActionContentPublish,
		ActionEscalation,
		ActionApprovalGate,
		ActionWait,
		ActionConditional,
		ActionCustom,
	}
}

// String returns the string representation
func (a ActionType) String() string {
	return string(a)
}

// IsValid validates the action type
func (a ActionType) IsValid() bool {
	switch a {
	case ActionOutreach, ActionCrisisResponse, ActionGovernance, ActionReportGeneration,
		ActionMediaAlert, ActionReputationAction, ActionCompetitiveAnalysis, ActionStakeholderNotify,
		ActionContentPublish, ActionEscalation, ActionApprovalGate, ActionWait, ActionConditional,
		ActionCustom:
		return true
	default:
		return false
	}
}

// Status represents the lifecycle status of a template
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// String returns the string representation
func (s Status) String() string {
	return string(s)
}

// IsValid validates the status
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusArchived:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a status transition is valid
func (s Status) CanTransitionTo(next Status) bool {
	validTransitions := map[Status][]Status{
		StatusDraft:    {StatusActive, StatusArchived},
		StatusActive:   {StatusArchived},
		StatusArchived: {StatusArchived},
	}

	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TriggerType describes what starts runs of a template
type TriggerType string

const (
	TriggerEvent     TriggerType = "event"
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
)

// String returns the string representation
func (t TriggerType) String() string {
	return string(t)
}

// IsValid validates the trigger type
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerEvent, TriggerScheduled, TriggerManual:
		return true
	default:
		return false
	}
}
