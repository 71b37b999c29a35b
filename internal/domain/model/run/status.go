package run

// Status represents the lifecycle status of a scenario run
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusPaused           Status = "paused"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// AllStatuses lists every run status
func AllStatuses() []Status {
	return []Status{
		StatusPending, StatusRunning, StatusPaused, StatusAwaitingApproval,
		StatusCompleted, StatusFailed, StatusCancelled,
	}
}

// NonTerminalStatuses lists the statuses a run can still leave
func NonTerminalStatuses() []Status {
	return []Status{StatusPending, StatusRunning, StatusPaused, StatusAwaitingApproval}
}

// String returns the string representation
func (s Status) String() string {
	return string(s)
}

// IsValid validates the status
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusAwaitingApproval,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for completed, failed and cancelled
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo checks if a status transition is valid.
// paused may fail because an in-flight dispatch is allowed to land.
func (s Status) CanTransitionTo(next Status) bool {
	validTransitions := map[Status][]Status{
		StatusPending:          {StatusRunning, StatusFailed, StatusCancelled},
		StatusRunning:          {StatusPaused, StatusAwaitingApproval, StatusCompleted, StatusFailed, StatusCancelled},
		StatusPaused:           {StatusRunning, StatusFailed, StatusCancelled},
		StatusAwaitingApproval: {StatusRunning, StatusFailed, StatusCancelled},
		StatusCompleted:        {},
		StatusFailed:           {},
		StatusCancelled:        {},
	}

	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StepStatus represents the status of one run step
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepReady     StepStatus = "ready"
	StepExecuting StepStatus = "executing"
	StepCompleted StepStatus = "completed"
	StepSkipped   StepStatus = "skipped"
	StepFailed    StepStatus = "failed"
)

// AllStepStatuses lists every step status
func AllStepStatuses() []StepStatus {
	return []StepStatus{StepPending, StepReady, StepExecuting, StepCompleted, StepSkipped, StepFailed}
}

// String returns the string representation
func (s StepStatus) String() string {
	return string(s)
}

// IsValid validates the step status
func (s StepStatus) IsValid() bool {
	switch s {
	case StepPending, StepReady, StepExecuting, StepCompleted, StepSkipped, StepFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true once the step can no longer change
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepSkipped || s == StepFailed
}

// IsResolved returns true when later steps may proceed past this one
func (s StepStatus) IsResolved() bool {
	return s == StepCompleted || s == StepSkipped
}

// CanTransitionTo checks if a step status transition is valid
func (s StepStatus) CanTransitionTo(next StepStatus) bool {
	validTransitions := map[StepStatus][]StepStatus{
		StepPending:   {StepReady, StepSkipped},
		StepReady:     {StepExecuting, StepSkipped},
		StepExecuting: {StepCompleted, StepFailed},
	}

	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
