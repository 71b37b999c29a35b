package output

import (
	"context"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
)

// DispatchRequest carries one step to the component that performs its side effect
type DispatchRequest struct {
	TenantID         model.TenantID
	RunID            model.RunID
	StepID           model.RunStepID
	StepIndex        int
	ActionType       playbook.ActionType
	Payload          model.Payload
	ExecutionContext model.Payload
	// Baseline is the risk level the run was started with
	Baseline model.RiskLevel
}

// DispatchResult is what the dispatcher reports back for one step
type DispatchResult struct {
	Success bool
	Impact  run.Impact
	Error   string
}

// ActionDispatcher performs the side effect of a step.
// Each step is dispatched at most once; a failure is never retried.
// A returned error is treated the same as a result with Success=false.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error)
}
