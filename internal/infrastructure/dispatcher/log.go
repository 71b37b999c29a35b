package dispatcher

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/YoshitsuguKoike/deeplay/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/service/simulation"
)

// LogDispatcher logs each action instead of performing it and reports the
// impact projected against the run's baseline, so an observed outcome
// matches what simulation predicted for the same run
type LogDispatcher struct {
	logger logrus.FieldLogger
}

// NewLogDispatcher creates a dispatcher writing to logger
func NewLogDispatcher(logger logrus.FieldLogger) *LogDispatcher {
	return &LogDispatcher{logger: logger.WithField("component", "dispatcher")}
}

// Dispatch implements output.ActionDispatcher
func (d *LogDispatcher) Dispatch(ctx context.Context, req output.DispatchRequest) (output.DispatchResult, error) {
	if err := ctx.Err(); err != nil {
		return output.DispatchResult{}, err
	}
	if !req.ActionType.IsValid() {
		return output.DispatchResult{Success: false, Error: model.NewActionExecutionError("unknown action %q", req.ActionType).Message}, nil
	}

	baseline := req.Baseline
	if !baseline.IsValid() {
		baseline = model.RiskMedium
	}
	impact := simulation.ProjectStep(playbook.StepDefinition{
		StepIndex:     req.StepIndex,
		ActionType:    req.ActionType,
		ActionPayload: req.Payload,
	}, baseline)

	d.logger.WithFields(logrus.Fields{
		"tenant":     req.TenantID,
		"run_id":     req.RunID,
		"step_id":    req.StepID,
		"step_index": req.StepIndex,
		"action":     req.ActionType,
		"baseline":   baseline,
		"payload":    req.Payload,
	}).Info("action dispatched")
	return output.DispatchResult{Success: true, Impact: impact}, nil
}

// NoopDispatcher reports every action as a success without impact
type NoopDispatcher struct{}

// Dispatch implements output.ActionDispatcher
func (NoopDispatcher) Dispatch(ctx context.Context, req output.DispatchRequest) (output.DispatchResult, error) {
	return output.DispatchResult{Success: true}, nil
}

// New selects a dispatcher by name; an empty name selects log
func New(kind string, logger logrus.FieldLogger) (output.ActionDispatcher, error) {
	switch kind {
	case "", "log":
		return NewLogDispatcher(logger), nil
	case "noop":
		return NoopDispatcher{}, nil
	default:
		return nil, fmt.Errorf("unknown dispatcher %q: must be log or noop", kind)
	}
}
