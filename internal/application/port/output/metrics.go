package output

import (
	"time"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
)

// MetricsRecorder receives orchestrator events for observability
type MetricsRecorder interface {
	RunStarted()
	RunFinished(status run.Status)
	StepDispatched(action playbook.ActionType, success bool, took time.Duration)
	ApprovalDecided(approved bool)
	SetActiveRuns(n int)
}

// NopMetrics discards every event
type NopMetrics struct{}

func (NopMetrics) RunStarted() {}
func (NopMetrics) RunFinished(run.Status) {}
func (NopMetrics) StepDispatched(playbook.ActionType, bool, time.Duration) {}
func (NopMetrics) ApprovalDecided(bool) {}
func (NopMetrics) SetActiveRuns(int) {}
