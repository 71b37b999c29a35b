// Package metrics exports orchestrator events as Prometheus metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
)

// Metrics namespace for all deeplay metrics.
const metricsNamespace = "deeplay"

// Recorder implements output.MetricsRecorder on a Prometheus registry
type Recorder struct {
	runsStarted      prometheus.Counter
	runsFinished     *prometheus.CounterVec
	stepDispatches   *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	approvals        *prometheus.CounterVec
	activeRuns       prometheus.Gauge
}

// NewRecorder creates the collectors and registers them with reg
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_started_total",
			Help:      "Total number of scenario runs started",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_finished_total",
			Help:      "Total number of scenario runs that reached a terminal status",
		}, []string{"status"}),
		stepDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "step_dispatches_total",
			Help:      "Total number of step dispatches by action type and outcome",
		}, []string{"action", "success"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "step_dispatch_duration_seconds",
			Help:      "Duration of step dispatches in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"action"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "approval_decisions_total",
			Help:      "Total number of approval decisions",
		}, []string{"approved"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_runs",
			Help:      "Number of runs currently held by the orchestrator",
		}),
	}

	for _, c := range []prometheus.Collector{
		r.runsStarted, r.runsFinished, r.stepDispatches, r.dispatchDuration, r.approvals, r.activeRuns,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) RunStarted() {
	r.runsStarted.Inc()
}

func (r *Recorder) RunFinished(status run.Status) {
	r.runsFinished.WithLabelValues(status.String()).Inc()
}

func (r *Recorder) StepDispatched(action playbook.ActionType, success bool, took time.Duration) {
	r.stepDispatches.WithLabelValues(action.String(), strconv.FormatBool(success)).Inc()
	r.dispatchDuration.WithLabelValues(action.String()).Observe(took.Seconds())
}

func (r *Recorder) ApprovalDecided(approved bool) {
	r.approvals.WithLabelValues(strconv.FormatBool(approved)).Inc()
}

func (r *Recorder) SetActiveRuns(n int) {
	r.activeRuns.Set(float64(n))
}
