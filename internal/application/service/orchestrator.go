package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/repository"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/service/simulation"
)

// ErrOrchestratorStopped is returned once Stop has been called
var ErrOrchestratorStopped = errors.New("orchestrator stopped")

// interruptedMessage is recorded on steps whose dispatch outcome was lost
const interruptedMessage = "dispatch interrupted"

// maxConflictRetries bounds how often a change is reapplied to a fresher copy
const maxConflictRetries = 3

// Orchestrator drives scenario runs through their state machine.
// Each live run owns a runUnit; there is no locking across runs.
type Orchestrator struct {
	runRepo      repository.RunRepository
	scenarioRepo repository.ScenarioRepository
	playbookRepo repository.PlaybookRepository
	txManager    output.TransactionManager
	dispatcher   output.ActionDispatcher
	clock        clock.WithDelayedExecution
	metrics      output.MetricsRecorder
	logger       logrus.FieldLogger

	mu        sync.Mutex
	units     map[model.RunID]*runUnit
	closed    bool
	syncing   bool
	syncTimer clock.Timer
	wg        sync.WaitGroup
}

// OrchestratorDeps gathers the collaborators of an Orchestrator
type OrchestratorDeps struct {
	RunRepo      repository.RunRepository
	ScenarioRepo repository.ScenarioRepository
	PlaybookRepo repository.PlaybookRepository
	TxManager    output.TransactionManager
	Dispatcher   output.ActionDispatcher
	Clock        clock.WithDelayedExecution
	Metrics      output.MetricsRecorder
	Logger       logrus.FieldLogger
}

// NewOrchestrator creates an orchestrator; a nil Metrics discards events
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = output.NopMetrics{}
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Orchestrator{
		runRepo:      deps.RunRepo,
		scenarioRepo: deps.ScenarioRepo,
		playbookRepo: deps.PlaybookRepo,
		txManager:    deps.TxManager,
		dispatcher:   deps.Dispatcher,
		clock:        clk,
		metrics:      metrics,
		logger:       deps.Logger.WithField("component", "orchestrator"),
		units:        make(map[model.RunID]*runUnit),
	}
}

// StartRun snapshots the scenario's bound template version into a new run
// and drives it until it blocks on a timer, an approval or a terminal status.
func (o *Orchestrator) StartRun(ctx context.Context, tenant model.TenantID, scenarioID string) (*dto.RunDTO, error) {
	if o.isClosed() {
		return nil, ErrOrchestratorStopped
	}

	sc, err := o.scenarioRepo.Find(ctx, tenant, model.ScenarioID(scenarioID))
	if err != nil {
		return nil, err
	}
	binding := sc.Binding()
	tpl, err := o.playbookRepo.FindVersion(ctx, tenant, binding.PlaybookID, binding.Version)
	if err != nil {
		return nil, err
	}
	if !tpl.IsRunnable() {
		return nil, model.NewStateConflictError("playbook %s version %d is %s", tpl.ID(), tpl.Version(), tpl.Status())
	}

	steps := tpl.Steps()
	now := o.clock.Now()
	r, err := run.NewScenarioRun(run.NewRunParams{
		TenantID:         tenant,
		ScenarioID:       sc.ID(),
		PlaybookID:       tpl.ID(),
		PlaybookVersion:  tpl.Version(),
		Baseline:         sc.Baseline(),
		Context:          sc.Context(),
		Steps:            steps,
		SimulatedImpacts: simulation.ProjectSteps(steps, sc.Baseline()),
	}, now)
	if err != nil {
		return nil, err
	}
	if err := r.Start(now); err != nil {
		return nil, err
	}
	if err := o.save(ctx, r); err != nil {
		return nil, err
	}

	u := o.register(newRunUnit(r))
	o.metrics.RunStarted()
	o.logTransition(r, -1)

	if err := o.drive(ctx, u); err != nil {
		return nil, err
	}
	return u.snapshot(), nil
}

// PauseRun stops advancement, keeping the remaining wait of the current step
func (o *Orchestrator) PauseRun(ctx context.Context, tenant model.TenantID, runID string) (*dto.RunDTO, error) {
	u, err := o.unit(ctx, tenant, model.RunID(runID))
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	err = o.mutate(ctx, u, func(r *run.ScenarioRun, now time.Time) error {
		if err := r.Pause(now); err != nil {
			return err
		}
		if cur := r.CurrentStep(); cur != nil {
			return r.SuspendWait(cur.StepIndex(), now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.stopTimer()
	o.logTransition(u.run, -1)
	return dto.FromRun(u.run), nil
}

// ResumeRun re-arms the remaining wait and continues advancement
func (o *Orchestrator) ResumeRun(ctx context.Context, tenant model.TenantID, runID string) (*dto.RunDTO, error) {
	u, err := o.unit(ctx, tenant, model.RunID(runID))
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	err = o.mutate(ctx, u, func(r *run.ScenarioRun, now time.Time) error {
		if err := r.Resume(now); err != nil {
			return err
		}
		cur := r.CurrentStep()
		if cur == nil || cur.WaitRemaining == nil {
			return nil
		}
		return r.ArmWait(cur.StepIndex(), now.Add(*cur.WaitRemaining), now)
	})
	if err == nil {
		o.logTransition(u.run, -1)
	}
	u.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := o.drive(ctx, u); err != nil {
		return nil, err
	}
	return u.snapshot(), nil
}

// CancelRun skips every step that has not started. A step already executing
// is allowed to finish; the call blocks until it lands or ctx is done.
func (o *Orchestrator) CancelRun(ctx context.Context, tenant model.TenantID, runID string, reason string) (*dto.RunDTO, error) {
	u, err := o.unit(ctx, tenant, model.RunID(runID))
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	var cancelled bool
	err = o.mutate(ctx, u, func(r *run.ScenarioRun, now time.Time) error {
		var err error
		cancelled, err = r.RequestCancel(reason, now)
		return err
	})
	if err != nil {
		u.mu.Unlock()
		return nil, err
	}
	u.stopTimer()
	if cancelled {
		o.finish(u)
		out := dto.FromRun(u.run)
		u.mu.Unlock()
		return out, nil
	}
	u.cancelRequested = true
	settled := u.settled
	u.mu.Unlock()

	o.logger.WithFields(logrus.Fields{"run_id": runID, "tenant": tenant}).Info("cancel deferred until executing step lands")
	select {
	case <-settled:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return u.snapshot(), nil
}

// Stop halts every timer and waits for timer-driven work to finish.
// Persisted state is left as is so a later Recover can pick runs up again.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	syncTimer := o.syncTimer
	o.syncTimer = nil
	units := make([]*runUnit, 0, len(o.units))
	for _, u := range o.units {
		units = append(units, u)
	}
	o.mu.Unlock()

	if syncTimer != nil {
		syncTimer.Stop()
	}
	for _, u := range units {
		u.mu.Lock()
		u.stopTimer()
		u.mu.Unlock()
	}
	o.wg.Wait()
}

// ActiveRuns returns how many runs are held in memory
func (o *Orchestrator) ActiveRuns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.units)
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// register adds u unless a unit for the run is already live, and returns
// the unit that owns the run
func (o *Orchestrator) register(u *runUnit) *runUnit {
	o.mu.Lock()
	if existing, ok := o.units[u.run.ID]; ok {
		o.mu.Unlock()
		return existing
	}
	o.units[u.run.ID] = u
	n := len(o.units)
	o.mu.Unlock()
	o.metrics.SetActiveRuns(n)
	return u
}

// unit returns the live unit of a run, loading it when it is not in memory.
// A live unit first adopts any newer copy another process has stored.
// Terminal runs get a detached unit so callers see a consistent StateConflict.
func (o *Orchestrator) unit(ctx context.Context, tenant model.TenantID, id model.RunID) (*runUnit, error) {
	o.mu.Lock()
	u, ok := o.units[id]
	o.mu.Unlock()
	if ok {
		if u.tenant() != tenant {
			return nil, model.NewNotFoundError("run", id.String())
		}
		fresh, err := o.runRepo.Find(ctx, tenant, id)
		if err != nil {
			return nil, err
		}
		o.adopt(u, fresh)
		return u, nil
	}

	r, err := o.runRepo.Find(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	loaded := newRunUnit(r)
	if r.Status.IsTerminal() {
		return loaded, nil
	}

	o.mu.Lock()
	if existing, ok := o.units[id]; ok {
		o.mu.Unlock()
		return existing, nil
	}
	o.units[id] = loaded
	n := len(o.units)
	o.mu.Unlock()
	o.metrics.SetActiveRuns(n)
	return loaded, nil
}

// finish drops a terminal run from the registry; caller holds u.mu
func (o *Orchestrator) finish(u *runUnit) {
	u.stopTimer()
	o.metrics.RunFinished(u.run.Status)
	o.logTransition(u.run, -1)
	o.forget(u)
}

// forget removes the unit from the registry; caller holds u.mu
func (o *Orchestrator) forget(u *runUnit) {
	o.mu.Lock()
	if o.units[u.run.ID] == u {
		delete(o.units, u.run.ID)
	}
	n := len(o.units)
	o.mu.Unlock()
	o.metrics.SetActiveRuns(n)
}

// mutate applies fn to a copy of the run and keeps it only once it is saved.
// When another process saved the run first, the unit is reloaded and fn is
// applied again to the stored state. Caller holds u.mu.
func (o *Orchestrator) mutate(ctx context.Context, u *runUnit, fn func(r *run.ScenarioRun, now time.Time) error) error {
	for attempt := 0; ; attempt++ {
		err := o.tryMutate(ctx, u, fn)
		if err == nil || !model.IsConcurrency(err) || attempt == maxConflictRetries {
			return err
		}
	}
}

// tryMutate is a single attempt of mutate. On a revision conflict the unit
// is reloaded from the store before the error is returned. Caller holds u.mu.
func (o *Orchestrator) tryMutate(ctx context.Context, u *runUnit, fn func(r *run.ScenarioRun, now time.Time) error) error {
	next := u.run.Clone()
	if err := fn(next, o.clock.Now()); err != nil {
		return err
	}
	if err := o.save(ctx, next); err != nil {
		if model.IsConcurrency(err) {
			o.reload(ctx, u)
		}
		return err
	}
	u.run = next
	return nil
}

// reload replaces the unit's run with the stored copy. Caller holds u.mu.
func (o *Orchestrator) reload(ctx context.Context, u *runUnit) {
	fresh, err := o.runRepo.Find(ctx, u.run.TenantID, u.run.ID)
	if err != nil {
		o.logger.WithError(err).WithField("run_id", u.run.ID).Warn("reload after conflict failed")
		return
	}
	o.replace(u, fresh)
}

// adopt swaps in a copy stored by another process when it is newer than the
// live one and no local dispatch is in flight. It reports whether it did.
func (o *Orchestrator) adopt(u *runUnit, fresh *run.ScenarioRun) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.dispatching || fresh.Revision <= u.run.Revision {
		return false
	}
	o.replace(u, fresh)
	return true
}

// replace installs fresh as the unit's state. The local timer belonged to
// the old state, so it is dropped and an armed wait is scheduled again.
// Caller holds u.mu.
func (o *Orchestrator) replace(u *runUnit, fresh *run.ScenarioRun) {
	u.stopTimer()
	u.run = fresh
	o.logger.WithFields(logrus.Fields{
		"run_id":   fresh.ID,
		"status":   fresh.Status,
		"revision": fresh.Revision,
	}).Info("run state taken from store")

	if fresh.Status.IsTerminal() {
		o.forget(u)
		return
	}
	if fresh.Status != run.StatusRunning {
		return
	}
	if cur := fresh.CurrentStep(); cur != nil && cur.Status == run.StepPending && cur.WaitUntil != nil {
		o.armTimer(u, *cur.WaitUntil)
	}
}

func (o *Orchestrator) save(ctx context.Context, r *run.ScenarioRun) error {
	err := o.txManager.InTransaction(ctx, func(txCtx context.Context) error {
		return o.runRepo.Save(txCtx, r)
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

func (o *Orchestrator) logTransition(r *run.ScenarioRun, stepIndex int) {
	fields := logrus.Fields{"run_id": r.ID, "tenant": r.TenantID, "status": r.Status}
	if stepIndex >= 0 {
		fields["step_index"] = stepIndex
		if s := r.Step(stepIndex); s != nil {
			fields["step_status"] = s.Status
		}
	}
	o.logger.WithFields(fields).Info("run transition")
}
