package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/service/simulation"
)

// runUnit is the scheduling unit of one run: its own lock, its own timer.
// Lock order is u.mu before Orchestrator.mu, never the reverse.
type runUnit struct {
	mu  sync.Mutex
	run *run.ScenarioRun

	timer clock.Timer
	// gen invalidates timer callbacks that raced with a stop
	gen uint64

	dispatching     bool
	settled         chan struct{}
	cancelRequested bool
}

func newRunUnit(r *run.ScenarioRun) *runUnit {
	settled := make(chan struct{})
	close(settled)
	return &runUnit{run: r, settled: settled}
}

func (u *runUnit) tenant() model.TenantID {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.run.TenantID
}

func (u *runUnit) snapshot() *dto.RunDTO {
	u.mu.Lock()
	defer u.mu.Unlock()
	return dto.FromRun(u.run)
}

// stopTimer disarms the wait timer; caller holds u.mu
func (u *runUnit) stopTimer() {
	u.gen++
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
}

// dispatchJob is a step that has entered executing and must be sent out
type dispatchJob struct {
	index int
	req   output.DispatchRequest
}

// drive advances the run and performs dispatches until it blocks.
// Dispatch happens outside u.mu in the calling goroutine.
func (o *Orchestrator) drive(ctx context.Context, u *runUnit) error {
	ctx = context.WithoutCancel(ctx)
	for {
		u.mu.Lock()
		job, err := o.advance(ctx, u)
		u.mu.Unlock()
		if err != nil || job == nil {
			return err
		}

		started := o.clock.Now()
		res, derr := o.dispatcher.Dispatch(ctx, job.req)
		took := o.clock.Since(started)

		u.mu.Lock()
		err = o.applyResult(ctx, u, job, res, derr, took)
		u.mu.Unlock()
		if err != nil {
			return err
		}
	}
}

// advance moves the run forward as far as it can without dispatching.
// It returns a job once a step has entered executing. A change stored by
// another process restarts the walk from the reloaded state. Caller holds u.mu.
func (o *Orchestrator) advance(ctx context.Context, u *runUnit) (*dispatchJob, error) {
	conflicts := 0
	reloaded := func(err error) bool {
		if !model.IsConcurrency(err) || conflicts == maxConflictRetries {
			return false
		}
		conflicts++
		return true
	}
	for {
		r := u.run
		if r.Status != run.StatusRunning || u.dispatching {
			return nil, nil
		}

		cur := r.CurrentStep()
		if cur == nil {
			if err := o.complete(ctx, u); err != nil {
				if reloaded(err) {
					continue
				}
				return nil, err
			}
			return nil, nil
		}
		idx := cur.StepIndex()
		now := o.clock.Now()

		switch cur.Status {
		case run.StepPending:
			wait := cur.Definition.WaitDuration()
			switch {
			case cur.WaitRemaining != nil:
				// paused remaining survived without a resume, e.g. after a reload
				until := now.Add(*cur.WaitRemaining)
				if err := o.tryMutate(ctx, u, func(r *run.ScenarioRun, now time.Time) error {
					return r.ArmWait(idx, until, now)
				}); err != nil {
					if reloaded(err) {
						continue
					}
					return nil, err
				}
				continue
			case cur.WaitUntil == nil && wait > 0:
				until := now.Add(wait)
				if err := o.tryMutate(ctx, u, func(r *run.ScenarioRun, now time.Time) error {
					return r.ArmWait(idx, until, now)
				}); err != nil {
					if reloaded(err) {
						continue
					}
					return nil, err
				}
				o.armTimer(u, until)
				o.logger.WithFields(logrus.Fields{"run_id": r.ID, "step_index": idx, "wait_until": until}).Debug("wait armed")
				return nil, nil
			case cur.WaitUntil != nil && cur.WaitUntil.After(now):
				if u.timer == nil {
					o.armTimer(u, *cur.WaitUntil)
				}
				return nil, nil
			}

			execCtx := executionContext(r, idx, now)
			if err := o.tryMutate(ctx, u, func(r *run.ScenarioRun, now time.Time) error {
				return r.MarkReady(idx, execCtx, now)
			}); err != nil {
				if reloaded(err) {
					continue
				}
				return nil, err
			}
			o.logTransition(u.run, idx)

		case run.StepReady:
			if cur.Definition.RequiresApproval && cur.Approved == nil {
				if err := o.tryMutate(ctx, u, func(r *run.ScenarioRun, now time.Time) error {
					return r.AwaitApproval(idx, now)
				}); err != nil {
					if reloaded(err) {
						continue
					}
					return nil, err
				}
				o.logTransition(u.run, idx)
				return nil, nil
			}

			if err := o.tryMutate(ctx, u, func(r *run.ScenarioRun, now time.Time) error {
				return r.BeginStep(idx, now)
			}); err != nil {
				if reloaded(err) {
					continue
				}
				return nil, err
			}
			o.logTransition(u.run, idx)

			step := u.run.Step(idx)
			u.dispatching = true
			u.settled = make(chan struct{})
			return &dispatchJob{
				index: idx,
				req: output.DispatchRequest{
					TenantID:         r.TenantID,
					RunID:            r.ID,
					StepID:           step.ID,
					StepIndex:        idx,
					ActionType:       step.Definition.ActionType,
					Payload:          step.Definition.ActionPayload.Clone(),
					ExecutionContext: step.ExecutionContext.Clone(),
					Baseline:         r.Baseline,
				},
			}, nil

		default:
			// executing is owned by the in-flight dispatch, failed means the run is ending
			return nil, nil
		}
	}
}

// applyResult records the outcome of a dispatch. Caller holds u.mu.
// The result lands even when the run was paused or cancelled meanwhile.
func (o *Orchestrator) applyResult(ctx context.Context, u *runUnit, job *dispatchJob, res output.DispatchResult, derr error, took time.Duration) error {
	u.dispatching = false
	defer close(u.settled)

	success := derr == nil && res.Success
	message := res.Error
	if derr != nil {
		message = derr.Error()
	}
	if !success && message == "" {
		message = "action failed"
	}
	o.metrics.StepDispatched(job.req.ActionType, success, took)

	err := o.mutate(ctx, u, func(r *run.ScenarioRun, now time.Time) error {
		if success {
			if err := r.CompleteStep(job.index, res.Impact, now); err != nil {
				return err
			}
		} else {
			if err := r.FailStep(job.index, message, now); err != nil {
				return err
			}
		}
		if u.cancelRequested || r.CancelReason != "" {
			return r.FinalizeCancel(now)
		}
		if !success {
			return r.Fail(fmt.Sprintf("step %d (%s): %s", job.index, job.req.ActionType, message), now)
		}
		return nil
	})
	if err != nil {
		o.logger.WithError(err).WithField("run_id", job.req.RunID).Error("failed to record dispatch result")
		return err
	}

	entry := o.logger.WithFields(logrus.Fields{"run_id": job.req.RunID, "step_index": job.index, "action": job.req.ActionType, "took": took})
	if success {
		entry.Info("step completed")
	} else {
		entry.WithField("error", message).Warn("step failed")
	}
	if u.run.Status.IsTerminal() {
		o.finish(u)
	}
	return nil
}

// complete closes a run whose steps are all resolved and scores it. Caller holds u.mu.
func (o *Orchestrator) complete(ctx context.Context, u *runUnit) error {
	err := o.tryMutate(ctx, u, func(r *run.ScenarioRun, now time.Time) error {
		if err := r.Complete(now); err != nil {
			return err
		}
		risk, opportunity := simulation.Score(r.Baseline, r.Observed())
		r.SetOutcome(risk, opportunity, simulation.RunNarrative(r, risk, opportunity))
		return nil
	})
	if err != nil {
		return err
	}
	o.finish(u)
	return nil
}

// armTimer schedules the wake-up of the current wait. Caller holds u.mu.
func (o *Orchestrator) armTimer(u *runUnit, until time.Time) {
	u.stopTimer()
	if o.isClosed() {
		return
	}
	gen := u.gen
	d := until.Sub(o.clock.Now())
	if d < 0 {
		d = 0
	}
	// The callback may run while the clock holds its own lock, so real work moves to a goroutine.
	u.timer = o.clock.AfterFunc(d, func() {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return
		}
		o.wg.Add(1)
		o.mu.Unlock()
		go func() {
			defer o.wg.Done()
			o.onTimer(u, gen)
		}()
	})
}

func (o *Orchestrator) onTimer(u *runUnit, gen uint64) {
	u.mu.Lock()
	if u.gen != gen {
		u.mu.Unlock()
		return
	}
	u.timer = nil
	id := u.run.ID
	u.mu.Unlock()

	if err := o.drive(context.Background(), u); err != nil {
		o.logger.WithError(err).WithField("run_id", id).Error("advance after wait failed")
	}
}

// executionContext captures what a step sees at the moment it becomes ready
func executionContext(r *run.ScenarioRun, index int, now time.Time) model.Payload {
	ctx := r.Context.Clone()
	if ctx == nil {
		ctx = model.Payload{}
	}
	previous := make([]interface{}, 0, index)
	for _, s := range r.Steps[:index] {
		entry := map[string]interface{}{
			"step_index": s.StepIndex(),
			"status":     s.Status.String(),
		}
		if s.ObservedImpact.SentimentDelta != nil {
			entry["sentiment_delta"] = *s.ObservedImpact.SentimentDelta
		}
		if s.ObservedImpact.CoverageDelta != nil {
			entry["coverage_delta"] = *s.ObservedImpact.CoverageDelta
		}
		if s.ObservedImpact.EngagementDelta != nil {
			entry["engagement_delta"] = *s.ObservedImpact.EngagementDelta
		}
		previous = append(previous, entry)
	}
	ctx["tenant"] = r.TenantID.String()
	ctx["run_id"] = r.ID.String()
	ctx["step_index"] = index
	ctx["ready_at"] = now.UTC().Format(time.RFC3339Nano)
	ctx["previous_steps"] = previous
	return ctx
}
