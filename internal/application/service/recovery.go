package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
)

// recoverConcurrency bounds how many runs are reloaded at once
const recoverConcurrency = 8

// Recover reloads every non-terminal run after a process start.
// Armed waits are re-armed from their persisted deadline, paused runs keep
// their remaining time, and runs awaiting approval stay suspended.
// A step found executing has an unknown outcome, so it is failed and never re-dispatched.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	if o.isClosed() {
		return 0, ErrOrchestratorStopped
	}
	runs, err := o.runRepo.ListNonTerminal(ctx)
	if err != nil {
		return 0, fmt.Errorf("list non-terminal runs: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recoverConcurrency)
	for _, r := range runs {
		r := r
		g.Go(func() error {
			return o.recoverRun(gctx, r)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	o.logger.WithField("runs", len(runs)).Info("runs recovered")
	return len(runs), nil
}

func (o *Orchestrator) recoverRun(ctx context.Context, r *run.ScenarioRun) error {
	o.mu.Lock()
	_, live := o.units[r.ID]
	o.mu.Unlock()
	if live {
		return nil
	}

	u := newRunUnit(r)
	u.mu.Lock()
	if s := r.ExecutingStep(); s != nil {
		idx := s.StepIndex()
		err := o.mutate(ctx, u, func(r *run.ScenarioRun, now time.Time) error {
			if err := r.FailStep(idx, interruptedMessage, now); err != nil {
				return err
			}
			if r.CancelReason != "" {
				return r.FinalizeCancel(now)
			}
			return r.Fail(fmt.Sprintf("step %d (%s): %s", idx, s.Definition.ActionType, interruptedMessage), now)
		})
		status := u.run.Status
		u.mu.Unlock()
		if err != nil {
			return fmt.Errorf("recover run %s: %w", r.ID, err)
		}
		o.metrics.RunFinished(status)
		o.logger.WithField("run_id", r.ID).WithField("step_index", idx).Warn("in-flight dispatch lost, run closed")
		return nil
	}

	if r.Status == run.StatusPending {
		if err := o.mutate(ctx, u, func(r *run.ScenarioRun, now time.Time) error {
			return r.Start(now)
		}); err != nil {
			u.mu.Unlock()
			return fmt.Errorf("recover run %s: %w", r.ID, err)
		}
	}
	o.logTransition(u.run, -1)
	u.mu.Unlock()

	u = o.register(u)
	if err := o.drive(ctx, u); err != nil {
		return fmt.Errorf("recover run %s: %w", r.ID, err)
	}
	return nil
}
