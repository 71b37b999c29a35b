package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
)

// DefaultSyncInterval is how often StartSync re-reads the store
const DefaultSyncInterval = 2 * time.Second

// Sync adopts run changes other processes wrote to the shared store.
// Unknown unfinished runs are taken over and driven, live runs with a newer
// stored revision are replaced and live runs finished elsewhere are dropped.
// Executing steps found here belong to their writer and are left alone.
// It returns how many runs changed.
func (o *Orchestrator) Sync(ctx context.Context) (int, error) {
	if o.isClosed() {
		return 0, ErrOrchestratorStopped
	}
	stored, err := o.runRepo.ListNonTerminal(ctx)
	if err != nil {
		return 0, fmt.Errorf("list non-terminal runs: %w", err)
	}

	seen := make(map[model.RunID]struct{}, len(stored))
	var changed []*runUnit
	for _, r := range stored {
		seen[r.ID] = struct{}{}
		if u, ok := o.syncRun(r); ok {
			changed = append(changed, u)
		}
	}

	for _, u := range o.liveUnits() {
		u.mu.Lock()
		tenant, id := u.run.TenantID, u.run.ID
		u.mu.Unlock()
		if _, ok := seen[id]; ok {
			continue
		}
		fresh, err := o.runRepo.Find(ctx, tenant, id)
		if err != nil {
			o.logger.WithError(err).WithField("run_id", id).Warn("sync could not read run")
			continue
		}
		if o.adopt(u, fresh) {
			changed = append(changed, u)
		}
	}

	for _, u := range changed {
		if err := o.drive(ctx, u); err != nil {
			o.logger.WithError(err).Error("advance after sync failed")
		}
	}
	if len(changed) > 0 {
		o.logger.WithField("runs", len(changed)).Debug("runs synced from store")
	}
	return len(changed), nil
}

// syncRun registers a run first seen in the store or adopts a newer copy of a live one
func (o *Orchestrator) syncRun(r *run.ScenarioRun) (*runUnit, bool) {
	if r.Status == run.StatusPending {
		// not started yet; Recover owns these
		return nil, false
	}

	o.mu.Lock()
	u, live := o.units[r.ID]
	if !live {
		u = newRunUnit(r)
		o.units[r.ID] = u
	}
	n := len(o.units)
	o.mu.Unlock()

	if live {
		return u, o.adopt(u, r)
	}
	o.metrics.SetActiveRuns(n)
	o.logTransition(r, -1)
	return u, true
}

func (o *Orchestrator) liveUnits() []*runUnit {
	o.mu.Lock()
	defer o.mu.Unlock()
	units := make([]*runUnit, 0, len(o.units))
	for _, u := range o.units {
		units = append(units, u)
	}
	return units
}

// StartSync runs Sync every interval until Stop. It suits a long-lived
// host sharing its store with short-lived processes.
func (o *Orchestrator) StartSync(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	o.mu.Lock()
	if o.closed || o.syncing {
		o.mu.Unlock()
		return
	}
	o.syncing = true
	o.mu.Unlock()

	o.scheduleSync(interval)
}

// scheduleSync arms the next sync. The clock is never called under o.mu.
func (o *Orchestrator) scheduleSync(interval time.Duration) {
	if o.isClosed() {
		return
	}
	t := o.clock.AfterFunc(interval, func() {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return
		}
		o.wg.Add(1)
		o.mu.Unlock()
		go func() {
			defer o.wg.Done()
			if _, err := o.Sync(context.Background()); err != nil && !errors.Is(err, ErrOrchestratorStopped) {
				o.logger.WithError(err).Warn("sync with store failed")
			}
			o.scheduleSync(interval)
		}()
	})

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		t.Stop()
		return
	}
	o.syncTimer = t
	o.mu.Unlock()
}
