// Package jobs hosts the scheduled background work: the nightly ledger
// reconciliation that repairs drifted cached balances.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/merryworks/magicledger/internal/app/domain/ledger"
	"github.com/merryworks/magicledger/internal/app/storage"
	"github.com/merryworks/magicledger/internal/app/system"
	"github.com/merryworks/magicledger/pkg/logger"
)

// DefaultSchedule runs the reconciler at 03:10 every night, outside the
// evening voting peak.
const DefaultSchedule = "10 3 * * *"

// Reconciler folds every wallet and neighbor ledger and writes the results
// back to the cached balance fields. The caches are read-through and repaired
// before every monetary gate, so this job only exists to keep the cached
// values honest for reads that skip recomputation.
type Reconciler struct {
	parents  storage.ParentStore
	children storage.ChildStore
	schedule string
	log      *logger.Logger

	cron *cron.Cron
}

var _ system.Service = (*Reconciler)(nil)

// NewReconciler constructs the job. An empty schedule uses DefaultSchedule.
func NewReconciler(parents storage.ParentStore, children storage.ChildStore, schedule string, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewDefault("reconciler")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Reconciler{
		parents:  parents,
		children: children,
		schedule: schedule,
		log:      log,
	}
}

func (r *Reconciler) Name() string { return "ledger-reconciler" }

func (r *Reconciler) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := r.RunOnce(runCtx); err != nil {
			r.log.WithError(err).Error("ledger reconciliation failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.log.WithField("schedule", r.schedule).Info("ledger reconciler scheduled")
	return nil
}

func (r *Reconciler) Stop(ctx context.Context) error {
	if r.cron == nil {
		return nil
	}
	stopped := r.cron.Stop()
	r.cron = nil
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce reconciles every cached balance immediately.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	parents, err := r.parents.ListParents(ctx)
	if err != nil {
		return fmt.Errorf("list parents: %w", err)
	}
	var repaired int
	for _, p := range parents {
		entries, err := r.parents.ListWalletEntries(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("list wallet entries for %s: %w", p.ID, err)
		}
		balance := ledger.Balance(entries)
		if balance == p.WalletBalanceCents {
			continue
		}
		if err := r.parents.SetWalletBalance(ctx, p.ID, balance); err != nil {
			return fmt.Errorf("set wallet balance for %s: %w", p.ID, err)
		}
		r.log.WithField("parent_id", p.ID).
			WithField("cached_cents", p.WalletBalanceCents).
			WithField("actual_cents", balance).
			Warn("repaired drifted wallet balance")
		repaired++
	}

	children, err := r.children.ListChildren(ctx, "")
	if err != nil {
		return fmt.Errorf("list children: %w", err)
	}
	for _, c := range children {
		entries, err := r.children.ListNeighborEntries(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("list neighbor entries for %s: %w", c.ID, err)
		}
		balance := ledger.Balance(entries)
		if balance == c.NeighborBalanceCents {
			continue
		}
		if err := r.children.SetNeighborBalance(ctx, c.ID, balance); err != nil {
			return fmt.Errorf("set neighbor balance for %s: %w", c.ID, err)
		}
		r.log.WithField("child_id", c.ID).
			WithField("cached_cents", c.NeighborBalanceCents).
			WithField("actual_cents", balance).
			Warn("repaired drifted neighbor balance")
		repaired++
	}

	r.log.WithField("repaired", repaired).Info("ledger reconciliation finished")
	return nil
}
