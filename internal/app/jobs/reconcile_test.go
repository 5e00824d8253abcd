package jobs

import (
	"context"
	"testing"

	"github.com/merryworks/magicledger/internal/app/domain/child"
	"github.com/merryworks/magicledger/internal/app/domain/ledger"
	"github.com/merryworks/magicledger/internal/app/domain/parent"
	"github.com/merryworks/magicledger/internal/app/storage/memory"
)

func TestRunOnceRepairsDriftedBalances(t *testing.T) {
	store := memory.New()

	p, err := store.CreateParent(context.Background(), parent.Parent{Email: "mom@example.com"})
	if err != nil {
		t.Fatalf("seed parent: %v", err)
	}
	c, err := store.CreateChild(context.Background(), child.Child{ParentID: p.ID, DisplayName: "Noa", ShareSlug: "noa-slug"})
	if err != nil {
		t.Fatalf("seed child: %v", err)
	}

	if _, err := store.CreateWalletEntry(context.Background(), ledger.Entry{
		OwnerID:     p.ID,
		Type:        ledger.TypeTopUp,
		AmountCents: 3000,
		Status:      ledger.StatusSucceeded,
	}); err != nil {
		t.Fatalf("seed wallet entry: %v", err)
	}
	if _, err := store.CreateNeighborEntry(context.Background(), ledger.Entry{
		OwnerID:     c.ID,
		Type:        ledger.TypeDonation,
		AmountCents: 800,
		Status:      ledger.StatusSucceeded,
	}); err != nil {
		t.Fatalf("seed neighbor entry: %v", err)
	}

	// Drift both caches on purpose.
	if err := store.SetWalletBalance(context.Background(), p.ID, 1); err != nil {
		t.Fatalf("drift wallet: %v", err)
	}
	if err := store.SetNeighborBalance(context.Background(), c.ID, 1); err != nil {
		t.Fatalf("drift neighbor: %v", err)
	}

	r := NewReconciler(store, store, "", nil)
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	gotParent, err := store.GetParent(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if gotParent.WalletBalanceCents != 3000 {
		t.Fatalf("wallet cache not repaired, got %d", gotParent.WalletBalanceCents)
	}

	gotChild, err := store.GetChild(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	if gotChild.NeighborBalanceCents != 800 {
		t.Fatalf("neighbor cache not repaired, got %d", gotChild.NeighborBalanceCents)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	r := NewReconciler(memory.New(), memory.New(), "not a schedule", nil)
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected invalid schedule to be rejected")
	}
}

func TestStartStop(t *testing.T) {
	r := NewReconciler(memory.New(), memory.New(), "", nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// Stopping an unstarted reconciler is a no-op.
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
