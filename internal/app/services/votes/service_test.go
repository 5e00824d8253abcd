package votes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/merryworks/magicledger/internal/app/domain/child"
	"github.com/merryworks/magicledger/internal/app/domain/ledger"
	"github.com/merryworks/magicledger/internal/app/domain/parent"
	"github.com/merryworks/magicledger/internal/app/storage/memory"
)

type fixture struct {
	svc    *Service
	store  *memory.Store
	parent parent.Parent
	child  child.Child
}

func newFixture(t *testing.T, balanceCents int64) *fixture {
	t.Helper()
	store := memory.New()

	p, err := store.CreateParent(context.Background(), parent.Parent{Email: "mom@example.com"})
	if err != nil {
		t.Fatalf("seed parent: %v", err)
	}
	c, err := store.CreateChild(context.Background(), child.Child{ParentID: p.ID, DisplayName: "Noa", ShareSlug: "noa-slug"})
	if err != nil {
		t.Fatalf("seed child: %v", err)
	}
	if balanceCents > 0 {
		if _, err := store.CreateWalletEntry(context.Background(), ledger.Entry{
			OwnerID:     p.ID,
			Type:        ledger.TypeTopUp,
			AmountCents: balanceCents,
			Status:      ledger.StatusSucceeded,
		}); err != nil {
			t.Fatalf("seed balance: %v", err)
		}
	}

	return &fixture{svc: New(store, store, nil), store: store, parent: p, child: c}
}

func TestCastVote(t *testing.T) {
	f := newFixture(t, 10000)

	res, err := f.svc.Cast(context.Background(), f.parent.ID, f.child.ID, 5)
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	if res.CostCents != 500 {
		t.Fatalf("expected cost 500, got %d", res.CostCents)
	}
	if res.NewScore != 5 {
		t.Fatalf("expected score 5, got %d", res.NewScore)
	}
	if res.NewBalanceCents != 9500 {
		t.Fatalf("expected balance 9500, got %d", res.NewBalanceCents)
	}
}

func TestCastVoteOncePerDay(t *testing.T) {
	f := newFixture(t, 10000)

	if _, err := f.svc.Cast(context.Background(), f.parent.ID, f.child.ID, 1); err != nil {
		t.Fatalf("first cast: %v", err)
	}
	if _, err := f.svc.Cast(context.Background(), f.parent.ID, f.child.ID, 1); !errors.Is(err, parent.ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}

	// The next calendar day reopens the gate.
	f.svc.now = func() time.Time { return time.Now().AddDate(0, 0, 1) }
	if _, err := f.svc.Cast(context.Background(), f.parent.ID, f.child.ID, 1); err != nil {
		t.Fatalf("next-day cast: %v", err)
	}
}

func TestCastVoteInsufficientBalance(t *testing.T) {
	f := newFixture(t, 50)

	if _, err := f.svc.Cast(context.Background(), f.parent.ID, f.child.ID, 1); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// A failed cast must not close the gate.
	status, err := f.svc.TodayStatus(context.Background(), f.parent.ID, f.child.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.CanVoteToday {
		t.Fatal("gate must stay open after a failed cast")
	}
}

func TestCastVotePointBounds(t *testing.T) {
	f := newFixture(t, 100000)

	for _, points := range []int{0, -1, MaxPoints + 1} {
		if _, err := f.svc.Cast(context.Background(), f.parent.ID, f.child.ID, points); err == nil {
			t.Fatalf("expected %d points to be rejected", points)
		}
	}
}

func TestCastVoteOwnership(t *testing.T) {
	f := newFixture(t, 10000)

	other, err := f.store.CreateParent(context.Background(), parent.Parent{Email: "other@example.com"})
	if err != nil {
		t.Fatalf("seed other parent: %v", err)
	}

	if _, err := f.svc.Cast(context.Background(), other.ID, f.child.ID, 1); err == nil {
		t.Fatal("expected foreign child to be rejected")
	}
	if _, err := f.svc.TodayStatus(context.Background(), other.ID, f.child.ID); err == nil {
		t.Fatal("expected foreign status check to be rejected")
	}
}

func TestTodayStatusReflectsVote(t *testing.T) {
	f := newFixture(t, 10000)

	status, err := f.svc.TodayStatus(context.Background(), f.parent.ID, f.child.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.CanVoteToday || status.LastVoteDay != "" {
		t.Fatalf("unexpected initial status %+v", status)
	}

	if _, err := f.svc.Cast(context.Background(), f.parent.ID, f.child.ID, 1); err != nil {
		t.Fatalf("cast: %v", err)
	}

	status, err = f.svc.TodayStatus(context.Background(), f.parent.ID, f.child.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.CanVoteToday || status.LastVoteDay != status.Day {
		t.Fatalf("unexpected post-vote status %+v", status)
	}
}
