package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/merryworks/magicledger/internal/app/domain/child"
	"github.com/merryworks/magicledger/internal/app/domain/gift"
	"github.com/merryworks/magicledger/internal/app/domain/ledger"
	"github.com/merryworks/magicledger/internal/app/domain/parent"
	"github.com/merryworks/magicledger/internal/app/storage"
)

func seedParent(t *testing.T, s *Store, email string) parent.Parent {
	t.Helper()
	p, err := s.CreateParent(context.Background(), parent.Parent{Email: email, Name: "Test Parent"})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	return p
}

func seedChild(t *testing.T, s *Store, parentID, slug string) child.Child {
	t.Helper()
	c, err := s.CreateChild(context.Background(), child.Child{ParentID: parentID, DisplayName: "Kiddo", ShareSlug: slug})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	return c
}

func seedWalletEntry(t *testing.T, s *Store, parentID string, amount int64, status ledger.EntryStatus) ledger.Entry {
	t.Helper()
	e, err := s.CreateWalletEntry(context.Background(), ledger.Entry{
		OwnerID:     parentID,
		Type:        ledger.TypeTopUp,
		AmountCents: amount,
		Status:      status,
	})
	if err != nil {
		t.Fatalf("create wallet entry: %v", err)
	}
	return e
}

func TestParentEmailUniqueness(t *testing.T) {
	s := New()
	seedParent(t, s, "mom@example.com")

	if _, err := s.CreateParent(context.Background(), parent.Parent{Email: "MOM@example.com"}); err == nil {
		t.Fatal("expected duplicate email to be rejected")
	}
}

func TestWalletEntryCorrelationUniqueness(t *testing.T) {
	s := New()
	p := seedParent(t, s, "mom@example.com")

	entry := ledger.Entry{OwnerID: p.ID, Type: ledger.TypeTopUp, AmountCents: 500, Status: ledger.StatusPending, CorrelationID: "psp-123"}
	if _, err := s.CreateWalletEntry(context.Background(), entry); err != nil {
		t.Fatalf("first entry: %v", err)
	}
	if _, err := s.CreateWalletEntry(context.Background(), entry); err == nil {
		t.Fatal("expected duplicate correlation id to be rejected")
	}

	got, err := s.GetWalletEntryByCorrelation(context.Background(), "psp-123")
	if err != nil {
		t.Fatalf("lookup by correlation: %v", err)
	}
	if got.AmountCents != 500 {
		t.Fatalf("unexpected amount %d", got.AmountCents)
	}
}

func TestTransitionWalletEntry(t *testing.T) {
	s := New()
	p := seedParent(t, s, "mom@example.com")
	e := seedWalletEntry(t, s, p.ID, 1000, ledger.StatusPending)

	got, err := s.TransitionWalletEntry(context.Background(), e.ID, ledger.StatusPending, ledger.StatusSucceeded)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.Status != ledger.StatusSucceeded {
		t.Fatalf("unexpected status %s", got.Status)
	}

	// A second transition must fail on the stale expected status.
	if _, err := s.TransitionWalletEntry(context.Background(), e.ID, ledger.StatusPending, ledger.StatusFailed); err == nil {
		t.Fatal("expected stale transition to fail")
	}
	// Terminal entries never move again.
	if _, err := s.TransitionWalletEntry(context.Background(), e.ID, ledger.StatusSucceeded, ledger.StatusFailed); err == nil {
		t.Fatal("expected terminal transition to fail")
	}
}

func TestListPendingWalletEntries(t *testing.T) {
	s := New()
	p := seedParent(t, s, "mom@example.com")
	seedWalletEntry(t, s, p.ID, 1000, ledger.StatusPending)
	seedWalletEntry(t, s, p.ID, 2000, ledger.StatusSucceeded)

	pending, err := s.ListPendingWalletEntries(context.Background(), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending entry, got %d", len(pending))
	}

	pending, err = s.ListPendingWalletEntries(context.Background(), time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no entries older than cutoff, got %d", len(pending))
	}
}

func TestChildSlugLookup(t *testing.T) {
	s := New()
	p := seedParent(t, s, "mom@example.com")
	seedChild(t, s, p.ID, "sparkle-7")

	got, err := s.GetChildBySlug(context.Background(), "SPARKLE-7")
	if err != nil {
		t.Fatalf("slug lookup: %v", err)
	}
	if got.DisplayName != "Kiddo" {
		t.Fatalf("unexpected child %q", got.DisplayName)
	}

	if _, err := s.CreateChild(context.Background(), child.Child{ParentID: p.ID, ShareSlug: "sparkle-7"}); err == nil {
		t.Fatal("expected duplicate slug to be rejected")
	}
}

func TestSpendScore(t *testing.T) {
	s := New()
	p := seedParent(t, s, "mom@example.com")
	c := seedChild(t, s, p.ID, "sparkle-7")

	c.Score365 = 10
	if _, err := s.UpdateChild(context.Background(), c); err != nil {
		t.Fatalf("update child: %v", err)
	}

	got, err := s.SpendScore(context.Background(), c.ID, 4)
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if got.Score365 != 6 {
		t.Fatalf("expected score 6, got %d", got.Score365)
	}

	if _, err := s.SpendScore(context.Background(), c.ID, 7); !errors.Is(err, child.ErrInsufficientScore) {
		t.Fatalf("expected ErrInsufficientScore, got %v", err)
	}
	got, err = s.GetChild(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	if got.Score365 != 6 {
		t.Fatalf("failed spend must not mutate score, got %d", got.Score365)
	}
}

func TestCastVoteHappyPath(t *testing.T) {
	s := New()
	p := seedParent(t, s, "mom@example.com")
	c := seedChild(t, s, p.ID, "sparkle-7")
	seedWalletEntry(t, s, p.ID, 1000, ledger.StatusSucceeded)

	res, err := s.CastVote(context.Background(), storage.CastVoteRequest{
		ParentID:  p.ID,
		ChildID:   c.ID,
		Points:    5,
		CostCents: 500,
		Day:       "2026-12-01",
	})
	if err != nil {
		t.Fatalf("cast vote: %v", err)
	}
	if res.NewScore != 5 {
		t.Fatalf("expected score 5, got %d", res.NewScore)
	}
	if res.NewBalanceCents != 500 {
		t.Fatalf("expected balance 500, got %d", res.NewBalanceCents)
	}
	if res.Entry.Type != ledger.TypeAdjustment || res.Entry.AmountCents != -500 {
		t.Fatalf("unexpected debit entry %+v", res.Entry)
	}

	day, err := s.LastVoteDay(context.Background(), p.ID, c.ID)
	if err != nil {
		t.Fatalf("last vote day: %v", err)
	}
	if day != "2026-12-01" {
		t.Fatalf("unexpected vote day %q", day)
	}

	// Cached balance follows the ledger.
	gotParent, err := s.GetParent(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if gotParent.WalletBalanceCents != 500 {
		t.Fatalf("cached balance not updated, got %d", gotParent.WalletBalanceCents)
	}
}

func TestCastVoteSameDayRejected(t *testing.T) {
	s := New()
	p := seedParent(t, s, "mom@example.com")
	c := seedChild(t, s, p.ID, "sparkle-7")
	seedWalletEntry(t, s, p.ID, 1000, ledger.StatusSucceeded)

	req := storage.CastVoteRequest{ParentID: p.ID, ChildID: c.ID, Points: 1, CostCents: 100, Day: "2026-12-01"}
	if _, err := s.CastVote(context.Background(), req); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if _, err := s.CastVote(context.Background(), req); !errors.Is(err, parent.ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}

	// The next day opens the gate again.
	req.Day = "2026-12-02"
	if _, err := s.CastVote(context.Background(), req); err != nil {
		t.Fatalf("next-day vote: %v", err)
	}
}

func TestCastVoteInsufficientBalance(t *testing.T) {
	s := New()
	p := seedParent(t, s, "mom@example.com")
	c := seedChild(t, s, p.ID, "sparkle-7")
	seedWalletEntry(t, s, p.ID, 50, ledger.StatusSucceeded)
	// Pending funds do not count toward the gate.
	seedWalletEntry(t, s, p.ID, 10000, ledger.StatusPending)

	_, err := s.CastVote(context.Background(), storage.CastVoteRequest{
		ParentID:  p.ID,
		ChildID:   c.ID,
		Points:    1,
		CostCents: 100,
		Day:       "2026-12-01",
	})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// A rejected vote leaves everything untouched.
	if day, _ := s.LastVoteDay(context.Background(), p.ID, c.ID); day != "" {
		t.Fatalf("gate must stay open after rejection, got %q", day)
	}
	entries, err := s.ListWalletEntries(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected no debit entry, got %d entries", len(entries))
	}
}

func TestCastVoteClampsScore(t *testing.T) {
	s := New()
	p := seedParent(t, s, "mom@example.com")
	c := seedChild(t, s, p.ID, "sparkle-7")
	seedWalletEntry(t, s, p.ID, 100000, ledger.StatusSucceeded)

	c.Score365 = 360
	if _, err := s.UpdateChild(context.Background(), c); err != nil {
		t.Fatalf("update child: %v", err)
	}

	res, err := s.CastVote(context.Background(), storage.CastVoteRequest{
		ParentID:  p.ID,
		ChildID:   c.ID,
		Points:    10,
		CostCents: 1000,
		Day:       "2026-12-01",
	})
	if err != nil {
		t.Fatalf("cast vote: %v", err)
	}
	if res.NewScore != child.MaxScore {
		t.Fatalf("expected clamped score %d, got %d", child.MaxScore, res.NewScore)
	}
	// The full cost is still debited even when the score clamps.
	if res.NewBalanceCents != 99000 {
		t.Fatalf("expected balance 99000, got %d", res.NewBalanceCents)
	}
}

func TestDonorTotals(t *testing.T) {
	s := New()
	p := seedParent(t, s, "mom@example.com")
	c := seedChild(t, s, p.ID, "sparkle-7")

	if err := s.IncrementDonorTotals(context.Background(), c.ID, 500); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := s.IncrementDonorTotals(context.Background(), c.ID, 250); err != nil {
		t.Fatalf("increment: %v", err)
	}

	got, err := s.GetChild(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	if got.DonorCount != 2 || got.DonorTotalCents != 750 {
		t.Fatalf("unexpected donor totals %d/%d", got.DonorCount, got.DonorTotalCents)
	}
}

func TestOrderLifecycleStorage(t *testing.T) {
	s := New()
	p := seedParent(t, s, "mom@example.com")
	c := seedChild(t, s, p.ID, "sparkle-7")

	g, err := s.CreateGift(context.Background(), gift.Gift{Name: "Wooden Train", PriceCents: 2500, PricePoints: 30, Active: true})
	if err != nil {
		t.Fatalf("create gift: %v", err)
	}

	o, err := s.CreateOrder(context.Background(), gift.Order{
		ChildID:     c.ID,
		GiftID:      g.ID,
		Status:      gift.OrderRequested,
		PointsSpent: 30,
		PriceCents:  2500,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	forParent, err := s.ListOrdersForParent(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("list for parent: %v", err)
	}
	if len(forParent) != 1 || forParent[0].ID != o.ID {
		t.Fatalf("unexpected parent orders %+v", forParent)
	}

	if _, err := s.CreateOrder(context.Background(), gift.Order{ChildID: c.ID, GiftID: "missing"}); err == nil {
		t.Fatal("expected order for unknown gift to be rejected")
	}
}

func TestListGiftsActiveOnly(t *testing.T) {
	s := New()
	if _, err := s.CreateGift(context.Background(), gift.Gift{Name: "Active", Active: true}); err != nil {
		t.Fatalf("create gift: %v", err)
	}
	if _, err := s.CreateGift(context.Background(), gift.Gift{Name: "Retired", Active: false}); err != nil {
		t.Fatalf("create gift: %v", err)
	}

	all, err := s.ListGifts(context.Background(), false)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 gifts, got %d", len(all))
	}

	active, err := s.ListGifts(context.Background(), true)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].Name != "Active" {
		t.Fatalf("unexpected active gifts %+v", active)
	}
}
