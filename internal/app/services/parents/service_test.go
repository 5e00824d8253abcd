package parents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/merryworks/magicledger/internal/app/auth"
	"github.com/merryworks/magicledger/internal/app/domain/ledger"
	"github.com/merryworks/magicledger/internal/app/storage/memory"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	tokens, err := auth.NewManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	store := memory.New()
	return New(store, tokens, nil), store
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newService(t)

	p, err := svc.Register(context.Background(), "mom@example.com", "Mom", "hunter2plus")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.PasswordHash == "hunter2plus" {
		t.Fatal("password must be stored hashed")
	}

	got, token, err := svc.Login(context.Background(), "mom@example.com", "hunter2plus")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != p.ID || token == "" {
		t.Fatalf("unexpected login result %q / %q", got.ID, token)
	}

	if _, _, err := svc.Login(context.Background(), "mom@example.com", "wrong-password"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "nobody@example.com", "hunter2plus"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newService(t)

	if _, err := svc.Register(context.Background(), "not-an-email", "Mom", "hunter2plus"); err == nil {
		t.Fatal("expected invalid email to be rejected")
	}
	if _, err := svc.Register(context.Background(), "mom@example.com", "Mom", "short"); err == nil {
		t.Fatal("expected short password to be rejected")
	}
}

func TestTopUpOpensPendingEntry(t *testing.T) {
	svc, _ := newService(t)
	p, err := svc.Register(context.Background(), "mom@example.com", "Mom", "hunter2plus")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	entry, err := svc.TopUp(context.Background(), p.ID, 5000, "charge-1")
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if entry.Status != ledger.StatusPending {
		t.Fatalf("expected pending entry, got %s", entry.Status)
	}

	// Pending credits do not move the balance.
	balance, err := svc.RecomputeBalance(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected balance 0, got %d", balance)
	}

	if _, err := svc.TopUp(context.Background(), p.ID, 0, "charge-2"); err == nil {
		t.Fatal("expected zero amount to be rejected")
	}
	if _, err := svc.TopUp(context.Background(), p.ID, 5000, ""); err == nil {
		t.Fatal("expected missing correlation id to be rejected")
	}
	if _, err := svc.TopUp(context.Background(), p.ID, MaxTopUpCents+1, "charge-3"); err == nil {
		t.Fatal("expected over-limit amount to be rejected")
	}
}

func TestRefundRequiresCoverage(t *testing.T) {
	svc, store := newService(t)
	p, err := svc.Register(context.Background(), "mom@example.com", "Mom", "hunter2plus")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Refund(context.Background(), p.ID, 100); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	if _, err := store.CreateWalletEntry(context.Background(), ledger.Entry{
		OwnerID:     p.ID,
		Type:        ledger.TypeTopUp,
		AmountCents: 1000,
		Status:      ledger.StatusSucceeded,
	}); err != nil {
		t.Fatalf("seed entry: %v", err)
	}

	if _, err := svc.Refund(context.Background(), p.ID, 400); err != nil {
		t.Fatalf("refund: %v", err)
	}

	got, err := svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.WalletBalanceCents != 600 {
		t.Fatalf("expected balance 600, got %d", got.WalletBalanceCents)
	}
}

func TestGetRefreshesCachedBalance(t *testing.T) {
	svc, store := newService(t)
	p, err := svc.Register(context.Background(), "mom@example.com", "Mom", "hunter2plus")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := store.CreateWalletEntry(context.Background(), ledger.Entry{
		OwnerID:     p.ID,
		Type:        ledger.TypeTopUp,
		AmountCents: 2500,
		Status:      ledger.StatusSucceeded,
	}); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	// Drift the cache on purpose; Get must repair it from the ledger.
	if err := store.SetWalletBalance(context.Background(), p.ID, 999999); err != nil {
		t.Fatalf("drift balance: %v", err)
	}

	got, err := svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.WalletBalanceCents != 2500 {
		t.Fatalf("expected repaired balance 2500, got %d", got.WalletBalanceCents)
	}
}
