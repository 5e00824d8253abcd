// Package parents manages parent accounts and their wallet ledgers.
package parents

import (
	"context"
	"fmt"
	"strings"

	"github.com/merryworks/magicledger/internal/app/auth"
	"github.com/merryworks/magicledger/internal/app/domain/ledger"
	"github.com/merryworks/magicledger/internal/app/domain/parent"
	"github.com/merryworks/magicledger/internal/app/storage"
	"github.com/merryworks/magicledger/pkg/logger"
)

// MaxTopUpCents caps a single top-up request.
const MaxTopUpCents = 100_000_00

// Service manages parent registration, login, and the wallet ledger.
type Service struct {
	store  storage.ParentStore
	tokens *auth.Manager
	log    *logger.Logger
}

// New constructs a parents service.
func New(store storage.ParentStore, tokens *auth.Manager, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("parents")
	}
	return &Service{
		store:  store,
		tokens: tokens,
		log:    log,
	}
}

// Register creates a parent account with a hashed password.
func (s *Service) Register(ctx context.Context, email, name, password string) (parent.Parent, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)

	if email == "" || !strings.Contains(email, "@") {
		return parent.Parent{}, fmt.Errorf("a valid email is required")
	}
	if len(password) < 8 {
		return parent.Parent{}, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return parent.Parent{}, err
	}

	p, err := s.store.CreateParent(ctx, parent.Parent{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
	})
	if err != nil {
		return parent.Parent{}, err
	}
	s.log.WithField("parent_id", p.ID).Info("parent registered")
	return p, nil
}

// Login verifies credentials and issues a session token.
func (s *Service) Login(ctx context.Context, email, password string) (parent.Parent, string, error) {
	p, err := s.store.GetParentByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return parent.Parent{}, "", auth.ErrInvalidCredentials
	}
	if err := auth.CheckPassword(p.PasswordHash, password); err != nil {
		return parent.Parent{}, "", auth.ErrInvalidCredentials
	}

	token, err := s.tokens.IssueToken(p.ID, p.Email)
	if err != nil {
		return parent.Parent{}, "", err
	}
	s.log.WithField("parent_id", p.ID).Info("parent logged in")
	return p, token, nil
}

// Get returns the parent with its cached balance refreshed from the ledger.
func (s *Service) Get(ctx context.Context, parentID string) (parent.Parent, error) {
	p, err := s.store.GetParent(ctx, parentID)
	if err != nil {
		return parent.Parent{}, err
	}
	balance, err := s.RecomputeBalance(ctx, parentID)
	if err != nil {
		return parent.Parent{}, err
	}
	p.WalletBalanceCents = balance
	return p, nil
}

// TopUp opens a pending wallet credit awaiting payment confirmation. The
// correlation id ties the entry to the payment provider's charge.
func (s *Service) TopUp(ctx context.Context, parentID string, amountCents int64, correlationID string) (ledger.Entry, error) {
	correlationID = strings.TrimSpace(correlationID)
	if amountCents <= 0 {
		return ledger.Entry{}, fmt.Errorf("amount_cents must be positive")
	}
	if amountCents > MaxTopUpCents {
		return ledger.Entry{}, fmt.Errorf("amount_cents exceeds the %d cent limit", MaxTopUpCents)
	}
	if correlationID == "" {
		return ledger.Entry{}, fmt.Errorf("correlation_id is required")
	}

	if _, err := s.store.GetParent(ctx, parentID); err != nil {
		return ledger.Entry{}, err
	}

	entry, err := s.store.CreateWalletEntry(ctx, ledger.Entry{
		OwnerID:       parentID,
		Type:          ledger.TypeTopUp,
		AmountCents:   amountCents,
		Status:        ledger.StatusPending,
		CorrelationID: correlationID,
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	s.log.WithField("parent_id", parentID).
		WithField("entry_id", entry.ID).
		WithField("amount_cents", amountCents).
		Info("wallet top-up opened")
	return entry, nil
}

// Refund records an immediate negative adjustment against the wallet. The
// recomputed balance must cover the full amount.
func (s *Service) Refund(ctx context.Context, parentID string, amountCents int64) (ledger.Entry, error) {
	if amountCents <= 0 {
		return ledger.Entry{}, fmt.Errorf("amount_cents must be positive")
	}

	balance, err := s.RecomputeBalance(ctx, parentID)
	if err != nil {
		return ledger.Entry{}, err
	}
	if balance < amountCents {
		return ledger.Entry{}, ledger.ErrInsufficientBalance
	}

	entry, err := s.store.CreateWalletEntry(ctx, ledger.Entry{
		OwnerID:     parentID,
		Type:        ledger.TypeRefund,
		AmountCents: -amountCents,
		Status:      ledger.StatusSucceeded,
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	if err := s.store.SetWalletBalance(ctx, parentID, balance-amountCents); err != nil {
		return ledger.Entry{}, err
	}
	s.log.WithField("parent_id", parentID).
		WithField("amount_cents", amountCents).
		Info("wallet refund recorded")
	return entry, nil
}

// Ledger lists the parent's wallet entries, oldest first.
func (s *Service) Ledger(ctx context.Context, parentID string) ([]ledger.Entry, error) {
	return s.store.ListWalletEntries(ctx, parentID)
}

// RecomputeBalance folds the wallet ledger and writes the result back to the
// cached balance field. It returns the authoritative balance.
func (s *Service) RecomputeBalance(ctx context.Context, parentID string) (int64, error) {
	entries, err := s.store.ListWalletEntries(ctx, parentID)
	if err != nil {
		return 0, err
	}
	balance := ledger.Balance(entries)
	if err := s.store.SetWalletBalance(ctx, parentID, balance); err != nil {
		return 0, err
	}
	return balance, nil
}
