// Package children manages child profiles, their public share pages, and the
// neighbor donation ledger.
package children

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/merryworks/magicledger/internal/app/domain/child"
	"github.com/merryworks/magicledger/internal/app/domain/ledger"
	"github.com/merryworks/magicledger/internal/app/storage"
	"github.com/merryworks/magicledger/pkg/logger"
)

// Donor field length caps. Values beyond these are rejected, not truncated.
const (
	MaxDonorNameLen    = 80
	MaxDonorEmailLen   = 254
	MaxDonorMessageLen = 500
)

// MaxDonationCents caps a single donation.
const MaxDonationCents = 10_000_00

const slugLen = 10

var slugEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Service manages children and their neighbor ledgers.
type Service struct {
	store storage.ChildStore
	log   *logger.Logger
}

// New constructs a children service.
func New(store storage.ChildStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("children")
	}
	return &Service{
		store: store,
		log:   log,
	}
}

func newShareSlug() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate share slug: %w", err)
	}
	return strings.ToLower(slugEncoding.EncodeToString(buf))[:slugLen], nil
}

// Create registers a child under the parent with a fresh share slug.
func (s *Service) Create(ctx context.Context, parentID, displayName string) (child.Child, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return child.Child{}, fmt.Errorf("display_name is required")
	}

	slug, err := newShareSlug()
	if err != nil {
		return child.Child{}, err
	}

	c, err := s.store.CreateChild(ctx, child.Child{
		ParentID:    parentID,
		DisplayName: displayName,
		ShareSlug:   slug,
	})
	if err != nil {
		return child.Child{}, err
	}
	s.log.WithField("child_id", c.ID).
		WithField("parent_id", parentID).
		Info("child created")
	return c, nil
}

// Rename updates the child's display name.
func (s *Service) Rename(ctx context.Context, childID, displayName string) (child.Child, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return child.Child{}, fmt.Errorf("display_name is required")
	}

	c, err := s.store.GetChild(ctx, childID)
	if err != nil {
		return child.Child{}, err
	}
	c.DisplayName = displayName
	return s.store.UpdateChild(ctx, c)
}

// Get returns the child with its cached neighbor balance refreshed.
func (s *Service) Get(ctx context.Context, childID string) (child.Child, error) {
	c, err := s.store.GetChild(ctx, childID)
	if err != nil {
		return child.Child{}, err
	}
	balance, err := s.RecomputeNeighborBalance(ctx, childID)
	if err != nil {
		return child.Child{}, err
	}
	c.NeighborBalanceCents = balance
	return c, nil
}

// List returns the parent's children.
func (s *Service) List(ctx context.Context, parentID string) ([]child.Child, error) {
	return s.store.ListChildren(ctx, parentID)
}

// PublicBySlug resolves a share slug to the public read model.
func (s *Service) PublicBySlug(ctx context.Context, slug string) (child.PublicView, error) {
	c, err := s.store.GetChildBySlug(ctx, strings.TrimSpace(slug))
	if err != nil {
		return child.PublicView{}, err
	}
	return c.Public(), nil
}

// Donate opens a pending donation on the child's neighbor ledger. The entry
// only counts toward the balance and donor totals once the payment provider
// confirms it.
func (s *Service) Donate(ctx context.Context, slug string, amountCents int64, correlationID, fromName, fromEmail, message string) (ledger.Entry, error) {
	correlationID = strings.TrimSpace(correlationID)
	fromName = strings.TrimSpace(fromName)
	fromEmail = strings.TrimSpace(fromEmail)
	message = strings.TrimSpace(message)

	if amountCents <= 0 {
		return ledger.Entry{}, fmt.Errorf("amount_cents must be positive")
	}
	if amountCents > MaxDonationCents {
		return ledger.Entry{}, fmt.Errorf("amount_cents exceeds the %d cent limit", MaxDonationCents)
	}
	if correlationID == "" {
		return ledger.Entry{}, fmt.Errorf("correlation_id is required")
	}
	if len(fromName) > MaxDonorNameLen {
		return ledger.Entry{}, fmt.Errorf("from_name exceeds %d characters", MaxDonorNameLen)
	}
	if len(fromEmail) > MaxDonorEmailLen {
		return ledger.Entry{}, fmt.Errorf("from_email exceeds %d characters", MaxDonorEmailLen)
	}
	if len(message) > MaxDonorMessageLen {
		return ledger.Entry{}, fmt.Errorf("message exceeds %d characters", MaxDonorMessageLen)
	}

	c, err := s.store.GetChildBySlug(ctx, slug)
	if err != nil {
		return ledger.Entry{}, err
	}

	entry, err := s.store.CreateNeighborEntry(ctx, ledger.Entry{
		OwnerID:       c.ID,
		Type:          ledger.TypeDonation,
		AmountCents:   amountCents,
		Status:        ledger.StatusPending,
		CorrelationID: correlationID,
		FromName:      fromName,
		FromEmail:     fromEmail,
		Message:       message,
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	s.log.WithField("child_id", c.ID).
		WithField("entry_id", entry.ID).
		WithField("amount_cents", amountCents).
		Info("donation opened")
	return entry, nil
}

// Donations lists the child's neighbor ledger, oldest first.
func (s *Service) Donations(ctx context.Context, childID string) ([]ledger.Entry, error) {
	return s.store.ListNeighborEntries(ctx, childID)
}

// RecomputeNeighborBalance folds the neighbor ledger and writes the result
// back to the cached balance field.
func (s *Service) RecomputeNeighborBalance(ctx context.Context, childID string) (int64, error) {
	entries, err := s.store.ListNeighborEntries(ctx, childID)
	if err != nil {
		return 0, err
	}
	balance := ledger.Balance(entries)
	if err := s.store.SetNeighborBalance(ctx, childID, balance); err != nil {
		return 0, err
	}
	return balance, nil
}
