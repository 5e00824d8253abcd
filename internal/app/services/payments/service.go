// Package payments applies payment-provider confirmations to pending ledger
// entries. The provider may only transition entries the application created;
// it can never create or amend them.
package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/merryworks/magicledger/internal/app/domain/ledger"
	"github.com/merryworks/magicledger/internal/app/storage"
	"github.com/merryworks/magicledger/pkg/logger"
)

// ErrUnknownCorrelation reports a confirmation for a correlation id no ledger
// entry carries.
var ErrUnknownCorrelation = errors.New("unknown correlation id")

// ErrConflictingOutcome reports a confirmation that contradicts an earlier
// terminal outcome for the same entry.
var ErrConflictingOutcome = errors.New("conflicting confirmation outcome")

// ErrDuplicateDelivery reports a webhook delivery that was already processed.
var ErrDuplicateDelivery = errors.New("duplicate webhook delivery")

// ErrInvalidPayload reports a webhook payload the service cannot interpret.
var ErrInvalidPayload = errors.New("invalid webhook payload")

// Service resolves pending wallet and neighbor entries.
type Service struct {
	parents    storage.ParentStore
	children   storage.ChildStore
	deliveries Registry
	log        *logger.Logger
}

// New constructs a payments service.
func New(parents storage.ParentStore, children storage.ChildStore, deliveries Registry, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("payments")
	}
	if deliveries == nil {
		deliveries = NewMemoryRegistry()
	}
	return &Service{
		parents:    parents,
		children:   children,
		deliveries: deliveries,
		log:        log,
	}
}

// Confirm settles the pending entry carrying the correlation id. Repeating a
// confirmation with the same outcome is a no-op; a contradictory outcome is
// rejected. After a transition the owning aggregate's cached balance is
// recomputed from its ledger, and a succeeded donation bumps the child's
// donor totals.
func (s *Service) Confirm(ctx context.Context, correlationID string, succeeded bool) (ledger.Entry, error) {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return ledger.Entry{}, fmt.Errorf("correlation_id is required")
	}

	target := ledger.StatusFailed
	if succeeded {
		target = ledger.StatusSucceeded
	}

	entry, err := s.parents.GetWalletEntryByCorrelation(ctx, correlationID)
	if err == nil {
		return s.confirmWallet(ctx, entry, target)
	}
	if !isNotFound(err) {
		return ledger.Entry{}, fmt.Errorf("look up wallet entry: %w", err)
	}

	entry, err = s.children.GetNeighborEntryByCorrelation(ctx, correlationID)
	if err == nil {
		return s.confirmNeighbor(ctx, entry, target)
	}
	if !isNotFound(err) {
		return ledger.Entry{}, fmt.Errorf("look up neighbor entry: %w", err)
	}
	return ledger.Entry{}, ErrUnknownCorrelation
}

// isNotFound separates a genuinely unknown correlation id from a store
// failure; only the former may be reported as ErrUnknownCorrelation.
func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || strings.Contains(err.Error(), "not found")
}

func (s *Service) confirmWallet(ctx context.Context, entry ledger.Entry, target ledger.EntryStatus) (ledger.Entry, error) {
	if entry.Status != ledger.StatusPending {
		if entry.Status == target {
			return entry, nil
		}
		return ledger.Entry{}, ErrConflictingOutcome
	}

	entry, err := s.parents.TransitionWalletEntry(ctx, entry.ID, ledger.StatusPending, target)
	if err != nil {
		return ledger.Entry{}, err
	}
	if err := s.recomputeWallet(ctx, entry.OwnerID); err != nil {
		return ledger.Entry{}, err
	}
	s.log.WithField("entry_id", entry.ID).
		WithField("parent_id", entry.OwnerID).
		WithField("status", string(entry.Status)).
		Info("wallet entry confirmed")
	return entry, nil
}

func (s *Service) confirmNeighbor(ctx context.Context, entry ledger.Entry, target ledger.EntryStatus) (ledger.Entry, error) {
	if entry.Status != ledger.StatusPending {
		if entry.Status == target {
			return entry, nil
		}
		return ledger.Entry{}, ErrConflictingOutcome
	}

	entry, err := s.children.TransitionNeighborEntry(ctx, entry.ID, ledger.StatusPending, target)
	if err != nil {
		return ledger.Entry{}, err
	}
	if err := s.recomputeNeighbor(ctx, entry.OwnerID); err != nil {
		return ledger.Entry{}, err
	}
	if entry.Status == ledger.StatusSucceeded {
		if err := s.children.IncrementDonorTotals(ctx, entry.OwnerID, entry.AmountCents); err != nil {
			return ledger.Entry{}, err
		}
	}
	s.log.WithField("entry_id", entry.ID).
		WithField("child_id", entry.OwnerID).
		WithField("status", string(entry.Status)).
		Info("neighbor entry confirmed")
	return entry, nil
}

func (s *Service) recomputeWallet(ctx context.Context, parentID string) error {
	entries, err := s.parents.ListWalletEntries(ctx, parentID)
	if err != nil {
		return err
	}
	return s.parents.SetWalletBalance(ctx, parentID, ledger.Balance(entries))
}

func (s *Service) recomputeNeighbor(ctx context.Context, childID string) error {
	entries, err := s.children.ListNeighborEntries(ctx, childID)
	if err != nil {
		return err
	}
	return s.children.SetNeighborBalance(ctx, childID, ledger.Balance(entries))
}

// HandleWebhook processes a raw provider notification. The payload shape is
// provider-specific; only three fields are read: delivery_id, correlation_id,
// and outcome ("succeeded" or "failed"). Deliveries are deduplicated by
// delivery_id so provider retries stay harmless.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte) (ledger.Entry, error) {
	if !gjson.ValidBytes(payload) {
		return ledger.Entry{}, fmt.Errorf("%w: malformed JSON", ErrInvalidPayload)
	}

	deliveryID := gjson.GetBytes(payload, "delivery_id").String()
	correlationID := gjson.GetBytes(payload, "correlation_id").String()
	outcome := gjson.GetBytes(payload, "outcome").String()

	if deliveryID == "" || correlationID == "" {
		return ledger.Entry{}, fmt.Errorf("%w: delivery_id and correlation_id are required", ErrInvalidPayload)
	}

	var succeeded bool
	switch outcome {
	case "succeeded":
		succeeded = true
	case "failed":
		succeeded = false
	default:
		return ledger.Entry{}, fmt.Errorf("%w: unknown outcome %q", ErrInvalidPayload, outcome)
	}

	entry, err := s.Confirm(ctx, correlationID, succeeded)
	if err != nil {
		return ledger.Entry{}, err
	}

	// The delivery is marked only after the confirmation is durably applied;
	// a delivery whose confirmation failed must stay retryable.
	first, err := s.deliveries.Register(ctx, deliveryID)
	if err != nil {
		s.log.WithError(err).
			WithField("delivery_id", deliveryID).
			Warn("delivery registry unavailable, retries will rely on confirmation idempotence")
		return entry, nil
	}
	if !first {
		return entry, ErrDuplicateDelivery
	}
	return entry, nil
}
