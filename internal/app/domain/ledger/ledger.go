// Package ledger defines the shared shape of monetary ledger entries. Both
// the parent wallet ledger and the per-child neighbor ledger are append-only
// lists of these entries; the owning aggregate's cached balance is always
// derivable by folding over them.
package ledger

import (
	"errors"
	"time"
)

// EntryType classifies a monetary movement.
type EntryType string

const (
	TypeTopUp      EntryType = "TOP_UP"
	TypeRefund     EntryType = "REFUND"
	TypeAdjustment EntryType = "ADJUSTMENT"
	TypeDonation   EntryType = "DONATION"
)

// EntryStatus is the lifecycle state of an entry. Entries are immutable once
// created except for the single transition PENDING -> SUCCEEDED or FAILED,
// driven by an out-of-band payment confirmation.
type EntryStatus string

const (
	StatusPending   EntryStatus = "PENDING"
	StatusSucceeded EntryStatus = "SUCCEEDED"
	StatusFailed    EntryStatus = "FAILED"
)

// ErrInsufficientBalance reports a debit attempt exceeding the recomputed
// balance. The operation performs no mutation.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Entry is one monetary movement. AmountCents is signed: positive credits,
// negative debits. OwnerID is the parent id for wallet entries and the child
// id for neighbor entries. FromName/FromEmail/Message carry donor-supplied
// attribution on neighbor entries and are treated as opaque, length-capped
// free text.
type Entry struct {
	ID            string      `json:"id"`
	OwnerID       string      `json:"owner_id"`
	Type          EntryType   `json:"type"`
	AmountCents   int64       `json:"amount_cents"`
	Status        EntryStatus `json:"status"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	FromName      string      `json:"from_name,omitempty"`
	FromEmail     string      `json:"from_email,omitempty"`
	Message       string      `json:"message,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Valid reports whether the type is one of the known entry types.
func (t EntryType) Valid() bool {
	switch t {
	case TypeTopUp, TypeRefund, TypeAdjustment, TypeDonation:
		return true
	}
	return false
}

// Valid reports whether the status is one of the known lifecycle states.
func (s EntryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether the status change is allowed. Only pending
// entries move, and only to a terminal state.
func CanTransition(from, to EntryStatus) bool {
	return from == StatusPending && (to == StatusSucceeded || to == StatusFailed)
}

// Balance folds over entries, summing AmountCents for those that succeeded.
// This is the authoritative reconciliation of a cached balance field.
func Balance(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		if e.Status == StatusSucceeded {
			total += e.AmountCents
		}
	}
	return total
}
