// Package storage declares the persistence interfaces for the application
// aggregates. Implementations live in storage/memory and storage/postgres.
package storage

import (
	"context"
	"time"

	"github.com/merryworks/magicledger/internal/app/domain/child"
	"github.com/merryworks/magicledger/internal/app/domain/gift"
	"github.com/merryworks/magicledger/internal/app/domain/ledger"
	"github.com/merryworks/magicledger/internal/app/domain/parent"
)

// ParentStore persists parent accounts and their wallet ledgers.
type ParentStore interface {
	CreateParent(ctx context.Context, p parent.Parent) (parent.Parent, error)
	UpdateParent(ctx context.Context, p parent.Parent) (parent.Parent, error)
	GetParent(ctx context.Context, id string) (parent.Parent, error)
	GetParentByEmail(ctx context.Context, email string) (parent.Parent, error)
	ListParents(ctx context.Context) ([]parent.Parent, error)

	// SetWalletBalance persists the cached balance without touching any
	// other parent field.
	SetWalletBalance(ctx context.Context, parentID string, balanceCents int64) error

	CreateWalletEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
	GetWalletEntry(ctx context.Context, id string) (ledger.Entry, error)
	GetWalletEntryByCorrelation(ctx context.Context, correlationID string) (ledger.Entry, error)
	ListWalletEntries(ctx context.Context, parentID string) ([]ledger.Entry, error)
	ListPendingWalletEntries(ctx context.Context, olderThan time.Time) ([]ledger.Entry, error)

	// TransitionWalletEntry flips an entry's status only if it still holds
	// the expected current status, closing the race with concurrent
	// confirmations. A non-matching current status is an error.
	TransitionWalletEntry(ctx context.Context, id string, from, to ledger.EntryStatus) (ledger.Entry, error)
}

// ChildStore persists children and their neighbor-donation ledgers.
type ChildStore interface {
	CreateChild(ctx context.Context, c child.Child) (child.Child, error)
	UpdateChild(ctx context.Context, c child.Child) (child.Child, error)
	GetChild(ctx context.Context, id string) (child.Child, error)
	GetChildBySlug(ctx context.Context, slug string) (child.Child, error)
	ListChildren(ctx context.Context, parentID string) ([]child.Child, error)

	SetNeighborBalance(ctx context.Context, childID string, balanceCents int64) error
	// IncrementDonorTotals bumps the aggregate donor counters after a
	// donation entry succeeds.
	IncrementDonorTotals(ctx context.Context, childID string, amountCents int64) error
	// SpendScore deducts points from the child's score only if enough
	// points remain; the conditional update is atomic per child.
	SpendScore(ctx context.Context, childID string, points int) (child.Child, error)

	CreateNeighborEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
	GetNeighborEntry(ctx context.Context, id string) (ledger.Entry, error)
	GetNeighborEntryByCorrelation(ctx context.Context, correlationID string) (ledger.Entry, error)
	ListNeighborEntries(ctx context.Context, childID string) ([]ledger.Entry, error)
	ListPendingNeighborEntries(ctx context.Context, olderThan time.Time) ([]ledger.Entry, error)
	TransitionNeighborEntry(ctx context.Context, id string, from, to ledger.EntryStatus) (ledger.Entry, error)
}

// CastVoteRequest carries the parameters of the daily vote composite. Cost
// and score delta are computed by the votes service; the store enforces the
// gate, the balance check, and the clamp inside one atomic unit.
type CastVoteRequest struct {
	ParentID  string
	ChildID   string
	Points    int
	CostCents int64
	// Day is the canonical YYYY-MM-DD vote-ledger key.
	Day string
}

// CastVoteResult reports the post-vote state of both aggregates.
type CastVoteResult struct {
	NewScore        int
	NewBalanceCents int64
	Entry           ledger.Entry
}

// VoteStore persists the per-(parent, child, day) vote gate and executes the
// cast-vote composite. CastVote must perform the gate check, the wallet
// debit, and the score increment as a single atomic unit: the gate is a
// conditional insert keyed on (parent, child, day), so two concurrent casts
// for the same day cannot both succeed. It returns parent.ErrAlreadyVoted
// when the gate is closed and ledger.ErrInsufficientBalance when the
// recomputed wallet balance cannot cover the cost.
type VoteStore interface {
	LastVoteDay(ctx context.Context, parentID, childID string) (string, error)
	CastVote(ctx context.Context, req CastVoteRequest) (CastVoteResult, error)
}

// GiftStore persists the catalog and child gift orders.
type GiftStore interface {
	CreateGift(ctx context.Context, g gift.Gift) (gift.Gift, error)
	UpdateGift(ctx context.Context, g gift.Gift) (gift.Gift, error)
	GetGift(ctx context.Context, id string) (gift.Gift, error)
	ListGifts(ctx context.Context, activeOnly bool) ([]gift.Gift, error)

	CreateOrder(ctx context.Context, o gift.Order) (gift.Order, error)
	UpdateOrder(ctx context.Context, o gift.Order) (gift.Order, error)
	GetOrder(ctx context.Context, id string) (gift.Order, error)
	ListOrders(ctx context.Context, childID string) ([]gift.Order, error)
	ListOrdersForParent(ctx context.Context, parentID string) ([]gift.Order, error)
}
