// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/merryworks/magicledger/internal/app/domain/child"
	"github.com/merryworks/magicledger/internal/app/domain/gift"
	"github.com/merryworks/magicledger/internal/app/domain/ledger"
	"github.com/merryworks/magicledger/internal/app/domain/parent"
	"github.com/merryworks/magicledger/internal/app/storage"
)

// Store is the in-memory aggregate store. A single mutex serializes all
// mutations, which also makes the cast-vote composite atomic.
type Store struct {
	mu             sync.RWMutex
	nextID         int64
	parents        map[string]parent.Parent
	parentsByEmail map[string]string
	walletEntries  map[string][]string // parentID -> entry ids
	entriesByID    map[string]ledger.Entry
	entriesByCorr  map[string]string // correlationID -> entry id (wallet)

	children        map[string]child.Child
	childrenBySlug  map[string]string
	neighborEntries map[string][]string // childID -> entry ids
	neighborByID    map[string]ledger.Entry
	neighborByCorr  map[string]string

	votes map[string]string // parentID|childID -> last vote day

	gifts  map[string]gift.Gift
	orders map[string]gift.Order
}

var _ storage.ParentStore = (*Store)(nil)
var _ storage.ChildStore = (*Store)(nil)
var _ storage.VoteStore = (*Store)(nil)
var _ storage.GiftStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:          1,
		parents:         make(map[string]parent.Parent),
		parentsByEmail:  make(map[string]string),
		walletEntries:   make(map[string][]string),
		entriesByID:     make(map[string]ledger.Entry),
		entriesByCorr:   make(map[string]string),
		children:        make(map[string]child.Child),
		childrenBySlug:  make(map[string]string),
		neighborEntries: make(map[string][]string),
		neighborByID:    make(map[string]ledger.Entry),
		neighborByCorr:  make(map[string]string),
		votes:           make(map[string]string),
		gifts:           make(map[string]gift.Gift),
		orders:          make(map[string]gift.Order),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func voteKey(parentID, childID string) string {
	return parentID + "|" + childID
}

// ParentStore implementation --------------------------------------------------

func (s *Store) CreateParent(_ context.Context, p parent.Parent) (parent.Parent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	emailKey := strings.ToLower(strings.TrimSpace(p.Email))
	if existing, exists := s.parentsByEmail[emailKey]; exists {
		return parent.Parent{}, fmt.Errorf("email %s already registered to parent %s", p.Email, existing)
	}

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.parents[p.ID]; exists {
		return parent.Parent{}, fmt.Errorf("parent %s already exists", p.ID)
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	s.parents[p.ID] = p
	if emailKey != "" {
		s.parentsByEmail[emailKey] = p.ID
	}
	return p, nil
}

func (s *Store) UpdateParent(_ context.Context, p parent.Parent) (parent.Parent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.parents[p.ID]
	if !ok {
		return parent.Parent{}, fmt.Errorf("parent %s not found", p.ID)
	}

	oldKey := strings.ToLower(strings.TrimSpace(original.Email))
	newKey := strings.ToLower(strings.TrimSpace(p.Email))
	if newKey != oldKey {
		if existing, exists := s.parentsByEmail[newKey]; exists && existing != p.ID {
			return parent.Parent{}, fmt.Errorf("email %s already registered to parent %s", p.Email, existing)
		}
		delete(s.parentsByEmail, oldKey)
		if newKey != "" {
			s.parentsByEmail[newKey] = p.ID
		}
	}

	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	s.parents[p.ID] = p
	return p, nil
}

func (s *Store) GetParent(_ context.Context, id string) (parent.Parent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.parents[id]
	if !ok {
		return parent.Parent{}, fmt.Errorf("parent %s not found", id)
	}
	return p, nil
}

func (s *Store) GetParentByEmail(_ context.Context, email string) (parent.Parent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.parentsByEmail[strings.ToLower(strings.TrimSpace(email))]; ok {
		return s.parents[id], nil
	}
	return parent.Parent{}, fmt.Errorf("parent with email %s not found", email)
}

func (s *Store) ListParents(_ context.Context) ([]parent.Parent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]parent.Parent, 0, len(s.parents))
	for _, p := range s.parents {
		result = append(result, p)
	}
	return result, nil
}

func (s *Store) SetWalletBalance(_ context.Context, parentID string, balanceCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setWalletBalanceLocked(parentID, balanceCents)
}

func (s *Store) setWalletBalanceLocked(parentID string, balanceCents int64) error {
	p, ok := s.parents[parentID]
	if !ok {
		return fmt.Errorf("parent %s not found", parentID)
	}
	p.WalletBalanceCents = balanceCents
	p.UpdatedAt = time.Now().UTC()
	s.parents[parentID] = p
	return nil
}

func (s *Store) CreateWalletEntry(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createWalletEntryLocked(e)
}

func (s *Store) createWalletEntryLocked(e ledger.Entry) (ledger.Entry, error) {
	if _, ok := s.parents[e.OwnerID]; !ok {
		return ledger.Entry{}, fmt.Errorf("parent %s not found", e.OwnerID)
	}
	if e.CorrelationID != "" {
		if existing, exists := s.entriesByCorr[e.CorrelationID]; exists {
			return ledger.Entry{}, fmt.Errorf("wallet entry with correlation %s already exists (%s)", e.CorrelationID, existing)
		}
	}

	if e.ID == "" {
		e.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	s.entriesByID[e.ID] = e
	s.walletEntries[e.OwnerID] = append(s.walletEntries[e.OwnerID], e.ID)
	if e.CorrelationID != "" {
		s.entriesByCorr[e.CorrelationID] = e.ID
	}
	return e, nil
}

func (s *Store) GetWalletEntry(_ context.Context, id string) (ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entriesByID[id]
	if !ok {
		return ledger.Entry{}, fmt.Errorf("wallet entry %s not found", id)
	}
	return e, nil
}

func (s *Store) GetWalletEntryByCorrelation(_ context.Context, correlationID string) (ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.entriesByCorr[correlationID]; ok {
		return s.entriesByID[id], nil
	}
	return ledger.Entry{}, fmt.Errorf("wallet entry with correlation %s not found", correlationID)
}

func (s *Store) ListWalletEntries(_ context.Context, parentID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listWalletEntriesLocked(parentID), nil
}

func (s *Store) listWalletEntriesLocked(parentID string) []ledger.Entry {
	ids := s.walletEntries[parentID]
	result := make([]ledger.Entry, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.entriesByID[id])
	}
	return result
}

func (s *Store) ListPendingWalletEntries(_ context.Context, olderThan time.Time) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Entry, 0)
	for _, e := range s.entriesByID {
		if e.Status == ledger.StatusPending && e.CreatedAt.Before(olderThan) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *Store) TransitionWalletEntry(_ context.Context, id string, from, to ledger.EntryStatus) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entriesByID[id]
	if !ok {
		return ledger.Entry{}, fmt.Errorf("wallet entry %s not found", id)
	}
	if e.Status != from {
		return ledger.Entry{}, fmt.Errorf("wallet entry %s is %s, expected %s", id, e.Status, from)
	}
	if !ledger.CanTransition(from, to) {
		return ledger.Entry{}, fmt.Errorf("wallet entry %s cannot move from %s to %s", id, from, to)
	}

	e.Status = to
	e.UpdatedAt = time.Now().UTC()
	s.entriesByID[id] = e
	return e, nil
}

// ChildStore implementation ---------------------------------------------------

func (s *Store) CreateChild(_ context.Context, c child.Child) (child.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.parents[c.ParentID]; !ok {
		return child.Child{}, fmt.Errorf("parent %s not found", c.ParentID)
	}
	slugKey := strings.ToLower(c.ShareSlug)
	if existing, exists := s.childrenBySlug[slugKey]; exists {
		return child.Child{}, fmt.Errorf("share slug %s already assigned to child %s", c.ShareSlug, existing)
	}

	if c.ID == "" {
		c.ID = s.nextIDLocked()
	} else if _, exists := s.children[c.ID]; exists {
		return child.Child{}, fmt.Errorf("child %s already exists", c.ID)
	}

	c.Score365 = child.ClampScore(c.Score365)
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	s.children[c.ID] = c
	if slugKey != "" {
		s.childrenBySlug[slugKey] = c.ID
	}
	return c, nil
}

func (s *Store) UpdateChild(_ context.Context, c child.Child) (child.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.children[c.ID]
	if !ok {
		return child.Child{}, fmt.Errorf("child %s not found", c.ID)
	}

	oldKey := strings.ToLower(original.ShareSlug)
	newKey := strings.ToLower(c.ShareSlug)
	if newKey != oldKey {
		if existing, exists := s.childrenBySlug[newKey]; exists && existing != c.ID {
			return child.Child{}, fmt.Errorf("share slug %s already assigned to child %s", c.ShareSlug, existing)
		}
		delete(s.childrenBySlug, oldKey)
		if newKey != "" {
			s.childrenBySlug[newKey] = c.ID
		}
	}

	c.Score365 = child.ClampScore(c.Score365)
	c.CreatedAt = original.CreatedAt
	c.UpdatedAt = time.Now().UTC()

	s.children[c.ID] = c
	return c, nil
}

func (s *Store) GetChild(_ context.Context, id string) (child.Child, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.children[id]
	if !ok {
		return child.Child{}, fmt.Errorf("child %s not found", id)
	}
	return c, nil
}

func (s *Store) GetChildBySlug(_ context.Context, slug string) (child.Child, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.childrenBySlug[strings.ToLower(slug)]; ok {
		return s.children[id], nil
	}
	return child.Child{}, fmt.Errorf("child with slug %s not found", slug)
}

func (s *Store) ListChildren(_ context.Context, parentID string) ([]child.Child, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]child.Child, 0)
	for _, c := range s.children {
		if parentID == "" || c.ParentID == parentID {
			result = append(result, c)
		}
	}
	return result, nil
}

func (s *Store) SetNeighborBalance(_ context.Context, childID string, balanceCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.children[childID]
	if !ok {
		return fmt.Errorf("child %s not found", childID)
	}
	c.NeighborBalanceCents = balanceCents
	c.UpdatedAt = time.Now().UTC()
	s.children[childID] = c
	return nil
}

func (s *Store) IncrementDonorTotals(_ context.Context, childID string, amountCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.children[childID]
	if !ok {
		return fmt.Errorf("child %s not found", childID)
	}
	c.DonorCount++
	c.DonorTotalCents += amountCents
	c.UpdatedAt = time.Now().UTC()
	s.children[childID] = c
	return nil
}

func (s *Store) SpendScore(_ context.Context, childID string, points int) (child.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.children[childID]
	if !ok {
		return child.Child{}, fmt.Errorf("child %s not found", childID)
	}
	if points <= 0 {
		return child.Child{}, fmt.Errorf("points must be positive")
	}
	if c.Score365 < points {
		return child.Child{}, child.ErrInsufficientScore
	}

	c.Score365 -= points
	c.UpdatedAt = time.Now().UTC()
	s.children[childID] = c
	return c, nil
}

func (s *Store) CreateNeighborEntry(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.children[e.OwnerID]; !ok {
		return ledger.Entry{}, fmt.Errorf("child %s not found", e.OwnerID)
	}
	if e.CorrelationID != "" {
		if existing, exists := s.neighborByCorr[e.CorrelationID]; exists {
			return ledger.Entry{}, fmt.Errorf("neighbor entry with correlation %s already exists (%s)", e.CorrelationID, existing)
		}
	}

	if e.ID == "" {
		e.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	s.neighborByID[e.ID] = e
	s.neighborEntries[e.OwnerID] = append(s.neighborEntries[e.OwnerID], e.ID)
	if e.CorrelationID != "" {
		s.neighborByCorr[e.CorrelationID] = e.ID
	}
	return e, nil
}

func (s *Store) GetNeighborEntry(_ context.Context, id string) (ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.neighborByID[id]
	if !ok {
		return ledger.Entry{}, fmt.Errorf("neighbor entry %s not found", id)
	}
	return e, nil
}

func (s *Store) GetNeighborEntryByCorrelation(_ context.Context, correlationID string) (ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.neighborByCorr[correlationID]; ok {
		return s.neighborByID[id], nil
	}
	return ledger.Entry{}, fmt.Errorf("neighbor entry with correlation %s not found", correlationID)
}

func (s *Store) ListNeighborEntries(_ context.Context, childID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.neighborEntries[childID]
	result := make([]ledger.Entry, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.neighborByID[id])
	}
	return result, nil
}

func (s *Store) ListPendingNeighborEntries(_ context.Context, olderThan time.Time) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Entry, 0)
	for _, e := range s.neighborByID {
		if e.Status == ledger.StatusPending && e.CreatedAt.Before(olderThan) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *Store) TransitionNeighborEntry(_ context.Context, id string, from, to ledger.EntryStatus) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.neighborByID[id]
	if !ok {
		return ledger.Entry{}, fmt.Errorf("neighbor entry %s not found", id)
	}
	if e.Status != from {
		return ledger.Entry{}, fmt.Errorf("neighbor entry %s is %s, expected %s", id, e.Status, from)
	}
	if !ledger.CanTransition(from, to) {
		return ledger.Entry{}, fmt.Errorf("neighbor entry %s cannot move from %s to %s", id, from, to)
	}

	e.Status = to
	e.UpdatedAt = time.Now().UTC()
	s.neighborByID[id] = e
	return e, nil
}

// VoteStore implementation ----------------------------------------------------

func (s *Store) LastVoteDay(_ context.Context, parentID, childID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.votes[voteKey(parentID, childID)], nil
}

// CastVote performs the daily-vote composite under the store mutex: the gate
// check, the wallet debit, the clamped score increment, and both cached
// balances move together or not at all.
func (s *Store) CastVote(_ context.Context, req storage.CastVoteRequest) (storage.CastVoteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.parents[req.ParentID]; !ok {
		return storage.CastVoteResult{}, fmt.Errorf("parent %s not found", req.ParentID)
	}
	c, ok := s.children[req.ChildID]
	if !ok {
		return storage.CastVoteResult{}, fmt.Errorf("child %s not found", req.ChildID)
	}

	key := voteKey(req.ParentID, req.ChildID)
	if s.votes[key] == req.Day {
		return storage.CastVoteResult{}, parent.ErrAlreadyVoted
	}

	balance := ledger.Balance(s.listWalletEntriesLocked(req.ParentID))
	if balance < req.CostCents {
		return storage.CastVoteResult{}, ledger.ErrInsufficientBalance
	}

	entry, err := s.createWalletEntryLocked(ledger.Entry{
		OwnerID:     req.ParentID,
		Type:        ledger.TypeAdjustment,
		AmountCents: -req.CostCents,
		Status:      ledger.StatusSucceeded,
	})
	if err != nil {
		return storage.CastVoteResult{}, err
	}

	newBalance := balance - req.CostCents
	if err := s.setWalletBalanceLocked(req.ParentID, newBalance); err != nil {
		return storage.CastVoteResult{}, err
	}

	c.Score365 = child.ClampScore(c.Score365 + req.Points)
	c.UpdatedAt = time.Now().UTC()
	s.children[req.ChildID] = c

	s.votes[key] = req.Day

	return storage.CastVoteResult{
		NewScore:        c.Score365,
		NewBalanceCents: newBalance,
		Entry:           entry,
	}, nil
}

// GiftStore implementation ----------------------------------------------------

func (s *Store) CreateGift(_ context.Context, g gift.Gift) (gift.Gift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ID == "" {
		g.ID = s.nextIDLocked()
	} else if _, exists := s.gifts[g.ID]; exists {
		return gift.Gift{}, fmt.Errorf("gift %s already exists", g.ID)
	}

	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now

	s.gifts[g.ID] = g
	return g, nil
}

func (s *Store) UpdateGift(_ context.Context, g gift.Gift) (gift.Gift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.gifts[g.ID]
	if !ok {
		return gift.Gift{}, fmt.Errorf("gift %s not found", g.ID)
	}

	g.CreatedAt = original.CreatedAt
	g.UpdatedAt = time.Now().UTC()

	s.gifts[g.ID] = g
	return g, nil
}

func (s *Store) GetGift(_ context.Context, id string) (gift.Gift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.gifts[id]
	if !ok {
		return gift.Gift{}, fmt.Errorf("gift %s not found", id)
	}
	return g, nil
}

func (s *Store) ListGifts(_ context.Context, activeOnly bool) ([]gift.Gift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]gift.Gift, 0)
	for _, g := range s.gifts {
		if !activeOnly || g.Active {
			result = append(result, g)
		}
	}
	return result, nil
}

func (s *Store) CreateOrder(_ context.Context, o gift.Order) (gift.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.children[o.ChildID]; !ok {
		return gift.Order{}, fmt.Errorf("child %s not found", o.ChildID)
	}
	if _, ok := s.gifts[o.GiftID]; !ok {
		return gift.Order{}, fmt.Errorf("gift %s not found", o.GiftID)
	}

	if o.ID == "" {
		o.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	s.orders[o.ID] = o
	return o, nil
}

func (s *Store) UpdateOrder(_ context.Context, o gift.Order) (gift.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.orders[o.ID]
	if !ok {
		return gift.Order{}, fmt.Errorf("order %s not found", o.ID)
	}

	o.CreatedAt = original.CreatedAt
	o.UpdatedAt = time.Now().UTC()

	s.orders[o.ID] = o
	return o, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (gift.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return gift.Order{}, fmt.Errorf("order %s not found", id)
	}
	return o, nil
}

func (s *Store) ListOrders(_ context.Context, childID string) ([]gift.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]gift.Order, 0)
	for _, o := range s.orders {
		if childID == "" || o.ChildID == childID {
			result = append(result, o)
		}
	}
	return result, nil
}

func (s *Store) ListOrdersForParent(_ context.Context, parentID string) ([]gift.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]gift.Order, 0)
	for _, o := range s.orders {
		if c, ok := s.children[o.ChildID]; ok && c.ParentID == parentID {
			result = append(result, o)
		}
	}
	return result, nil
}
