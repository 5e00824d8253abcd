// Package votes implements the daily magic-score vote: one vote per parent
// per child per calendar day, paid for from the parent's wallet.
package votes

import (
	"context"
	"fmt"
	"time"

	"github.com/merryworks/magicledger/internal/app/domain/parent"
	"github.com/merryworks/magicledger/internal/app/storage"
	"github.com/merryworks/magicledger/pkg/logger"
)

// CentsPerPoint is the wallet cost of one magic point.
const CentsPerPoint = 100

// Point bounds for a single vote.
const (
	MinPoints = 1
	MaxPoints = 100
)

// Result is the outcome of a successful vote.
type Result struct {
	Day             string `json:"day"`
	Points          int    `json:"points"`
	CostCents       int64  `json:"cost_cents"`
	NewScore        int    `json:"new_score"`
	NewBalanceCents int64  `json:"new_balance_cents"`
}

// Status reports whether the parent may vote for the child today.
type Status struct {
	Day          string `json:"day"`
	LastVoteDay  string `json:"last_vote_day,omitempty"`
	CanVoteToday bool   `json:"can_vote_today"`
}

// Service casts and inspects daily votes.
type Service struct {
	children storage.ChildStore
	votes    storage.VoteStore
	log      *logger.Logger
	now      func() time.Time
}

// New constructs a votes service.
func New(children storage.ChildStore, votes storage.VoteStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("votes")
	}
	return &Service{
		children: children,
		votes:    votes,
		log:      log,
		now:      time.Now,
	}
}

// Cast votes points onto the child's magic score, debiting the parent's
// wallet at CentsPerPoint. The store executes the gate check, the debit, and
// the clamped score increment atomically; a same-day repeat returns
// parent.ErrAlreadyVoted and an uncovered cost ledger.ErrInsufficientBalance.
func (s *Service) Cast(ctx context.Context, parentID, childID string, points int) (Result, error) {
	if points < MinPoints || points > MaxPoints {
		return Result{}, fmt.Errorf("points must be between %d and %d", MinPoints, MaxPoints)
	}

	c, err := s.children.GetChild(ctx, childID)
	if err != nil {
		return Result{}, err
	}
	if c.ParentID != parentID {
		return Result{}, fmt.Errorf("child %s does not belong to parent %s", childID, parentID)
	}

	day := parent.VoteDay(s.now())
	cost := int64(points) * CentsPerPoint

	res, err := s.votes.CastVote(ctx, storage.CastVoteRequest{
		ParentID:  parentID,
		ChildID:   childID,
		Points:    points,
		CostCents: cost,
		Day:       day,
	})
	if err != nil {
		return Result{}, err
	}

	s.log.WithField("parent_id", parentID).
		WithField("child_id", childID).
		WithField("points", points).
		WithField("new_score", res.NewScore).
		Info("vote cast")
	return Result{
		Day:             day,
		Points:          points,
		CostCents:       cost,
		NewScore:        res.NewScore,
		NewBalanceCents: res.NewBalanceCents,
	}, nil
}

// TodayStatus reports whether the parent already voted for the child today.
func (s *Service) TodayStatus(ctx context.Context, parentID, childID string) (Status, error) {
	c, err := s.children.GetChild(ctx, childID)
	if err != nil {
		return Status{}, err
	}
	if c.ParentID != parentID {
		return Status{}, fmt.Errorf("child %s does not belong to parent %s", childID, parentID)
	}

	last, err := s.votes.LastVoteDay(ctx, parentID, childID)
	if err != nil {
		return Status{}, err
	}
	day := parent.VoteDay(s.now())
	return Status{
		Day:          day,
		LastVoteDay:  last,
		CanVoteToday: last != day,
	}, nil
}
