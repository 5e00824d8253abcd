// Package parent defines the parent aggregate: account identity, the cached
// wallet balance, and the per-child daily vote gate.
package parent

import (
	"errors"
	"time"
)

// ErrAlreadyVoted reports that the parent already cast a vote for the child
// on the given calendar day.
var ErrAlreadyVoted = errors.New("already voted today")

// Parent owns a wallet ledger and zero or more children. WalletBalanceCents
// is a read-through cache over the ledger; monetary gates must recompute it
// first.
type Parent struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	Name               string    `json:"name"`
	PasswordHash       string    `json:"-"`
	WalletBalanceCents int64     `json:"wallet_balance_cents"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// VoteDay formats a point in time as the canonical vote-ledger day string in
// the server's reference timezone (UTC).
func VoteDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ValidVoteDay reports whether the string is a canonical YYYY-MM-DD day.
func ValidVoteDay(day string) bool {
	parsed, err := time.Parse("2006-01-02", day)
	if err != nil {
		return false
	}
	return parsed.Format("2006-01-02") == day
}
