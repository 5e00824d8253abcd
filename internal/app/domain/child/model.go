// Package child defines the child aggregate: display identity, the public
// share slug, the magic score, and the cached neighbor-donation balance.
package child

import (
	"errors"
	"time"
)

// ErrInsufficientScore reports a point spend exceeding the child's current
// magic score. The operation performs no mutation.
var ErrInsufficientScore = errors.New("insufficient magic points")

// MaxScore is the ceiling of the magic score. Votes pushing past it are
// silently clamped; the excess is dropped, not carried over or refunded.
const MaxScore = 365

// Child is owned by exactly one parent. ShareSlug is the unique public
// identifier used by the neighbor donation flow. NeighborBalanceCents is a
// read-through cache over the neighbor ledger; DonorCount/DonorTotalCents
// aggregate succeeded donations only.
type Child struct {
	ID                   string    `json:"id"`
	ParentID             string    `json:"parent_id"`
	DisplayName          string    `json:"display_name"`
	ShareSlug            string    `json:"share_slug"`
	Score365             int       `json:"score365"`
	NeighborBalanceCents int64     `json:"neighbor_balance_cents"`
	DonorCount           int64     `json:"donor_count"`
	DonorTotalCents      int64     `json:"donor_total_cents"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ClampScore bounds a score to [0, MaxScore].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// PublicView is the share-page read model. It intentionally omits the parent
// linkage and any donor contact details.
type PublicView struct {
	DisplayName     string `json:"display_name"`
	ShareSlug       string `json:"share_slug"`
	Score365        int    `json:"score365"`
	DonorCount      int64  `json:"donor_count"`
	DonorTotalCents int64  `json:"donor_total_cents"`
}

// Public projects the child onto its share-page view.
func (c Child) Public() PublicView {
	return PublicView{
		DisplayName:     c.DisplayName,
		ShareSlug:       c.ShareSlug,
		Score365:        c.Score365,
		DonorCount:      c.DonorCount,
		DonorTotalCents: c.DonorTotalCents,
	}
}
