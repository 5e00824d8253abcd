// Package gift defines the catalog items and the order state machine for
// finalizing and shipping gifts.
package gift

import "time"

// Gift is a catalog item. PricePoints is the magic-score cost a child spends
// to request it; PriceCents is what the parent's wallet pays at finalize.
type Gift struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	PricePoints int       `json:"price_points"`
	ImageURL    string    `json:"image_url,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OrderStatus tracks an order through its lifecycle.
type OrderStatus string

const (
	OrderRequested OrderStatus = "REQUESTED"
	OrderFinalized OrderStatus = "FINALIZED"
	OrderShipped   OrderStatus = "SHIPPED"
)

// CanTransition reports whether the order may move to the target state.
// Orders only move forward: REQUESTED -> FINALIZED -> SHIPPED.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	switch s {
	case OrderRequested:
		return to == OrderFinalized
	case OrderFinalized:
		return to == OrderShipped
	}
	return false
}

// Order records a child's gift request. PointsSpent is the score deducted at
// request time; PriceCents is captured from the gift so later catalog edits
// do not change what finalize debits.
type Order struct {
	ID          string      `json:"id"`
	ChildID     string      `json:"child_id"`
	GiftID      string      `json:"gift_id"`
	Status      OrderStatus `json:"status"`
	PointsSpent int         `json:"points_spent"`
	PriceCents  int64       `json:"price_cents"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
