// Package gifts manages the gift catalog and the order lifecycle: a child
// spends magic points to request a gift, the parent's wallet pays at
// finalize, and shipping closes the order.
package gifts

import (
	"context"
	"fmt"
	"strings"

	"github.com/merryworks/magicledger/internal/app/domain/gift"
	"github.com/merryworks/magicledger/internal/app/domain/ledger"
	"github.com/merryworks/magicledger/internal/app/storage"
	"github.com/merryworks/magicledger/pkg/logger"
)

// Service manages the catalog and orders.
type Service struct {
	gifts    storage.GiftStore
	children storage.ChildStore
	parents  storage.ParentStore
	log      *logger.Logger
}

// New constructs a gifts service.
func New(gifts storage.GiftStore, children storage.ChildStore, parents storage.ParentStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("gifts")
	}
	return &Service{
		gifts:    gifts,
		children: children,
		parents:  parents,
		log:      log,
	}
}

// CreateGift adds a catalog item.
func (s *Service) CreateGift(ctx context.Context, name, description string, priceCents int64, pricePoints int, imageURL string) (gift.Gift, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return gift.Gift{}, fmt.Errorf("name is required")
	}
	if priceCents <= 0 {
		return gift.Gift{}, fmt.Errorf("price_cents must be positive")
	}
	if pricePoints <= 0 {
		return gift.Gift{}, fmt.Errorf("price_points must be positive")
	}

	g, err := s.gifts.CreateGift(ctx, gift.Gift{
		Name:        name,
		Description: strings.TrimSpace(description),
		PriceCents:  priceCents,
		PricePoints: pricePoints,
		ImageURL:    strings.TrimSpace(imageURL),
		Active:      true,
	})
	if err != nil {
		return gift.Gift{}, err
	}
	s.log.WithField("gift_id", g.ID).Info("gift added to catalog")
	return g, nil
}

// UpdateGift updates mutable catalog fields.
func (s *Service) UpdateGift(ctx context.Context, giftID string, name, description *string, priceCents *int64, pricePoints *int, active *bool) (gift.Gift, error) {
	g, err := s.gifts.GetGift(ctx, giftID)
	if err != nil {
		return gift.Gift{}, err
	}

	if name != nil {
		if trimmed := strings.TrimSpace(*name); trimmed != "" {
			g.Name = trimmed
		} else {
			return gift.Gift{}, fmt.Errorf("name cannot be empty")
		}
	}
	if description != nil {
		g.Description = strings.TrimSpace(*description)
	}
	if priceCents != nil {
		if *priceCents <= 0 {
			return gift.Gift{}, fmt.Errorf("price_cents must be positive")
		}
		g.PriceCents = *priceCents
	}
	if pricePoints != nil {
		if *pricePoints <= 0 {
			return gift.Gift{}, fmt.Errorf("price_points must be positive")
		}
		g.PricePoints = *pricePoints
	}
	if active != nil {
		g.Active = *active
	}

	return s.gifts.UpdateGift(ctx, g)
}

// Catalog lists catalog items, optionally active only.
func (s *Service) Catalog(ctx context.Context, activeOnly bool) ([]gift.Gift, error) {
	return s.gifts.ListGifts(ctx, activeOnly)
}

// Request places a gift order for the child, spending the gift's point price
// from the child's magic score. The gift's money price is captured on the
// order so later catalog edits do not change what finalize debits.
func (s *Service) Request(ctx context.Context, parentID, childID, giftID string) (gift.Order, error) {
	c, err := s.children.GetChild(ctx, childID)
	if err != nil {
		return gift.Order{}, err
	}
	if c.ParentID != parentID {
		return gift.Order{}, fmt.Errorf("child %s does not belong to parent %s", childID, parentID)
	}

	g, err := s.gifts.GetGift(ctx, giftID)
	if err != nil {
		return gift.Order{}, err
	}
	if !g.Active {
		return gift.Order{}, fmt.Errorf("gift %s is not available", giftID)
	}

	if _, err := s.children.SpendScore(ctx, childID, g.PricePoints); err != nil {
		return gift.Order{}, err
	}

	order, err := s.gifts.CreateOrder(ctx, gift.Order{
		ChildID:     childID,
		GiftID:      giftID,
		Status:      gift.OrderRequested,
		PointsSpent: g.PricePoints,
		PriceCents:  g.PriceCents,
	})
	if err != nil {
		return gift.Order{}, err
	}
	s.log.WithField("order_id", order.ID).
		WithField("child_id", childID).
		WithField("gift_id", giftID).
		Info("gift requested")
	return order, nil
}

// Finalize debits the order's captured price from the parent's wallet and
// moves the order to FINALIZED. The recomputed balance must cover the price.
func (s *Service) Finalize(ctx context.Context, parentID, orderID string) (gift.Order, error) {
	order, err := s.orderForParent(ctx, parentID, orderID)
	if err != nil {
		return gift.Order{}, err
	}
	if !order.Status.CanTransition(gift.OrderFinalized) {
		return gift.Order{}, fmt.Errorf("order %s cannot move from %s to %s", orderID, order.Status, gift.OrderFinalized)
	}

	entries, err := s.parents.ListWalletEntries(ctx, parentID)
	if err != nil {
		return gift.Order{}, err
	}
	balance := ledger.Balance(entries)
	if balance < order.PriceCents {
		return gift.Order{}, ledger.ErrInsufficientBalance
	}

	if _, err := s.parents.CreateWalletEntry(ctx, ledger.Entry{
		OwnerID:     parentID,
		Type:        ledger.TypeAdjustment,
		AmountCents: -order.PriceCents,
		Status:      ledger.StatusSucceeded,
	}); err != nil {
		return gift.Order{}, err
	}
	if err := s.parents.SetWalletBalance(ctx, parentID, balance-order.PriceCents); err != nil {
		return gift.Order{}, err
	}

	order.Status = gift.OrderFinalized
	order, err = s.gifts.UpdateOrder(ctx, order)
	if err != nil {
		return gift.Order{}, err
	}
	s.log.WithField("order_id", order.ID).
		WithField("price_cents", order.PriceCents).
		Info("gift order finalized")
	return order, nil
}

// Ship moves a finalized order to SHIPPED.
func (s *Service) Ship(ctx context.Context, parentID, orderID string) (gift.Order, error) {
	order, err := s.orderForParent(ctx, parentID, orderID)
	if err != nil {
		return gift.Order{}, err
	}
	if !order.Status.CanTransition(gift.OrderShipped) {
		return gift.Order{}, fmt.Errorf("order %s cannot move from %s to %s", orderID, order.Status, gift.OrderShipped)
	}

	order.Status = gift.OrderShipped
	order, err = s.gifts.UpdateOrder(ctx, order)
	if err != nil {
		return gift.Order{}, err
	}
	s.log.WithField("order_id", order.ID).Info("gift order shipped")
	return order, nil
}

// Orders lists the parent's orders across all of their children.
func (s *Service) Orders(ctx context.Context, parentID string) ([]gift.Order, error) {
	return s.gifts.ListOrdersForParent(ctx, parentID)
}

func (s *Service) orderForParent(ctx context.Context, parentID, orderID string) (gift.Order, error) {
	order, err := s.gifts.GetOrder(ctx, orderID)
	if err != nil {
		return gift.Order{}, err
	}
	c, err := s.children.GetChild(ctx, order.ChildID)
	if err != nil {
		return gift.Order{}, err
	}
	if c.ParentID != parentID {
		return gift.Order{}, fmt.Errorf("order %s does not belong to parent %s", orderID, parentID)
	}
	return order, nil
}
