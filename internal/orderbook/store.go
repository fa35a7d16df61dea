// Package orderbook implements the durable order store and book queries.
//
// The store itself has no matching opinion: it persists orders and answers
// the queries the engine needs, in the priority order the engine expects
// (best price first, oldest first within a price). All order mutation goes
// through the matching engine.
package orderbook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/papertrade/papertrade/internal/database"
	"github.com/papertrade/papertrade/pkg/errs"
	"github.com/papertrade/papertrade/pkg/models"
)

// Store provides order persistence and book queries
type Store struct {
	db *gorm.DB
}

// NewStore creates a new order store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create persists a new order inside tx
func (s *Store) Create(tx *gorm.DB, order *models.Order) error {
	if err := tx.Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// GetOrder gets an order by id
func (s *Store) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.OrderNotFoundf("id %s", orderID)
		}
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	return &order, nil
}

// ListByOwner lists an owner's orders, newest first, with optional asset
// and status filters
func (s *Store) ListByOwner(ctx context.Context, ownerID uuid.UUID, assetID *uuid.UUID, status string, limit, offset int) ([]models.Order, error) {
	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if assetID != nil {
		q = q.Where("asset_id = ?", *assetID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit <= 0 {
		limit = 50
	}

	var orders []models.Order
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// EligibleMakers selects and locks the resting counter-orders a taker may
// match against, in price-time priority: asks ascending / bids descending
// by price, oldest first within a price level.
//
// Only status=confirmed orders rest in the book for matching purposes.
// limitPrice filters by price compatibility and is ignored for market
// takers (pass nil).
func (s *Store) EligibleMakers(tx *gorm.DB, assetID uuid.UUID, makerSide string, limitPrice *decimal.Decimal) ([]models.Order, error) {
	q := tx.Where("asset_id = ? AND side = ? AND status = ?", assetID, makerSide, models.OrderStatusConfirmed)

	switch makerSide {
	case models.OrderSideSell:
		if limitPrice != nil {
			q = q.Where("price <= ?", *limitPrice)
		}
		q = q.Order("price ASC").Order("created_at ASC")
	case models.OrderSideBuy:
		if limitPrice != nil {
			q = q.Where("price >= ?", *limitPrice)
		}
		q = q.Order("price DESC").Order("created_at ASC")
	default:
		return nil, fmt.Errorf("invalid maker side: %s", makerSide)
	}

	if database.SupportsRowLocking(tx) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var makers []models.Order
	if err := q.Find(&makers).Error; err != nil {
		return nil, fmt.Errorf("failed to select makers: %w", err)
	}
	return makers, nil
}

// SetStatus updates an order's status inside tx
func (s *Store) SetStatus(tx *gorm.DB, orderID uuid.UUID, status string) error {
	if err := tx.Model(&models.Order{}).Where("id = ?", orderID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()}).Error; err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

// SetRemaining updates an order's remaining quantity and status inside tx
func (s *Store) SetRemaining(tx *gorm.DB, orderID uuid.UUID, remaining decimal.Decimal, status string) error {
	if err := tx.Model(&models.Order{}).Where("id = ?", orderID).
		Updates(map[string]interface{}{"quantity": remaining, "status": status, "updated_at": time.Now()}).Error; err != nil {
		return fmt.Errorf("failed to update order quantity: %w", err)
	}
	return nil
}

// CreateFillRecord writes the immutable record of one executed leg on the
// taker's side, linked to the taker through ParentOrderID.
func (s *Store) CreateFillRecord(tx *gorm.DB, taker *models.Order, qty, price decimal.Decimal) (*models.Order, error) {
	now := time.Now()
	fill := &models.Order{
		ID:            uuid.New(),
		OwnerID:       taker.OwnerID,
		AssetID:       taker.AssetID,
		Side:          taker.Side,
		Type:          taker.Type,
		Quantity:      qty,
		Price:         price,
		Status:        models.OrderStatusFilled,
		ParentOrderID: &taker.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.Create(fill).Error; err != nil {
		return nil, fmt.Errorf("failed to create fill record: %w", err)
	}
	return fill, nil
}

// ListFills lists the fill records of a parent order, oldest first
func (s *Store) ListFills(ctx context.Context, parentOrderID uuid.UUID) ([]models.Order, error) {
	var fills []models.Order
	if err := s.db.WithContext(ctx).Where("parent_order_id = ?", parentOrderID).
		Order("created_at ASC").Find(&fills).Error; err != nil {
		return nil, fmt.Errorf("failed to list fills: %w", err)
	}
	return fills, nil
}

// Snapshot builds the aggregated top of book for an asset: resting
// confirmed limit orders only, quantities summed per price level, bids
// price-descending and asks price-ascending, at most depth levels per side.
func (s *Store) Snapshot(ctx context.Context, asset *models.Asset, depth int) (*models.OrderBookSnapshot, error) {
	if depth <= 0 {
		depth = 10
	}

	bids, err := s.aggregateSide(ctx, asset.ID, models.OrderSideBuy, "price DESC", depth)
	if err != nil {
		return nil, err
	}
	asks, err := s.aggregateSide(ctx, asset.ID, models.OrderSideSell, "price ASC", depth)
	if err != nil {
		return nil, err
	}

	return &models.OrderBookSnapshot{
		AssetID:   asset.ID,
		Symbol:    asset.Symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now(),
	}, nil
}

func (s *Store) aggregateSide(ctx context.Context, assetID uuid.UUID, side, order string, depth int) ([]models.PriceLevel, error) {
	var orders []models.Order
	if err := s.db.WithContext(ctx).
		Where("asset_id = ? AND side = ? AND status = ? AND type = ?",
			assetID, side, models.OrderStatusConfirmed, models.OrderTypeLimit).
		Order(order).Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to query book side: %w", err)
	}

	// Collapse equal-priced orders into one level, preserving price order
	levels := make([]models.PriceLevel, 0, depth)
	for _, o := range orders {
		if n := len(levels); n > 0 && levels[n-1].Price.Equal(o.Price) {
			levels[n-1].Quantity = levels[n-1].Quantity.Add(o.Quantity)
			continue
		}
		if len(levels) == depth {
			break
		}
		levels = append(levels, models.PriceLevel{Price: o.Price, Quantity: o.Quantity})
	}
	return levels, nil
}
