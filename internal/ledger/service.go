// Package ledger implements the holdings store and the settlement updater.
//
// All holding mutation goes through Settle, which the matching engine calls
// once per executed trade leg inside the same database transaction as the
// order mutations of that leg. No other component writes holdings.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/papertrade/papertrade/internal/database"
	"github.com/papertrade/papertrade/pkg/errs"
	"github.com/papertrade/papertrade/pkg/models"
)

// Service implements the ledger store
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a new ledger service
func NewService(logger *zap.Logger, db *gorm.DB) *Service {
	return &Service{logger: logger, db: db}
}

// GetHoldings gets all holdings for an owner
func (s *Service) GetHoldings(ctx context.Context, ownerID uuid.UUID) ([]models.Holding, error) {
	var holdings []models.Holding
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at ASC").Find(&holdings).Error; err != nil {
		return nil, fmt.Errorf("failed to find holdings: %w", err)
	}
	return holdings, nil
}

// GetHolding gets one owner's holding for an asset. Returns nil without
// error when the owner holds none of the asset.
func (s *Service) GetHolding(ctx context.Context, ownerID, assetID uuid.UUID) (*models.Holding, error) {
	var holding models.Holding
	err := s.db.WithContext(ctx).Where("owner_id = ? AND asset_id = ?", ownerID, assetID).First(&holding).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find holding: %w", err)
	}
	return &holding, nil
}

// HasSufficient is the fast, lockless pre-check that an owner holds at
// least qty of an asset. The engine re-checks authoritatively under the
// matching lock; time passes between request arrival and lock acquisition.
func (s *Service) HasSufficient(ctx context.Context, ownerID, assetID uuid.UUID, qty decimal.Decimal) error {
	holding, err := s.GetHolding(ctx, ownerID, assetID)
	if err != nil {
		return err
	}
	if holding == nil || holding.Quantity.LessThan(qty) {
		held := decimal.Zero
		if holding != nil {
			held = holding.Quantity
		}
		return errs.InsufficientAssetsf("held %s, requested %s", held, qty)
	}
	return nil
}

// SufficientForUpdate is the authoritative in-transaction sufficiency
// check. It locks the seller's holding row for the remainder of tx and
// verifies it covers qty.
func (s *Service) SufficientForUpdate(tx *gorm.DB, ownerID, assetID uuid.UUID, qty decimal.Decimal) error {
	holding, err := lockedHolding(tx, ownerID, assetID)
	if err != nil {
		return err
	}
	if holding == nil || holding.Quantity.LessThan(qty) {
		held := decimal.Zero
		if holding != nil {
			held = holding.Quantity
		}
		return errs.InsufficientAssetsf("held %s, requested %s", held, qty)
	}
	return nil
}

// Settle applies one trade leg to the buyer's and seller's holdings inside
// the caller's transaction. The buyer's average price is recomputed as a
// quantity-weighted blend; the seller's is untouched on decrease. A seller
// position reaching zero or below is deleted, not persisted.
//
// Eligibility was checked before matching, so a missing seller holding
// here is an invariant violation and aborts the whole transaction.
func (s *Service) Settle(tx *gorm.DB, buyerID, sellerID, assetID uuid.UUID, qty, price decimal.Decimal) error {
	now := time.Now()

	// Buyer side
	buyer, err := lockedHolding(tx, buyerID, assetID)
	if err != nil {
		return err
	}
	if buyer == nil {
		buyer = &models.Holding{
			ID:           uuid.New(),
			OwnerID:      buyerID,
			AssetID:      assetID,
			Quantity:     qty,
			AveragePrice: price,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Create(buyer).Error; err != nil {
			return fmt.Errorf("failed to create buyer holding: %w", err)
		}
	} else {
		newQty := buyer.Quantity.Add(qty)
		newAvg := buyer.AveragePrice.Mul(buyer.Quantity).
			Add(price.Mul(qty)).
			Div(newQty)
		if err := tx.Model(buyer).Updates(map[string]interface{}{
			"quantity":      newQty,
			"average_price": newAvg,
			"updated_at":    now,
		}).Error; err != nil {
			return fmt.Errorf("failed to update buyer holding: %w", err)
		}
	}

	// Seller side
	seller, err := lockedHolding(tx, sellerID, assetID)
	if err != nil {
		return err
	}
	if seller == nil {
		return errs.Settlementf("seller %s has no holding for asset %s", sellerID, assetID)
	}

	newQty := seller.Quantity.Sub(qty)
	if newQty.LessThanOrEqual(decimal.Zero) {
		if err := tx.Delete(seller).Error; err != nil {
			return fmt.Errorf("failed to delete seller holding: %w", err)
		}
	} else {
		if err := tx.Model(seller).Updates(map[string]interface{}{
			"quantity":   newQty,
			"updated_at": now,
		}).Error; err != nil {
			return fmt.Errorf("failed to update seller holding: %w", err)
		}
	}

	s.logger.Debug("Trade leg settled",
		zap.String("buyer", buyerID.String()),
		zap.String("seller", sellerID.String()),
		zap.String("asset", assetID.String()),
		zap.String("quantity", qty.String()),
		zap.String("price", price.String()))

	return nil
}

// lockedHolding fetches a holding row with FOR UPDATE where the dialect
// supports it. Returns nil when the row does not exist.
func lockedHolding(tx *gorm.DB, ownerID, assetID uuid.UUID) (*models.Holding, error) {
	q := tx.Where("owner_id = ? AND asset_id = ?", ownerID, assetID)
	if database.SupportsRowLocking(tx) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var holding models.Holding
	if err := q.First(&holding).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find holding: %w", err)
	}
	return &holding, nil
}
