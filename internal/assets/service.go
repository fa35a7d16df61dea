// Package assets implements the asset registry and reference price lookup.
package assets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/papertrade/papertrade/pkg/errs"
	"github.com/papertrade/papertrade/pkg/models"
)

// Service provides asset lookup and reference price maintenance. The
// reference price is read by the engine for market orders and written by
// the price feed simulator; nothing else mutates it.
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a new asset service
func NewService(logger *zap.Logger, db *gorm.DB) *Service {
	return &Service{logger: logger, db: db}
}

// CreateAsset registers a new tradable asset
func (s *Service) CreateAsset(ctx context.Context, symbol, name string, price decimal.Decimal) (*models.Asset, error) {
	if symbol == "" {
		return nil, errs.Validationf("symbol must not be empty")
	}
	if name == "" {
		return nil, errs.Validationf("name must not be empty")
	}
	if price.IsNegative() {
		return nil, errs.Validationf("price must not be negative")
	}

	// Check if asset already exists
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Asset{}).Where("symbol = ?", symbol).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check asset: %w", err)
	}
	if count > 0 {
		return nil, errs.Validationf("asset %s already exists", symbol)
	}

	asset := &models.Asset{
		ID:           uuid.New(),
		Symbol:       symbol,
		Name:         name,
		CurrentPrice: price,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(asset).Error; err != nil {
		return nil, fmt.Errorf("failed to create asset: %w", err)
	}

	s.logger.Info("Asset created",
		zap.String("symbol", symbol),
		zap.String("price", price.String()))

	return asset, nil
}

// GetAsset gets an asset by id
func (s *Service) GetAsset(ctx context.Context, assetID uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	if err := s.db.WithContext(ctx).Where("id = ?", assetID).First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.AssetNotFoundf("id %s", assetID)
		}
		return nil, fmt.Errorf("failed to find asset: %w", err)
	}
	return &asset, nil
}

// GetAssetBySymbol gets an asset by symbol
func (s *Service) GetAssetBySymbol(ctx context.Context, symbol string) (*models.Asset, error) {
	var asset models.Asset
	if err := s.db.WithContext(ctx).Where("symbol = ?", symbol).First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.AssetNotFoundf("symbol %s", symbol)
		}
		return nil, fmt.Errorf("failed to find asset: %w", err)
	}
	return &asset, nil
}

// ListAssets lists all assets ordered by symbol
func (s *Service) ListAssets(ctx context.Context) ([]*models.Asset, error) {
	var assets []*models.Asset
	if err := s.db.WithContext(ctx).Order("symbol ASC").Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	return assets, nil
}

// CurrentPrice returns the asset's reference price
func (s *Service) CurrentPrice(ctx context.Context, assetID uuid.UUID) (decimal.Decimal, error) {
	asset, err := s.GetAsset(ctx, assetID)
	if err != nil {
		return decimal.Zero, err
	}
	return asset.CurrentPrice, nil
}

// UpdatePrice sets the asset's reference price
func (s *Service) UpdatePrice(ctx context.Context, assetID uuid.UUID, price decimal.Decimal) error {
	if price.IsNegative() {
		return errs.Validationf("price must not be negative")
	}
	res := s.db.WithContext(ctx).Model(&models.Asset{}).
		Where("id = ?", assetID).
		Updates(map[string]interface{}{"current_price": price, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to update price: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.AssetNotFoundf("id %s", assetID)
	}
	return nil
}
