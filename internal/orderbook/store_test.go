package orderbook

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/papertrade/papertrade/internal/database"
	"github.com/papertrade/papertrade/pkg/errs"
	"github.com/papertrade/papertrade/pkg/models"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db, err := database.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))
	return NewStore(db), db
}

func restingOrder(t *testing.T, db *gorm.DB, assetID uuid.UUID, side string, qty, price int64, createdAt time.Time) *models.Order {
	t.Helper()
	o := &models.Order{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		AssetID:   assetID,
		Side:      side,
		Type:      models.OrderTypeLimit,
		Quantity:  decimal.NewFromInt(qty),
		Price:     decimal.NewFromInt(price),
		Status:    models.OrderStatusConfirmed,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, db.Create(o).Error)
	return o
}

func TestGetOrderNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.GetOrder(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errs.ErrOrderNotFound)
}

func TestEligibleMakersSellSideOrdering(t *testing.T) {
	store, db := newTestStore(t)
	assetID := uuid.New()
	base := time.Now().Add(-time.Minute)

	older96 := restingOrder(t, db, assetID, models.OrderSideSell, 5, 96, base)
	newer96 := restingOrder(t, db, assetID, models.OrderSideSell, 5, 96, base.Add(10*time.Second))
	best95 := restingOrder(t, db, assetID, models.OrderSideSell, 5, 95, base.Add(20*time.Second))
	restingOrder(t, db, assetID, models.OrderSideSell, 5, 101, base) // above the limit

	// Out of the matching set: wrong status, wrong asset
	cancelled := restingOrder(t, db, assetID, models.OrderSideSell, 5, 95, base)
	require.NoError(t, db.Model(cancelled).Update("status", models.OrderStatusCancelled).Error)
	restingOrder(t, db, uuid.New(), models.OrderSideSell, 5, 95, base)

	limit := decimal.NewFromInt(100)
	makers, err := store.EligibleMakers(db, assetID, models.OrderSideSell, &limit)
	require.NoError(t, err)
	require.Len(t, makers, 3)
	assert.Equal(t, best95.ID, makers[0].ID)
	assert.Equal(t, older96.ID, makers[1].ID)
	assert.Equal(t, newer96.ID, makers[2].ID)
}

func TestEligibleMakersBuySideOrdering(t *testing.T) {
	store, db := newTestStore(t)
	assetID := uuid.New()
	base := time.Now().Add(-time.Minute)

	best100 := restingOrder(t, db, assetID, models.OrderSideBuy, 5, 100, base.Add(5*time.Second))
	older98 := restingOrder(t, db, assetID, models.OrderSideBuy, 5, 98, base)
	newer98 := restingOrder(t, db, assetID, models.OrderSideBuy, 5, 98, base.Add(10*time.Second))
	restingOrder(t, db, assetID, models.OrderSideBuy, 5, 90, base) // below the limit

	limit := decimal.NewFromInt(95)
	makers, err := store.EligibleMakers(db, assetID, models.OrderSideBuy, &limit)
	require.NoError(t, err)
	require.Len(t, makers, 3)
	assert.Equal(t, best100.ID, makers[0].ID)
	assert.Equal(t, older98.ID, makers[1].ID)
	assert.Equal(t, newer98.ID, makers[2].ID)
}

func TestEligibleMakersNilLimitMatchesAll(t *testing.T) {
	store, db := newTestStore(t)
	assetID := uuid.New()
	base := time.Now()

	restingOrder(t, db, assetID, models.OrderSideSell, 5, 95, base)
	restingOrder(t, db, assetID, models.OrderSideSell, 5, 500, base)

	makers, err := store.EligibleMakers(db, assetID, models.OrderSideSell, nil)
	require.NoError(t, err)
	assert.Len(t, makers, 2)
}

func TestFillRecords(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	assetID := uuid.New()
	taker := restingOrder(t, db, assetID, models.OrderSideBuy, 10, 100, time.Now())

	fill, err := store.CreateFillRecord(db, taker, decimal.NewFromInt(4), decimal.NewFromInt(95))
	require.NoError(t, err)
	assert.True(t, fill.IsFillRecord())
	assert.Equal(t, models.OrderStatusFilled, fill.Status)
	assert.Equal(t, taker.OwnerID, fill.OwnerID)

	fills, err := store.ListFills(ctx, taker.ID)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, fill.ID, fills[0].ID)

	// The resting order itself is not a fill record
	assert.False(t, taker.IsFillRecord())
}

func TestListByOwnerFilters(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	assetA, assetB := uuid.New(), uuid.New()
	owner := uuid.New()
	base := time.Now().Add(-time.Minute)

	first := restingOrder(t, db, assetA, models.OrderSideBuy, 1, 10, base)
	first.OwnerID = owner
	require.NoError(t, db.Save(first).Error)
	second := restingOrder(t, db, assetB, models.OrderSideSell, 1, 10, base.Add(10*time.Second))
	second.OwnerID = owner
	require.NoError(t, db.Save(second).Error)
	restingOrder(t, db, assetA, models.OrderSideBuy, 1, 10, base) // other owner

	all, err := store.ListByOwner(ctx, owner, nil, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")

	onlyA, err := store.ListByOwner(ctx, owner, &assetA, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, first.ID, onlyA[0].ID)

	none, err := store.ListByOwner(ctx, owner, nil, models.OrderStatusFilled, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSnapshotAggregatesLevels(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	asset := &models.Asset{ID: uuid.New(), Symbol: "ACME", Name: "Acme Corp", CurrentPrice: decimal.NewFromInt(100)}
	require.NoError(t, db.Create(asset).Error)
	base := time.Now()

	restingOrder(t, db, asset.ID, models.OrderSideBuy, 3, 98, base)
	restingOrder(t, db, asset.ID, models.OrderSideBuy, 2, 98, base)
	restingOrder(t, db, asset.ID, models.OrderSideBuy, 1, 97, base)
	restingOrder(t, db, asset.ID, models.OrderSideSell, 4, 102, base)
	restingOrder(t, db, asset.ID, models.OrderSideSell, 6, 103, base)

	// Filled orders leave the book
	gone := restingOrder(t, db, asset.ID, models.OrderSideSell, 9, 101, base)
	require.NoError(t, db.Model(gone).Update("status", models.OrderStatusFilled).Error)

	snap, err := store.Snapshot(ctx, asset, 10)
	require.NoError(t, err)
	assert.Equal(t, "ACME", snap.Symbol)

	require.Len(t, snap.Bids, 2)
	assert.True(t, snap.Bids[0].Price.Equal(decimal.NewFromInt(98)))
	assert.True(t, snap.Bids[0].Quantity.Equal(decimal.NewFromInt(5)), "equal prices collapse into one level")
	assert.True(t, snap.Bids[1].Price.Equal(decimal.NewFromInt(97)))

	require.Len(t, snap.Asks, 2)
	assert.True(t, snap.Asks[0].Price.Equal(decimal.NewFromInt(102)))
	assert.True(t, snap.Asks[1].Price.Equal(decimal.NewFromInt(103)))
}

func TestSnapshotDepthLimit(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	asset := &models.Asset{ID: uuid.New(), Symbol: "DEEP", Name: "Deep Book", CurrentPrice: decimal.NewFromInt(100)}
	require.NoError(t, db.Create(asset).Error)
	base := time.Now()

	for i := int64(1); i <= 5; i++ {
		restingOrder(t, db, asset.ID, models.OrderSideSell, 1, 100+i, base)
	}

	snap, err := store.Snapshot(ctx, asset, 3)
	require.NoError(t, err)
	require.Len(t, snap.Asks, 3)
	assert.True(t, snap.Asks[0].Price.Equal(decimal.NewFromInt(101)))
	assert.True(t, snap.Asks[2].Price.Equal(decimal.NewFromInt(103)))
}
