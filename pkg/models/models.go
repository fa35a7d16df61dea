package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Constants for order sides, types and statuses
const (
	// Order sides
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"

	// Order types
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"

	// Order statuses
	OrderStatusConfirmed       = "confirmed"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCancelled       = "cancelled"
)

// Asset represents a tradable instrument. CurrentPrice is the reference
// price used for market orders; it is written by the price feed and only
// read by the engine.
type Asset struct {
	ID           uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	Symbol       string          `json:"symbol" gorm:"uniqueIndex;not null"`
	Name         string          `json:"name" gorm:"not null"`
	CurrentPrice decimal.Decimal `json:"current_price" gorm:"type:decimal(20,8);not null"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Order represents an order in the system.
//
// The Quantity field plays two roles depending on the record kind: for a
// resting order it is the remaining unfilled quantity and is mutated as the
// order matches; for a fill record (ParentOrderID set) it is the traded
// quantity of one executed leg and is immutable once written. Use
// IsFillRecord to tell the two apart.
type Order struct {
	ID            uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	OwnerID       uuid.UUID       `json:"owner_id" gorm:"type:uuid;index;not null"`
	AssetID       uuid.UUID       `json:"asset_id" gorm:"type:uuid;index;not null"`
	Side          string          `json:"side" gorm:"not null"`
	Type          string          `json:"type" gorm:"not null"`
	Quantity      decimal.Decimal `json:"quantity" gorm:"type:decimal(20,8);not null"`
	Price         decimal.Decimal `json:"price" gorm:"type:decimal(20,8);not null"`
	Status        string          `json:"status" gorm:"index;not null"`
	ParentOrderID *uuid.UUID      `json:"parent_order_id,omitempty" gorm:"type:uuid;index"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsFillRecord reports whether the order is a synthetic record of one
// executed trade leg rather than a live resting order.
func (o *Order) IsFillRecord() bool {
	return o.ParentOrderID != nil
}

// IsResting reports whether the order still waits in the book for a
// counterparty.
func (o *Order) IsResting() bool {
	return !o.IsFillRecord() &&
		(o.Status == OrderStatusConfirmed || o.Status == OrderStatusPartiallyFilled)
}

// Holding represents a per-owner per-asset position with its
// quantity-weighted average cost. A holding is deleted, never persisted at
// zero or negative quantity.
type Holding struct {
	ID           uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	OwnerID      uuid.UUID       `json:"owner_id" gorm:"type:uuid;uniqueIndex:idx_holdings_owner_asset;not null"`
	AssetID      uuid.UUID       `json:"asset_id" gorm:"type:uuid;uniqueIndex:idx_holdings_owner_asset;not null"`
	Quantity     decimal.Decimal `json:"quantity" gorm:"type:decimal(20,8);not null"`
	AveragePrice decimal.Decimal `json:"average_price" gorm:"type:decimal(20,8);not null"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// PriceLevel is one aggregated price level of the order book.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBookSnapshot is the aggregated top of book for one asset. Bids are
// sorted price descending, asks ascending.
type OrderBookSnapshot struct {
	AssetID   uuid.UUID    `json:"asset_id"`
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}
