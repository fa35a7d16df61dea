// Package engine implements the order matching and settlement engine.
//
// A submission runs as one atomic pass: validate, persist the taker order,
// match it against resting counter-orders under price-time priority, settle
// every executed leg, and resolve the taker's final state, all inside a
// single database transaction serialized per asset. Subscribers learn about
// the resulting state changes through the injected event publisher, strictly
// after commit.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/papertrade/papertrade/internal/assets"
	"github.com/papertrade/papertrade/internal/events"
	"github.com/papertrade/papertrade/internal/ledger"
	"github.com/papertrade/papertrade/internal/orderbook"
	"github.com/papertrade/papertrade/pkg/errs"
	"github.com/papertrade/papertrade/pkg/metrics"
	"github.com/papertrade/papertrade/pkg/models"
)

// SubmitRequest describes one order submission.
type SubmitRequest struct {
	OwnerID    uuid.UUID
	AssetID    uuid.UUID
	Side       string
	Type       string
	Quantity   decimal.Decimal
	LimitPrice *decimal.Decimal // required for limit orders, ignored for market
}

// Engine is the matching engine. All Order and Holding mutation in the
// system passes through it.
type Engine struct {
	logger    *zap.Logger
	db        *gorm.DB
	assets    *assets.Service
	ledger    *ledger.Service
	book      *orderbook.Store
	publisher events.Publisher
	bookDepth int

	// One mutex per asset: matching and settlement for a given asset
	// behave as if serialized.
	locks sync.Map
}

// NewEngine creates a new matching engine
func NewEngine(logger *zap.Logger, db *gorm.DB, assetSvc *assets.Service, ledgerSvc *ledger.Service, book *orderbook.Store, publisher events.Publisher) *Engine {
	return &Engine{
		logger:    logger,
		db:        db,
		assets:    assetSvc,
		ledger:    ledgerSvc,
		book:      book,
		publisher: publisher,
		bookDepth: 10,
	}
}

// matchOutcome collects everything a committed submission changed, for
// post-commit publication.
type matchOutcome struct {
	taker  *models.Order
	makers []*models.Order
	fills  []*models.Order
	// owners whose ledger changed
	owners map[uuid.UUID]struct{}
	legs   int
}

// SubmitOrder validates, persists and matches one order. The returned order
// reflects the post-matching state, not the initial confirmed state. On any
// error the whole submission is rolled back; no partial trade state is ever
// visible.
func (e *Engine) SubmitOrder(ctx context.Context, req SubmitRequest) (*models.Order, error) {
	start := time.Now()

	order, err := e.submit(ctx, req)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues(errs.Kind(err)).Inc()
		return nil, err
	}

	metrics.OrdersSubmitted.WithLabelValues(order.Side, order.Status).Inc()
	metrics.MatchingLatency.Observe(time.Since(start).Seconds())
	return order, nil
}

func (e *Engine) submit(ctx context.Context, req SubmitRequest) (*models.Order, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	asset, err := e.assets.GetAsset(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}

	// Market orders execute at the reference price snapshotted here, once
	// per submission. Every leg of this taker uses this one snapshot even
	// if the feed moves while we hold the lock.
	var price decimal.Decimal
	if req.Type == models.OrderTypeMarket {
		price = asset.CurrentPrice
		if price.LessThanOrEqual(decimal.Zero) {
			return nil, errs.Validationf("asset %s has no reference price", asset.Symbol)
		}
	} else {
		price = *req.LimitPrice
	}

	// Fast pre-check without the lock: reject the common oversell case
	// cheaply. Holdings may still change before we acquire the lock, so
	// the matching path re-checks under it.
	if req.Side == models.OrderSideSell {
		if err := e.ledger.HasSufficient(ctx, req.OwnerID, req.AssetID, req.Quantity); err != nil {
			return nil, err
		}
	}

	lock := e.lockFor(req.AssetID)
	lock.Lock()
	defer lock.Unlock()

	outcome, err := e.matchInTx(ctx, req, asset, price)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, asset, outcome)

	e.logger.Info("Order processed",
		zap.String("order_id", outcome.taker.ID.String()),
		zap.String("asset", asset.Symbol),
		zap.String("side", outcome.taker.Side),
		zap.String("type", outcome.taker.Type),
		zap.String("status", outcome.taker.Status),
		zap.Int("legs", outcome.legs))

	return outcome.taker, nil
}

// matchInTx runs the transactional part of a submission: the authoritative
// sell re-check, the taker insert, the matching loop and settlement, and
// the taker's final state. Everything commits together or not at all.
func (e *Engine) matchInTx(ctx context.Context, req SubmitRequest, asset *models.Asset, price decimal.Decimal) (*matchOutcome, error) {
	tx := e.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, errs.TransactionAbortf("failed to begin transaction: %v", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	// Authoritative sufficiency check under the lock. The pre-check ran
	// before lock acquisition and may be stale.
	if req.Side == models.OrderSideSell {
		if err := e.ledger.SufficientForUpdate(tx, req.OwnerID, req.AssetID, req.Quantity); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	now := time.Now()
	taker := &models.Order{
		ID:        uuid.New(),
		OwnerID:   req.OwnerID,
		AssetID:   req.AssetID,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Price:     price,
		Status:    models.OrderStatusConfirmed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.book.Create(tx, taker); err != nil {
		tx.Rollback()
		return nil, err
	}

	outcome := &matchOutcome{
		taker:  taker,
		owners: make(map[uuid.UUID]struct{}),
	}
	if err := e.matchLoop(tx, taker, outcome); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, errs.TransactionAbortf("failed to commit transaction: %v", err)
	}

	metrics.TradeLegs.Add(float64(outcome.legs))
	return outcome, nil
}

// matchLoop pairs the taker against resting makers in price-time priority
// and executes a trade leg per pairing. The maker's price always wins.
func (e *Engine) matchLoop(tx *gorm.DB, taker *models.Order, outcome *matchOutcome) error {
	makerSide := models.OrderSideSell
	if taker.Side == models.OrderSideSell {
		makerSide = models.OrderSideBuy
	}

	// Market takers match regardless of price; limit takers only against
	// compatible prices.
	var limitPrice *decimal.Decimal
	if taker.Type == models.OrderTypeLimit {
		limitPrice = &taker.Price
	}

	makers, err := e.book.EligibleMakers(tx, taker.AssetID, makerSide, limitPrice)
	if err != nil {
		return err
	}

	remaining := taker.Quantity
	for i := range makers {
		if !remaining.IsPositive() {
			break
		}
		maker := &makers[i]

		tradeQty := decimal.Min(remaining, maker.Quantity)
		tradePrice := maker.Price

		// Consuming a sell-side maker moves the maker owner's assets;
		// re-verify the position backs the leg before touching anything.
		// Failure here is an invariant violation, not a user error.
		if maker.Side == models.OrderSideSell {
			if err := e.ledger.SufficientForUpdate(tx, maker.OwnerID, maker.AssetID, tradeQty); err != nil {
				if errors.Is(err, errs.ErrInsufficientAssets) {
					return errs.Settlementf("maker %s no longer backed: %v", maker.ID, err)
				}
				return err
			}
		}

		// Update the maker's book state
		if tradeQty.Equal(maker.Quantity) {
			if err := e.book.SetStatus(tx, maker.ID, models.OrderStatusFilled); err != nil {
				return err
			}
			maker.Status = models.OrderStatusFilled
		} else {
			newQty := maker.Quantity.Sub(tradeQty)
			if err := e.book.SetRemaining(tx, maker.ID, newQty, models.OrderStatusPartiallyFilled); err != nil {
				return err
			}
			maker.Quantity = newQty
			maker.Status = models.OrderStatusPartiallyFilled
		}

		// Settle the leg
		buyerID, sellerID := taker.OwnerID, maker.OwnerID
		if taker.Side == models.OrderSideSell {
			buyerID, sellerID = maker.OwnerID, taker.OwnerID
		}
		if err := e.ledger.Settle(tx, buyerID, sellerID, taker.AssetID, tradeQty, tradePrice); err != nil {
			return err
		}

		// Record the executed leg on the taker's side
		fill, err := e.book.CreateFillRecord(tx, taker, tradeQty, tradePrice)
		if err != nil {
			return err
		}

		remaining = remaining.Sub(tradeQty)
		outcome.makers = append(outcome.makers, maker)
		outcome.fills = append(outcome.fills, fill)
		outcome.owners[buyerID] = struct{}{}
		outcome.owners[sellerID] = struct{}{}
		outcome.legs++
	}

	// Resolve the taker's primary record
	switch {
	case remaining.IsZero() || remaining.IsNegative():
		if err := e.book.SetStatus(tx, taker.ID, models.OrderStatusFilled); err != nil {
			return err
		}
		taker.Status = models.OrderStatusFilled
	case remaining.LessThan(taker.Quantity):
		if err := e.book.SetRemaining(tx, taker.ID, remaining, models.OrderStatusPartiallyFilled); err != nil {
			return err
		}
		taker.Quantity = remaining
		taker.Status = models.OrderStatusPartiallyFilled
	default:
		// No trades occurred, the order rests in the book as confirmed
	}

	return nil
}

// publish notifies subscribers of everything the committed submission
// changed. This runs after commit and never affects the submission result;
// a failed or slow delivery is the bus's problem, not the caller's.
func (e *Engine) publish(ctx context.Context, asset *models.Asset, outcome *matchOutcome) {
	e.publisher.Publish(events.Event{Kind: events.KindOrderUpdated, Order: outcome.taker})
	for _, maker := range outcome.makers {
		e.publisher.Publish(events.Event{Kind: events.KindOrderUpdated, Order: maker})
	}

	for ownerID := range outcome.owners {
		holdings, err := e.ledger.GetHoldings(ctx, ownerID)
		if err != nil {
			e.logger.Error("Failed to load holdings for event", zap.Error(err))
			continue
		}
		e.publisher.Publish(events.Event{
			Kind:     events.KindHoldingUpdated,
			Holdings: &events.HoldingsPayload{OwnerID: ownerID, Holdings: holdings},
		})
	}

	snapshot, err := e.book.Snapshot(ctx, asset, e.bookDepth)
	if err != nil {
		e.logger.Error("Failed to build book snapshot for event", zap.Error(err))
		return
	}
	e.publisher.Publish(events.Event{Kind: events.KindBookUpdated, Book: snapshot})
}

// GetOrderBook returns the aggregated top of book for a symbol
func (e *Engine) GetOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBookSnapshot, error) {
	asset, err := e.assets.GetAssetBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return e.book.Snapshot(ctx, asset, depth)
}

// GetHoldings returns all holdings of an owner
func (e *Engine) GetHoldings(ctx context.Context, ownerID uuid.UUID) ([]models.Holding, error) {
	return e.ledger.GetHoldings(ctx, ownerID)
}

// GetOrder returns one order by id
func (e *Engine) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return e.book.GetOrder(ctx, orderID)
}

// GetFills returns the fill records of an order, oldest first
func (e *Engine) GetFills(ctx context.Context, parentOrderID uuid.UUID) ([]models.Order, error) {
	return e.book.ListFills(ctx, parentOrderID)
}

// GetOrders returns an owner's orders with optional filters
func (e *Engine) GetOrders(ctx context.Context, ownerID uuid.UUID, assetID *uuid.UUID, status string, limit, offset int) ([]models.Order, error) {
	return e.book.ListByOwner(ctx, ownerID, assetID, status, limit, offset)
}

func (e *Engine) lockFor(assetID uuid.UUID) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(assetID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func validateRequest(req SubmitRequest) error {
	if req.OwnerID == uuid.Nil {
		return errs.Validationf("owner id is required")
	}
	if req.Side != models.OrderSideBuy && req.Side != models.OrderSideSell {
		return errs.Validationf("invalid side: %q", req.Side)
	}
	if req.Type != models.OrderTypeMarket && req.Type != models.OrderTypeLimit {
		return errs.Validationf("invalid order type: %q", req.Type)
	}
	if !req.Quantity.IsPositive() {
		return errs.Validationf("quantity must be positive, got %s", req.Quantity)
	}
	if req.Type == models.OrderTypeLimit {
		if req.LimitPrice == nil {
			return errs.Validationf("limit order requires a limit price")
		}
		if !req.LimitPrice.IsPositive() {
			return errs.Validationf("limit price must be positive, got %s", req.LimitPrice)
		}
	}
	return nil
}
