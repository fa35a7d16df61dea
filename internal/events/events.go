// Package events provides the fan-out event bus the engine publishes into.
//
// The bus is injected into producers as the Publisher interface; nothing in
// the matching path ever reaches through a global to notify subscribers.
// Delivery is best-effort: a slow or gone subscriber gets dropped, it can
// never stall matching.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papertrade/papertrade/pkg/metrics"
	"github.com/papertrade/papertrade/pkg/models"
)

// Event kinds
const (
	KindOrderUpdated   = "order_updated"
	KindHoldingUpdated = "holding_updated"
	KindBookUpdated    = "book_updated"
	KindPriceUpdated   = "price_updated"
)

// Event is one state-change notification.
type Event struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// Exactly one of the payloads below is set, matching Kind.
	Order    *models.Order             `json:"order,omitempty"`
	Holdings *HoldingsPayload          `json:"holdings,omitempty"`
	Book     *models.OrderBookSnapshot `json:"book,omitempty"`
	Price    *PricePayload             `json:"price,omitempty"`
}

// HoldingsPayload carries an owner's full holdings after a ledger change.
type HoldingsPayload struct {
	OwnerID  uuid.UUID        `json:"owner_id"`
	Holdings []models.Holding `json:"holdings"`
}

// PricePayload carries one asset's new reference price.
type PricePayload struct {
	AssetID uuid.UUID `json:"asset_id"`
	Symbol  string    `json:"symbol"`
	Price   string    `json:"price"`
}

// Publisher is the port producers publish through.
type Publisher interface {
	Publish(ev Event)
}

// Subscription is one subscriber's feed. Drain C until it is closed, and
// call Cancel when done.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	id     uint64
	cancel func()
}

// Cancel detaches the subscription from the bus and closes C.
func (s *Subscription) Cancel() { s.cancel() }

// Bus is an in-process Publisher with any number of subscribers.
type Bus struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	bufSize int
	closed  bool
}

// NewBus creates a Bus. bufSize is each subscriber's channel buffer; once a
// subscriber falls that far behind, further events to it are dropped.
func NewBus(logger *zap.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Bus{
		logger:  logger,
		subs:    make(map[uint64]chan Event),
		bufSize: bufSize,
	}
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufSize)
	if b.closed {
		close(ch)
	} else {
		b.subs[id] = ch
	}

	return &Subscription{
		C:  ch,
		ch: ch,
		id: id,
		cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		},
	}
}

// Publish fans the event out to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber, drop rather than stall the producer
			metrics.EventsDropped.WithLabelValues(ev.Kind).Inc()
			b.logger.Warn("dropping event on slow subscriber",
				zap.Uint64("subscriber", id),
				zap.String("kind", ev.Kind))
		}
	}
}

// Close detaches and closes all subscribers. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
