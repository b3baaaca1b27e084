// Package events carries the non-sensitive notifications the core emits:
// order creation, settlement results, and claimed outputs. Payloads only ever
// contain identifiers, statuses, and timestamps; amounts stay ciphertext.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeOrderCreated     Type = "order_created"
	TypeOrderCancelled   Type = "order_cancelled"
	TypeSettlementResult Type = "settlement_result"
	TypeOutputClaimed    Type = "output_claimed"
)

type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
	Data      any    `json:"data"`
}

// OrderCreated is emitted on order insertion. No amount fields.
type OrderCreated struct {
	OrderID  uint64 `json:"orderId"`
	Owner    string `json:"owner"`
	Market   string `json:"market"`
	AssetIn  string `json:"assetIn"`
	AssetOut string `json:"assetOut"`
}

// OrderCancelled is emitted when an owner cancels a pending order.
type OrderCancelled struct {
	OrderID uint64 `json:"orderId"`
	Owner   string `json:"owner"`
}

// SettlementResult is emitted once per post-trade callback.
type SettlementResult struct {
	Market   string `json:"market"`
	Sender   string `json:"sender"`
	OrderRef string `json:"orderRef"` // hex-encoded opaque reference
	Success  bool   `json:"success"`
}

// OutputClaimed is emitted when an intent owner claims a sealed output.
type OutputClaimed struct {
	IntentID string `json:"intentId"`
	Owner    string `json:"owner"`
}

// Bus fans events out to subscribers. Slow subscribers drop events rather
// than block the emitting call path.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a buffered channel receiving all future events.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers an event to every subscriber.
func (b *Bus) Publish(t Type, data any) Event {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full, drop.
		}
	}
	return ev
}
