// Package hook implements the settlement coordinator: the single trusted
// intermediary between the external execution venue and the order/ledger
// core. The venue drives a two-callback protocol, BeforeSwap immediately
// before executing a trade and AfterSwap immediately after, and is trusted to
// deliver exactly one of each per trade, in that order. The hook cannot prove
// that ordering; it keeps a best-effort active-trade mark and rejects an
// AfterSwap it never saw a BeforeSwap for in this process.
package hook

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/0xveil/veilswap/pkg/app/core/events"
	"github.com/0xveil/veilswap/pkg/app/core/intent"
	"github.com/0xveil/veilswap/pkg/app/core/market"
	"github.com/0xveil/veilswap/pkg/app/core/order"
	"github.com/0xveil/veilswap/pkg/fhe"
)

var (
	// ErrUnauthorizedCaller means the callback came from an identity other
	// than the bound venue.
	ErrUnauthorizedCaller = errors.New("hook: caller is not the bound venue")
	// ErrInvalidOrder means pre-trade validation returned false; the venue
	// must abort the pending trade.
	ErrInvalidOrder = errors.New("hook: invalid order")
	// ErrNoActiveTrade means AfterSwap arrived without a preceding
	// BeforeSwap for the same (market, sender).
	ErrNoActiveTrade = errors.New("hook: no active trade for market/sender")
	// ErrBadOrderRef means the opaque order reference could not be decoded.
	ErrBadOrderRef = errors.New("hook: malformed order reference")
	// ErrInvalidDelta means the venue-reported delta has no positive output
	// leg for the trade direction.
	ErrInvalidDelta = errors.New("hook: delta has no positive output leg")
)

// BalanceDelta is the venue-reported, sign-qualified balance change of a
// trade: positive legs are owed to the trader, negative legs were taken.
// Amount0/Amount1 follow the market's canonical asset ordering.
type BalanceDelta struct {
	Amount0 int64
	Amount1 int64
}

// OutputFor extracts the output leg for a trade direction.
func (d BalanceDelta) OutputFor(zeroForOne bool) int64 {
	if zeroForOne {
		return d.Amount1
	}
	return d.Amount0
}

// Order references are opaque byte strings: 8 bytes big-endian for an order
// store ID, 32 bytes for a content-derived intent ID.
const (
	orderRefLen  = 8
	intentRefLen = 32
)

// OrderRef encodes an order store identifier as an opaque reference.
func OrderRef(id uint64) []byte {
	var ref [orderRefLen]byte
	binary.BigEndian.PutUint64(ref[:], id)
	return ref[:]
}

// IntentRef encodes an intent identifier as an opaque reference.
func IntentRef(id common.Hash) []byte {
	return id.Bytes()
}

type activeKey struct {
	Market string
	Sender common.Address
}

// SettlementHook validates orders at pre-trade time and settles them at
// post-trade time. The venue identity is bound at construction and immutable.
type SettlementHook struct {
	venue common.Address
	self  common.Address

	orders  *order.Manager
	intents *intent.Manager
	markets *market.Registry
	backend fhe.Backend
	bus     *events.Bus
	log     *zap.SugaredLogger

	mu         sync.Mutex
	active     map[activeKey][]byte // in-flight trades: (market, sender) -> order ref
	checkpoint uint64               // monotonic venue execution sequence
}

// New constructs a hook bound to the given venue identity. self is the
// identity the hook presents when calling privileged order/ledger/intent
// operations; wire-up must BindCoordinator(self) on those components.
func New(venue, self common.Address, orders *order.Manager, intents *intent.Manager, markets *market.Registry, backend fhe.Backend, bus *events.Bus, log *zap.SugaredLogger) *SettlementHook {
	return &SettlementHook{
		venue:   venue,
		self:    self,
		orders:  orders,
		intents: intents,
		markets: markets,
		backend: backend,
		bus:     bus,
		log:     log,
		active:  make(map[activeKey][]byte),
	}
}

// Address returns the hook's own identity, the one bound as coordinator.
func (h *SettlementHook) Address() common.Address {
	return h.self
}

// Venue returns the bound venue identity.
func (h *SettlementHook) Venue() common.Address {
	return h.venue
}

func (h *SettlementHook) requireVenue(caller common.Address) error {
	if caller != h.venue {
		return ErrUnauthorizedCaller
	}
	return nil
}

// BeforeSwap is the pre-trade callback. It validates the referenced order or
// intent for (sender, marketID) and marks the trade active. A false
// validation aborts the entire pending trade with ErrInvalidOrder.
func (h *SettlementHook) BeforeSwap(caller, sender common.Address, marketID string, zeroForOne bool, orderRef []byte) error {
	if err := h.requireVenue(caller); err != nil {
		return err
	}
	mkt, err := h.markets.Get(marketID)
	if err != nil || !mkt.IsActive() {
		return fmt.Errorf("%w: market %s", ErrInvalidOrder, marketID)
	}

	valid, err := h.validateRef(sender, marketID, orderRef)
	if err != nil {
		return err
	}
	if !valid {
		return ErrInvalidOrder
	}

	h.mu.Lock()
	h.active[activeKey{marketID, sender}] = append([]byte(nil), orderRef...)
	h.mu.Unlock()

	h.log.Infow("pre_trade_validated",
		"market", marketID,
		"sender", sender.Hex(),
		"ref", hexutil.Encode(orderRef),
		"zero_for_one", zeroForOne,
	)
	return nil
}

func (h *SettlementHook) validateRef(sender common.Address, marketID string, ref []byte) (bool, error) {
	switch len(ref) {
	case orderRefLen:
		id := binary.BigEndian.Uint64(ref)
		return h.orders.Validate(id, sender, marketID, h.self)
	case intentRefLen:
		it, err := h.intents.Get(common.BytesToHash(ref))
		if err != nil {
			return false, nil
		}
		if it.Owner != sender || it.Market != marketID {
			return false, nil
		}
		return it.Status == intent.StatusPending, nil
	default:
		return false, fmt.Errorf("%w: %d bytes", ErrBadOrderRef, len(ref))
	}
}

// AfterSwap is the post-trade callback. It extracts the positive output leg
// from the venue-reported delta, settles the order (or records the intent
// execution), clears the active mark, and emits one settlement event.
func (h *SettlementHook) AfterSwap(caller, sender common.Address, marketID string, zeroForOne bool, delta BalanceDelta, orderRef []byte) error {
	if err := h.requireVenue(caller); err != nil {
		return err
	}

	key := activeKey{marketID, sender}
	h.mu.Lock()
	_, isActive := h.active[key]
	h.mu.Unlock()
	if !isActive {
		return ErrNoActiveTrade
	}

	err := h.settle(sender, marketID, zeroForOne, delta, orderRef)

	// The trade is over either way; clear the mark on all paths.
	h.mu.Lock()
	delete(h.active, key)
	h.mu.Unlock()

	h.bus.Publish(events.TypeSettlementResult, events.SettlementResult{
		Market:   marketID,
		Sender:   sender.Hex(),
		OrderRef: hexutil.Encode(orderRef),
		Success:  err == nil,
	})
	if err != nil {
		h.log.Warnw("settlement_failed",
			"market", marketID,
			"sender", sender.Hex(),
			"ref", hexutil.Encode(orderRef),
			"err", err,
		)
		return err
	}

	h.log.Infow("settlement_applied",
		"market", marketID,
		"sender", sender.Hex(),
		"ref", hexutil.Encode(orderRef),
	)
	return nil
}

func (h *SettlementHook) settle(sender common.Address, marketID string, zeroForOne bool, delta BalanceDelta, ref []byte) error {
	out := delta.OutputFor(zeroForOne)
	if out <= 0 {
		return ErrInvalidDelta
	}

	switch len(ref) {
	case orderRefLen:
		id := binary.BigEndian.Uint64(ref)
		return h.orders.Settle(id, sender, uint64(out), h.self)
	case intentRefLen:
		encOut, err := h.backend.Encrypt(uint64(out))
		if err != nil {
			return fmt.Errorf("hook: encrypt output: %w", err)
		}
		h.mu.Lock()
		h.checkpoint++
		cp := h.checkpoint
		h.mu.Unlock()
		return h.intents.RecordExecution(common.BytesToHash(ref), encOut, cp, h.self)
	default:
		return fmt.Errorf("%w: %d bytes", ErrBadOrderRef, len(ref))
	}
}
