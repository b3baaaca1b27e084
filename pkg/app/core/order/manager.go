// Package order owns confidential order records and their state machine:
// Pending on creation, then exactly one transition to Executed, Cancelled, or
// Expired. Settlement couples the status transition with the encrypted
// slippage gate and the ledger debit/credit pair.
package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xveil/veilswap/pkg/app/core/authz"
	"github.com/0xveil/veilswap/pkg/app/core/events"
	"github.com/0xveil/veilswap/pkg/app/core/ledger"
	"github.com/0xveil/veilswap/pkg/app/core/market"
	"github.com/0xveil/veilswap/pkg/fhe"
	"github.com/0xveil/veilswap/pkg/storage"
	"github.com/0xveil/veilswap/pkg/util"
)

// CreateParams carries everything needed to open an order. The two amount
// fields are ciphertext handles produced client-side.
type CreateParams struct {
	Owner           common.Address
	Market          string
	AssetIn         string
	AssetOut        string
	EncAmountIn     fhe.Handle
	EncMinAmountOut fhe.Handle
	Deadline        int64 // Unix seconds, 0 = no expiry
}

// Manager owns all order records. Each public entry point runs under one
// mutex and either fully commits or fully fails; persisted state is written
// before in-memory state so a storage error leaves nothing half-applied.
type Manager struct {
	mu      sync.Mutex
	orders  map[uint64]*Order
	byOwner map[common.Address][]uint64
	nextID  uint64

	store   *storage.Store
	backend fhe.Backend
	ledger  *ledger.Ledger
	markets *market.Registry
	bus     *events.Bus
	clock   util.Clock
	coord   authz.Binder
}

// NewManager opens the order store at dbPath and loads all persisted orders.
func NewManager(dbPath string, backend fhe.Backend, led *ledger.Ledger, markets *market.Registry, bus *events.Bus, clock util.Clock) (*Manager, error) {
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("order: open store: %w", err)
	}

	m := &Manager{
		orders:  make(map[uint64]*Order),
		byOwner: make(map[common.Address][]uint64),
		nextID:  1,
		store:   store,
		backend: backend,
		ledger:  led,
		markets: markets,
		bus:     bus,
		clock:   clock,
	}
	if err := m.loadAll(); err != nil {
		store.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadAll() error {
	if err := m.store.Iterate(orderPrefix(), func(_, value []byte) error {
		var o Order
		if err := json.Unmarshal(value, &o); err != nil {
			return nil // Skip invalid entries
		}
		m.orders[o.ID] = &o
		m.byOwner[o.Owner] = append(m.byOwner[o.Owner], o.ID)
		return nil
	}); err != nil {
		return err
	}

	var seq uint64
	found, err := m.store.Get(sequenceKey(), &seq)
	if err != nil {
		return err
	}
	if found {
		m.nextID = seq
	}
	return nil
}

func (m *Manager) Close() error {
	return m.store.Close()
}

// BindCoordinator permanently binds the settlement coordinator allowed to
// call Validate and Settle. Second call fails with authz.ErrAlreadyInitialized.
func (m *Manager) BindCoordinator(coordinator common.Address) error {
	return m.coord.Bind(coordinator)
}

// Create allocates a fresh identifier and inserts a Pending order. Creation
// is deposit-gated: it fails unless the owner's encrypted assetIn balance
// covers the encrypted amount. Emits an order-created event carrying only
// non-sensitive fields.
func (m *Manager) Create(p CreateParams) (uint64, error) {
	mkt, err := m.markets.Get(p.Market)
	if err != nil || !mkt.IsActive() {
		return 0, ErrUnknownMarket
	}
	if !mkt.HasPair(p.AssetIn, p.AssetOut) {
		return 0, ErrAssetMismatch
	}
	if err := m.ledger.RequireSufficient(p.Owner, p.AssetIn, p.EncAmountIn); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o := &Order{
		ID:              m.nextID,
		Owner:           p.Owner,
		Market:          p.Market,
		AssetIn:         p.AssetIn,
		AssetOut:        p.AssetOut,
		EncAmountIn:     p.EncAmountIn,
		EncMinAmountOut: p.EncMinAmountOut,
		Deadline:        p.Deadline,
		Status:          StatusPending,
		CreatedAt:       m.clock.Now().UnixMilli(),
	}

	batch := m.store.NewBatch()
	defer batch.Close()
	if err := batch.Put(orderKey(o.ID), o); err != nil {
		return 0, err
	}
	if err := batch.Put(sequenceKey(), m.nextID+1); err != nil {
		return 0, err
	}
	if err := batch.Commit(); err != nil {
		return 0, fmt.Errorf("order: create commit: %w", err)
	}

	m.orders[o.ID] = o
	m.byOwner[o.Owner] = append(m.byOwner[o.Owner], o.ID)
	m.nextID++

	m.bus.Publish(events.TypeOrderCreated, events.OrderCreated{
		OrderID:  o.ID,
		Owner:    o.Owner.Hex(),
		Market:   o.Market,
		AssetIn:  o.AssetIn,
		AssetOut: o.AssetOut,
	})
	return o.ID, nil
}

// Cancel transitions a Pending order to Cancelled. Owner-only.
func (m *Manager) Cancel(id uint64, caller common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Owner != caller {
		return ErrUnauthorized
	}
	if o.Status != StatusPending {
		return ErrNotPending
	}

	updated := *o
	updated.Status = StatusCancelled
	if err := m.store.Put(orderKey(id), &updated); err != nil {
		return err
	}
	*o = updated

	m.bus.Publish(events.TypeOrderCancelled, events.OrderCancelled{
		OrderID: id,
		Owner:   caller.Hex(),
	})
	return nil
}

// Validate is the coordinator's pre-trade check. It is strictly read-only.
// Mismatched owner/market or a non-Pending status is a false result, not an
// error: the venue-mediated caller must be able to branch without unwinding
// venue-side state. Only a non-coordinator caller is an error.
func (m *Manager) Validate(id uint64, expectedOwner common.Address, expectedMarket string, caller common.Address) (bool, error) {
	if err := m.coord.Require(caller); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return false, nil
	}
	if o.Owner != expectedOwner || o.Market != expectedMarket {
		return false, nil
	}
	if o.Status != StatusPending {
		return false, nil
	}
	if o.Deadline > 0 && m.clock.Now().Unix() >= o.Deadline {
		return false, nil
	}
	return true, nil
}

// Settle is the coordinator's post-trade transition: gate the realized output
// against the encrypted minimum, apply the ledger debit/credit pair, and move
// the order to Executed. Any failure leaves order and balances untouched.
func (m *Manager) Settle(id uint64, user common.Address, realizedOut uint64, caller common.Address) error {
	if err := m.coord.Require(caller); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Owner != user {
		return ErrUnauthorized
	}
	if o.Status != StatusPending {
		return ErrNotPending
	}

	encOut, err := m.backend.Encrypt(realizedOut)
	if err != nil {
		return fmt.Errorf("order: encrypt realized output: %w", err)
	}

	// Slippage gate: realizedOutput >= minAmountOut, on ciphertexts.
	ok2, err := m.backend.Gte(encOut, o.EncMinAmountOut)
	if err != nil {
		return fmt.Errorf("order: slippage compare: %w", err)
	}
	if err := m.backend.RequireTrue(ok2); err != nil {
		if errors.Is(err, fhe.ErrPredicateFalse) {
			return ErrSlippageExceeded
		}
		return fmt.Errorf("order: slippage gate: %w", err)
	}

	if err := m.ledger.DebitCredit(user, o.AssetIn, o.EncAmountIn, o.AssetOut, encOut, caller); err != nil {
		return err
	}

	updated := *o
	updated.Status = StatusExecuted
	updated.ExecutedAt = m.clock.Now().UnixMilli()
	if err := m.store.Put(orderKey(id), &updated); err != nil {
		return err
	}
	*o = updated
	return nil
}

// ExpireIfDue transitions a Pending order past its plaintext deadline to
// Expired. Callable by anyone; returns whether the transition happened.
func (m *Manager) ExpireIfDue(id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.Status != StatusPending || o.Deadline == 0 {
		return false, nil
	}
	if m.clock.Now().Unix() < o.Deadline {
		return false, nil
	}

	updated := *o
	updated.Status = StatusExpired
	if err := m.store.Put(orderKey(id), &updated); err != nil {
		return false, err
	}
	*o = updated
	return true, nil
}

// Get returns a copy of one order.
func (m *Manager) Get(id uint64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// OrdersByOwner returns copies of all orders submitted by owner, in creation
// order.
func (m *Manager) OrdersByOwner(owner common.Address) []*Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byOwner[owner]
	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := m.orders[id]; ok {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out
}

// Count returns the total number of orders ever created.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// IsActive reports whether the order exists and is still Pending.
func (m *Manager) IsActive(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	return ok && o.IsActive()
}
