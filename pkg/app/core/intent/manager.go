// Package intent implements the intent/execution/claim variant: an encrypted
// request recorded pre-trade, an encrypted result recorded post-trade by the
// coordinator, and an owner-initiated claim that reseals the result for the
// owner's key exactly once.
package intent

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0xveil/veilswap/pkg/app/core/authz"
	"github.com/0xveil/veilswap/pkg/app/core/events"
	"github.com/0xveil/veilswap/pkg/fhe"
	"github.com/0xveil/veilswap/pkg/storage"
	"github.com/0xveil/veilswap/pkg/util"
)

// CreateParams carries everything needed to record an intent. Nonce
// disambiguates otherwise-identical intents from the same owner.
type CreateParams struct {
	Owner           common.Address
	Market          string
	ZeroForOne      bool
	Deadline        int64 // Unix seconds
	Nonce           uint64
	EncAmountIn     fhe.Handle
	EncMinAmountOut fhe.Handle
}

// DeriveID computes the content-derived intent identifier.
func DeriveID(p CreateParams) common.Hash {
	var dir byte
	if p.ZeroForOne {
		dir = 1
	}
	var tail [17]byte
	tail[0] = dir
	binary.BigEndian.PutUint64(tail[1:9], p.Nonce)
	binary.BigEndian.PutUint64(tail[9:17], uint64(p.Deadline))
	return crypto.Keccak256Hash(p.Owner.Bytes(), []byte(p.Market), tail[:])
}

// Manager owns intent and execution records.
type Manager struct {
	mu      sync.Mutex
	intents map[common.Hash]*Intent
	execs   map[common.Hash]*Execution
	byOwner map[common.Address][]common.Hash

	// claiming marks intents with a claim in flight. The reseal call leaves
	// the manager mutex, so a re-entrant claim on the same intent is caught
	// here instead of deadlocking.
	claiming map[common.Hash]bool

	store   *storage.Store
	backend fhe.Backend
	bus     *events.Bus
	clock   util.Clock
	coord   authz.Binder
}

// NewManager opens the intent store at dbPath and loads all persisted records.
func NewManager(dbPath string, backend fhe.Backend, bus *events.Bus, clock util.Clock) (*Manager, error) {
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("intent: open store: %w", err)
	}

	m := &Manager{
		intents:  make(map[common.Hash]*Intent),
		execs:    make(map[common.Hash]*Execution),
		byOwner:  make(map[common.Address][]common.Hash),
		claiming: make(map[common.Hash]bool),
		store:    store,
		backend:  backend,
		bus:      bus,
		clock:    clock,
	}
	if err := m.loadAll(); err != nil {
		store.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadAll() error {
	if err := m.store.Iterate(intentPrefix(), func(_, value []byte) error {
		var it Intent
		if err := json.Unmarshal(value, &it); err != nil {
			return nil // Skip invalid entries
		}
		m.intents[it.ID] = &it
		m.byOwner[it.Owner] = append(m.byOwner[it.Owner], it.ID)
		return nil
	}); err != nil {
		return err
	}
	return m.store.Iterate(executionPrefix(), func(_, value []byte) error {
		var ex Execution
		if err := json.Unmarshal(value, &ex); err != nil {
			return nil
		}
		m.execs[ex.IntentID] = &ex
		return nil
	})
}

func (m *Manager) Close() error {
	return m.store.Close()
}

// BindCoordinator permanently binds the settlement coordinator allowed to
// record executions. Second call fails with authz.ErrAlreadyInitialized.
func (m *Manager) BindCoordinator(coordinator common.Address) error {
	return m.coord.Bind(coordinator)
}

// Create records a Pending intent. The deadline is enforced at creation:
// an already-passed deadline fails with ErrDeadlineExpired.
func (m *Manager) Create(p CreateParams) (common.Hash, error) {
	if p.Deadline > 0 && m.clock.Now().Unix() >= p.Deadline {
		return common.Hash{}, ErrDeadlineExpired
	}

	id := DeriveID(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.intents[id]; exists {
		return common.Hash{}, ErrAlreadyExists
	}

	it := &Intent{
		ID:              id,
		Owner:           p.Owner,
		Market:          p.Market,
		ZeroForOne:      p.ZeroForOne,
		Deadline:        p.Deadline,
		EncAmountIn:     p.EncAmountIn,
		EncMinAmountOut: p.EncMinAmountOut,
		Status:          StatusPending,
		CreatedAt:       m.clock.Now().UnixMilli(),
	}
	if err := m.store.Put(intentKey(id), it); err != nil {
		return common.Hash{}, err
	}
	m.intents[id] = it
	m.byOwner[p.Owner] = append(m.byOwner[p.Owner], id)
	return id, nil
}

// RecordExecution stores the encrypted realized output for a Pending intent
// and transitions it to Executed. Coordinator-only, post-trade.
func (m *Manager) RecordExecution(id common.Hash, encOutput fhe.Handle, checkpoint uint64, caller common.Address) error {
	if err := m.coord.Require(caller); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.intents[id]
	if !ok {
		return ErrSwapNotFound
	}
	if it.Status != StatusPending {
		return ErrAlreadyExecuted
	}

	ex := &Execution{
		IntentID:   id,
		EncOutput:  encOutput,
		Checkpoint: checkpoint,
		RecordedAt: m.clock.Now().UnixMilli(),
	}
	updated := *it
	updated.Status = StatusExecuted

	batch := m.store.NewBatch()
	defer batch.Close()
	if err := batch.Put(executionKey(id), ex); err != nil {
		return err
	}
	if err := batch.Put(intentKey(id), &updated); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("intent: record execution commit: %w", err)
	}

	m.execs[id] = ex
	*it = updated
	return nil
}

// Claim reseals the recorded output for recipientPub and transitions the
// intent to Claimed. Owner-only, at most once: resealing twice would hand an
// observer two distinct encryptions of the same value, so a second claim
// fails with ErrSwapNotExecuted and the client must cache the sealed result.
func (m *Manager) Claim(id common.Hash, recipientPub []byte, caller common.Address) ([]byte, error) {
	m.mu.Lock()
	if m.claiming[id] {
		m.mu.Unlock()
		return nil, ErrReentrantCall
	}

	it, ok := m.intents[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSwapNotFound
	}
	if it.Owner != caller {
		m.mu.Unlock()
		return nil, ErrNotOwner
	}
	if it.Status != StatusExecuted {
		m.mu.Unlock()
		return nil, ErrSwapNotExecuted
	}
	ex, ok := m.execs[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSwapNotExecuted
	}

	// Hold the claim guard, not the mutex, across the reseal: the backend
	// call may reenter.
	m.claiming[id] = true
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		delete(m.claiming, id)
		m.mu.Unlock()
	}

	sealed, err := m.backend.Reseal(ex.EncOutput, recipientPub)
	if err != nil {
		release()
		return nil, fmt.Errorf("intent: reseal output: %w", err)
	}

	m.mu.Lock()
	updated := *it
	updated.Status = StatusClaimed
	if err := m.store.Put(intentKey(id), &updated); err != nil {
		m.mu.Unlock()
		release()
		return nil, err
	}
	*it = updated
	m.mu.Unlock()
	release()

	m.bus.Publish(events.TypeOutputClaimed, events.OutputClaimed{
		IntentID: id.Hex(),
		Owner:    caller.Hex(),
	})
	return sealed, nil
}

// Get returns a copy of one intent.
func (m *Manager) Get(id common.Hash) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.intents[id]
	if !ok {
		return nil, ErrSwapNotFound
	}
	cp := *it
	return &cp, nil
}

// IntentsByOwner returns copies of all intents submitted by owner.
func (m *Manager) IntentsByOwner(owner common.Address) []*Intent {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byOwner[owner]
	out := make([]*Intent, 0, len(ids))
	for _, id := range ids {
		if it, ok := m.intents[id]; ok {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out
}
