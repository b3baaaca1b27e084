// Package ledger holds per-identity, per-asset ciphertext balances. The core
// never reads a balance in plaintext: balances are combined homomorphically
// and compared through encrypted predicates whose boolean result gates the
// mutation without revealing the operands.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xveil/veilswap/pkg/app/core/authz"
	"github.com/0xveil/veilswap/pkg/fhe"
	"github.com/0xveil/veilswap/pkg/storage"
)

// ErrInsufficientEncryptedBalance means the encrypted predicate
// "balance >= amount" evaluated false. The comparison reveals nothing about
// either operand beyond that single bit.
var ErrInsufficientEncryptedBalance = errors.New("ledger: insufficient encrypted balance")

type balanceKeyMem struct {
	Owner common.Address
	Asset string
}

// record is the persisted form of one balance entry.
type record struct {
	Owner     common.Address `json:"owner"`
	Asset     string         `json:"asset"`
	Handle    fhe.Handle     `json:"handle"`
	UpdatedAt int64          `json:"updatedAt"`
}

// Ledger is the confidential balance store. Every public entry point is an
// indivisible unit: gates are evaluated before any mutation, and multi-record
// mutations (debit+credit) commit through one storage batch.
type Ledger struct {
	mu       sync.Mutex
	balances map[balanceKeyMem]fhe.Handle
	store    *storage.Store
	backend  fhe.Backend
	coord    authz.Binder
}

// New opens the ledger at dbPath and loads all persisted balance handles.
func New(dbPath string, backend fhe.Backend) (*Ledger, error) {
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("ledger: open store: %w", err)
	}

	l := &Ledger{
		balances: make(map[balanceKeyMem]fhe.Handle),
		store:    store,
		backend:  backend,
	}
	if err := l.loadAll(); err != nil {
		store.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) loadAll() error {
	return l.store.Iterate(balancePrefix(), func(_, value []byte) error {
		var rec record
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil // Skip invalid entries
		}
		l.balances[balanceKeyMem{rec.Owner, rec.Asset}] = rec.Handle
		return nil
	})
}

func (l *Ledger) Close() error {
	return l.store.Close()
}

// BindCoordinator permanently binds the settlement coordinator allowed to
// call DebitCredit. Second call fails with authz.ErrAlreadyInitialized.
func (l *Ledger) BindCoordinator(coordinator common.Address) error {
	return l.coord.Bind(coordinator)
}

// balanceLocked returns the ciphertext balance for (owner, asset), issuing an
// encrypted zero for identities that have never touched the asset.
func (l *Ledger) balanceLocked(owner common.Address, asset string) (fhe.Handle, error) {
	k := balanceKeyMem{owner, asset}
	if h, ok := l.balances[k]; ok {
		return h, nil
	}
	zero, err := l.backend.Encrypt(0)
	if err != nil {
		return fhe.Handle{}, fmt.Errorf("ledger: encrypt zero: %w", err)
	}
	l.balances[k] = zero
	return zero, nil
}

func (l *Ledger) persistLocked(b *storage.Batch, owner common.Address, asset string, h fhe.Handle) error {
	return b.Put(balanceKey(owner, asset), record{
		Owner:     owner,
		Asset:     asset,
		Handle:    h,
		UpdatedAt: time.Now().UnixMilli(),
	})
}

// Deposit homomorphically adds encAmount to the owner's balance.
// No predicate: deposits only increase the balance.
func (l *Ledger) Deposit(owner common.Address, asset string, encAmount fhe.Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, err := l.balanceLocked(owner, asset)
	if err != nil {
		return err
	}
	next, err := l.backend.Add(bal, encAmount)
	if err != nil {
		return fmt.Errorf("ledger: deposit add: %w", err)
	}

	batch := l.store.NewBatch()
	defer batch.Close()
	if err := l.persistLocked(batch, owner, asset, next); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("ledger: deposit commit: %w", err)
	}

	l.balances[balanceKeyMem{owner, asset}] = next
	return nil
}

// Withdraw gates on the encrypted predicate balance >= encAmount and then
// homomorphically subtracts. A false predicate fails the whole call with
// ErrInsufficientEncryptedBalance and mutates nothing.
func (l *Ledger) Withdraw(owner common.Address, asset string, encAmount fhe.Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, err := l.balanceLocked(owner, asset)
	if err != nil {
		return err
	}
	if err := l.requireGteLocked(bal, encAmount); err != nil {
		return err
	}
	next, err := l.backend.Sub(bal, encAmount)
	if err != nil {
		return fmt.Errorf("ledger: withdraw sub: %w", err)
	}

	batch := l.store.NewBatch()
	defer batch.Close()
	if err := l.persistLocked(batch, owner, asset, next); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("ledger: withdraw commit: %w", err)
	}

	l.balances[balanceKeyMem{owner, asset}] = next
	return nil
}

// RequireSufficient evaluates balance >= encAmount without mutating anything.
// Order creation uses it to gate deposit-backed intents.
func (l *Ledger) RequireSufficient(owner common.Address, asset string, encAmount fhe.Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, err := l.balanceLocked(owner, asset)
	if err != nil {
		return err
	}
	return l.requireGteLocked(bal, encAmount)
}

func (l *Ledger) requireGteLocked(bal, encAmount fhe.Handle) error {
	ok, err := l.backend.Gte(bal, encAmount)
	if err != nil {
		return fmt.Errorf("ledger: balance compare: %w", err)
	}
	if err := l.backend.RequireTrue(ok); err != nil {
		if errors.Is(err, fhe.ErrPredicateFalse) {
			return ErrInsufficientEncryptedBalance
		}
		return fmt.Errorf("ledger: balance gate: %w", err)
	}
	return nil
}

// DebitCredit atomically subtracts encAmountIn from (owner, assetIn) and adds
// encAmountOut to (owner, assetOut). Coordinator-only; the order-level
// slippage gate has already passed by the time this runs. If the credit
// cannot be formed, the debit is not applied either.
func (l *Ledger) DebitCredit(owner common.Address, assetIn string, encAmountIn fhe.Handle, assetOut string, encAmountOut fhe.Handle, caller common.Address) error {
	if err := l.coord.Require(caller); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balIn, err := l.balanceLocked(owner, assetIn)
	if err != nil {
		return err
	}
	balOut, err := l.balanceLocked(owner, assetOut)
	if err != nil {
		return err
	}
	if err := l.requireGteLocked(balIn, encAmountIn); err != nil {
		return err
	}
	nextIn, err := l.backend.Sub(balIn, encAmountIn)
	if err != nil {
		return fmt.Errorf("ledger: debit: %w", err)
	}
	nextOut, err := l.backend.Add(balOut, encAmountOut)
	if err != nil {
		return fmt.Errorf("ledger: credit: %w", err)
	}

	batch := l.store.NewBatch()
	defer batch.Close()
	if err := l.persistLocked(batch, owner, assetIn, nextIn); err != nil {
		return err
	}
	if err := l.persistLocked(batch, owner, assetOut, nextOut); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("ledger: debit/credit commit: %w", err)
	}

	l.balances[balanceKeyMem{owner, assetIn}] = nextIn
	l.balances[balanceKeyMem{owner, assetOut}] = nextOut
	return nil
}

// SealBalance re-encrypts the caller's own balance for recipientPub. No one
// else, the coordinator included, may read another party's balance in any
// form, so caller must equal owner.
func (l *Ledger) SealBalance(owner common.Address, asset string, recipientPub []byte, caller common.Address) ([]byte, error) {
	if caller != owner {
		return nil, authz.ErrUnauthorized
	}

	l.mu.Lock()
	bal, err := l.balanceLocked(owner, asset)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sealed, err := l.backend.Reseal(bal, recipientPub)
	if err != nil {
		return nil, fmt.Errorf("ledger: seal balance: %w", err)
	}
	return sealed, nil
}

// BalanceHandle returns the raw ciphertext handle for (owner, asset).
// The handle itself reveals nothing; the settlement path uses it.
func (l *Ledger) BalanceHandle(owner common.Address, asset string) (fhe.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(owner, asset)
}
