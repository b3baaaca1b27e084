// Package authz implements the one-time, irreversible binding between a
// privileged component (order manager, ledger, intent manager) and the single
// settlement coordinator allowed to call its privileged operations.
package authz

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrAlreadyInitialized means a second bind attempt on a binder that is
	// already permanently bound.
	ErrAlreadyInitialized = errors.New("authz: coordinator already initialized")

	// ErrUnauthorized means the caller is not the bound coordinator.
	ErrUnauthorized = errors.New("authz: unauthorized caller")
)

// Binder holds the bound coordinator identity. The zero value is unbound.
type Binder struct {
	mu          sync.Mutex
	coordinator common.Address
	bound       bool
}

// Bind sets the coordinator identity. Succeeds at most once per Binder;
// every later call fails with ErrAlreadyInitialized regardless of address.
func (b *Binder) Bind(coordinator common.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bound {
		return ErrAlreadyInitialized
	}
	b.coordinator = coordinator
	b.bound = true
	return nil
}

// Require returns nil iff caller is the bound coordinator.
// An unbound binder authorizes no one.
func (b *Binder) Require(caller common.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.bound || caller != b.coordinator {
		return ErrUnauthorized
	}
	return nil
}

// Bound reports the bound identity, if any.
func (b *Binder) Bound() (common.Address, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.coordinator, b.bound
}
