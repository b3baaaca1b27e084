package authz

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	coordinator = common.HexToAddress("0xC000000000000000000000000000000000000000")
	intruder    = common.HexToAddress("0xBAD0000000000000000000000000000000000000")
)

func TestBindOnce(t *testing.T) {
	var b Binder

	if err := b.Bind(coordinator); err != nil {
		t.Fatalf("first bind failed: %v", err)
	}
	if err := b.Bind(coordinator); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second bind should fail with ErrAlreadyInitialized, got %v", err)
	}
	if err := b.Bind(intruder); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("rebind to another address should fail with ErrAlreadyInitialized, got %v", err)
	}

	bound, ok := b.Bound()
	if !ok || bound != coordinator {
		t.Errorf("bound = %s, %v; want %s, true", bound.Hex(), ok, coordinator.Hex())
	}
}

func TestRequire(t *testing.T) {
	var b Binder

	// Unbound authorizes no one
	if err := b.Require(coordinator); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("unbound binder should reject everyone, got %v", err)
	}

	b.Bind(coordinator)
	if err := b.Require(coordinator); err != nil {
		t.Errorf("bound coordinator rejected: %v", err)
	}
	if err := b.Require(intruder); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("intruder should fail with ErrUnauthorized, got %v", err)
	}
}
