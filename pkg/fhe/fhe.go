// Package fhe defines the boundary between the order/ledger core and the
// encrypted-computation backend. The core never sees plaintext amounts: it
// holds opaque ciphertext handles and combines them through a Backend, which
// performs homomorphic arithmetic, encrypted comparisons, and resealing for a
// recipient public key.
package fhe

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// Handle is an opaque reference to an encrypted 64-bit value. Only the
// backend that issued a handle can operate on it; to everyone else it is
// 32 inert bytes.
type Handle common.Hash

func (h Handle) Hex() string { return common.Hash(h).Hex() }

func (h Handle) IsZero() bool { return h == Handle{} }

func (h Handle) MarshalText() ([]byte, error) {
	return common.Hash(h).MarshalText()
}

func (h *Handle) UnmarshalText(b []byte) error {
	return (*common.Hash)(h).UnmarshalText(b)
}

// EncBool is an opaque reference to an encrypted boolean, produced by a
// ciphertext comparison. Its value is observable only through RequireTrue.
type EncBool common.Hash

func (b EncBool) Hex() string { return common.Hash(b).Hex() }

var (
	// ErrUnknownHandle means a handle was not issued by this backend.
	ErrUnknownHandle = errors.New("fhe: unknown ciphertext handle")
	// ErrPredicateFalse is returned by RequireTrue when the encrypted
	// predicate evaluated to false. Callers wrap it with a domain error.
	ErrPredicateFalse = errors.New("fhe: encrypted predicate is false")
	// ErrBadRecipientKey means a reseal target key could not be parsed.
	ErrBadRecipientKey = errors.New("fhe: invalid recipient public key")
)

// Backend is the capability surface the core requires from the encrypted
// coprocessor. All operations are side-effect-free except RequireTrue, which
// aborts the enclosing operation by returning ErrPredicateFalse.
type Backend interface {
	// Encrypt issues a fresh handle for a plaintext value. Used at trusted
	// ingress points only (venue-reported outputs, zero balances).
	Encrypt(value uint64) (Handle, error)

	// Add returns a handle for a+b. Arithmetic wraps modulo 2^64, matching
	// ciphertext arithmetic semantics.
	Add(a, b Handle) (Handle, error)

	// Sub returns a handle for a-b.
	Sub(a, b Handle) (Handle, error)

	// Gte returns an encrypted boolean for a >= b.
	Gte(a, b Handle) (EncBool, error)

	// Lte returns an encrypted boolean for a <= b.
	Lte(a, b Handle) (EncBool, error)

	// RequireTrue returns nil if the encrypted boolean is true and
	// ErrPredicateFalse otherwise, without revealing the compared operands.
	RequireTrue(b EncBool) error

	// Reseal re-encrypts the value behind a handle for the holder of the
	// matching private key, so only that party can decrypt it.
	Reseal(h Handle, recipientPub []byte) ([]byte, error)
}
