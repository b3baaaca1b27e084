package order

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xveil/veilswap/pkg/fhe"
)

var (
	// ErrNotFound means no order exists under the identifier.
	ErrNotFound = errors.New("order: not found")
	// ErrUnauthorized means the caller does not own the order.
	ErrUnauthorized = errors.New("order: caller is not the owner")
	// ErrNotPending means the order already left the Pending state.
	// Terminal states are immutable.
	ErrNotPending = errors.New("order: not pending")
	// ErrUnknownMarket means the order references an unregistered or
	// paused market.
	ErrUnknownMarket = errors.New("order: unknown or inactive market")
	// ErrAssetMismatch means (assetIn, assetOut) is not a trade direction
	// of the referenced market.
	ErrAssetMismatch = errors.New("order: assets do not match market pair")
	// ErrSlippageExceeded means the encrypted predicate
	// "realizedOutput >= minAmountOut" evaluated false at settlement.
	ErrSlippageExceeded = errors.New("order: slippage exceeded")
)

// Status is the lifecycle state of an order
type Status int8

const (
	StatusPending Status = iota
	StatusExecuted
	StatusCancelled
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusExecuted:
		return "executed"
	case StatusCancelled:
		return "cancelled"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Order is one confidential trade intent. Amount-in and min-amount-out exist
// only as ciphertext handles; everything else is non-sensitive.
type Order struct {
	ID       uint64         `json:"id"` // Monotonic, assigned once, never reused
	Owner    common.Address `json:"owner"`
	Market   string         `json:"market"`
	AssetIn  string         `json:"assetIn"`
	AssetOut string         `json:"assetOut"`

	EncAmountIn     fhe.Handle `json:"encAmountIn"`
	EncMinAmountOut fhe.Handle `json:"encMinAmountOut"`

	// Deadline is a plaintext Unix-seconds timestamp, 0 = no expiry.
	// Kept in cleartext so Expired is actually reachable.
	Deadline int64 `json:"deadline,omitempty"`

	Status Status `json:"status"`

	CreatedAt  int64 `json:"createdAt"`            // Unix milliseconds
	ExecutedAt int64 `json:"executedAt,omitempty"` // Unix milliseconds
}

// IsActive reports whether the order can still be validated and settled
func (o *Order) IsActive() bool {
	return o.Status == StatusPending
}

// IsTerminal reports whether the order reached an immutable state
func (o *Order) IsTerminal() bool {
	return o.Status != StatusPending
}
