package intent

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xveil/veilswap/pkg/fhe"
)

var (
	// ErrAlreadyExists means the derived intent identifier collided with an
	// existing record.
	ErrAlreadyExists = errors.New("intent: already exists")
	// ErrDeadlineExpired means the intent's deadline had already passed at
	// creation time.
	ErrDeadlineExpired = errors.New("intent: deadline expired")
	// ErrSwapNotFound means no intent exists under the identifier.
	ErrSwapNotFound = errors.New("intent: swap not found")
	// ErrAlreadyExecuted means an execution was already recorded.
	ErrAlreadyExecuted = errors.New("intent: swap already executed")
	// ErrSwapNotExecuted means the intent has no recorded execution to claim.
	ErrSwapNotExecuted = errors.New("intent: swap not executed")
	// ErrNotOwner means the claimer is not the intent owner.
	ErrNotOwner = errors.New("intent: caller is not the owner")
	// ErrReentrantCall means the claim guard was tripped by a nested claim
	// on the same intent.
	ErrReentrantCall = errors.New("intent: reentrant claim")
)

// Status is the lifecycle state of an intent
type Status int8

const (
	StatusPending Status = iota
	StatusExecuted
	StatusClaimed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusExecuted:
		return "executed"
	case StatusClaimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// Intent is the pre-trade half of the intent/execution split: the encrypted
// request. Its identifier is content-derived (keccak over the creation
// parameters), so resubmitting identical parameters collides.
type Intent struct {
	ID         common.Hash    `json:"id"`
	Owner      common.Address `json:"owner"`
	Market     string         `json:"market"`
	ZeroForOne bool           `json:"zeroForOne"`
	Deadline   int64          `json:"deadline"` // Unix seconds

	EncAmountIn     fhe.Handle `json:"encAmountIn"`
	EncMinAmountOut fhe.Handle `json:"encMinAmountOut"`

	Status    Status `json:"status"`
	CreatedAt int64  `json:"createdAt"` // Unix milliseconds
}

// Execution is the post-trade half: the encrypted realized output. It is
// stored under its own key so reading a claim never touches the intent's
// amount-in/min-out ciphertexts. An Execution exists iff the intent status
// is Executed or Claimed.
type Execution struct {
	IntentID   common.Hash `json:"intentId"`
	EncOutput  fhe.Handle  `json:"encOutput"`
	Checkpoint uint64      `json:"checkpoint"` // Venue execution sequence
	RecordedAt int64       `json:"recordedAt"` // Unix milliseconds
}
