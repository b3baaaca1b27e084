// Package venue provides a simulated execution venue for tests and the
// devnet. It drives the hook's two-callback protocol the way a real venue
// would: BeforeSwap, execute at the configured price, AfterSwap with the
// sign-qualified balance delta.
package venue

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/0xveil/veilswap/pkg/app/core/hook"
)

// SimVenue executes trades at a fixed per-market price with a flat fee.
// Prices are quoted as asset1 per asset0.
type SimVenue struct {
	addr common.Address
	hook *hook.SettlementHook

	mu     sync.Mutex
	prices map[string]decimal.Decimal
	feeBps int64
}

func NewSim(addr common.Address, h *hook.SettlementHook, feeBps int64) *SimVenue {
	return &SimVenue{
		addr:   addr,
		hook:   h,
		prices: make(map[string]decimal.Decimal),
		feeBps: feeBps,
	}
}

func (v *SimVenue) Address() common.Address {
	return v.addr
}

// SetPrice sets the asset1-per-asset0 price for a market.
func (v *SimVenue) SetPrice(marketID string, price decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[marketID] = price
}

// quote computes the post-fee output for amountIn in the given direction.
func (v *SimVenue) quote(marketID string, zeroForOne bool, amountIn uint64) (int64, error) {
	v.mu.Lock()
	price, ok := v.prices[marketID]
	fee := v.feeBps
	v.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("venue: no price for market %s", marketID)
	}

	in := decimal.NewFromUint64(amountIn)
	var out decimal.Decimal
	if zeroForOne {
		out = in.Mul(price)
	} else {
		out = in.Div(price)
	}
	feeMul := decimal.NewFromInt(10000 - fee).Div(decimal.NewFromInt(10000))
	out = out.Mul(feeMul).Floor()
	if !out.IsPositive() {
		return 0, fmt.Errorf("venue: output rounds to zero for %d in", amountIn)
	}
	return out.IntPart(), nil
}

// ExecuteSwap runs one trade end to end: pre-trade callback, execution,
// post-trade callback. A pre-trade failure aborts before any execution; a
// post-trade failure is returned after the venue-side trade is already done,
// mirroring a real venue's unwind semantics.
func (v *SimVenue) ExecuteSwap(sender common.Address, marketID string, zeroForOne bool, amountIn uint64, orderRef []byte) (uint64, error) {
	if err := v.hook.BeforeSwap(v.addr, sender, marketID, zeroForOne, orderRef); err != nil {
		return 0, fmt.Errorf("venue: pre-trade rejected: %w", err)
	}

	out, err := v.quote(marketID, zeroForOne, amountIn)
	if err != nil {
		return 0, err
	}

	delta := hook.BalanceDelta{}
	if zeroForOne {
		delta.Amount0 = -int64(amountIn)
		delta.Amount1 = out
	} else {
		delta.Amount1 = -int64(amountIn)
		delta.Amount0 = out
	}

	if err := v.hook.AfterSwap(v.addr, sender, marketID, zeroForOne, delta, orderRef); err != nil {
		return 0, fmt.Errorf("venue: post-trade failed: %w", err)
	}
	return uint64(out), nil
}
