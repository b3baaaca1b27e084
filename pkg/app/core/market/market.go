package market

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a market
type Status int8

const (
	Active Status = iota
	Paused
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Market is the trading-pair context an order settles against.
// Asset0/Asset1 follow the venue's canonical ordering; trade direction is
// expressed as zeroForOne (sell asset0 for asset1) in the hook callbacks.
type Market struct {
	Symbol    string // e.g. "WETH-USDC"
	Asset0    string // e.g. "WETH"
	Asset1    string // e.g. "USDC"
	Status    Status
	CreatedAt int64 // Unix milliseconds
}

// New creates an active market for the given pair
func New(symbol, asset0, asset1 string) (*Market, error) {
	if symbol == "" {
		return nil, fmt.Errorf("market symbol cannot be empty")
	}
	if asset0 == "" || asset1 == "" {
		return nil, fmt.Errorf("market %s: both assets are required", symbol)
	}
	if asset0 == asset1 {
		return nil, fmt.Errorf("market %s: assets must differ, got %s twice", symbol, asset0)
	}
	return &Market{
		Symbol:    symbol,
		Asset0:    asset0,
		Asset1:    asset1,
		Status:    Active,
		CreatedAt: time.Now().UnixMilli(),
	}, nil
}

// AssetsFor maps a trade direction to its (in, out) asset pair
func (m *Market) AssetsFor(zeroForOne bool) (assetIn, assetOut string) {
	if zeroForOne {
		return m.Asset0, m.Asset1
	}
	return m.Asset1, m.Asset0
}

// HasPair reports whether (assetIn, assetOut) is one of the market's two
// trade directions
func (m *Market) HasPair(assetIn, assetOut string) bool {
	return (assetIn == m.Asset0 && assetOut == m.Asset1) ||
		(assetIn == m.Asset1 && assetOut == m.Asset0)
}

func (m *Market) IsActive() bool {
	return m.Status == Active
}
