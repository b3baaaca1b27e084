package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema.
// Balances are keyed per (owner, asset) so one owner's assets share a prefix
// and can be range-scanned together.
const prefixBalance = "bal:"

// balanceKey returns the key for one ciphertext balance.
// Format: "bal:{address}:{asset}"
func balanceKey(owner common.Address, asset string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, owner.Hex(), asset))
}

// balancePrefix covers every balance record.
func balancePrefix() []byte {
	return []byte(prefixBalance)
}
