package intent

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Intents and executions live under separate prefixes so
// a claim scan never deserializes intent ciphertexts.
const (
	prefixIntent    = "int:"
	prefixExecution = "exe:"
)

// intentKey returns the key for one intent record.
// Format: "int:{id hex}"
func intentKey(id common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixIntent, id.Hex()))
}

func intentPrefix() []byte {
	return []byte(prefixIntent)
}

// executionKey returns the key for one execution record.
// Format: "exe:{intent id hex}"
func executionKey(id common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixExecution, id.Hex()))
}

func executionPrefix() []byte {
	return []byte(prefixExecution)
}
