package order

import "fmt"

// Pebble key schema.
// Orders are keyed by zero-padded ID so iteration yields creation order;
// the sequence counter lives under its own key for restart recovery.
const (
	prefixOrder = "ord:"
	keySequence = "seq:order"
)

// orderKey returns the key for one order record.
// Format: "ord:{id padded to 20 digits}"
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func orderPrefix() []byte {
	return []byte(prefixOrder)
}

func sequenceKey() []byte {
	return []byte(keySequence)
}
