package crypto

import (
	"golang.org/x/crypto/sha3"

	"github.com/ethereum/go-ethereum/common"
)

// Domain separator for API request signatures. Keeps request signatures from
// colliding with any other message the same key might sign.
var requestDomain = []byte("veilswap-api-v1:")

// RequestHash computes the keccak digest a client signs to authenticate an
// API call: keccak256(domain || method || path || body).
func RequestHash(method, path string, body []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(requestDomain)
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return h.Sum(nil)
}

// RecoverRequestSigner recovers the address that signed an API request.
func RecoverRequestSigner(method, path string, body, signature []byte) (common.Address, error) {
	return RecoverAddress(RequestHash(method, path, body), signature)
}
