// seal-order is a client-side walkthrough of the confidential order flow:
// generate signing and sealing keys, encrypt amounts into ciphertext handles,
// sign an order submission, and round-trip a sealed value.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/0xveil/veilswap/pkg/crypto"
	"github.com/0xveil/veilswap/pkg/fhe"
)

func main() {
	// Step 1: Generate signing key
	fmt.Println("Generating new keypair...")
	signer, err := crypto.GenerateKey()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	// Step 2: Generate HPKE sealing keypair (for claims and sealed balances)
	sealPub, sealPriv, err := fhe.GenerateRecipientKey()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sealing public key:  %s\n", hexutil.Encode(sealPub))
	fmt.Printf("Sealing private key: %s (KEEP SECRET!)\n\n", hexutil.Encode(sealPriv))

	// Step 3: Encrypt order amounts
	backend, err := fhe.NewDevBackend()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	amountIn, minOut := uint64(1_000_000), uint64(950_000)
	encIn, _ := backend.Encrypt(amountIn)
	encMin, _ := backend.Encrypt(minOut)

	fmt.Println("Order Details:")
	fmt.Printf("  Market: WETH-USDC\n")
	fmt.Printf("  Amount In:  %d -> %s\n", amountIn, encIn.Hex())
	fmt.Printf("  Min Out:    %d -> %s\n\n", minOut, encMin.Hex())

	// Step 4: Sign the order submission request
	body, _ := json.Marshal(map[string]any{
		"market":          "WETH-USDC",
		"assetIn":         "WETH",
		"assetOut":        "USDC",
		"encAmountIn":     encIn.Hex(),
		"encMinAmountOut": encMin.Hex(),
	})
	sig, err := signer.Sign(crypto.RequestHash("POST", "/api/v1/orders", body))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Request body: %s\n", body)
	fmt.Printf("X-Signature:  %s\n\n", hexutil.Encode(sig))

	// Step 5: Demonstrate seal/unseal round-trip
	sealed, err := backend.Reseal(encIn, sealPub)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	opened, err := fhe.Unseal(sealPriv, sealed)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sealed amount-in: %s\n", hexutil.Encode(sealed))
	fmt.Printf("Unsealed:         %d (matches: %v)\n", opened, opened == amountIn)
}
