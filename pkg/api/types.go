package api

// Request/response types for REST endpoints and WebSocket messages.
// Amount-bearing fields are hex-encoded ciphertext handles or sealed blobs;
// only identifiers, statuses, and timestamps travel in plaintext.

// ==============================
// REST Request Types
// ==============================

// SubmitOrderRequest opens a confidential order. The two enc* fields are
// ciphertext handles previously issued by the encryption backend.
type SubmitOrderRequest struct {
	Market          string `json:"market"`
	AssetIn         string `json:"assetIn"`
	AssetOut        string `json:"assetOut"`
	EncAmountIn     string `json:"encAmountIn"`
	EncMinAmountOut string `json:"encMinAmountOut"`
	Deadline        int64  `json:"deadline,omitempty"` // Unix seconds, 0 = none
}

// SubmitIntentRequest records a claimable intent.
type SubmitIntentRequest struct {
	Market          string `json:"market"`
	ZeroForOne      bool   `json:"zeroForOne"`
	Deadline        int64  `json:"deadline"` // Unix seconds
	Nonce           uint64 `json:"nonce"`
	EncAmountIn     string `json:"encAmountIn"`
	EncMinAmountOut string `json:"encMinAmountOut"`
}

// MoveFundsRequest covers deposits and withdrawals of one encrypted amount.
type MoveFundsRequest struct {
	Asset     string `json:"asset"`
	EncAmount string `json:"encAmount"`
}

// SealRequest asks for the caller's balance sealed to a recipient key.
type SealRequest struct {
	Asset        string `json:"asset"`
	RecipientPub string `json:"recipientPub"` // hex-encoded HPKE public key
}

// ClaimRequest claims an executed intent's sealed output.
type ClaimRequest struct {
	RecipientPub string `json:"recipientPub"` // hex-encoded HPKE public key
}

// EncryptRequest is the devnet ingress for producing ciphertext handles.
type EncryptRequest struct {
	Value uint64 `json:"value"`
}

// ==============================
// REST Response Types
// ==============================

type MarketInfo struct {
	Symbol    string `json:"symbol"`
	Asset0    string `json:"asset0"`
	Asset1    string `json:"asset1"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

// OrderInfo is the non-sensitive view of an order plus its opaque handles.
type OrderInfo struct {
	ID              uint64 `json:"id"`
	Owner           string `json:"owner"`
	Market          string `json:"market"`
	AssetIn         string `json:"assetIn"`
	AssetOut        string `json:"assetOut"`
	EncAmountIn     string `json:"encAmountIn"`
	EncMinAmountOut string `json:"encMinAmountOut"`
	Deadline        int64  `json:"deadline,omitempty"`
	Status          string `json:"status"`
	CreatedAt       int64  `json:"createdAt"`
	ExecutedAt      int64  `json:"executedAt,omitempty"`
}

type IntentInfo struct {
	ID         string `json:"id"`
	Owner      string `json:"owner"`
	Market     string `json:"market"`
	ZeroForOne bool   `json:"zeroForOne"`
	Deadline   int64  `json:"deadline"`
	Status     string `json:"status"`
	CreatedAt  int64  `json:"createdAt"`
}

type SubmitOrderResponse struct {
	OrderID uint64 `json:"orderId"`
}

type SubmitIntentResponse struct {
	IntentID string `json:"intentId"`
}

type SealedResponse struct {
	Sealed string `json:"sealed"` // hex-encoded HPKE ciphertext
}

type EncryptResponse struct {
	Handle string `json:"handle"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type ActiveResponse struct {
	Active bool `json:"active"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ==============================
// WebSocket Types
// ==============================

// WSSubscribeRequest subscribes a client to event channels. Channel names
// are event types ("order_created", "settlement_result", "output_claimed").
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}
