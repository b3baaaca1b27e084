package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/0xveil/veilswap/pkg/app/core"
	"github.com/0xveil/veilswap/pkg/app/core/authz"
	"github.com/0xveil/veilswap/pkg/app/core/intent"
	"github.com/0xveil/veilswap/pkg/app/core/ledger"
	"github.com/0xveil/veilswap/pkg/app/core/order"
	"github.com/0xveil/veilswap/pkg/crypto"
	"github.com/0xveil/veilswap/pkg/fhe"
)

// Signature header for authenticated calls: hex-encoded 65-byte ECDSA
// signature over crypto.RequestHash(method, path, body).
const headerSignature = "X-Signature"

// Server exposes the user-facing surface over REST and WebSocket. Every
// amount crossing this boundary is an opaque ciphertext handle or a sealed
// blob; the server itself never sees a plaintext balance or order size.
type Server struct {
	node   *core.Node
	router *mux.Router
	hub    *Hub
}

// NewServer creates an API server for the given node.
func NewServer(node *core.Node) *Server {
	s := &Server{
		node:   node,
		router: mux.NewRouter(),
		hub:    NewHub(node.Bus.Subscribe()),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")

	// Order endpoints
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/count", s.handleOrderCount).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/active", s.handleOrderActive).Methods("GET")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")

	// Intent endpoints
	api.HandleFunc("/intents", s.handleSubmitIntent).Methods("POST")
	api.HandleFunc("/intents/{id}", s.handleGetIntent).Methods("GET")
	api.HandleFunc("/intents/{id}/claim", s.handleClaim).Methods("POST")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/intents", s.handleGetIntents).Methods("GET")

	// Ledger endpoints
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/balances/seal", s.handleSealBalance).Methods("POST")

	// Devnet ingress for producing ciphertext handles
	api.HandleFunc("/encrypt", s.handleEncrypt).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.hub.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", headerSignature},
		AllowCredentials: true,
	})

	handler := c.Handler(s.router)

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// Request authentication
// ==============================

// authenticate reads the body and recovers the caller address from the
// signature header. The recovered address is the caller identity for
// ownership checks downstream.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, into any) (common.Address, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body", err.Error())
		return common.Address{}, false
	}

	sigHex := r.Header.Get(headerSignature)
	if sigHex == "" {
		respondError(w, http.StatusUnauthorized, "missing signature", "")
		return common.Address{}, false
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed signature", err.Error())
		return common.Address{}, false
	}

	caller, err := crypto.RecoverRequestSigner(r.Method, r.URL.Path, body, sig)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid signature", err.Error())
		return common.Address{}, false
	}

	if into != nil {
		if err := json.Unmarshal(body, into); err != nil {
			respondError(w, http.StatusBadRequest, "malformed request", err.Error())
			return common.Address{}, false
		}
	}
	return caller, true
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, _ *http.Request) {
	markets := s.node.Markets.List()
	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = MarketInfo{
			Symbol:    m.Symbol,
			Asset0:    m.Asset0,
			Asset1:    m.Asset1,
			Status:    m.Status.String(),
			CreatedAt: m.CreatedAt,
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	caller, ok := s.authenticate(w, r, &req)
	if !ok {
		return
	}

	encIn, err1 := parseHandle(req.EncAmountIn)
	encMin, err2 := parseHandle(req.EncMinAmountOut)
	if err1 != nil || err2 != nil {
		respondError(w, http.StatusBadRequest, "malformed ciphertext handle", "")
		return
	}

	id, err := s.node.Orders.Create(order.CreateParams{
		Owner:           caller,
		Market:          req.Market,
		AssetIn:         req.AssetIn,
		AssetOut:        req.AssetOut,
		EncAmountIn:     encIn,
		EncMinAmountOut: encMin,
		Deadline:        req.Deadline,
	})
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, SubmitOrderResponse{OrderID: id})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r, nil)
	if !ok {
		return
	}
	id, err := parseOrderID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad order id", err.Error())
		return
	}
	if err := s.node.Orders.Cancel(id, caller); err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "cancelled"})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad order id", err.Error())
		return
	}
	o, err := s.node.Orders.Get(id)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleOrderActive(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad order id", err.Error())
		return
	}
	respondJSON(w, ActiveResponse{Active: s.node.Orders.IsActive(id)})
}

func (s *Server) handleOrderCount(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, CountResponse{Count: s.node.Orders.Count()})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	addr := common.HexToAddress(mux.Vars(r)["address"])
	orders := s.node.Orders.OrdersByOwner(addr)
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	var req SubmitIntentRequest
	caller, ok := s.authenticate(w, r, &req)
	if !ok {
		return
	}

	encIn, err1 := parseHandle(req.EncAmountIn)
	encMin, err2 := parseHandle(req.EncMinAmountOut)
	if err1 != nil || err2 != nil {
		respondError(w, http.StatusBadRequest, "malformed ciphertext handle", "")
		return
	}

	id, err := s.node.Intents.Create(intent.CreateParams{
		Owner:           caller,
		Market:          req.Market,
		ZeroForOne:      req.ZeroForOne,
		Deadline:        req.Deadline,
		Nonce:           req.Nonce,
		EncAmountIn:     encIn,
		EncMinAmountOut: encMin,
	})
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, SubmitIntentResponse{IntentID: id.Hex()})
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	id := common.HexToHash(mux.Vars(r)["id"])
	it, err := s.node.Intents.Get(id)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, intentInfo(it))
}

func (s *Server) handleGetIntents(w http.ResponseWriter, r *http.Request) {
	addr := common.HexToAddress(mux.Vars(r)["address"])
	intents := s.node.Intents.IntentsByOwner(addr)
	response := make([]IntentInfo, len(intents))
	for i, it := range intents {
		response[i] = intentInfo(it)
	}
	respondJSON(w, response)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	caller, ok := s.authenticate(w, r, &req)
	if !ok {
		return
	}
	pub, err := hexutil.Decode(req.RecipientPub)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed recipient key", err.Error())
		return
	}
	id := common.HexToHash(mux.Vars(r)["id"])

	sealed, err := s.node.Intents.Claim(id, pub, caller)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, SealedResponse{Sealed: hexutil.Encode(sealed)})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleMoveFunds(w, r, s.node.Ledger.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleMoveFunds(w, r, s.node.Ledger.Withdraw)
}

func (s *Server) handleMoveFunds(w http.ResponseWriter, r *http.Request, apply func(common.Address, string, fhe.Handle) error) {
	var req MoveFundsRequest
	caller, ok := s.authenticate(w, r, &req)
	if !ok {
		return
	}
	enc, err := parseHandle(req.EncAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed ciphertext handle", err.Error())
		return
	}
	if err := apply(caller, req.Asset, enc); err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSealBalance(w http.ResponseWriter, r *http.Request) {
	var req SealRequest
	caller, ok := s.authenticate(w, r, &req)
	if !ok {
		return
	}
	pub, err := hexutil.Decode(req.RecipientPub)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed recipient key", err.Error())
		return
	}
	sealed, err := s.node.Ledger.SealBalance(caller, req.Asset, pub, caller)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, SealedResponse{Sealed: hexutil.Encode(sealed)})
}

func (s *Server) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	var req EncryptRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request", err.Error())
		return
	}
	h, err := s.node.Backend.Encrypt(req.Value)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encrypt failed", err.Error())
		return
	}
	respondJSON(w, EncryptResponse{Handle: h.Hex()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func parseOrderID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
}

func parseHandle(hexStr string) (fhe.Handle, error) {
	h, err := hexutil.Decode(hexStr)
	if err != nil {
		return fhe.Handle{}, err
	}
	return fhe.Handle(common.BytesToHash(h)), nil
}

func orderInfo(o *order.Order) OrderInfo {
	return OrderInfo{
		ID:              o.ID,
		Owner:           o.Owner.Hex(),
		Market:          o.Market,
		AssetIn:         o.AssetIn,
		AssetOut:        o.AssetOut,
		EncAmountIn:     o.EncAmountIn.Hex(),
		EncMinAmountOut: o.EncMinAmountOut.Hex(),
		Deadline:        o.Deadline,
		Status:          o.Status.String(),
		CreatedAt:       o.CreatedAt,
		ExecutedAt:      o.ExecutedAt,
	}
}

func intentInfo(it *intent.Intent) IntentInfo {
	return IntentInfo{
		ID:         it.ID.Hex(),
		Owner:      it.Owner.Hex(),
		Market:     it.Market,
		ZeroForOne: it.ZeroForOne,
		Deadline:   it.Deadline,
		Status:     it.Status.String(),
		CreatedAt:  it.CreatedAt,
	}
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Details: details})
}

// respondCoreError maps the core error taxonomy onto HTTP statuses:
// authorization 403, missing records 404, lifecycle-state conflicts 409,
// encrypted-gate failures 422.
func respondCoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, authz.ErrUnauthorized),
		errors.Is(err, order.ErrUnauthorized),
		errors.Is(err, intent.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, intent.ErrSwapNotFound):
		status = http.StatusNotFound
	case errors.Is(err, order.ErrNotPending),
		errors.Is(err, intent.ErrAlreadyExecuted),
		errors.Is(err, intent.ErrSwapNotExecuted),
		errors.Is(err, intent.ErrAlreadyExists),
		errors.Is(err, intent.ErrReentrantCall),
		errors.Is(err, authz.ErrAlreadyInitialized):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientEncryptedBalance),
		errors.Is(err, order.ErrSlippageExceeded),
		errors.Is(err, intent.ErrDeadlineExpired):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, order.ErrUnknownMarket),
		errors.Is(err, order.ErrAssetMismatch):
		status = http.StatusBadRequest
	}
	respondError(w, status, err.Error(), "")
}
