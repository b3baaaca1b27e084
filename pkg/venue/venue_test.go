package venue

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/0xveil/veilswap/pkg/app/core/events"
	"github.com/0xveil/veilswap/pkg/app/core/hook"
	"github.com/0xveil/veilswap/pkg/app/core/intent"
	"github.com/0xveil/veilswap/pkg/app/core/ledger"
	"github.com/0xveil/veilswap/pkg/app/core/market"
	"github.com/0xveil/veilswap/pkg/app/core/order"
	"github.com/0xveil/veilswap/pkg/fhe"
	"github.com/0xveil/veilswap/pkg/util"
)

var (
	trader    = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	venueAddr = common.HexToAddress("0x1000000000000000000000000000000000000000")
	hookAddr  = common.HexToAddress("0xC000000000000000000000000000000000000000")
)

type fixture struct {
	backend *fhe.DevBackend
	ledger  *ledger.Ledger
	orders  *order.Manager
	intents *intent.Manager
	venue   *SimVenue
	clock   *util.FakeClock
}

func newFixture(t *testing.T, feeBps int64) *fixture {
	t.Helper()

	backend, err := fhe.NewDevBackend()
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	led, err := ledger.New(t.TempDir(), backend)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	t.Cleanup(func() { led.Close() })

	markets := market.NewRegistry()
	m, _ := market.New("WETH-USDC", "WETH", "USDC")
	markets.Register(m)

	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	bus := events.NewBus()

	orders, err := order.NewManager(t.TempDir(), backend, led, markets, bus, clock)
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	t.Cleanup(func() { orders.Close() })

	intents, err := intent.NewManager(t.TempDir(), backend, bus, clock)
	if err != nil {
		t.Fatalf("intents: %v", err)
	}
	t.Cleanup(func() { intents.Close() })

	h := hook.New(venueAddr, hookAddr, orders, intents, markets, backend, bus, util.NopSugar())
	for _, bind := range []func(common.Address) error{
		led.BindCoordinator, orders.BindCoordinator, intents.BindCoordinator,
	} {
		if err := bind(h.Address()); err != nil {
			t.Fatalf("bind coordinator: %v", err)
		}
	}

	return &fixture{
		backend: backend, ledger: led, orders: orders, intents: intents,
		venue: NewSim(venueAddr, h, feeBps), clock: clock,
	}
}

func (f *fixture) encrypt(t *testing.T, v uint64) fhe.Handle {
	t.Helper()
	h, err := f.backend.Encrypt(v)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return h
}

func (f *fixture) balance(t *testing.T, asset string) uint64 {
	t.Helper()
	h, err := f.ledger.BalanceHandle(trader, asset)
	if err != nil {
		t.Fatalf("balance handle: %v", err)
	}
	v, err := f.backend.Reveal(h)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	return v
}

func TestExecuteSwapSettlesOrder(t *testing.T) {
	f := newFixture(t, 0)
	f.venue.SetPrice("WETH-USDC", decimal.RequireFromString("0.95"))

	if err := f.ledger.Deposit(trader, "WETH", f.encrypt(t, 1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := f.orders.Create(order.CreateParams{
		Owner:           trader,
		Market:          "WETH-USDC",
		AssetIn:         "WETH",
		AssetOut:        "USDC",
		EncAmountIn:     f.encrypt(t, 1000),
		EncMinAmountOut: f.encrypt(t, 900),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	out, err := f.venue.ExecuteSwap(trader, "WETH-USDC", true, 1000, hook.OrderRef(id))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != 950 {
		t.Errorf("output = %d, want 950 at price 0.95", out)
	}

	o, _ := f.orders.Get(id)
	if o.Status != order.StatusExecuted {
		t.Errorf("order status = %s, want executed", o.Status)
	}
	if got := f.balance(t, "WETH"); got != 0 {
		t.Errorf("WETH = %d, want 0", got)
	}
	if got := f.balance(t, "USDC"); got != 950 {
		t.Errorf("USDC = %d, want 950", got)
	}
}

func TestExecuteSwapAppliesFee(t *testing.T) {
	f := newFixture(t, 30) // 30 bps
	f.venue.SetPrice("WETH-USDC", decimal.NewFromInt(1))

	if err := f.ledger.Deposit(trader, "WETH", f.encrypt(t, 10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := f.orders.Create(order.CreateParams{
		Owner:           trader,
		Market:          "WETH-USDC",
		AssetIn:         "WETH",
		AssetOut:        "USDC",
		EncAmountIn:     f.encrypt(t, 10_000),
		EncMinAmountOut: f.encrypt(t, 9_000),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	out, err := f.venue.ExecuteSwap(trader, "WETH-USDC", true, 10_000, hook.OrderRef(id))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	// 10000 * 1.0 * (1 - 0.0030) = 9970
	if out != 9970 {
		t.Errorf("output = %d, want 9970 after 30 bps fee", out)
	}
}

func TestExecuteSwapAbortsOnInvalidOrder(t *testing.T) {
	f := newFixture(t, 0)
	f.venue.SetPrice("WETH-USDC", decimal.NewFromInt(1))

	_, err := f.venue.ExecuteSwap(trader, "WETH-USDC", true, 1000, hook.OrderRef(42))
	if !errors.Is(err, hook.ErrInvalidOrder) {
		t.Fatalf("got %v, want ErrInvalidOrder", err)
	}
}

func TestExecuteSwapIntentThenClaim(t *testing.T) {
	f := newFixture(t, 0)
	f.venue.SetPrice("WETH-USDC", decimal.RequireFromString("0.95"))

	id, err := f.intents.Create(intent.CreateParams{
		Owner:           trader,
		Market:          "WETH-USDC",
		ZeroForOne:      true,
		Deadline:        f.clock.Now().Add(time.Hour).Unix(),
		Nonce:           1,
		EncAmountIn:     f.encrypt(t, 1000),
		EncMinAmountOut: f.encrypt(t, 900),
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	out, err := f.venue.ExecuteSwap(trader, "WETH-USDC", true, 1000, hook.IntentRef(id))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != 950 {
		t.Errorf("output = %d, want 950", out)
	}

	pub, priv, err := fhe.GenerateRecipientKey()
	if err != nil {
		t.Fatalf("recipient key: %v", err)
	}
	sealed, err := f.intents.Claim(id, pub, trader)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if v, _ := fhe.Unseal(priv, sealed); v != 950 {
		t.Errorf("unsealed %d, want 950", v)
	}
}

func TestExecuteSwapOneForZero(t *testing.T) {
	f := newFixture(t, 0)
	f.venue.SetPrice("WETH-USDC", decimal.NewFromInt(2)) // 2 USDC per WETH

	if err := f.ledger.Deposit(trader, "USDC", f.encrypt(t, 2000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := f.orders.Create(order.CreateParams{
		Owner:           trader,
		Market:          "WETH-USDC",
		AssetIn:         "USDC",
		AssetOut:        "WETH",
		EncAmountIn:     f.encrypt(t, 2000),
		EncMinAmountOut: f.encrypt(t, 900),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	out, err := f.venue.ExecuteSwap(trader, "WETH-USDC", false, 2000, hook.OrderRef(id))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != 1000 {
		t.Errorf("output = %d, want 1000 WETH for 2000 USDC at price 2", out)
	}
	if got := f.balance(t, "WETH"); got != 1000 {
		t.Errorf("WETH = %d, want 1000", got)
	}
	if got := f.balance(t, "USDC"); got != 0 {
		t.Errorf("USDC = %d, want 0", got)
	}
}

func TestExecuteSwapNoPrice(t *testing.T) {
	f := newFixture(t, 0)

	if err := f.ledger.Deposit(trader, "WETH", f.encrypt(t, 1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := f.orders.Create(order.CreateParams{
		Owner:           trader,
		Market:          "WETH-USDC",
		AssetIn:         "WETH",
		AssetOut:        "USDC",
		EncAmountIn:     f.encrypt(t, 1000),
		EncMinAmountOut: f.encrypt(t, 900),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if _, err := f.venue.ExecuteSwap(trader, "WETH-USDC", true, 1000, hook.OrderRef(id)); err == nil {
		t.Fatal("swap with no configured price should fail")
	}
	// Pre-trade already ran; the quote failure strands the active mark, and
	// the order itself stays pending and retryable after a fresh BeforeSwap.
	o, _ := f.orders.Get(id)
	if o.Status != order.StatusPending {
		t.Errorf("order status = %s, want pending", o.Status)
	}
}
