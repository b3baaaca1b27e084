package hook

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xveil/veilswap/pkg/app/core/events"
	"github.com/0xveil/veilswap/pkg/app/core/intent"
	"github.com/0xveil/veilswap/pkg/app/core/ledger"
	"github.com/0xveil/veilswap/pkg/app/core/market"
	"github.com/0xveil/veilswap/pkg/app/core/order"
	"github.com/0xveil/veilswap/pkg/fhe"
	"github.com/0xveil/veilswap/pkg/util"
)

var (
	alice     = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	mallory   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	venueAddr = common.HexToAddress("0x1000000000000000000000000000000000000000")
	hookAddr  = common.HexToAddress("0xC000000000000000000000000000000000000000")
)

type fixture struct {
	backend *fhe.DevBackend
	ledger  *ledger.Ledger
	orders  *order.Manager
	intents *intent.Manager
	hook    *SettlementHook
	clock   *util.FakeClock
	bus     *events.Bus
}

func newFixture(t *testing.T) *fixture {
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

	h := New(venueAddr, hookAddr, orders, intents, markets, backend, bus, util.NopSugar())
	for _, bind := range []func(common.Address) error{
		led.BindCoordinator, orders.BindCoordinator, intents.BindCoordinator,
	} {
		if err := bind(h.Address()); err != nil {
			t.Fatalf("bind coordinator: %v", err)
		}
	}

	return &fixture{
		backend: backend, ledger: led, orders: orders,
		intents: intents, hook: h, clock: clock, bus: bus,
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

func (f *fixture) fundedOrder(t *testing.T, amountIn, minOut uint64) uint64 {
	t.Helper()
	if err := f.ledger.Deposit(alice, "WETH", f.encrypt(t, amountIn)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := f.orders.Create(order.CreateParams{
		Owner:           alice,
		Market:          "WETH-USDC",
		AssetIn:         "WETH",
		AssetOut:        "USDC",
		EncAmountIn:     f.encrypt(t, amountIn),
		EncMinAmountOut: f.encrypt(t, minOut),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return id
}

func (f *fixture) balance(t *testing.T, asset string) uint64 {
	t.Helper()
	h, err := f.ledger.BalanceHandle(alice, asset)
	if err != nil {
		t.Fatalf("balance handle: %v", err)
	}
	v, err := f.backend.Reveal(h)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	return v
}

func TestCallbacksRequireVenue(t *testing.T) {
	f := newFixture(t)
	id := f.fundedOrder(t, 1000, 900)
	ref := OrderRef(id)

	err := f.hook.BeforeSwap(mallory, alice, "WETH-USDC", true, ref)
	if !errors.Is(err, ErrUnauthorizedCaller) {
		t.Errorf("BeforeSwap from non-venue: got %v", err)
	}
	err = f.hook.AfterSwap(mallory, alice, "WETH-USDC", true, BalanceDelta{-1000, 950}, ref)
	if !errors.Is(err, ErrUnauthorizedCaller) {
		t.Errorf("AfterSwap from non-venue: got %v", err)
	}
}

func TestBeforeSwapInvalidOrderAborts(t *testing.T) {
	f := newFixture(t)
	id := f.fundedOrder(t, 1000, 900)

	cases := []struct {
		name   string
		sender common.Address
		market string
		ref    []byte
	}{
		{"wrong sender", mallory, "WETH-USDC", OrderRef(id)},
		{"unknown market", alice, "WBTC-USDC", OrderRef(id)},
		{"missing order", alice, "WETH-USDC", OrderRef(id + 99)},
	}
	for _, tc := range cases {
		err := f.hook.BeforeSwap(venueAddr, tc.sender, tc.market, true, tc.ref)
		if !errors.Is(err, ErrInvalidOrder) {
			t.Errorf("%s: got %v, want ErrInvalidOrder", tc.name, err)
		}
	}

	// Failed validation never consumes the order
	o, _ := f.orders.Get(id)
	if o.Status != order.StatusPending {
		t.Errorf("order status = %s after aborted validations, want pending", o.Status)
	}

	err := f.hook.BeforeSwap(venueAddr, alice, "WETH-USDC", true, []byte{1, 2, 3})
	if !errors.Is(err, ErrBadOrderRef) {
		t.Errorf("malformed ref: got %v, want ErrBadOrderRef", err)
	}
}

func TestTwoPhaseOrderSettlement(t *testing.T) {
	f := newFixture(t)
	ch := f.bus.Subscribe()
	id := f.fundedOrder(t, 1000, 900)
	ref := OrderRef(id)

	if err := f.hook.BeforeSwap(venueAddr, alice, "WETH-USDC", true, ref); err != nil {
		t.Fatalf("BeforeSwap: %v", err)
	}
	if err := f.hook.AfterSwap(venueAddr, alice, "WETH-USDC", true, BalanceDelta{-1000, 950}, ref); err != nil {
		t.Fatalf("AfterSwap: %v", err)
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

	// Exactly one settlement event, and it is a success
	var results []events.SettlementResult
	for {
		select {
		case ev := <-ch:
			if ev.Type == events.TypeSettlementResult {
				results = append(results, ev.Data.(events.SettlementResult))
			}
			continue
		default:
		}
		break
	}
	if len(results) != 1 {
		t.Fatalf("got %d settlement events, want 1", len(results))
	}
	if !results[0].Success {
		t.Error("settlement event should report success")
	}
}

func TestAfterSwapWithoutBeforeSwap(t *testing.T) {
	f := newFixture(t)
	id := f.fundedOrder(t, 1000, 900)
	ref := OrderRef(id)

	err := f.hook.AfterSwap(venueAddr, alice, "WETH-USDC", true, BalanceDelta{-1000, 950}, ref)
	if !errors.Is(err, ErrNoActiveTrade) {
		t.Fatalf("got %v, want ErrNoActiveTrade", err)
	}
	if got := f.balance(t, "WETH"); got != 1000 {
		t.Errorf("WETH = %d, balances must be untouched", got)
	}
}

func TestAfterSwapActiveMarkIsConsumed(t *testing.T) {
	f := newFixture(t)
	id := f.fundedOrder(t, 2000, 900)
	ref := OrderRef(id)

	if err := f.hook.BeforeSwap(venueAddr, alice, "WETH-USDC", true, ref); err != nil {
		t.Fatalf("BeforeSwap: %v", err)
	}
	if err := f.hook.AfterSwap(venueAddr, alice, "WETH-USDC", true, BalanceDelta{-2000, 1900}, ref); err != nil {
		t.Fatalf("AfterSwap: %v", err)
	}

	// Replaying AfterSwap finds no active trade
	err := f.hook.AfterSwap(venueAddr, alice, "WETH-USDC", true, BalanceDelta{-2000, 1900}, ref)
	if !errors.Is(err, ErrNoActiveTrade) {
		t.Errorf("replayed AfterSwap: got %v, want ErrNoActiveTrade", err)
	}
	if got := f.balance(t, "USDC"); got != 1900 {
		t.Errorf("USDC = %d, want exactly one credit of 1900", got)
	}
}

func TestAfterSwapFailuresClearMarkAndEmit(t *testing.T) {
	f := newFixture(t)
	ch := f.bus.Subscribe()
	id := f.fundedOrder(t, 1000, 900)
	ref := OrderRef(id)

	if err := f.hook.BeforeSwap(venueAddr, alice, "WETH-USDC", true, ref); err != nil {
		t.Fatalf("BeforeSwap: %v", err)
	}

	// Slippage: realized 899 < min 900
	err := f.hook.AfterSwap(venueAddr, alice, "WETH-USDC", true, BalanceDelta{-1000, 899}, ref)
	if !errors.Is(err, order.ErrSlippageExceeded) {
		t.Fatalf("got %v, want ErrSlippageExceeded", err)
	}

	o, _ := f.orders.Get(id)
	if o.Status != order.StatusPending {
		t.Errorf("order status = %s after failed settlement, want pending", o.Status)
	}

	var failed bool
	for !failed {
		select {
		case ev := <-ch:
			if ev.Type == events.TypeSettlementResult {
				if ev.Data.(events.SettlementResult).Success {
					t.Error("failed settlement reported success")
				}
				failed = true
			}
		default:
			t.Fatal("no settlement event for failed settlement")
		}
	}

	// The mark was cleared; retrying needs a fresh BeforeSwap
	err = f.hook.AfterSwap(venueAddr, alice, "WETH-USDC", true, BalanceDelta{-1000, 950}, ref)
	if !errors.Is(err, ErrNoActiveTrade) {
		t.Errorf("got %v, want ErrNoActiveTrade after cleared mark", err)
	}
}

func TestAfterSwapRejectsNonPositiveOutput(t *testing.T) {
	f := newFixture(t)
	id := f.fundedOrder(t, 1000, 900)
	ref := OrderRef(id)

	if err := f.hook.BeforeSwap(venueAddr, alice, "WETH-USDC", true, ref); err != nil {
		t.Fatalf("BeforeSwap: %v", err)
	}
	err := f.hook.AfterSwap(venueAddr, alice, "WETH-USDC", true, BalanceDelta{-1000, 0}, ref)
	if !errors.Is(err, ErrInvalidDelta) {
		t.Errorf("got %v, want ErrInvalidDelta", err)
	}
}

func TestTwoPhaseIntentExecution(t *testing.T) {
	f := newFixture(t)

	id, err := f.intents.Create(intent.CreateParams{
		Owner:           alice,
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
	ref := IntentRef(id)

	if err := f.hook.BeforeSwap(venueAddr, alice, "WETH-USDC", true, ref); err != nil {
		t.Fatalf("BeforeSwap: %v", err)
	}
	if err := f.hook.AfterSwap(venueAddr, alice, "WETH-USDC", true, BalanceDelta{-1000, 950}, ref); err != nil {
		t.Fatalf("AfterSwap: %v", err)
	}

	it, _ := f.intents.Get(id)
	if it.Status != intent.StatusExecuted {
		t.Fatalf("intent status = %s, want executed", it.Status)
	}

	// Recorded output is claimable and reseals to the realized amount
	pub, priv, err := fhe.GenerateRecipientKey()
	if err != nil {
		t.Fatalf("recipient key: %v", err)
	}
	sealed, err := f.intents.Claim(id, pub, alice)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if v, _ := fhe.Unseal(priv, sealed); v != 950 {
		t.Errorf("unsealed %d, want 950", v)
	}
}

func TestConcurrentAfterSwapSettlesOnce(t *testing.T) {
	f := newFixture(t)
	id := f.fundedOrder(t, 1000, 900)
	ref := OrderRef(id)

	if err := f.hook.BeforeSwap(venueAddr, alice, "WETH-USDC", true, ref); err != nil {
		t.Fatalf("BeforeSwap: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.hook.AfterSwap(venueAddr, alice, "WETH-USDC", true, BalanceDelta{-1000, 950}, ref)
		}(i)
	}
	wg.Wait()

	// Regardless of interleaving, balances reflect at most one settlement.
	if got := f.balance(t, "USDC"); got != 0 && got != 950 {
		t.Fatalf("USDC = %d, want 0 or exactly 950", got)
	}
	var successes int
	for _, err := range errs {
		if err == nil {
			successes++
		}
	}
	if successes > 1 {
		t.Errorf("%d callbacks claimed success, want at most 1", successes)
	}
	if successes == 1 {
		if got := f.balance(t, "USDC"); got != 950 {
			t.Errorf("USDC = %d after one success, want 950", got)
		}
	}
}
