// Package core wires the confidential order/ledger components into one node:
// market registry, encrypted ledger, order store, intent store, and the
// settlement hook bound to a single venue identity.
package core

import (
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0xveil/veilswap/pkg/app/core/events"
	"github.com/0xveil/veilswap/pkg/app/core/hook"
	"github.com/0xveil/veilswap/pkg/app/core/intent"
	"github.com/0xveil/veilswap/pkg/app/core/ledger"
	"github.com/0xveil/veilswap/pkg/app/core/market"
	"github.com/0xveil/veilswap/pkg/app/core/order"
	"github.com/0xveil/veilswap/pkg/fhe"
	"github.com/0xveil/veilswap/pkg/util"
)

// Config is the node wiring configuration.
type Config struct {
	DataDir string
	Venue   common.Address // bound execution venue identity
	Hook    common.Address // the coordinator's own identity
	Clock   util.Clock
	Log     *zap.SugaredLogger
}

// Node aggregates the core components with the one-time coordinator binding
// already applied.
type Node struct {
	Markets *market.Registry
	Ledger  *ledger.Ledger
	Orders  *order.Manager
	Intents *intent.Manager
	Hook    *hook.SettlementHook
	Bus     *events.Bus
	Backend fhe.Backend
}

// NewNode opens the component stores under cfg.DataDir, builds the hook, and
// binds it as the single coordinator on the order store, ledger, and intent
// store. The binding is permanent for the lifetime of the stores.
func NewNode(cfg Config, backend fhe.Backend) (*Node, error) {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Log == nil {
		cfg.Log = util.NopSugar()
	}

	bus := events.NewBus()
	markets := market.NewRegistry()

	led, err := ledger.New(filepath.Join(cfg.DataDir, "ledger"), backend)
	if err != nil {
		return nil, err
	}
	orders, err := order.NewManager(filepath.Join(cfg.DataDir, "orders"), backend, led, markets, bus, cfg.Clock)
	if err != nil {
		led.Close()
		return nil, err
	}
	intents, err := intent.NewManager(filepath.Join(cfg.DataDir, "intents"), backend, bus, cfg.Clock)
	if err != nil {
		led.Close()
		orders.Close()
		return nil, err
	}

	h := hook.New(cfg.Venue, cfg.Hook, orders, intents, markets, backend, bus, cfg.Log)
	for _, bind := range []func(common.Address) error{
		orders.BindCoordinator,
		led.BindCoordinator,
		intents.BindCoordinator,
	} {
		if err := bind(h.Address()); err != nil {
			led.Close()
			orders.Close()
			intents.Close()
			return nil, fmt.Errorf("core: bind coordinator: %w", err)
		}
	}

	return &Node{
		Markets: markets,
		Ledger:  led,
		Orders:  orders,
		Intents: intents,
		Hook:    h,
		Bus:     bus,
		Backend: backend,
	}, nil
}

func (n *Node) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{n.Intents, n.Orders, n.Ledger} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
