package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/0xveil/veilswap/params"
	"github.com/0xveil/veilswap/pkg/api"
	"github.com/0xveil/veilswap/pkg/app/core"
	"github.com/0xveil/veilswap/pkg/app/core/market"
	"github.com/0xveil/veilswap/pkg/crypto"
	"github.com/0xveil/veilswap/pkg/fhe"
	"github.com/0xveil/veilswap/pkg/util"
	"github.com/0xveil/veilswap/pkg/venue"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Identities ----
	// Devnet generates fresh keys when none are configured.
	venueSigner, err := loadOrGenerate(cfg.Venue.VenueKey)
	if err != nil {
		sugar.Fatalw("venue_key", "err", err)
	}
	hookSigner, err := loadOrGenerate(cfg.Venue.HookKey)
	if err != nil {
		sugar.Fatalw("hook_key", "err", err)
	}

	// ---- Encrypted-computation backend (dev) ----
	backend, err := fhe.NewDevBackend()
	if err != nil {
		sugar.Fatalw("fhe_backend", "err", err)
	}

	// ---- Core: ledger, order store, intent store, settlement hook ----
	node, err := core.NewNode(core.Config{
		DataDir: cfg.Node.DataDir,
		Venue:   venueSigner.Address(),
		Hook:    hookSigner.Address(),
		Clock:   util.RealClock{},
		Log:     sugar,
	}, backend)
	if err != nil {
		sugar.Fatalw("node_init", "err", err)
	}
	defer node.Close()

	for _, def := range cfg.Markets {
		m, err := market.New(def.Symbol, def.Asset0, def.Asset1)
		if err != nil {
			sugar.Fatalw("market_init", "symbol", def.Symbol, "err", err)
		}
		if err := node.Markets.Register(m); err != nil {
			sugar.Fatalw("market_register", "symbol", def.Symbol, "err", err)
		}
		sugar.Infow("market_registered", "symbol", def.Symbol)
	}

	// ---- Simulated execution venue (devnet) ----
	sim := venue.NewSim(venueSigner.Address(), node.Hook, cfg.Venue.FeeBps)
	for _, def := range cfg.Markets {
		sim.SetPrice(def.Symbol, decimal.NewFromInt(1))
	}
	sugar.Infow("venue_initialized",
		"venue", venueSigner.Address().Hex(),
		"hook", hookSigner.Address().Hex(),
		"fee_bps", cfg.Venue.FeeBps,
	)

	// ---- API ----
	server := api.NewServer(node)
	go func() {
		if err := server.Start(cfg.Node.HTTPAddr); err != nil {
			sugar.Fatalw("api_server", "err", err)
		}
	}()

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	sugar.Infow("shutting_down")
}

func loadOrGenerate(hexKey string) (*crypto.Signer, error) {
	if hexKey != "" {
		return crypto.FromPrivateKeyHex(hexKey)
	}
	return crypto.GenerateKey()
}
