package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Node holds process-level settings.
type Node struct {
	HTTPAddr string // API listen address
	DataDir  string // root for the pebble stores
	LogFile  string
}

// Venue holds the identities of the two-callback protocol: the execution
// venue bound at hook construction and the hook's own coordinator identity.
type Venue struct {
	// VenueKey / HookKey are hex-encoded secp256k1 private keys whose
	// derived addresses become the bound identities. Devnet generates
	// fresh ones when unset.
	VenueKey string
	HookKey  string
	FeeBps   int64 // SimVenue flat fee
}

// MarketDef declares one market registered at startup.
// Format in env: "SYMBOL/ASSET0/ASSET1".
type MarketDef struct {
	Symbol string
	Asset0 string
	Asset1 string
}

type Config struct {
	Node    Node
	Venue   Venue
	Markets []MarketDef
}

func Default() Config {
	return Config{
		Node: Node{
			HTTPAddr: ":8080",
			DataDir:  "data",
			LogFile:  "data/node.log",
		},
		Venue: Venue{
			FeeBps: 30, // 0.30%
		},
		Markets: []MarketDef{
			{Symbol: "WETH-USDC", Asset0: "WETH", Asset1: "USDC"},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment
// variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Node.HTTPAddr = getEnv("HTTP_ADDR", cfg.Node.HTTPAddr)
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)

	cfg.Venue.VenueKey = getEnv("VENUE_PRIVATE_KEY", cfg.Venue.VenueKey)
	cfg.Venue.HookKey = getEnv("HOOK_PRIVATE_KEY", cfg.Venue.HookKey)
	if fee := os.Getenv("VENUE_FEE_BPS"); fee != "" {
		if bps, err := strconv.ParseInt(fee, 10, 64); err == nil {
			cfg.Venue.FeeBps = bps
		}
	}

	// Markets from comma-separated list, e.g.
	// "WETH-USDC/WETH/USDC,WBTC-USDC/WBTC/USDC"
	if defs := os.Getenv("MARKETS"); defs != "" {
		var markets []MarketDef
		for _, def := range strings.Split(defs, ",") {
			parts := strings.Split(strings.TrimSpace(def), "/")
			if len(parts) != 3 {
				continue
			}
			markets = append(markets, MarketDef{Symbol: parts[0], Asset0: parts[1], Asset1: parts[2]})
		}
		if len(markets) > 0 {
			cfg.Markets = markets
		}
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
