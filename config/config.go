package config

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/speedrun-hq/settler/registry"
)

const (
	defaultPort    = "8080"
	defaultWorkers = 8
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port           string
	AllowedOrigins []string

	// Database configuration
	DatabaseURL string

	// Solver account. Exactly one must be set.
	PrivateKey string
	Mnemonic   string

	// Workers bounds concurrent fill decisions
	Workers int

	// CatchupBlocks is how many blocks listeners replay on startup
	CatchupBlocks uint64

	// ChainConfigs is keyed by chain id
	ChainConfigs map[uint64]*ChainConfig
}

// ChainConfig is one supported chain
type ChainConfig struct {
	ChainID uint64
	Name    string
	RPCURL  string

	// SettlerAddress is the settler deployment; zero if the chain has none.
	SettlerAddress common.Address

	// IntentSourceAddress emits IntentCreated; zero if the chain has none.
	IntentSourceAddress common.Address
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from a variable lookup
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, defaultValue string) string {
		if value := strings.TrimSpace(getenv(key)); value != "" {
			return value
		}
		return defaultValue
	}

	cfg := &Config{
		Port:        get("PORT", defaultPort),
		DatabaseURL: get("DATABASE_URL", ""),
		PrivateKey:  getenv("PRIVATE_KEY"),
		Mnemonic:    getenv("MNEMONIC"),
		Workers:     defaultWorkers,
	}

	if origins := get("ALLOWED_ORIGINS", ""); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}

	if raw := get("WORKERS", ""); raw != "" {
		workers, err := strconv.Atoi(raw)
		if err != nil || workers <= 0 {
			return nil, errors.Errorf("invalid WORKERS %q", raw)
		}

		cfg.Workers = workers
	}

	if raw := get("CATCHUP_BLOCKS", ""); raw != "" {
		blocks, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid CATCHUP_BLOCKS %q", raw)
		}

		cfg.CatchupBlocks = blocks
	}

	defaultChains := mainnetDefaultChains
	if strings.EqualFold(get("NETWORK", "mainnet"), "testnet") {
		defaultChains = testnetDefaultChains
	}

	chains, err := parseChainIDs(get("CHAINS", defaultChains))
	if err != nil {
		return nil, err
	}

	cfg.ChainConfigs = make(map[uint64]*ChainConfig, len(chains))

	for _, chainID := range chains {
		chain, err := chainFromEnv(chainID, get)
		if err != nil {
			return nil, errors.Wrapf(err, "chain %d", chainID)
		}

		// chains without any deployment are not part of the solver
		if chain == nil {
			continue
		}

		cfg.ChainConfigs[chainID] = chain
	}

	if len(cfg.ChainConfigs) == 0 {
		return nil, errors.New("no chain has a settler or intent source address configured")
	}

	return cfg, nil
}

// chainFromEnv reads RPC_URL_<id>, SETTLER_ADDRESS_<id> and
// INTENT_SOURCE_ADDRESS_<id>. <NAME>_RPC_URL style keys are accepted too.
func chainFromEnv(chainID uint64, get func(key, defaultValue string) string) (*ChainConfig, error) {
	name := ChainName(chainID)

	lookup := func(key string) string {
		if v := get(fmt.Sprintf("%s_%d", key, chainID), ""); v != "" {
			return v
		}
		return get(fmt.Sprintf("%s_%s", name, key), "")
	}

	settler, err := parseAddress(lookup("SETTLER_ADDRESS"))
	if err != nil {
		return nil, errors.Wrap(err, "settler address")
	}

	source, err := parseAddress(lookup("INTENT_SOURCE_ADDRESS"))
	if err != nil {
		return nil, errors.Wrap(err, "intent source address")
	}

	if settler == (common.Address{}) && source == (common.Address{}) {
		return nil, nil
	}

	rpcURL := get(fmt.Sprintf("RPC_URL_%d", chainID), get(name+"_RPC_URL", ""))
	if rpcURL == "" {
		return nil, errors.Errorf("missing RPC_URL_%d", chainID)
	}

	return &ChainConfig{
		ChainID:             chainID,
		Name:                name,
		RPCURL:              rpcURL,
		SettlerAddress:      settler,
		IntentSourceAddress: source,
	}, nil
}

// ChainIDs returns configured chains in ascending order
func (c *Config) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(c.ChainConfigs))
	for id := range c.ChainConfigs {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Registry returns the settler counterparts of every configured chain
func (c *Config) Registry() (*registry.Static, error) {
	counterparts := make(map[uint32]common.Address)

	for id, chain := range c.ChainConfigs {
		if chain.SettlerAddress == (common.Address{}) {
			continue
		}

		if id > math.MaxUint32 {
			return nil, errors.Errorf("chain id %d does not fit a settler domain", id)
		}

		counterparts[uint32(id)] = chain.SettlerAddress
	}

	return registry.NewStatic(counterparts)
}

// HasTestnets reports whether any configured chain is a test network
func (c *Config) HasTestnets() bool {
	for id := range c.ChainConfigs {
		if isTestnet(id) {
			return true
		}
	}

	return false
}

func parseChainIDs(raw string) ([]uint64, error) {
	var (
		ids  []uint64
		seen = make(map[uint64]struct{})
	)

	for _, item := range splitList(raw) {
		id, err := strconv.ParseUint(item, 10, 64)
		if err != nil || id == 0 {
			return nil, errors.Errorf("invalid chain id %q", item)
		}

		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	return ids, nil
}

func parseAddress(raw string) (common.Address, error) {
	if raw == "" {
		return common.Address{}, nil
	}

	if !common.IsHexAddress(raw) {
		return common.Address{}, errors.Errorf("invalid address %q", raw)
	}

	return common.HexToAddress(raw), nil
}

func splitList(raw string) []string {
	var out []string

	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out
}
