package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/speedrun-hq/settler/clients/evm"
	"github.com/speedrun-hq/settler/cmd/solver/httpjson"
	"github.com/speedrun-hq/settler/config"
	"github.com/speedrun-hq/settler/contracts"
	"github.com/speedrun-hq/settler/db"
	"github.com/speedrun-hq/settler/http"
	"github.com/speedrun-hq/settler/listener"
	"github.com/speedrun-hq/settler/logging"
	"github.com/speedrun-hq/settler/metrics"
	"github.com/speedrun-hq/settler/signer"
	"github.com/speedrun-hq/settler/solver"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second
)

func main() {
	flags := parseFlags()
	log := logging.New(os.Stdout, flags.LogLevel, flags.LogJSON)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Credentials are validated before any chain interaction
	key, err := signer.NewKey(signer.Credentials{PrivateKey: cfg.PrivateKey, Mnemonic: cfg.Mnemonic})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load solver key")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	log.Info().Msg("Initializing database connection")
	journal, err := db.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	defer func() {
		if err := journal.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	log.Info().Msg("Database connection established successfully")

	// Initialize Ethereum clients
	clients, err := evm.ResolveClientsFromConfig(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Ethereum clients")
	}

	defer clients.Close()

	reg, err := cfg.Registry()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build settler registry")
	}

	keeper := signer.NewNonceKeeper(signer.NewKeySigner(key), clients.Signer(), log)

	log.Info().
		Str(logging.FieldAddress, keeper.Address().Hex()).
		Str("derivation_path", derivationPath(cfg)).
		Msg("Solver account loaded")

	metricsService := metrics.New(log)
	metricsService.RegisterNonceKeeper(keeper)

	settlerChains := make([]uint64, 0, len(cfg.ChainConfigs))
	for _, chainID := range cfg.ChainIDs() {
		if cfg.ChainConfigs[chainID].SettlerAddress != (common.Address{}) {
			settlerChains = append(settlerChains, chainID)
		}
	}

	svc, err := solver.New(solver.Config{
		Journal: journal,
		Fillers: []solver.Filler{
			solver.NewSettlerFiller(reg, clients, keeper),
			solver.NewCallFiller(clients, keeper),
		},
		Chains:   cfg.ChainIDs(),
		Observer: metricsService,
		Logger:   log,
		Workers:  cfg.Workers,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create solver")
	}

	listeners, err := createListeners(cfg, clients, svc, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create listeners")
	}

	for _, l := range listeners {
		metricsService.RegisterListener(l)
	}

	// Start the metrics updater
	metricsService.StartMetricsUpdater(ctx)
	log.Info().Msg("Started Prometheus metrics service")

	server := httpjson.New(httpjson.Config{
		Addr:           fmt.Sprintf(":%s", cfg.Port),
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         log,
		LogRequests:    true,
		Dependencies: httpjson.Dependencies{
			Journal: journal,
			Signer:  keeper,
			Metrics: metricsService,
		},
	})

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return svc.Run(groupCtx)
	})

	for _, l := range listeners {
		group.Go(func() error {
			return l.Run(groupCtx)
		})
	}

	group.Go(func() error {
		return http.Serve(groupCtx, server, log)
	})

	log.Info().
		Int("listeners", len(listeners)).
		Uints64("settler_chains", settlerChains).
		Msg("Solver running")

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	stopped := make(chan error, 1)
	go func() { stopped <- group.Wait() }()

	select {
	case <-sigChan:
		log.Info().Msg("Shutdown signal received, cleaning up services...")
	case err := <-stopped:
		// a listener gave up reconnecting or the server failed to listen
		log.Error().Err(err).Msg("Solver stopped unexpectedly")
		return
	}

	cancel()

	select {
	case err := <-stopped:
		if err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
			return
		}
	case <-time.After(shutdownTimeout):
		log.Error().Dur("timeout", shutdownTimeout).Msg("Timed out waiting for services to stop")
		return
	}

	log.Info().Msg("All services shut down successfully")
}

// createListeners creates an IntentCreated listener per intent source and an
// Open listener per settler.
func createListeners(
	cfg *config.Config,
	clients *evm.Resolver,
	handler listener.Handler,
	logger zerolog.Logger,
) ([]*listener.Listener, error) {
	var listeners []*listener.Listener

	add := func(chain *config.ChainConfig, address common.Address, contractABI abi.ABI, mapper listener.Mapper) error {
		client, err := clients.GetClient(chain.ChainID)
		if err != nil {
			return err
		}

		l, err := listener.New(listener.Config{
			ABI:    contractABI,
			Mapper: mapper,
			Deployment: listener.Deployment{
				Address: address,
				ChainID: chain.ChainID,
				Label:   fmt.Sprintf("%s/%s", chain.Name, mapper.Event()),
			},
			Subscriber: client,
			Handler:    handler,
			Logger:     logger,
			Lookback:   cfg.CatchupBlocks,
		})
		if err != nil {
			return err
		}

		listeners = append(listeners, l)

		return nil
	}

	for _, chainID := range cfg.ChainIDs() {
		chain := cfg.ChainConfigs[chainID]

		if chain.IntentSourceAddress != (common.Address{}) {
			err := add(chain, chain.IntentSourceAddress, contracts.IntentSource(), listener.IntentCreatedMapper{})
			if err != nil {
				return nil, errors.Wrapf(err, "failed to create intent listener for chain %d", chainID)
			}
		}

		if chain.SettlerAddress != (common.Address{}) {
			err := add(chain, chain.SettlerAddress, contracts.Settler(), listener.OpenMapper{})
			if err != nil {
				return nil, errors.Wrapf(err, "failed to create settler listener for chain %d", chainID)
			}
		}
	}

	return listeners, nil
}

func derivationPath(cfg *config.Config) string {
	if cfg.Mnemonic == "" {
		return "none"
	}

	return signer.DerivationPath
}

type flagSet struct {
	LogJSON  bool
	LogLevel zerolog.Level
}

func parseFlags() flagSet {
	var (
		logJSON        bool
		logLevel       string
		logLevelParsed zerolog.Level
	)

	flag.BoolVar(&logJSON, "log-json", false, "Output logs in JSON format")
	flag.StringVar(&logLevel, "log-level", "info", "Set log level (debug, info, warn, error)")

	flag.Parse()

	switch logLevel {
	case "debug":
		logLevelParsed = zerolog.DebugLevel
	case "warn":
		logLevelParsed = zerolog.WarnLevel
	case "error":
		logLevelParsed = zerolog.ErrorLevel
	default:
		logLevelParsed = zerolog.InfoLevel
	}

	return flagSet{
		LogJSON:  logJSON,
		LogLevel: logLevelParsed,
	}
}
