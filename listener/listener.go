// Package listener turns contract logs into protocol-independent intents.
// One Listener runs per (deployment, event); the protocol specific part is a Mapper.
package listener

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/speedrun-hq/settler/logging"
	"github.com/speedrun-hq/settler/models"
)

const (
	DefaultMaxRetries = 10
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 5 * time.Minute

	DefaultLogsChannelBuffer = 200
)

// ErrEventShape is returned for logs that don't match the expected event.
var ErrEventShape = errors.New("unexpected event shape")

// Mapper converts one event's positional arguments into an Intent.
// Arguments come in ABI input order with indexed ones recovered from topics.
type Mapper interface {
	Event() string
	MapEvent(args []interface{}) (*models.Intent, error)
}

// LogSubscriber is the part of a chain client needed to follow logs.
type LogSubscriber interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Handler receives every mapped intent.
type Handler interface {
	HandleIntent(ctx context.Context, intent *models.Intent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, intent *models.Intent) error

func (f HandlerFunc) HandleIntent(ctx context.Context, intent *models.Intent) error {
	return f(ctx, intent)
}

// Deployment is a contract instance on one chain.
type Deployment struct {
	Address common.Address
	ChainID uint64
	Label   string
}

type Config struct {
	ABI        abi.ABI
	Mapper     Mapper
	Deployment Deployment
	Subscriber LogSubscriber
	Handler    Handler
	Logger     zerolog.Logger

	// Lookback is the number of blocks before the start block replayed
	// once on startup. Zero disables the catch-up.
	Lookback uint64

	// Reconnection settings; zero values take the defaults.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Stats is a snapshot of a listener's counters.
type Stats struct {
	Processed     uint64
	ShapeErrors   uint64
	HandlerErrors uint64
	Reconnections uint64
	LastEventTime time.Time
}

type Listener struct {
	event      abi.Event
	mapper     Mapper
	deployment Deployment
	subscriber LogSubscriber
	handler    Handler
	logger     zerolog.Logger

	lookback   uint64
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	processed     atomic.Uint64
	shapeErrors   atomic.Uint64
	handlerErrors atomic.Uint64
	reconnections atomic.Uint64

	mu            sync.Mutex
	lastEventTime time.Time
}

func New(cfg Config) (*Listener, error) {
	switch {
	case cfg.Mapper == nil:
		return nil, errors.New("mapper is required")
	case cfg.Subscriber == nil:
		return nil, errors.New("subscriber is required")
	case cfg.Handler == nil:
		return nil, errors.New("handler is required")
	}

	event, ok := cfg.ABI.Events[cfg.Mapper.Event()]
	if !ok {
		return nil, errors.Errorf("event %q not found in abi", cfg.Mapper.Event())
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}

	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}

	return &Listener{
		event:      event,
		mapper:     cfg.Mapper,
		deployment: cfg.Deployment,
		subscriber: cfg.Subscriber,
		handler:    cfg.Handler,
		logger: cfg.Logger.With().
			Str(logging.FieldModule, "listener").
			Uint64(logging.FieldChain, cfg.Deployment.ChainID).
			Str("event", event.Name).
			Str("deployment", cfg.Deployment.Label).
			Logger(),
		lookback:   cfg.Lookback,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
	}, nil
}

func (l *Listener) Deployment() Deployment { return l.deployment }

func (l *Listener) Event() string { return l.event.Name }

func (l *Listener) Stats() Stats {
	l.mu.Lock()
	last := l.lastEventTime
	l.mu.Unlock()

	return Stats{
		Processed:     l.processed.Load(),
		ShapeErrors:   l.shapeErrors.Load(),
		HandlerErrors: l.handlerErrors.Load(),
		Reconnections: l.reconnections.Load(),
		LastEventTime: last,
	}
}

// Run follows the deployment's logs until ctx is done.
// It returns an error only when every reconnection attempt failed.
func (l *Listener) Run(ctx context.Context) error {
	var startBlock uint64

	blockCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	bn, err := l.subscriber.BlockNumber(blockCtx)
	cancel()

	if err != nil {
		l.logger.Warn().Err(err).Msg("Failed to get current block number, will listen to all new blocks")
	} else {
		startBlock = bn
		l.logger.Info().Uint64(logging.FieldBlock, bn).Msg("Starting event subscription from block")

		if err := l.catchUp(ctx, startBlock); err != nil {
			l.logger.Error().Err(err).Msg("Catch-up failed, continuing with live events")
		}
	}

	for attempt := 0; attempt < l.maxRetries; attempt++ {
		if attempt > 0 {
			delay := l.backoff(attempt)

			l.logger.Info().
				Int("attempt", attempt+1).
				Int("max_retries", l.maxRetries).
				Dur("delay", delay).
				Msg("Retrying subscription attempt")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}

			l.reconnections.Add(1)
		}

		established, err := l.subscribe(ctx, startBlock)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		l.logger.Error().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_retries", l.maxRetries).
			Msg("Subscription failed")

		// a subscription that worked for a while earns a fresh retry budget
		if established {
			attempt = 0
		}
	}

	return errors.Errorf("failed to establish stable subscription after %d attempts", l.maxRetries)
}

func (l *Listener) backoff(attempt int) time.Duration {
	delay := l.baseDelay << uint(attempt-1)
	if delay <= 0 || delay > l.maxDelay {
		return l.maxDelay
	}

	return delay
}

// subscribe runs one subscription. established reports whether it was
// created before failing.
func (l *Listener) subscribe(ctx context.Context, startBlock uint64) (established bool, err error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{l.deployment.Address},
		Topics:    [][]common.Hash{{l.event.ID}},
	}

	if startBlock > 0 {
		query.FromBlock = new(big.Int).SetUint64(startBlock)
	}

	logs := make(chan types.Log, DefaultLogsChannelBuffer)

	sub, err := l.subscriber.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return false, errors.Wrap(err, "failed to subscribe to logs")
	}

	defer sub.Unsubscribe()

	l.logger.Info().
		Str(logging.FieldAddress, l.deployment.Address.Hex()).
		Msg("Subscribed to events")

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}

			return true, errors.Wrap(err, "subscription error")
		case vLog := <-logs:
			l.handleLog(ctx, vLog)
		}
	}
}

func (l *Listener) handleLog(ctx context.Context, vLog types.Log) {
	logger := l.logger.With().
		Uint64(logging.FieldBlock, vLog.BlockNumber).
		Str(logging.FieldTx, vLog.TxHash.Hex()).
		Logger()

	if vLog.Removed {
		logger.Warn().Msg("Skipping removed log")
		return
	}

	intent, err := l.ProcessLog(vLog)
	if err != nil {
		l.shapeErrors.Add(1)
		logger.Error().Err(err).Msg("Failed to map event")
		return
	}

	// blocks while the handler is saturated; only shutdown drops the intent
	if err := l.handler.HandleIntent(ctx, intent); err != nil {
		l.handlerErrors.Add(1)
		logger.Error().Err(err).Str(logging.FieldIntent, intent.Hash.Hex()).Msg("Failed to handle intent")
		return
	}

	l.processed.Add(1)

	l.mu.Lock()
	l.lastEventTime = time.Now()
	l.mu.Unlock()

	logger.Info().
		Str(logging.FieldIntent, intent.Hash.Hex()).
		Uint64("destination", intent.DestinationChain).
		Msg("Processed intent")
}

// ProcessLog validates a log and maps it into an Intent.
func (l *Listener) ProcessLog(vLog types.Log) (*models.Intent, error) {
	args, err := l.unpack(vLog)
	if err != nil {
		return nil, err
	}

	intent, err := l.mapper.MapEvent(args)
	if err != nil {
		return nil, err
	}

	switch {
	case intent.SourceChain == 0:
		intent.SourceChain = l.deployment.ChainID
	case intent.SourceChain != l.deployment.ChainID:
		return nil, errors.Wrapf(ErrEventShape, "intent source chain %d on chain %d", intent.SourceChain, l.deployment.ChainID)
	}

	intent.BlockNumber = vLog.BlockNumber
	intent.TxHash = vLog.TxHash

	return intent, nil
}

// unpack returns the event arguments in declaration order.
func (l *Listener) unpack(vLog types.Log) ([]interface{}, error) {
	if len(vLog.Topics) == 0 {
		return nil, errors.Wrap(ErrEventShape, "no topics")
	}

	if vLog.Topics[0] != l.event.ID {
		return nil, errors.Wrapf(ErrEventShape, "signature %s, want %s", vLog.Topics[0].Hex(), l.event.ID.Hex())
	}

	var indexed abi.Arguments
	for _, input := range l.event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}

	if len(vLog.Topics) != len(indexed)+1 {
		return nil, errors.Wrapf(ErrEventShape, "expected %d topics, got %d", len(indexed)+1, len(vLog.Topics))
	}

	topicValues := make(map[string]interface{}, len(indexed))
	if err := abi.ParseTopicsIntoMap(topicValues, indexed, vLog.Topics[1:]); err != nil {
		return nil, errors.Wrapf(ErrEventShape, "topics: %v", err)
	}

	data, err := l.event.Inputs.NonIndexed().Unpack(vLog.Data)
	if err != nil {
		return nil, errors.Wrapf(ErrEventShape, "data: %v", err)
	}

	args := make([]interface{}, 0, len(l.event.Inputs))
	for _, input := range l.event.Inputs {
		if input.Indexed {
			args = append(args, topicValues[input.Name])
			continue
		}

		args = append(args, data[0])
		data = data[1:]
	}

	return args, nil
}
