// Package solver decides which intents to fill and submits the fills.
package solver

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/speedrun-hq/settler/db"
	"github.com/speedrun-hq/settler/logging"
	"github.com/speedrun-hq/settler/models"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers     = 8
	DefaultQueueSize   = 256
	DefaultFillTimeout = 2 * time.Minute
)

// Fill outcomes, also used as metric labels.
const (
	OutcomeSubmitted   = "submitted"
	OutcomeFailed      = "failed"
	OutcomeUnsupported = "unsupported"
	OutcomeExpired     = "expired"
	OutcomeDuplicate   = "duplicate"
	OutcomeNotFillable = "not_fillable"
	OutcomeError       = "error"
)

// ErrStopped is returned by HandleIntent once the solver stopped.
var ErrStopped = errors.New("solver stopped")

// Filler fills intents of one protocol.
type Filler interface {
	Protocol() models.Protocol

	// Fillable reports whether the intent can still be filled on its destination chain
	Fillable(ctx context.Context, intent *models.Intent) (bool, error)

	// Fill submits the transactions of the intent that the attempt has not sent yet
	// and returns the last accepted one
	Fill(ctx context.Context, intent *models.Intent, attempt Attempt) (*types.Transaction, error)
}

// Attempt is the journaled progress a fill starts from.
type Attempt struct {
	// Sent counts the transactions accepted by earlier attempts of the same intent
	Sent int

	// Accepted is called after each transaction the destination chain accepted
	Accepted func(tx *types.Transaction)
}

func (a Attempt) accepted(tx *types.Transaction) {
	if a.Accepted != nil {
		a.Accepted(tx)
	}
}

// Observer receives fill outcomes.
type Observer interface {
	ObserveFill(chainID uint64, protocol, outcome string)
}

type Config struct {
	Journal db.Journal
	Fillers []Filler

	// Chains lists the destination chains the solver fills on
	Chains []uint64

	Observer Observer
	Logger   zerolog.Logger
	Clock    func() time.Time

	Workers     int
	QueueSize   int
	FillTimeout time.Duration
}

// Solver implements listener.Handler. Intents are queued by HandleIntent and
// processed by a bounded pool of workers started with Run.
type Solver struct {
	journal  db.Journal
	fillers  map[models.Protocol]Filler
	chains   map[uint64]struct{}
	observer Observer
	logger   zerolog.Logger
	now      func() time.Time

	workers     int
	fillTimeout time.Duration

	queue chan *models.Intent
	done  chan struct{}

	mu       sync.Mutex
	inflight map[common.Hash]struct{}
}

func New(cfg Config) (*Solver, error) {
	if cfg.Journal == nil {
		return nil, errors.New("journal is required")
	}

	if len(cfg.Fillers) == 0 {
		return nil, errors.New("at least one filler is required")
	}

	fillers := make(map[models.Protocol]Filler, len(cfg.Fillers))
	for _, f := range cfg.Fillers {
		if _, ok := fillers[f.Protocol()]; ok {
			return nil, errors.Errorf("duplicate filler for protocol %q", f.Protocol())
		}

		fillers[f.Protocol()] = f
	}

	chains := make(map[uint64]struct{}, len(cfg.Chains))
	for _, id := range cfg.Chains {
		chains[id] = struct{}{}
	}

	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = DefaultFillTimeout
	}

	return &Solver{
		journal:     cfg.Journal,
		fillers:     fillers,
		chains:      chains,
		observer:    cfg.Observer,
		logger:      cfg.Logger.With().Str(logging.FieldModule, "solver").Logger(),
		now:         cfg.Clock,
		workers:     cfg.Workers,
		fillTimeout: cfg.FillTimeout,
		queue:       make(chan *models.Intent, cfg.QueueSize),
		done:        make(chan struct{}),
		inflight:    make(map[common.Hash]struct{}),
	}, nil
}

// HandleIntent queues the intent. It blocks while the queue is full.
func (s *Solver) HandleIntent(ctx context.Context, intent *models.Intent) error {
	if intent == nil {
		return errors.New("nil intent")
	}

	select {
	case <-s.done:
		return ErrStopped
	default:
	}

	select {
	case s.queue <- intent:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "queueing intent")
	}
}

// Run processes queued intents until ctx is done, then waits for the
// decisions in progress.
func (s *Solver) Run(ctx context.Context) error {
	defer close(s.done)

	group := new(errgroup.Group)
	group.SetLimit(s.workers)

	s.logger.Info().Int("workers", s.workers).Msg("Solver started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Solver stopping, waiting for workers")
			return group.Wait()
		case intent := <-s.queue:
			group.Go(func() error {
				s.Process(ctx, intent)
				return nil
			})
		}
	}
}

// Process runs one fill decision and returns its outcome.
func (s *Solver) Process(ctx context.Context, intent *models.Intent) string {
	logger := s.logger.With().
		Str(logging.FieldIntent, intent.Hash.Hex()).
		Str("protocol", string(intent.Protocol)).
		Uint64(logging.FieldChain, intent.DestinationChain).
		Logger()

	outcome, err := s.process(ctx, intent, logger)

	s.observer.ObserveFill(intent.DestinationChain, string(intent.Protocol), outcome)

	switch {
	case err != nil:
		logger.Error().Err(err).Str("outcome", outcome).Msg("Fill attempt failed")
	case outcome == OutcomeSubmitted:
		logger.Info().Msg("Intent filled")
	default:
		logger.Debug().Str("outcome", outcome).Msg("Intent skipped")
	}

	return outcome
}

func (s *Solver) process(ctx context.Context, intent *models.Intent, logger zerolog.Logger) (string, error) {
	filler, ok := s.fillers[intent.Protocol]
	if !ok {
		return OutcomeUnsupported, nil
	}

	if _, ok := s.chains[intent.DestinationChain]; !ok {
		return OutcomeUnsupported, nil
	}

	if intent.Expired(s.now()) {
		return OutcomeExpired, nil
	}

	if !s.acquire(intent.Hash) {
		return OutcomeDuplicate, nil
	}
	defer s.releaseIntent(intent.Hash)

	ctx, cancel := context.WithTimeout(ctx, s.fillTimeout)
	defer cancel()

	sent, retry, err := s.resumePoint(ctx, intent.Hash)
	if err != nil {
		return OutcomeError, errors.Wrap(err, "failed to check journal")
	}

	if !retry {
		return OutcomeDuplicate, nil
	}

	fillable, err := filler.Fillable(ctx, intent)
	if err != nil {
		return OutcomeError, errors.Wrap(err, "failed to check destination status")
	}

	if !fillable {
		return OutcomeNotFillable, nil
	}

	fill := &models.Fill{
		ID:               uuid.New(),
		IntentHash:       intent.Hash,
		Protocol:         intent.Protocol,
		SourceChain:      intent.SourceChain,
		DestinationChain: intent.DestinationChain,
		Status:           models.FillStatusPending,
		CallsSent:        sent,
	}

	if err := s.journal.CreateFill(ctx, fill); err != nil {
		return OutcomeError, errors.Wrap(err, "failed to journal fill")
	}

	logger = logger.With().Str("fill_id", fill.ID.String()).Logger()
	if sent > 0 {
		logger.Info().Int("calls_sent", sent).Msg("Resuming fill")
	}

	// journal updates must land even if the attempt context expired
	journalCtx := context.WithoutCancel(ctx)

	var progressLost bool

	attempt := Attempt{
		Sent: sent,
		Accepted: func(tx *types.Transaction) {
			sent++

			if err := s.journal.MarkFillProgress(journalCtx, fill.ID, sent, tx.Hash(), tx.Nonce()); err != nil {
				progressLost = true
				logger.Error().Err(err).Str(logging.FieldTx, tx.Hash().Hex()).Msg("Failed to journal fill progress")
			}
		},
	}

	tx, fillErr := filler.Fill(ctx, intent, attempt)
	if fillErr != nil {
		// a failed attempt is resumed from its journaled count; keep it pending when that count is stale
		if progressLost {
			logger.Error().Err(fillErr).Int("calls_sent", sent).Msg("Fill left pending with unjournaled progress")
			return OutcomeFailed, fillErr
		}

		if err := s.journal.MarkFillFailed(journalCtx, fill.ID, fillErr.Error()); err != nil {
			logger.Error().Err(err).Msg("Failed to journal fill failure")
		}

		return OutcomeFailed, fillErr
	}

	if err := s.journal.MarkFillSubmitted(journalCtx, fill.ID, tx.Hash(), tx.Nonce()); err != nil {
		logger.Error().Err(err).Str(logging.FieldTx, tx.Hash().Hex()).Msg("Failed to journal submitted fill")
	}

	return OutcomeSubmitted, nil
}

// resumePoint reads the latest attempt for the intent. Only a failed attempt
// may be followed by another one, starting after the transactions it sent.
// A pending attempt is treated as in progress or interrupted and is left to an operator.
func (s *Solver) resumePoint(ctx context.Context, hash common.Hash) (sent int, retry bool, err error) {
	last, err := s.journal.LatestFill(ctx, hash)
	if errors.Is(err, db.ErrNotFound) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, err
	}

	if last.Status != models.FillStatusFailed {
		return 0, false, nil
	}

	return last.CallsSent, true, nil
}

// acquire marks the intent as in flight; false if it already is.
func (s *Solver) acquire(hash common.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inflight[hash]; ok {
		return false
	}

	s.inflight[hash] = struct{}{}

	return true
}

func (s *Solver) releaseIntent(hash common.Hash) {
	s.mu.Lock()
	delete(s.inflight, hash)
	s.mu.Unlock()
}

type nopObserver struct{}

func (nopObserver) ObserveFill(uint64, string, string) {}
