package signer

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/speedrun-hq/settler/logging"
)

// ChainClient is the part of a chain client the nonce keeper needs.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// ChainResolver provides chain-specific clients.
type ChainResolver interface {
	GetClient(chainID uint64) (ChainClient, error)
}

// NonceKeeper decorates a Signer with a per-chain nonce cache. Every
// transaction goes through a Reservation so that concurrent submissions on
// one chain get consecutive nonces. Chains never block each other.
type NonceKeeper struct {
	Signer

	resolver ChainResolver
	logger   zerolog.Logger

	mu    sync.Mutex
	slots map[uint64]*slot

	committed atomic.Uint64
	released  atomic.Uint64
}

// slot is one chain's nonce cache. sem is held from Reserve until the
// reservation is committed or released.
type slot struct {
	sem    chan struct{}
	loaded atomic.Bool
	next   atomic.Uint64
}

// KeeperStats is a snapshot of reservation outcomes.
type KeeperStats struct {
	Committed uint64
	Released  uint64
}

var _ Signer = (*NonceKeeper)(nil)

func NewNonceKeeper(base Signer, resolver ChainResolver, logger zerolog.Logger) *NonceKeeper {
	return &NonceKeeper{
		Signer:   base,
		resolver: resolver,
		logger: logger.With().
			Str(logging.FieldModule, "nonce_keeper").
			Str(logging.FieldAddress, base.Address().Hex()).
			Logger(),
		slots: make(map[uint64]*slot),
	}
}

func (k *NonceKeeper) slot(chainID uint64) *slot {
	k.mu.Lock()
	defer k.mu.Unlock()

	s, ok := k.slots[chainID]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		k.slots[chainID] = s
	}

	return s
}

// Reserve blocks until the chain's nonce is free and hands it out.
// The caller must Commit or Release the reservation.
func (k *NonceKeeper) Reserve(ctx context.Context, chainID uint64) (*Reservation, error) {
	s := k.slot(chainID)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "waiting for nonce on chain %d", chainID)
	}

	if !s.loaded.Load() {
		if err := k.load(ctx, chainID, s); err != nil {
			<-s.sem
			return nil, err
		}
	}

	return &Reservation{
		keeper:  k,
		slot:    s,
		chainID: chainID,
		nonce:   s.next.Load(),
	}, nil
}

// load fetches the pending nonce. Must hold s.sem.
func (k *NonceKeeper) load(ctx context.Context, chainID uint64, s *slot) error {
	client, err := k.resolver.GetClient(chainID)
	if err != nil {
		return err
	}

	nonce, err := client.PendingNonceAt(ctx, k.Address())
	if err != nil {
		return errors.Wrapf(err, "failed to get pending nonce on chain %d", chainID)
	}

	s.next.Store(nonce)
	s.loaded.Store(true)

	k.logger.Info().
		Uint64(logging.FieldChain, chainID).
		Uint64(logging.FieldNonce, nonce).
		Msg("Loaded pending nonce")

	return nil
}

// Next returns the nonce the next reservation on chainID would get,
// or false if it hasn't been loaded yet.
func (k *NonceKeeper) Next(chainID uint64) (uint64, bool) {
	k.mu.Lock()
	s, ok := k.slots[chainID]
	k.mu.Unlock()

	if !ok || !s.loaded.Load() {
		return 0, false
	}

	return s.next.Load(), true
}

// Chains returns chains that have a loaded nonce.
func (k *NonceKeeper) Chains() []uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()

	chains := make([]uint64, 0, len(k.slots))
	for chainID, s := range k.slots {
		if s.loaded.Load() {
			chains = append(chains, chainID)
		}
	}

	return chains
}

func (k *NonceKeeper) Stats() KeeperStats {
	return KeeperStats{
		Committed: k.committed.Load(),
		Released:  k.released.Load(),
	}
}

// SendTransaction builds a transaction with the reserved nonce, signs and submits it.
func (k *NonceKeeper) SendTransaction(
	ctx context.Context,
	chainID uint64,
	build func(nonce uint64) (*types.Transaction, error),
) (*types.Transaction, error) {
	return k.submit(ctx, chainID, func(r *Reservation) (*types.Transaction, error) {
		tx, err := build(r.Nonce())
		if err != nil {
			return nil, errors.Wrap(err, "failed to build tx")
		}

		return k.SignTx(chainID, tx)
	})
}

// Transact runs fn with transact opts bound to the reserved nonce, as
// abigen bindings expect. fn must return the signed tx without sending it
// (opts.NoSend is set); the keeper submits it.
func (k *NonceKeeper) Transact(
	ctx context.Context,
	chainID uint64,
	fn func(opts *bind.TransactOpts) (*types.Transaction, error),
) (*types.Transaction, error) {
	from := k.Address()

	return k.submit(ctx, chainID, func(r *Reservation) (*types.Transaction, error) {
		opts := &bind.TransactOpts{
			From:    from,
			Nonce:   new(big.Int).SetUint64(r.Nonce()),
			Context: ctx,
			NoSend:  true,
			Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
				if addr != from {
					return nil, bind.ErrNotAuthorized
				}

				return k.SignTx(chainID, tx)
			},
		}

		return fn(opts)
	})
}

// submit reserves a nonce, gets a signed tx from sign and sends it.
// The nonce is committed once the node accepted the tx and released otherwise.
func (k *NonceKeeper) submit(
	ctx context.Context,
	chainID uint64,
	sign func(r *Reservation) (*types.Transaction, error),
) (*types.Transaction, error) {
	client, err := k.resolver.GetClient(chainID)
	if err != nil {
		return nil, err
	}

	r, err := k.Reserve(ctx, chainID)
	if err != nil {
		return nil, err
	}

	tx, err := sign(r)
	switch {
	case err != nil:
		r.Release()
		return nil, err
	case tx == nil:
		r.Release()
		return nil, errors.New("no transaction to send")
	case tx.Nonce() != r.Nonce():
		r.Release()
		return nil, errors.Errorf("tx nonce %d differs from reserved nonce %d", tx.Nonce(), r.Nonce())
	}

	if err := client.SendTransaction(ctx, tx); err != nil && !IsAlreadyKnown(err) {
		r.Release()
		return nil, errors.Wrapf(err, "failed to send tx with nonce %d", r.Nonce())
	}

	r.Commit()

	k.logger.Info().
		Uint64(logging.FieldChain, chainID).
		Uint64(logging.FieldNonce, tx.Nonce()).
		Str(logging.FieldTx, tx.Hash().Hex()).
		Msg("Transaction sent")

	return tx, nil
}

// IsAlreadyKnown reports whether a node rejected a tx because it already has it.
// The tx was accepted earlier, so its nonce is spent.
func IsAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// Reservation is the exclusive right to use one nonce on one chain.
type Reservation struct {
	keeper  *NonceKeeper
	slot    *slot
	chainID uint64
	nonce   uint64
	once    sync.Once
}

func (r *Reservation) Nonce() uint64 {
	return r.nonce
}

// Commit marks the nonce as used and frees the chain. Only the first
// Commit or Release has an effect.
func (r *Reservation) Commit() {
	r.once.Do(func() {
		r.slot.next.Store(r.nonce + 1)
		r.keeper.committed.Add(1)
		<-r.slot.sem

		r.keeper.logger.Debug().
			Uint64(logging.FieldChain, r.chainID).
			Uint64(logging.FieldNonce, r.nonce).
			Msg("Nonce committed")
	})
}

// Release frees the chain without using the nonce.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.keeper.released.Add(1)
		<-r.slot.sem

		r.keeper.logger.Debug().
			Uint64(logging.FieldChain, r.chainID).
			Uint64(logging.FieldNonce, r.nonce).
			Msg("Nonce released")
	})
}

// ChainResolverFunc adapts a function to ChainResolver.
type ChainResolverFunc func(chainID uint64) (ChainClient, error)

func (f ChainResolverFunc) GetClient(chainID uint64) (ChainClient, error) {
	return f(chainID)
}
