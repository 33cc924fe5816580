// Package settler implements the per-chain order state machine: resolving raw
// orders into executable instructions, opening orders on the origin chain and
// filling them on the destination chain.
package settler

import (
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/speedrun-hq/settler/logging"
	"github.com/speedrun-hq/settler/order"
	"github.com/speedrun-hq/settler/registry"
)

// Config holds the dependencies of a Settler.
type Config struct {
	// ChainID is this chain's domain identifier.
	ChainID uint32

	// Address is this settler's own address. It also holds opened funds.
	Address common.Address

	Registry   registry.Registry
	Bank       Bank
	Authorizer Authorizer

	// Clock defaults to time.Now.
	Clock func() time.Time

	Logger zerolog.Logger
}

// Settler is the state machine of one chain.
type Settler struct {
	chainID    uint32
	address    common.Address
	escrow     [32]byte
	registry   registry.Registry
	bank       Bank
	authorizer Authorizer
	now        func() time.Time
	logger     zerolog.Logger

	mu       sync.Mutex
	statuses map[Role]map[order.OrderID]Status
	orders   map[order.OrderID]order.OrderData
	fills    map[order.OrderID]FillRecord
	nonces   map[[32]byte]*big.Int

	subsMu sync.RWMutex
	subs   []func(Event)
}

// New creates a Settler.
func New(cfg Config) (*Settler, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("registry is required")
	case cfg.Bank == nil:
		return nil, errors.New("bank is required")
	case cfg.Address == (common.Address{}):
		return nil, errors.New("settler address is required")
	}

	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	if cfg.Authorizer == nil {
		cfg.Authorizer = ECDSAAuthorizer{}
	}

	return &Settler{
		chainID:    cfg.ChainID,
		address:    cfg.Address,
		escrow:     order.AddressToBytes32(cfg.Address),
		registry:   cfg.Registry,
		bank:       cfg.Bank,
		authorizer: cfg.Authorizer,
		now:        cfg.Clock,
		logger: cfg.Logger.With().
			Uint64(logging.FieldChain, uint64(cfg.ChainID)).
			Str(logging.FieldModule, "settler").
			Logger(),
		statuses: map[Role]map[order.OrderID]Status{
			RoleOrigin:      make(map[order.OrderID]Status),
			RoleDestination: make(map[order.OrderID]Status),
		},
		orders: make(map[order.OrderID]order.OrderData),
		fills:  make(map[order.OrderID]FillRecord),
		nonces: make(map[[32]byte]*big.Int),
	}, nil
}

// ChainID returns this settler's domain.
func (s *Settler) ChainID() uint32 { return s.chainID }

// Address returns this settler's address.
func (s *Settler) Address() common.Address { return s.address }

// Resolve validates a raw order against this chain's state and returns its
// executable view. It never mutates state.
func (s *Settler) Resolve(
	orderType [32]byte,
	sender [32]byte,
	rawOrderData []byte,
	openDeadline, fillDeadline uint32,
) (*ResolvedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolved, _, err := s.resolve(orderType, sender, rawOrderData, openDeadline, fillDeadline)
	return resolved, err
}

func (s *Settler) resolve(
	orderType [32]byte,
	sender [32]byte,
	rawOrderData []byte,
	openDeadline, fillDeadline uint32,
) (*ResolvedOrder, order.OrderData, error) {
	data, err := order.DecodeTyped(orderType, rawOrderData)
	if err != nil {
		return nil, order.OrderData{}, err
	}

	if data.OriginDomain != s.chainID {
		return nil, order.OrderData{}, errors.Wrapf(
			ErrWrongOriginDomain,
			"order origin %d, settler chain %d",
			data.OriginDomain,
			s.chainID,
		)
	}

	if current := s.nonceOf(sender); data.SenderNonce.Cmp(current) != 0 {
		return nil, order.OrderData{}, errors.Wrapf(
			ErrNonceMismatch,
			"order nonce %s, current %s",
			data.SenderNonce,
			current,
		)
	}

	destinationSettler, err := s.registry.CounterpartFor(data.DestinationDomain)
	if err != nil {
		return nil, order.OrderData{}, errors.Wrapf(ErrUnknownDestination, "domain %d: %v", data.DestinationDomain, err)
	}

	// the deadline passed in always wins over the embedded one
	data.FillDeadline = fillDeadline

	originData, err := order.Encode(data)
	if err != nil {
		return nil, order.OrderData{}, err
	}

	id := order.OrderID(crypto.Keccak256Hash(originData))

	resolved := &ResolvedOrder{
		User:          sender,
		OriginChainID: s.chainID,
		OpenDeadline:  openDeadline,
		FillDeadline:  fillDeadline,
		OrderID:       id,
		MaxSpent: []Output{{
			Token:     data.OutputToken,
			Amount:    new(big.Int).Set(data.AmountOut),
			Recipient: data.Recipient,
			ChainID:   data.DestinationDomain,
		}},
		MinReceived: []Output{{
			Token:   data.InputToken,
			Amount:  new(big.Int).Set(data.AmountIn),
			ChainID: data.OriginDomain,
		}},
		FillInstructions: []FillInstruction{{
			DestinationChainID: data.DestinationDomain,
			DestinationSettler: order.AddressToBytes32(destinationSettler),
			OriginData:         originData,
		}},
	}

	return resolved, data, nil
}

// Open opens an order funded by the caller.
func (s *Settler) Open(caller [32]byte, o OnchainCrossChainOrder) (order.OrderID, error) {
	s.mu.Lock()

	if err := s.checkDeadline(o.FillDeadline); err != nil {
		s.mu.Unlock()
		return order.OrderID{}, err
	}

	resolved, data, err := s.resolve(o.OrderDataType, caller, o.OrderData, math.MaxUint32, o.FillDeadline)
	if err != nil {
		s.mu.Unlock()
		return order.OrderID{}, err
	}

	event, err := s.open(caller, resolved, data)
	s.mu.Unlock()

	if err != nil {
		return order.OrderID{}, err
	}

	s.emit(event)

	return resolved.OrderID, nil
}

// OpenFor opens an order on behalf of a user who authorized it off chain.
func (s *Settler) OpenFor(o GaslessCrossChainOrder, signature []byte) (order.OrderID, error) {
	s.mu.Lock()

	if err := s.checkDeadline(o.OpenDeadline); err != nil {
		s.mu.Unlock()
		return order.OrderID{}, err
	}

	if o.OriginSettler != s.address {
		s.mu.Unlock()
		return order.OrderID{}, errors.Wrapf(ErrWrongSettler, "order settler %s", o.OriginSettler.Hex())
	}

	if o.OriginChainID != s.chainID {
		s.mu.Unlock()
		return order.OrderID{}, errors.Wrapf(ErrWrongOriginDomain, "order chain %d", o.OriginChainID)
	}

	resolved, data, err := s.resolve(o.OrderDataType, o.User, o.OrderData, o.OpenDeadline, o.FillDeadline)
	if err != nil {
		s.mu.Unlock()
		return order.OrderID{}, err
	}

	digest := OpenForDigest(s.address, resolved.OrderID, o.OpenDeadline)
	if err := s.authorizer.Authorize(o.User, digest, signature); err != nil {
		s.mu.Unlock()
		return order.OrderID{}, err
	}

	event, err := s.open(o.User, resolved, data)
	s.mu.Unlock()

	if err != nil {
		return order.OrderID{}, err
	}

	s.emit(event)

	return resolved.OrderID, nil
}

// open applies the origin side effects. Must hold s.mu.
func (s *Settler) open(payer [32]byte, resolved *ResolvedOrder, data order.OrderData) (Event, error) {
	id := resolved.OrderID

	if err := checkTransition(RoleOrigin, s.statuses[RoleOrigin][id], StatusOpened); err != nil {
		return nil, err
	}

	// funds first: a failed transfer leaves no trace of the order
	if err := s.bank.Transfer(data.InputToken, payer, s.escrow, data.AmountIn); err != nil {
		return nil, errors.Wrap(err, "failed to transfer input amount")
	}

	s.orders[id] = data.Clone()
	s.statuses[RoleOrigin][id] = StatusOpened

	nonce := s.nonceOf(payer)
	s.nonces[payer] = new(big.Int).Add(nonce, big.NewInt(1))

	s.logger.Info().
		Str(logging.FieldOrder, id.Hex()).
		Uint32("destination", data.DestinationDomain).
		Str("amount_in", data.AmountIn.String()).
		Msg("Order opened")

	return Opened{OrderID: id, ResolvedOrder: *resolved}, nil
}

// Fill fills an order on this (destination) chain on behalf of filler.
func (s *Settler) Fill(orderID order.OrderID, rawOriginData, fillerData []byte, filler [32]byte) error {
	s.mu.Lock()

	event, err := s.fill(orderID, rawOriginData, fillerData, filler)
	s.mu.Unlock()

	if err != nil {
		return err
	}

	s.emit(event)

	return nil
}

func (s *Settler) fill(orderID order.OrderID, rawOriginData, fillerData []byte, filler [32]byte) (Event, error) {
	// The canonical encoding is unique, so hashing the raw bytes equals
	// re-deriving the id from the decoded order.
	if computed := order.OrderID(crypto.Keccak256Hash(rawOriginData)); computed != orderID {
		return nil, errors.Wrapf(ErrOrderIDMismatch, "given %s, computed %s", orderID.Hex(), computed.Hex())
	}

	data, err := order.Decode(rawOriginData)
	if err != nil {
		return nil, err
	}

	if data.DestinationDomain != s.chainID {
		return nil, errors.Wrapf(
			ErrWrongDestinationDomain,
			"order destination %d, settler chain %d",
			data.DestinationDomain,
			s.chainID,
		)
	}

	if _, err := s.registry.CounterpartFor(data.OriginDomain); err != nil {
		return nil, errors.Wrapf(ErrUnknownOrigin, "domain %d: %v", data.OriginDomain, err)
	}

	if err := s.checkDeadline(data.FillDeadline); err != nil {
		return nil, err
	}

	prev := s.statuses[RoleDestination][orderID]
	if err := checkTransition(RoleDestination, prev, StatusFilled); err != nil {
		return nil, err
	}

	// The status flip is authoritative before value moves. If the transfer
	// fails the whole fill is reverted, event included.
	s.orders[orderID] = data
	s.statuses[RoleDestination][orderID] = StatusFilled
	s.fills[orderID] = FillRecord{Filler: filler, FillerData: append([]byte(nil), fillerData...)}

	event := Filled{
		OrderID:    orderID,
		OriginData: append([]byte(nil), rawOriginData...),
		FillerData: append([]byte(nil), fillerData...),
	}

	if err := s.bank.Transfer(data.OutputToken, filler, data.Recipient, data.AmountOut); err != nil {
		s.revertFill(orderID)

		s.logger.Warn().
			Err(err).
			Str(logging.FieldOrder, orderID.Hex()).
			Msg("Fill reverted: output transfer failed")

		return nil, errors.Wrap(err, "failed to transfer output amount")
	}

	s.logger.Info().
		Str(logging.FieldOrder, orderID.Hex()).
		Uint32("origin", data.OriginDomain).
		Str("amount_out", data.AmountOut.String()).
		Msg("Order filled")

	return event, nil
}

func (s *Settler) revertFill(orderID order.OrderID) {
	delete(s.statuses[RoleDestination], orderID)
	delete(s.fills, orderID)

	// keep an origin-side record of the same id untouched
	if _, opened := s.statuses[RoleOrigin][orderID]; !opened {
		delete(s.orders, orderID)
	}
}

// MarkSettled moves an opened order to SETTLED. What triggers settlement is
// decided by the settlement protocol variant, not here.
func (s *Settler) MarkSettled(orderID order.OrderID) error {
	return s.transitionOrigin(orderID, StatusSettled)
}

// MarkRefunded moves an opened order to REFUNDED.
func (s *Settler) MarkRefunded(orderID order.OrderID) error {
	return s.transitionOrigin(orderID, StatusRefunded)
}

func (s *Settler) transitionOrigin(orderID order.OrderID, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkTransition(RoleOrigin, s.statuses[RoleOrigin][orderID], to); err != nil {
		return err
	}

	s.statuses[RoleOrigin][orderID] = to

	return nil
}

// Status returns this chain's view of an order for the given role.
func (s *Settler) Status(role Role, orderID order.OrderID) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.statuses[role][orderID]
}

// Order returns the recorded order data, if any.
func (s *Settler) Order(orderID order.OrderID) (order.OrderData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.orders[orderID]
	if !ok {
		return order.OrderData{}, false
	}

	return data.Clone(), true
}

// Filler returns who filled an order on this chain.
func (s *Settler) Filler(orderID order.OrderID) (FillRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.fills[orderID]

	return rec, ok
}

// Nonce returns the sender's current order counter.
func (s *Settler) Nonce(sender [32]byte) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return new(big.Int).Set(s.nonceOf(sender))
}

// Subscribe registers fn for committed events.
// fn runs synchronously on the caller's goroutine after the state lock is released.
func (s *Settler) Subscribe(fn func(Event)) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	s.subs = append(s.subs, fn)
}

func (s *Settler) emit(event Event) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for _, fn := range s.subs {
		fn(event)
	}
}

func (s *Settler) nonceOf(sender [32]byte) *big.Int {
	if n, ok := s.nonces[sender]; ok {
		return n
	}

	return new(big.Int)
}

// checkDeadline rejects when the current time is at or past deadline.
func (s *Settler) checkDeadline(deadline uint32) error {
	now := s.now().Unix()
	if now >= int64(deadline) {
		return errors.Wrapf(ErrExpired, "deadline %d, now %d", deadline, now)
	}

	return nil
}
