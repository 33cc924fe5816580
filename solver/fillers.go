package solver

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/speedrun-hq/settler/contracts"
	"github.com/speedrun-hq/settler/models"
	"github.com/speedrun-hq/settler/order"
	"github.com/speedrun-hq/settler/registry"
	"github.com/speedrun-hq/settler/settler"
)

// Transactor submits transactions from the solver account. Implemented by signer.NonceKeeper.
type Transactor interface {
	Address() common.Address
	Transact(
		ctx context.Context,
		chainID uint64,
		fn func(opts *bind.TransactOpts) (*types.Transaction, error),
	) (*types.Transaction, error)
	SendTransaction(
		ctx context.Context,
		chainID uint64,
		build func(nonce uint64) (*types.Transaction, error),
	) (*types.Transaction, error)
}

// BackendResolver provides contract backends per chain.
type BackendResolver interface {
	Backend(chainID uint64) (bind.ContractBackend, error)
}

// BackendResolverFunc adapts a function to BackendResolver.
type BackendResolverFunc func(chainID uint64) (bind.ContractBackend, error)

func (f BackendResolverFunc) Backend(chainID uint64) (bind.ContractBackend, error) {
	return f(chainID)
}

// SettlerFiller fills settler orders by calling fill on the destination settler.
type SettlerFiller struct {
	registry   registry.Registry
	backends   BackendResolver
	transactor Transactor
	fillerData []byte
}

var _ Filler = (*SettlerFiller)(nil)

// NewSettlerFiller creates a SettlerFiller. The filler data names the solver
// account as the party to repay on the origin chain.
func NewSettlerFiller(reg registry.Registry, backends BackendResolver, transactor Transactor) *SettlerFiller {
	filler := order.AddressToBytes32(transactor.Address())

	return &SettlerFiller{
		registry:   reg,
		backends:   backends,
		transactor: transactor,
		fillerData: filler[:],
	}
}

func (f *SettlerFiller) Protocol() models.Protocol { return models.ProtocolSettler }

// Fillable reads the destination status of the order.
func (f *SettlerFiller) Fillable(ctx context.Context, intent *models.Intent) (bool, error) {
	contract, err := f.contract(intent.DestinationChain)
	if err != nil {
		return false, err
	}

	var out []interface{}

	opts := &bind.CallOpts{Context: ctx, From: f.transactor.Address()}
	if err := contract.Call(opts, &out, contracts.MethodOrderStatus, [32]byte(intent.Hash)); err != nil {
		return false, errors.Wrap(err, "failed to read order status")
	}

	if len(out) != 1 {
		return false, errors.Errorf("unexpected orderStatus output length %d", len(out))
	}

	status, ok := out[0].(uint8)
	if !ok {
		return false, errors.Errorf("unexpected orderStatus output type %T", out[0])
	}

	return settler.Status(status) == settler.StatusUnfilled, nil
}

// Fill submits fill(orderId, originData, fillerData) through the transactor.
func (f *SettlerFiller) Fill(ctx context.Context, intent *models.Intent, attempt Attempt) (*types.Transaction, error) {
	if attempt.Sent > 0 {
		return nil, errors.New("fill transaction already sent")
	}

	data, err := order.Decode(intent.OriginData)
	if err != nil {
		return nil, err
	}

	if uint64(data.DestinationDomain) != intent.DestinationChain {
		return nil, errors.Errorf(
			"order destination %d differs from intent destination %d",
			data.DestinationDomain,
			intent.DestinationChain,
		)
	}

	contract, err := f.contract(intent.DestinationChain)
	if err != nil {
		return nil, err
	}

	tx, err := f.transactor.Transact(ctx, intent.DestinationChain, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return contract.Transact(opts, contracts.MethodFill, [32]byte(intent.Hash), intent.OriginData, f.fillerData)
	})
	if err != nil {
		return nil, err
	}

	attempt.accepted(tx)

	return tx, nil
}

func (f *SettlerFiller) contract(chainID uint64) (*bind.BoundContract, error) {
	if chainID > math.MaxUint32 {
		return nil, errors.Errorf("chain id %d is not a settler domain", chainID)
	}

	address, err := f.registry.CounterpartFor(uint32(chainID))
	if err != nil {
		return nil, err
	}

	backend, err := f.backends.Backend(chainID)
	if err != nil {
		return nil, err
	}

	return bind.NewBoundContract(address, contracts.Settler(), backend, backend, backend), nil
}

// CallFiller fills intents by executing their calls from the solver account.
// Calls are sent as consecutive transactions starting after those the attempt
// already sent; the last one is returned.
type CallFiller struct {
	backends   BackendResolver
	transactor Transactor
}

var _ Filler = (*CallFiller)(nil)

func NewCallFiller(backends BackendResolver, transactor Transactor) *CallFiller {
	return &CallFiller{backends: backends, transactor: transactor}
}

func (f *CallFiller) Protocol() models.Protocol { return models.ProtocolCalls }

// Fillable requires at least one call with a contract target.
func (f *CallFiller) Fillable(ctx context.Context, intent *models.Intent) (bool, error) {
	if len(intent.Calls) == 0 {
		return false, nil
	}

	backend, err := f.backends.Backend(intent.DestinationChain)
	if err != nil {
		return false, err
	}

	for _, call := range intent.Calls {
		code, err := backend.PendingCodeAt(ctx, call.Target)
		if err != nil {
			return false, errors.Wrapf(err, "failed to read code of %s", call.Target.Hex())
		}

		if len(code) == 0 {
			return false, nil
		}
	}

	return true, nil
}

func (f *CallFiller) Fill(ctx context.Context, intent *models.Intent, attempt Attempt) (*types.Transaction, error) {
	if attempt.Sent >= len(intent.Calls) {
		return nil, errors.Errorf("all %d calls already sent", len(intent.Calls))
	}

	backend, err := f.backends.Backend(intent.DestinationChain)
	if err != nil {
		return nil, err
	}

	var last *types.Transaction

	for i := attempt.Sent; i < len(intent.Calls); i++ {
		call := intent.Calls[i]

		tx, err := f.transactor.SendTransaction(ctx, intent.DestinationChain, func(nonce uint64) (*types.Transaction, error) {
			return f.buildCall(ctx, backend, call, nonce)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "call %d of %d", i+1, len(intent.Calls))
		}

		attempt.accepted(tx)
		last = tx
	}

	return last, nil
}

func (f *CallFiller) buildCall(
	ctx context.Context,
	backend bind.ContractBackend,
	call models.Call,
	nonce uint64,
) (*types.Transaction, error) {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to suggest gas price")
	}

	target := call.Target

	gas, err := backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  f.transactor.Address(),
		To:    &target,
		Value: value,
		Data:  call.Data,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to estimate gas")
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &target,
		Value:    value,
		Data:     call.Data,
	}), nil
}
