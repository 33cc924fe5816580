package listener

import (
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/speedrun-hq/settler/contracts"
	"github.com/speedrun-hq/settler/models"
	"github.com/speedrun-hq/settler/order"
)

const (
	intentCreatedFields = 11
	openFields          = 2
)

// IntentCreatedMapper maps IntentCreated events of call intent sources.
type IntentCreatedMapper struct{}

var _ Mapper = IntentCreatedMapper{}

func (IntentCreatedMapper) Event() string { return contracts.EventIntentCreated }

func (IntentCreatedMapper) MapEvent(args []interface{}) (*models.Intent, error) {
	if len(args) != intentCreatedFields {
		return nil, errors.Wrapf(ErrEventShape, "expected %d fields, got %d", intentCreatedFields, len(args))
	}

	hash, ok := args[0].([32]byte)
	if !ok {
		return nil, fieldError("hash", args[0])
	}

	creator, ok := args[1].(common.Address)
	if !ok {
		return nil, fieldError("creator", args[1])
	}

	prover, ok := args[2].(common.Address)
	if !ok {
		return nil, fieldError("prover", args[2])
	}

	destination, ok := args[3].(*big.Int)
	if !ok || !destination.IsUint64() {
		return nil, fieldError("destination", args[3])
	}

	targets, ok := args[4].([]common.Address)
	if !ok {
		return nil, fieldError("targets", args[4])
	}

	data, ok := args[5].([][]byte)
	if !ok {
		return nil, fieldError("data", args[5])
	}

	rewardTokens, ok := args[6].([]common.Address)
	if !ok {
		return nil, fieldError("rewardTokens", args[6])
	}

	rewardAmounts, ok := args[7].([]*big.Int)
	if !ok {
		return nil, fieldError("rewardAmounts", args[7])
	}

	nativeReward, ok := args[8].(*big.Int)
	if !ok {
		return nil, fieldError("nativeReward", args[8])
	}

	expiry, ok := args[9].(*big.Int)
	if !ok || !expiry.IsInt64() {
		return nil, fieldError("expiry", args[9])
	}

	nonce, ok := args[10].(*big.Int)
	if !ok {
		return nil, fieldError("nonce", args[10])
	}

	if len(targets) != len(data) {
		return nil, errors.Wrapf(ErrEventShape, "%d targets with %d calldata entries", len(targets), len(data))
	}

	if len(rewardTokens) != len(rewardAmounts) {
		return nil, errors.Wrapf(ErrEventShape, "%d reward tokens with %d amounts", len(rewardTokens), len(rewardAmounts))
	}

	calls := make([]models.Call, len(targets))
	for i := range targets {
		calls[i] = models.Call{Target: targets[i], Data: data[i], Value: new(big.Int)}
	}

	rewards := make([]models.TokenAmount, len(rewardTokens))
	for i := range rewardTokens {
		rewards[i] = models.TokenAmount{Token: rewardTokens[i], Amount: rewardAmounts[i]}
	}

	intent := &models.Intent{
		Hash:             hash,
		Protocol:         models.ProtocolCalls,
		Creator:          creator,
		Prover:           prover,
		DestinationChain: destination.Uint64(),
		Calls:            calls,
		Reward:           models.Reward{Tokens: rewards, Native: nativeReward},
		Nonce:            nonce,
	}

	if expiry.Sign() > 0 {
		intent.Expiry = time.Unix(expiry.Int64(), 0).UTC()
	}

	return intent, nil
}

// OpenMapper maps Open events of settler contracts. The embedded order must
// hash to the event's order id.
type OpenMapper struct{}

var _ Mapper = OpenMapper{}

func (OpenMapper) Event() string { return contracts.EventOpen }

func (OpenMapper) MapEvent(args []interface{}) (*models.Intent, error) {
	if len(args) != openFields {
		return nil, errors.Wrapf(ErrEventShape, "expected %d fields, got %d", openFields, len(args))
	}

	orderID, ok := args[0].([32]byte)
	if !ok {
		return nil, fieldError("orderId", args[0])
	}

	originData, ok := args[1].([]byte)
	if !ok {
		return nil, fieldError("originData", args[1])
	}

	data, err := order.Decode(originData)
	if err != nil {
		return nil, errors.Wrapf(ErrEventShape, "origin data: %v", err)
	}

	id, err := order.ID(data)
	if err != nil {
		return nil, errors.Wrapf(ErrEventShape, "origin data: %v", err)
	}

	if id != order.OrderID(orderID) {
		return nil, errors.Wrapf(ErrEventShape, "order id %s does not match origin data (%s)", common.Hash(orderID).Hex(), id.Hex())
	}

	intent := &models.Intent{
		Hash:             orderID,
		Protocol:         models.ProtocolSettler,
		Creator:          order.Bytes32ToAddress(data.Sender),
		SourceChain:      uint64(data.OriginDomain),
		DestinationChain: uint64(data.DestinationDomain),
		Reward: models.Reward{
			Tokens: []models.TokenAmount{{
				Token:  order.Bytes32ToAddress(data.InputToken),
				Amount: data.AmountIn,
			}},
		},
		Nonce:      data.SenderNonce,
		OriginData: originData,
	}

	if data.FillDeadline != 0 && data.FillDeadline != math.MaxUint32 {
		intent.Expiry = time.Unix(int64(data.FillDeadline), 0).UTC()
	}

	return intent, nil
}

func fieldError(name string, value interface{}) error {
	return errors.Wrapf(ErrEventShape, "invalid %s field (%T)", name, value)
}
