package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Protocol names the intent flavour an Intent was mapped from.
type Protocol string

const (
	// ProtocolSettler is an order opened on a settler contract (Open event).
	ProtocolSettler Protocol = "settler"

	// ProtocolCalls is an intent carrying call descriptors (IntentCreated event).
	ProtocolCalls Protocol = "calls"
)

// Intent is the protocol-independent view of an on-chain intent.
type Intent struct {
	Hash             common.Hash
	Protocol         Protocol
	Creator          common.Address
	Prover           common.Address
	SourceChain      uint64
	DestinationChain uint64
	Calls            []Call
	Reward           Reward
	Expiry           time.Time
	Nonce            *big.Int

	// OriginData is the raw order for settler intents
	OriginData []byte

	BlockNumber uint64
	TxHash      common.Hash
}

// Call is a single destination call of an intent.
type Call struct {
	Target common.Address
	Data   []byte
	Value  *big.Int
}

// Reward is what the filler gets on the source chain.
type Reward struct {
	Tokens []TokenAmount
	Native *big.Int
}

type TokenAmount struct {
	Token  common.Address
	Amount *big.Int
}

// Expired reports whether the intent can no longer be filled at now.
// Intents without expiry never expire.
func (i *Intent) Expired(now time.Time) bool {
	return !i.Expiry.IsZero() && !now.Before(i.Expiry)
}

// ToResponse converts an Intent to an IntentResponse
func (i *Intent) ToResponse() *IntentResponse {
	calls := make([]CallResponse, 0, len(i.Calls))
	for _, c := range i.Calls {
		calls = append(calls, CallResponse{
			Target: c.Target.Hex(),
			Data:   common.Bytes2Hex(c.Data),
			Value:  bigString(c.Value),
		})
	}

	return &IntentResponse{
		Hash:             i.Hash.Hex(),
		Protocol:         string(i.Protocol),
		Creator:          i.Creator.Hex(),
		SourceChain:      i.SourceChain,
		DestinationChain: i.DestinationChain,
		Calls:            calls,
		NativeReward:     bigString(i.Reward.Native),
		Expiry:           i.Expiry,
		BlockNumber:      i.BlockNumber,
		TxHash:           i.TxHash.Hex(),
	}
}

// IntentResponse represents the response format for an intent
type IntentResponse struct {
	Hash             string         `json:"hash"`
	Protocol         string         `json:"protocol"`
	Creator          string         `json:"creator"`
	SourceChain      uint64         `json:"source_chain"`
	DestinationChain uint64         `json:"destination_chain"`
	Calls            []CallResponse `json:"calls"`
	NativeReward     string         `json:"native_reward"`
	Expiry           time.Time      `json:"expiry"`
	BlockNumber      uint64         `json:"block_number"`
	TxHash           string         `json:"tx_hash"`
}

type CallResponse struct {
	Target string `json:"target"`
	Data   string `json:"data"`
	Value  string `json:"value"`
}

// FillStatus is the journal state of one fill attempt.
type FillStatus string

const (
	// FillStatusPending means the attempt was recorded but not yet submitted
	FillStatusPending FillStatus = "pending"

	// FillStatusSubmitted means a transaction was accepted by the destination chain
	FillStatusSubmitted FillStatus = "submitted"

	// FillStatusFailed means the attempt ended without an accepted transaction
	FillStatusFailed FillStatus = "failed"
)

// Fill is a journaled fill attempt.
type Fill struct {
	ID               uuid.UUID
	IntentHash       common.Hash
	Protocol         Protocol
	SourceChain      uint64
	DestinationChain uint64
	Status           FillStatus

	// CallsSent counts the transactions accepted for the intent so far,
	// including those of earlier failed attempts
	CallsSent int

	TxHash    *common.Hash
	Nonce     *uint64
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ToResponse converts a Fill to a FillResponse
func (f *Fill) ToResponse() *FillResponse {
	res := &FillResponse{
		ID:               f.ID.String(),
		IntentHash:       f.IntentHash.Hex(),
		Protocol:         string(f.Protocol),
		SourceChain:      f.SourceChain,
		DestinationChain: f.DestinationChain,
		Status:           string(f.Status),
		CallsSent:        f.CallsSent,
		Nonce:            f.Nonce,
		Error:            f.Error,
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.UpdatedAt,
	}

	if f.TxHash != nil {
		res.TxHash = f.TxHash.Hex()
	}

	return res
}

// FillResponse represents the response format for a fill attempt
type FillResponse struct {
	ID               string    `json:"id"`
	IntentHash       string    `json:"intent_hash"`
	Protocol         string    `json:"protocol"`
	SourceChain      uint64    `json:"source_chain"`
	DestinationChain uint64    `json:"destination_chain"`
	Status           string    `json:"status"`
	CallsSent        int       `json:"calls_sent"`
	TxHash           string    `json:"tx_hash,omitempty"`
	Nonce            *uint64   `json:"nonce,omitempty"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}

	return v.String()
}
