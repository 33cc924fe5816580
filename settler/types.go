package settler

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/settler/order"
)

// Status is the per-chain state of one order.
type Status uint8

const (
	StatusUnfilled Status = iota
	StatusOpened
	StatusFilled
	StatusSettled
	StatusRefunded
)

func (s Status) String() string {
	switch s {
	case StatusUnfilled:
		return "UNFILLED"
	case StatusOpened:
		return "OPENED"
	case StatusFilled:
		return "FILLED"
	case StatusSettled:
		return "SETTLED"
	case StatusRefunded:
		return "REFUNDED"
	default:
		return "UNKNOWN"
	}
}

// Role is the leg of an order tracked by a settler.
// The same order id has an independent status per role.
type Role uint8

const (
	RoleOrigin Role = iota
	RoleDestination
)

func (r Role) String() string {
	if r == RoleOrigin {
		return "origin"
	}

	return "destination"
}

// Output is one leg of a resolved order.
type Output struct {
	Token     [32]byte
	Amount    *big.Int
	Recipient [32]byte
	ChainID   uint32
}

// FillInstruction tells a filler where and with what data to fill.
type FillInstruction struct {
	DestinationChainID uint32
	DestinationSettler [32]byte
	OriginData         []byte
}

// ResolvedOrder is the read-only projection of an order used to drive execution.
type ResolvedOrder struct {
	User             [32]byte
	OriginChainID    uint32
	OpenDeadline     uint32
	FillDeadline     uint32
	OrderID          order.OrderID
	MaxSpent         []Output
	MinReceived      []Output
	FillInstructions []FillInstruction
}

// OnchainCrossChainOrder is an order opened directly by the funding party.
type OnchainCrossChainOrder struct {
	FillDeadline  uint32
	OrderDataType [32]byte
	OrderData     []byte
}

// GaslessCrossChainOrder is an order opened on behalf of a user who signed it.
type GaslessCrossChainOrder struct {
	OriginSettler common.Address
	User          [32]byte
	OriginChainID uint32
	OpenDeadline  uint32
	FillDeadline  uint32
	OrderDataType [32]byte
	OrderData     []byte
}

// Event is a notification emitted after a committed state change.
type Event interface {
	ID() order.OrderID
}

// Opened is emitted on the origin chain when an order is opened.
type Opened struct {
	OrderID       order.OrderID
	ResolvedOrder ResolvedOrder
}

func (e Opened) ID() order.OrderID { return e.OrderID }

// Filled is emitted on the destination chain. Settlement relayers consume it.
type Filled struct {
	OrderID    order.OrderID
	OriginData []byte
	FillerData []byte
}

func (e Filled) ID() order.OrderID { return e.OrderID }

// FillRecord is what the destination chain remembers about a fill.
type FillRecord struct {
	Filler     [32]byte
	FillerData []byte
}
