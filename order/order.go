// Package order implements the canonical order encoding shared by every
// settler deployment and the deterministic order id derived from it.
package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// TypeString is the canonical schema descriptor. Its hash is the order data type tag.
const TypeString = "OrderData(" +
	"bytes32 sender," +
	"bytes32 recipient," +
	"bytes32 inputToken," +
	"bytes32 outputToken," +
	"uint256 amountIn," +
	"uint256 amountOut," +
	"uint256 senderNonce," +
	"uint32 originDomain," +
	"uint32 destinationDomain," +
	"uint32 fillDeadline)"

// EncodedSize is the byte length of an encoded order: ten static ABI words.
const EncodedSize = 10 * 32

var (
	// ErrSchemaMismatch is returned when an order type tag is not OrderDataType().
	ErrSchemaMismatch = errors.New("order data type mismatch")

	// ErrDecode is returned for malformed order bytes.
	ErrDecode = errors.New("malformed order data")

	// ErrInvalidField is returned when an order cannot be encoded.
	ErrInvalidField = errors.New("invalid order field")
)

var (
	orderDataType = crypto.Keccak256Hash([]byte(TypeString))
	maxUint256    = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	orderArgs     = mustArguments()
)

// OrderData is the chain-agnostic order record.
type OrderData struct {
	Sender            [32]byte
	Recipient         [32]byte
	InputToken        [32]byte
	OutputToken       [32]byte
	AmountIn          *big.Int
	AmountOut         *big.Int
	SenderNonce       *big.Int
	OriginDomain      uint32
	DestinationDomain uint32
	FillDeadline      uint32
}

// OrderID correlates the origin and destination legs of one order.
type OrderID [32]byte

// Hex returns the 0x-prefixed hex form of the id.
func (id OrderID) Hex() string {
	return common.Hash(id).Hex()
}

func (id OrderID) String() string {
	return id.Hex()
}

// ParseOrderID parses a 0x-prefixed 32 byte hex string.
func ParseOrderID(s string) (OrderID, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != 32 {
		return OrderID{}, errors.Errorf("invalid order id %q", s)
	}

	var id OrderID
	copy(id[:], b)

	return id, nil
}

// OrderDataType returns the fixed type tag of this order schema.
func OrderDataType() [32]byte {
	return orderDataType
}

// Encode returns the canonical encoding of o.
func Encode(o OrderData) ([]byte, error) {
	for name, v := range map[string]*big.Int{
		"amountIn":    o.AmountIn,
		"amountOut":   o.AmountOut,
		"senderNonce": o.SenderNonce,
	} {
		if v == nil || v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
			return nil, errors.Wrapf(ErrInvalidField, "%s is not a uint256", name)
		}
	}

	raw, err := orderArgs.Pack(
		o.Sender,
		o.Recipient,
		o.InputToken,
		o.OutputToken,
		o.AmountIn,
		o.AmountOut,
		o.SenderNonce,
		o.OriginDomain,
		o.DestinationDomain,
		o.FillDeadline,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack order data")
	}

	return raw, nil
}

// Decode parses the canonical encoding. Anything that is not exactly one
// canonically padded order is rejected.
func Decode(raw []byte) (OrderData, error) {
	if len(raw) != EncodedSize {
		return OrderData{}, errors.Wrapf(ErrDecode, "expected %d bytes, got %d", EncodedSize, len(raw))
	}

	values, err := orderArgs.Unpack(raw)
	if err != nil {
		return OrderData{}, errors.Wrapf(ErrDecode, "unpack: %v", err)
	}

	if len(values) != len(orderArgs) {
		return OrderData{}, errors.Wrapf(ErrDecode, "expected %d fields, got %d", len(orderArgs), len(values))
	}

	var (
		o  OrderData
		ok = true
	)

	o.Sender, ok = values[0].([32]byte)
	if ok {
		o.Recipient, ok = values[1].([32]byte)
	}
	if ok {
		o.InputToken, ok = values[2].([32]byte)
	}
	if ok {
		o.OutputToken, ok = values[3].([32]byte)
	}
	if ok {
		o.AmountIn, ok = values[4].(*big.Int)
	}
	if ok {
		o.AmountOut, ok = values[5].(*big.Int)
	}
	if ok {
		o.SenderNonce, ok = values[6].(*big.Int)
	}
	if ok {
		o.OriginDomain, ok = values[7].(uint32)
	}
	if ok {
		o.DestinationDomain, ok = values[8].(uint32)
	}
	if ok {
		o.FillDeadline, ok = values[9].(uint32)
	}

	if !ok {
		return OrderData{}, errors.Wrap(ErrDecode, "unexpected field type")
	}

	return o, nil
}

// DecodeTyped decodes raw only if tag matches OrderDataType().
func DecodeTyped(tag [32]byte, raw []byte) (OrderData, error) {
	if tag != orderDataType {
		return OrderData{}, errors.Wrapf(ErrSchemaMismatch, "got %s", common.Hash(tag).Hex())
	}

	return Decode(raw)
}

// ID derives the order id from the canonical encoding of o.
func ID(o OrderData) (OrderID, error) {
	raw, err := Encode(o)
	if err != nil {
		return OrderID{}, err
	}

	return OrderID(crypto.Keccak256Hash(raw)), nil
}

// Equal reports whether both orders carry the same values.
func (o OrderData) Equal(other OrderData) bool {
	return o.Sender == other.Sender &&
		o.Recipient == other.Recipient &&
		o.InputToken == other.InputToken &&
		o.OutputToken == other.OutputToken &&
		bigEqual(o.AmountIn, other.AmountIn) &&
		bigEqual(o.AmountOut, other.AmountOut) &&
		bigEqual(o.SenderNonce, other.SenderNonce) &&
		o.OriginDomain == other.OriginDomain &&
		o.DestinationDomain == other.DestinationDomain &&
		o.FillDeadline == other.FillDeadline
}

// Clone returns a deep copy of o.
func (o OrderData) Clone() OrderData {
	o.AmountIn = cloneBig(o.AmountIn)
	o.AmountOut = cloneBig(o.AmountOut)
	o.SenderNonce = cloneBig(o.SenderNonce)

	return o
}

// AddressToBytes32 left-pads an EVM address into the chain-agnostic form.
func AddressToBytes32(addr common.Address) [32]byte {
	return common.BytesToHash(addr.Bytes())
}

// Bytes32ToAddress takes the low 20 bytes of a chain-agnostic reference.
func Bytes32ToAddress(b [32]byte) common.Address {
	return common.BytesToAddress(b[12:])
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Cmp(b) == 0
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}

	return new(big.Int).Set(v)
}

func mustArguments() abi.Arguments {
	bytes32, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		panic(err)
	}

	uint256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}

	uint32T, err := abi.NewType("uint32", "", nil)
	if err != nil {
		panic(err)
	}

	return abi.Arguments{
		{Name: "sender", Type: bytes32},
		{Name: "recipient", Type: bytes32},
		{Name: "inputToken", Type: bytes32},
		{Name: "outputToken", Type: bytes32},
		{Name: "amountIn", Type: uint256},
		{Name: "amountOut", Type: uint256},
		{Name: "senderNonce", Type: uint256},
		{Name: "originDomain", Type: uint32T},
		{Name: "destinationDomain", Type: uint32T},
		{Name: "fillDeadline", Type: uint32T},
	}
}
