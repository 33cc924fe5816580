// Package contracts holds the ABIs of the on-chain contracts the solver talks to.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	EventOpen          = "Open"
	EventFilled        = "Filled"
	EventIntentCreated = "IntentCreated"

	MethodFill        = "fill"
	MethodOrderStatus = "orderStatus"
)

// SettlerABI covers the settler entry points and events used off chain.
// orderStatus returns the destination status as a uint8.
const SettlerABI = `[
	{
		"type": "function",
		"name": "fill",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "orderId", "type": "bytes32", "internalType": "bytes32"},
			{"name": "originData", "type": "bytes", "internalType": "bytes"},
			{"name": "fillerData", "type": "bytes", "internalType": "bytes"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "orderStatus",
		"stateMutability": "view",
		"inputs": [
			{"name": "orderId", "type": "bytes32", "internalType": "bytes32"}
		],
		"outputs": [
			{"name": "", "type": "uint8", "internalType": "uint8"}
		]
	},
	{
		"type": "event",
		"name": "Open",
		"anonymous": false,
		"inputs": [
			{"name": "orderId", "type": "bytes32", "indexed": true, "internalType": "bytes32"},
			{"name": "originData", "type": "bytes", "indexed": false, "internalType": "bytes"}
		]
	},
	{
		"type": "event",
		"name": "Filled",
		"anonymous": false,
		"inputs": [
			{"name": "orderId", "type": "bytes32", "indexed": false, "internalType": "bytes32"},
			{"name": "originData", "type": "bytes", "indexed": false, "internalType": "bytes"},
			{"name": "fillerData", "type": "bytes", "indexed": false, "internalType": "bytes"}
		]
	}
]`

// IntentSourceABI is the event of intent sources publishing call intents.
const IntentSourceABI = `[
	{
		"type": "event",
		"name": "IntentCreated",
		"anonymous": false,
		"inputs": [
			{"name": "hash", "type": "bytes32", "indexed": true, "internalType": "bytes32"},
			{"name": "creator", "type": "address", "indexed": true, "internalType": "address"},
			{"name": "prover", "type": "address", "indexed": true, "internalType": "address"},
			{"name": "destination", "type": "uint256", "indexed": false, "internalType": "uint256"},
			{"name": "targets", "type": "address[]", "indexed": false, "internalType": "address[]"},
			{"name": "data", "type": "bytes[]", "indexed": false, "internalType": "bytes[]"},
			{"name": "rewardTokens", "type": "address[]", "indexed": false, "internalType": "address[]"},
			{"name": "rewardAmounts", "type": "uint256[]", "indexed": false, "internalType": "uint256[]"},
			{"name": "nativeReward", "type": "uint256", "indexed": false, "internalType": "uint256"},
			{"name": "expiry", "type": "uint256", "indexed": false, "internalType": "uint256"},
			{"name": "nonce", "type": "uint256", "indexed": false, "internalType": "uint256"}
		]
	}
]`

var (
	settlerABI      = mustParse(SettlerABI)
	intentSourceABI = mustParse(IntentSourceABI)
)

// Settler returns the parsed SettlerABI.
func Settler() abi.ABI { return settlerABI }

// IntentSource returns the parsed IntentSourceABI.
func IntentSource() abi.ABI { return intentSourceABI }

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}

	return parsed
}
