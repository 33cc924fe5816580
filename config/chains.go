package config

import "fmt"

const (
	ethereumMainnetChainID  = 1
	bscMainnetChainID       = 56
	polygonMainnetChainID   = 137
	arbitrumMainnetChainID  = 42161
	baseMainnetChainID      = 8453
	avalancheMainnetChainID = 43114
	zetachainMainnetChainID = 7000

	ethereumSepoliaChainID  = 11155111
	bscTestnetChainID       = 97
	polygonAmoyChainID      = 80002
	arbitrumSepoliaChainID  = 421614
	baseSepoliaChainID      = 84532
	zetachainTestnetChainID = 7001
	avalancheFujiChainID    = 43113

	ethereumName  = "ETHEREUM"
	bscName       = "BSC"
	polygonName   = "POLYGON"
	arbitrumName  = "ARBITRUM"
	baseName      = "BASE"
	zetachainName = "ZETACHAIN"
	avalancheName = "AVALANCHE"

	mainnetDefaultChains = "42161,8453,137,1,43114,56,7000"
	testnetDefaultChains = "421614,84532,80002,11155111,43113,97,7001"
)

// ChainName returns a human-readable chain name, e.g. for metrics labels
func ChainName(chainID uint64) string {
	name, err := chainNameFromID(chainID)
	if err != nil {
		return fmt.Sprintf("CHAIN_%d", chainID)
	}

	return name
}

// chainNameFromID returns the chain name based on the chain ID
func chainNameFromID(chainID uint64) (string, error) {
	switch chainID {
	case arbitrumMainnetChainID, arbitrumSepoliaChainID:
		return arbitrumName, nil
	case baseMainnetChainID, baseSepoliaChainID:
		return baseName, nil
	case zetachainMainnetChainID, zetachainTestnetChainID:
		return zetachainName, nil
	case polygonMainnetChainID, polygonAmoyChainID:
		return polygonName, nil
	case ethereumMainnetChainID, ethereumSepoliaChainID:
		return ethereumName, nil
	case bscMainnetChainID, bscTestnetChainID:
		return bscName, nil
	case avalancheMainnetChainID, avalancheFujiChainID:
		return avalancheName, nil
	}
	return "", fmt.Errorf("unsupported chain ID: %d", chainID)
}

// isTestnet reports whether chainID is one of the known test networks
func isTestnet(chainID uint64) bool {
	switch chainID {
	case ethereumSepoliaChainID,
		bscTestnetChainID,
		polygonAmoyChainID,
		arbitrumSepoliaChainID,
		baseSepoliaChainID,
		zetachainTestnetChainID,
		avalancheFujiChainID:
		return true
	}
	return false
}

// RequiresHTTP reports whether the chain must be dialed over HTTP even when
// a websocket URL is configured.
func RequiresHTTP(chainID uint64) bool {
	return chainID == zetachainMainnetChainID || chainID == zetachainTestnetChainID
}
