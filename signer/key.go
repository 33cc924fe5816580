package signer

import (
	"crypto/ecdsa"
	"strings"

	"github.com/cosmos/cosmos-sdk/crypto/hd"
	"github.com/cosmos/go-bip39"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// EthereumCoinType is the SLIP-44 coin type of ethereum accounts.
const EthereumCoinType = 60

var (
	ErrNoCredentials        = errors.New("either a private key or a mnemonic is required")
	ErrAmbiguousCredentials = errors.New("private key and mnemonic are mutually exclusive")
)

// DerivationPath is the BIP-44 path of the first ethereum account: m/44'/60'/0'/0/0
var DerivationPath = hd.CreateHDPath(EthereumCoinType, 0, 0).String()

// Credentials is the raw key material from configuration. Exactly one field must be set.
type Credentials struct {
	PrivateKey string
	Mnemonic   string
}

// NewKey turns credentials into the solver's private key.
func NewKey(creds Credentials) (*ecdsa.PrivateKey, error) {
	var (
		privateKey = strings.TrimPrefix(strings.TrimSpace(creds.PrivateKey), "0x")
		mnemonic   = strings.Join(strings.Fields(creds.Mnemonic), " ")
	)

	switch {
	case privateKey == "" && mnemonic == "":
		return nil, ErrNoCredentials
	case privateKey != "" && mnemonic != "":
		return nil, ErrAmbiguousCredentials
	case privateKey != "":
		key, err := crypto.HexToECDSA(privateKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse private key")
		}

		return key, nil
	default:
		return keyFromMnemonic(mnemonic)
	}
}

func keyFromMnemonic(mnemonic string) (*ecdsa.PrivateKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, errors.Wrap(err, "invalid mnemonic")
	}

	master, chainCode := hd.ComputeMastersFromSeed(seed)

	derived, err := hd.DerivePrivateKeyForPath(master, chainCode, DerivationPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to derive key for path %s", DerivationPath)
	}

	key, err := crypto.ToECDSA(derived)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert derived key")
	}

	return key, nil
}
