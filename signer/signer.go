// Package signer holds the solver account and serializes its transactions per chain.
package signer

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Signer is an account able to sign transactions for any chain.
type Signer interface {
	Address() common.Address
	SignTx(chainID uint64, tx *types.Transaction) (*types.Transaction, error)
}

// KeySigner signs with an in-memory private key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

var _ Signer = (*KeySigner)(nil)

func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (s *KeySigner) Address() common.Address {
	return s.address
}

func (s *KeySigner) SignTx(chainID uint64, tx *types.Transaction) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(chainID))

	signed, err := types.SignTx(tx, signer, s.key)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to sign tx for chain %d", chainID)
	}

	return signed, nil
}
