package settler

import (
	"crypto/ecdsa"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/speedrun-hq/settler/order"
)

// Authorizer checks that user authorized digest.
type Authorizer interface {
	Authorize(user [32]byte, digest [32]byte, signature []byte) error
}

// ECDSAAuthorizer accepts 65 byte secp256k1 signatures (v as 0/1 or 27/28)
// from the EVM address held in the low 20 bytes of user.
type ECDSAAuthorizer struct{}

func (ECDSAAuthorizer) Authorize(user [32]byte, digest [32]byte, signature []byte) error {
	if len(signature) != crypto.SignatureLength {
		return errors.Wrapf(ErrUnauthorized, "signature length %d", len(signature))
	}

	sig := append([]byte(nil), signature...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return errors.Wrapf(ErrUnauthorized, "recover: %v", err)
	}

	if signer := crypto.PubkeyToAddress(*pub); signer != order.Bytes32ToAddress(user) {
		return errors.Wrapf(ErrUnauthorized, "signed by %s", signer.Hex())
	}

	return nil
}

// OpenForDigest is the message a user signs to let anyone open their order
// on settler before openDeadline.
func OpenForDigest(settler common.Address, orderID order.OrderID, openDeadline uint32) [32]byte {
	var deadline [4]byte
	binary.BigEndian.PutUint32(deadline[:], openDeadline)

	return crypto.Keccak256Hash(settler.Bytes(), orderID[:], deadline[:])
}

// SignOpenFor produces the user's authorization for OpenFor.
func SignOpenFor(key *ecdsa.PrivateKey, settler common.Address, orderID order.OrderID, openDeadline uint32) ([]byte, error) {
	digest := OpenForDigest(settler, orderID, openDeadline)

	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign order")
	}

	return sig, nil
}
