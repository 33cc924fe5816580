package evm

import (
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/speedrun-hq/settler/signer"
)

// ErrNoClient is returned for chains without a dialed client
var ErrNoClient = errors.New("no client found")

// Resolver maps chain ids to dialed clients. Read-only after construction.
type Resolver struct {
	clients map[uint64]*ethclient.Client
}

// NewResolver creates a resolver over the provided map of chain IDs to clients
func NewResolver(clients map[uint64]*ethclient.Client) *Resolver {
	copied := make(map[uint64]*ethclient.Client, len(clients))
	for id, client := range clients {
		copied[id] = client
	}

	return &Resolver{clients: copied}
}

// GetClient returns the client for the specified chain ID
func (r *Resolver) GetClient(chainID uint64) (*ethclient.Client, error) {
	client, ok := r.clients[chainID]
	if !ok || client == nil {
		return nil, errors.Wrapf(ErrNoClient, "chain ID %d", chainID)
	}

	return client, nil
}

// ChainIDs lists the resolvable chains in ascending order
func (r *Resolver) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Signer adapts the resolver to the nonce keeper's client lookup
func (r *Resolver) Signer() signer.ChainResolver {
	return signer.ChainResolverFunc(func(chainID uint64) (signer.ChainClient, error) {
		client, err := r.GetClient(chainID)
		if err != nil {
			return nil, err
		}

		return client, nil
	})
}

// Close closes every client
func (r *Resolver) Close() {
	for _, client := range r.clients {
		client.Close()
	}
}

// Backend returns the client as a contract backend for bound contract calls
func (r *Resolver) Backend(chainID uint64) (bind.ContractBackend, error) {
	client, err := r.GetClient(chainID)
	if err != nil {
		return nil, err
	}

	return client, nil
}
