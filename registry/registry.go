// Package registry resolves a domain (chain identifier) to the settler
// deployed there.
package registry

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when no counterpart is registered for a domain.
var ErrNotFound = errors.New("no counterpart registered")

// Registry maps a domain to its settlement counterpart address.
type Registry interface {
	CounterpartFor(domain uint32) (common.Address, error)
}

// Static is a read-only Registry built once at startup.
type Static struct {
	counterparts map[uint32]common.Address
}

// NewStatic creates a registry from a domain => settler address table.
// Zero addresses are rejected so that a blank config entry can't register a counterpart.
func NewStatic(counterparts map[uint32]common.Address) (*Static, error) {
	table := make(map[uint32]common.Address, len(counterparts))

	for domain, addr := range counterparts {
		if addr == (common.Address{}) {
			return nil, errors.Errorf("zero settler address for domain %d", domain)
		}

		table[domain] = addr
	}

	return &Static{counterparts: table}, nil
}

// CounterpartFor returns the settler registered for domain.
func (s *Static) CounterpartFor(domain uint32) (common.Address, error) {
	addr, ok := s.counterparts[domain]
	if !ok {
		return common.Address{}, errors.Wrapf(ErrNotFound, "domain %d", domain)
	}

	return addr, nil
}

// Domains returns registered domains in ascending order.
func (s *Static) Domains() []uint32 {
	domains := make([]uint32, 0, len(s.counterparts))
	for domain := range s.counterparts {
		domains = append(domains, domain)
	}

	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })

	return domains
}
