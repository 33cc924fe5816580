package registry

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	var (
		base     = common.HexToAddress("0x999fce149FD078DCFaa2C681e060e00F528552f4")
		arbitrum = common.HexToAddress("0xD6B0E2a8D115cCA2823c5F80F8416644F3970dD2")
	)

	reg, err := NewStatic(map[uint32]common.Address{
		8453:  base,
		42161: arbitrum,
	})
	require.NoError(t, err)

	t.Run("registered domain", func(t *testing.T) {
		addr, err := reg.CounterpartFor(8453)
		require.NoError(t, err)
		assert.Equal(t, base, addr)
	})

	t.Run("unknown domain", func(t *testing.T) {
		_, err := reg.CounterpartFor(1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("domains are sorted", func(t *testing.T) {
		assert.Equal(t, []uint32{8453, 42161}, reg.Domains())
	})
}

func TestNewStaticRejectsZeroAddress(t *testing.T) {
	_, err := NewStatic(map[uint32]common.Address{1: {}})
	assert.Error(t, err)
}
