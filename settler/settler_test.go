package settler

import (
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/speedrun-hq/settler/logging"
	"github.com/speedrun-hq/settler/order"
	"github.com/speedrun-hq/settler/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	originChain      = uint32(1)
	destinationChain = uint32(2)
	fillDeadline     = uint32(1_900_000_000)
)

var (
	originAddress      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	destinationAddress = common.HexToAddress("0x2222222222222222222222222222222222222222")

	user      = bytes32(0xA1)
	recipient = bytes32(0xB2)
	solver    = bytes32(0xC3)
	tokenIn   = bytes32(0x01)
	tokenOut  = bytes32(0x02)
)

type testSuite struct {
	clock       *testClock
	originBank  *MemoryBank
	destBank    *MemoryBank
	origin      *Settler
	destination *Settler
	originEvts  *eventLog
	destEvts    *eventLog
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func newTestSuite(t *testing.T) *testSuite {
	clock := &testClock{now: time.Unix(1_800_000_000, 0)}

	originReg, err := registry.NewStatic(map[uint32]common.Address{destinationChain: destinationAddress})
	require.NoError(t, err)

	destReg, err := registry.NewStatic(map[uint32]common.Address{originChain: originAddress})
	require.NoError(t, err)

	ts := &testSuite{
		clock:      clock,
		originBank: NewMemoryBank(),
		destBank:   NewMemoryBank(),
		originEvts: &eventLog{},
		destEvts:   &eventLog{},
	}

	ts.origin, err = New(Config{
		ChainID:  originChain,
		Address:  originAddress,
		Registry: originReg,
		Bank:     ts.originBank,
		Clock:    clock.Now,
		Logger:   logging.NewTesting(t),
	})
	require.NoError(t, err)

	ts.destination, err = New(Config{
		ChainID:  destinationChain,
		Address:  destinationAddress,
		Registry: destReg,
		Bank:     ts.destBank,
		Clock:    clock.Now,
		Logger:   logging.NewTesting(t),
	})
	require.NoError(t, err)

	ts.origin.Subscribe(ts.originEvts.record)
	ts.destination.Subscribe(ts.destEvts.record)

	return ts
}

func bytes32(b byte) [32]byte {
	var out [32]byte
	out[31] = b
	out[0] = b
	return out
}

func testOrder(nonce int64) order.OrderData {
	return order.OrderData{
		Sender:            user,
		Recipient:         recipient,
		InputToken:        tokenIn,
		OutputToken:       tokenOut,
		AmountIn:          big.NewInt(100),
		AmountOut:         big.NewInt(95),
		SenderNonce:       big.NewInt(nonce),
		OriginDomain:      originChain,
		DestinationDomain: destinationChain,
		FillDeadline:      fillDeadline,
	}
}

func onchainOrder(t *testing.T, data order.OrderData) OnchainCrossChainOrder {
	raw, err := order.Encode(data)
	require.NoError(t, err)

	return OnchainCrossChainOrder{
		FillDeadline:  data.FillDeadline,
		OrderDataType: order.OrderDataType(),
		OrderData:     raw,
	}
}

// openOrder funds the user and opens an order with the given nonce.
func (ts *testSuite) openOrder(t *testing.T, nonce int64) (order.OrderID, *ResolvedOrder) {
	data := testOrder(nonce)
	ts.originBank.Mint(tokenIn, user, data.AmountIn)

	oc := onchainOrder(t, data)

	resolved, err := ts.origin.Resolve(oc.OrderDataType, user, oc.OrderData, 0, oc.FillDeadline)
	require.NoError(t, err)

	id, err := ts.origin.Open(user, oc)
	require.NoError(t, err)
	require.Equal(t, resolved.OrderID, id)

	return id, resolved
}

func TestResolve(t *testing.T) {
	t.Run("resolves order", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t)
		data := testOrder(0)
		oc := onchainOrder(t, data)

		// ACT
		resolved, err := ts.origin.Resolve(oc.OrderDataType, user, oc.OrderData, 123, fillDeadline)

		// ASSERT
		require.NoError(t, err)

		expectedID, err := order.ID(data)
		require.NoError(t, err)

		assert.Equal(t, expectedID, resolved.OrderID)
		assert.Equal(t, user, resolved.User)
		assert.Equal(t, originChain, resolved.OriginChainID)
		assert.Equal(t, uint32(123), resolved.OpenDeadline)
		assert.Equal(t, fillDeadline, resolved.FillDeadline)

		require.Len(t, resolved.MaxSpent, 1)
		assert.Equal(t, tokenOut, resolved.MaxSpent[0].Token)
		assert.Equal(t, int64(95), resolved.MaxSpent[0].Amount.Int64())
		assert.Equal(t, recipient, resolved.MaxSpent[0].Recipient)
		assert.Equal(t, destinationChain, resolved.MaxSpent[0].ChainID)

		require.Len(t, resolved.MinReceived, 1)
		assert.Equal(t, tokenIn, resolved.MinReceived[0].Token)
		assert.Equal(t, int64(100), resolved.MinReceived[0].Amount.Int64())
		assert.Equal(t, [32]byte{}, resolved.MinReceived[0].Recipient)
		assert.Equal(t, originChain, resolved.MinReceived[0].ChainID)

		require.Len(t, resolved.FillInstructions, 1)
		fi := resolved.FillInstructions[0]
		assert.Equal(t, destinationChain, fi.DestinationChainID)
		assert.Equal(t, order.AddressToBytes32(destinationAddress), fi.DestinationSettler)
		assert.Equal(t, oc.OrderData, fi.OriginData)

		// resolve is read only
		assert.Equal(t, StatusUnfilled, ts.origin.Status(RoleOrigin, resolved.OrderID))
		assert.Equal(t, int64(0), ts.origin.Nonce(user).Int64())
		assert.Empty(t, ts.originEvts.all())
	})

	t.Run("fill deadline argument overrides embedded one", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t)
		data := testOrder(0)
		oc := onchainOrder(t, data)

		// ACT
		resolved, err := ts.origin.Resolve(oc.OrderDataType, user, oc.OrderData, 0, fillDeadline+10)

		// ASSERT
		require.NoError(t, err)

		decoded, err := order.Decode(resolved.FillInstructions[0].OriginData)
		require.NoError(t, err)
		assert.Equal(t, fillDeadline+10, decoded.FillDeadline)

		data.FillDeadline = fillDeadline + 10
		expectedID, err := order.ID(data)
		require.NoError(t, err)
		assert.Equal(t, expectedID, resolved.OrderID)
	})

	t.Run("schema mismatch", func(t *testing.T) {
		ts := newTestSuite(t)
		oc := onchainOrder(t, testOrder(0))

		_, err := ts.origin.Resolve(crypto.Keccak256Hash([]byte("Other()")), user, oc.OrderData, 0, fillDeadline)
		assert.ErrorIs(t, err, order.ErrSchemaMismatch)
	})

	t.Run("malformed order data", func(t *testing.T) {
		ts := newTestSuite(t)
		oc := onchainOrder(t, testOrder(0))

		_, err := ts.origin.Resolve(oc.OrderDataType, user, oc.OrderData[:100], 0, fillDeadline)
		assert.ErrorIs(t, err, order.ErrDecode)
	})

	t.Run("wrong origin domain", func(t *testing.T) {
		ts := newTestSuite(t)
		oc := onchainOrder(t, testOrder(0))

		_, err := ts.destination.Resolve(oc.OrderDataType, user, oc.OrderData, 0, fillDeadline)
		assert.ErrorIs(t, err, ErrWrongOriginDomain)
	})

	t.Run("unknown destination", func(t *testing.T) {
		ts := newTestSuite(t)
		data := testOrder(0)
		data.DestinationDomain = 99
		oc := onchainOrder(t, data)

		_, err := ts.origin.Resolve(oc.OrderDataType, user, oc.OrderData, 0, fillDeadline)
		assert.ErrorIs(t, err, ErrUnknownDestination)
	})

	t.Run("nonce gated", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t)
		for i := int64(0); i < 3; i++ {
			ts.openOrder(t, i)
		}
		require.Equal(t, int64(3), ts.origin.Nonce(user).Int64())

		for _, tt := range []struct {
			nonce int64
			err   error
		}{
			{nonce: 2, err: ErrNonceMismatch},
			{nonce: 3},
			{nonce: 4, err: ErrNonceMismatch},
		} {
			oc := onchainOrder(t, testOrder(tt.nonce))

			// ACT
			_, err := ts.origin.Resolve(oc.OrderDataType, user, oc.OrderData, 0, fillDeadline)

			// ASSERT
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err, "nonce %d", tt.nonce)
			} else {
				assert.NoError(t, err, "nonce %d", tt.nonce)
			}
		}
	})

	t.Run("nonce is per sender", func(t *testing.T) {
		ts := newTestSuite(t)
		ts.openOrder(t, 0)

		oc := onchainOrder(t, testOrder(0))

		_, err := ts.origin.Resolve(oc.OrderDataType, bytes32(0xEE), oc.OrderData, 0, fillDeadline)
		assert.NoError(t, err)
	})
}

func TestOpen(t *testing.T) {
	t.Run("opens order", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t)

		// ACT
		id, resolved := ts.openOrder(t, 0)

		// ASSERT
		assert.Equal(t, StatusOpened, ts.origin.Status(RoleOrigin, id))
		assert.Equal(t, StatusUnfilled, ts.origin.Status(RoleDestination, id))
		assert.Equal(t, int64(1), ts.origin.Nonce(user).Int64())

		assert.Equal(t, int64(0), ts.originBank.BalanceOf(tokenIn, user).Int64())
		assert.Equal(t, int64(100), ts.originBank.BalanceOf(tokenIn, order.AddressToBytes32(originAddress)).Int64())

		stored, ok := ts.origin.Order(id)
		require.True(t, ok)
		assert.True(t, stored.Equal(testOrder(0)))

		events := ts.originEvts.all()
		require.Len(t, events, 1)

		opened, ok := events[0].(Opened)
		require.True(t, ok)
		assert.Equal(t, id, opened.ID())
		assert.Equal(t, resolved.FillInstructions, opened.ResolvedOrder.FillInstructions)
	})

	t.Run("same order twice is rejected by nonce", func(t *testing.T) {
		ts := newTestSuite(t)
		ts.openOrder(t, 0)

		data := testOrder(0)
		ts.originBank.Mint(tokenIn, user, data.AmountIn)

		_, err := ts.origin.Open(user, onchainOrder(t, data))
		assert.ErrorIs(t, err, ErrNonceMismatch)
		assert.Len(t, ts.originEvts.all(), 1)
	})

	t.Run("insufficient balance records nothing", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t)
		data := testOrder(0)
		ts.originBank.Mint(tokenIn, user, big.NewInt(99))

		// ACT
		_, err := ts.origin.Open(user, onchainOrder(t, data))

		// ASSERT
		require.ErrorIs(t, err, ErrInsufficientBalance)

		id, err := order.ID(data)
		require.NoError(t, err)

		assert.Equal(t, StatusUnfilled, ts.origin.Status(RoleOrigin, id))
		assert.Equal(t, int64(0), ts.origin.Nonce(user).Int64())
		assert.Equal(t, int64(99), ts.originBank.BalanceOf(tokenIn, user).Int64())
		assert.Empty(t, ts.originEvts.all())

		_, ok := ts.origin.Order(id)
		assert.False(t, ok)
	})

	t.Run("expired", func(t *testing.T) {
		ts := newTestSuite(t)
		ts.clock.Set(time.Unix(int64(fillDeadline), 0))

		data := testOrder(0)
		ts.originBank.Mint(tokenIn, user, data.AmountIn)

		_, err := ts.origin.Open(user, onchainOrder(t, data))
		assert.ErrorIs(t, err, ErrExpired)
		assert.True(t, IsValidation(err))
	})
}

func TestOpenFor(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	signerUser := order.AddressToBytes32(crypto.PubkeyToAddress(key.PublicKey))

	gasless := func(t *testing.T, ts *testSuite) (GaslessCrossChainOrder, order.OrderID) {
		data := testOrder(0)
		data.Sender = signerUser

		raw, err := order.Encode(data)
		require.NoError(t, err)

		id, err := order.ID(data)
		require.NoError(t, err)

		ts.originBank.Mint(tokenIn, signerUser, data.AmountIn)

		return GaslessCrossChainOrder{
			OriginSettler: originAddress,
			User:          signerUser,
			OriginChainID: originChain,
			OpenDeadline:  1_850_000_000,
			FillDeadline:  fillDeadline,
			OrderDataType: order.OrderDataType(),
			OrderData:     raw,
		}, id
	}

	t.Run("opens signed order", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t)
		o, expectedID := gasless(t, ts)

		sig, err := SignOpenFor(key, originAddress, expectedID, o.OpenDeadline)
		require.NoError(t, err)

		// ACT
		id, err := ts.origin.OpenFor(o, sig)

		// ASSERT
		require.NoError(t, err)
		assert.Equal(t, expectedID, id)
		assert.Equal(t, StatusOpened, ts.origin.Status(RoleOrigin, id))
		assert.Equal(t, int64(1), ts.origin.Nonce(signerUser).Int64())
		assert.Equal(t, int64(0), ts.originBank.BalanceOf(tokenIn, signerUser).Int64())
		assert.Len(t, ts.originEvts.all(), 1)
	})

	t.Run("signature from another key", func(t *testing.T) {
		ts := newTestSuite(t)
		o, id := gasless(t, ts)

		other, err := crypto.GenerateKey()
		require.NoError(t, err)

		sig, err := SignOpenFor(other, originAddress, id, o.OpenDeadline)
		require.NoError(t, err)

		_, err = ts.origin.OpenFor(o, sig)
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, StatusUnfilled, ts.origin.Status(RoleOrigin, id))
	})

	t.Run("signature over another deadline", func(t *testing.T) {
		ts := newTestSuite(t)
		o, id := gasless(t, ts)

		sig, err := SignOpenFor(key, originAddress, id, o.OpenDeadline+1)
		require.NoError(t, err)

		_, err = ts.origin.OpenFor(o, sig)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("short signature", func(t *testing.T) {
		ts := newTestSuite(t)
		o, _ := gasless(t, ts)

		_, err := ts.origin.OpenFor(o, []byte{1, 2, 3})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("wrong settler", func(t *testing.T) {
		ts := newTestSuite(t)
		o, id := gasless(t, ts)
		o.OriginSettler = destinationAddress

		sig, err := SignOpenFor(key, destinationAddress, id, o.OpenDeadline)
		require.NoError(t, err)

		_, err = ts.origin.OpenFor(o, sig)
		assert.ErrorIs(t, err, ErrWrongSettler)
	})

	t.Run("open deadline passed", func(t *testing.T) {
		ts := newTestSuite(t)
		o, id := gasless(t, ts)
		ts.clock.Set(time.Unix(int64(o.OpenDeadline), 0))

		sig, err := SignOpenFor(key, originAddress, id, o.OpenDeadline)
		require.NoError(t, err)

		_, err = ts.origin.OpenFor(o, sig)
		assert.ErrorIs(t, err, ErrExpired)
	})
}

func TestFill(t *testing.T) {
	t.Run("fills opened order", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t)
		id, resolved := ts.openOrder(t, 0)
		fi := resolved.FillInstructions[0]

		ts.destBank.Mint(tokenOut, solver, big.NewInt(95))

		// ACT
		err := ts.destination.Fill(id, fi.OriginData, []byte("filler"), solver)

		// ASSERT
		require.NoError(t, err)

		assert.Equal(t, StatusFilled, ts.destination.Status(RoleDestination, id))
		assert.Equal(t, StatusUnfilled, ts.destination.Status(RoleOrigin, id))
		assert.Equal(t, int64(95), ts.destBank.BalanceOf(tokenOut, recipient).Int64())
		assert.Equal(t, int64(0), ts.destBank.BalanceOf(tokenOut, solver).Int64())

		rec, ok := ts.destination.Filler(id)
		require.True(t, ok)
		assert.Equal(t, solver, rec.Filler)
		assert.Equal(t, []byte("filler"), rec.FillerData)

		events := ts.destEvts.all()
		require.Len(t, events, 1)

		filled, ok := events[0].(Filled)
		require.True(t, ok)
		assert.Equal(t, id, filled.ID())
		assert.Equal(t, fi.OriginData, filled.OriginData)
		assert.Equal(t, []byte("filler"), filled.FillerData)
	})

	t.Run("second fill is rejected", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t)
		id, resolved := ts.openOrder(t, 0)
		fi := resolved.FillInstructions[0]

		ts.destBank.Mint(tokenOut, solver, big.NewInt(190))
		require.NoError(t, ts.destination.Fill(id, fi.OriginData, nil, solver))

		// ACT
		err := ts.destination.Fill(id, fi.OriginData, nil, solver)

		// ASSERT
		assert.ErrorIs(t, err, ErrAlreadyFilled)
		assert.Equal(t, int64(95), ts.destBank.BalanceOf(tokenOut, recipient).Int64())
		assert.Equal(t, int64(95), ts.destBank.BalanceOf(tokenOut, solver).Int64())
		assert.Len(t, ts.destEvts.all(), 1)
	})

	t.Run("concurrent fills succeed once", func(t *testing.T) {
		// ARRANGE
		const fillers = 16

		ts := newTestSuite(t)
		id, resolved := ts.openOrder(t, 0)
		fi := resolved.FillInstructions[0]

		for i := 0; i < fillers; i++ {
			ts.destBank.Mint(tokenOut, bytes32(byte(0x40+i)), big.NewInt(95))
		}

		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
			rejected  atomic.Int32
		)

		// ACT
		for i := 0; i < fillers; i++ {
			wg.Add(1)
			go func(filler [32]byte) {
				defer wg.Done()

				err := ts.destination.Fill(id, fi.OriginData, nil, filler)
				switch {
				case err == nil:
					succeeded.Add(1)
				case assert.ErrorIs(t, err, ErrAlreadyFilled):
					rejected.Add(1)
				}
			}(bytes32(byte(0x40 + i)))
		}

		wg.Wait()

		// ASSERT
		assert.Equal(t, int32(1), succeeded.Load())
		assert.Equal(t, int32(fillers-1), rejected.Load())
		assert.Equal(t, int64(95), ts.destBank.BalanceOf(tokenOut, recipient).Int64())
		assert.Len(t, ts.destEvts.all(), 1)
	})

	t.Run("tampered origin data", func(t *testing.T) {
		ts := newTestSuite(t)
		id, resolved := ts.openOrder(t, 0)

		tampered := append([]byte(nil), resolved.FillInstructions[0].OriginData...)
		tampered[5*32+31]++ // amountOut

		ts.destBank.Mint(tokenOut, solver, big.NewInt(1000))

		err := ts.destination.Fill(id, tampered, nil, solver)
		assert.ErrorIs(t, err, ErrOrderIDMismatch)
		assert.Equal(t, StatusUnfilled, ts.destination.Status(RoleDestination, id))
		assert.Empty(t, ts.destEvts.all())
	})

	t.Run("undecodable data matching its id", func(t *testing.T) {
		ts := newTestSuite(t)
		raw := []byte("not an order")
		id := order.OrderID(crypto.Keccak256Hash(raw))

		err := ts.destination.Fill(id, raw, nil, solver)
		assert.ErrorIs(t, err, order.ErrDecode)
	})

	t.Run("wrong destination", func(t *testing.T) {
		ts := newTestSuite(t)
		id, resolved := ts.openOrder(t, 0)

		ts.originBank.Mint(tokenOut, solver, big.NewInt(95))

		err := ts.origin.Fill(id, resolved.FillInstructions[0].OriginData, nil, solver)
		assert.ErrorIs(t, err, ErrWrongDestinationDomain)
	})

	t.Run("unknown origin", func(t *testing.T) {
		ts := newTestSuite(t)
		data := testOrder(0)
		data.OriginDomain = 77

		raw, err := order.Encode(data)
		require.NoError(t, err)

		id, err := order.ID(data)
		require.NoError(t, err)

		err = ts.destination.Fill(id, raw, nil, solver)
		assert.ErrorIs(t, err, ErrUnknownOrigin)
	})

	t.Run("expired", func(t *testing.T) {
		ts := newTestSuite(t)
		id, resolved := ts.openOrder(t, 0)
		ts.destBank.Mint(tokenOut, solver, big.NewInt(95))
		ts.clock.Set(time.Unix(int64(fillDeadline)+1, 0))

		err := ts.destination.Fill(id, resolved.FillInstructions[0].OriginData, nil, solver)
		assert.ErrorIs(t, err, ErrExpired)
		assert.Equal(t, StatusUnfilled, ts.destination.Status(RoleDestination, id))
	})

	t.Run("failed transfer reverts fill", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t)
		id, resolved := ts.openOrder(t, 0)
		fi := resolved.FillInstructions[0]

		ts.destBank.Mint(tokenOut, solver, big.NewInt(94))

		// ACT
		err := ts.destination.Fill(id, fi.OriginData, []byte("x"), solver)

		// ASSERT
		require.ErrorIs(t, err, ErrInsufficientBalance)
		assert.False(t, IsValidation(err))

		assert.Equal(t, StatusUnfilled, ts.destination.Status(RoleDestination, id))
		assert.Empty(t, ts.destEvts.all())

		_, ok := ts.destination.Filler(id)
		assert.False(t, ok)

		_, ok = ts.destination.Order(id)
		assert.False(t, ok)

		// a funded retry goes through
		ts.destBank.Mint(tokenOut, solver, big.NewInt(1))
		require.NoError(t, ts.destination.Fill(id, fi.OriginData, nil, solver))
		assert.Equal(t, StatusFilled, ts.destination.Status(RoleDestination, id))
	})
}

func TestOriginTransitions(t *testing.T) {
	t.Run("settle opened order", func(t *testing.T) {
		ts := newTestSuite(t)
		id, _ := ts.openOrder(t, 0)

		require.NoError(t, ts.origin.MarkSettled(id))
		assert.Equal(t, StatusSettled, ts.origin.Status(RoleOrigin, id))

		assert.ErrorIs(t, ts.origin.MarkSettled(id), ErrInvalidTransition)
		assert.ErrorIs(t, ts.origin.MarkRefunded(id), ErrInvalidTransition)
	})

	t.Run("refund opened order", func(t *testing.T) {
		ts := newTestSuite(t)
		id, _ := ts.openOrder(t, 0)

		require.NoError(t, ts.origin.MarkRefunded(id))
		assert.Equal(t, StatusRefunded, ts.origin.Status(RoleOrigin, id))
		assert.ErrorIs(t, ts.origin.MarkSettled(id), ErrInvalidTransition)
	})

	t.Run("unknown order", func(t *testing.T) {
		ts := newTestSuite(t)

		assert.ErrorIs(t, ts.origin.MarkSettled(order.OrderID{1}), ErrInvalidTransition)
	})
}

func TestCanTransition(t *testing.T) {
	for _, tt := range []struct {
		role     Role
		from, to Status
		ok       bool
	}{
		{RoleOrigin, StatusUnfilled, StatusOpened, true},
		{RoleOrigin, StatusOpened, StatusSettled, true},
		{RoleOrigin, StatusOpened, StatusRefunded, true},
		{RoleOrigin, StatusUnfilled, StatusFilled, false},
		{RoleOrigin, StatusSettled, StatusOpened, false},
		{RoleDestination, StatusUnfilled, StatusFilled, true},
		{RoleDestination, StatusFilled, StatusFilled, false},
		{RoleDestination, StatusUnfilled, StatusOpened, false},
		{RoleDestination, StatusFilled, StatusSettled, false},
	} {
		assert.Equal(t, tt.ok, CanTransition(tt.role, tt.from, tt.to), "%s %s -> %s", tt.role, tt.from, tt.to)
	}
}

func TestNew(t *testing.T) {
	reg, err := registry.NewStatic(nil)
	require.NoError(t, err)

	_, err = New(Config{Address: originAddress, Bank: NewMemoryBank()})
	assert.Error(t, err)

	_, err = New(Config{Address: originAddress, Registry: reg})
	assert.Error(t, err)

	_, err = New(Config{Registry: reg, Bank: NewMemoryBank()})
	assert.Error(t, err)
}
