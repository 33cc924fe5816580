package listener

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/speedrun-hq/settler/contracts"
	"github.com/speedrun-hq/settler/logging"
	"github.com/speedrun-hq/settler/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatchUp(t *testing.T) {
	newCatchUpListener := func(t *testing.T, chainID, lookback uint64, sub *fakeSubscriber, h Handler) *Listener {
		l, err := New(Config{
			ABI:        contracts.IntentSource(),
			Mapper:     IntentCreatedMapper{},
			Deployment: Deployment{Address: intentSource, ChainID: chainID, Label: "test"},
			Subscriber: sub,
			Handler:    h,
			Logger:     logging.NewTesting(t),
			Lookback:   lookback,
		})
		require.NoError(t, err)

		return l
	}

	t.Run("replays the window in block ranges", func(t *testing.T) {
		// ARRANGE
		var (
			sub      = newFakeSubscriber()
			received []common.Hash
			handler  = HandlerFunc(func(_ context.Context, intent *models.Intent) error {
				received = append(received, intent.Hash)
				return nil
			})
		)

		early := sampleIntentCreated()
		early.hash = common.HexToHash("0x01")

		late := sampleIntentCreated()
		late.hash = common.HexToHash("0x02")

		earlyLog := intentCreatedLog(t, early)
		earlyLog.BlockNumber = 600

		lateLog := intentCreatedLog(t, late)
		lateLog.BlockNumber = 2600

		// delivered by the subscription, not the catch-up
		headLog := intentCreatedLog(t, sampleIntentCreated())
		headLog.BlockNumber = 3000

		sub.history = append(sub.history, earlyLog, lateLog, headLog)

		l := newCatchUpListener(t, 1, 2500, sub, handler)

		// ACT
		err := l.catchUp(context.Background(), 3000)

		// ASSERT
		require.NoError(t, err)
		assert.Equal(t, []common.Hash{early.hash, late.hash}, received)
		assert.Equal(t, uint64(2), l.Stats().Processed)

		require.Len(t, sub.filtered, 3)

		ranges := make([][2]uint64, 0, len(sub.filtered))
		for _, q := range sub.filtered {
			ranges = append(ranges, [2]uint64{q.FromBlock.Uint64(), q.ToBlock.Uint64()})

			assert.Equal(t, []common.Address{intentSource}, q.Addresses)
			assert.Equal(t, contracts.IntentSource().Events[contracts.EventIntentCreated].ID, q.Topics[0][0])
		}

		assert.Equal(t, [][2]uint64{{500, 1499}, {1500, 2499}, {2500, 2999}}, ranges)
	})

	t.Run("handler is not bound by the filter timeout", func(t *testing.T) {
		vLog := intentCreatedLog(t, sampleIntentCreated())
		vLog.BlockNumber = 2950

		sub := newFakeSubscriber()
		sub.history = append(sub.history, vLog)

		var deadlines []bool

		handler := HandlerFunc(func(ctx context.Context, _ *models.Intent) error {
			_, ok := ctx.Deadline()
			deadlines = append(deadlines, ok)
			return nil
		})

		l := newCatchUpListener(t, 8453, 100, sub, handler)

		require.NoError(t, l.catchUp(context.Background(), 3000))
		assert.Equal(t, []bool{false}, deadlines)
	})

	t.Run("window larger than the chain starts at genesis", func(t *testing.T) {
		sub := newFakeSubscriber()
		l := newCatchUpListener(t, 8453, 10_000, sub, HandlerFunc(func(context.Context, *models.Intent) error { return nil }))

		require.NoError(t, l.catchUp(context.Background(), 50))

		require.Len(t, sub.filtered, 1)
		assert.Equal(t, uint64(0), sub.filtered[0].FromBlock.Uint64())
		assert.Equal(t, uint64(49), sub.filtered[0].ToBlock.Uint64())
	})

	t.Run("disabled without lookback", func(t *testing.T) {
		sub := newFakeSubscriber()
		l := newCatchUpListener(t, 8453, 0, sub, HandlerFunc(func(context.Context, *models.Intent) error { return nil }))

		require.NoError(t, l.catchUp(context.Background(), 3000))
		assert.Empty(t, sub.filtered)
	})

	t.Run("filter failure", func(t *testing.T) {
		sub := newFakeSubscriber()
		sub.filterErr = errors.New("query returned more than 10000 results")

		l := newCatchUpListener(t, 8453, 100, sub, HandlerFunc(func(context.Context, *models.Intent) error { return nil }))

		err := l.catchUp(context.Background(), 3000)
		assert.ErrorContains(t, err, "failed to replay blocks 2900-2999")
	})
}

func TestMaxBlockRange(t *testing.T) {
	assert.Equal(t, EthereumMaxBlockRange, maxBlockRange(1))
	assert.Equal(t, DefaultMaxBlockRange, maxBlockRange(8453))
}
