package listener

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/speedrun-hq/settler/logging"
)

const (
	// DefaultMaxBlockRange is the default maximum block range of one FilterLogs call
	DefaultMaxBlockRange = uint64(5000)

	// EthereumMaxBlockRange is smaller because of the higher log density of mainnet
	EthereumMaxBlockRange = uint64(1000)

	// FilterLogsTimeout is the maximum time allowed for one FilterLogs call
	FilterLogsTimeout = 3 * time.Minute

	ethereumMainnetChainID = 1
)

// catchUp replays the logs of the lookback window ending right before head.
// Logs from head onwards are delivered by the subscription.
func (l *Listener) catchUp(ctx context.Context, head uint64) error {
	if l.lookback == 0 || head == 0 {
		return nil
	}

	from := uint64(0)
	if head > l.lookback {
		from = head - l.lookback
	}

	to := head - 1
	step := maxBlockRange(l.deployment.ChainID)

	l.logger.Info().
		Uint64("from_block", from).
		Uint64("to_block", to).
		Msg("Catching up on missed events")

	var replayed int

	for start := from; start <= to; start += step {
		end := start + step - 1
		if end > to {
			end = to
		}

		n, err := l.replay(ctx, start, end)
		if err != nil {
			return errors.Wrapf(err, "failed to replay blocks %d-%d", start, end)
		}

		replayed += n
	}

	l.logger.Info().
		Int("events", replayed).
		Uint64(logging.FieldBlock, to).
		Msg("Catch-up complete")

	return nil
}

func (l *Listener) replay(ctx context.Context, from, to uint64) (int, error) {
	filterCtx, cancel := context.WithTimeout(ctx, FilterLogsTimeout)
	defer cancel()

	logs, err := l.subscriber.FilterLogs(filterCtx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{l.deployment.Address},
		Topics:    [][]common.Hash{{l.event.ID}},
	})
	if err != nil {
		return 0, err
	}

	for _, vLog := range logs {
		l.handleLog(ctx, vLog)
	}

	return len(logs), nil
}

func maxBlockRange(chainID uint64) uint64 {
	if chainID == ethereumMainnetChainID {
		return EthereumMaxBlockRange
	}

	return DefaultMaxBlockRange
}
