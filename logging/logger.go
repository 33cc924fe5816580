package logging

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const (
	FieldChain   = "chain"
	FieldBlock   = "block_number"
	FieldModule  = "module"
	FieldOrder   = "order_id"
	FieldIntent  = "intent"
	FieldNonce   = "nonce"
	FieldTx      = "tx_hash"
	FieldAddress = "address"
)

func New(writer io.Writer, level zerolog.Level, jsonOutput bool) zerolog.Logger {
	if !jsonOutput {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Caller().Logger()
}

// NewTesting returns a logger that writes through t.Log.
func NewTesting(t testing.TB) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}
