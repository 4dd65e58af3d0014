// Package provider defines the market-data provider capability contract
// and the adapter loader. Adapters are selected at startup from
// configuration; the rest of the system only sees this interface.
package provider

import (
	"context"

	"github.com/sharif3/momentum-trader/internal/model"
)

// Provider is the pluggable market-data source.
type Provider interface {
	// Name returns the adapter id (e.g. "EODHD").
	Name() string

	// FetchCandles returns closed candles for [fromMs, toMs). Adapters must
	// yield only closed bars; consumers drop anything else.
	FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, fromMs, toMs int64) ([]model.Candle, error)

	// StreamTicks establishes one WebSocket session, subscribes to the
	// symbols, and yields parsed ticks on the returned channel. The channel
	// is closed when the session ends for any reason; the caller owns
	// reconnection policy.
	StreamTicks(ctx context.Context, symbols []string) (<-chan model.Tick, error)
}
