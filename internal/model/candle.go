package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// Source identifies where a candle came from.
type Source string

const (
	SourceWS   Source = "WS"   // built live from ticks
	SourceREST Source = "REST" // authoritative closed bar from the provider REST API
	SourceAGG  Source = "AGG"  // aggregated from lower-timeframe bars
)

// Candle is an OHLCV bar over a fixed timeframe window.
type Candle struct {
	Symbol    string     `json:"symbol"`
	Timeframe Timeframe  `json:"timeframe"`
	StartTS   int64      `json:"start_ts"` // epoch ms, aligned to timeframe
	Open      float64    `json:"o"`
	High      float64    `json:"h"`
	Low       float64    `json:"l"`
	Close     float64    `json:"c"`
	Volume    float64    `json:"volume"`
	Session   SessionTag `json:"session_tag"`
	IsClosed  bool       `json:"is_closed"`
	Source    Source     `json:"source"`
}

// EndTS returns the nominal close time (exclusive) of the candle window.
func (c *Candle) EndTS() int64 {
	return c.StartTS + c.Timeframe.DurationMs()
}

// Update folds a trade into the candle.
func (c *Candle) Update(price, size float64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += size
}

// Validate checks the structural candle invariants. nowMs bounds the
// future check; pass 0 to skip it.
func (c *Candle) Validate(nowMs int64) error {
	if c.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrMalformedCandle)
	}
	if !c.Timeframe.Valid() {
		return fmt.Errorf("%w: unknown timeframe %q", ErrMalformedCandle, c.Timeframe)
	}
	if c.StartTS%c.Timeframe.DurationMs() != 0 {
		return fmt.Errorf("%w: start_ts %d not aligned to %s", ErrMalformedCandle, c.StartTS, c.Timeframe)
	}
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite field", ErrMalformedCandle)
		}
	}
	lo, hi := c.Open, c.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	if c.Low > lo || c.High < hi {
		return fmt.Errorf("%w: ohlc ordering violated (o=%v h=%v l=%v c=%v)",
			ErrMalformedCandle, c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume < 0 {
		return fmt.Errorf("%w: negative volume", ErrMalformedCandle)
	}
	if nowMs > 0 {
		if c.StartTS > nowMs {
			return fmt.Errorf("%w: start_ts in the future", ErrMalformedCandle)
		}
		if c.IsClosed && c.EndTS() > nowMs {
			return fmt.Errorf("%w: closed candle with future close", ErrMalformedCandle)
		}
	}
	return nil
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
