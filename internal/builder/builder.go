// Package builder turns the live tick stream into candles: ticks into 1m
// bars, closed 1m bars into closed 5m bars, and an in-progress aggregated
// 15m bar. All updates are O(1) per tick.
//
// The builder is the single writer for the 1m and 5m series and is designed
// to run in one goroutine (the WS ingest loop) — no locks needed here.
package builder

import (
	"math"
	"time"

	"github.com/sharif3/momentum-trader/internal/model"
	"github.com/sharif3/momentum-trader/internal/session"
	"github.com/sharif3/momentum-trader/internal/store"
)

// maxFutureSkewMs is how far a tick timestamp may run ahead of the wall
// clock before it is considered malformed.
const maxFutureSkewMs = 5_000

// staleBoundMs bounds how far behind the open 1m bar a tick may be.
const staleBoundMs = 60_000

// window5mBars is the number of 1m bars completing a 5m window.
const window5mBars = 5

// Builder assembles candles from a stream of ticks for any number of
// symbols and writes them into the store.
type Builder struct {
	st *store.Store

	// Forming15 enables the aggregated in-progress 15m bar.
	Forming15 bool

	open1m  map[string]*model.Candle // open 1m bar per symbol
	recent  map[string][]model.Candle // recent closed 1m bars per symbol (bounded)
	nowMs   func() int64

	// Metrics hooks (optional).
	OnInvalidTick func(reason string)
	OnCandle      func(c model.Candle)
}

// Config configures a Builder.
type Config struct {
	Store     *store.Store
	Forming15 bool
	NowMs     func() int64 // injectable clock for tests
}

// New creates a Builder writing into the given store.
func New(cfg Config) *Builder {
	nowMs := cfg.NowMs
	if nowMs == nil {
		nowMs = func() int64 { return time.Now().UnixMilli() }
	}
	return &Builder{
		st:        cfg.Store,
		Forming15: cfg.Forming15,
		open1m:    make(map[string]*model.Candle, 8),
		recent:    make(map[string][]model.Candle, 8),
		nowMs:     nowMs,
	}
}

// OnTick processes one tick and returns any candles that closed because of
// it (usually none). Malformed ticks are counted and dropped; the builder
// never fails on bad input.
func (b *Builder) OnTick(t model.Tick) []model.Candle {
	if reason, ok := b.validate(t); !ok {
		if b.OnInvalidTick != nil {
			b.OnInvalidTick(reason)
		}
		return nil
	}

	bucket := model.TF1m.Bucket(t.TS)
	open := b.open1m[t.Symbol]

	// Stale tick: older than the open bar minus one bucket.
	if open != nil && t.TS < open.StartTS-staleBoundMs {
		if b.OnInvalidTick != nil {
			b.OnInvalidTick("stale")
		}
		return nil
	}

	var closed []model.Candle

	if open != nil && bucket > open.StartTS {
		// Minute rolled: close the prior bar, commit, then open fresh.
		// Skipped buckets become gaps in the store; no synthetic bars.
		closed = b.close1m(open)
		open = nil
	}

	if open == nil || bucket < open.StartTS {
		if open != nil {
			// Tick belongs to an already-closed minute: drop as stale.
			if b.OnInvalidTick != nil {
				b.OnInvalidTick("stale")
			}
			return closed
		}
		nc := &model.Candle{
			Symbol:    t.Symbol,
			Timeframe: model.TF1m,
			StartTS:   bucket,
			Open:      t.Price,
			High:      t.Price,
			Low:       t.Price,
			Close:     t.Price,
			Volume:    t.Size,
			Session:   tagFor(t),
			IsClosed:  false,
			Source:    model.SourceWS,
		}
		b.open1m[t.Symbol] = nc
		b.st.SetForming(*nc)
		return closed
	}

	open.Update(t.Price, t.Size)
	b.st.SetForming(*open)
	return closed
}

// Flush closes and commits all open 1m bars (shutdown path).
func (b *Builder) Flush() []model.Candle {
	var closed []model.Candle
	for sym, open := range b.open1m {
		closed = append(closed, b.close1m(open)...)
		delete(b.open1m, sym)
	}
	return closed
}

// close1m finalizes an open 1m bar, commits it and any completed 5m window,
// and refreshes the forming 5m/15m bars. Returns the candles that closed.
func (b *Builder) close1m(open *model.Candle) []model.Candle {
	c := *open
	c.IsClosed = true
	delete(b.open1m, c.Symbol)
	b.st.ClearForming(c.Symbol, model.TF1m)

	if err := b.st.Append(c); err != nil {
		if b.OnInvalidTick != nil {
			b.OnInvalidTick("append_1m")
		}
		return nil
	}
	if b.OnCandle != nil {
		b.OnCandle(c)
	}
	closed := []model.Candle{c}

	b.remember(c)

	if five, ok := b.aggregate5m(c); ok {
		if err := b.st.Append(five); err == nil {
			if b.OnCandle != nil {
				b.OnCandle(five)
			}
			closed = append(closed, five)
			b.st.ClearForming(five.Symbol, model.TF5m)
		}
	} else {
		b.updateForming5m(c)
	}

	if b.Forming15 {
		b.updateForming15m(c)
	}
	return closed
}

// remember keeps a bounded tail of closed 1m bars per symbol for the 5m
// window check and the forming 15m recompute.
func (b *Builder) remember(c model.Candle) {
	tail := append(b.recent[c.Symbol], c)
	if len(tail) > 16 {
		tail = tail[len(tail)-16:]
	}
	b.recent[c.Symbol] = tail
}

// aggregate5m emits a closed 5m candle when the just-closed 1m bar
// completes its 5m window and all five constituents are present. A window
// with any constituent missing produces no candle; the slot surfaces as a
// gap when the next 5m bar lands.
func (b *Builder) aggregate5m(last model.Candle) (model.Candle, bool) {
	winStart := model.TF5m.Bucket(last.StartTS)
	if last.StartTS != winStart+4*model.TF1m.DurationMs() {
		return model.Candle{}, false
	}
	parts := b.window(last.Symbol, winStart, window5mBars)
	if len(parts) != window5mBars {
		return model.Candle{}, false
	}
	return merge(parts, model.TF5m, winStart), true
}

// updateForming5m publishes the partial 5m bar built from the 1m closes so
// far in the current window, so freshness sees the live 5m bucket.
func (b *Builder) updateForming5m(last model.Candle) {
	winStart := model.TF5m.Bucket(last.StartTS)
	parts := b.windowTail(last.Symbol, winStart, last.StartTS)
	if len(parts) == 0 {
		return
	}
	f := merge(parts, model.TF5m, winStart)
	f.IsClosed = false
	b.st.SetForming(f)
}

// updateForming15m recomputes the in-progress aggregated 15m bar from the
// consecutive 1m closes inside the current 15m window.
func (b *Builder) updateForming15m(last model.Candle) {
	winStart := model.TF15m.Bucket(last.StartTS)
	parts := b.windowTail(last.Symbol, winStart, last.StartTS)
	if len(parts) == 0 {
		return
	}
	f := merge(parts, model.TF15m, winStart)
	f.IsClosed = false
	b.st.SetForming(f)
}

// window returns exactly the n consecutive 1m bars starting at winStart,
// or a short slice when any slot is missing.
func (b *Builder) window(symbol string, winStart int64, n int) []model.Candle {
	want := winStart
	var out []model.Candle
	for _, c := range b.recent[symbol] {
		if c.StartTS == want {
			out = append(out, c)
			want += model.TF1m.DurationMs()
			if len(out) == n {
				break
			}
		}
	}
	return out
}

// windowTail returns the consecutive run of 1m bars inside [winStart, last]
// ending at last.
func (b *Builder) windowTail(symbol string, winStart, lastTS int64) []model.Candle {
	recent := b.recent[symbol]
	var run []model.Candle
	for i := len(recent) - 1; i >= 0; i-- {
		c := recent[i]
		if c.StartTS > lastTS || c.StartTS < winStart {
			if len(run) > 0 {
				break
			}
			continue
		}
		if len(run) > 0 && run[0].StartTS-c.StartTS != model.TF1m.DurationMs() {
			break
		}
		run = append([]model.Candle{c}, run...)
	}
	return run
}

// merge folds consecutive lower-TF bars into one bar of the target TF.
func merge(parts []model.Candle, tf model.Timeframe, winStart int64) model.Candle {
	first, last := parts[0], parts[len(parts)-1]
	out := model.Candle{
		Symbol:    first.Symbol,
		Timeframe: tf,
		StartTS:   winStart,
		Open:      first.Open,
		High:      first.High,
		Low:       first.Low,
		Close:     last.Close,
		Session:   session.Majority(parts),
		IsClosed:  true,
		Source:    model.SourceAGG,
	}
	for _, p := range parts {
		if p.High > out.High {
			out.High = p.High
		}
		if p.Low < out.Low {
			out.Low = p.Low
		}
		out.Volume += p.Volume
	}
	return out
}

// validate applies the tick acceptance rules.
func (b *Builder) validate(t model.Tick) (string, bool) {
	if t.Symbol == "" {
		return "missing_symbol", false
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || math.IsNaN(t.Size) || math.IsInf(t.Size, 0) {
		return "non_finite", false
	}
	if t.Price <= 0 {
		return "non_positive_price", false
	}
	if t.Size < 0 {
		return "negative_size", false
	}
	if t.TS > b.nowMs()+maxFutureSkewMs {
		return "future_ts", false
	}
	return "", true
}

func tagFor(t model.Tick) model.SessionTag {
	if t.Session != "" && t.Session != model.SessionUnknown {
		return t.Session
	}
	return session.Tag(t.TS)
}
