package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sharif3/momentum-trader/internal/model"
	"github.com/sharif3/momentum-trader/internal/provider"
	"github.com/sharif3/momentum-trader/internal/store"
)

// refreshTFs are the higher timeframes owned by the REST refresher.
var refreshTFs = []model.Timeframe{model.TF15m, model.TF1h, model.TF1d}

// fetchBars is how many bars back each refresh reaches. It exceeds the
// 200-bar default retention of 15m/1h/4h; the 1d series (400 retained)
// is refreshed over its newest 300 bars only.
const fetchBars = 300

// Refresher periodically pulls closed higher-timeframe candles for the
// primary and reference instruments and backfills them into the store.
// It is the sole writer of the 15m/1h/4h/1d series.
type Refresher struct {
	Provider provider.Provider
	Store    *store.Store
	Symbols  []string
	Interval time.Duration
	Timeout  time.Duration // per REST call

	breaker *gobreaker.CircuitBreaker
	now     func() time.Time

	// OnRefresh is an optional metrics hook per (symbol, tf) fetch.
	OnRefresh func(tf model.Timeframe, took time.Duration, err error)
}

// NewRefresher creates a refresher with a circuit breaker around provider
// calls: after repeated failures the breaker opens and fetches are skipped
// until the next probe, instead of hammering a down provider.
func NewRefresher(p provider.Provider, st *store.Store, symbols []string, interval, timeout time.Duration) *Refresher {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Refresher{
		Provider: p,
		Store:    st,
		Symbols:  symbols,
		Interval: interval,
		Timeout:  timeout,
		now:      time.Now,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "provider_rest",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Run refreshes immediately, then on every interval tick until ctx is
// cancelled. Provider failures are logged and retried next cadence; they
// never surface to requests.
func (r *Refresher) Run(ctx context.Context) {
	r.refreshAll(ctx)

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

func (r *Refresher) refreshAll(ctx context.Context) {
	for _, symbol := range r.Symbols {
		if ctx.Err() != nil {
			return
		}
		r.refreshSymbol(ctx, symbol)
	}
}

func (r *Refresher) refreshSymbol(ctx context.Context, symbol string) {
	var oneHour []model.Candle

	for _, tf := range refreshTFs {
		candles, err := r.fetch(ctx, symbol, tf)
		if err != nil {
			slog.Warn("rest refresh failed", "symbol", symbol, "tf", tf, "err", err)
			continue
		}
		if tf == model.TF1h {
			oneHour = candles
		}
		r.apply(symbol, tf, candles)
	}

	// 4h: prefer a native fetch, aggregate from 1h when the provider
	// cannot serve it.
	candles, err := r.fetch(ctx, symbol, model.TF4h)
	if err != nil && len(oneHour) > 0 {
		candles = Aggregate4h(symbol, oneHour)
		err = nil
	}
	if err != nil {
		slog.Warn("rest refresh failed", "symbol", symbol, "tf", model.TF4h, "err", err)
		return
	}
	r.apply(symbol, model.TF4h, candles)
}

func (r *Refresher) fetch(ctx context.Context, symbol string, tf model.Timeframe) ([]model.Candle, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	start := r.now()
	res, err := r.breaker.Execute(func() (interface{}, error) {
		to := r.now().UnixMilli()
		from := to - int64(fetchBars)*tf.DurationMs()
		return r.Provider.FetchCandles(callCtx, symbol, tf, from, to)
	})
	if r.OnRefresh != nil {
		r.OnRefresh(tf, r.now().Sub(start), err)
	}
	if err != nil {
		return nil, err
	}
	return res.([]model.Candle), nil
}

// apply drops still-forming bars and backfills the rest.
func (r *Refresher) apply(symbol string, tf model.Timeframe, candles []model.Candle) {
	nowMs := r.now().UnixMilli()
	kept := candles[:0:len(candles)]
	for _, c := range candles {
		if c.EndTS() > nowMs || !c.IsClosed {
			continue // partial bar: never stored
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return
	}
	if n, err := r.Store.Backfill(symbol, tf, kept); err != nil {
		slog.Error("backfill rejected", "symbol", symbol, "tf", tf, "err", err)
	} else if n > 0 {
		slog.Debug("backfilled", "symbol", symbol, "tf", tf, "bars", n)
	}
}

// Aggregate4h folds 1h bars into 4h bars when the provider has no native
// 4h endpoint. Windows missing their first hour open with whatever hour is
// present; volume sums across constituents.
func Aggregate4h(symbol string, oneHour []model.Candle) []model.Candle {
	var out []model.Candle
	var bucket []model.Candle

	flush := func() {
		if len(bucket) == 0 {
			return
		}
		first, last := bucket[0], bucket[len(bucket)-1]
		c := model.Candle{
			Symbol:    symbol,
			Timeframe: model.TF4h,
			StartTS:   model.TF4h.Bucket(first.StartTS),
			Open:      first.Open,
			High:      first.High,
			Low:       first.Low,
			Close:     last.Close,
			Session:   first.Session,
			IsClosed:  true,
			Source:    model.SourceREST,
		}
		for _, b := range bucket {
			if b.High > c.High {
				c.High = b.High
			}
			if b.Low < c.Low {
				c.Low = b.Low
			}
			c.Volume += b.Volume
		}
		out = append(out, c)
		bucket = bucket[:0]
	}

	for _, c := range oneHour {
		if len(bucket) > 0 && model.TF4h.Bucket(c.StartTS) != model.TF4h.Bucket(bucket[0].StartTS) {
			flush()
		}
		bucket = append(bucket, c)
	}
	flush()
	return out
}
