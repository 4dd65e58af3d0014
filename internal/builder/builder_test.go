package builder

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/sharif3/momentum-trader/internal/model"
	"github.com/sharif3/momentum-trader/internal/store"
)

// base is Tuesday 2024-01-09 18:00:00 UTC, aligned to the 15m grid.
const base = int64(1704823200000)

// now is far enough past the fed ticks that nothing looks future-dated.
const now = base + 30*60_000

func newTestBuilder(t *testing.T) (*Builder, *store.Store) {
	t.Helper()
	st := store.New(store.Config{Now: func() time.Time { return time.UnixMilli(now) }})
	b := New(Config{Store: st, Forming15: true, NowMs: func() int64 { return now }})
	return b, st
}

func tick(symbol string, tsMs int64, price, size float64) model.Tick {
	return model.Tick{Symbol: symbol, TS: tsMs, Price: price, Size: size, Session: model.SessionRTH}
}

func TestOnTick_SingleMinuteRoundtrip(t *testing.T) {
	b, st := newTestBuilder(t)

	prices := []float64{100, 102, 99, 101}
	sizes := []float64{10, 20, 30, 40}
	for i := range prices {
		if closed := b.OnTick(tick("TSLA", base+int64(i)*1000, prices[i], sizes[i])); len(closed) != 0 {
			t.Fatalf("no candle should close mid-minute, got %d", len(closed))
		}
	}

	// Next minute's first tick closes the bar.
	closed := b.OnTick(tick("TSLA", base+60_000, 101.5, 5))
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed candle, got %d", len(closed))
	}
	c := closed[0]
	if c.Timeframe != model.TF1m || !c.IsClosed || c.Source != model.SourceWS {
		t.Errorf("closed candle metadata wrong: %+v", c)
	}
	if c.Open != 100 || c.High != 102 || c.Low != 99 || c.Close != 101 || c.Volume != 100 {
		t.Errorf("OHLCV wrong: %+v", c)
	}

	got := st.Latest("TSLA", model.TF1m, 0)
	if len(got) != 1 || !reflect.DeepEqual(got[0], c) {
		t.Errorf("store contents differ from emitted candle")
	}
}

func TestOnTick_5mAggregation(t *testing.T) {
	b, st := newTestBuilder(t)

	// One tick per minute for minutes 0..4, then minute 5 closes the window.
	for i := int64(0); i <= 5; i++ {
		b.OnTick(tick("TSLA", base+i*60_000, 100+float64(i), 10))
	}

	got := st.Latest("TSLA", model.TF5m, 0)
	if len(got) != 1 {
		t.Fatalf("expected 1 closed 5m candle, got %d", len(got))
	}
	c := got[0]
	if c.StartTS != base || c.Source != model.SourceAGG || !c.IsClosed {
		t.Errorf("5m metadata wrong: %+v", c)
	}
	if c.Open != 100 || c.Close != 104 || c.High != 104 || c.Low != 100 || c.Volume != 50 {
		t.Errorf("5m OHLCV wrong: %+v", c)
	}
	if c.Session != model.SessionRTH {
		t.Errorf("5m session should be majority RTH, got %s", c.Session)
	}
}

func TestOnTick_MissingMinuteBlocks5m(t *testing.T) {
	b, st := newTestBuilder(t)

	// Skip minute 2 entirely.
	for _, i := range []int64{0, 1, 3, 4, 5} {
		b.OnTick(tick("TSLA", base+i*60_000, 100+float64(i), 10))
	}

	if got := st.Latest("TSLA", model.TF5m, 0); len(got) != 0 {
		t.Fatalf("incomplete window must not emit a 5m candle: %+v", got)
	}
	gaps := st.Gaps("TSLA", model.TF1m, 0)
	if len(gaps) != 1 || gaps[0] != base+2*60_000 {
		t.Errorf("missing 1m slot should be a recorded gap, got %v", gaps)
	}
}

func TestOnTick_5mAggregationIdempotent(t *testing.T) {
	run := func() model.Candle {
		b, st := newTestBuilder(t)
		for i := int64(0); i <= 5; i++ {
			b.OnTick(tick("TSLA", base+i*60_000, 100+float64(i), 10))
		}
		return st.Latest("TSLA", model.TF5m, 1)[0]
	}
	if a, b := run(), run(); !reflect.DeepEqual(a, b) {
		t.Errorf("same ticks produced different 5m candles:\n%+v\n%+v", a, b)
	}
}

func TestOnTick_Forming15m(t *testing.T) {
	b, st := newTestBuilder(t)

	for i := int64(0); i <= 3; i++ {
		b.OnTick(tick("TSLA", base+i*60_000, 100+float64(i), 10))
	}

	f, ok := st.Forming("TSLA", model.TF15m)
	if !ok {
		t.Fatal("forming 15m bar should exist after 1m closes")
	}
	if f.IsClosed || f.Source != model.SourceAGG || f.Timeframe != model.TF15m {
		t.Errorf("forming 15m metadata wrong: %+v", f)
	}
	// Covers the three closed minutes (0..2); minute 3 is still open.
	if f.Open != 100 || f.Close != 102 || f.Volume != 30 {
		t.Errorf("forming 15m contents wrong: %+v", f)
	}
}

func TestOnTick_ValidationDrops(t *testing.T) {
	b, _ := newTestBuilder(t)
	var reasons []string
	b.OnInvalidTick = func(reason string) { reasons = append(reasons, reason) }

	bad := []model.Tick{
		tick("", base, 100, 10),                   // missing symbol
		tick("TSLA", base, -5, 10),                // non-positive price
		tick("TSLA", base, 100, -1),               // negative size
		tick("TSLA", base, math.NaN(), 10),        // non-finite
		tick("TSLA", now+10_000, 100, 10),         // too far in the future
	}
	for _, tk := range bad {
		if closed := b.OnTick(tk); len(closed) != 0 {
			t.Errorf("invalid tick produced candles: %+v", tk)
		}
	}
	if len(reasons) != len(bad) {
		t.Errorf("expected %d drop reasons, got %v", len(bad), reasons)
	}
}

func TestOnTick_StaleTickDropped(t *testing.T) {
	b, _ := newTestBuilder(t)
	var dropped int
	b.OnInvalidTick = func(string) { dropped++ }

	b.OnTick(tick("TSLA", base+5*60_000, 100, 10))
	// More than one bucket behind the open bar.
	b.OnTick(tick("TSLA", base+3*60_000, 99, 10))
	if dropped != 1 {
		t.Errorf("stale tick should be dropped, dropped=%d", dropped)
	}
}

func TestFlush_CommitsOpenBars(t *testing.T) {
	b, st := newTestBuilder(t)
	b.OnTick(tick("TSLA", base, 100, 10))

	closed := b.Flush()
	if len(closed) == 0 {
		t.Fatal("flush should close the open bar")
	}
	if got := st.Latest("TSLA", model.TF1m, 0); len(got) != 1 || !got[0].IsClosed {
		t.Errorf("flushed bar not committed: %+v", got)
	}
}
