package indicator

import (
	"math"
	"testing"

	"github.com/sharif3/momentum-trader/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f)", label, got, want, tol)
	}
}

func bar(startTS int64, o, h, l, c, v float64) model.Candle {
	return model.Candle{
		Symbol: "TEST", Timeframe: model.TF5m, StartTS: startTS,
		Open: o, High: h, Low: l, Close: c, Volume: v,
		Session: model.SessionRTH, IsClosed: true, Source: model.SourceAGG,
	}
}

func flatBars(n int, close, vol float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = bar(int64(i)*300_000, close, close+0.5, close-0.5, close, vol)
	}
	return out
}

// ────────────────────────────────────────────────────────────
// EMA
// ────────────────────────────────────────────────────────────

func TestEMA_UndefinedBeforePeriod(t *testing.T) {
	values := []float64{100, 101, 102, 103, 104, 105, 106, 107}
	if _, ok := EMA(values, 9); ok {
		t.Fatal("EMA(9) should be undefined with 8 values")
	}
}

func TestEMA_SeedEqualsSMA(t *testing.T) {
	// At exactly period values, EMA == SMA of those values.
	values := []float64{100, 101, 102, 103, 104, 105, 106, 107, 108}
	got, ok := EMA(values, 9)
	if !ok {
		t.Fatal("EMA(9) should be defined with 9 values")
	}
	assertClose(t, "EMA(9) seed", got, 104.0, 1e-9) // (100+...+108)/9
}

func TestEMA_Recurrence(t *testing.T) {
	// Hand-calculated EMA(3), alpha = 2/4 = 0.5.
	// Seed after 3 values: (10+11+12)/3 = 11.
	// Next value 14: 11 + (14-11)*0.5 = 12.5
	// Next value 13: 12.5 + (13-12.5)*0.5 = 12.75
	values := []float64{10, 11, 12, 14, 13}
	got, ok := EMA(values, 3)
	if !ok {
		t.Fatal("EMA(3) should be defined")
	}
	assertClose(t, "EMA(3)", got, 12.75, 1e-9)
}

// ────────────────────────────────────────────────────────────
// ATR (Wilder)
// ────────────────────────────────────────────────────────────

func TestATR_MissingUntilEnoughBars(t *testing.T) {
	if _, ok := ATR(flatBars(14, 100, 1000), 14); ok {
		t.Fatal("ATR(14) needs 15 candles (14 true ranges)")
	}
	if _, ok := ATR(flatBars(15, 100, 1000), 14); !ok {
		t.Fatal("ATR(14) should be defined with 15 candles")
	}
}

func TestATR_Wilder_HandCalc(t *testing.T) {
	// ATR(2) over 4 bars, hand-calculated.
	// Bars: (h,l,c) = (12,10,11), (13,11,12), (15,12,14), (14,13,13.5)
	// TR2 = max(13-11, |13-11|, |11-11|) = 2
	// TR3 = max(15-12, |15-12|, |12-12|) = 3
	// TR4 = max(14-13, |14-14|, |13-14|) = 1
	// seed = (TR2+TR3)/2 = 2.5; ATR = (2.5*1 + 1)/2 = 1.75
	candles := []model.Candle{
		bar(0, 11, 12, 10, 11, 1),
		bar(300_000, 11, 13, 11, 12, 1),
		bar(600_000, 12, 15, 12, 14, 1),
		bar(900_000, 14, 14, 13, 13.5, 1),
	}
	got, ok := ATR(candles, 2)
	if !ok {
		t.Fatal("ATR(2) should be defined")
	}
	assertClose(t, "ATR(2)", got, 1.75, 1e-9)
}

// ────────────────────────────────────────────────────────────
// OBV slope
// ────────────────────────────────────────────────────────────

func TestOBVSeries_Recurrence(t *testing.T) {
	closes := []float64{10, 11, 11, 10, 12}
	vols := []float64{100, 200, 300, 400, 500}
	obv := OBVSeries(closes, vols)
	want := []float64{0, 200, 200, -200, 300}
	for i := range want {
		assertClose(t, "OBV", obv[i], want[i], 1e-9)
	}
}

func TestOBVSlope_SignMatchesTrend(t *testing.T) {
	n := 30
	up := make([]float64, n)
	vols := make([]float64, n)
	for i := range up {
		up[i] = 100 + float64(i)
		vols[i] = 1000
	}
	slope, ok := OBVSlope(up, vols)
	if !ok || slope <= 0 {
		t.Fatalf("rising closes should give positive OBV slope, got %v (ok=%v)", slope, ok)
	}

	down := make([]float64, n)
	for i := range down {
		down[i] = 200 - float64(i)
	}
	slope, ok = OBVSlope(down, vols)
	if !ok || slope >= 0 {
		t.Fatalf("falling closes should give negative OBV slope, got %v (ok=%v)", slope, ok)
	}
}

// ────────────────────────────────────────────────────────────
// Prior levels / swing low
// ────────────────────────────────────────────────────────────

func TestPriorHighLow_ExcludesCurrentBar(t *testing.T) {
	candles := flatBars(21, 100, 1000)
	// Current (last) bar has an extreme high/low that must not count.
	candles[20].High = 150
	candles[20].Low = 50
	candles[20].Close = 100

	hi, lo, ok := PriorHighLow(candles, 20)
	if !ok {
		t.Fatal("PriorHighLow should be defined with 21 candles")
	}
	assertClose(t, "prior high", hi, 100.5, 1e-9)
	assertClose(t, "prior low", lo, 99.5, 1e-9)
}

func TestPriorHighLow_MissingWithoutHistory(t *testing.T) {
	if _, _, ok := PriorHighLow(flatBars(20, 100, 1000), 20); ok {
		t.Fatal("PriorHighLow(20) needs 21 candles")
	}
}

func TestSwingLow(t *testing.T) {
	candles := flatBars(10, 100, 1000)
	candles[4].Low = 91.25
	low, ok := SwingLow(candles, 20)
	if !ok {
		t.Fatal("SwingLow should be defined")
	}
	assertClose(t, "swing low", low, 91.25, 1e-9)
}

// ────────────────────────────────────────────────────────────
// VWAP
// ────────────────────────────────────────────────────────────

func TestSessionVWAP_HandCalc(t *testing.T) {
	// Two RTH bars: typical = (h+l+c)/3.
	// bar1: (102+98+100)/3 = 100, vol 100
	// bar2: (106+102+104)/3 = 104, vol 300
	// VWAP = (100*100 + 104*300) / 400 = 103.0
	candles := []model.Candle{
		bar(0, 100, 102, 98, 100, 100),
		bar(300_000, 104, 106, 102, 104, 300),
	}
	got, ok := SessionVWAP(candles, 0)
	if !ok {
		t.Fatal("VWAP should be defined")
	}
	assertClose(t, "VWAP", got, 103.0, 1e-9)
}

func TestSessionVWAP_SkipsEXTAndPreSession(t *testing.T) {
	candles := []model.Candle{
		bar(0, 100, 102, 98, 100, 100),
		bar(300_000, 104, 106, 102, 104, 300),
	}
	candles[0].Session = model.SessionEXT
	got, ok := SessionVWAP(candles, 0)
	if !ok {
		t.Fatal("VWAP should be defined from the single RTH bar")
	}
	assertClose(t, "VWAP skips EXT", got, 104.0, 1e-9)

	// Session boundary after both bars: nothing to anchor on.
	if _, ok := SessionVWAP(candles, 600_000); ok {
		t.Fatal("VWAP should be missing when no bars are inside the session")
	}
}

// ────────────────────────────────────────────────────────────
// RelVol / dollar volume
// ────────────────────────────────────────────────────────────

func TestRelVol_PlainFallback(t *testing.T) {
	candles := flatBars(20, 100, 1000)
	candles[19].Volume = 3000
	// Mean over last 20 = (19*1000 + 3000)/20 = 1100; relvol = 3000/1100.
	got, ok := RelVol(candles, 20)
	if !ok {
		t.Fatal("RelVol should be defined with 20 candles")
	}
	assertClose(t, "relvol fallback", got, 3000.0/1100.0, 1e-9)
}

func TestRelVol_SameSlotOfDay(t *testing.T) {
	// 21 days of bars at the same time-of-day slot, then today's bar with
	// double volume. Same-slot mean over the prior 20 = 1000.
	const dayMs = 86_400_000
	candles := make([]model.Candle, 0, 21)
	for d := 0; d < 21; d++ {
		candles = append(candles, bar(int64(d)*dayMs, 100, 100.5, 99.5, 100, 1000))
	}
	candles[20].Volume = 2000
	got, ok := RelVol(candles, 20)
	if !ok {
		t.Fatal("RelVol should be defined")
	}
	assertClose(t, "relvol same-slot", got, 2.0, 1e-9)
}

func TestDollarVolumeAvg(t *testing.T) {
	candles := flatBars(20, 50, 4000) // 50 * 4000 = 200k per bar
	got, ok := DollarVolumeAvg(candles, 20)
	if !ok {
		t.Fatal("DollarVolumeAvg should be defined")
	}
	assertClose(t, "dollar vol", got, 200_000, 1e-6)
}
