package indicator

import (
	"math"

	"github.com/sharif3/momentum-trader/internal/model"
)

// TrueRanges computes the true-range series
// TR_i = max(h-l, |h-prev_c|, |l-prev_c|), defined from the second candle.
func TrueRanges(candles []model.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		hl := candles[i].High - candles[i].Low
		hc := math.Abs(candles[i].High - candles[i-1].Close)
		lc := math.Abs(candles[i].Low - candles[i-1].Close)
		out = append(out, math.Max(hl, math.Max(hc, lc)))
	}
	return out
}

// ATR computes Wilder's ATR: seeded as the SMA of the first `period` true
// ranges, then ATR_i = (ATR_{i-1}*(period-1) + TR_i) / period.
// Missing until period+1 candles exist.
func ATR(candles []model.Candle, period int) (float64, bool) {
	tr := TrueRanges(candles)
	if period <= 0 || len(tr) < period {
		return 0, false
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	p := float64(period)
	for i := period; i < len(tr); i++ {
		atr = (atr*(p-1) + tr[i]) / p
	}
	return atr, true
}
