package indicator

import "github.com/sharif3/momentum-trader/internal/model"

// PriorHighLow returns the max high and min low over the `window` closed
// candles preceding the current (latest) bar. The current bar is excluded.
// Missing until window+1 candles exist.
func PriorHighLow(candles []model.Candle, window int) (high, low float64, ok bool) {
	if window <= 0 || len(candles) < window+1 {
		return 0, 0, false
	}
	lookback := candles[len(candles)-window-1 : len(candles)-1]
	high, low = lookback[0].High, lookback[0].Low
	for i := 1; i < len(lookback); i++ {
		if lookback[i].High > high {
			high = lookback[i].High
		}
		if lookback[i].Low < low {
			low = lookback[i].Low
		}
	}
	return high, low, true
}

// SwingLow returns the min low over the last `window` candles including
// the current bar — the swing-low proxy used by the structure checks.
func SwingLow(candles []model.Candle, window int) (float64, bool) {
	if len(candles) == 0 {
		return 0, false
	}
	if window > len(candles) {
		window = len(candles)
	}
	tail := candles[len(candles)-window:]
	low := tail[0].Low
	for i := 1; i < len(tail); i++ {
		if tail[i].Low < low {
			low = tail[i].Low
		}
	}
	return low, true
}
