package indicator

import "github.com/sharif3/momentum-trader/internal/model"

// ThinVolumeThreshold flags a thin tape on 5m.
const ThinVolumeThreshold = 0.5

// RelVol computes relative volume for the latest bar.
//
// Preferred form: volume of the current bar divided by the mean volume of
// the last `window` bars at the same time-of-day slot on prior days.
// When fewer than `window` same-slot samples are retained, it falls back
// to the plain mean over the last `window` bars.
func RelVol(candles []model.Candle, window int) (float64, bool) {
	if window <= 0 || len(candles) < window {
		return 0, false
	}
	cur := candles[len(candles)-1]

	const dayMs = 86_400_000
	slot := cur.StartTS % dayMs
	var slotVols []float64
	for i := 0; i < len(candles)-1; i++ {
		if candles[i].StartTS%dayMs == slot {
			slotVols = append(slotVols, candles[i].Volume)
		}
	}
	var avg float64
	if len(slotVols) >= window {
		avg = mean(slotVols[len(slotVols)-window:])
	} else {
		avg = mean(volumes(candles[len(candles)-window:]))
	}
	if avg <= 0 {
		return 0, false
	}
	return cur.Volume / avg, true
}

// DollarVolumeAvg returns the mean close*volume over the last `window`
// bars. Used by the liquidity gate.
func DollarVolumeAvg(candles []model.Candle, window int) (float64, bool) {
	if window <= 0 || len(candles) < window {
		return 0, false
	}
	tail := candles[len(candles)-window:]
	sum := 0.0
	for i := range tail {
		sum += tail[i].Close * tail[i].Volume
	}
	return sum / float64(window), true
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
