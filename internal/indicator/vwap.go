package indicator

import "github.com/sharif3/momentum-trader/internal/model"

// SessionVWAP computes the cumulative volume-weighted average price over
// the RTH-tagged candles of the current trading session:
//
//	VWAP = sum(typical * volume) / sum(volume), typical = (h+l+c)/3
//
// sessionStartMs is the epoch-ms open of the session (9:30 ET). Missing
// when no RTH candles with volume fall inside the session.
func SessionVWAP(candles []model.Candle, sessionStartMs int64) (float64, bool) {
	pvSum, vSum := 0.0, 0.0
	for i := range candles {
		c := &candles[i]
		if c.StartTS < sessionStartMs || c.Session != model.SessionRTH {
			continue
		}
		if c.Volume <= 0 {
			continue
		}
		typical := (c.High + c.Low + c.Close) / 3.0
		pvSum += typical * c.Volume
		vSum += c.Volume
	}
	if vSum <= 0 {
		return 0, false
	}
	return pvSum / vSum, true
}
