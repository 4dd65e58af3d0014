package indicator

import (
	"github.com/sharif3/momentum-trader/internal/model"
	"github.com/sharif3/momentum-trader/internal/session"
	"github.com/sharif3/momentum-trader/internal/store"
)

// Per-timeframe EMA periods (spec'd indicator grid).
var emaPeriods = map[model.Timeframe][]int{
	model.TF1m:  {9, 20},
	model.TF5m:  {9, 20},
	model.TF15m: {9, 20, 50, 200},
	model.TF1h:  {50, 200},
	model.TF1d:  {50, 200},
}

const (
	atrPeriod   = 14
	priorWindow = 20
	relWindow   = 20
)

// Compute builds the indicator set for one (symbol, timeframe) from the
// store's closed candles. Deterministic for a given series.
func Compute(st *store.Store, symbol string, tf model.Timeframe) Set {
	candles := st.Latest(symbol, tf, 0)
	out := Set{}
	if len(candles) == 0 {
		return out
	}

	cls := closes(candles)
	vols := volumes(candles)

	for _, p := range emaPeriods[tf] {
		if v, ok := EMA(cls, p); ok {
			out[emaName(p)] = v
		}
	}

	switch tf {
	case model.TF5m, model.TF15m:
		if v, ok := ATR(candles, atrPeriod); ok {
			out["atr14"] = v
		}
		if hi, lo, ok := PriorHighLow(candles, priorWindow); ok {
			out["prior_high20"] = hi
			out["prior_low20"] = lo
		}
		if v, ok := OBVSlope(cls, vols); ok {
			out["obv_slope"] = v
		}
		if v, ok := RelVol(candles, relWindow); ok {
			out["relvol20"] = v
		}
		if sl, ok := SwingLow(candles, priorWindow); ok {
			out["swing_low20"] = sl
		}
	}

	if tf == model.TF5m {
		last := candles[len(candles)-1]
		if v, ok := SessionVWAP(candles, session.RTHStart(last.StartTS)); ok {
			out["vwap"] = v
		}
		if v, ok := DollarVolumeAvg(candles, relWindow); ok {
			out["dollar_vol20"] = v
		}
	}

	return out
}

func emaName(period int) string {
	switch period {
	case 9:
		return "ema9"
	case 20:
		return "ema20"
	case 50:
		return "ema50"
	case 200:
		return "ema200"
	default:
		return "ema"
	}
}
