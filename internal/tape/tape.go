// Package tape derives the aggregate market posture (risk regime and
// relative strength) from the two reference instruments.
package tape

import (
	"fmt"
	"time"

	"github.com/sharif3/momentum-trader/internal/indicator"
	"github.com/sharif3/momentum-trader/internal/model"
	"github.com/sharif3/momentum-trader/internal/store"
)

// rs30mBars is how many closed 5m bars back the relative-strength return
// looks (6 bars ~ 30 minutes).
const rs30mBars = 6

// lowerLowBars is how many consecutive 15m lows must decline for the
// risk-off structure check.
const lowerLowBars = 3

// Config names the reference instruments.
type Config struct {
	SPY string
	QQQ string
}

// Context computes TapeSnapshots against the store.
type Context struct {
	st  *store.Store
	cfg Config
	now func() time.Time
}

// New creates a tape context. now is injectable for tests; nil means
// time.Now.
func New(st *store.Store, cfg Config, now func() time.Time) *Context {
	if cfg.SPY == "" {
		cfg.SPY = "SPY"
	}
	if cfg.QQQ == "" {
		cfg.QQQ = "QQQ"
	}
	if now == nil {
		now = time.Now
	}
	return &Context{st: st, cfg: cfg, now: now}
}

// Compute derives the tape snapshot for the given primary symbol.
//
// Risk-off requires BOTH references to close below EMA20(15m) with three
// consecutive lower 15m lows. One flagged reference is NEUTRAL, none is
// RISK_ON. A stale or missing reference makes the regime UNKNOWN and
// RiskOff nil — scoring treats that as a failed tape-gate precondition.
func (t *Context) Compute(primary string) model.TapeSnapshot {
	snap := model.TapeSnapshot{
		Regime:     model.RegimeUnknown,
		ComputedAt: t.now().UnixMilli(),
	}

	if rs, ok := t.rs30m(primary); ok {
		v := rs
		snap.RS30m = &v
		snap.Audit = append(snap.Audit, fmt.Sprintf("rs_30m=%.6f (%s vs %s)", rs, primary, t.cfg.QQQ))
	} else {
		snap.Audit = append(snap.Audit, "rs_30m: insufficient 5m history")
	}

	spyOK := t.st.Freshness(t.cfg.SPY, model.TF15m) == model.Fresh
	qqqOK := t.st.Freshness(t.cfg.QQQ, model.TF15m) == model.Fresh
	if !spyOK || !qqqOK {
		if !spyOK {
			snap.Audit = append(snap.Audit, t.cfg.SPY+": 15m stale or missing")
		}
		if !qqqOK {
			snap.Audit = append(snap.Audit, t.cfg.QQQ+": 15m stale or missing")
		}
		return snap
	}

	spyFlag, spyWhy := t.riskFlag(t.cfg.SPY)
	qqqFlag, qqqWhy := t.riskFlag(t.cfg.QQQ)
	snap.Audit = append(snap.Audit, spyWhy...)
	snap.Audit = append(snap.Audit, qqqWhy...)

	riskOff := spyFlag && qqqFlag
	snap.RiskOff = &riskOff
	switch {
	case riskOff:
		snap.Regime = model.RegimeRiskOff
	case spyFlag || qqqFlag:
		snap.Regime = model.RegimeNeutral
	default:
		snap.Regime = model.RegimeRiskOn
	}
	return snap
}

// riskFlag evaluates one reference on 15m: close below EMA20 plus three
// monotonically lower lows.
func (t *Context) riskFlag(symbol string) (bool, []string) {
	candles := t.st.Latest(symbol, model.TF15m, 0)
	if len(candles) < lowerLowBars {
		return false, []string{symbol + ": not enough 15m candles"}
	}

	cls := make([]float64, len(candles))
	for i := range candles {
		cls[i] = candles[i].Close
	}
	ema20, ok := indicator.EMA(cls, 20)
	if !ok {
		return false, []string{symbol + ": missing ema20(15m)"}
	}

	closeNow := cls[len(cls)-1]
	belowEMA := closeNow < ema20

	tail := candles[len(candles)-lowerLowBars:]
	lowerLows := true
	for i := 1; i < len(tail); i++ {
		if tail[i].Low >= tail[i-1].Low {
			lowerLows = false
			break
		}
	}

	flag := belowEMA && lowerLows
	why := []string{fmt.Sprintf("%s: close<ema20=%v lower_lows_%d=%v", symbol, belowEMA, lowerLowBars, lowerLows)}
	return flag, why
}

// rs30m computes r_ticker - r_QQQ where r_X = (c_last / c_{last-6}) - 1 on
// the 5m series.
func (t *Context) rs30m(primary string) (float64, bool) {
	pr, ok := pctReturn(t.st.Latest(primary, model.TF5m, 0), rs30mBars)
	if !ok {
		return 0, false
	}
	qr, ok := pctReturn(t.st.Latest(t.cfg.QQQ, model.TF5m, 0), rs30mBars)
	if !ok {
		return 0, false
	}
	return pr - qr, true
}

func pctReturn(candles []model.Candle, bars int) (float64, bool) {
	if len(candles) < bars+1 {
		return 0, false
	}
	then := candles[len(candles)-1-bars].Close
	now := candles[len(candles)-1].Close
	if then == 0 {
		return 0, false
	}
	return now/then - 1.0, true
}
