// Package scoring applies the deterministic momentum state machine and
// hard gates to produce an actionable signal with an audit trail.
//
// The engine is stateless: every request recomputes the state by replaying
// the transition table over the trailing closed 5m bars, so identical store
// contents always produce identical results.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/sharif3/momentum-trader/internal/indicator"
	"github.com/sharif3/momentum-trader/internal/model"
	"github.com/sharif3/momentum-trader/internal/session"
	"github.com/sharif3/momentum-trader/internal/store"
	"github.com/sharif3/momentum-trader/internal/tape"
)

// Default gate parameters.
const (
	DefaultLiquidityFloorUSD = 1_000_000.0
	rsRiskOffMin             = 0.005 // +0.5% vs QQQ required when tape is risk-off
	noChaseATRMult           = 2.0
)

// requiredTFs must be fresh for any signal beyond HOLD.
var requiredTFs = []model.Timeframe{model.TF5m, model.TF15m}

// Config tunes the scoring engine.
type Config struct {
	LiquidityFloorUSD float64
}

// Engine scores symbols against the store and tape context.
type Engine struct {
	st   *store.Store
	tape *tape.Context
	cfg  Config
	now  func() time.Time

	// OnScore is an optional hook invoked with every result (metrics,
	// journaling, notification fan-out).
	OnScore func(res model.ScoreResult)
}

// New creates a scoring engine. now is injectable for tests.
func New(st *store.Store, tp *tape.Context, cfg Config, now func() time.Time) *Engine {
	if cfg.LiquidityFloorUSD <= 0 {
		cfg.LiquidityFloorUSD = DefaultLiquidityFloorUSD
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{st: st, tape: tp, cfg: cfg, now: now}
}

// Score produces the full ScoreResult for a symbol. It reads the store at
// call time; the copies returned by the store make the view read-consistent
// for the duration of the request.
func (e *Engine) Score(symbol string) model.ScoreResult {
	res := model.ScoreResult{
		Ticker:         symbol,
		Signal:         model.SignalHold,
		State:          model.StateNoMomo,
		FreshnessPerTF: map[model.Timeframe]model.Freshness{},
		MissingTFs:     []model.Timeframe{},
		Audit:          []model.AuditEntry{},
	}

	for _, tf := range model.AllTimeframes {
		res.FreshnessPerTF[tf] = e.st.Freshness(symbol, tf)
	}
	res.Tape = e.tape.Compute(symbol)
	e.lastPrice(symbol, &res)

	c5 := e.st.Latest(symbol, model.TF5m, 0)
	c15 := e.st.Latest(symbol, model.TF15m, 0)

	// Gate 1 — liquidity. Dominates everything: a computed fail forces
	// IGNORE. With insufficient history the gate is unknown and the
	// conservative HOLD path applies instead.
	liqOK, liqKnown := e.liquidityGate(c5, &res)
	if liqKnown && !liqOK {
		res.Signal = model.SignalIgnore
		e.finish(&res)
		return res
	}

	// Gate 5 — freshness. Both required TFs must be fresh; otherwise the
	// signal is a forced HOLD listing the offending timeframes.
	fresh := true
	for _, tf := range requiredTFs {
		if res.FreshnessPerTF[tf] != model.Fresh {
			fresh = false
			res.MissingTFs = append(res.MissingTFs, tf)
		}
	}
	if !fresh {
		res.Audit = append(res.Audit, model.AuditEntry{
			Gate: "freshness", Passed: false,
			Detail: fmt.Sprintf("required timeframes not fresh: %v", res.MissingTFs),
		})
		e.levels(c15, nil, &res)
		e.finish(&res)
		return res
	}
	res.Audit = append(res.Audit, model.AuditEntry{Gate: "freshness", Passed: true, Detail: "5m and 15m fresh"})

	// State machine replay over the trailing closed 5m bars.
	inputs := buildInputs(c5, c15)
	state, rule := replayState(inputs)
	res.State = state
	res.Audit = append(res.Audit, model.AuditEntry{
		Gate: "state_machine", Passed: true,
		Detail: fmt.Sprintf("state=%s rule=%s", state, rule),
	})

	var last barInputs
	if len(inputs) > 0 {
		last = inputs[len(inputs)-1]
	}

	ind5 := snapshotValues(c5)
	atr15, _ := indicator.ATR(c15, 14)
	e.levels(c15, &atr15, &res)

	structOK := e.structureGate(last, &res)
	chaseOK := e.noChaseGate(c5, ind5, &res)
	tapeOK := e.tapeGate(&res)

	obv5, obv5OK := indicator.OBVSlope(closesOf(c5), volumesOf(c5))

	// Decision mapping.
	switch {
	case state == model.StateFailed,
		state == model.StateFailing && obv5OK && obv5 <= 0:
		// Confirmed failure needs price structure plus a flow signal.
		res.Signal = model.SignalExit
	case state == model.StateActive && liqOK && structOK && chaseOK && tapeOK:
		res.Signal = model.SignalBuy
		e.riskOutputs(c5, c15, ind5, last, &res)
	default:
		res.Signal = model.SignalHold
	}

	e.finish(&res)
	return res
}

// liquidityGate checks RelVol and average dollar volume on 5m.
// The second return value is false when there is not enough history to
// evaluate the gate at all.
func (e *Engine) liquidityGate(c5 []model.Candle, res *model.ScoreResult) (bool, bool) {
	rv, rvOK := indicator.RelVol(c5, 20)
	dv, dvOK := indicator.DollarVolumeAvg(c5, 20)
	if !rvOK || !dvOK {
		res.Audit = append(res.Audit, model.AuditEntry{
			Gate: "liquidity", Passed: false, Detail: "insufficient 5m history",
		})
		return false, false
	}
	if rv < indicator.ThinVolumeThreshold || dv < e.cfg.LiquidityFloorUSD {
		res.Audit = append(res.Audit, model.AuditEntry{
			Gate: "liquidity", Passed: false,
			Detail: fmt.Sprintf("relvol=%.3f (min %.2f), dollar_vol=%.0f (floor %.0f)", rv, indicator.ThinVolumeThreshold, dv, e.cfg.LiquidityFloorUSD),
		})
		return false, true
	}
	res.Audit = append(res.Audit, model.AuditEntry{
		Gate: "liquidity", Passed: true,
		Detail: fmt.Sprintf("relvol=%.3f dollar_vol=%.0f", rv, dv),
	})
	return true, true
}

// structureGate re-states the 15m structure condition as an explicit gate.
func (e *Engine) structureGate(last barInputs, res *model.ScoreResult) bool {
	if !last.ok {
		res.Audit = append(res.Audit, model.AuditEntry{Gate: "structure", Passed: false, Detail: "inputs incomplete"})
		return false
	}
	res.Audit = append(res.Audit, model.AuditEntry{
		Gate: "structure", Passed: last.structure15,
		Detail: fmt.Sprintf("15m close above swing low: %v", last.structure15),
	})
	return last.structure15
}

// noChaseGate rejects entries stretched too far from the anchor.
func (e *Engine) noChaseGate(c5 []model.Candle, ind5 indSnapshot, res *model.ScoreResult) bool {
	if len(c5) == 0 || !ind5.atrOK || !ind5.anchorOK {
		res.Audit = append(res.Audit, model.AuditEntry{Gate: "no_chase", Passed: false, Detail: "missing atr or anchor"})
		return false
	}
	c := c5[len(c5)-1].Close
	dist := math.Abs(c - ind5.anchor)
	limit := noChaseATRMult * ind5.atr
	passed := dist <= limit
	res.Audit = append(res.Audit, model.AuditEntry{
		Gate: "no_chase", Passed: passed,
		Detail: fmt.Sprintf("distance=%.4f limit=%.4f anchor=%s", dist, limit, ind5.anchorName),
	})
	return passed
}

// tapeGate applies the market-regime filter.
func (e *Engine) tapeGate(res *model.ScoreResult) bool {
	t := res.Tape
	if t.RiskOff == nil {
		res.Audit = append(res.Audit, model.AuditEntry{Gate: "tape", Passed: false, Detail: "risk regime unknown"})
		return false
	}
	if !*t.RiskOff {
		res.Audit = append(res.Audit, model.AuditEntry{Gate: "tape", Passed: true, Detail: fmt.Sprintf("regime=%s", t.Regime)})
		return true
	}
	if t.RS30m != nil && *t.RS30m >= rsRiskOffMin {
		res.Audit = append(res.Audit, model.AuditEntry{
			Gate: "tape", Passed: true,
			Detail: fmt.Sprintf("risk_off but rs_30m=%.4f >= %.4f", *t.RS30m, rsRiskOffMin),
		})
		return true
	}
	detail := "risk_off, rs insufficient"
	if t.RS30m != nil {
		detail = fmt.Sprintf("risk_off, rs insufficient (rs_30m=%.4f < %.4f)", *t.RS30m, rsRiskOffMin)
	}
	res.Audit = append(res.Audit, model.AuditEntry{Gate: "tape", Passed: false, Detail: detail})
	return false
}

// indSnapshot caches the final-bar 5m indicator values the gates share.
type indSnapshot struct {
	atr        float64
	atrOK      bool
	anchor     float64
	anchorOK   bool
	anchorName string
}

func snapshotValues(c5 []model.Candle) indSnapshot {
	var s indSnapshot
	s.atr, s.atrOK = indicator.ATR(c5, 14)
	if len(c5) > 0 {
		last := c5[len(c5)-1]
		if v, ok := indicator.SessionVWAP(c5, session.RTHStart(last.StartTS)); ok {
			s.anchor, s.anchorOK, s.anchorName = v, true, "vwap"
		} else if v, ok := indicator.EMA(closesOf(c5), 20); ok {
			s.anchor, s.anchorOK, s.anchorName = v, true, "ema20_5m"
		}
	}
	return s
}

// riskOutputs fills entry/stop/targets/confidence/size for a BUY.
func (e *Engine) riskOutputs(c5, c15 []model.Candle, ind5 indSnapshot, last barInputs, res *model.ScoreResult) {
	if !ind5.atrOK || !ind5.anchorOK || len(c5) == 0 {
		return
	}
	c := c5[len(c5)-1].Close
	atr := ind5.atr
	anchor := ind5.anchor

	if c > anchor+0.5*atr {
		// Price already extended: breakout entry around the market.
		res.EntryRange = &model.Range{Lo: round6(c - 0.25*atr), Hi: round6(c + 0.25*atr)}
	} else {
		res.EntryRange = &model.Range{Lo: round6(anchor), Hi: round6(anchor + 0.5*atr)}
	}
	stop := round6(anchor - 1.2*atr)
	res.Stop = &stop

	if atr15, ok := indicator.ATR(c15, 14); ok {
		res.Targets = []float64{round6(c + atr15), round6(c + 2*atr15)}
	}

	conf := 0.5
	if last.obvConfirm {
		conf += 0.1
	}
	if res.Tape.RS30m != nil && *res.Tape.RS30m > 0 {
		conf += 0.1
	}
	if res.Tape.RiskOff != nil && !*res.Tape.RiskOff {
		conf += 0.1
	}
	if last.trendUp15 {
		conf += 0.1
	}
	if rv, ok := indicator.RelVol(c5, 20); ok && rv >= 1.0 {
		conf += 0.1
	}
	res.Confidence = round6(clip01(conf))

	dist := math.Abs(c - anchor)
	res.SizeHint = round6(res.Confidence * (1 - math.Min(1, dist/(noChaseATRMult*atr))))
}

// levels fills the 15m support/resistance context bands.
func (e *Engine) levels(c15 []model.Candle, atr15 *float64, res *model.ScoreResult) {
	hi, lo, ok := indicator.PriorHighLow(c15, 20)
	if !ok {
		return
	}
	var a float64
	if atr15 != nil {
		a = *atr15
	} else if v, okATR := indicator.ATR(c15, 14); okATR {
		a = v
	}
	res.SupportRange = &model.Range{Lo: round6(lo), Hi: round6(lo + 0.25*a)}
	res.Resistance1 = &model.Range{Lo: round6(hi - 0.25*a), Hi: round6(hi + 0.25*a)}
	if a > 0 {
		res.Resistance2 = &model.Range{Lo: round6(hi + 0.75*a), Hi: round6(hi + 1.25*a)}
	}
}

// lastPrice resolves the freshest known price and its provenance.
func (e *Engine) lastPrice(symbol string, res *model.ScoreResult) {
	type probe struct {
		tf     model.Timeframe
		source string
	}
	if f, ok := e.st.Forming(symbol, model.TF1m); ok {
		p, ts := f.Close, f.StartTS
		res.LastPrice, res.LastPriceTS, res.LastPriceSource = &p, &ts, "ws_1m_live"
		return
	}
	for _, pr := range []probe{
		{model.TF1m, "ws_1m_hist"},
		{model.TF5m, "ws_5m_hist"},
		{model.TF15m, "rest_15m_hist"},
	} {
		if c, ok := e.st.LastClosed(symbol, pr.tf); ok {
			p, ts := c.Close, c.StartTS
			res.LastPrice, res.LastPriceTS, res.LastPriceSource = &p, &ts, pr.source
			return
		}
	}
}

// finish rounds and fans the result out to the hook.
func (e *Engine) finish(res *model.ScoreResult) {
	res.Confidence = round6(res.Confidence)
	res.SizeHint = round6(res.SizeHint)
	if res.Tape.RS30m != nil {
		v := round6(*res.Tape.RS30m)
		res.Tape.RS30m = &v
	}
	if e.OnScore != nil {
		e.OnScore(*res)
	}
}

func closesOf(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}

func volumesOf(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Volume
	}
	return out
}

// round6 keeps JSON numbers to at most 6 fractional digits.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
