package scoring

import (
	"github.com/sharif3/momentum-trader/internal/indicator"
	"github.com/sharif3/momentum-trader/internal/model"
	"github.com/sharif3/momentum-trader/internal/session"
)

// barInputs are the transition inputs evaluated at one closed 5m bar.
// ok=false means some required indicator had insufficient history at that
// bar; the machine resets to NO_MOMO there (conservative).
type barInputs struct {
	ok bool

	trendUp5    bool
	trendUp15   bool
	structure15 bool
	aboveVWAP   bool
	obvConfirm  bool
	breakdown5  bool
	breakdown15 bool
}

// replayBars is how many trailing closed 5m bars the state machine is
// replayed over. State is never persisted across requests; everything is
// re-inferred from the store.
const replayBars = 30

// swingWindow is the lookback of the 15m swing-low proxy. The proxy
// excludes the bar being evaluated so that a close can actually break it.
const swingWindow = 20

// buildInputs computes barInputs for the last up-to-replayBars closed 5m
// bars, aligning each to the latest 15m bar closed at or before it.
func buildInputs(c5, c15 []model.Candle) []barInputs {
	n := len(c5)
	if n == 0 {
		return nil
	}
	k := replayBars
	if k > n {
		k = n
	}

	closes5 := make([]float64, n)
	vols5 := make([]float64, n)
	for i := range c5 {
		closes5[i] = c5[i].Close
		vols5[i] = c5[i].Volume
	}
	ema9s := indicator.EMASeries(closes5, 9)
	ema20s := indicator.EMASeries(closes5, 20)

	closes15 := make([]float64, len(c15))
	vols15 := make([]float64, len(c15))
	for i := range c15 {
		closes15[i] = c15[i].Close
		vols15[i] = c15[i].Volume
	}
	ema20s15 := indicator.EMASeries(closes15, 20)

	out := make([]barInputs, 0, k)
	for i := n - k; i < n; i++ {
		out = append(out, barAt(c5, closes5, vols5, ema9s, ema20s, c15, closes15, vols15, ema20s15, i))
	}
	return out
}

// barAt evaluates the transition inputs at 5m index i.
func barAt(
	c5 []model.Candle, closes5, vols5, ema9s, ema20s []float64,
	c15 []model.Candle, closes15, vols15, ema20s15 []float64,
	i int,
) barInputs {
	var in barInputs

	if ema9s == nil || ema20s == nil || i < 19 {
		return in // EMAs not seeded yet
	}
	c := closes5[i]
	ema9 := ema9s[i]
	ema20 := ema20s[i]

	// Latest 15m bar closed at or before the close of 5m bar i.
	j := latest15At(c15, c5[i].EndTS())
	if j < 0 || ema20s15 == nil || j < 19 {
		return in
	}
	c15close := closes15[j]
	ema20_15 := ema20s15[j]

	if i < swingWindow || j < 1 {
		return in
	}
	prior5lo, okPrior5 := indicator.SwingLow(c5[:i], swingWindow)
	// Swing-low proxy on 15m: min low of the bars before bar j.
	swing15, okSwing := indicator.SwingLow(c15[:j], swingWindow)
	if !okPrior5 || !okSwing {
		return in
	}

	obv5, ok5 := indicator.OBVSlope(closes5[:i+1], vols5[:i+1])
	obv15, ok15 := indicator.OBVSlope(closes15[:j+1], vols15[:j+1])
	if !ok5 || !ok15 {
		return in
	}

	// Anchor: session VWAP, else EMA20(5m).
	anchor := ema20
	if v, ok := indicator.SessionVWAP(c5[:i+1], session.RTHStart(c5[i].StartTS)); ok {
		anchor = v
	}

	in.ok = true
	in.trendUp5 = c > ema9 && ema9 > ema20
	in.trendUp15 = c15close > ema20_15
	in.structure15 = c15close >= swing15
	in.aboveVWAP = c > anchor
	in.obvConfirm = obv5 > 0 && obv15 >= 0
	in.breakdown5 = c < ema20 && c < prior5lo
	in.breakdown15 = c15close < ema20_15 || c15close < swing15
	return in
}

// latest15At returns the index of the newest 15m bar whose window closed
// at or before tsMs, or -1.
func latest15At(c15 []model.Candle, tsMs int64) int {
	for j := len(c15) - 1; j >= 0; j-- {
		if c15[j].EndTS() <= tsMs {
			return j
		}
	}
	return -1
}

// transition applies the ordered transition table; first match wins.
// Returns the next state and a description of the rule that fired.
func transition(prev model.State, in barInputs) (model.State, string) {
	if !in.ok {
		return model.StateNoMomo, "inputs incomplete"
	}
	switch {
	case in.breakdown15 && in.breakdown5:
		return model.StateFailed, "breakdown on 15m and 5m"
	case in.breakdown5 && !in.breakdown15:
		return model.StateFailing, "breakdown on 5m, 15m holding"
	case prev == model.StateFailing && in.trendUp5 && !in.breakdown5:
		return model.StateBuilding, "5m trend recovered from FAILING"
	case in.trendUp15 && in.trendUp5 && in.structure15 && in.aboveVWAP && in.obvConfirm:
		return model.StateActive, "full momentum alignment"
	case in.trendUp15 && (in.trendUp5 != in.aboveVWAP):
		return model.StateBuilding, "15m trend with partial 5m confirmation"
	case prev == model.StateActive && !in.trendUp5 && !in.breakdown5:
		return model.StatePause, "5m trend lost without breakdown"
	case prev == model.StatePause && in.trendUp5 && in.aboveVWAP:
		return model.StateActive, "5m trend and anchor reclaimed"
	default:
		return model.StateNoMomo, "no momentum conditions met"
	}
}

// replayState runs the machine over the bar inputs from NO_MOMO.
func replayState(inputs []barInputs) (model.State, string) {
	state := model.StateNoMomo
	detail := "no closed bars"
	for _, in := range inputs {
		state, detail = transition(state, in)
	}
	return state, detail
}
