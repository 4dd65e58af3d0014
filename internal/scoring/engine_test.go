package scoring

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sharif3/momentum-trader/internal/model"
	"github.com/sharif3/momentum-trader/internal/store"
	"github.com/sharif3/momentum-trader/internal/tape"
)

// fixedNow is Tuesday 2024-01-09 18:00:00 UTC (13:00 ET, mid-RTH), aligned
// to every intraday bucket.
const fixedNow = int64(1704823200000)

func fixedClock() time.Time { return time.UnixMilli(fixedNow) }

type fixture struct {
	st     *store.Store
	engine *Engine
}

func newFixture() *fixture {
	st := store.New(store.Config{Now: fixedClock})
	tp := tape.New(st, tape.Config{SPY: "SPY", QQQ: "QQQ"}, fixedClock)
	eng := New(st, tp, Config{}, fixedClock)
	return &fixture{st: st, engine: eng}
}

// seed writes n closed bars ending at the freshest closed slot for the
// timeframe. closes drives the series; highs/lows sit +-0.5 around them.
func (f *fixture) seed(symbol string, tf model.Timeframe, closes []float64, vol float64) {
	end := tf.Bucket(fixedNow) - tf.DurationMs()
	src := model.SourceAGG
	if tf != model.TF1m && tf != model.TF5m {
		src = model.SourceREST
	}
	for i, c := range closes {
		o := c
		if i > 0 {
			o = closes[i-1]
		}
		lo := min2(o, c) - 0.5
		hi := max2(o, c) + 0.5
		f.st.Append(model.Candle{
			Symbol: symbol, Timeframe: tf,
			StartTS: end - int64(len(closes)-1-i)*tf.DurationMs(),
			Open:    o, High: hi, Low: lo, Close: c,
			Volume: vol, Session: model.SessionRTH, IsClosed: true, Source: src,
		})
	}
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max2(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func rising(n int, last, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = last - float64(n-1-i)*step
	}
	return out
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// seedRiskOnRefs gives SPY/QQQ rising fresh 15m series and a flat QQQ 5m
// series so the tape is RISK_ON and RS_30m computable.
func (f *fixture) seedRiskOnRefs() {
	f.seed("SPY", model.TF15m, rising(30, 480, 0.5), 1000)
	f.seed("QQQ", model.TF15m, rising(30, 400, 0.5), 1000)
	f.seed("QQQ", model.TF5m, flat(10, 400), 1000)
}

func gateEntry(t *testing.T, res model.ScoreResult, gate string) model.AuditEntry {
	t.Helper()
	for _, e := range res.Audit {
		if e.Gate == gate {
			return e
		}
	}
	t.Fatalf("audit missing gate %q: %+v", gate, res.Audit)
	return model.AuditEntry{}
}

// ────────────────────────────────────────────────────────────
// End-to-end scenarios
// ────────────────────────────────────────────────────────────

func TestScore_IgnoredThinTicker(t *testing.T) {
	f := newFixture()
	// ~$200k mean dollar volume on 5m: well under the $1M floor.
	f.seed("PENNY", model.TF5m, rising(25, 100, 0.05), 2000)

	res := f.engine.Score("PENNY")
	if res.Signal != model.SignalIgnore {
		t.Fatalf("expected IGNORE, got %s", res.Signal)
	}
	e := gateEntry(t, res, "liquidity")
	if e.Passed {
		t.Errorf("liquidity gate should have failed: %+v", e)
	}
}

func TestScore_ShortHistoryHoldsNotIgnores(t *testing.T) {
	f := newFixture()
	// Too few 5m bars to even evaluate liquidity: conservative HOLD.
	f.seed("TSLA", model.TF5m, rising(5, 100, 0.05), 20_000)

	res := f.engine.Score("TSLA")
	if res.Signal != model.SignalHold {
		t.Fatalf("expected HOLD, got %s", res.Signal)
	}
	if e := gateEntry(t, res, "liquidity"); e.Passed {
		t.Errorf("liquidity gate should be marked not passed: %+v", e)
	}
}

func TestScore_BuyPath(t *testing.T) {
	f := newFixture()
	f.seed("TSLA", model.TF5m, rising(45, 100, 0.05), 20_000)
	f.seed("TSLA", model.TF15m, rising(40, 99.5, 0.1), 60_000)
	f.seedRiskOnRefs()

	res := f.engine.Score("TSLA")
	if res.Signal != model.SignalBuy {
		t.Fatalf("expected BUY, got %s (state=%s audit=%+v)", res.Signal, res.State, res.Audit)
	}
	if res.State != model.StateActive {
		t.Errorf("expected ACTIVE, got %s", res.State)
	}
	for _, gate := range []string{"liquidity", "freshness", "structure", "no_chase", "tape"} {
		if e := gateEntry(t, res, gate); !e.Passed {
			t.Errorf("gate %s should pass: %+v", gate, e)
		}
	}
	if res.EntryRange == nil || res.Stop == nil || len(res.Targets) != 2 {
		t.Fatalf("risk outputs missing: %+v", res)
	}
	if res.EntryRange.Lo >= res.EntryRange.Hi {
		t.Errorf("entry range inverted: %+v", res.EntryRange)
	}
	if *res.Stop >= res.EntryRange.Lo {
		t.Errorf("stop %.4f not below entry %.4f", *res.Stop, res.EntryRange.Lo)
	}
	if res.Targets[0] >= res.Targets[1] {
		t.Errorf("targets not ascending: %v", res.Targets)
	}
	// All five confidence terms hold in this fixture.
	if res.Confidence != 1.0 {
		t.Errorf("expected confidence 1.0, got %v", res.Confidence)
	}
	if res.SizeHint <= 0 || res.SizeHint > 1 {
		t.Errorf("size hint out of range: %v", res.SizeHint)
	}
}

func TestScore_NoChaseBlocksExtendedPrice(t *testing.T) {
	f := newFixture()
	closes := rising(45, 100, 0.05)
	closes[len(closes)-1] = 104 // spike far above the anchor
	f.seed("TSLA", model.TF5m, closes, 20_000)
	f.seed("TSLA", model.TF15m, rising(40, 99.5, 0.1), 60_000)
	f.seedRiskOnRefs()

	res := f.engine.Score("TSLA")
	if res.Signal != model.SignalHold {
		t.Fatalf("expected HOLD, got %s", res.Signal)
	}
	if res.State != model.StateActive {
		t.Errorf("state should still be ACTIVE, got %s", res.State)
	}
	if e := gateEntry(t, res, "no_chase"); e.Passed {
		t.Errorf("no_chase should fail: %+v", e)
	}
}

func TestScore_TapeRiskOffWeakRS(t *testing.T) {
	f := newFixture()
	// Primary barely outperforming: ~+0.1% over 30m, below the +0.5% bar.
	f.seed("TSLA", model.TF5m, rising(45, 100, 0.017), 20_000)
	f.seed("TSLA", model.TF15m, rising(40, 99.5, 0.1), 60_000)
	// References rolling over: risk-off tape.
	f.seed("SPY", model.TF15m, rising(30, 480, -0.5), 1000)
	f.seed("QQQ", model.TF15m, rising(30, 400, -0.5), 1000)
	f.seed("QQQ", model.TF5m, flat(10, 400), 1000)

	res := f.engine.Score("TSLA")
	if res.Signal != model.SignalHold {
		t.Fatalf("expected HOLD, got %s (audit=%+v)", res.Signal, res.Audit)
	}
	e := gateEntry(t, res, "tape")
	if e.Passed {
		t.Errorf("tape gate should fail: %+v", e)
	}
	if !strings.Contains(e.Detail, "risk_off") {
		t.Errorf("tape detail should mention risk_off: %q", e.Detail)
	}
}

func TestScore_BreakdownExit(t *testing.T) {
	f := newFixture()
	closes := flat(45, 100)
	closes[42], closes[43], closes[44] = 96, 93, 90
	f.seed("TSLA", model.TF5m, closes, 20_000)

	c15 := flat(40, 100)
	c15[39] = 90
	f.seed("TSLA", model.TF15m, c15, 60_000)
	f.seedRiskOnRefs()

	res := f.engine.Score("TSLA")
	if res.Signal != model.SignalExit {
		t.Fatalf("expected EXIT, got %s (state=%s)", res.Signal, res.State)
	}
	if res.State != model.StateFailed {
		t.Errorf("expected FAILED, got %s", res.State)
	}
}

func TestScore_Stale15mForcesHold(t *testing.T) {
	f := newFixture()
	f.seed("TSLA", model.TF5m, rising(45, 100, 0.05), 20_000)
	f.seedRiskOnRefs()

	// 15m series ending 45 minutes ago: stale.
	end := model.TF15m.Bucket(fixedNow) - 3*900_000
	for i := 0; i < 30; i++ {
		f.st.Append(model.Candle{
			Symbol: "TSLA", Timeframe: model.TF15m,
			StartTS: end - int64(29-i)*900_000,
			Open:    100, High: 100.5, Low: 99.5, Close: 100,
			Volume: 60_000, Session: model.SessionRTH, IsClosed: true, Source: model.SourceREST,
		})
	}

	res := f.engine.Score("TSLA")
	if res.Signal != model.SignalHold {
		t.Fatalf("expected HOLD, got %s", res.Signal)
	}
	if len(res.MissingTFs) != 1 || res.MissingTFs[0] != model.TF15m {
		t.Errorf("missing_tfs should be [15m], got %v", res.MissingTFs)
	}
	if e := gateEntry(t, res, "freshness"); e.Passed {
		t.Errorf("freshness gate should fail: %+v", e)
	}
}

// ────────────────────────────────────────────────────────────
// Properties
// ────────────────────────────────────────────────────────────

func TestScore_Deterministic(t *testing.T) {
	f := newFixture()
	f.seed("TSLA", model.TF5m, rising(45, 100, 0.05), 20_000)
	f.seed("TSLA", model.TF15m, rising(40, 99.5, 0.1), 60_000)
	f.seedRiskOnRefs()

	a := f.engine.Score("TSLA")
	b := f.engine.Score("TSLA")
	if !reflect.DeepEqual(a, b) {
		t.Errorf("identical store contents produced different results:\n%+v\n%+v", a, b)
	}
}

func TestScore_ConservativeWhenNotFresh(t *testing.T) {
	f := newFixture()
	// Only stale history anywhere.
	end := model.TF5m.Bucket(fixedNow) - 50*300_000
	for i := 0; i < 25; i++ {
		f.st.Append(model.Candle{
			Symbol: "TSLA", Timeframe: model.TF5m,
			StartTS: end - int64(24-i)*300_000,
			Open:    100, High: 100.5, Low: 99.5, Close: 100,
			Volume: 20_000, Session: model.SessionRTH, IsClosed: true, Source: model.SourceAGG,
		})
	}
	res := f.engine.Score("TSLA")
	if res.Signal != model.SignalHold && res.Signal != model.SignalIgnore {
		t.Fatalf("non-fresh inputs must never produce %s", res.Signal)
	}
}

// ────────────────────────────────────────────────────────────
// Transition table
// ────────────────────────────────────────────────────────────

func TestTransition_OrderedRules(t *testing.T) {
	full := barInputs{
		ok: true, trendUp5: true, trendUp15: true, structure15: true,
		aboveVWAP: true, obvConfirm: true,
	}

	cases := []struct {
		name string
		prev model.State
		in   barInputs
		want model.State
	}{
		{"dual breakdown wins from any state", model.StateActive,
			barInputs{ok: true, breakdown5: true, breakdown15: true}, model.StateFailed},
		{"5m-only breakdown fails softly", model.StateActive,
			barInputs{ok: true, breakdown5: true}, model.StateFailing},
		{"failing recovers to building", model.StateFailing,
			barInputs{ok: true, trendUp5: true, trendUp15: false}, model.StateBuilding},
		{"full alignment activates", model.StateNoMomo, full, model.StateActive},
		{"partial confirmation builds", model.StateNoMomo,
			barInputs{ok: true, trendUp15: true, trendUp5: true}, model.StateBuilding},
		{"active pauses without breakdown", model.StateActive,
			barInputs{ok: true, trendUp15: true}, model.StatePause},
		{"pause reclaims active", model.StatePause,
			barInputs{ok: true, trendUp5: true, aboveVWAP: true}, model.StateActive},
		{"nothing matches resets", model.StateBuilding,
			barInputs{ok: true}, model.StateNoMomo},
		{"incomplete inputs reset", model.StateActive, barInputs{}, model.StateNoMomo},
	}
	for _, tc := range cases {
		got, _ := transition(tc.prev, tc.in)
		if got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}
