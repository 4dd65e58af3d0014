// Package store holds the in-memory candle series for every
// (symbol, timeframe) pair. It is the single source of truth for indicator
// and scoring reads.
//
// Writer discipline: exactly one writer per series — the WS ingest pipeline
// for 1m/5m (via the builder) and the REST refresh job for 15m and up.
// Readers are unbounded; Latest returns copies so a request's view is
// read-consistent for the duration of the request.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sharif3/momentum-trader/internal/model"
)

// DefaultRetention is the per-timeframe bound on retained closed candles.
var DefaultRetention = map[model.Timeframe]int{
	model.TF1m:  240,
	model.TF5m:  240,
	model.TF15m: 200,
	model.TF1h:  200,
	model.TF4h:  200,
	model.TF1d:  400,
}

type seriesKey struct {
	symbol string
	tf     model.Timeframe
}

// series is one (symbol, timeframe) candle sequence, strictly increasing
// by StartTS, plus the expected-but-missing slots inside the retained window.
type series struct {
	mu          sync.RWMutex
	candles     []model.Candle
	gaps        map[int64]struct{}
	forming     *model.Candle
	lastUpdated time.Time
	quarantined bool
}

// Config configures a Store.
type Config struct {
	// Retention overrides DefaultRetention per timeframe (nil entries keep
	// the default).
	Retention map[model.Timeframe]int

	// Now is the clock used for freshness and validation. Defaults to
	// time.Now; injectable for tests.
	Now func() time.Time
}

// Store owns all candle series.
type Store struct {
	mu        sync.RWMutex
	series    map[seriesKey]*series
	retention map[model.Timeframe]int
	now       func() time.Time

	// Metrics hooks (optional, set before the pipeline starts).
	OnAppend     func(c model.Candle)
	OnGap        func(tf model.Timeframe, slots int)
	OnReject     func(reason string)
	OnQuarantine func(symbol string, tf model.Timeframe)
}

// New creates an empty store.
func New(cfg Config) *Store {
	retention := make(map[model.Timeframe]int, len(DefaultRetention))
	for tf, n := range DefaultRetention {
		retention[tf] = n
	}
	for tf, n := range cfg.Retention {
		if n > 0 {
			retention[tf] = n
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		series:    make(map[seriesKey]*series, 32),
		retention: retention,
		now:       now,
	}
}

func (s *Store) get(symbol string, tf model.Timeframe) *series {
	key := seriesKey{symbol, tf}
	s.mu.RLock()
	sr := s.series[key]
	s.mu.RUnlock()
	if sr != nil {
		return sr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sr = s.series[key]; sr == nil {
		sr = &series{gaps: make(map[int64]struct{})}
		s.series[key] = sr
	}
	return sr
}

func (s *Store) peek(symbol string, tf model.Timeframe) *series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series[seriesKey{symbol, tf}]
}

func (s *Store) reject(reason string) {
	if s.OnReject != nil {
		s.OnReject(reason)
	}
}

// Append inserts a closed candle at the head of its series, or replaces an
// existing bar in place when the incoming candle is an authoritative REST
// closed bar for a slot already present.
//
// Partial REST bars are rejected. A non-REST append that does not advance
// the series breaks the single-writer ordering invariant and quarantines
// the series.
func (s *Store) Append(c model.Candle) error {
	nowMs := s.now().UnixMilli()
	if err := c.Validate(nowMs); err != nil {
		s.reject("malformed_candle")
		return err
	}
	if c.Source == model.SourceREST && !c.IsClosed {
		s.reject("partial_rest_bar")
		return fmt.Errorf("%w: partial REST bar %s %s @%d", model.ErrMalformedCandle, c.Symbol, c.Timeframe, c.StartTS)
	}
	if !c.IsClosed {
		s.reject("open_bar_append")
		return fmt.Errorf("%w: append of non-closed bar", model.ErrMalformedCandle)
	}

	sr := s.get(c.Symbol, c.Timeframe)
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.quarantined {
		return fmt.Errorf("%w: series %s %s quarantined", model.ErrInvariantViolation, c.Symbol, c.Timeframe)
	}

	n := len(sr.candles)
	if n == 0 || c.StartTS > sr.candles[n-1].StartTS {
		if n > 0 {
			s.recordGapsLocked(sr, c.Timeframe, sr.candles[n-1].StartTS, c.StartTS)
		}
		sr.candles = append(sr.candles, c)
		s.evictLocked(sr, c.Timeframe)
		sr.lastUpdated = s.now()
		if s.OnAppend != nil {
			s.OnAppend(c)
		}
		return nil
	}

	// Not advancing: only a REST closed bar may replace in place.
	if c.Source == model.SourceREST {
		if i := searchStart(sr.candles, c.StartTS); i >= 0 {
			sr.candles[i] = c
			sr.lastUpdated = s.now()
			if s.OnAppend != nil {
				s.OnAppend(c)
			}
			return nil
		}
		s.reject("rest_slot_unknown")
		return fmt.Errorf("%w: REST bar for unretained slot %d", model.ErrMalformedCandle, c.StartTS)
	}

	// Live writers are ordered per series; a regression here means the
	// single-writer discipline broke. Quarantine to stop corruption spread.
	sr.quarantined = true
	if s.OnQuarantine != nil {
		s.OnQuarantine(c.Symbol, c.Timeframe)
	}
	return fmt.Errorf("%w: out-of-order live append %s %s @%d", model.ErrInvariantViolation, c.Symbol, c.Timeframe, c.StartTS)
}

// Backfill merges a batch of authoritative closed REST bars into a series:
// matching slots are replaced, newer slots appended, and bars for slots
// inside recorded gaps inserted. Partial bars in the batch are dropped.
// Used by the REST refresh job, which is the only writer for 15m and up.
func (s *Store) Backfill(symbol string, tf model.Timeframe, candles []model.Candle) (int, error) {
	nowMs := s.now().UnixMilli()
	sr := s.get(symbol, tf)
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.quarantined {
		return 0, fmt.Errorf("%w: series %s %s quarantined", model.ErrInvariantViolation, symbol, tf)
	}

	applied := 0
	for _, c := range candles {
		if !c.IsClosed || c.Source != model.SourceREST {
			s.reject("partial_rest_bar")
			continue
		}
		if err := c.Validate(nowMs); err != nil {
			s.reject("malformed_candle")
			continue
		}
		if c.Symbol != symbol || c.Timeframe != tf {
			s.reject("backfill_mismatch")
			continue
		}
		if i := searchStart(sr.candles, c.StartTS); i >= 0 {
			sr.candles[i] = c
		} else {
			sr.candles = append(sr.candles, c)
		}
		delete(sr.gaps, c.StartTS)
		applied++
	}
	if applied == 0 {
		return 0, nil
	}

	sort.Slice(sr.candles, func(i, j int) bool {
		return sr.candles[i].StartTS < sr.candles[j].StartTS
	})
	s.rebuildGapsLocked(sr, tf)
	s.evictLocked(sr, tf)
	sr.lastUpdated = s.now()
	return applied, nil
}

// SetForming publishes the current open (forming) bar for a series.
// Used for the live 1m/5m bars and for the aggregated forming 15m.
func (s *Store) SetForming(c model.Candle) error {
	if c.IsClosed {
		return fmt.Errorf("%w: forming bar marked closed", model.ErrMalformedCandle)
	}
	if err := c.Validate(0); err != nil {
		s.reject("malformed_candle")
		return err
	}
	sr := s.get(c.Symbol, c.Timeframe)
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.quarantined {
		return fmt.Errorf("%w: series %s %s quarantined", model.ErrInvariantViolation, c.Symbol, c.Timeframe)
	}
	cp := c
	sr.forming = &cp
	sr.lastUpdated = s.now()
	return nil
}

// ClearForming drops the forming bar (after it closes and is appended).
func (s *Store) ClearForming(symbol string, tf model.Timeframe) {
	if sr := s.peek(symbol, tf); sr != nil {
		sr.mu.Lock()
		sr.forming = nil
		sr.mu.Unlock()
	}
}

// Forming returns a copy of the current forming bar, if any.
func (s *Store) Forming(symbol string, tf model.Timeframe) (model.Candle, bool) {
	sr := s.peek(symbol, tf)
	if sr == nil {
		return model.Candle{}, false
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	if sr.forming == nil {
		return model.Candle{}, false
	}
	return *sr.forming, true
}

// Latest returns the last up-to-n closed candles, newest last. The slice is
// a copy; callers may hold it across the request.
func (s *Store) Latest(symbol string, tf model.Timeframe, n int) []model.Candle {
	sr := s.peek(symbol, tf)
	if sr == nil {
		return nil
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	total := len(sr.candles)
	if n <= 0 || n > total {
		n = total
	}
	out := make([]model.Candle, n)
	copy(out, sr.candles[total-n:])
	return out
}

// LastClosed returns the newest closed candle of a series.
func (s *Store) LastClosed(symbol string, tf model.Timeframe) (model.Candle, bool) {
	sr := s.peek(symbol, tf)
	if sr == nil {
		return model.Candle{}, false
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	if len(sr.candles) == 0 {
		return model.Candle{}, false
	}
	return sr.candles[len(sr.candles)-1], true
}

// Freshness classifies a series as fresh, stale or missing.
//
// Fresh: the newest bar (closed or forming) is in the current or the
// immediately preceding timeframe slot. Stale: bars exist but are older.
// Missing: no bars retained.
func (s *Store) Freshness(symbol string, tf model.Timeframe) model.Freshness {
	sr := s.peek(symbol, tf)
	if sr == nil {
		return model.Missing
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	latest := int64(-1)
	if n := len(sr.candles); n > 0 {
		latest = sr.candles[n-1].StartTS
	}
	if sr.forming != nil && sr.forming.StartTS > latest {
		latest = sr.forming.StartTS
	}
	if latest < 0 {
		return model.Missing
	}
	currentBucket := tf.Bucket(s.now().UnixMilli())
	if latest >= currentBucket-tf.DurationMs() {
		return model.Fresh
	}
	return model.Stale
}

// Gaps returns the expected-but-missing StartTS slots among the last
// `window` expected slots of a series (ascending). A window <= 0 means the
// whole retained range.
func (s *Store) Gaps(symbol string, tf model.Timeframe, window int) []int64 {
	sr := s.peek(symbol, tf)
	if sr == nil {
		return nil
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	if len(sr.gaps) == 0 {
		return nil
	}
	out := make([]int64, 0, len(sr.gaps))
	var lo int64
	if window > 0 && len(sr.candles) > 0 {
		lo = sr.candles[len(sr.candles)-1].StartTS - int64(window)*tf.DurationMs()
	}
	for ts := range sr.gaps {
		if ts >= lo {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasAny reports whether any data was ever ingested for the symbol on any
// timeframe. Used by the API to decide between 503 and a scored response.
func (s *Store) HasAny(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, sr := range s.series {
		if key.symbol != symbol {
			continue
		}
		sr.mu.RLock()
		ok := len(sr.candles) > 0 || sr.forming != nil
		sr.mu.RUnlock()
		if ok {
			return true
		}
	}
	return false
}

// LastUpdated returns the wall-clock time of the last write to a series.
func (s *Store) LastUpdated(symbol string, tf model.Timeframe) (time.Time, bool) {
	sr := s.peek(symbol, tf)
	if sr == nil {
		return time.Time{}, false
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	if sr.lastUpdated.IsZero() {
		return time.Time{}, false
	}
	return sr.lastUpdated, true
}

// Quarantined reports whether a series was quarantined after an invariant
// violation. Quarantined series accept no further appends until restart.
func (s *Store) Quarantined(symbol string, tf model.Timeframe) bool {
	sr := s.peek(symbol, tf)
	if sr == nil {
		return false
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return sr.quarantined
}

// recordGapsLocked marks every expected slot strictly between prevTS and
// nextTS as missing. No synthetic bars are created.
func (s *Store) recordGapsLocked(sr *series, tf model.Timeframe, prevTS, nextTS int64) {
	d := tf.DurationMs()
	count := 0
	for ts := prevTS + d; ts < nextTS; ts += d {
		sr.gaps[ts] = struct{}{}
		count++
	}
	if count > 0 && s.OnGap != nil {
		s.OnGap(tf, count)
	}
}

// rebuildGapsLocked recomputes the gap set from the sorted series.
func (s *Store) rebuildGapsLocked(sr *series, tf model.Timeframe) {
	d := tf.DurationMs()
	gaps := make(map[int64]struct{})
	for i := 1; i < len(sr.candles); i++ {
		for ts := sr.candles[i-1].StartTS + d; ts < sr.candles[i].StartTS; ts += d {
			gaps[ts] = struct{}{}
		}
	}
	sr.gaps = gaps
}

// evictLocked trims the series to its retention bound (FIFO by StartTS) and
// drops gap records older than the oldest retained bar.
func (s *Store) evictLocked(sr *series, tf model.Timeframe) {
	max := s.retention[tf]
	if max <= 0 {
		max = 200
	}
	if over := len(sr.candles) - max; over > 0 {
		sr.candles = append(sr.candles[:0], sr.candles[over:]...)
	}
	if len(sr.candles) > 0 {
		oldest := sr.candles[0].StartTS
		for ts := range sr.gaps {
			if ts < oldest {
				delete(sr.gaps, ts)
			}
		}
	}
}

// searchStart finds the index of the candle with the given StartTS, or -1.
func searchStart(candles []model.Candle, startTS int64) int {
	i := sort.Search(len(candles), func(i int) bool {
		return candles[i].StartTS >= startTS
	})
	if i < len(candles) && candles[i].StartTS == startTS {
		return i
	}
	return -1
}
