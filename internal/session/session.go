// Package session classifies timestamps into US equity trading sessions
// and locates session boundaries for session-anchored indicators (VWAP).
package session

import (
	"time"

	"github.com/sharif3/momentum-trader/internal/model"
)

// Eastern is the US market time zone. LoadLocation can only fail when the
// tzdata is absent; fall back to a fixed EST offset rather than crash.
var Eastern = mustLoadEastern()

func mustLoadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// Regular trading hours in Eastern time.
const (
	RTHOpenHour    = 9
	RTHOpenMinute  = 30
	RTHCloseHour   = 16
	RTHCloseMinute = 0
)

// Tag classifies an epoch-ms timestamp as RTH or EXT.
// Weekends are always EXT.
func Tag(tsMs int64) model.SessionTag {
	et := time.UnixMilli(tsMs).In(Eastern)
	wd := et.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return model.SessionEXT
	}
	hm := et.Hour()*60 + et.Minute()
	if hm >= RTHOpenHour*60+RTHOpenMinute && hm < RTHCloseHour*60+RTHCloseMinute {
		return model.SessionRTH
	}
	return model.SessionEXT
}

// RTHStart returns the epoch-ms start of regular hours (9:30 ET) on the
// trading day containing tsMs. For timestamps before 9:30 ET it returns
// that same day's open; callers decide whether data before the open counts.
func RTHStart(tsMs int64) int64 {
	et := time.UnixMilli(tsMs).In(Eastern)
	open := time.Date(et.Year(), et.Month(), et.Day(), RTHOpenHour, RTHOpenMinute, 0, 0, Eastern)
	return open.UnixMilli()
}

// IsTradingDay reports whether tsMs falls on a weekday in Eastern time.
func IsTradingDay(tsMs int64) bool {
	wd := time.UnixMilli(tsMs).In(Eastern).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// Majority returns the most common tag among the given candles,
// preferring RTH on ties. UNKNOWN when the slice is empty.
func Majority(candles []model.Candle) model.SessionTag {
	if len(candles) == 0 {
		return model.SessionUnknown
	}
	counts := map[model.SessionTag]int{}
	for i := range candles {
		counts[candles[i].Session]++
	}
	if counts[model.SessionRTH] >= counts[model.SessionEXT] && counts[model.SessionRTH] >= counts[model.SessionUnknown] {
		if counts[model.SessionRTH] > 0 {
			return model.SessionRTH
		}
	}
	best, bestN := model.SessionUnknown, 0
	for tag, n := range counts {
		if n > bestN {
			best, bestN = tag, n
		}
	}
	return best
}
