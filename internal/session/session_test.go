package session

import (
	"testing"
	"time"

	"github.com/sharif3/momentum-trader/internal/model"
)

func etMillis(y int, mo time.Month, d, h, m int) int64 {
	return time.Date(y, mo, d, h, m, 0, 0, Eastern).UnixMilli()
}

func TestTag_RTHBounds(t *testing.T) {
	// Tuesday 2024-01-09.
	cases := []struct {
		h, m int
		want model.SessionTag
	}{
		{9, 29, model.SessionEXT},
		{9, 30, model.SessionRTH},
		{12, 0, model.SessionRTH},
		{15, 59, model.SessionRTH},
		{16, 0, model.SessionEXT},
		{20, 0, model.SessionEXT},
	}
	for _, tc := range cases {
		got := Tag(etMillis(2024, time.January, 9, tc.h, tc.m))
		if got != tc.want {
			t.Errorf("Tag(%02d:%02d ET) = %s, want %s", tc.h, tc.m, got, tc.want)
		}
	}
}

func TestTag_WeekendIsEXT(t *testing.T) {
	// Saturday 2024-01-13 at noon ET.
	if got := Tag(etMillis(2024, time.January, 13, 12, 0)); got != model.SessionEXT {
		t.Errorf("weekend noon should be EXT, got %s", got)
	}
}

func TestRTHStart(t *testing.T) {
	ts := etMillis(2024, time.January, 9, 13, 7)
	want := etMillis(2024, time.January, 9, 9, 30)
	if got := RTHStart(ts); got != want {
		t.Errorf("RTHStart = %d, want %d", got, want)
	}
}

func TestMajority(t *testing.T) {
	mk := func(tag model.SessionTag) model.Candle {
		return model.Candle{Session: tag}
	}
	candles := []model.Candle{mk(model.SessionRTH), mk(model.SessionEXT), mk(model.SessionRTH)}
	if got := Majority(candles); got != model.SessionRTH {
		t.Errorf("majority = %s, want RTH", got)
	}
	if got := Majority(nil); got != model.SessionUnknown {
		t.Errorf("empty majority = %s, want UNKNOWN", got)
	}
}
