// Package indicator provides technical indicator calculations over candle
// series. All functions are pure: they read a slice of closed candles and
// return (value, ok). ok=false means insufficient history — never zero.
package indicator

import "github.com/sharif3/momentum-trader/internal/model"

// Set is a named-indicator snapshot for one (symbol, timeframe).
// Missing indicators are simply absent.
type Set map[string]float64

// Has reports whether the named indicator is present.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Get returns the named indicator and whether it is present.
func (s Set) Get(name string) (float64, bool) {
	v, ok := s[name]
	return v, ok
}

func closes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}

func volumes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Volume
	}
	return out
}
