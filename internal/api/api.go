// Package api exposes the request surface: health, score and snapshot.
// Handlers are read-only against the candle store; every request computes
// indicators, tape and score at read time.
package api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"regexp"

	"github.com/sharif3/momentum-trader/internal/indicator"
	"github.com/sharif3/momentum-trader/internal/model"
	"github.com/sharif3/momentum-trader/internal/scoring"
	"github.com/sharif3/momentum-trader/internal/store"
	"github.com/sharif3/momentum-trader/internal/tape"
)

// snapshotCandles is how many recent candles each snapshot timeframe
// carries.
const snapshotCandles = 20

var tickerRe = regexp.MustCompile(`^[A-Z0-9.\-]{1,20}$`)

// Server holds the request-handling dependencies.
type Server struct {
	Store   *store.Store
	Scorer  *scoring.Engine
	Tape    *tape.Context
	AppEnv  string
	ProvID  string
	Primary string
}

// NewRouter registers the API routes.
func (s *Server) NewRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/score", s.handleScore)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"app_env":  s.AppEnv,
		"provider": s.ProvID,
	})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	ticker, ok := s.ticker(w, r)
	if !ok {
		return
	}
	if !s.Store.HasAny(ticker) {
		writeError(w, http.StatusServiceUnavailable, "no data ingested for ticker "+ticker)
		return
	}

	res := s.Scorer.Score(ticker)
	if s.quarantined(ticker) {
		writeError(w, http.StatusInternalServerError, "series quarantined after invariant violation")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// tfSnapshot is one timeframe's view in the snapshot response.
type tfSnapshot struct {
	Candles    []model.Candle  `json:"candles"`
	Indicators indicator.Set   `json:"indicators"`
	Freshness  model.Freshness `json:"freshness"`
}

type snapshotResponse struct {
	Ticker string                         `json:"ticker"`
	PerTF  map[model.Timeframe]tfSnapshot `json:"per_tf"`
	Tape   model.TapeSnapshot             `json:"tape"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ticker, ok := s.ticker(w, r)
	if !ok {
		return
	}
	if !s.Store.HasAny(ticker) {
		writeError(w, http.StatusServiceUnavailable, "no data ingested for ticker "+ticker)
		return
	}

	resp := snapshotResponse{
		Ticker: ticker,
		PerTF:  make(map[model.Timeframe]tfSnapshot, len(model.AllTimeframes)),
		Tape:   s.Tape.Compute(ticker),
	}
	if resp.Tape.RS30m != nil {
		rs := math.Round(*resp.Tape.RS30m*1e6) / 1e6
		resp.Tape.RS30m = &rs
	}
	for _, tf := range model.AllTimeframes {
		ind := indicator.Compute(s.Store, ticker, tf)
		for name, v := range ind {
			ind[name] = math.Round(v*1e6) / 1e6
		}
		resp.PerTF[tf] = tfSnapshot{
			Candles:    s.Store.Latest(ticker, tf, snapshotCandles),
			Indicators: ind,
			Freshness:  s.Store.Freshness(ticker, tf),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ticker extracts and validates the ticker query param, falling back to
// the configured primary.
func (s *Server) ticker(w http.ResponseWriter, r *http.Request) (string, bool) {
	t := r.URL.Query().Get("ticker")
	if t == "" {
		t = s.Primary
	}
	if t == "" || !tickerRe.MatchString(t) {
		writeError(w, http.StatusBadRequest, "missing or malformed ticker")
		return "", false
	}
	return t, true
}

// quarantined reports whether any required series for the ticker has been
// quarantined.
func (s *Server) quarantined(ticker string) bool {
	for _, tf := range model.AllTimeframes {
		if s.Store.Quarantined(ticker, tf) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
