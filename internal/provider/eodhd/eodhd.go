// Package eodhd implements the provider contract against the EODHD REST
// and WebSocket APIs.
package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sharif3/momentum-trader/internal/model"
	"github.com/sharif3/momentum-trader/internal/session"
)

const (
	defaultBaseURL = "https://eodhd.com"
	defaultWSURL   = "wss://ws.eodhistoricaldata.com/ws/us"
)

// Config configures the EODHD adapter.
type Config struct {
	BaseURL     string
	WSURL       string
	APIToken    string // never logged
	RESTTimeout time.Duration
	IdleTimeout time.Duration // WS read idle timeout before forcing a reconnect
}

// Provider is the EODHD adapter.
type Provider struct {
	cfg    Config
	client *http.Client
}

// New creates an EODHD provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("eodhd: missing API token")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = defaultWSURL
	}
	if cfg.RESTTimeout == 0 {
		cfg.RESTTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RESTTimeout},
	}, nil
}

func (p *Provider) Name() string { return "EODHD" }

// FetchCandles fetches closed bars: intraday timeframes via
// /api/intraday/{symbol}, daily via /api/eod/{symbol}.
func (p *Provider) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, fromMs, toMs int64) ([]model.Candle, error) {
	switch tf {
	case model.TF1m, model.TF5m, model.TF15m, model.TF1h, model.TF4h:
		return p.fetchIntraday(ctx, symbol, tf, fromMs, toMs)
	case model.TF1d:
		return p.fetchDaily(ctx, symbol, fromMs, toMs)
	default:
		return nil, fmt.Errorf("eodhd: unsupported timeframe %q", tf)
	}
}

// intradayRow is one bar from the intraday endpoint. The datetime field is
// sometimes unix seconds and sometimes "YYYY-MM-DD HH:MM:SS".
type intradayRow struct {
	Datetime json.RawMessage `json:"datetime"`
	Open     float64         `json:"open"`
	High     float64         `json:"high"`
	Low      float64         `json:"low"`
	Close    float64         `json:"close"`
	Volume   float64         `json:"volume"`
}

func (p *Provider) fetchIntraday(ctx context.Context, symbol string, tf model.Timeframe, fromMs, toMs int64) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("api_token", p.cfg.APIToken)
	q.Set("fmt", "json")
	q.Set("interval", string(tf))
	if fromMs > 0 {
		q.Set("from", strconv.FormatInt(fromMs/1000, 10))
	}
	if toMs > 0 {
		q.Set("to", strconv.FormatInt(toMs/1000, 10))
	}
	body, err := p.get(ctx, fmt.Sprintf("%s/api/intraday/%s", p.cfg.BaseURL, url.PathEscape(symbol)), q)
	if err != nil {
		return nil, err
	}

	var rows []intradayRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("eodhd: decode intraday: %w", err)
	}

	out := make([]model.Candle, 0, len(rows))
	for _, r := range rows {
		tsMs, err := parseDatetime(r.Datetime)
		if err != nil {
			continue
		}
		out = append(out, toCandle(symbol, tf, tsMs, r.Open, r.High, r.Low, r.Close, r.Volume))
	}
	return out, nil
}

type eodRow struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

func (p *Provider) fetchDaily(ctx context.Context, symbol string, fromMs, toMs int64) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("api_token", p.cfg.APIToken)
	q.Set("fmt", "json")
	q.Set("period", "d")
	if fromMs > 0 {
		q.Set("from", time.UnixMilli(fromMs).UTC().Format("2006-01-02"))
	}
	body, err := p.get(ctx, fmt.Sprintf("%s/api/eod/%s", p.cfg.BaseURL, url.PathEscape(symbol)), q)
	if err != nil {
		return nil, err
	}

	var rows []eodRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("eodhd: decode eod: %w", err)
	}

	out := make([]model.Candle, 0, len(rows))
	for _, r := range rows {
		day, err := time.ParseInLocation("2006-01-02", r.Date, time.UTC)
		if err != nil {
			continue
		}
		out = append(out, toCandle(symbol, model.TF1d, day.UnixMilli(), r.Open, r.High, r.Low, r.Close, r.Volume))
	}
	return out, nil
}

func (p *Provider) get(ctx context.Context, rawURL string, q url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("eodhd: build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", model.ErrProviderUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", model.ErrProviderUnavailable, err)
	}
	return body, nil
}

// parseDatetime handles both unix seconds and "YYYY-MM-DD HH:MM:SS".
func parseDatetime(raw json.RawMessage) (int64, error) {
	var asNum int64
	if err := json.Unmarshal(raw, &asNum); err == nil {
		return asNum * 1000, nil
	}
	var asStr string
	if err := json.Unmarshal(raw, &asStr); err != nil {
		return 0, err
	}
	if n, err := strconv.ParseInt(asStr, 10, 64); err == nil {
		return n * 1000, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", asStr, time.UTC)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

func toCandle(symbol string, tf model.Timeframe, tsMs int64, o, h, l, c, v float64) model.Candle {
	start := tf.Bucket(tsMs)
	return model.Candle{
		Symbol:    symbol,
		Timeframe: tf,
		StartTS:   start,
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    v,
		Session:   session.Tag(start),
		IsClosed:  true,
		Source:    model.SourceREST,
	}
}
