// Package sim implements the provider contract against a plain-JSON tick
// WebSocket server, useful for offline runs and pipeline testing without
// vendor credentials. The wire format is model.Tick verbatim.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sharif3/momentum-trader/internal/model"
	"github.com/sharif3/momentum-trader/internal/session"
)

// Config configures the sim adapter.
type Config struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:9001/ws".
	URL string

	IdleTimeout time.Duration
}

// Provider streams ticks from a local simulator.
type Provider struct {
	cfg Config
}

// New creates a sim provider. Returns an error if the URL is unparseable.
func New(cfg Config) (*Provider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("sim: missing WS URL")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("sim: bad WS URL: %w", err)
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	return &Provider{cfg: cfg}, nil
}

func (p *Provider) Name() string { return "SIM" }

// FetchCandles returns no history: the simulator is tick-only, so higher
// timeframes stay missing and the score never reaches BUY (HOLD, or
// IGNORE when the liquidity gate fails).
func (p *Provider) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, fromMs, toMs int64) ([]model.Candle, error) {
	return nil, nil
}

// StreamTicks connects to the simulator and yields its ticks. Symbols are
// filtered client-side; the simulator broadcasts everything it has.
func (p *Provider) StreamTicks(ctx context.Context, symbols []string) (<-chan model.Tick, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	slog.Info("sim ws connected", "url", p.cfg.URL)

	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	out := make(chan model.Tick, 4096)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(out)
		defer conn.Close()
		for {
			conn.SetReadDeadline(time.Now().Add(p.cfg.IdleTimeout))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var tick model.Tick
			if err := json.Unmarshal(raw, &tick); err != nil || !want[tick.Symbol] {
				continue
			}
			if tick.Session == "" {
				tick.Session = session.Tag(tick.TS)
			}
			select {
			case out <- tick:
			default:
			}
		}
	}()

	return out, nil
}
