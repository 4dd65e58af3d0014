package eodhd

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sharif3/momentum-trader/internal/model"
	"github.com/sharif3/momentum-trader/internal/session"
)

// subscribeMsg is the EODHD WS subscription request.
type subscribeMsg struct {
	Action  string `json:"action"`
	Symbols string `json:"symbols"`
}

// tradeMsg is a US-trade message on the EODHD feed. Non-trade messages
// (status, auth acks) lack the price field and are skipped.
type tradeMsg struct {
	Symbol string      `json:"s"`
	Price  float64     `json:"p"`
	TS     int64       `json:"t"` // epoch ms
	Size   json.Number `json:"v"`
}

// StreamTicks dials the WS endpoint, subscribes, and yields parsed ticks
// until the connection drops or ctx is cancelled. The channel is closed on
// session end; the ingest job owns reconnection.
func (p *Provider) StreamTicks(ctx context.Context, symbols []string) (<-chan model.Tick, error) {
	u := p.cfg.WSURL + "?api_token=" + p.cfg.APIToken
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, err
	}

	sub := subscribeMsg{Action: "subscribe", Symbols: strings.Join(symbols, ",")}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, err
	}
	slog.Info("ws subscribed", "provider", p.Name(), "symbols", len(symbols))

	out := make(chan model.Tick, 4096)

	// Context watcher: force the blocked read to fail on cancellation.
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
				if ctx.Err() == nil {
					slog.Warn("ws read failed", "provider", p.Name(), "err", err)
				}
				return
			}
			var msg tradeMsg
			if err := json.Unmarshal(raw, &msg); err != nil || msg.Symbol == "" || msg.Price == 0 {
				continue // status/auth frames and unparseable payloads
			}
			size, _ := msg.Size.Float64()
			tick := model.Tick{
				Symbol:  msg.Symbol,
				TS:      msg.TS,
				Price:   msg.Price,
				Size:    size,
				Session: session.Tag(msg.TS),
			}
			select {
			case out <- tick:
			default:
				// Channel full: drop rather than stall the socket.
			}
		}
	}()

	return out, nil
}
