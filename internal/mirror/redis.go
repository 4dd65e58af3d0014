// Package mirror publishes closed candles and score results to capped
// Redis streams for external dashboards. It is an optional sink: the
// in-memory store remains the single source of truth and nothing here is
// ever read back by the service.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/sharif3/momentum-trader/internal/model"
)

const (
	// Stream trimming: keep roughly a session of 1m bars plus buffer.
	candleStreamMaxLen = 2000
	scoreStreamMaxLen  = 500
)

// Config configures the Redis mirror.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Mirror writes candles and scores to Redis streams.
type Mirror struct {
	client *goredis.Client
}

// New creates a Mirror and pings the server.
func New(cfg Config) (*Mirror, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("mirror: redis ping: %w", err)
	}
	slog.Info("mirror connected", "addr", cfg.Addr)
	return &Mirror{client: client}, nil
}

// Run reads closed candles from candleCh and appends them to their
// streams. Blocks until ctx is cancelled or the channel is closed.
func (m *Mirror) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			m.writeCandle(ctx, c)
		}
	}
}

func (m *Mirror) writeCandle(ctx context.Context, c model.Candle) {
	stream := "candle:" + string(c.Timeframe) + ":" + c.Symbol
	err := m.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: candleStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": c.JSON()},
	}).Err()
	if err != nil && ctx.Err() == nil {
		slog.Warn("mirror candle write failed", "stream", stream, "err", err)
	}
}

// RecordScore appends a score result to the symbol's score stream.
// Best-effort: failures are logged and dropped.
func (m *Mirror) RecordScore(ctx context.Context, res model.ScoreResult) {
	stream := "score:" + res.Ticker
	err := m.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: scoreStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"signal":     string(res.Signal),
			"state":      string(res.State),
			"confidence": res.Confidence,
		},
	}).Err()
	if err != nil && ctx.Err() == nil {
		slog.Warn("mirror score write failed", "stream", stream, "err", err)
	}
}

// Close releases the Redis connection.
func (m *Mirror) Close() error {
	return m.client.Close()
}
