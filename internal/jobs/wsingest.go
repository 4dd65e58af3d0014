// Package jobs holds the two long-lived pipeline activities: the WebSocket
// tick ingest and the periodic REST candle refresh.
package jobs

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/sharif3/momentum-trader/internal/builder"
	"github.com/sharif3/momentum-trader/internal/model"
	"github.com/sharif3/momentum-trader/internal/provider"
)

const (
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// WSIngest drives ticks from the provider stream through the builder.
// It is the sole writer of the 1m/5m series.
type WSIngest struct {
	Provider provider.Provider
	Builder  *builder.Builder
	Symbols  []string

	// OnReconnect and OnClosed are optional metrics/fan-out hooks.
	OnReconnect func()
	OnTick      func()
	OnClosed    func(c model.Candle)
}

// Run streams ticks until ctx is cancelled, reconnecting on disconnect
// with exponential backoff (full jitter). Ticks missed during an outage
// are not recovered; the affected bars surface as gaps.
func (j *WSIngest) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		ch, err := j.Provider.StreamTicks(ctx, j.Symbols)
		if err != nil {
			attempt++
			delay := jitteredBackoff(attempt)
			slog.Warn("ws connect failed", "err", err, "retry_in", delay)
			if j.OnReconnect != nil {
				j.OnReconnect()
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		j.consume(ch)

		if ctx.Err() != nil {
			for _, c := range j.Builder.Flush() {
				j.forward(c)
			}
			return
		}

		// Stream ended: the provider session dropped. Re-subscribe after
		// a jittered pause.
		attempt++
		delay := jitteredBackoff(attempt)
		slog.Warn("ws stream ended, reconnecting", "retry_in", delay)
		if j.OnReconnect != nil {
			j.OnReconnect()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (j *WSIngest) consume(ch <-chan model.Tick) {
	for tick := range ch {
		if j.OnTick != nil {
			j.OnTick()
		}
		for _, c := range j.Builder.OnTick(tick) {
			j.forward(c)
		}
	}
}

func (j *WSIngest) forward(c model.Candle) {
	if j.OnClosed != nil {
		j.OnClosed(c)
	}
}

// jitteredBackoff returns a full-jitter delay: uniform over
// (0, min(cap, base*2^(attempt-1))], so the first retry waits up to base.
func jitteredBackoff(attempt int) time.Duration {
	max := backoffBase << uint(attempt-1)
	if max > backoffCap || max <= 0 {
		max = backoffCap
	}
	return time.Duration(rand.Int63n(int64(max))) + time.Millisecond
}
