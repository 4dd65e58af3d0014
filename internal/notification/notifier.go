// Package notification delivers signal alerts to external channels.
// A BUY or EXIT is worth interrupting someone for; HOLDs are not.
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sharif3/momentum-trader/internal/model"
)

// Alert is one signal notification.
type Alert struct {
	Ticker     string       `json:"ticker"`
	Signal     model.Signal `json:"signal"`
	State      model.State  `json:"state"`
	Confidence float64      `json:"confidence"`
	Detail     string       `json:"detail"`
}

// FromScore builds an alert from an actionable score result. Returns
// false for results not worth notifying (HOLD, IGNORE).
func FromScore(res model.ScoreResult) (Alert, bool) {
	if res.Signal != model.SignalBuy && res.Signal != model.SignalExit {
		return Alert{}, false
	}
	detail := ""
	if res.Signal == model.SignalBuy && res.EntryRange != nil && res.Stop != nil {
		detail = fmt.Sprintf("entry %.2f-%.2f stop %.2f", res.EntryRange.Lo, res.EntryRange.Hi, *res.Stop)
	}
	return Alert{
		Ticker:     res.Ticker,
		Signal:     res.Signal,
		State:      res.State,
		Confidence: res.Confidence,
		Detail:     detail,
	}, true
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns an error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts instead of delivering them (development).
type LogNotifier struct{}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	slog.Info("signal alert",
		"ticker", alert.Ticker, "signal", alert.Signal,
		"state", alert.State, "confidence", alert.Confidence)
	return nil
}
