// Command momentum runs the momentum-trader backend: WS tick ingest, REST
// candle refresh, and the scoring API, all over one in-memory candle store.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sharif3/momentum-trader/config"
	"github.com/sharif3/momentum-trader/internal/api"
	"github.com/sharif3/momentum-trader/internal/builder"
	"github.com/sharif3/momentum-trader/internal/jobs"
	"github.com/sharif3/momentum-trader/internal/journal"
	"github.com/sharif3/momentum-trader/internal/logger"
	"github.com/sharif3/momentum-trader/internal/metrics"
	"github.com/sharif3/momentum-trader/internal/mirror"
	"github.com/sharif3/momentum-trader/internal/model"
	"github.com/sharif3/momentum-trader/internal/notification"
	"github.com/sharif3/momentum-trader/internal/provider"
	"github.com/sharif3/momentum-trader/internal/scoring"
	"github.com/sharif3/momentum-trader/internal/store"
	"github.com/sharif3/momentum-trader/internal/tape"
)

// shutdownGrace bounds how long in-flight requests may run after SIGTERM.
const shutdownGrace = 5 * time.Second

func main() {
	cfg := config.Load()
	log := logger.Init("momentum", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	go m.Serve(ctx, cfg.MetricsAddr)

	st := store.New(store.Config{Retention: cfg.Retention})
	st.OnAppend = func(c model.Candle) { m.CandlesTotal.WithLabelValues(string(c.Timeframe)).Inc() }
	st.OnGap = func(tf model.Timeframe, slots int) { m.GapsRecorded.WithLabelValues(string(tf)).Add(float64(slots)) }
	st.OnReject = func(reason string) { m.CandleRejects.WithLabelValues(reason).Inc() }
	st.OnQuarantine = func(symbol string, tf model.Timeframe) {
		m.QuarantinedSeries.Inc()
		log.Error("series quarantined", "symbol", symbol, "tf", tf)
	}

	prov, err := provider.Load(provider.LoaderConfig{
		ID:          cfg.Provider,
		APIToken:    cfg.ProviderAPIKey,
		BaseURL:     cfg.ProviderBaseURL,
		WSURL:       cfg.ProviderWSURL,
		RESTTimeout: cfg.RESTTimeout,
		IdleTimeout: cfg.WSIdleTimeout,
	})
	if err != nil {
		log.Error("provider init failed", "err", err)
		os.Exit(1)
	}
	log.Info("provider loaded", "id", prov.Name(), "symbols", cfg.WSSymbols, "primary", cfg.PrimaryTicker)

	bld := builder.New(builder.Config{Store: st, Forming15: cfg.Forming15m})
	bld.OnInvalidTick = func(reason string) { m.InvalidTicks.WithLabelValues(reason).Inc() }

	// Optional Redis mirror of closed candles.
	var candleCh chan model.Candle
	var mir *mirror.Mirror
	if cfg.RedisAddr != "" {
		mir, err = mirror.New(mirror.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Warn("mirror disabled", "err", err)
		} else {
			candleCh = make(chan model.Candle, 2048)
			go mir.Run(ctx, candleCh)
			defer mir.Close()
		}
	}

	// Signal journal (best-effort: the pipeline runs without it).
	var jnl *journal.Journal
	if cfg.SQLitePath != "" {
		if jnl, err = journal.New(cfg.SQLitePath); err != nil {
			log.Warn("journal disabled", "err", err)
			jnl = nil
		} else {
			defer jnl.Close()
		}
	}

	var notifier notification.Notifier = &notification.LogNotifier{}
	if cfg.WebhookURL != "" {
		notifier = notification.NewWebhookNotifier(cfg.WebhookURL)
	}

	tp := tape.New(st, tape.Config{SPY: config.RefSPY, QQQ: config.RefQQQ}, nil)

	scorer := scoring.New(st, tp, scoring.Config{LiquidityFloorUSD: cfg.LiquidityFloorUSD}, nil)
	scorer.OnScore = func(res model.ScoreResult) {
		m.ScoreRequests.WithLabelValues(string(res.Signal)).Inc()
		if jnl != nil {
			jnl.Record(res)
		}
		if mir != nil {
			go mir.RecordScore(ctx, res)
		}
		if alert, ok := notification.FromScore(res); ok {
			go func() {
				sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()
				if err := notifier.Send(sendCtx, alert); err != nil {
					log.Warn("alert delivery failed", "ticker", alert.Ticker, "err", err)
				}
			}()
		}
	}

	// WS ingest: sole writer of the 1m/5m series.
	ingest := &jobs.WSIngest{
		Provider:    prov,
		Builder:     bld,
		Symbols:     cfg.WSSymbols,
		OnReconnect: func() { m.WSReconnects.Inc() },
		OnTick:      func() { m.TicksTotal.Inc() },
		OnClosed: func(c model.Candle) {
			if candleCh == nil {
				return
			}
			select {
			case candleCh <- c:
			default:
			}
		},
	}
	go ingest.Run(ctx)

	// REST refresh: sole writer of the 15m/1h/4h/1d series.
	refresher := jobs.NewRefresher(prov, st, cfg.WSSymbols, cfg.RefreshInterval, cfg.RESTTimeout)
	refresher.OnRefresh = func(tf model.Timeframe, took time.Duration, err error) {
		m.RefreshDur.Observe(took.Seconds())
		if err != nil {
			m.RefreshFailures.Inc()
		}
	}
	go refresher.Run(ctx)

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: (&api.Server{
			Store:   st,
			Scorer:  scorer,
			Tape:    tp,
			AppEnv:  cfg.AppEnv,
			ProvID:  prov.Name(),
			Primary: cfg.PrimaryTicker,
		}).NewRouter(),
	}

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		srv.Shutdown(shCtx)
	}()

	log.Info("api listening", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("api server failed", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
