package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sharif3/momentum-trader/internal/model"
)

// Reference instruments the tape context always needs.
const (
	RefSPY = "SPY"
	RefQQQ = "QQQ"
)

// Config holds all application configuration loaded from environment
// variables.
type Config struct {
	AppEnv   string
	LogLevel string

	// Provider
	Provider        string
	ProviderAPIKey  string // credential; never logged
	ProviderBaseURL string
	ProviderWSURL   string

	// Subscription
	WSSymbols     []string // always includes the reference tickers
	PrimaryTicker string

	// Pipeline tuning
	Retention         map[model.Timeframe]int
	RefreshInterval   time.Duration
	RESTTimeout       time.Duration
	WSIdleTimeout     time.Duration
	LiquidityFloorUSD float64
	Forming15m        bool

	// Surfaces
	ListenAddr  string
	MetricsAddr string

	// Optional sinks
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	WebhookURL    string
}

// Load reads configuration from environment variables with sensible
// defaults. The provider credential is required unless the sim provider is
// selected.
func Load() *Config {
	providerID := getEnv("PROVIDER", "EODHD")

	apiKey := os.Getenv("PROVIDER_API_KEY")
	if apiKey == "" && !strings.EqualFold(providerID, "SIM") {
		log.Fatalf("[config] required env var PROVIDER_API_KEY not set")
	}

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "local"),
		LogLevel: getEnv("LOG_LEVEL", "INFO"),

		Provider:        providerID,
		ProviderAPIKey:  apiKey,
		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", ""),
		ProviderWSURL:   getEnv("PROVIDER_WS_URL", ""),

		WSSymbols:     splitSymbols(getEnv("WS_SYMBOLS", "TSLA")),
		PrimaryTicker: getEnv("PRIMARY_TICKER", ""),

		Retention:         parseRetention(),
		RefreshInterval:   msEnv("REFRESH_INTERVAL_MS", 60_000),
		RESTTimeout:       msEnv("REST_TIMEOUT_MS", 10_000),
		WSIdleTimeout:     msEnv("WS_IDLE_TIMEOUT_MS", 30_000),
		LiquidityFloorUSD: floatEnv("LIQUIDITY_FLOOR_USD", 1_000_000),
		Forming15m:        boolEnv("FORMING_15M", true),

		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/signals.db"),
		WebhookURL:    getEnv("WEBHOOK_URL", ""),
	}

	// The tape context cannot run without the reference tickers.
	for _, ref := range []string{RefSPY, RefQQQ} {
		if !contains(cfg.WSSymbols, ref) {
			cfg.WSSymbols = append(cfg.WSSymbols, ref)
		}
	}
	if cfg.PrimaryTicker == "" {
		for _, s := range cfg.WSSymbols {
			if s != RefSPY && s != RefQQQ {
				cfg.PrimaryTicker = s
				break
			}
		}
	}
	return cfg
}

// parseRetention reads RETENTION_1M / RETENTION_5M / ... overrides.
func parseRetention() map[model.Timeframe]int {
	out := make(map[model.Timeframe]int)
	for _, tf := range model.AllTimeframes {
		key := "RETENTION_" + strings.ToUpper(string(tf))
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				log.Printf("[config] skipping invalid %s=%q", key, v)
				continue
			}
			out[tf] = n
		}
	}
	return out
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" && !contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func msEnv(key string, fallback int64) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(fallback) * time.Millisecond
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		log.Printf("[config] skipping invalid %s=%q", key, v)
		return time.Duration(fallback) * time.Millisecond
	}
	return time.Duration(n) * time.Millisecond
}

func floatEnv(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		log.Printf("[config] skipping invalid %s=%q", key, v)
		return fallback
	}
	return f
}

func boolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
