package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/sharif3/momentum-trader/internal/provider/eodhd"
	"github.com/sharif3/momentum-trader/internal/provider/sim"
)

// LoaderConfig carries everything adapters may need. Single place that
// knows about concrete providers.
type LoaderConfig struct {
	ID          string // "EODHD" or "SIM"
	APIToken    string
	BaseURL     string
	WSURL       string
	RESTTimeout time.Duration
	IdleTimeout time.Duration
}

// Load selects and constructs the configured adapter.
func Load(cfg LoaderConfig) (Provider, error) {
	switch strings.ToUpper(strings.TrimSpace(cfg.ID)) {
	case "EODHD", "":
		return eodhd.New(eodhd.Config{
			BaseURL:     cfg.BaseURL,
			WSURL:       cfg.WSURL,
			APIToken:    cfg.APIToken,
			RESTTimeout: cfg.RESTTimeout,
			IdleTimeout: cfg.IdleTimeout,
		})
	case "SIM":
		return sim.New(sim.Config{URL: cfg.WSURL, IdleTimeout: cfg.IdleTimeout})
	default:
		return nil, fmt.Errorf("unknown provider %q (expected EODHD or SIM)", cfg.ID)
	}
}
