package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arb-radar/internal/market"
	"arb-radar/internal/ranking"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: arbradar\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.TickInterval != 2*time.Second || cfg.Engine.Staleness != 10*time.Second {
		t.Fatalf("unexpected engine defaults %+v", cfg.Engine)
	}
	if cfg.Direct.FeePct != 15 || cfg.Direct.MinSpreadPct != 0.5 {
		t.Fatalf("unexpected direct defaults %+v", cfg.Direct)
	}
	if got := 3 * cfg.Triangular.LegFeePct; got < 19.999 || got > 20.001 {
		t.Fatalf("combined triangular fee should default to 20%%, got %v", got)
	}
	if cfg.Futures.DefaultFundingInterval != 8*time.Hour {
		t.Fatalf("unexpected funding interval %v", cfg.Futures.DefaultFundingInterval)
	}
	if cfg.SortOrder() != ranking.DefaultSort() {
		t.Fatalf("unexpected sort %v", cfg.SortOrder())
	}
	if cfg.Redis.Enabled() {
		t.Fatalf("redis should be disabled without an address")
	}
	if cfg.Feeds.MaxClockSkew != 5*time.Second {
		t.Fatalf("unexpected max clock skew %v", cfg.Feeds.MaxClockSkew)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
engine:
  tick_interval: 500ms
  venues:
    deny: [ftx]
triangular:
  start_currencies: [usdt]
feeds:
  sources:
    - name: uni
      venue: uniswap
      type: onchain
      url: http://localhost:8545
      pools:
        - address: "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"
          symbol: WETHUSDC
          token0_decimals: 6
          token1_decimals: 18
          base_is_token1: true
`)
	t.Setenv("ARBRADAR_DIRECT_FEE_PCT", "10")
	t.Setenv("ARBRADAR_ENGINE_WORKERS", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.TickInterval != 500*time.Millisecond || cfg.Engine.Workers != 5 {
		t.Fatalf("unexpected engine %+v", cfg.Engine)
	}
	if cfg.Direct.FeePct != 10 {
		t.Fatalf("env override not applied: %v", cfg.Direct.FeePct)
	}
	if len(cfg.Feeds.Sources) != 1 || len(cfg.Feeds.Sources[0].Pools) != 1 {
		t.Fatalf("unexpected sources %+v", cfg.Feeds.Sources)
	}
	pool := cfg.Feeds.Sources[0].Pools[0]
	if pool.Token1Decimals != 18 || !pool.BaseIsToken1 {
		t.Fatalf("unexpected pool %+v", pool)
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load(writeConfig(t, "app:\n  name: arbradar\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"tick interval", func(c *Config) { c.Engine.TickInterval = 0 }},
		{"retention shorter than staleness", func(c *Config) { c.Engine.Retention = time.Second }},
		{"workers", func(c *Config) { c.Engine.Workers = 0 }},
		{"allow and deny overlap", func(c *Config) {
			c.Engine.Venues.Allow = []string{"Binance"}
			c.Engine.Venues.Deny = []string{"binance"}
		}},
		{"direct fee", func(c *Config) { c.Direct.FeePct = 100 }},
		{"combined triangular fee", func(c *Config) { c.Triangular.LegFeePct = 40 }},
		{"start currencies", func(c *Config) { c.Triangular.StartCurrencies = nil }},
		{"futures notional", func(c *Config) { c.Futures.Notional = 0 }},
		{"sort key", func(c *Config) { c.Ranking.Sort = "price" }},
		{"clock skew", func(c *Config) { c.Feeds.MaxClockSkew = 0 }},
		{"unknown source type", func(c *Config) {
			c.Feeds.Sources = []SourceConfig{{Name: "x", Venue: "x", Type: "ftp", URL: "ftp://x"}}
		}},
		{"redis source without redis", func(c *Config) {
			c.Feeds.Sources = []SourceConfig{{Name: "bus", Type: SourceRedis}}
		}},
		{"duplicate source", func(c *Config) {
			src := SourceConfig{Name: "a", Venue: "a", Type: SourceREST, URL: "http://a"}
			c.Feeds.Sources = []SourceConfig{src, src}
		}},
		{"telegram token", func(c *Config) { c.Alerting.Telegram.Enabled = true }},
		{"archive bucket", func(c *Config) { c.Archive.Enabled = true }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, market.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := validConfig(t)
	if got := cfg.ResolveMaxPoints(0); got != 2000 {
		t.Fatalf("expected default 2000, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(10); got != 10 {
		t.Fatalf("expected override, got %d", got)
	}
}
