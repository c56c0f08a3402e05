package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"arb-radar/internal/logging"
	"arb-radar/internal/market"
	"arb-radar/internal/ranking"
)

// Source types accepted in feeds.sources.
const (
	SourceWebSocket = "websocket"
	SourceREST      = "rest"
	SourceOnchain   = "onchain"
	SourceRedis     = "redis"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Direct     DirectConfig     `mapstructure:"direct"`
	Triangular TriangularConfig `mapstructure:"triangular"`
	Futures    FuturesConfig    `mapstructure:"futures"`
	Ranking    RankingConfig    `mapstructure:"ranking"`
	Feeds      FeedsConfig      `mapstructure:"feeds"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	API        APIConfig        `mapstructure:"api"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// EngineConfig governs the tick loop and the snapshot window.
type EngineConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	AlignToStart    bool          `mapstructure:"align_to_start"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	Staleness       time.Duration `mapstructure:"staleness"`
	Retention       time.Duration `mapstructure:"retention"`
	RecentCapacity  int           `mapstructure:"recent_capacity"`
	Workers         int           `mapstructure:"workers"`
	Venues          VenuesConfig  `mapstructure:"venues"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// VenuesConfig restricts which venues take part in detection.
type VenuesConfig struct {
	Allow []string `mapstructure:"allow"`
	Deny  []string `mapstructure:"deny"`
}

// DirectConfig tunes cross-venue spread detection.
type DirectConfig struct {
	MinSpreadPct float64 `mapstructure:"min_spread_pct"`
	FeePct       float64 `mapstructure:"fee_pct"`
	MaxNotional  float64 `mapstructure:"max_notional"`
}

// TriangularConfig tunes cycle detection.
type TriangularConfig struct {
	MinProfitPct    float64  `mapstructure:"min_profit_pct"`
	LegFeePct       float64  `mapstructure:"leg_fee_pct"`
	Notional        float64  `mapstructure:"notional"`
	StartCurrencies []string `mapstructure:"start_currencies"`
}

// FuturesConfig tunes spot/perpetual basis detection.
type FuturesConfig struct {
	MinSpreadPct           float64       `mapstructure:"min_spread_pct"`
	MinFundingPct          float64       `mapstructure:"min_funding_pct"`
	SpreadWeight           float64       `mapstructure:"spread_weight"`
	FundingWeight          float64       `mapstructure:"funding_weight"`
	SpotFeePct             float64       `mapstructure:"spot_fee_pct"`
	FuturesFeePct          float64       `mapstructure:"futures_fee_pct"`
	Notional               float64       `mapstructure:"notional"`
	DefaultFundingInterval time.Duration `mapstructure:"default_funding_interval"`
}

// RankingConfig is the default ordering of published lists.
type RankingConfig struct {
	Sort      string `mapstructure:"sort"`
	Direction string `mapstructure:"direction"`
}

// FeedsConfig lists the venue connections.
type FeedsConfig struct {
	Quotes  []string `mapstructure:"quotes"`
	Buffer  int      `mapstructure:"buffer"`
	Batch   int      `mapstructure:"batch"`
	// MaxClockSkew is how far ahead of receipt an event timestamp may be before it is dropped.
	MaxClockSkew time.Duration  `mapstructure:"max_clock_skew"`
	Sources      []SourceConfig `mapstructure:"sources"`
}

// SourceConfig is one venue connection.
type SourceConfig struct {
	Name      string        `mapstructure:"name"`
	Venue     string        `mapstructure:"venue"`
	Type      string        `mapstructure:"type"`
	URL       string        `mapstructure:"url"`
	Format    string        `mapstructure:"format"`
	Interval  time.Duration `mapstructure:"interval"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Subscribe []string      `mapstructure:"subscribe"`
	Symbols   []string      `mapstructure:"symbols"`
	Pools     []PoolConfig  `mapstructure:"pools"`
}

// PoolConfig is one constant-product pool quoted by an on-chain source.
type PoolConfig struct {
	Address        string `mapstructure:"address"`
	Symbol         string `mapstructure:"symbol"`
	Token0Decimals int32  `mapstructure:"token0_decimals"`
	Token1Decimals int32  `mapstructure:"token1_decimals"`
	BaseIsToken1   bool   `mapstructure:"base_is_token1"`
}

// RedisConfig covers the publication bus and the feed subscriber.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	Prefix      string        `mapstructure:"prefix"`
	LatestTTL   time.Duration `mapstructure:"latest_ttl"`
	FeedChannel string        `mapstructure:"feed_channel"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// StorageConfig governs the opportunity log.
type StorageConfig struct {
	RecordTopN int           `mapstructure:"record_top_n"`
	Retention  time.Duration `mapstructure:"retention"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled             bool           `mapstructure:"enabled"`
	Cooldown            time.Duration  `mapstructure:"cooldown"`
	DirectNetProfit     float64        `mapstructure:"direct_net_profit"`
	TriangularNetProfit float64        `mapstructure:"triangular_net_profit"`
	FuturesNetProfit    float64        `mapstructure:"futures_net_profit"`
	Channels            []string       `mapstructure:"channels"`
	Telegram            TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot used for alerts.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ArchiveConfig configures the S3 upload of recent opportunities.
type ArchiveConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	Bucket         string        `mapstructure:"bucket"`
	Region         string        `mapstructure:"region"`
	Endpoint       string        `mapstructure:"endpoint"`
	Prefix         string        `mapstructure:"prefix"`
	AccessKey      string        `mapstructure:"access_key"`
	SecretKey      string        `mapstructure:"secret_key"`
	ForcePathStyle bool          `mapstructure:"force_path_style"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ARBRADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "arbradar")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("engine.tick_interval", "2s")
	v.SetDefault("engine.align_to_start", false)
	v.SetDefault("engine.startup_delay", "0s")
	v.SetDefault("engine.staleness", "10s")
	v.SetDefault("engine.retention", "5m")
	v.SetDefault("engine.recent_capacity", 500)
	v.SetDefault("engine.workers", 3)
	v.SetDefault("engine.venues.allow", []string{})
	v.SetDefault("engine.venues.deny", []string{})
	v.SetDefault("engine.advisory_lock_key", int64(0x61726264))

	v.SetDefault("direct.min_spread_pct", 0.5)
	v.SetDefault("direct.fee_pct", 15.0)
	v.SetDefault("direct.max_notional", 100000.0)

	v.SetDefault("triangular.min_profit_pct", 0.0)
	v.SetDefault("triangular.leg_fee_pct", 20.0/3)
	v.SetDefault("triangular.notional", 10000.0)
	v.SetDefault("triangular.start_currencies", []string{"USDT", "USDC", "USD"})

	v.SetDefault("futures.min_spread_pct", 0.2)
	v.SetDefault("futures.min_funding_pct", 0.0)
	v.SetDefault("futures.spread_weight", 1.0)
	v.SetDefault("futures.funding_weight", 1.0)
	v.SetDefault("futures.spot_fee_pct", 5.0)
	v.SetDefault("futures.futures_fee_pct", 5.0)
	v.SetDefault("futures.notional", 10000.0)
	v.SetDefault("futures.default_funding_interval", "8h")

	v.SetDefault("ranking.sort", "metric")
	v.SetDefault("ranking.direction", "desc")

	v.SetDefault("feeds.quotes", []string{"USDT", "USDC", "BUSD", "FDUSD", "TUSD", "USD", "EUR", "BTC", "ETH", "BNB"})
	v.SetDefault("feeds.buffer", 4096)
	v.SetDefault("feeds.batch", 256)
	v.SetDefault("feeds.max_clock_skew", "5s")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.prefix", "arbradar")
	v.SetDefault("redis.latest_ttl", "1m")
	v.SetDefault("redis.feed_channel", "arbradar:ticks:*")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("storage.record_top_n", 20)
	v.SetDefault("storage.retention", "168h")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "15m")
	v.SetDefault("alerting.direct_net_profit", 500.0)
	v.SetDefault("alerting.triangular_net_profit", 100.0)
	v.SetDefault("alerting.futures_net_profit", 100.0)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.interval", "5m")
	v.SetDefault("archive.prefix", "opportunities")
	v.SetDefault("archive.force_path_style", false)

	v.SetDefault("export.max_data_points", 2000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", market.ErrConfiguration, fmt.Sprintf(format, args...))
}

func validFee(name string, pct float64) error {
	if pct < 0 || pct >= 100 {
		return invalid("%s must be in [0, 100)", name)
	}
	return nil
}

// Validate performs sanity checks on the configuration values. Every error
// wraps market.ErrConfiguration.
func (c *Config) Validate() error {
	e := c.Engine
	if e.TickInterval <= 0 {
		return invalid("engine.tick_interval must be greater than zero")
	}
	if e.Staleness <= 0 {
		return invalid("engine.staleness must be greater than zero")
	}
	if e.Retention < e.Staleness {
		return invalid("engine.retention must not be shorter than engine.staleness")
	}
	if e.Workers < 1 {
		return invalid("engine.workers must be at least 1")
	}
	deny := make(map[string]struct{}, len(e.Venues.Deny))
	for _, v := range e.Venues.Deny {
		deny[market.NormalizeVenue(v)] = struct{}{}
	}
	for _, v := range e.Venues.Allow {
		if _, ok := deny[market.NormalizeVenue(v)]; ok {
			return invalid("venue %q is both allowed and denied", v)
		}
	}

	if err := validFee("direct.fee_pct", c.Direct.FeePct); err != nil {
		return err
	}
	if c.Direct.MaxNotional <= 0 {
		return invalid("direct.max_notional must be greater than zero")
	}
	if c.Direct.MinSpreadPct < 0 {
		return invalid("direct.min_spread_pct cannot be negative")
	}

	if err := validFee("triangular.leg_fee_pct", c.Triangular.LegFeePct); err != nil {
		return err
	}
	if 3*c.Triangular.LegFeePct >= 100 {
		return invalid("combined triangular fee must be below 100%%")
	}
	if c.Triangular.Notional <= 0 {
		return invalid("triangular.notional must be greater than zero")
	}
	if c.Triangular.MinProfitPct < 0 {
		return invalid("triangular.min_profit_pct cannot be negative")
	}
	if len(c.Triangular.StartCurrencies) == 0 {
		return invalid("triangular.start_currencies must not be empty")
	}

	if err := validFee("futures.spot_fee_pct", c.Futures.SpotFeePct); err != nil {
		return err
	}
	if err := validFee("futures.futures_fee_pct", c.Futures.FuturesFeePct); err != nil {
		return err
	}
	if c.Futures.SpotFeePct+c.Futures.FuturesFeePct >= 100 {
		return invalid("combined futures fee must be below 100%%")
	}
	if c.Futures.Notional <= 0 {
		return invalid("futures.notional must be greater than zero")
	}
	if c.Futures.MinSpreadPct < 0 || c.Futures.MinFundingPct < 0 {
		return invalid("futures thresholds cannot be negative")
	}
	if c.Futures.SpreadWeight < 0 || c.Futures.FundingWeight < 0 {
		return invalid("futures weights cannot be negative")
	}

	if _, err := ranking.ParseSort(c.Ranking.Sort, c.Ranking.Direction); err != nil {
		return invalid("ranking: %v", err)
	}

	if c.Feeds.MaxClockSkew <= 0 {
		return invalid("feeds.max_clock_skew must be greater than zero")
	}

	names := make(map[string]struct{}, len(c.Feeds.Sources))
	for i, src := range c.Feeds.Sources {
		if err := src.validate(c.Redis); err != nil {
			return invalid("feeds.sources[%d]: %v", i, err)
		}
		if _, dup := names[src.Name]; dup {
			return invalid("feeds.sources[%d]: duplicate name %q", i, src.Name)
		}
		names[src.Name] = struct{}{}
	}

	if c.Storage.RecordTopN < 0 {
		return invalid("storage.record_top_n cannot be negative")
	}
	if c.Alerting.DirectNetProfit < 0 || c.Alerting.TriangularNetProfit < 0 || c.Alerting.FuturesNetProfit < 0 {
		return invalid("alerting thresholds cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return invalid("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return invalid("alerting.telegram.chat_id is required")
		}
	}
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" || c.Archive.Region == "" {
			return invalid("archive.bucket and archive.region are required")
		}
		if c.Archive.Interval <= 0 {
			return invalid("archive.interval must be greater than zero")
		}
	}
	if c.Export.MaxDataPoints <= 0 {
		return invalid("export.max_data_points must be greater than zero")
	}
	return nil
}

func (s SourceConfig) validate(redis RedisConfig) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Venue == "" && s.Type != SourceRedis {
		return errors.New("venue is required")
	}
	switch s.Type {
	case SourceWebSocket, SourceREST:
		if s.URL == "" {
			return fmt.Errorf("%s source requires url", s.Type)
		}
	case SourceOnchain:
		if s.URL == "" {
			return errors.New("onchain source requires url")
		}
		if len(s.Pools) == 0 {
			return errors.New("onchain source requires pools")
		}
		for _, p := range s.Pools {
			if p.Address == "" || p.Symbol == "" {
				return errors.New("pool address and symbol are required")
			}
		}
	case SourceRedis:
		if !redis.Enabled() {
			return errors.New("redis source requires redis.addr")
		}
	default:
		return fmt.Errorf("unknown type %q", s.Type)
	}
	return nil
}

// SortOrder returns the parsed default ranking.
func (c *Config) SortOrder() ranking.Sort {
	s, err := ranking.ParseSort(c.Ranking.Sort, c.Ranking.Direction)
	if err != nil {
		return ranking.DefaultSort()
	}
	return s
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
