package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"arb-radar/internal/alerting"
	"arb-radar/internal/bus"
	"arb-radar/internal/config"
	"arb-radar/internal/detector"
	"arb-radar/internal/engine"
	"arb-radar/internal/feed"
	"arb-radar/internal/opportunity"
	"arb-radar/internal/ranking"
	"arb-radar/internal/scheduler"
	"arb-radar/internal/snapshot"
	"arb-radar/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives tables printed by the interactive commands.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	applied, err := storage.Migrate(ctx, pool, a.Config.Database.MigrationsPath)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if len(applied) > 0 {
		a.Logger.Debug().Int("files", len(applied)).Msg("database schema applied")
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openRedis(ctx context.Context) (*redis.Client, error) {
	if !a.Config.Redis.Enabled() {
		return nil, nil
	}
	return bus.NewClient(ctx, bus.ClientConfig{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
		PoolSize: a.Config.Redis.PoolSize,
	})
}

func (a *App) newNormalizer(now func() time.Time) *feed.Normalizer {
	return feed.NewNormalizer(feed.NormalizerOptions{
		Quotes:                 a.Config.Feeds.Quotes,
		DefaultFundingInterval: a.Config.Futures.DefaultFundingInterval,
		MaxClockSkew:           a.Config.Feeds.MaxClockSkew,
		Now:                    now,
	}, a.Logger)
}

func (a *App) newDetectors() engine.Detectors {
	cfg := a.Config
	return engine.Detectors{
		Direct: detector.NewDirect(detector.DirectConfig{
			MinSpreadPercent: cfg.Direct.MinSpreadPct,
			FeePercent:       cfg.Direct.FeePct,
			MaxNotional:      cfg.Direct.MaxNotional,
		}, a.Logger),
		Triangular: detector.NewTriangular(detector.TriangularConfig{
			MinProfitPercent: cfg.Triangular.MinProfitPct,
			LegFeePercent:    cfg.Triangular.LegFeePct,
			Notional:         cfg.Triangular.Notional,
			StartCurrencies:  cfg.Triangular.StartCurrencies,
		}, a.Logger),
		Futures: detector.NewFutures(detector.FuturesConfig{
			MinSpreadPercent:       cfg.Futures.MinSpreadPct,
			MinFundingPercent:      cfg.Futures.MinFundingPct,
			SpreadWeight:           cfg.Futures.SpreadWeight,
			FundingWeight:          cfg.Futures.FundingWeight,
			SpotFeePercent:         cfg.Futures.SpotFeePct,
			FuturesFeePercent:      cfg.Futures.FuturesFeePct,
			Notional:               cfg.Futures.Notional,
			DefaultFundingInterval: cfg.Futures.DefaultFundingInterval,
		}, a.Logger),
	}
}

// publishFilters applies the configured minimums to what gets published.
func (a *App) publishFilters() map[opportunity.Kind]ranking.Filter {
	return map[opportunity.Kind]ranking.Filter{
		opportunity.KindDirect:     {MinMetric: a.Config.Direct.MinSpreadPct},
		opportunity.KindTriangular: {MinMetric: a.Config.Triangular.MinProfitPct},
		opportunity.KindFutures:    {MinMetric: a.Config.Futures.MinSpreadPct},
	}
}

func (a *App) newEngine(store *snapshot.Store, stats engine.StatsSource, sched *scheduler.Scheduler, now func() time.Time) *engine.Engine {
	cfg := a.Config.Engine
	return engine.New(engine.Config{
		Staleness:      cfg.Staleness,
		Retention:      cfg.Retention,
		RecentCapacity: cfg.RecentCapacity,
		Workers:        cfg.Workers,
		Venues:         snapshot.NewVenueFilter(cfg.Venues.Allow, cfg.Venues.Deny),
		Filters:        a.publishFilters(),
		Sort:           a.Config.SortOrder(),
		Now:            now,
	}, store, a.newDetectors(), stats, sched, a.Logger)
}

func (a *App) newPipeline(normalizer *feed.Normalizer, store *snapshot.Store, sources []feed.Source) *feed.Pipeline {
	return feed.NewPipeline(normalizer, store, sources, feed.PipelineOptions{
		Buffer:    a.Config.Feeds.Buffer,
		BatchSize: a.Config.Feeds.Batch,
	}, a.Logger)
}

// newSources builds one feed source per configured venue connection. rdb may
// be nil when no redis source is configured.
func (a *App) newSources(rdb *redis.Client) ([]feed.Source, error) {
	sources := make([]feed.Source, 0, len(a.Config.Feeds.Sources))
	for _, src := range a.Config.Feeds.Sources {
		switch src.Type {
		case config.SourceWebSocket:
			sources = append(sources, feed.NewWebSocket(feed.WebSocketOptions{
				Name:        src.Name,
				Venue:       src.Venue,
				URL:         src.URL,
				Subscribe:   src.Subscribe,
				ReadTimeout: src.Timeout,
			}, a.Logger))
		case config.SourceREST:
			sources = append(sources, feed.NewREST(feed.RESTOptions{
				Name:      src.Name,
				Venue:     src.Venue,
				BaseURL:   src.URL,
				Format:    src.Format,
				Symbols:   src.Symbols,
				Interval:  src.Interval,
				Timeout:   src.Timeout,
				UserAgent: a.Config.App.Name,
			}, a.Logger))
		case config.SourceOnchain:
			pools := make([]feed.Pool, 0, len(src.Pools))
			for _, p := range src.Pools {
				pools = append(pools, feed.Pool{
					Address:        p.Address,
					Symbol:         p.Symbol,
					Token0Decimals: p.Token0Decimals,
					Token1Decimals: p.Token1Decimals,
					BaseIsToken1:   p.BaseIsToken1,
				})
			}
			sources = append(sources, feed.NewOnchain(feed.OnchainOptions{
				Name:     src.Name,
				Venue:    src.Venue,
				RPCURL:   src.URL,
				Pools:    pools,
				Interval: src.Interval,
				Timeout:  src.Timeout,
			}, nil, a.Logger))
		case config.SourceRedis:
			if rdb == nil {
				return nil, fmt.Errorf("source %s: redis not configured", src.Name)
			}
			pattern := a.Config.Redis.FeedChannel
			if len(src.Subscribe) > 0 {
				pattern = src.Subscribe[0]
			}
			sources = append(sources, bus.NewSource(rdb, src.Name, pattern, a.Logger))
		default:
			return nil, fmt.Errorf("source %s: unknown type %q", src.Name, src.Type)
		}
	}
	return sources, nil
}

// ExportOptions hold parameters for exporting recorded opportunities.
type ExportOptions struct {
	Kind      opportunity.Kind
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Kind  opportunity.Kind
	Limit int
}

// SimulateOptions configure the simulator run.
type SimulateOptions struct {
	Ticks   int
	Venues  []string
	Seed    uint64
	Limit   int
	Futures bool
}

// ReplayOptions configure a replay of captured feed events.
type ReplayOptions struct {
	File   string
	Limit  int
	Record bool
}
