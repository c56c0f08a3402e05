package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"arb-radar/internal/alerting"
	"arb-radar/internal/api"
	"arb-radar/internal/archive"
	"arb-radar/internal/bus"
	"arb-radar/internal/engine"
	"arb-radar/internal/opportunity"
	"arb-radar/internal/scheduler"
	"arb-radar/internal/snapshot"
	"arb-radar/internal/storage"
)

// Run executes the long-running engine with every configured collaborator.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := a.Config

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	rdb, err := a.openRedis(ctx)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	sources, err := a.newSources(rdb)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		a.Logger.Warn().Msg("no feed sources configured; rankings stay empty")
	}

	snapshots := snapshot.New()
	normalizer := a.newNormalizer(nil)
	pipeline := a.newPipeline(normalizer, snapshots, sources)

	sched := scheduler.New(scheduler.Options{
		Interval:     cfg.Engine.TickInterval,
		AlignToStart: cfg.Engine.AlignToStart,
		StartupDelay: cfg.Engine.StartupDelay,
	}, a.Logger)
	eng := a.newEngine(snapshots, normalizer, sched, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipeline.Run(gctx) })
	g.Go(func() error { return eng.Run(gctx) })

	if cfg.API.Enabled {
		server := api.NewServer(eng, api.Config{
			Addr:         cfg.API.Addr,
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
		}, a.Logger)
		g.Go(func() error { return server.Run(gctx) })
	}

	if rdb != nil {
		publisher := bus.NewPublisher(rdb, cfg.Redis.Prefix, cfg.Redis.LatestTTL, a.Logger)
		subs := subscribeAll(eng)
		g.Go(func() error { return publisher.Run(gctx, subs...) })
	}

	if store != nil {
		recorder := NewRecorder(store, cfg.Engine.AdvisoryLockKey, cfg.Storage.RecordTopN, cfg.Storage.Retention, a.Logger)
		subs := subscribeAll(eng)
		g.Go(func() error { return recorder.Run(gctx, subs...) })
	}

	if cfg.Alerting.Enabled {
		if notifier := a.newNotifier(); notifier != nil {
			var alerts storage.AlertStore
			if store != nil {
				alerts = store
			}
			watcher := alerting.NewWatcher(notifier, alerts, alerting.WatcherOptions{
				Thresholds: map[opportunity.Kind]float64{
					opportunity.KindDirect:     cfg.Alerting.DirectNetProfit,
					opportunity.KindTriangular: cfg.Alerting.TriangularNetProfit,
					opportunity.KindFutures:    cfg.Alerting.FuturesNetProfit,
				},
				Cooldown: cfg.Alerting.Cooldown,
				Channels: cfg.Alerting.Channels,
			}, a.Logger)
			for _, sub := range subscribeAll(eng) {
				g.Go(func() error { return watcher.Run(gctx, sub) })
			}
		} else {
			a.Logger.Warn().Msg("alerting enabled but no channel configured")
		}
	}

	if cfg.Archive.Enabled {
		archiveCfg := archive.Config{
			Bucket:         cfg.Archive.Bucket,
			Region:         cfg.Archive.Region,
			Endpoint:       cfg.Archive.Endpoint,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			Prefix:         cfg.Archive.Prefix,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
			Interval:       cfg.Archive.Interval,
		}
		client, err := archive.NewS3Client(ctx, archiveCfg)
		if err != nil {
			return err
		}
		archiver := archive.New(client, eng, archiveCfg, a.Logger)
		g.Go(func() error { return archiver.Run(gctx) })
	}

	a.Logger.Info().
		Int("sources", len(sources)).
		Dur("tick_interval", cfg.Engine.TickInterval).
		Bool("api", cfg.API.Enabled).
		Bool("redis", rdb != nil).
		Bool("postgres", store != nil).
		Msg("starting engine")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("engine terminated with error")
		return err
	}

	a.Logger.Info().Msg("engine stopped")
	return nil
}

func subscribeAll(eng *engine.Engine) []*engine.Subscription {
	subs := make([]*engine.Subscription, 0, len(opportunity.Kinds))
	for _, kind := range opportunity.Kinds {
		subs = append(subs, eng.Subscribe(kind))
	}
	return subs
}
