package main

import (
	"context"
	"log"
	"time"

	"github.com/fieldtrack/tracker/internal/archive"
	"github.com/fieldtrack/tracker/internal/auth"
	"github.com/fieldtrack/tracker/internal/config"
	"github.com/fieldtrack/tracker/internal/feed"
	"github.com/fieldtrack/tracker/internal/history"
	"github.com/fieldtrack/tracker/internal/mapsync"
	"github.com/fieldtrack/tracker/internal/model"
	"github.com/fieldtrack/tracker/internal/presence"
	"github.com/fieldtrack/tracker/internal/restapi"
	"github.com/fieldtrack/tracker/internal/runtime"
	"github.com/fieldtrack/tracker/internal/stream"
	"github.com/fieldtrack/tracker/internal/webmap"
)

type timedUpdate struct {
	ev model.LocationUpdate
	at time.Time
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runtime.SetupGracefulShutdown(cancel, cfg.Logger)

	tokens := auth.StaticToken(cfg.APIToken)
	api := restapi.NewClient(cfg.APIBaseURL, tokens, cfg.RequestTimeout)

	store := presence.NewStore()
	hub := webmap.NewHub(cfg.Logger)
	syncer := mapsync.NewSynchronizer(hub)

	scope := restapi.ScopeAll
	if cfg.RoleScope == "my" {
		scope = restapi.ScopeMy
	}
	loader := presence.NewLoader(api, store, scope, cfg.SnapshotRetries, cfg.SnapshotBackoff, cfg.Logger, hub.Notice)

	var presenceFeed *feed.Feed
	if cfg.FeedEnabled() {
		if err := feed.EnsureTopics(ctx, cfg, cfg.Logger); err != nil {
			cfg.Logger.Fatalf("kafka ensure topics error: %v", err)
		}
		presenceFeed = feed.NewKafkaFeed(cfg)
		defer presenceFeed.Close()
	}

	var historyCh chan timedUpdate
	if cfg.HistoryEnabled() {
		hist := history.NewInflux(cfg)
		defer hist.Close()
		historyCh = make(chan timedUpdate, 5000)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case tu := <-historyCh:
					if err := hist.Record(ctx, tu.ev, tu.at); err != nil {
						cfg.Logger.Printf("[history] write failed: %v", err)
					}
				}
			}
		}()
	}

	var archiveCh chan model.LocationUpdate
	if cfg.ArchiveEnabled() {
		objStore, err := archive.NewObjectStore(cfg)
		if err != nil {
			cfg.Logger.Fatalf("minio client error: %v", err)
		}
		if err := objStore.EnsureBucket(ctx); err != nil {
			cfg.Logger.Fatalf("minio ensure bucket error: %v", err)
		}
		batcher := archive.NewBatcher(cfg.ArchiveMaxRecords, cfg.ArchiveMaxBytes, cfg.ArchiveMaxInterval,
			objStore, cfg.ArchiveBasePath, cfg.ArchiveCompression)
		archiveCh = make(chan model.LocationUpdate, 5000)
		go batcher.Run(ctx, archiveCh, cfg.Logger)
	}

	opts := stream.OptionsFromConfig(cfg, tokens)
	if presenceFeed != nil {
		opts.Quarantine = presenceFeed.Quarantine
	}
	mgr := stream.NewManager(opts)

	mgr.OnLocationUpdate(func(ev model.LocationUpdate) {
		at := time.Now()
		store.ApplyLocationUpdate(ev)
		syncer.Sync(store.All())
		if presenceFeed != nil {
			presenceFeed.PublishLocation(ev, at)
		}
		if historyCh != nil {
			select {
			case historyCh <- timedUpdate{ev: ev, at: at}:
			default:
			}
		}
		if archiveCh != nil {
			select {
			case archiveCh <- ev:
			default:
			}
		}
	})
	mgr.OnStatusUpdate(func(ev model.StatusUpdate) {
		store.ApplyStatusUpdate(ev)
		syncer.Sync(store.All())
		if presenceFeed != nil {
			presenceFeed.PublishStatus(ev, time.Now())
		}
	})
	mgr.OnConnectionChange(func(connected bool) {
		hub.PushHealth(mgr.Health())
	})

	if err := loader.LoadSnapshot(ctx); err != nil {
		// Not fatal: the stream plus the fallback poll will fill the view.
		cfg.Logger.Printf("[boot] initial snapshot failed: %v", err)
	}
	syncer.Sync(store.All())

	mgr.Connect()
	defer mgr.Disconnect()

	go loader.RunFallbackPoll(ctx, cfg.FallbackPoll, mgr.IsConnected)

	server := webmap.NewServer(hub, store, loader, mgr, syncer, api, scope, cfg.StaleThreshold, cfg.Logger)
	if err := server.Run(ctx, cfg.ListenAddr); err != nil {
		cfg.Logger.Fatalf("server error: %v", err)
	}
	cfg.Logger.Println("tracker stopped")
}
