// Package main provides the issuestream server entry point.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"

	"github.com/thebtf/issuestream/internal/cluster"
	"github.com/thebtf/issuestream/internal/config"
	"github.com/thebtf/issuestream/internal/db/pg"
	"github.com/thebtf/issuestream/internal/embed"
	"github.com/thebtf/issuestream/internal/feed"
	"github.com/thebtf/issuestream/internal/metrics"
	"github.com/thebtf/issuestream/internal/vector/pgvec"
	"github.com/thebtf/issuestream/internal/watcher"
	"github.com/thebtf/issuestream/internal/worker"
	"github.com/thebtf/issuestream/pkg/models"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to YAML config (default: $ISSUESTREAM_CONFIG)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	setupLogging(cfg.Log, *debug)

	store, err := pg.NewStore(pg.Config{
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open relational store")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	index, err := pgvec.NewStore(ctx, cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open centroid index")
	}
	defer index.Close()

	var embedder cluster.Embedder
	httpEmbedder, err := embed.NewHTTPEmbedder(embed.HTTPConfig{
		Endpoint:  cfg.Embedder.URL,
		Model:     cfg.Embedder.Model,
		Timeout:   cfg.Embedder.Timeout,
		MaxTokens: cfg.Embedder.MaxTokens,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init embedder")
	}
	embedder = httpEmbedder
	if cfg.Cache.Addr != "" {
		cacheLookups, err := metrics.NewEmbedCache()
		if err != nil {
			log.Fatal().Err(err).Msg("register cache metrics")
		}
		cache := embed.NewCache(httpEmbedder, embed.CacheConfig{
			Addr: cfg.Cache.Addr,
			TTL:  cfg.Cache.TTL,
		}, cacheLookups, log.Logger)
		defer cache.Close()
		embedder = cache
	}

	pipelineMetrics, err := metrics.NewPipeline()
	if err != nil {
		log.Fatal().Err(err).Msg("register metrics")
	}

	engine := cluster.NewEngine(embedder, index, store, cluster.Params{
		Alpha:  cfg.Cluster.Alpha,
		Beta:   cfg.Cluster.Beta,
		Lambda: cfg.Cluster.Lambda,
		TBase:  cfg.Cluster.TBase,
		TopK:   cfg.Cluster.TopK,
		Dim:    cfg.Cluster.Dim,
	}, log.Logger,
		cluster.WithMetrics(pipelineMetrics),
		cluster.WithDeadLetter(func(ctx context.Context, art *models.Article, err error) {
			ev := log.Error().Err(err)
			if art != nil {
				ev = ev.Int64("article_id", art.ID).Str("title", art.Title)
			}
			ev.Msg("article dead-lettered")
		}),
	)

	svc := worker.NewService(Version, cfg, engine, store, log.Logger)

	fetcher := feed.NewFetcher(&http.Client{Timeout: 20 * time.Second}, log.Logger)
	loop := worker.NewIngestLoop(svc, fetcher, cfg.Sources())
	if len(cfg.Sources()) > 0 {
		svc.SetFeedRunner(loop)
	}
	go loop.Run(ctx)

	if *configPath != "" {
		w, err := watcher.New(*configPath, func() {
			log.Info().Str("path", *configPath).Msg("config changed; restart to apply")
		})
		if err != nil {
			log.Warn().Err(err).Msg("config watcher unavailable")
		} else if err := w.Start(); err != nil {
			log.Warn().Err(err).Msg("config watcher failed to start")
		} else {
			defer w.Stop()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	if err := svc.Start(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func setupLogging(cfg config.LogConfig, debug bool) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: false})
	}
}
