// Package worker provides the HTTP service wrapping the decision
// pipeline: article ingest, issue queries, and the live event stream.
package worker

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/thebtf/issuestream/internal/config"
	"github.com/thebtf/issuestream/internal/db/pg"
	"github.com/thebtf/issuestream/internal/worker/sse"
	"github.com/thebtf/issuestream/pkg/models"
)

// Processor is the decision pipeline surface the service drives.
type Processor interface {
	Process(ctx context.Context, item models.CrawlItem) (*models.Decision, error)
	Run(ctx context.Context, batch int) (int, error)
}

// FeedRunner triggers one feed fetch-and-process cycle on demand.
type FeedRunner interface {
	Tick(ctx context.Context) IngestSummary
}

// Queries is the read-side store surface the API serves from.
type Queries interface {
	GetIssue(ctx context.Context, id int64) (*models.Issue, error)
	ListIssues(ctx context.Context, limit, offset int) ([]models.Issue, error)
	IssueArticles(ctx context.Context, issueID int64) ([]models.Article, error)
	GetStats(ctx context.Context) (*pg.Stats, error)
}

// Service is the issuestream HTTP worker.
type Service struct {
	version   string
	cfg       config.Config
	processor Processor
	queries   Queries
	events    *sse.Broadcaster
	feeds     FeedRunner
	router    chi.Router
	log       zerolog.Logger

	srv       *http.Server
	ready     atomic.Bool
	startTime time.Time
}

// NewService wires the HTTP layer around the pipeline and store.
func NewService(version string, cfg config.Config, processor Processor, queries Queries, log zerolog.Logger) *Service {
	s := &Service{
		version:   version,
		cfg:       cfg,
		processor: processor,
		queries:   queries,
		events:    sse.NewBroadcaster(log),
		router:    chi.NewRouter(),
		log:       log.With().Str("component", "worker").Logger(),
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/articles", s.handleIngest)
		r.Post("/backlog/run", s.handleBacklogRun)
		r.Post("/feeds/run", s.handleFeedsRun)
		r.Get("/issues", s.handleListIssues)
		r.Get("/issues/{id}", s.handleGetIssue)
		r.Get("/stats", s.handleStats)
		r.Get("/events", s.events.Handle)
	})
}

// Start begins serving and marks the service ready.
func (s *Service) Start() error {
	s.srv = &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.ready.Store(true)
	s.log.Info().Str("addr", s.cfg.Server.ListenAddr).Str("version", s.version).Msg("listening")

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting work and drains in-flight requests.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// SetFeedRunner installs the on-demand feed trigger once the ingest
// loop has been constructed.
func (s *Service) SetFeedRunner(f FeedRunner) {
	s.feeds = f
}

// Events exposes the broadcaster for the ingest loop.
func (s *Service) Events() *sse.Broadcaster {
	return s.events
}

// Router exposes the handler tree for tests.
func (s *Service) Router() http.Handler {
	return s.router
}
