package worker

import (
	"context"
	"time"

	"github.com/thebtf/issuestream/internal/cluster"
	"github.com/thebtf/issuestream/internal/feed"
	"github.com/thebtf/issuestream/pkg/models"
)

// IngestLoop periodically pulls every configured feed and runs the new
// articles through the decision pipeline. Recoverable per-article
// failures are logged and skipped; an invariant violation skips only the
// poisoned article, since the engine has already dead-lettered it.
type IngestLoop struct {
	service *Service
	fetcher *feed.Fetcher
	sources []models.Source
	every   time.Duration
}

// NewIngestLoop builds the loop from the service configuration.
func NewIngestLoop(s *Service, fetcher *feed.Fetcher, sources []models.Source) *IngestLoop {
	return &IngestLoop{
		service: s,
		fetcher: fetcher,
		sources: sources,
		every:   s.cfg.Server.FetchEvery,
	}
}

// IngestSummary counts the outcomes of one fetch-and-process cycle.
type IngestSummary struct {
	Fetched   int `json:"fetched"`
	Merged    int `json:"merged"`
	Created   int `json:"created"`
	Duplicate int `json:"duplicate"`
	Failed    int `json:"failed"`
}

// Run fetches immediately, then on every tick, until ctx is cancelled.
func (l *IngestLoop) Run(ctx context.Context) {
	if len(l.sources) == 0 {
		l.service.log.Info().Msg("no feeds configured; ingest loop idle")
		<-ctx.Done()
		return
	}

	l.Tick(ctx)

	ticker := time.NewTicker(l.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick runs one fetch-and-process cycle across all configured sources.
func (l *IngestLoop) Tick(ctx context.Context) IngestSummary {
	items := l.fetcher.FetchAll(ctx, l.sources)
	sum := IngestSummary{Fetched: len(items)}
	if len(items) == 0 {
		return sum
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return sum
		}
		dec, err := l.service.processor.Process(ctx, item)
		if err != nil {
			sum.Failed++
			l.service.log.Warn().Err(err).
				Str("title", item.Title).
				Bool("recoverable", cluster.Recoverable(err)).
				Msg("article skipped")
			continue
		}
		switch dec.Action {
		case models.ActionMerged:
			sum.Merged++
		case models.ActionCreated:
			sum.Created++
		case models.ActionDuplicate:
			sum.Duplicate++
		}
		l.service.events.Broadcast("decision", dec)
	}

	l.service.log.Info().
		Int("fetched", sum.Fetched).
		Int("merged", sum.Merged).
		Int("created", sum.Created).
		Int("duplicate", sum.Duplicate).
		Int("failed", sum.Failed).
		Msg("ingest tick complete")
	return sum
}
