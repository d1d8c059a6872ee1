// Package metrics exposes the pipeline's OpenTelemetry instruments. The
// default global meter provider is a no-op, so production binaries can
// plug in an exporter without any change here.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Pipeline aggregates the instruments the decision core reports to.
type Pipeline struct {
	decisions  metric.Int64Counter
	conflicts  metric.Int64Counter
	deadLetter metric.Int64Counter
	latency    metric.Float64Histogram
}

// NewPipeline registers the pipeline instruments on the global meter.
func NewPipeline() (*Pipeline, error) {
	meter := otel.Meter("issuestream/cluster")

	decisions, err := meter.Int64Counter("issuestream.decisions",
		metric.WithDescription("Merge/create/duplicate decisions by action"))
	if err != nil {
		return nil, err
	}
	conflicts, err := meter.Int64Counter("issuestream.centroid_conflicts",
		metric.WithDescription("Merges whose optimistic centroid update exhausted its attempts"))
	if err != nil {
		return nil, err
	}
	deadLetter, err := meter.Int64Counter("issuestream.dead_letters",
		metric.WithDescription("Articles routed to the dead-letter hook"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("issuestream.decision_seconds",
		metric.WithDescription("End-to-end decision latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		decisions:  decisions,
		conflicts:  conflicts,
		deadLetter: deadLetter,
		latency:    latency,
	}, nil
}

// EmbedCache counts hits and misses on the embedding memoization layer.
type EmbedCache struct {
	lookups metric.Int64Counter
}

// NewEmbedCache registers the cache instrument on the global meter.
func NewEmbedCache() (*EmbedCache, error) {
	meter := otel.Meter("issuestream/embed")

	lookups, err := meter.Int64Counter("issuestream.embed_cache_lookups",
		metric.WithDescription("Embedding cache lookups by result"))
	if err != nil {
		return nil, err
	}
	return &EmbedCache{lookups: lookups}, nil
}

// Lookup records one cache probe.
func (c *EmbedCache) Lookup(ctx context.Context, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Decision records one pipeline outcome and its latency.
func (p *Pipeline) Decision(ctx context.Context, action string, elapsed time.Duration) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("action", action))
	p.decisions.Add(ctx, 1, attrs)
	p.latency.Record(ctx, elapsed.Seconds(), attrs)
}

// Conflict records one merge that surfaced a persistence conflict after
// every optimistic centroid update attempt failed.
func (p *Pipeline) Conflict(ctx context.Context) {
	if p == nil {
		return
	}
	p.conflicts.Add(ctx, 1)
}

// DeadLetter records one article handed to the dead-letter hook.
func (p *Pipeline) DeadLetter(ctx context.Context, reason string) {
	if p == nil {
		return
	}
	p.deadLetter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
