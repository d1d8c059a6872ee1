// Package feed fetches configured RSS endpoints and normalizes their
// entries into crawl items for the decision pipeline.
package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/issuestream/pkg/models"
)

// fetchConcurrency bounds parallel feed downloads.
const fetchConcurrency = 4

// Fetcher downloads and parses RSS feeds.
type Fetcher struct {
	client *http.Client
	log    zerolog.Logger
}

// NewFetcher wires an HTTP client; a nil client gets a 20s timeout.
func NewFetcher(client *http.Client, log zerolog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Fetcher{
		client: client,
		log:    log.With().Str("component", "feed").Logger(),
	}
}

type rssDocument struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// FetchAll downloads every source concurrently and returns the combined
// item list. A failing source is logged and skipped so one dead feed
// never starves the rest.
func (f *Fetcher) FetchAll(ctx context.Context, sources []models.Source) []models.CrawlItem {
	results := make([][]models.CrawlItem, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, src := range sources {
		g.Go(func() error {
			items, err := f.Fetch(ctx, src)
			if err != nil {
				f.log.Warn().Err(err).Str("source", src.Name()).Msg("feed fetch failed; skipping")
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var out []models.CrawlItem
	for _, items := range results {
		out = append(out, items...)
	}
	return out
}

// Fetch downloads one source and returns its usable entries.
func (f *Fetcher) Fetch(ctx context.Context, src models.Source) ([]models.CrawlItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "issuestream/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	var doc rssDocument
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]models.CrawlItem, 0, len(doc.Channel.Items))
	for _, entry := range doc.Channel.Items {
		item, ok := f.normalize(entry, src)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// normalize converts one raw entry, dropping video links, entries
// without a parseable date, and entries with an empty title.
func (f *Fetcher) normalize(entry rssItem, src models.Source) (models.CrawlItem, bool) {
	title := strings.TrimSpace(entry.Title)
	if title == "" {
		return models.CrawlItem{}, false
	}
	if isVideoLink(entry.Link) {
		return models.CrawlItem{}, false
	}
	published, err := parsePubDate(entry.PubDate)
	if err != nil {
		f.log.Debug().Str("source", src.Name()).Str("title", title).Msg("unparseable pubDate; skipping entry")
		return models.CrawlItem{}, false
	}
	return models.CrawlItem{
		Title:       title,
		Content:     stripHTML(entry.Description),
		Source:      src,
		URL:         strings.TrimSpace(entry.Link),
		PublishedAt: published,
	}, true
}

var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

func parsePubDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty pubDate")
	}
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized pubDate %q", raw)
}

func isVideoLink(link string) bool {
	link = strings.ToLower(link)
	return strings.Contains(link, "/video/") ||
		strings.Contains(link, "youtube.com") ||
		strings.Contains(link, "youtu.be")
}

// stripHTML flattens feed descriptions that arrive as HTML fragments.
func stripHTML(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.Contains(raw, "<") {
		return raw
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return raw
	}
	return strings.TrimSpace(doc.Text())
}
