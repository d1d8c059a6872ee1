package worker

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/issuestream/internal/cluster"
	"github.com/thebtf/issuestream/internal/config"
	"github.com/thebtf/issuestream/internal/db/pg"
	"github.com/thebtf/issuestream/pkg/models"
)

// fakeProcessor returns canned decisions.
type fakeProcessor struct {
	decision *models.Decision
	err      error
	ran      int
	runErr   error
}

func (f *fakeProcessor) Process(ctx context.Context, item models.CrawlItem) (*models.Decision, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.decision, nil
}

func (f *fakeProcessor) Run(ctx context.Context, batch int) (int, error) {
	return f.ran, f.runErr
}

// fakeQueries serves reads from fixed fixtures.
type fakeQueries struct {
	issues   map[int64]*models.Issue
	articles map[int64][]models.Article
	stats    *pg.Stats
	err      error
}

func (f *fakeQueries) GetIssue(ctx context.Context, id int64) (*models.Issue, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.issues[id], nil
}

func (f *fakeQueries) ListIssues(ctx context.Context, limit, offset int) ([]models.Issue, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Issue
	for _, issue := range f.issues {
		out = append(out, *issue)
	}
	return out, nil
}

func (f *fakeQueries) IssueArticles(ctx context.Context, issueID int64) ([]models.Article, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.articles[issueID], nil
}

func (f *fakeQueries) GetStats(ctx context.Context) (*pg.Stats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

// HandlersSuite is a test suite for the HTTP API.
type HandlersSuite struct {
	suite.Suite
	processor *fakeProcessor
	queries   *fakeQueries
	svc       *Service
}

func (s *HandlersSuite) SetupTest() {
	s.processor = &fakeProcessor{}
	s.queries = &fakeQueries{
		issues:   make(map[int64]*models.Issue),
		articles: make(map[int64][]models.Article),
		stats:    &pg.Stats{},
	}
	s.svc = NewService("test-version", config.Default(), s.processor, s.queries, zerolog.Nop())
	s.svc.ready.Store(true)
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersSuite))
}

func (s *HandlersSuite) request(method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.svc.Router().ServeHTTP(rec, req)
	return rec
}

func (s *HandlersSuite) decode(rec *httptest.ResponseRecorder, out any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), out))
}

func (s *HandlersSuite) TestIngestReturnsDecision() {
	s.processor.decision = &models.Decision{
		ArticleID: 7, IssueID: 3, Action: models.ActionMerged, Score: 0.91,
	}

	rec := s.request(http.MethodPost, "/api/articles", models.CrawlItem{Title: "quake hits coast"})
	s.Equal(http.StatusOK, rec.Code)

	var dec models.Decision
	s.decode(rec, &dec)
	s.Equal(models.ActionMerged, dec.Action)
	s.Equal(int64(3), dec.IssueID)
}

func (s *HandlersSuite) TestIngestRejectsBadPayload() {
	req := httptest.NewRequest(http.MethodPost, "/api/articles", bytes.NewReader([]byte("{broken")))
	rec := httptest.NewRecorder()
	s.svc.Router().ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlersSuite) TestIngestRequiresTitle() {
	rec := s.request(http.MethodPost, "/api/articles", models.CrawlItem{Content: "no title"})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlersSuite) TestIngestErrorStatuses() {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"embedder down", fmt.Errorf("%w: boom", cluster.ErrEmbedder), http.StatusBadGateway},
		{"retrieval down", fmt.Errorf("%w: boom", cluster.ErrRetrieval), http.StatusBadGateway},
		{"conflict", fmt.Errorf("%w: issue 1", cluster.ErrConflict), http.StatusConflict},
		{"deadline", cluster.ErrDeadline, http.StatusGatewayTimeout},
		{"invariant", fmt.Errorf("%w: NaN", cluster.ErrInvariant), http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.processor.err = tt.err
			rec := s.request(http.MethodPost, "/api/articles", models.CrawlItem{Title: "t"})
			s.Equal(tt.want, rec.Code)
		})
	}
}

func (s *HandlersSuite) TestBacklogRun() {
	s.processor.ran = 12

	rec := s.request(http.MethodPost, "/api/backlog/run?batch=50", nil)
	s.Equal(http.StatusOK, rec.Code)

	var resp map[string]any
	s.decode(rec, &resp)
	s.EqualValues(12, resp["processed"])
}

func (s *HandlersSuite) TestBacklogRunRejectsBadBatch() {
	rec := s.request(http.MethodPost, "/api/backlog/run?batch=zero", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlersSuite) TestBacklogRunPartialFailure() {
	s.processor.ran = 4
	s.processor.runErr = fmt.Errorf("%w: issue 9", cluster.ErrConflict)

	rec := s.request(http.MethodPost, "/api/backlog/run", nil)
	s.Equal(http.StatusConflict, rec.Code)

	var resp map[string]any
	s.decode(rec, &resp)
	s.EqualValues(4, resp["processed"])
}

type fakeFeedRunner struct {
	summary IngestSummary
}

func (f *fakeFeedRunner) Tick(ctx context.Context) IngestSummary {
	return f.summary
}

func (s *HandlersSuite) TestFeedsRun() {
	s.svc.SetFeedRunner(&fakeFeedRunner{summary: IngestSummary{Fetched: 5, Merged: 2, Created: 3}})

	rec := s.request(http.MethodPost, "/api/feeds/run", nil)
	s.Equal(http.StatusOK, rec.Code)

	var sum IngestSummary
	s.decode(rec, &sum)
	s.Equal(5, sum.Fetched)
	s.Equal(2, sum.Merged)
	s.Equal(3, sum.Created)
}

func (s *HandlersSuite) TestFeedsRunWithoutSources() {
	rec := s.request(http.MethodPost, "/api/feeds/run", nil)
	s.Equal(http.StatusServiceUnavailable, rec.Code)
}

func (s *HandlersSuite) TestGetIssueWithArticles() {
	s.queries.issues[3] = &models.Issue{ID: 3, Title: "quake", ArticleCount: 2}
	s.queries.articles[3] = []models.Article{{ID: 1, IssueID: 3}, {ID: 2, IssueID: 3}}

	rec := s.request(http.MethodGet, "/api/issues/3", nil)
	s.Equal(http.StatusOK, rec.Code)

	var resp struct {
		Issue    models.Issue     `json:"issue"`
		Articles []models.Article `json:"articles"`
	}
	s.decode(rec, &resp)
	s.Equal(int64(3), resp.Issue.ID)
	s.Len(resp.Articles, 2)
}

func (s *HandlersSuite) TestGetIssueNotFound() {
	rec := s.request(http.MethodGet, "/api/issues/99", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlersSuite) TestGetIssueBadID() {
	rec := s.request(http.MethodGet, "/api/issues/abc", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlersSuite) TestListIssues() {
	s.queries.issues[1] = &models.Issue{ID: 1}
	s.queries.issues[2] = &models.Issue{ID: 2}

	rec := s.request(http.MethodGet, "/api/issues", nil)
	s.Equal(http.StatusOK, rec.Code)

	var resp struct {
		Issues []models.Issue `json:"issues"`
	}
	s.decode(rec, &resp)
	s.Len(resp.Issues, 2)
}

func (s *HandlersSuite) TestStats() {
	s.queries.stats = &pg.Stats{Issues: 4, Articles: 20, Unassigned: 3}

	rec := s.request(http.MethodGet, "/api/stats", nil)
	s.Equal(http.StatusOK, rec.Code)

	var stats pg.Stats
	s.decode(rec, &stats)
	s.Equal(int64(4), stats.Issues)
	s.Equal(int64(3), stats.Unassigned)
}

func (s *HandlersSuite) TestHealth() {
	rec := s.request(http.MethodGet, "/healthz", nil)
	s.Equal(http.StatusOK, rec.Code)

	var resp map[string]any
	s.decode(rec, &resp)
	s.Equal("test-version", resp["version"])
}

func (s *HandlersSuite) TestReadiness() {
	rec := s.request(http.MethodGet, "/readyz", nil)
	s.Equal(http.StatusOK, rec.Code)

	s.svc.ready.Store(false)
	rec = s.request(http.MethodGet, "/readyz", nil)
	s.Equal(http.StatusServiceUnavailable, rec.Code)
}
