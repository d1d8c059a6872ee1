// Package embed provides the dense-vector embedder used by the decision
// pipeline: an HTTP client for the embedding service, token-budget
// truncation, and an optional Redis cache layer.
package embed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// HTTPEmbedder calls a sentence-embedding service over HTTP.
type HTTPEmbedder struct {
	endpoint string
	model    string
	client   *http.Client
	truncate *Truncator
}

// HTTPConfig holds embedder client configuration.
type HTTPConfig struct {
	Endpoint  string        // URL the embed request is POSTed to
	Model     string        // Model name passed through to the service
	Timeout   time.Duration // Per-request timeout (default: 10s)
	MaxTokens int           // Token budget per text; 0 disables truncation
}

// NewHTTPEmbedder builds the client. A nonzero MaxTokens attaches the
// tokenizer so oversized articles are clipped before the request.
func NewHTTPEmbedder(cfg HTTPConfig) (*HTTPEmbedder, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	e := &HTTPEmbedder{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		client:   &http.Client{Timeout: timeout},
	}
	if cfg.MaxTokens > 0 {
		t, err := NewTruncator(cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("init truncator: %w", err)
		}
		e.truncate = t
	}
	return e, nil
}

type embedRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the dense vector for text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.truncate != nil {
		clipped, err := e.truncate.Clip(text)
		if err != nil {
			return nil, fmt.Errorf("truncate text: %w", err)
		}
		text = clipped
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedder: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedder returned %d: %s", resp.StatusCode, snippet)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return out.Embedding, nil
}
