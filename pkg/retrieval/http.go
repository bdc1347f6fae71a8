package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/entrhq/cadforge/pkg/types"
)

// HTTPIndex queries a remote retrieval service.
//
// Request:  POST <endpoint> {"query": "...", "k": 40}
// Response: {"chunks": [{"text": "...", "source": "...", "score": 0.8}]}
type HTTPIndex struct {
	client   *http.Client
	endpoint string
}

// NewHTTPIndex creates a client for the given endpoint. A zero timeout
// leaves the request bounded only by the caller's context.
func NewHTTPIndex(endpoint string, timeout time.Duration) *HTTPIndex {
	return &HTTPIndex{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
	}
}

type httpQuery struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type httpResult struct {
	Chunks []types.ContextChunk `json:"chunks"`
}

// Retrieve sends the query to the remote index.
func (h *HTTPIndex) Retrieve(ctx context.Context, query string, k int) ([]types.ContextChunk, error) {
	body, err := json.Marshal(httpQuery{Query: query, K: k})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result httpResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode retrieval response: %w", err)
	}

	return truncate(result.Chunks, k), nil
}
