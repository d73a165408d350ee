package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultHostedURL is the Pinecone inference API.
	DefaultHostedURL = "https://api.pinecone.io"

	apiVersion = "2025-04"
)

// StatusError is a non-2xx response from the rerank API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rerank API error (status %d): %s", e.StatusCode, e.Body)
}

// HTTPStatus lets retry policies classify the error.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// HTTPReranker calls a hosted rerank endpoint (POST {baseURL}/rerank).
type HTTPReranker struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// HTTPOption is a functional option for configuring HTTPReranker.
type HTTPOption func(*HTTPReranker)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) HTTPOption {
	return func(r *HTTPReranker) {
		r.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(r *HTTPReranker) {
		r.httpClient = c
	}
}

// NewHTTPReranker creates a hosted reranker client.
func NewHTTPReranker(apiKey string, opts ...HTTPOption) *HTTPReranker {
	r := &HTTPReranker{
		baseURL:    DefaultHostedURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type hostedRequest struct {
	Model           string     `json:"model"`
	Query           string     `json:"query"`
	Documents       []Document `json:"documents"`
	TopN            int        `json:"top_n"`
	ReturnDocuments bool       `json:"return_documents"`
	RankFields      []string   `json:"rank_fields"`
}

type hostedResponse struct {
	Data []struct {
		Index    int       `json:"index"`
		Score    float64   `json:"score"`
		Document *Document `json:"document,omitempty"`
	} `json:"data"`
}

// Rerank sends req and maps results back to document IDs by position.
func (r *HTTPReranker) Rerank(ctx context.Context, req Request) ([]Result, error) {
	if len(req.Documents) == 0 {
		return nil, nil
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	body, err := json.Marshal(hostedRequest{
		Model:           model,
		Query:           req.Query,
		Documents:       req.Documents,
		TopN:            req.TopN,
		ReturnDocuments: true,
		RankFields:      []string{"text"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Api-Key", r.apiKey)
	httpReq.Header.Set("X-Pinecone-API-Version", apiVersion)

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(msg)}
	}

	var out hostedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	results := make([]Result, 0, len(out.Data))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(req.Documents) {
			continue
		}
		doc := req.Documents[d.Index]
		if d.Document != nil && d.Document.ID != "" {
			doc.ID = d.Document.ID
		}
		results = append(results, Result{ID: doc.ID, Score: d.Score, Document: doc})
	}
	return results, nil
}

var _ Reranker = (*HTTPReranker)(nil)
