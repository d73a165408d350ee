package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/knoguchi/docsearch/internal/llm"
)

// promptTextLimit bounds each document's share of the scoring prompt.
const promptTextLimit = 500

// LLMReranker uses an LLM to re-score query-document pairs.
// The model sees query and document together, like a cross-encoder.
type LLMReranker struct {
	llmClient llm.LLM
	model     string
}

// LLMRerankerOption is a functional option for configuring LLMReranker.
type LLMRerankerOption func(*LLMReranker)

// WithModel sets the model to use for reranking.
func WithModel(model string) LLMRerankerOption {
	return func(r *LLMReranker) {
		r.model = model
	}
}

// NewLLMReranker creates a new LLM-based reranker.
func NewLLMReranker(llmClient llm.LLM, opts ...LLMRerankerOption) *LLMReranker {
	r := &LLMReranker{
		llmClient: llmClient,
		model:     llm.DefaultModel,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

type relevanceScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float64 `json:"score"`
}

type llmScores struct {
	Scores []relevanceScore `json:"scores"`
}

// Rerank asks the LLM for a relevance score per document. Request.Model names
// a hosted reranking model and is ignored; the LLM model is set at construction.
func (r *LLMReranker) Rerank(ctx context.Context, req Request) ([]Result, error) {
	if len(req.Documents) == 0 {
		return nil, nil
	}

	response, err := r.llmClient.Generate(ctx, buildRerankPrompt(req.Query, req.Documents), llm.GenerateOptions{
		Model:       r.model,
		Temperature: 0.0,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM reranking failed: %w", err)
	}

	scores, err := parseScores(response, len(req.Documents))
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(req.Documents))
	for i, doc := range req.Documents {
		results[i] = Result{ID: doc.ID, Score: scores[i], Document: doc}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if req.TopN > 0 && len(results) > req.TopN {
		results = results[:req.TopN]
	}
	return results, nil
}

func buildRerankPrompt(query string, docs []Document) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system. Score each document's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\nDocuments to score:\n")
	for i, doc := range docs {
		text := doc.Text
		if r := []rune(text); len(r) > promptTextLimit {
			text = string(r[:promptTextLimit]) + "..."
		}
		fmt.Fprintf(&sb, "[Doc %d]: %s\n\n", i, text)
	}

	sb.WriteString(`Score each document from 0.0 to 1.0 based on relevance to the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}, ...]}

Be strict: irrelevant documents should score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7.
Output only JSON, no explanation:`)

	return sb.String()
}

// parseScores extracts per-document scores, tolerating markdown code fences.
// Documents the model skipped get 0.5.
func parseScores(response string, n int) ([]float64, error) {
	response = strings.TrimSpace(response)
	for _, fence := range []string{"```json", "```"} {
		if idx := strings.Index(response, fence); idx != -1 {
			start := idx + len(fence)
			if end := strings.Index(response[start:], "```"); end != -1 {
				response = response[start : start+end]
			}
			break
		}
	}

	var parsed llmScores
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse rerank response: %w", err)
	}

	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 0.5
	}
	for _, s := range parsed.Scores {
		if s.DocIndex < 0 || s.DocIndex >= n {
			continue
		}
		scores[s.DocIndex] = min(max(s.Score, 0), 1)
	}
	return scores, nil
}

var _ Reranker = (*LLMReranker)(nil)
