package reranker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/docsearch/internal/llm"
	"github.com/knoguchi/docsearch/internal/ratelimit"
)

func docs(ids ...string) []Document {
	out := make([]Document, len(ids))
	for i, id := range ids {
		out[i] = Document{ID: id, Text: "text of " + id}
	}
	return out
}

func TestHTTPReranker_Rerank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("Api-Key"))

		var req hostedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req.Model)
		assert.Equal(t, "q", req.Query)
		assert.Equal(t, 2, req.TopN)
		assert.True(t, req.ReturnDocuments)
		assert.Equal(t, []string{"text"}, req.RankFields)
		require.Len(t, req.Documents, 3)

		_, _ = w.Write([]byte(`{"data":[
			{"index":2,"score":0.9,"document":{"id":"c","text":"text of c"}},
			{"index":0,"score":0.4},
			{"index":7,"score":0.1}
		]}`))
	}))
	defer srv.Close()

	r := NewHTTPReranker("secret", WithBaseURL(srv.URL+"/"))
	results, err := r.Rerank(context.Background(), Request{Query: "q", Documents: docs("a", "b", "c"), TopN: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c", results[0].ID)
	assert.InDelta(t, 0.9, results[0].Score, 1e-9)
	assert.Equal(t, "a", results[1].ID)
	assert.Equal(t, "text of a", results[1].Document.Text)
}

func TestHTTPReranker_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := NewHTTPReranker("k", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	_, err := r.Rerank(context.Background(), Request{Query: "q", Documents: docs("a")})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.True(t, ratelimit.IsTransient(err))
}

func TestHTTPReranker_EmptyMakesNoCall(t *testing.T) {
	r := NewHTTPReranker("k", WithBaseURL("http://127.0.0.1:0"))
	results, err := r.Rerank(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNoop(t *testing.T) {
	results, err := Noop{}.Rerank(context.Background(), Request{Documents: docs("a", "b", "c"), TopN: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "b", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

type stubLLM struct {
	response string
	err      error
	prompt   string
}

func (s *stubLLM) Generate(_ context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
	s.prompt = prompt
	return s.response, s.err
}

func TestLLMReranker(t *testing.T) {
	stub := &stubLLM{response: "```json\n{\"scores\": [{\"doc_index\": 0, \"score\": 0.2}, {\"doc_index\": 1, \"score\": 1.7}]}\n```"}
	r := NewLLMReranker(stub, WithModel("tiny"))

	results, err := r.Rerank(context.Background(), Request{Query: "what is b", Documents: docs("a", "b", "c"), TopN: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ID)
	assert.Equal(t, 1.0, results[0].Score, "scores are clamped")
	assert.Equal(t, "c", results[1].ID, "unscored documents default to 0.5")
	assert.Contains(t, stub.prompt, "Query: what is b")
}

func TestLLMReranker_Errors(t *testing.T) {
	_, err := NewLLMReranker(&stubLLM{response: "not json"}).Rerank(context.Background(), Request{Documents: docs("a")})
	assert.ErrorContains(t, err, "failed to parse rerank response")

	cause := errors.New("down")
	_, err = NewLLMReranker(&stubLLM{err: cause}).Rerank(context.Background(), Request{Documents: docs("a")})
	assert.ErrorIs(t, err, cause)
}
