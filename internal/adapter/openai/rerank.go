package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mnemolabs/palace/internal/port/rerank"
)

// Reranker calls a Cohere/Jina-style /rerank endpoint. The endpoint is not
// part of the OpenAI API proper but is commonly served by the same gateways.
type Reranker struct {
	base   string
	apiKey string
	model  string
	http   *http.Client
	remote *remote
}

// NewReranker creates a rerank adapter for the given endpoint.
func NewReranker(apiBase, apiKey, model string, limits Limits) *Reranker {
	return &Reranker{
		base:   strings.TrimRight(apiBase, "/"),
		apiKey: apiKey,
		model:  model,
		http:   &http.Client{},
		remote: newRemote(limits),
	}
}

// Name identifies the backend for degrade reporting.
func (r *Reranker) Name() string { return "rerank-api" }

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores docs against the query. Scores outside [0, 1] are clamped.
func (r *Reranker) Rerank(ctx context.Context, query string, docs []rerank.Document) ([]rerank.Score, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	body, err := json.Marshal(rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: texts,
		TopN:      len(texts),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	var parsed rerankResponse
	err = r.remote.call(ctx, func(ctx context.Context) error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/rerank", bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		if r.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+r.apiKey)
		}

		resp, callErr := r.http.Do(req)
		if callErr != nil {
			return callErr
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("rerank endpoint returned %d: %s", resp.StatusCode, data)
		}
		return json.NewDecoder(resp.Body).Decode(&parsed)
	})
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	scores := make([]rerank.Score, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(docs) {
			continue
		}
		s := res.RelevanceScore
		if s < 0 {
			s = 0
		} else if s > 1 {
			s = 1
		}
		scores = append(scores, rerank.Score{ID: docs[res.Index].ID, Score: s})
	}
	return scores, nil
}
