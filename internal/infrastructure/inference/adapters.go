package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rialtolabs/ragcore/internal/core/domain"
	"github.com/rialtolabs/ragcore/internal/core/ports"
)

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := e.client.execute(ctx, "embed", func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrInference, "embed", err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, domain.WrapError(domain.ErrInference, "embed",
			fmt.Errorf("got %d embeddings for %d texts", len(response.Embeddings), len(texts)))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, domain.WrapError(domain.ErrInference, "embed query",
			fmt.Errorf("empty embedding result"))
	}
	return vectors[0], nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) GenerateText(ctx context.Context, prompt string) (string, error) {
	return g.generate(ctx, map[string]any{
		"model":  g.client.genModel,
		"prompt": prompt,
		"stream": false,
	})
}

func (g *Generator) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	return g.generate(ctx, map[string]any{
		"model":  g.client.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	})
}

func (g *Generator) generate(ctx context.Context, request map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	err := g.client.execute(ctx, "generate", func(ctx context.Context) error {
		return g.client.postJSON(ctx, "/api/generate", request, &response, "generate")
	})
	if err != nil {
		return "", domain.WrapError(domain.ErrInference, "generate", err)
	}
	return strings.TrimSpace(response.Response), nil
}

// Reranker scores (query, text) pairs with a dedicated scoring model. One
// instance with the per-shard filter model serves as the relevance scorer,
// another with the heavier model as the final cross-encoder.
type Reranker struct {
	client    *Client
	model     string
	operation string
}

func NewReranker(client *Client, model, operation string) *Reranker {
	return &Reranker{client: client, model: model, operation: operation}
}

func (r *Reranker) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	return r.scorePairs(ctx, query, texts)
}

func (r *Reranker) ScorePairs(ctx context.Context, query string, texts []string) ([]float64, error) {
	return r.scorePairs(ctx, query, texts)
}

func (r *Reranker) scorePairs(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model":     r.model,
		"query":     query,
		"documents": texts,
	}

	var response struct {
		Scores []float64 `json:"scores"`
	}
	err := r.client.execute(ctx, r.operation, func(ctx context.Context) error {
		return r.client.postJSON(ctx, "/api/rerank", request, &response, r.operation)
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrInference, r.operation, err)
	}
	if len(response.Scores) != len(texts) {
		return nil, domain.WrapError(domain.ErrInference, r.operation,
			fmt.Errorf("got %d scores for %d texts", len(response.Scores), len(texts)))
	}
	return response.Scores, nil
}

// SpanExtractor asks the generation model for literal answer spans inside one
// context window. Responses must quote the window verbatim; anything else is
// discarded.
type SpanExtractor struct {
	client *Client
}

func NewSpanExtractor(client *Client) *SpanExtractor {
	return &SpanExtractor{client: client}
}

const spanPrompt = `You extract literal answer spans.
Question: %s

Text:
%s

Return JSON {"spans":[{"text":"<verbatim quote from the text>","score":<0..1 confidence>}]} with at most %d spans. Quote the text exactly. If no span answers the question, return {"spans":[]}.`

func (s *SpanExtractor) ExtractSpans(ctx context.Context, question, window string, topK int) ([]ports.Span, error) {
	if topK <= 0 {
		topK = 1
	}

	request := map[string]any{
		"model":  s.client.genModel,
		"prompt": fmt.Sprintf(spanPrompt, question, window, topK),
		"stream": false,
		"format": "json",
	}

	var response struct {
		Response string `json:"response"`
	}
	err := s.client.execute(ctx, "extract_spans", func(ctx context.Context) error {
		return s.client.postJSON(ctx, "/api/generate", request, &response, "extract_spans")
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrInference, "extract spans", err)
	}

	var parsed struct {
		Spans []struct {
			Text  string  `json:"text"`
			Score float64 `json:"score"`
		} `json:"spans"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(response.Response)), &parsed); err != nil {
		return nil, domain.WrapError(domain.ErrInference, "parse spans", err)
	}

	spans := make([]ports.Span, 0, len(parsed.Spans))
	for _, sp := range parsed.Spans {
		text := strings.TrimSpace(sp.Text)
		if text == "" || !strings.Contains(window, text) {
			continue
		}
		spans = append(spans, ports.Span{Text: text, Score: sp.Score})
		if len(spans) == topK {
			break
		}
	}
	return spans, nil
}

// extractJSONObject trims model chatter around the first JSON object.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
