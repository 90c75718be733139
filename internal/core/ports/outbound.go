package ports

import (
	"context"

	"github.com/rialtolabs/ragcore/internal/core/domain"
)

// Embedder builds vectors for chunk texts and query text with the same
// normalization policy used at indexing time.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Generator is the language model used for answering, rewriting and
// classification fallback.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// RelevanceScorer scores (query, chunk text) pairs independently per shard.
// Used to narrow dense hits before fusion.
type RelevanceScorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// CrossEncoder scores (query, candidate text) pairs jointly for the final
// rerank.
type CrossEncoder interface {
	ScorePairs(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Span is one extracted answer span proposal.
type Span struct {
	Text  string
	Score float64
}

// SpanExtractor proposes short literal answer spans for one context window.
type SpanExtractor interface {
	ExtractSpans(ctx context.Context, question, window string, topK int) ([]Span, error)
}

// DenseRetriever runs the sharded nearest-neighbor search.
type DenseRetriever interface {
	Search(ctx context.Context, query string) ([]domain.Chunk, error)
}

// LexicalRetriever runs the sharded two-pass lexical search.
type LexicalRetriever interface {
	Search(ctx context.Context, query string) ([]domain.Chunk, error)
}

// SessionStore persists per-conversation turn history. Concurrent turns for
// the same session require external serialization.
type SessionStore interface {
	Append(ctx context.Context, sessionID string, turn domain.Turn) error
	History(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
	Reset(ctx context.Context, sessionID string) error
}

// TelemetryPublisher emits the per-turn routing event. Failures are logged by
// callers, never fatal to the turn.
type TelemetryPublisher interface {
	PublishTurn(ctx context.Context, sessionID string, metrics domain.TurnMetrics) error
}
