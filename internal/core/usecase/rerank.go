package usecase

import (
	"context"
	"log/slog"
	"sort"

	"github.com/rialtolabs/ragcore/internal/core/domain"
	"github.com/rialtolabs/ragcore/internal/core/ports"
)

// Reranker scores every (query, candidate) pair with the cross-encoder and
// keeps the topK best. Scoring failure returns the original unsorted input:
// reranking is never a hard dependency for answering.
type Reranker struct {
	encoder ports.CrossEncoder
	topK    int
	logger  *slog.Logger
}

func NewReranker(encoder ports.CrossEncoder, topK int, logger *slog.Logger) *Reranker {
	return &Reranker{encoder: encoder, topK: topK, logger: logger}
}

func (r *Reranker) Rerank(ctx context.Context, query string, set domain.CandidateSet) (domain.CandidateSet, bool) {
	if set.Len() == 0 {
		return set, true
	}

	chunks := set.Chunks()
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	scores, err := r.encoder.ScorePairs(ctx, query, texts)
	if err != nil || len(scores) != len(chunks) {
		r.logger.Warn("rerank_degraded", "error", err, "candidates", len(chunks))
		return set, false
	}

	for i := range chunks {
		chunks[i].Scores.RerankScore = scores[i]
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Scores.RerankScore > chunks[j].Scores.RerankScore
	})
	if r.topK > 0 && len(chunks) > r.topK {
		chunks = chunks[:r.topK]
	}

	r.logger.Info("rerank_done", "in", set.Len(), "out", len(chunks))
	return domain.NewCandidateSet(chunks), true
}
