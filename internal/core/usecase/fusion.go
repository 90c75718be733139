package usecase

import (
	"log/slog"

	"github.com/rialtolabs/ragcore/internal/core/domain"
)

// Fuse merges the two retrieval lists under the configured budgets. Lexical
// hits go first: exact keyword matches are usually the correct answer, and
// the dedup pass then keeps them over their dense twins. An empty source is
// logged, never fatal; the other source is always kept.
func Fuse(dense, lexical []domain.Chunk, topFaiss, topBM25 int, logger *slog.Logger) []domain.Chunk {
	if len(dense) == 0 || len(lexical) == 0 {
		logger.Warn("fusion_imbalance", "dense", len(dense), "lexical", len(lexical))
	}

	if topBM25 > 0 && len(lexical) > topBM25 {
		lexical = lexical[:topBM25]
	}
	if topFaiss > 0 && len(dense) > topFaiss {
		dense = dense[:topFaiss]
	}

	seen := make(map[string]struct{}, len(lexical)+len(dense))
	out := make([]domain.Chunk, 0, len(lexical)+len(dense))
	for _, c := range append(append([]domain.Chunk{}, lexical...), dense...) {
		key := c.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}

	logger.Info("fusion_done", "lexical", len(lexical), "dense", len(dense), "unique", len(out))
	return out
}
