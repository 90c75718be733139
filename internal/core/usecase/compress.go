package usecase

import (
	"context"
	"log/slog"
	"math"

	"github.com/rialtolabs/ragcore/internal/config"
	"github.com/rialtolabs/ragcore/internal/core/domain"
	"github.com/rialtolabs/ragcore/internal/core/ports"
)

// Compressor trims the candidate set to top_k with maximal marginal
// relevance. Larger lambda favors diversity over relevance. Small contexts
// are returned untouched: compression below max_chars_to_comp costs an
// embedding round-trip for no token savings.
type Compressor struct {
	cfg      config.CompressionConfig
	embedder ports.Embedder
	logger   *slog.Logger
}

func NewCompressor(cfg config.CompressionConfig, embedder ports.Embedder, logger *slog.Logger) *Compressor {
	return &Compressor{cfg: cfg, embedder: embedder, logger: logger}
}

func (c *Compressor) Compress(ctx context.Context, query string, set domain.CandidateSet) domain.CandidateSet {
	if !c.cfg.Enabled {
		return set
	}
	if set.Len() == 0 || set.Len() <= c.cfg.TopK {
		c.logger.Info("compression_skipped", "reason", "small candidate set", "count", set.Len())
		return set
	}
	if len(query) == 0 || domain.NormalizeText(query) == "" {
		c.logger.Warn("compression_skipped", "reason", "empty query")
		return set
	}
	if set.TotalChars() < c.cfg.MaxCharsToComp {
		c.logger.Info("compression_skipped", "reason", "small context", "chars", set.TotalChars())
		return set
	}

	chunks := set.Chunks()
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	queryEmb, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		c.logger.Warn("compression_degraded", "error", err)
		return set
	}
	docEmbs, err := c.embedder.Embed(ctx, texts)
	if err != nil || len(docEmbs) != len(chunks) {
		c.logger.Warn("compression_degraded", "error", err)
		return set
	}

	selected := mmrSelect(queryEmb, docEmbs, c.cfg.TopK, c.cfg.MMRLambda)
	out := make([]domain.Chunk, len(selected))
	for i, idx := range selected {
		out[i] = chunks[idx]
	}
	c.logger.Info("compression_done", "in", len(chunks), "out", len(out), "lambda", c.cfg.MMRLambda)
	return domain.NewCandidateSet(out)
}

// mmrSelect picks topK indices maximizing
// (1-lambda)*relevance - lambda*maxSimilarityToSelected, ties broken by
// first-seen order.
func mmrSelect(queryEmb []float32, docEmbs [][]float32, topK int, lambda float64) []int {
	n := len(docEmbs)
	if topK > n {
		topK = n
	}

	relevance := make([]float64, n)
	for i, emb := range docEmbs {
		relevance[i] = cosine(queryEmb, emb)
	}

	selected := make([]int, 0, topK)
	remaining := make([]int, n)
	for i := range remaining {
		remaining[i] = i
	}

	for len(selected) < topK {
		bestPos := -1
		bestScore := math.Inf(-1)
		for pos, idx := range remaining {
			score := relevance[idx]
			if len(selected) > 0 {
				maxSim := math.Inf(-1)
				for _, sel := range selected {
					if sim := cosine(docEmbs[idx], docEmbs[sel]); sim > maxSim {
						maxSim = sim
					}
				}
				score = (1.0-lambda)*relevance[idx] - lambda*maxSim
			}
			if score > bestScore {
				bestScore = score
				bestPos = pos
			}
		}
		selected = append(selected, remaining[bestPos])
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}
	return selected
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na)*math.Sqrt(nb) + 1e-12)
}
