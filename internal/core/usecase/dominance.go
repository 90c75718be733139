package usecase

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/rialtolabs/ragcore/internal/core/domain"
)

const (
	dominanceMinCandidates = 5
	dominanceZThreshold    = 3.2
	dominanceMinStd        = 1e-9
)

// DetectDominance looks for a z-score outlier cluster at the top of the
// candidate list. The background statistics exclude the top item, so a single
// runaway hit cannot mask itself. When a cluster is found, the contiguous
// prefix down to the last item at or above the threshold is kept. Small sets
// and flat score distributions pass through unchanged with a false flag.
func DetectDominance(chunks []domain.Chunk, logger *slog.Logger) ([]domain.Chunk, bool) {
	if len(chunks) < dominanceMinCandidates {
		logger.Info("dominance_skipped", "reason", "too few candidates", "count", len(chunks))
		return chunks, false
	}

	sorted := make([]domain.Chunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Scores.DominanceScore > sorted[j].Scores.DominanceScore
	})

	sims := make([]float64, len(sorted))
	for i, c := range sorted {
		sims[i] = c.Scores.DominanceScore
	}

	rest := sims[1:]
	meanRest := stat.Mean(rest, nil)
	stdRest := stat.PopStdDev(rest, nil)
	if stdRest < dominanceMinStd {
		logger.Info("dominance_skipped", "reason", "flat score distribution")
		return chunks, false
	}

	lastDominant := -1
	for i, sim := range sims {
		if (sim-meanRest)/stdRest >= dominanceZThreshold {
			lastDominant = i
		}
	}
	if lastDominant < 0 {
		logger.Info("dominance_not_detected", "count", len(chunks))
		return chunks, false
	}

	kept := sorted[:lastDominant+1]
	logger.Info("dominance_detected", "kept", len(kept), "of", len(chunks))
	for i, c := range kept {
		logger.Info("dominance_keep", "rank", i+1, "score", c.Scores.DominanceScore,
			"text", truncate(domain.NormalizeText(c.Text), 120))
	}
	return kept, true
}
