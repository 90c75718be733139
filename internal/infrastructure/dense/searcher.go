// Package dense runs the sharded nearest-neighbor search over the flat
// embedding matrices loaded from disk.
package dense

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/rialtolabs/ragcore/internal/config"
	"github.com/rialtolabs/ragcore/internal/core/domain"
	"github.com/rialtolabs/ragcore/internal/core/ports"
	"github.com/rialtolabs/ragcore/internal/infrastructure/shard"
	"github.com/rialtolabs/ragcore/internal/observability/metrics"
)

const (
	IndexFlatIP = "flat_ip"
	IndexFlatL2 = "flat_l2"
)

// Searcher embeds the query and scans every shard concurrently. Per shard it
// keeps the top_k_faiss rows by similarity, then narrows them to top_chunks
// with an independent relevance scorer. Corrupt or mismatched shards are
// skipped with a log line, never fatal.
type Searcher struct {
	store    *shard.Store
	embedder ports.Embedder
	scorer   ports.RelevanceScorer

	dense    config.DenseConfig
	topK     int
	top      int
	pool     *ants.Pool
	logger   *slog.Logger
	recorder *metrics.EngineMetrics
	service  string
}

func NewSearcher(
	store *shard.Store,
	embedder ports.Embedder,
	scorer ports.RelevanceScorer,
	dense config.DenseConfig,
	rerankers config.RerankersConfig,
	concurrency int,
	logger *slog.Logger,
	recorder *metrics.EngineMetrics,
	service string,
) (*Searcher, error) {
	if dense.IndexType != IndexFlatIP && dense.IndexType != IndexFlatL2 {
		return nil, domain.WrapError(domain.ErrConfig, "dense searcher",
			fmt.Errorf("unsupported index_type %q", dense.IndexType))
	}
	if dense.NormalizeL2 != dense.BuiltWithNormalization {
		return nil, domain.WrapError(domain.ErrConfig, "dense searcher",
			fmt.Errorf("normalize_l2=%v does not match built_with_normalization=%v",
				dense.NormalizeL2, dense.BuiltWithNormalization))
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("dense searcher pool: %w", err)
	}
	return &Searcher{
		store:    store,
		embedder: embedder,
		scorer:   scorer,
		dense:    dense,
		topK:     rerankers.TopKFaiss,
		top:      rerankers.TopChunks,
		pool:     pool,
		logger:   logger,
		recorder: recorder,
		service:  service,
	}, nil
}

func (s *Searcher) Close() {
	s.pool.Release()
}

func (s *Searcher) Search(ctx context.Context, query string) ([]domain.Chunk, error) {
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInference, "embed query", err)
	}
	if len(vec) != s.dense.Dimensions {
		return nil, domain.WrapError(domain.ErrConfig, "embed query",
			fmt.Errorf("embedding dim %d, index built with %d", len(vec), s.dense.Dimensions))
	}
	if s.dense.NormalizeL2 {
		normalize(vec)
	}

	ids, err := s.store.List()
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []domain.Chunk
	)
	for _, id := range ids {
		id := id
		wg.Add(1)
		submitErr := s.pool.Submit(func() {
			defer wg.Done()
			hits := s.searchShard(ctx, id, query, vec)
			if len(hits) == 0 {
				return
			}
			mu.Lock()
			results = append(results, hits...)
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			return nil, fmt.Errorf("submit shard search: %w", submitErr)
		}
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Scores.DenseSimilarity > results[j].Scores.DenseSimilarity
	})
	if s.topK > 0 && len(results) > s.topK {
		results = results[:s.topK]
	}
	return results, nil
}

func (s *Searcher) searchShard(ctx context.Context, id, query string, vec []float32) []domain.Chunk {
	sh, err := s.store.Load(id)
	if err != nil {
		s.logger.Warn("dense_shard_skipped", "shard", id, "error", err)
		s.recorder.ObserveShardSkip(s.service, "dense", "corrupt")
		return nil
	}
	if sh.Dim != len(vec) {
		s.logger.Warn("dense_shard_skipped", "shard", id,
			"error", fmt.Sprintf("shard dim %d != query dim %d", sh.Dim, len(vec)))
		s.recorder.ObserveShardSkip(s.service, "dense", "dim_mismatch")
		return nil
	}

	hits := s.topRows(sh, vec)
	return s.narrow(ctx, id, query, sh, hits)
}

type rowHit struct {
	row        int
	similarity float64
}

func (s *Searcher) topRows(sh *shard.Shard, vec []float32) []rowHit {
	hits := make([]rowHit, 0, len(sh.Chunks))
	for i := range sh.Chunks {
		hits = append(hits, rowHit{row: i, similarity: s.similarity(vec, sh.Row(i))})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].similarity > hits[j].similarity })
	if s.topK > 0 && len(hits) > s.topK {
		hits = hits[:s.topK]
	}
	return hits
}

func (s *Searcher) similarity(q, row []float32) float64 {
	switch s.dense.IndexType {
	case IndexFlatL2:
		var sq float64
		for i := range q {
			d := float64(q[i]) - float64(row[i])
			sq += d * d
		}
		return 1 - sq
	default:
		var ip float64
		for i := range q {
			ip += float64(q[i]) * float64(row[i])
		}
		return ip
	}
}

// narrow asks the relevance scorer to reorder the shard's hits and keeps the
// top_chunks best. When the scorer fails the similarity order stands.
func (s *Searcher) narrow(ctx context.Context, id, query string, sh *shard.Shard, hits []rowHit) []domain.Chunk {
	chunks := make([]domain.Chunk, len(hits))
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = sh.Chunks[h.row]
		chunks[i] = domain.Chunk{
			ID:       strconv.Itoa(h.row),
			ShardID:  id,
			Text:     sh.Chunks[h.row],
			Metadata: sh.Metadata[h.row],
			Scores: domain.ScoreBag{
				DenseSimilarity: h.similarity,
				DominanceScore:  h.similarity,
			},
		}
	}

	if s.scorer != nil && len(chunks) > 0 {
		scores, err := s.scorer.Score(ctx, query, texts)
		if err != nil || len(scores) != len(chunks) {
			s.logger.Warn("dense_narrow_fallback", "shard", id, "error", err)
			s.recorder.ObserveInferenceFailure(s.service, "chunk_filter")
		} else {
			order := make([]int, len(chunks))
			for i := range order {
				order[i] = i
			}
			sort.SliceStable(order, func(a, b int) bool {
				return scores[order[a]] > scores[order[b]]
			})
			reordered := make([]domain.Chunk, len(chunks))
			for i, idx := range order {
				reordered[i] = chunks[idx]
			}
			chunks = reordered
		}
	}

	if s.top > 0 && len(chunks) > s.top {
		chunks = chunks[:s.top]
	}
	return chunks
}

func normalize(vec []float32) {
	var sq float64
	for _, v := range vec {
		sq += float64(v) * float64(v)
	}
	if sq == 0 {
		return
	}
	norm := float32(math.Sqrt(sq))
	for i := range vec {
		vec[i] /= norm
	}
}
