package lexical

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/rialtolabs/ragcore/internal/config"
	"github.com/rialtolabs/ragcore/internal/core/domain"
	"github.com/rialtolabs/ragcore/internal/infrastructure/shard"
	"github.com/rialtolabs/ragcore/internal/observability/metrics"
)

// Searcher keeps the top_k_bm25 hits inside each shard, then rescores the
// merged winners against a fresh index built over just those texts. The
// second pass replaces the per-shard scores, so the final ordering is global.
type Searcher struct {
	store    *shard.Store
	topK     int
	pool     *ants.Pool
	logger   *slog.Logger
	recorder *metrics.EngineMetrics
	service  string
}

func NewSearcher(
	store *shard.Store,
	rerankers config.RerankersConfig,
	concurrency int,
	logger *slog.Logger,
	recorder *metrics.EngineMetrics,
	service string,
) (*Searcher, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("lexical searcher pool: %w", err)
	}
	return &Searcher{
		store:    store,
		topK:     rerankers.TopKBM25,
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
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids, err := s.store.List()
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		merged []domain.Chunk
	)
	for _, id := range ids {
		id := id
		wg.Add(1)
		submitErr := s.pool.Submit(func() {
			defer wg.Done()
			hits := s.searchShard(id, query)
			if len(hits) == 0 {
				return
			}
			mu.Lock()
			merged = append(merged, hits...)
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			return nil, fmt.Errorf("submit shard search: %w", submitErr)
		}
	}
	wg.Wait()

	return s.rescore(query, merged), nil
}

func (s *Searcher) searchShard(id, query string) []domain.Chunk {
	sh, err := s.store.LoadText(id)
	if err != nil {
		s.logger.Warn("lexical_shard_skipped", "shard", id, "error", err)
		s.recorder.ObserveShardSkip(s.service, "lexical", "corrupt")
		return nil
	}
	if len(sh.Chunks) == 0 {
		return nil
	}

	scores := NewIndex(sh.Chunks).Scores(query)
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	limit := len(order)
	if s.topK > 0 && limit > s.topK {
		limit = s.topK
	}

	hits := make([]domain.Chunk, 0, limit)
	for _, row := range order[:limit] {
		if scores[row] <= 0 {
			break
		}
		hits = append(hits, domain.Chunk{
			ID:       strconv.Itoa(row),
			ShardID:  id,
			Text:     sh.Chunks[row],
			Metadata: sh.Metadata[row],
			Scores: domain.ScoreBag{
				LexicalScore:   scores[row],
				DominanceScore: scores[row],
			},
		})
	}
	return hits
}

// rescore runs the global second pass over the merged per-shard winners.
func (s *Searcher) rescore(query string, merged []domain.Chunk) []domain.Chunk {
	if len(merged) == 0 {
		return nil
	}

	texts := make([]string, len(merged))
	for i, c := range merged {
		texts[i] = c.Text
	}
	scores := NewIndex(texts).Scores(query)
	for i := range merged {
		merged[i].Scores.LexicalScore = scores[i]
		merged[i].Scores.DominanceScore = scores[i]
	}

	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].Scores.LexicalScore > merged[b].Scores.LexicalScore
	})
	if s.topK > 0 && len(merged) > s.topK {
		merged = merged[:s.topK]
	}
	return merged
}
