package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/rialtolabs/ragcore/internal/config"
	"github.com/rialtolabs/ragcore/internal/core/domain"
	"github.com/rialtolabs/ragcore/internal/core/ports"
)

// StageObserver receives per-stage timing. Satisfied by the engine metrics.
type StageObserver interface {
	ObserveStage(service, stage, status string, duration time.Duration)
}

// RetrievalDumper receives the per-stage keep lists for the debug dump.
type RetrievalDumper interface {
	DumpSection(source, query string, chunks []domain.Chunk)
}

// RetrievalResult is what one pipeline run hands to the orchestrator.
type RetrievalResult struct {
	Query      string
	Intent     domain.Intent
	Flags      domain.StageFlags
	Candidates domain.CandidateSet
	BestScore  float64
	Trace      []domain.StageOutcome
}

// Pipeline runs the staged hybrid retrieval for one query. Stages execute
// sequentially on one CandidateSet; a disabled stage is a strict no-op and a
// failed stage degrades to passthrough.
type Pipeline struct {
	classifier *Classifier
	rewriter   *Rewriter
	expander   *Expander
	dense      ports.DenseRetriever
	lexical    ports.LexicalRetriever
	deduper    *Deduper
	spans      *SpanIndexer
	reranker   *Reranker
	compressor *Compressor

	rerankers   config.RerankersConfig
	globalFlags domain.StageFlags
	dominanceOn bool

	dumper   RetrievalDumper
	observer StageObserver
	service  string
	logger   *slog.Logger
}

type PipelineDeps struct {
	Classifier *Classifier
	Rewriter   *Rewriter
	Expander   *Expander
	Dense      ports.DenseRetriever
	Lexical    ports.LexicalRetriever
	Deduper    *Deduper
	Spans      *SpanIndexer
	Reranker   *Reranker
	Compressor *Compressor

	Rerankers   config.RerankersConfig
	GlobalFlags domain.StageFlags
	DominanceOn bool

	Dumper   RetrievalDumper
	Observer StageObserver
	Service  string
	Logger   *slog.Logger
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{
		classifier:  deps.Classifier,
		rewriter:    deps.Rewriter,
		expander:    deps.Expander,
		dense:       deps.Dense,
		lexical:     deps.Lexical,
		deduper:     deps.Deduper,
		spans:       deps.Spans,
		reranker:    deps.Reranker,
		compressor:  deps.Compressor,
		rerankers:   deps.Rerankers,
		globalFlags: deps.GlobalFlags,
		dominanceOn: deps.DominanceOn,
		dumper:      deps.Dumper,
		observer:    deps.Observer,
		service:     deps.Service,
		logger:      deps.Logger,
	}
}

func (p *Pipeline) Retrieve(ctx context.Context, query string, history []domain.Turn) RetrievalResult {
	var trace []domain.StageOutcome
	record := func(stage string, status domain.StageStatus, reason string, in, out int, start time.Time) {
		outcome := domain.StageOutcome{
			Stage:    stage,
			Status:   status,
			Reason:   reason,
			In:       in,
			Out:      out,
			Duration: time.Since(start),
		}
		trace = append(trace, outcome)
		if p.observer != nil {
			p.observer.ObserveStage(p.service, stage, string(status), outcome.Duration)
		}
	}

	start := time.Now()
	intent := p.classifier.Classify(ctx, query)
	flags := domain.FlagsForIntent(intent).And(p.globalFlags)
	record("classify", domain.StageOK, string(intent), 0, 0, start)

	effective := query
	if flags.Rewrite {
		start = time.Now()
		rewritten := p.rewriter.Rewrite(ctx, effective, history)
		status := domain.StageOK
		if rewritten == effective {
			status = domain.StageDegraded
		}
		record("rewrite", status, "", 0, 0, start)
		effective = rewritten
	} else {
		record("rewrite", domain.StageSkipped, "flag off", 0, 0, time.Now())
	}

	if flags.Expand {
		start = time.Now()
		expanded := p.expander.Expand(ctx, effective)
		status := domain.StageOK
		if expanded == effective {
			status = domain.StageDegraded
		}
		record("expand", status, "", 0, 0, start)
		effective = expanded
	} else {
		record("expand", domain.StageSkipped, "flag off", 0, 0, time.Now())
	}

	start = time.Now()
	denseHits, err := p.dense.Search(ctx, effective)
	if err != nil {
		p.logger.Warn("dense_search_degraded", "error", err)
		record("dense", domain.StageDegraded, err.Error(), 0, 0, start)
		denseHits = nil
	} else {
		record("dense", domain.StageOK, "", 0, len(denseHits), start)
	}
	p.dump("dense", effective, denseHits)

	start = time.Now()
	lexicalHits, err := p.lexical.Search(ctx, effective)
	if err != nil {
		p.logger.Warn("lexical_search_degraded", "error", err)
		record("lexical", domain.StageDegraded, err.Error(), 0, 0, start)
		lexicalHits = nil
	} else {
		record("lexical", domain.StageOK, "", 0, len(lexicalHits), start)
	}
	p.dump("lexical", effective, lexicalHits)

	start = time.Now()
	fused := Fuse(denseHits, lexicalHits, p.rerankers.FusionTopFaiss, p.rerankers.FusionTopBM25, p.logger)
	record("fusion", domain.StageOK, "", len(denseHits)+len(lexicalHits), len(fused), start)
	p.dump("fusion", effective, fused)

	set := domain.NewCandidateSet(fused)
	bestScore := set.BestDenseSimilarity()

	if p.dominanceOn {
		start = time.Now()
		kept, found := DetectDominance(set.Chunks(), p.logger)
		status := domain.StageOK
		reason := ""
		if !found {
			status = domain.StageSkipped
			reason = "no dominant cluster"
		}
		record("dominance", status, reason, set.Len(), len(kept), start)
		set = domain.NewCandidateSet(kept)
	} else {
		record("dominance", domain.StageSkipped, "flag off", set.Len(), set.Len(), time.Now())
	}

	start = time.Now()
	deduped, removed := p.deduper.Run(set.Chunks(), intent)
	record("dedup", domain.StageOK, "", set.Len(), len(deduped), start)
	if removed > 0 {
		p.dump("dedup", effective, deduped)
	}
	set = domain.NewCandidateSet(deduped)

	if flags.SSI {
		start = time.Now()
		in := set.Len()
		set = p.spans.Extract(ctx, effective, set)
		record("ssi", domain.StageOK, "", in, set.Len(), start)
		p.dump("ssi", effective, set.Chunks())
	} else {
		record("ssi", domain.StageSkipped, "flag off", set.Len(), set.Len(), time.Now())
	}

	if flags.Rerank {
		start = time.Now()
		in := set.Len()
		reranked, ok := p.reranker.Rerank(ctx, effective, set)
		status := domain.StageOK
		reason := ""
		if !ok {
			status = domain.StageDegraded
			reason = "scoring failed"
		}
		record("rerank", status, reason, in, reranked.Len(), start)
		set = reranked
		p.dump("rerank", effective, set.Chunks())
	} else {
		record("rerank", domain.StageSkipped, "flag off", set.Len(), set.Len(), time.Now())
	}

	start = time.Now()
	in := set.Len()
	set = p.compressor.Compress(ctx, effective, set)
	record("compression", domain.StageOK, "", in, set.Len(), start)

	return RetrievalResult{
		Query:      effective,
		Intent:     intent,
		Flags:      flags,
		Candidates: set,
		BestScore:  bestScore,
		Trace:      trace,
	}
}

func (p *Pipeline) dump(source, query string, chunks []domain.Chunk) {
	if p.dumper != nil {
		p.dumper.DumpSection(source, query, chunks)
	}
}
