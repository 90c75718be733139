package usecase

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/rialtolabs/ragcore/internal/config"
	"github.com/rialtolabs/ragcore/internal/core/domain"
	"github.com/rialtolabs/ragcore/internal/core/ports"
)

// SpanIndexer replaces candidate chunks with short extracted answer spans.
// The self-gate runs first and is pure policy, no model call: summarize-style
// asks and numeric lookups are better served by full chunks, so those queries
// bypass extraction entirely.
type SpanIndexer struct {
	cfg       config.SSIConfig
	extractor ports.SpanExtractor
	logger    *slog.Logger
}

func NewSpanIndexer(cfg config.SSIConfig, extractor ports.SpanExtractor, logger *slog.Logger) *SpanIndexer {
	return &SpanIndexer{cfg: cfg, extractor: extractor, logger: logger}
}

var numericPattern = regexp.MustCompile(`\d[\d.]*%|\$[0-9]+|\d+\s?bps|basis points?`)

var punctuationSpans = map[string]struct{}{
	".": {}, "-": {}, "–": {}, "—": {},
}

// ShouldRun applies the self-gate. The returned reason is non-empty when the
// extractor is bypassed.
func (s *SpanIndexer) ShouldRun(query string) (bool, string) {
	if !s.cfg.Enabled || !s.cfg.SelfGating.Enabled {
		return false, "disabled"
	}

	q := strings.ToLower(query)
	for _, trigger := range s.cfg.SelfGating.LiteralExtractionTriggers {
		if strings.Contains(q, trigger) {
			return false, "literal trigger '" + trigger + "'"
		}
	}
	if numericPattern.MatchString(q) {
		for _, kw := range s.cfg.SelfGating.NumericExtractionKeywords {
			if strings.Contains(q, kw) {
				return false, "numeric extraction intent"
			}
		}
	}
	return true, ""
}

// Extract sweeps each candidate with overlapping windows and collects scored
// spans. Window-level extraction failures are skipped; the stage only
// degrades to passthrough when nothing at all survives and the input was
// non-empty.
func (s *SpanIndexer) Extract(ctx context.Context, query string, set domain.CandidateSet) domain.CandidateSet {
	if set.Len() == 0 || strings.TrimSpace(query) == "" {
		return set
	}

	if run, reason := s.ShouldRun(query); !run {
		s.logger.Info("ssi_bypassed", "reason", reason)
		return set
	}

	var spans []domain.Chunk
	seen := make(map[string]struct{})
	for _, chunk := range set.Chunks() {
		for _, window := range s.slidingWindows(domain.NormalizeText(chunk.Text)) {
			proposals, err := s.extractor.ExtractSpans(ctx, query, window, s.cfg.TopKPerDoc)
			if err != nil {
				s.logger.Warn("ssi_window_failed", "shard", chunk.ShardID, "error", err)
				continue
			}
			for _, p := range proposals {
				text := strings.TrimSpace(p.Text)
				if text == "" {
					continue
				}
				if _, punct := punctuationSpans[text]; punct {
					continue
				}
				if _, dup := seen[text]; dup {
					continue
				}
				if p.Score < s.cfg.MinScoreThreshold {
					continue
				}
				seen[text] = struct{}{}
				s.logger.Info("ssi_accepted", "score", p.Score, "span", truncate(text, 140))

				span := chunk
				span.ID = ""
				span.Text = text
				span.Scores.SpanScore = p.Score
				spans = append(spans, span)
			}
		}
	}

	if len(spans) == 0 {
		s.logger.Info("ssi_no_spans", "candidates", set.Len())
		return set
	}

	if s.cfg.PreferLongestWhenActive {
		sort.SliceStable(spans, func(i, j int) bool {
			if spans[i].Scores.SpanScore != spans[j].Scores.SpanScore {
				return spans[i].Scores.SpanScore > spans[j].Scores.SpanScore
			}
			return len(spans[i].Text) > len(spans[j].Text)
		})
	} else {
		sort.SliceStable(spans, func(i, j int) bool {
			return spans[i].Scores.SpanScore > spans[j].Scores.SpanScore
		})
	}

	if s.cfg.GlobalTopK > 0 && len(spans) > s.cfg.GlobalTopK {
		spans = spans[:s.cfg.GlobalTopK]
	}
	s.logger.Info("ssi_done", "spans", len(spans), "threshold", s.cfg.MinScoreThreshold)
	return domain.NewCandidateSet(spans)
}

// slidingWindows splits text into token windows of window_size advancing by
// stride. When the sweep stops short of the end an extra window snapped to
// the tail is appended, so no text is dropped.
func (s *SpanIndexer) slidingWindows(text string) []string {
	tokens := strings.Fields(text)
	size := s.cfg.WindowSize
	step := s.cfg.Stride

	if len(tokens) <= size {
		return []string{text}
	}

	var windows []string
	end := 0
	for i := 0; i+size <= len(tokens); i += step {
		windows = append(windows, strings.Join(tokens[i:i+size], " "))
		end = i + size
	}
	if end < len(tokens) {
		windows = append(windows, strings.Join(tokens[len(tokens)-size:], " "))
	}
	return windows
}
