package domain

import (
	"strings"
)

// Chunk is the immutable unit of retrievable text. Retrievers create chunks,
// later stages only enrich the score bag.
type Chunk struct {
	ID       string            `json:"id,omitempty"`
	ShardID  string            `json:"shard_id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Scores   ScoreBag          `json:"scores"`
}

// ScoreBag collects the per-stage retrieval scores attached to a chunk.
type ScoreBag struct {
	DenseSimilarity float64 `json:"dense_similarity,omitempty"`
	LexicalScore    float64 `json:"lexical_score,omitempty"`
	RerankScore     float64 `json:"rerank_score,omitempty"`
	DominanceScore  float64 `json:"dominance_score,omitempty"`
	SpanScore       float64 `json:"span_score,omitempty"`
}

// Key returns the canonical dedup key: the explicit chunk id when present,
// normalized text otherwise.
func (c Chunk) Key() string {
	if c.ID != "" {
		return c.ShardID + ":" + c.ID
	}
	return NormalizeText(c.Text)
}

// NormalizeText lowercases and collapses whitespace so near-identical chunk
// texts compare equal.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// CandidateSet is the candidate list threaded through the pipeline stages for
// one query. Stages return new sets instead of mutating their input, so a
// disabled stage cannot leak state into the next one.
type CandidateSet struct {
	chunks []Chunk
}

func NewCandidateSet(chunks []Chunk) CandidateSet {
	out := make([]Chunk, len(chunks))
	copy(out, chunks)
	return CandidateSet{chunks: out}
}

func (s CandidateSet) Chunks() []Chunk {
	out := make([]Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

func (s CandidateSet) Len() int { return len(s.chunks) }

func (s CandidateSet) At(i int) Chunk { return s.chunks[i] }

// TotalChars is the combined candidate text length, used by the compression
// skip rule.
func (s CandidateSet) TotalChars() int {
	total := 0
	for _, c := range s.chunks {
		total += len(c.Text)
	}
	return total
}

// BestDenseSimilarity returns the highest dense similarity in the set, or 0
// when the set is empty.
func (s CandidateSet) BestDenseSimilarity() float64 {
	best := 0.0
	for _, c := range s.chunks {
		if c.Scores.DenseSimilarity > best {
			best = c.Scores.DenseSimilarity
		}
	}
	return best
}
