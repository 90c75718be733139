// Package lexical runs the sharded keyword search: an Okapi BM25 pass inside
// each shard, then a second BM25 pass over the merged per-shard winners so
// scores from different shards become comparable.
package lexical

import (
	"math"
	"strings"
	"unicode"
)

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// Tokenize lowercases and splits on any non-alphanumeric rune.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Index is an Okapi BM25 index over a fixed corpus of documents.
type Index struct {
	docs    [][]string
	freqs   []map[string]int
	df      map[string]int
	avgLen  float64
	corpusN int
}

func NewIndex(corpus []string) *Index {
	idx := &Index{
		docs:    make([][]string, len(corpus)),
		freqs:   make([]map[string]int, len(corpus)),
		df:      make(map[string]int),
		corpusN: len(corpus),
	}
	total := 0
	for i, doc := range corpus {
		tokens := Tokenize(doc)
		idx.docs[i] = tokens
		total += len(tokens)

		freq := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freq[tok]++
		}
		idx.freqs[i] = freq
		for tok := range freq {
			idx.df[tok]++
		}
	}
	if len(corpus) > 0 {
		idx.avgLen = float64(total) / float64(len(corpus))
	}
	return idx
}

func (idx *Index) idf(token string) float64 {
	df := idx.df[token]
	if df == 0 {
		return 0
	}
	n := float64(idx.corpusN)
	return math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1)
}

// Scores returns the BM25 score of every document against the query.
func (idx *Index) Scores(query string) []float64 {
	tokens := Tokenize(query)
	out := make([]float64, idx.corpusN)
	if len(tokens) == 0 || idx.avgLen == 0 {
		return out
	}
	for _, tok := range tokens {
		idf := idx.idf(tok)
		if idf == 0 {
			continue
		}
		for i, freq := range idx.freqs {
			tf := float64(freq[tok])
			if tf == 0 {
				continue
			}
			docLen := float64(len(idx.docs[i]))
			norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*docLen/idx.avgLen))
			out[i] += idf * norm
		}
	}
	return out
}
