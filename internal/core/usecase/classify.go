// Package usecase holds the retrieval pipeline stages and the turn
// orchestrator. Every stage is a pure transformation over a CandidateSet;
// external-model failures degrade the stage, never the turn.
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rialtolabs/ragcore/internal/core/domain"
	"github.com/rialtolabs/ragcore/internal/core/ports"
)

// Classifier assigns an intent label to a query. Keyword rules run first in a
// fixed priority order; the model fallback is consulted only when no rule
// fires, and its answer is accepted only when it names a known label.
// Classification never fails: any model trouble degrades to fuzzy.
type Classifier struct {
	generator ports.Generator
	logger    *slog.Logger
}

func NewClassifier(generator ports.Generator, logger *slog.Logger) *Classifier {
	return &Classifier{generator: generator, logger: logger}
}

var (
	broadKeywords       = []string{"summarize", "overview", "dominant", "narratives", "themes"}
	enumerationKeywords = []string{"list", "enumerate", "main risks", "key drivers"}
	analyticalKeywords  = []string{"why", "drivers", "catalysts", "factors", "explain"}
	temporalKeywords    = []string{"when", "timeline", "since", "evolution"}
	specificOpeners     = []string{"what", "how much", "which", "is", "does"}
)

const classifyPrompt = `Classify the user query into exactly one label:
broad_query, enumeration_query, analytical_query, temporal_query, specific_query, fuzzy_query.
Reply with the label only, nothing else.

Query: %s`

func (c *Classifier) Classify(ctx context.Context, query string) domain.Intent {
	q := strings.ToLower(strings.TrimSpace(query))

	if containsAny(q, broadKeywords) {
		return c.label(query, domain.IntentBroad)
	}
	if containsAny(q, enumerationKeywords) {
		return c.label(query, domain.IntentEnumeration)
	}
	if containsAny(q, analyticalKeywords) {
		return c.label(query, domain.IntentAnalytical)
	}
	if containsAny(q, temporalKeywords) {
		return c.label(query, domain.IntentTemporal)
	}
	if len(strings.Fields(q)) <= 14 && hasAnyPrefix(q, specificOpeners) {
		return c.label(query, domain.IntentSpecific)
	}

	if c.generator != nil {
		resp, err := c.generator.GenerateText(ctx, fmt.Sprintf(classifyPrompt, query))
		if err != nil {
			c.logger.Warn("classifier_fallback_failed", "error", err)
		} else if label := strings.TrimSpace(resp); domain.IsKnownIntent(label) {
			return c.label(query, domain.Intent(label))
		}
	}

	return c.label(query, domain.IntentFuzzy)
}

func (c *Classifier) label(query string, intent domain.Intent) domain.Intent {
	c.logger.Info("query_classified", "query", truncate(query, 200), "intent", string(intent))
	return intent
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
