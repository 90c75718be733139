package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/rialtolabs/ragcore/internal/core/domain"
	"github.com/rialtolabs/ragcore/internal/core/ports"
)

// Rewriter reformulates a query with the conversation history. A rewrite is
// accepted only when it has more than 4 words; shorter model output is
// treated as degenerate and the original query stands.
type Rewriter struct {
	generator ports.Generator
	logger    *slog.Logger
}

func NewRewriter(generator ports.Generator, logger *slog.Logger) *Rewriter {
	return &Rewriter{generator: generator, logger: logger}
}

const rewritePrompt = `Rewrite the user query into one self-contained search query.
Resolve pronouns and references using the conversation. Reply with the rewritten query only.

Conversation:
%s

Query: %s`

func (r *Rewriter) Rewrite(ctx context.Context, query string, history []domain.Turn) string {
	resp, err := r.generator.GenerateText(ctx, fmt.Sprintf(rewritePrompt, formatHistory(history), query))
	if err != nil {
		r.logger.Warn("rewrite_failed", "error", err)
		return query
	}

	rewritten := strings.Trim(strings.TrimSpace(resp), `"'`)
	if len(strings.Fields(rewritten)) <= 4 {
		r.logger.Info("rewrite_rejected", "orig", query, "candidate", rewritten)
		return query
	}
	r.logger.Info("rewrite_ok", "orig", query, "new", rewritten)
	return rewritten
}

func formatHistory(history []domain.Turn) string {
	if len(history) == 0 {
		return "(empty)"
	}
	var b strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	return b.String()
}

// Expander asks the model for five differently-angled variants and switches
// to an OR-combination only when at least three parse cleanly. Anything less
// keeps the original query.
type Expander struct {
	generator ports.Generator
	logger    *slog.Logger
}

func NewExpander(generator ports.Generator, logger *slog.Logger) *Expander {
	return &Expander{generator: generator, logger: logger}
}

const expandPrompt = `Produce 5 differently-angled search queries for the question below.
Number them 1. to 5., one per line, nothing else.

Question: %s`

var numberedLine = regexp.MustCompile(`^\s*\d\.\s*(.+)$`)

func (e *Expander) Expand(ctx context.Context, query string) string {
	resp, err := e.generator.GenerateText(ctx, fmt.Sprintf(expandPrompt, query))
	if err != nil {
		e.logger.Warn("expand_failed", "error", err)
		return query
	}

	var variants []string
	for _, line := range strings.Split(resp, "\n") {
		m := numberedLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		variant := strings.TrimSpace(m[1])
		if variant == "" {
			continue
		}
		variants = append(variants, variant)
		if len(variants) == 5 {
			break
		}
	}

	if len(variants) < 3 {
		e.logger.Info("expand_rejected", "parsed", len(variants))
		return query
	}

	expanded := strings.Join(variants, " OR ")
	e.logger.Info("expand_ok", "variants", len(variants))
	return expanded
}
