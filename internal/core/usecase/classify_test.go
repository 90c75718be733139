package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/rialtolabs/ragcore/internal/core/domain"
)

type scriptedGenerator struct {
	text    string
	jsonOut string
	err     error
	calls   int
	prompts []string
}

func (g *scriptedGenerator) GenerateText(_ context.Context, prompt string) (string, error) {
	g.calls++
	g.prompts = append(g.prompts, prompt)
	return g.text, g.err
}

func (g *scriptedGenerator) GenerateJSON(_ context.Context, prompt string) (string, error) {
	g.calls++
	g.prompts = append(g.prompts, prompt)
	return g.jsonOut, g.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassifyKeywordRules(t *testing.T) {
	c := NewClassifier(nil, discardLogger())
	ctx := context.Background()

	cases := []struct {
		query string
		want  domain.Intent
	}{
		{"summarize the main narratives this quarter", domain.IntentBroad},
		{"list the main risks in the portfolio", domain.IntentEnumeration},
		{"why did yields move last week", domain.IntentAnalytical},
		{"when did the easing cycle begin", domain.IntentTemporal},
		{"what is the current deposit rate", domain.IntentSpecific},
		{"how much was allocated to bonds", domain.IntentSpecific},
	}
	for _, tc := range cases {
		if got := c.Classify(ctx, tc.query); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.query, got, tc.want)
		}
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	c := NewClassifier(nil, discardLogger())
	// both "summarize" (broad) and "why" (analytical) present: broad wins
	if got := c.Classify(context.Background(), "summarize why markets fell"); got != domain.IntentBroad {
		t.Fatalf("got %s, want broad", got)
	}
}

func TestClassifyLLMFallbackAccepted(t *testing.T) {
	gen := &scriptedGenerator{text: "temporal_query"}
	c := NewClassifier(gen, discardLogger())
	got := c.Classify(context.Background(), "the trajectory of rates across the last decade please")
	if got != domain.IntentTemporal {
		t.Fatalf("got %s, want temporal", got)
	}
	if gen.calls != 1 {
		t.Fatalf("fallback calls = %d", gen.calls)
	}
}

func TestClassifyLLMFallbackUnknownLabelIsFuzzy(t *testing.T) {
	gen := &scriptedGenerator{text: "something_else"}
	c := NewClassifier(gen, discardLogger())
	if got := c.Classify(context.Background(), "rambling unclear request about things"); got != domain.IntentFuzzy {
		t.Fatalf("got %s, want fuzzy", got)
	}
}

func TestClassifyLLMFailureIsFuzzy(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("model down")}
	c := NewClassifier(gen, discardLogger())
	if got := c.Classify(context.Background(), "rambling unclear request about things"); got != domain.IntentFuzzy {
		t.Fatalf("got %s, want fuzzy", got)
	}
}

func TestClassifyNoKeywordMatchSkipsLLMWhenNil(t *testing.T) {
	c := NewClassifier(nil, discardLogger())
	if got := c.Classify(context.Background(), "rambling unclear request about things"); got != domain.IntentFuzzy {
		t.Fatalf("got %s, want fuzzy", got)
	}
}
