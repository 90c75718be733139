package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rialtolabs/ragcore/internal/config"
	"github.com/rialtolabs/ragcore/internal/core/ports"
)

type scriptedExtractor struct {
	spans   []ports.Span
	err     error
	windows []string
}

func (e *scriptedExtractor) ExtractSpans(_ context.Context, _, window string, _ int) ([]ports.Span, error) {
	e.windows = append(e.windows, window)
	return e.spans, e.err
}

func ssiCfg() config.SSIConfig {
	return config.SSIConfig{
		Enabled:                 true,
		ModelName:               "test-qa",
		WindowSize:              6,
		Stride:                  3,
		TopKPerDoc:              3,
		MinScoreThreshold:       0.3,
		GlobalTopK:              5,
		PreferLongestWhenActive: true,
		SelfGating: config.SelfGatingConfig{
			Enabled:                   true,
			LiteralExtractionTriggers: []string{"summarize", "overview"},
			NumericExtractionKeywords: []string{"yield", "rate", "margin"},
		},
	}
}

func TestSSINumericQueryBypasses(t *testing.T) {
	s := NewSpanIndexer(ssiCfg(), &scriptedExtractor{err: errors.New("must not be called")}, discardLogger())

	run, reason := s.ShouldRun("which bonds have a yield above 4.5%")
	if run {
		t.Fatalf("numeric lookup should bypass span extraction")
	}
	if reason != "numeric extraction intent" {
		t.Fatalf("reason = %q", reason)
	}

	in := setOf("the 10y yield is 4.6% today")
	out := s.Extract(context.Background(), "which bonds have a yield above 4.5%", in)
	if out.Len() != in.Len() || out.At(0).Text != in.At(0).Text {
		t.Fatalf("bypass changed candidates")
	}
}

func TestSSILiteralTriggerBypasses(t *testing.T) {
	s := NewSpanIndexer(ssiCfg(), &scriptedExtractor{}, discardLogger())
	run, reason := s.ShouldRun("summarize the outlook for credit")
	if run || !strings.Contains(reason, "summarize") {
		t.Fatalf("run=%v reason=%q", run, reason)
	}
}

func TestSSINumericPatternAloneDoesNotBypass(t *testing.T) {
	s := NewSpanIndexer(ssiCfg(), &scriptedExtractor{}, discardLogger())
	// a number without any numeric keyword keeps extraction on
	if run, _ := s.ShouldRun("what happened on day 15% into the quarter"); !run {
		t.Fatalf("pattern without keyword should not bypass")
	}
}

func TestSSIFiltersAndRanksSpans(t *testing.T) {
	ext := &scriptedExtractor{spans: []ports.Span{
		{Text: "thirty days", Score: 0.9},
		{Text: "thirty days", Score: 0.8},
		{Text: "the longer refund span", Score: 0.9},
		{Text: ".", Score: 0.95},
		{Text: "   ", Score: 0.95},
		{Text: "weak span", Score: 0.1},
	}}
	s := NewSpanIndexer(ssiCfg(), ext, discardLogger())

	in := setOf("refund window is thirty days")
	out := s.Extract(context.Background(), "what is the refund window", in)

	if out.Len() != 2 {
		t.Fatalf("want 2 surviving spans, got %d", out.Len())
	}
	// equal scores, longer text first
	if out.At(0).Text != "the longer refund span" || out.At(1).Text != "thirty days" {
		t.Fatalf("order = %q, %q", out.At(0).Text, out.At(1).Text)
	}
	if out.At(0).Scores.SpanScore != 0.9 {
		t.Fatalf("span score not attached: %+v", out.At(0).Scores)
	}
	if out.At(0).ID != "" {
		t.Fatalf("span should not inherit the source chunk id")
	}
}

func TestSSIWindowsCoverTail(t *testing.T) {
	ext := &scriptedExtractor{spans: []ports.Span{{Text: "ignored", Score: 0.0}}}
	s := NewSpanIndexer(ssiCfg(), ext, discardLogger())

	// 10 tokens, window 6, stride 3: windows at 0 and 3, plus a tail window
	// snapped to 4..10
	text := "t1 t2 t3 t4 t5 t6 t7 t8 t9 t10"
	s.Extract(context.Background(), "what is t7", setOf(text))

	if len(ext.windows) != 3 {
		t.Fatalf("want 3 windows, got %d: %v", len(ext.windows), ext.windows)
	}
	if !strings.HasSuffix(ext.windows[len(ext.windows)-1], "t10") {
		t.Fatalf("last window misses the tail: %q", ext.windows[len(ext.windows)-1])
	}
}

func TestSSIWindowSweepCoversEveryToken(t *testing.T) {
	// stride 8 with window 10 over 25 tokens leaves a gap between the last
	// full-stride window and the tail; the appended tail window must close it
	cfg := ssiCfg()
	cfg.WindowSize = 10
	cfg.Stride = 8
	ext := &scriptedExtractor{}
	s := NewSpanIndexer(cfg, ext, discardLogger())

	tokens := make([]string, 25)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("tok%02d", i)
	}
	s.Extract(context.Background(), "where is tok twelve", setOf(strings.Join(tokens, " ")))

	swept := strings.Join(ext.windows, " ")
	for _, tok := range tokens {
		if !strings.Contains(swept, tok) {
			t.Fatalf("token %s never swept; windows: %v", tok, ext.windows)
		}
	}
}

func TestSSIGlobalTopKTruncates(t *testing.T) {
	var spans []ports.Span
	for _, s := range []string{"span one text", "span two text", "span three text", "span four text", "span five text", "span six text", "span seven text"} {
		spans = append(spans, ports.Span{Text: s, Score: 0.8})
	}
	s := NewSpanIndexer(ssiCfg(), &scriptedExtractor{spans: spans}, discardLogger())
	out := s.Extract(context.Background(), "what are the spans", setOf("short doc"))
	if out.Len() != 5 {
		t.Fatalf("global top k not applied: %d", out.Len())
	}
}

func TestSSIExtractorFailureIsPassthrough(t *testing.T) {
	s := NewSpanIndexer(ssiCfg(), &scriptedExtractor{err: errors.New("qa model down")}, discardLogger())
	in := setOf("doc one here", "doc two here")
	out := s.Extract(context.Background(), "what is in doc one", in)
	if out.Len() != in.Len() {
		t.Fatalf("failed extraction should keep candidates: %d", out.Len())
	}
}
