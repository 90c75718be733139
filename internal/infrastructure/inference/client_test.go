package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rialtolabs/ragcore/internal/core/domain"
	"github.com/rialtolabs/ragcore/internal/infrastructure/resilience"
	"github.com/rialtolabs/ragcore/internal/observability/metrics"
)

func newTestClient(t *testing.T, serverURL string, attempts int) *Client {
	t.Helper()
	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    attempts,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1,
		BreakerEnabled:      false,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return New(serverURL, "gen", "embed", 5*time.Second, exec,
		metrics.NewEngineMetrics("test"), "test")
}

func TestEmbedPostsModelAndInput(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2],[0.3,0.4]]}`))
	}))
	defer server.Close()

	embedder := NewEmbedder(newTestClient(t, server.URL, 1))
	vectors, err := embedder.Embed(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 2 || vectors[1][0] != 0.3 {
		t.Fatalf("unexpected vectors: %v", vectors)
	}
	if captured["model"] != "embed" {
		t.Fatalf("model = %v", captured["model"])
	}
}

func TestEmbedRejectsCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[0.1]]}`))
	}))
	defer server.Close()

	embedder := NewEmbedder(newTestClient(t, server.URL, 1))
	if _, err := embedder.Embed(context.Background(), []string{"one", "two"}); !errors.Is(err, domain.ErrInference) {
		t.Fatalf("want ErrInference, got %v", err)
	}
}

func TestGenerateJSONSetsFormatAndTrims(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"  {\"answer\":\"ok\"}  "}`))
	}))
	defer server.Close()

	gen := NewGenerator(newTestClient(t, server.URL, 1))
	got, err := gen.GenerateJSON(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("GenerateJSON() error = %v", err)
	}
	if got != `{"answer":"ok"}` {
		t.Fatalf("response not trimmed: %q", got)
	}
	if captured["format"] != "json" {
		t.Fatalf("format = %v", captured["format"])
	}
}

func TestRerankerScoresDocuments(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rerank" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"scores":[0.9,0.1]}`))
	}))
	defer server.Close()

	reranker := NewReranker(newTestClient(t, server.URL, 1), "cross", "rerank")
	scores, err := reranker.ScorePairs(context.Background(), "q", []string{"a", "b"})
	if err != nil {
		t.Fatalf("ScorePairs() error = %v", err)
	}
	if len(scores) != 2 || scores[0] != 0.9 {
		t.Fatalf("scores = %v", scores)
	}
	if captured["model"] != "cross" {
		t.Fatalf("model = %v", captured["model"])
	}
}

func TestStatusErrorIncludesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusNotFound)
	}))
	defer server.Close()

	embedder := NewEmbedder(newTestClient(t, server.URL, 3))
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestRetryableStatusIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"response":"recovered"}`))
	}))
	defer server.Close()

	gen := NewGenerator(newTestClient(t, server.URL, 2))
	got, err := gen.GenerateText(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("GenerateText() error = %v", err)
	}
	if got != "recovered" || calls.Load() != 2 {
		t.Fatalf("got %q after %d calls", got, calls.Load())
	}
}

func TestNonRetryableStatusFailsFast(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	gen := NewGenerator(newTestClient(t, server.URL, 3))
	if _, err := gen.GenerateText(context.Background(), "prompt"); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("non-retryable status retried %d times", calls.Load())
	}
}

func TestExtractSpansKeepsOnlyVerbatimQuotes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := `{"spans":[` +
			`{"text":"thirty days","score":0.9},` +
			`{"text":"not in the window","score":0.8},` +
			`{"text":"refund window","score":0.7},` +
			`{"text":"lasts","score":0.6}]}`
		body, _ := json.Marshal(map[string]string{"response": payload})
		_, _ = w.Write(body)
	}))
	defer server.Close()

	extractor := NewSpanExtractor(newTestClient(t, server.URL, 1))
	spans, err := extractor.ExtractSpans(context.Background(),
		"how long is the refund window?",
		"the refund window lasts thirty days", 2)
	if err != nil {
		t.Fatalf("ExtractSpans() error = %v", err)
	}
	if len(spans) != 2 {
		t.Fatalf("want 2 spans, got %v", spans)
	}
	if spans[0].Text != "thirty days" || spans[1].Text != "refund window" {
		t.Fatalf("spans = %v", spans)
	}
}
