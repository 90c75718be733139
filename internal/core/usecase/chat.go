package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rialtolabs/ragcore/internal/core/domain"
	"github.com/rialtolabs/ragcore/internal/core/ports"
	"github.com/rialtolabs/ragcore/internal/intents"
)

// TurnObserver receives the per-turn routing outcome. Satisfied by the
// engine metrics.
type TurnObserver interface {
	ObserveTurn(service, mode string, bestScore float64)
}

// ChatService is the turn-routing state machine: resume an in-flight action
// intent, else detect a new one, else retrieve and choose rag or fallback by
// score threshold. Metrics are recorded on every branch, and a turn never
// ends with an unhandled error or an empty answer.
type ChatService struct {
	pipeline  *Pipeline
	generator ports.Generator
	sessions  ports.SessionStore
	registry  *intents.Registry
	telemetry ports.TelemetryPublisher

	threshold    float64
	historyLimit int

	observer TurnObserver
	service  string
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[string]string // session id -> intent name
}

type ChatDeps struct {
	Pipeline  *Pipeline
	Generator ports.Generator
	Sessions  ports.SessionStore
	Registry  *intents.Registry
	Telemetry ports.TelemetryPublisher

	Threshold    float64
	HistoryLimit int

	Observer TurnObserver
	Service  string
	Logger   *slog.Logger
}

func NewChatService(deps ChatDeps) *ChatService {
	historyLimit := deps.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &ChatService{
		pipeline:     deps.Pipeline,
		generator:    deps.Generator,
		sessions:     deps.Sessions,
		registry:     deps.Registry,
		telemetry:    deps.Telemetry,
		threshold:    deps.Threshold,
		historyLimit: historyLimit,
		observer:     deps.Observer,
		service:      deps.Service,
		logger:       deps.Logger,
		inFlight:     make(map[string]string),
	}
}

// answerPayload is the structured response shape the generation model is
// asked for. Plain-text responses are accepted as-is.
type answerPayload struct {
	Answer       string `json:"answer"`
	Intent       string `json:"intent"`
	SpecificFlag string `json:"specific_flag"`
}

func (s *ChatService) HandleTurn(ctx context.Context, sessionID, query string) domain.TurnResult {
	started := time.Now()
	metrics := domain.TurnMetrics{Threshold: s.threshold}
	var trace []domain.StageOutcome

	answer := func() (turnAnswer string) {
		// a panic in a stage or handler is a fatal turn, not a dead caller
		defer func() {
			if r := recover(); r != nil {
				turnAnswer = s.failsafeAnswer(sessionID, query, fmt.Errorf("panic: %v", r), &metrics)
			}
		}()

		// 1. Resume an in-flight action intent.
		if answer, done := s.resumeInFlight(ctx, sessionID, query, &metrics); done {
			return answer
		}

		// 2. Detect a new action intent.
		if answer, done := s.detectIntent(ctx, sessionID, query, &metrics); done {
			return answer
		}

		// 3. Retrieve.
		history, err := s.sessions.History(ctx, sessionID, s.historyLimit)
		if err != nil {
			s.logger.Warn("history_load_failed", "session", sessionID, "error", err)
		}
		result := s.pipeline.Retrieve(ctx, query, history)
		trace = result.Trace
		metrics.Intent = string(result.Intent)
		metrics.DocsFound = result.Candidates.Len()
		metrics.BestScore = result.BestScore

		// 4. Route.
		if result.Candidates.Len() == 0 || result.BestScore < s.threshold {
			metrics.Mode = domain.RouteFallback
			s.logger.Info("routing_decision", "mode", "fallback",
				"docs_found", metrics.DocsFound, "best_score", metrics.BestScore,
				"threshold", s.threshold, "query", truncate(query, 200))
			return s.respond(ctx, query, history, domain.CandidateSet{}, &metrics)
		}
		metrics.Mode = domain.RouteRAG
		s.logger.Info("routing_decision", "mode", "rag",
			"docs_found", metrics.DocsFound, "best_score", metrics.BestScore,
			"threshold", s.threshold, "query", truncate(query, 200))

		// 5. Respond with retrieved context.
		return s.respond(ctx, query, history, result.Candidates, &metrics)
	}()

	if strings.TrimSpace(answer) == "" {
		answer = s.failsafeAnswer(sessionID, query, fmt.Errorf("empty answer"), &metrics)
	}

	s.appendHistory(ctx, sessionID, query, answer)

	metrics.LatencyMS = time.Since(started).Milliseconds()
	if metrics.Mode == "" {
		metrics.Mode = domain.RouteFallback
	}
	s.recordTurn(ctx, sessionID, metrics)

	return domain.TurnResult{
		SessionID: sessionID,
		Answer:    answer,
		Metrics:   metrics,
		Trace:     trace,
	}
}

func (s *ChatService) resumeInFlight(ctx context.Context, sessionID, query string, metrics *domain.TurnMetrics) (string, bool) {
	s.mu.Lock()
	name, ok := s.inFlight[sessionID]
	s.mu.Unlock()
	if !ok {
		return "", false
	}

	handler, found := s.registry.Resolve(name)
	if !found {
		s.clearInFlight(sessionID)
		return "", false
	}

	result, err := handler.Resume(ctx, sessionID, query)
	if err != nil {
		s.logger.Warn("intent_resume_failed", "intent", name, "error", err)
		s.clearInFlight(sessionID)
		return "", false
	}
	if !result.Handled {
		if !result.InFlight {
			s.clearInFlight(sessionID)
		}
		return "", false
	}

	s.finishIntent(ctx, sessionID, name, result, metrics)
	return result.Answer, true
}

func (s *ChatService) detectIntent(ctx context.Context, sessionID, query string, metrics *domain.TurnMetrics) (string, bool) {
	if s.registry == nil {
		return "", false
	}
	result, name, err := s.registry.Detect(ctx, sessionID, query)
	if err != nil {
		s.logger.Warn("intent_detection_error", "error", err)
	}
	if name == "" || !result.Handled {
		return "", false
	}

	s.finishIntent(ctx, sessionID, name, result, metrics)
	return result.Answer, true
}

func (s *ChatService) finishIntent(ctx context.Context, sessionID, name string, result intents.Result, metrics *domain.TurnMetrics) {
	metrics.Mode = domain.RouteIntent
	metrics.Intent = result.Intent
	metrics.Flag = result.Flag

	if result.InFlight {
		s.mu.Lock()
		s.inFlight[sessionID] = name
		s.mu.Unlock()
	} else {
		s.clearInFlight(sessionID)
	}
	if result.ResetSession {
		if err := s.sessions.Reset(ctx, sessionID); err != nil {
			s.logger.Warn("session_reset_failed", "session", sessionID, "error", err)
		}
	}
	s.logger.Info("routing_decision", "mode", "intent", "intent", name, "flag", result.Flag)
}

func (s *ChatService) clearInFlight(sessionID string) {
	s.mu.Lock()
	delete(s.inFlight, sessionID)
	s.mu.Unlock()
}

const ragPrompt = `Answer the user question using ONLY the context below. If the context does not
contain the answer, say so briefly.
Reply as JSON: {"answer":"...","intent":"...","specific_flag":""}.

Context:
%s

Conversation:
%s

Question: %s`

const fallbackPrompt = `Answer the user question from general knowledge; no documents matched it.
Reply as JSON: {"answer":"...","intent":"...","specific_flag":""}.

Conversation:
%s

Question: %s`

func (s *ChatService) respond(ctx context.Context, query string, history []domain.Turn, candidates domain.CandidateSet, metrics *domain.TurnMetrics) string {
	var prompt string
	if metrics.Mode == domain.RouteRAG {
		prompt = fmt.Sprintf(ragPrompt, renderContext(candidates), formatHistory(history), query)
	} else {
		prompt = fmt.Sprintf(fallbackPrompt, formatHistory(history), query)
	}

	raw, err := s.generator.GenerateJSON(ctx, prompt)
	if err != nil {
		return s.failsafeAnswer("", query, err, metrics)
	}

	answer, payload := parseAnswer(raw)
	if payload.Intent != "" && metrics.Intent == "" {
		metrics.Intent = payload.Intent
	}
	if payload.SpecificFlag != "" {
		metrics.Flag = payload.SpecificFlag
	}
	return answer
}

// parseAnswer accepts either the structured payload or plain text.
func parseAnswer(raw string) (string, answerPayload) {
	var payload answerPayload
	trimmed := strings.TrimSpace(raw)
	jsonPart := extractJSONObject(trimmed)
	if err := json.Unmarshal([]byte(jsonPart), &payload); err == nil && strings.TrimSpace(payload.Answer) != "" {
		return strings.TrimSpace(payload.Answer), payload
	}
	return trimmed, answerPayload{}
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

// failsafeAnswer synthesizes the user-safe error message with a short
// correlation id; the full error stays in the log.
func (s *ChatService) failsafeAnswer(sessionID, query string, err error, metrics *domain.TurnMetrics) string {
	id := uuid.NewString()[:8]
	s.logger.Error("turn_failed",
		"correlation_id", id,
		"session", sessionID,
		"query", truncate(query, 200),
		"docs_found", metrics.DocsFound,
		"mode", string(metrics.Mode),
		"error", err,
	)
	return fmt.Sprintf("Sorry, something went wrong while answering. Reference: %s", id)
}

func (s *ChatService) appendHistory(ctx context.Context, sessionID, query, answer string) {
	now := time.Now().UTC()
	if err := s.sessions.Append(ctx, sessionID, domain.Turn{Role: domain.RoleUser, Content: query, CreatedAt: now}); err != nil {
		s.logger.Warn("history_append_failed", "session", sessionID, "error", err)
		return
	}
	if err := s.sessions.Append(ctx, sessionID, domain.Turn{Role: domain.RoleAssistant, Content: answer, CreatedAt: now}); err != nil {
		s.logger.Warn("history_append_failed", "session", sessionID, "error", err)
	}
}

func (s *ChatService) recordTurn(ctx context.Context, sessionID string, metrics domain.TurnMetrics) {
	s.logger.Info("chat_metrics",
		"mode", string(metrics.Mode),
		"docs_found", metrics.DocsFound,
		"best_score", metrics.BestScore,
		"threshold", metrics.Threshold,
		"intent", metrics.Intent,
		"flag", metrics.Flag,
		"latency_ms", metrics.LatencyMS,
	)
	if s.observer != nil {
		s.observer.ObserveTurn(s.service, string(metrics.Mode), metrics.BestScore)
	}
	if s.telemetry != nil {
		if err := s.telemetry.PublishTurn(ctx, sessionID, metrics); err != nil {
			s.logger.Warn("telemetry_publish_failed", "error", err)
		}
	}
}

func renderContext(candidates domain.CandidateSet) string {
	var b strings.Builder
	for i, c := range candidates.Chunks() {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, c.ShardID, c.Text)
	}
	return b.String()
}
