package domain

import "time"

// RoutingDecision is the per-turn branch taken by the orchestrator.
type RoutingDecision string

const (
	RouteIntent   RoutingDecision = "intent"
	RouteRAG      RoutingDecision = "rag"
	RouteFallback RoutingDecision = "fallback"
)

// TurnMetrics is recorded once per turn, on every branch.
type TurnMetrics struct {
	Mode      RoutingDecision `json:"mode"`
	DocsFound int             `json:"docs_found"`
	BestScore float64         `json:"best_score"`
	Threshold float64         `json:"threshold"`
	Intent    string          `json:"intent,omitempty"`
	Flag      string          `json:"flag,omitempty"`
	LatencyMS int64           `json:"latency_ms"`
}

// TurnResult is what a single orchestrated turn produces.
type TurnResult struct {
	SessionID string
	Answer    string
	Metrics   TurnMetrics
	Trace     []StageOutcome
}

// StageStatus is the typed outcome of one pipeline stage.
type StageStatus string

const (
	StageOK       StageStatus = "ok"
	StageSkipped  StageStatus = "skipped"
	StageDegraded StageStatus = "degraded"
)

// StageOutcome records how a stage ended. A degraded stage fell back to
// identity or passthrough; the reason carries the originating failure.
type StageOutcome struct {
	Stage    string
	Status   StageStatus
	Reason   string
	In       int
	Out      int
	Duration time.Duration
}
