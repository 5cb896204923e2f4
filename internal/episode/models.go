package episode

import (
	"fmt"
	"time"
)

// Status is the terminal (or in-flight) state of an episode.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
	StatusKilled  Status = "killed"
)

// StepType categorizes a unit of work within an episode.
type StepType string

const (
	StepLLMCall    StepType = "llm_call"
	StepToolCall   StepType = "tool_call"
	StepToolResult StepType = "tool_result"
	StepDecision   StepType = "decision"
	StepError      StepType = "error"
)

// ValidStatus reports whether s is one of the known episode statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusRunning, StatusSuccess, StatusFailure, StatusTimeout, StatusKilled:
		return true
	}
	return false
}

// ValidStepType reports whether t is one of the known step types.
func ValidStepType(t StepType) bool {
	switch t {
	case StepLLMCall, StepToolCall, StepToolResult, StepDecision, StepError:
		return true
	}
	return false
}

// Step is one unit of work within an episode. Steps have no independent
// lifecycle; they are persisted as part of their owning episode.
type Step struct {
	StepIndex     int            `json:"step_index"`
	StepType      StepType       `json:"step_type"`
	AIRRecordID   string         `json:"air_record_id,omitempty"`
	ToolName      string         `json:"tool_name,omitempty"`
	Model         string         `json:"model,omitempty"`
	Provider      string         `json:"provider,omitempty"`
	InputSummary  string         `json:"input_summary,omitempty"`
	OutputSummary string         `json:"output_summary,omitempty"`
	Tokens        int            `json:"tokens"`
	CostUSD       float64        `json:"cost_usd"`
	DurationMS    int64          `json:"duration_ms"`
	// No omitempty: an empty metadata map must survive an encode/decode
	// round trip rather than collapsing to nil.
	Metadata map[string]any `json:"metadata"`
}

// Validate checks the step's numeric and enum invariants.
func (s *Step) Validate() error {
	if s.StepIndex < 0 {
		return &ValidationError{Field: "step_index", Reason: "must be >= 0"}
	}
	if !ValidStepType(s.StepType) {
		return &ValidationError{Field: "step_type", Reason: fmt.Sprintf("unknown step type %q", s.StepType)}
	}
	if s.Tokens < 0 {
		return &ValidationError{Field: "tokens", Reason: "must be >= 0"}
	}
	if s.CostUSD < 0 {
		return &ValidationError{Field: "cost_usd", Reason: "must be >= 0"}
	}
	if s.DurationMS < 0 {
		return &ValidationError{Field: "duration_ms", Reason: "must be >= 0"}
	}
	return nil
}

// Episode is one recorded execution run of an agent. The Total* fields,
// StepCount, and ToolsUsed are derived from Steps and recomputed before
// every write -- stale aggregates are never persisted.
type Episode struct {
	EpisodeID       string         `json:"episode_id" db:"episode_id"`
	AgentID         string         `json:"agent_id" db:"agent_id"`
	Status          Status         `json:"status" db:"status"`
	Steps           []Step         `json:"steps" db:"steps"`
	ToolsUsed       []string       `json:"tools_used" db:"tools_used"`
	TotalTokens     int            `json:"total_tokens" db:"total_tokens"`
	TotalCostUSD    float64        `json:"total_cost_usd" db:"total_cost_usd"`
	TotalDurationMS int64          `json:"total_duration_ms" db:"total_duration_ms"`
	StepCount       int            `json:"step_count" db:"step_count"`
	StartedAt       time.Time      `json:"started_at" db:"started_at"`
	EndedAt         *time.Time     `json:"ended_at,omitempty" db:"ended_at"`
	Metadata        map[string]any `json:"metadata" db:"metadata"`
}

// ComputeAggregates recomputes the derived fields from the current step list.
func (e *Episode) ComputeAggregates() {
	agg := ComputeAggregates(e.Steps)
	e.StepCount = agg.StepCount
	e.TotalTokens = agg.TotalTokens
	e.TotalCostUSD = agg.TotalCostUSD
	e.TotalDurationMS = agg.TotalDurationMS
	e.ToolsUsed = agg.ToolsUsed
}

// Summary returns the lightweight projection used for list views.
func (e *Episode) Summary() *EpisodeSummary {
	return &EpisodeSummary{
		EpisodeID:       e.EpisodeID,
		AgentID:         e.AgentID,
		Status:          e.Status,
		ToolsUsed:       e.ToolsUsed,
		TotalTokens:     e.TotalTokens,
		TotalCostUSD:    e.TotalCostUSD,
		TotalDurationMS: e.TotalDurationMS,
		StepCount:       e.StepCount,
		StartedAt:       e.StartedAt,
		EndedAt:         e.EndedAt,
	}
}

// EpisodeSummary is an Episode without its steps and metadata. List queries
// return summaries so the steps blob is never decoded on the hot path.
type EpisodeSummary struct {
	EpisodeID       string     `json:"episode_id"`
	AgentID         string     `json:"agent_id"`
	Status          Status     `json:"status"`
	ToolsUsed       []string   `json:"tools_used"`
	TotalTokens     int        `json:"total_tokens"`
	TotalCostUSD    float64    `json:"total_cost_usd"`
	TotalDurationMS int64      `json:"total_duration_ms"`
	StepCount       int        `json:"step_count"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// EpisodeCreate is the ingest payload. The store assigns identity and
// timestamps; callers supply everything else.
type EpisodeCreate struct {
	AgentID  string         `json:"agent_id"`
	Status   Status         `json:"status,omitempty"`
	Steps    []Step         `json:"steps,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate checks the payload before it reaches persistence. An empty
// status is allowed and defaults to running at create time.
func (c *EpisodeCreate) Validate() error {
	if c.AgentID == "" {
		return &ValidationError{Field: "agent_id", Reason: "must not be empty"}
	}
	if c.Status != "" && !ValidStatus(c.Status) {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", c.Status)}
	}
	for i := range c.Steps {
		if err := c.Steps[i].Validate(); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}
