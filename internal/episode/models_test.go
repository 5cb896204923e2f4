package episode

import (
	"reflect"
	"testing"
)

func TestStep_ValidateMinimal(t *testing.T) {
	s := Step{StepIndex: 0, StepType: StepLLMCall}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
	if s.Tokens != 0 || s.CostUSD != 0 || s.DurationMS != 0 {
		t.Errorf("zero-value numeric fields changed: %+v", s)
	}
}

func TestStep_ValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		step Step
	}{
		{"negative step_index", Step{StepIndex: -1, StepType: StepLLMCall}},
		{"unknown step_type", Step{StepIndex: 0, StepType: "reticulate"}},
		{"negative tokens", Step{StepIndex: 0, StepType: StepLLMCall, Tokens: -1}},
		{"negative cost", Step{StepIndex: 0, StepType: StepLLMCall, CostUSD: -0.1}},
		{"negative duration", Step{StepIndex: 0, StepType: StepLLMCall, DurationMS: -5}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.step.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error for %s", tc.name)
			}
		})
	}
}

func TestEpisodeCreate_Validate(t *testing.T) {
	payload := EpisodeCreate{AgentID: "test-agent"}
	if err := payload.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}

	payload = EpisodeCreate{}
	if err := payload.Validate(); err == nil {
		t.Error("Validate() = nil for empty agent_id, want error")
	}

	payload = EpisodeCreate{AgentID: "a", Status: "exploded"}
	if err := payload.Validate(); err == nil {
		t.Error("Validate() = nil for unknown status, want error")
	}

	payload = EpisodeCreate{
		AgentID: "a",
		Steps:   []Step{{StepIndex: -1, StepType: StepLLMCall}},
	}
	if err := payload.Validate(); err == nil {
		t.Error("Validate() = nil for invalid nested step, want error")
	}
}

func TestEpisode_ComputeAggregatesInPlace(t *testing.T) {
	e := &Episode{
		AgentID: "agent-1",
		Steps: []Step{
			{StepIndex: 0, StepType: StepLLMCall, Tokens: 100, CostUSD: 0.003, DurationMS: 500},
			{StepIndex: 1, StepType: StepToolCall, ToolName: "web_search", Tokens: 200, CostUSD: 0.006, DurationMS: 800},
		},
	}
	e.ComputeAggregates()

	if e.StepCount != 2 {
		t.Errorf("StepCount = %d, want 2", e.StepCount)
	}
	if e.TotalTokens != 300 {
		t.Errorf("TotalTokens = %d, want 300", e.TotalTokens)
	}
	if e.TotalDurationMS != 1300 {
		t.Errorf("TotalDurationMS = %d, want 1300", e.TotalDurationMS)
	}
	if !reflect.DeepEqual(e.ToolsUsed, []string{"web_search"}) {
		t.Errorf("ToolsUsed = %v, want [web_search]", e.ToolsUsed)
	}
}

func TestStatusValues(t *testing.T) {
	for _, s := range []Status{StatusRunning, StatusSuccess, StatusFailure, StatusTimeout, StatusKilled} {
		if !ValidStatus(s) {
			t.Errorf("ValidStatus(%q) = false", s)
		}
	}
	if ValidStatus("paused") {
		t.Error("ValidStatus(\"paused\") = true, want false")
	}
}

func TestStepTypeValues(t *testing.T) {
	for _, st := range []StepType{StepLLMCall, StepToolCall, StepToolResult, StepDecision, StepError} {
		if !ValidStepType(st) {
			t.Errorf("ValidStepType(%q) = false", st)
		}
	}
	if ValidStepType("nap") {
		t.Error("ValidStepType(\"nap\") = true, want false")
	}
}
