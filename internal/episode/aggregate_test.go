package episode

import (
	"math"
	"reflect"
	"testing"
)

func TestComputeAggregates_Totals(t *testing.T) {
	steps := []Step{
		{StepIndex: 0, StepType: StepLLMCall, Tokens: 100, CostUSD: 0.003, DurationMS: 500},
		{StepIndex: 1, StepType: StepToolCall, ToolName: "web_search", Tokens: 200, CostUSD: 0.006, DurationMS: 800},
		{StepIndex: 2, StepType: StepToolCall, ToolName: "web_search", Tokens: 150, CostUSD: 0.005, DurationMS: 600},
		{StepIndex: 3, StepType: StepToolCall, ToolName: "calculator", Tokens: 50, CostUSD: 0.001, DurationMS: 100},
	}

	agg := ComputeAggregates(steps)

	if agg.StepCount != 4 {
		t.Errorf("StepCount = %d, want 4", agg.StepCount)
	}
	if agg.TotalTokens != 500 {
		t.Errorf("TotalTokens = %d, want 500", agg.TotalTokens)
	}
	if math.Abs(agg.TotalCostUSD-0.015) > 1e-9 {
		t.Errorf("TotalCostUSD = %f, want 0.015", agg.TotalCostUSD)
	}
	if agg.TotalDurationMS != 2000 {
		t.Errorf("TotalDurationMS = %d, want 2000", agg.TotalDurationMS)
	}
	if !reflect.DeepEqual(agg.ToolsUsed, []string{"web_search", "calculator"}) {
		t.Errorf("ToolsUsed = %v, want [web_search calculator]", agg.ToolsUsed)
	}
}

func TestComputeAggregates_Empty(t *testing.T) {
	agg := ComputeAggregates(nil)

	if agg.StepCount != 0 || agg.TotalTokens != 0 || agg.TotalCostUSD != 0 || agg.TotalDurationMS != 0 {
		t.Errorf("empty steps produced non-zero totals: %+v", agg)
	}
	if agg.ToolsUsed == nil {
		t.Error("ToolsUsed is nil, want empty slice")
	}
	if len(agg.ToolsUsed) != 0 {
		t.Errorf("ToolsUsed = %v, want []", agg.ToolsUsed)
	}
}

func TestComputeAggregates_ToolOrder(t *testing.T) {
	steps := []Step{
		{StepIndex: 0, StepType: StepToolCall, ToolName: "a"},
		{StepIndex: 1, StepType: StepToolCall, ToolName: "b"},
		{StepIndex: 2, StepType: StepToolCall, ToolName: "a"},
		{StepIndex: 3, StepType: StepToolCall, ToolName: "c"},
	}

	agg := ComputeAggregates(steps)
	if !reflect.DeepEqual(agg.ToolsUsed, []string{"a", "b", "c"}) {
		t.Errorf("ToolsUsed = %v, want [a b c]", agg.ToolsUsed)
	}
}

func TestComputeAggregates_SkipsEmptyToolNames(t *testing.T) {
	steps := []Step{
		{StepIndex: 0, StepType: StepLLMCall, Tokens: 10},
		{StepIndex: 1, StepType: StepToolCall, ToolName: "calc"},
	}

	agg := ComputeAggregates(steps)
	if !reflect.DeepEqual(agg.ToolsUsed, []string{"calc"}) {
		t.Errorf("ToolsUsed = %v, want [calc]", agg.ToolsUsed)
	}
}
