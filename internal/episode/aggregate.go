package episode

// Aggregates holds the derived totals for an ordered step list.
type Aggregates struct {
	StepCount       int
	TotalTokens     int
	TotalCostUSD    float64
	TotalDurationMS int64
	ToolsUsed       []string
}

// ComputeAggregates derives totals from an ordered step list. Cost uses
// plain floating-point accumulation. ToolsUsed keeps distinct tool names in
// first-occurrence order; steps without a tool name are skipped. The result
// is deterministic and ToolsUsed is never nil.
func ComputeAggregates(steps []Step) Aggregates {
	agg := Aggregates{
		StepCount: len(steps),
		ToolsUsed: []string{},
	}

	seen := make(map[string]struct{})
	for _, s := range steps {
		agg.TotalTokens += s.Tokens
		agg.TotalCostUSD += s.CostUSD
		agg.TotalDurationMS += s.DurationMS

		if s.ToolName == "" {
			continue
		}
		if _, ok := seen[s.ToolName]; ok {
			continue
		}
		seen[s.ToolName] = struct{}{}
		agg.ToolsUsed = append(agg.ToolsUsed, s.ToolName)
	}
	return agg
}
