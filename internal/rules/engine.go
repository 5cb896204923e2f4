package rules

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/runledger/runledger/internal/config"
	"github.com/runledger/runledger/internal/episode"
)

// Rule is a compiled alert rule ready for repeated evaluation.
type Rule struct {
	Name      string
	Severity  string
	Message   string
	Condition string
	program   cel.Program
}

// Engine compiles alert rules from config and evaluates them against
// ingested episodes. Rules are compiled once at load time; evaluation is
// lock-free apart from a read lock on the rule set and safe for concurrent
// use.
type Engine struct {
	env    *cel.Env
	logger *slog.Logger

	mu    sync.RWMutex
	rules []Rule
}

// NewEngine creates a rule engine with the episode.* variable declarations
// available in rule conditions.
func NewEngine(logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("episode.agent_id", cel.StringType),
		cel.Variable("episode.status", cel.StringType),
		cel.Variable("episode.step_count", cel.IntType),
		cel.Variable("episode.total_tokens", cel.IntType),
		cel.Variable("episode.total_cost_usd", cel.DoubleType),
		cel.Variable("episode.total_duration_ms", cel.IntType),
		cel.Variable("episode.tools_used", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:    env,
		logger: logger.With("component", "rules.Engine"),
	}, nil
}

// LoadRules compiles an ordered slice of RuleConfig, replacing the current
// rule set. Rules that fail compilation are logged and skipped rather than
// failing the entire load, so one bad rule does not prevent ingestion from
// starting.
func (e *Engine) LoadRules(configs []config.RuleConfig) error {
	compiled := make([]Rule, 0, len(configs))

	for i, cfg := range configs {
		prg, err := e.compile(cfg.Condition)
		if err != nil {
			e.logger.Error("skipping rule with invalid condition",
				"rule_name", cfg.Name,
				"index", i,
				"error", err,
			)
			continue
		}
		compiled = append(compiled, Rule{
			Name:      cfg.Name,
			Severity:  cfg.Severity,
			Message:   cfg.Message,
			Condition: cfg.Condition,
			program:   prg,
		})
		e.logger.Info("loaded rule", "name", cfg.Name, "severity", cfg.Severity)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()

	e.logger.Info("rule loading complete",
		"total_configs", len(configs),
		"loaded_rules", len(compiled),
	)
	return nil
}

// compile parses and type-checks a condition, ensuring it evaluates to a
// boolean.
func (e *Engine) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("CEL expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
	}
	return prg, nil
}

// Evaluate runs every loaded rule against the episode and returns the rules
// whose conditions fired. Evaluation errors are logged and treated as
// non-matches so one broken rule cannot block ingestion.
func (e *Engine) Evaluate(ep *episode.Episode) []Rule {
	tools := ep.ToolsUsed
	if tools == nil {
		tools = []string{}
	}
	vars := map[string]interface{}{
		"episode.agent_id":          ep.AgentID,
		"episode.status":            string(ep.Status),
		"episode.step_count":        int64(ep.StepCount),
		"episode.total_tokens":      int64(ep.TotalTokens),
		"episode.total_cost_usd":    ep.TotalCostUSD,
		"episode.total_duration_ms": ep.TotalDurationMS,
		"episode.tools_used":        tools,
	}

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	var matched []Rule
	for _, r := range rules {
		out, _, err := r.program.Eval(vars)
		if err != nil {
			e.logger.Error("rule evaluation error", "rule_name", r.Name, "error", err)
			continue
		}
		fired, ok := out.Value().(bool)
		if !ok {
			e.logger.Error("rule returned non-bool", "rule_name", r.Name)
			continue
		}
		if fired {
			matched = append(matched, r)
		}
	}
	return matched
}

// CheckCondition compiles a condition without loading it, for config
// validation.
func (e *Engine) CheckCondition(expr string) error {
	_, err := e.compile(expr)
	return err
}

// RuleCount returns the number of currently loaded rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}
