package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/runledger/runledger/internal/config"
	"github.com/runledger/runledger/internal/episode"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	return engine
}

func TestEngine_LoadAndEvaluate(t *testing.T) {
	engine := newTestEngine(t)

	err := engine.LoadRules([]config.RuleConfig{
		{Name: "expensive", Condition: "episode.total_cost_usd > 1.0", Severity: "warning"},
		{Name: "failed", Condition: "episode.status == 'failure'", Severity: "info"},
	})
	if err != nil {
		t.Fatalf("LoadRules() error: %v", err)
	}
	if engine.RuleCount() != 2 {
		t.Fatalf("RuleCount() = %d, want 2", engine.RuleCount())
	}

	ep := &episode.Episode{
		AgentID:      "agent-1",
		Status:       episode.StatusFailure,
		TotalCostUSD: 0.5,
	}
	matched := engine.Evaluate(ep)
	if len(matched) != 1 {
		t.Fatalf("Evaluate() matched %d rules, want 1", len(matched))
	}
	if matched[0].Name != "failed" {
		t.Errorf("matched rule = %q, want \"failed\"", matched[0].Name)
	}

	ep.TotalCostUSD = 2.0
	matched = engine.Evaluate(ep)
	if len(matched) != 2 {
		t.Errorf("Evaluate() matched %d rules, want 2", len(matched))
	}
}

func TestEngine_SkipsInvalidRules(t *testing.T) {
	engine := newTestEngine(t)

	err := engine.LoadRules([]config.RuleConfig{
		{Name: "broken", Condition: "episode.total_cost_usd >"},
		{Name: "non-bool", Condition: "episode.total_cost_usd + 1.0"},
		{Name: "ok", Condition: "episode.step_count > 10"},
	})
	if err != nil {
		t.Fatalf("LoadRules() error: %v", err)
	}
	if engine.RuleCount() != 1 {
		t.Errorf("RuleCount() = %d, want 1 (invalid rules skipped)", engine.RuleCount())
	}
}

func TestEngine_ToolsUsedCondition(t *testing.T) {
	engine := newTestEngine(t)

	err := engine.LoadRules([]config.RuleConfig{
		{Name: "shell-used", Condition: "'shell' in episode.tools_used"},
	})
	if err != nil {
		t.Fatalf("LoadRules() error: %v", err)
	}

	ep := &episode.Episode{AgentID: "a", Status: episode.StatusSuccess, ToolsUsed: []string{"web_search", "shell"}}
	if len(engine.Evaluate(ep)) != 1 {
		t.Error("rule did not fire for episode using shell")
	}

	ep.ToolsUsed = nil
	if len(engine.Evaluate(ep)) != 0 {
		t.Error("rule fired for episode with no tools")
	}
}

func TestEngine_ReloadReplacesRules(t *testing.T) {
	engine := newTestEngine(t)

	if err := engine.LoadRules([]config.RuleConfig{
		{Name: "a", Condition: "episode.step_count > 0"},
		{Name: "b", Condition: "episode.step_count > 1"},
	}); err != nil {
		t.Fatalf("LoadRules() error: %v", err)
	}
	if err := engine.LoadRules([]config.RuleConfig{
		{Name: "c", Condition: "episode.step_count > 2"},
	}); err != nil {
		t.Fatalf("second LoadRules() error: %v", err)
	}
	if engine.RuleCount() != 1 {
		t.Errorf("RuleCount() after reload = %d, want 1", engine.RuleCount())
	}
}

func TestWatcher_FiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "runledger.yaml")
	if err := os.WriteFile(configPath, []byte("rules: []\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	reloaded := make(chan string, 1)
	watcher := NewWatcher(nil)
	if err := watcher.Watch(configPath, func(path string) {
		select {
		case reloaded <- path:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(configPath, []byte("rules:\n  - name: x\n    condition: \"episode.step_count > 0\"\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case path := <-reloaded:
		abs, _ := filepath.Abs(configPath)
		if path != abs {
			t.Errorf("reload path = %q, want %q", path, abs)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not fire within 3s of config write")
	}
}
