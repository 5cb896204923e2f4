package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/runledger/runledger/internal/alert"
	"github.com/runledger/runledger/internal/api"
	"github.com/runledger/runledger/internal/config"
	"github.com/runledger/runledger/internal/episode"
	"github.com/runledger/runledger/internal/rules"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "runledger",
		Short: "Episode ledger for AI agent executions",
		Long:  "runledger — record, query, and alert on AI agent episodes.\nAn embedded single-node service that ingests step-by-step execution records.",
	}

	var configFile string
	var port int
	var devMode bool

	// ─── start ───
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the runledger ingestion and query server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configFile, port, devMode)
		},
	}
	startCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: runledger.yaml)")
	startCmd.Flags().IntVarP(&port, "port", "p", 0, "Override HTTP port (default: 7311)")
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Dev mode: verbose logs, CORS *")

	// ─── init ───
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}

	// ─── status ───
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show server health and store totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(port)
		},
	}
	statusCmd.Flags().IntVarP(&port, "port", "p", 0, "Server port (default: 7311)")

	// ─── version ───
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("runledger %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", buildDate)
		},
	}

	// ─── episode ───
	episodeCmd := &cobra.Command{
		Use:   "episode",
		Short: "Episode inspection commands",
	}

	var listAgent string
	var listStatus string
	episodeListCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEpisodeList(port, listAgent, listStatus)
		},
	}
	episodeListCmd.Flags().StringVar(&listAgent, "agent", "", "Filter by agent ID")
	episodeListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status")

	episodeShowCmd := &cobra.Command{
		Use:   "show [episode-id]",
		Short: "Show a full episode with its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEpisodeShow(port, args[0])
		},
	}

	episodeCmd.AddCommand(episodeListCmd, episodeShowCmd)

	// ─── rules ───
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Alert rule commands",
	}

	rulesValidateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config and compile rule conditions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesValidate(configFile)
		},
	}
	rulesValidateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")

	rulesReloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Hot-reload alert rules without restart",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			resp, err := http.Post(fmt.Sprintf("http://localhost:%d/v1/rules/reload", p), "application/json", nil)
			if err != nil {
				return fmt.Errorf("failed to connect to runledger: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode == 200 {
				fmt.Println("✓ Rules reloaded")
			} else {
				fmt.Printf("✗ Reload failed (HTTP %d)\n", resp.StatusCode)
			}
			return nil
		},
	}

	rulesCmd.AddCommand(rulesValidateCmd, rulesReloadCmd)

	// ─── mock ───
	mockCmd := &cobra.Command{
		Use:   "mock",
		Short: "Ingest mock episodes for testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMock(port)
		},
	}

	rootCmd.AddCommand(startCmd, initCmd, statusCmd, versionCmd, episodeCmd, rulesCmd, mockCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runStart(configFile string, portOverride int, devMode bool) error {
	// Load config
	cfgLoader := config.NewLoader()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := cfgLoader.Load(configFile); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg := cfgLoader.Get()

	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}
	if devMode {
		cfg.Server.CORS = true
		cfg.Server.LogLevel = "debug"
	}

	// Setup logger
	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	// Initialize episode store
	store := episode.NewSQLiteStore(cfg.Storage.Path)
	if err := store.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	// Initialize alert manager
	alertMgr := alert.NewManager(cfg.Alerts, logger)

	// Sweep stale dedup entries.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			alertMgr.PruneDedup()
		}
	}()

	// Initialize rules engine
	engine, err := rules.NewEngine(logger)
	if err != nil {
		return fmt.Errorf("failed to create rules engine: %w", err)
	}
	if err := engine.LoadRules(cfg.Rules); err != nil {
		logger.Warn("some rules failed to load", "error", err)
	}

	// Hot-reload rules when the config file changes
	if configFile != "" {
		watcher := rules.NewWatcher(logger)
		if err := watcher.Watch(configFile, func(path string) {
			if err := cfgLoader.Reload(); err != nil {
				logger.Error("config reload failed", "error", err)
				return
			}
			if err := engine.LoadRules(cfgLoader.Get().Rules); err != nil {
				logger.Error("rule reload failed", "error", err)
				return
			}
			logger.Info("rules reloaded", "count", engine.RuleCount())
		}); err != nil {
			logger.Error("failed to watch config for hot-reload", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	// Initialize API server
	apiServer := api.NewServer(cfg.Server, store, cfgLoader, engine, alertMgr, logger)

	// Print startup banner
	fmt.Println()
	fmt.Println("  runledger v" + version)
	fmt.Println()
	fmt.Printf("  → API:      http://localhost:%d/v1\n", cfg.Server.Port)
	fmt.Printf("  → Stream:   ws://localhost:%d/v1/episodes/stream\n", cfg.Server.Port)
	fmt.Printf("  → Storage:  %s\n", cfg.Storage.Path)
	fmt.Printf("  → Rules:    %d loaded\n", engine.RuleCount())
	if alertMgr.HasSenders() {
		fmt.Println("  → Alerts:   enabled")
	}
	fmt.Println()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		_ = apiServer.Shutdown(shutCtx)
	}()

	logger.Info("starting HTTP server", "port", cfg.Server.Port)
	if err := apiServer.Start(api.APIAddr(cfg.Server.Port)); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// ─── Init ───

func runInit() error {
	configPath := "runledger.yaml"
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("  ⚠ %s already exists (skipping)\n", configPath)
		return nil
	}
	if err := config.GenerateDefault(configPath); err != nil {
		return err
	}
	fmt.Printf("  ✓ Generated %s\n", configPath)
	fmt.Println()
	fmt.Println("  Next steps:")
	fmt.Println("    runledger start             # Start the server")
	fmt.Println("    runledger mock              # Ingest sample episodes")
	fmt.Println("    runledger episode list      # Inspect what was stored")
	return nil
}

// ─── Status ───

func runStatus(port int) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/v1/health", p))
	if err != nil {
		fmt.Printf("runledger is not running on port %d\n", p)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	var health map[string]interface{}
	if err := decodeJSON(resp, &health); err != nil {
		return err
	}

	fmt.Println("runledger Status")
	fmt.Println("────────────────")
	for k, v := range health {
		fmt.Printf("  %-20s %v\n", k+":", v)
	}

	statsResp, err := http.Get(fmt.Sprintf("http://localhost:%d/v1/stats", p))
	if err != nil {
		return nil
	}
	defer func() { _ = statsResp.Body.Close() }()
	var stats map[string]interface{}
	if err := decodeJSON(statsResp, &stats); err != nil {
		return err
	}
	for k, v := range stats {
		fmt.Printf("  %-20s %v\n", k+":", v)
	}
	return nil
}

// ─── Episode Commands ───

func runEpisodeList(port int, agent, status string) error {
	p := resolvePort(port)
	url := fmt.Sprintf("http://localhost:%d/v1/episodes?limit=20", p)
	if agent != "" {
		url += "&agent_id=" + agent
	}
	if status != "" {
		url += "&status=" + status
	}

	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	episodes, ok := result["episodes"].([]interface{})
	if !ok || len(episodes) == 0 {
		fmt.Println("No episodes found.")
		return nil
	}

	fmt.Printf("%-28s %-15s %-10s %-7s %-8s %-10s %s\n", "EPISODE", "AGENT", "STATUS", "STEPS", "TOKENS", "COST", "STARTED")
	fmt.Println(strings.Repeat("─", 100))
	for _, e := range episodes {
		m := e.(map[string]interface{})
		fmt.Printf("%-28v %-15v %-10v %-7v %-8v $%-9.4f %v\n",
			m["episode_id"], truncate(str(m["agent_id"]), 15), m["status"],
			num(m["step_count"]), num(m["total_tokens"]), num(m["total_cost_usd"]), m["started_at"])
	}
	fmt.Printf("\n%v total\n", result["total"])
	return nil
}

func runEpisodeShow(port int, episodeID string) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/v1/episodes/%s", p, episodeID))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		fmt.Printf("Episode %s not found.\n", episodeID)
		return nil
	}

	var ep map[string]interface{}
	if err := decodeJSON(resp, &ep); err != nil {
		return err
	}

	fmt.Printf("Episode:  %s\n", ep["episode_id"])
	fmt.Printf("Agent:    %s\n", ep["agent_id"])
	fmt.Printf("Status:   %s\n", ep["status"])
	fmt.Printf("Tokens:   %v\n", num(ep["total_tokens"]))
	fmt.Printf("Cost:     $%.4f\n", num(ep["total_cost_usd"]))
	fmt.Printf("Duration: %vms\n", num(ep["total_duration_ms"]))
	fmt.Printf("Started:  %v\n\n", ep["started_at"])

	steps, ok := ep["steps"].([]interface{})
	if ok {
		for i, s := range steps {
			m := s.(map[string]interface{})
			name := str(m["tool_name"])
			if name == "" {
				name = str(m["model"])
			}
			fmt.Printf("  %d. [%s] %s (%v tokens, %vms)\n", i+1, m["step_type"], name, num(m["tokens"]), num(m["duration_ms"]))
		}
	}
	return nil
}

// ─── Rules Validate ───

func runRulesValidate(configFile string) error {
	path := configFile
	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return fmt.Errorf("no config file found, run 'runledger init' to create one")
	}

	loader := config.NewLoader()
	if err := loader.Load(path); err != nil {
		fmt.Printf("✗ Invalid config: %s\n", err)
		return err
	}

	cfg := loader.Get()
	fmt.Printf("✓ Config file valid: %s\n", path)
	fmt.Printf("  Rules:   %d\n", len(cfg.Rules))
	fmt.Printf("  Storage: %s\n", cfg.Storage.Path)
	fmt.Printf("  Port:    %d\n", cfg.Server.Port)

	engine, err := rules.NewEngine(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		return fmt.Errorf("failed to create rules engine: %w", err)
	}
	for _, r := range cfg.Rules {
		if err := engine.CheckCondition(r.Condition); err != nil {
			fmt.Printf("  ✗ Rule %q: %s\n", r.Name, err)
		} else {
			fmt.Printf("  ✓ Rule %q: condition valid\n", r.Name)
		}
	}
	return nil
}

// ─── Mock ───

func runMock(port int) error {
	p := resolvePort(port)
	fmt.Printf("Ingesting mock episodes to localhost:%d...\n\n", p)

	client := &http.Client{Timeout: 5 * time.Second}

	payloads := []episode.EpisodeCreate{
		{
			AgentID: "mock-researcher",
			Status:  episode.StatusSuccess,
			Steps: []episode.Step{
				{StepIndex: 0, StepType: episode.StepLLMCall, Model: "gpt-4o", Provider: "openai", Tokens: 820, CostUSD: 0.012, DurationMS: 1900},
				{StepIndex: 1, StepType: episode.StepToolCall, ToolName: "web_search", DurationMS: 640},
				{StepIndex: 2, StepType: episode.StepToolResult, ToolName: "web_search", DurationMS: 15},
				{StepIndex: 3, StepType: episode.StepLLMCall, Model: "gpt-4o", Provider: "openai", Tokens: 1200, CostUSD: 0.020, DurationMS: 2400},
			},
			Metadata: map[string]any{"source": "mock"},
		},
		{
			AgentID: "mock-coder",
			Status:  episode.StatusFailure,
			Steps: []episode.Step{
				{StepIndex: 0, StepType: episode.StepLLMCall, Model: "claude-sonnet", Provider: "anthropic", Tokens: 640, CostUSD: 0.008, DurationMS: 1400},
				{StepIndex: 1, StepType: episode.StepError, InputSummary: "compile failed", DurationMS: 5},
			},
			Metadata: map[string]any{"source": "mock"},
		},
		{
			AgentID: "mock-researcher",
			Steps:   nil,
		},
	}

	for _, payload := range payloads {
		body, _ := json.Marshal(payload)
		resp, err := client.Post(fmt.Sprintf("http://localhost:%d/v1/episodes", p), "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to connect (is runledger running?): %w", err)
		}
		var created map[string]interface{}
		_ = decodeJSON(resp, &created)
		_ = resp.Body.Close()
		fmt.Printf("  ✓ %s → %v (%v)\n", payload.AgentID, created["episode_id"], created["status"])
	}

	fmt.Println("\n  ✓ Mock episodes ingested. Try 'runledger episode list'.")
	return nil
}

// ─── Shared Helpers ───

func findConfigFile() string {
	candidates := []string{
		"runledger.yaml",
		"runledger.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "runledger", "config.yaml"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func resolvePort(port int) int {
	if port == 0 {
		return 7311
	}
	return port
}

func decodeJSON(resp *http.Response, v interface{}) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-2] + ".."
}

func str(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func num(v interface{}) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}
