package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/dotsetgreg/dotchat/pkg/agent"
	"github.com/dotsetgreg/dotchat/pkg/config"
	"github.com/dotsetgreg/dotchat/pkg/history"
	"github.com/dotsetgreg/dotchat/pkg/logger"
	"github.com/dotsetgreg/dotchat/pkg/memory"
	"github.com/dotsetgreg/dotchat/pkg/providers"
	"github.com/dotsetgreg/dotchat/pkg/tools"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

const appName = "dotchat"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	fmt.Printf("  Go: %s\n", runtime.Version())
}

// runtimeParts bundles everything a session command needs.
type runtimeParts struct {
	cfg          *config.Config
	orchestrator *agent.Orchestrator
	registry     *tools.Registry
	store        history.Store
}

func (rt *runtimeParts) close() {
	if rt.registry != nil {
		if err := rt.registry.Close(); err != nil {
			logger.WarnCF("main", "Tool teardown failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			logger.WarnCF("main", "History teardown failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

func buildRuntime(configPath string) (*runtimeParts, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	if err := providers.ValidateProviderConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating provider: %w", err)
	}

	mem, err := memory.NewManager(provider, memory.Config{
		PreserveRecentMessages:    cfg.Memory.PreserveRecentMessages,
		DisableSystemPreservation: !cfg.Memory.PreserveSystem(),
		MaxContextUtilization:     cfg.Memory.MaxContextUtilization,
		CompressionThreshold:      cfg.Memory.CompressionThreshold,
		DefaultContextSize:        cfg.Memory.DefaultContextSize,
		ContextSizes:              cfg.Memory.ContextSizes,
		CacheSize:                 cfg.Memory.CacheSize,
		SummaryMaxTokens:          cfg.Memory.SummaryMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing memory subsystem: %w", err)
	}

	workspace := cfg.WorkspacePath()
	if workspace != "" {
		if err := os.MkdirAll(workspace, 0o755); err != nil {
			return nil, fmt.Errorf("creating workspace: %w", err)
		}
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewClockTool())
	registry.Register(tools.NewReadFileTool(workspace, cfg.Agent.RestrictToWorkspace))
	registry.Register(tools.NewWriteFileTool(workspace, cfg.Agent.RestrictToWorkspace))
	registry.Register(tools.NewListDirTool(workspace, cfg.Agent.RestrictToWorkspace))
	registry.Register(tools.NewShellTool(workspace))

	var store history.Store
	if cfg.History.Enabled {
		s, err := history.OpenSQLite(cfg.HistoryPath())
		if err != nil {
			// Transcripts are a convenience; the session still works.
			logger.WarnCF("main", "History store unavailable", map[string]interface{}{
				"path":  cfg.HistoryPath(),
				"error": err.Error(),
			})
		} else {
			store = s
		}
	}

	orchestrator, err := agent.NewOrchestrator(agent.Options{
		Provider:    provider,
		Memory:      mem,
		Store:       store,
		ToolHandler: registry.Handler(),
		Tools:       registry.ToProviderDefs(),
		Config:      cfg.Agent,
	})
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	logger.InfoCF("main", "Runtime initialized", map[string]interface{}{
		"provider": providers.ActiveProviderName(cfg),
		"model":    orchestrator.Model(),
		"tools":    registry.Count(),
	})
	return &runtimeParts{
		cfg:          cfg,
		orchestrator: orchestrator,
		registry:     registry,
		store:        store,
	}, nil
}

func defaultConfigPath() string {
	return config.ExpandHome("~/.dotchat/config.json")
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
