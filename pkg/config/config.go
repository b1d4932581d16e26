package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Memory    MemoryConfig    `json:"memory"`
	History   HistoryConfig   `json:"history"`
	Providers ProvidersConfig `json:"providers"`
	Log       LogConfig       `json:"log"`
}

type AgentConfig struct {
	Provider              string   `json:"provider" env:"DOTCHAT_AGENT_PROVIDER"`
	Model                 string   `json:"model" env:"DOTCHAT_AGENT_MODEL"`
	Models                []string `json:"models"`
	SystemPrompt          string   `json:"system_prompt" env:"DOTCHAT_AGENT_SYSTEM_PROMPT"`
	Temperature           float64  `json:"temperature" env:"DOTCHAT_AGENT_TEMPERATURE"`
	MaxTokens             int      `json:"max_tokens" env:"DOTCHAT_AGENT_MAX_TOKENS"`
	MaxTurns              int      `json:"max_turns" env:"DOTCHAT_AGENT_MAX_TURNS"`
	MaxToolIterations     int      `json:"max_tool_iterations" env:"DOTCHAT_AGENT_MAX_TOOL_ITERATIONS"`
	AutoOptimizeThreshold float64  `json:"auto_optimize_threshold" env:"DOTCHAT_AGENT_AUTO_OPTIMIZE_THRESHOLD"`
	AutoHandleToolCalls   bool     `json:"auto_handle_tool_calls" env:"DOTCHAT_AGENT_AUTO_HANDLE_TOOL_CALLS"`
	Workspace             string   `json:"workspace" env:"DOTCHAT_AGENT_WORKSPACE"`
	RestrictToWorkspace   bool     `json:"restrict_to_workspace" env:"DOTCHAT_AGENT_RESTRICT_TO_WORKSPACE"`
}

type MemoryConfig struct {
	Strategy               string         `json:"strategy" env:"DOTCHAT_MEMORY_STRATEGY"`
	PreserveRecentMessages int            `json:"preserve_recent_messages" env:"DOTCHAT_MEMORY_PRESERVE_RECENT_MESSAGES"`
	PreserveSystemPrompts  *bool          `json:"preserve_system_prompts" env:"DOTCHAT_MEMORY_PRESERVE_SYSTEM_PROMPTS"`
	MaxContextUtilization  float64        `json:"max_context_utilization" env:"DOTCHAT_MEMORY_MAX_CONTEXT_UTILIZATION"`
	CompressionThreshold   float64        `json:"compression_threshold" env:"DOTCHAT_MEMORY_COMPRESSION_THRESHOLD"`
	DefaultContextSize     int            `json:"default_context_size" env:"DOTCHAT_MEMORY_DEFAULT_CONTEXT_SIZE"`
	ContextSizes           map[string]int `json:"context_sizes"`
	CacheSize              int            `json:"cache_size" env:"DOTCHAT_MEMORY_CACHE_SIZE"`
	SummaryMaxTokens       int            `json:"summary_max_tokens" env:"DOTCHAT_MEMORY_SUMMARY_MAX_TOKENS"`
}

type HistoryConfig struct {
	Enabled bool   `json:"enabled" env:"DOTCHAT_HISTORY_ENABLED"`
	Path    string `json:"path" env:"DOTCHAT_HISTORY_PATH"`
}

type ProvidersConfig struct {
	OpenRouter OpenRouterConfig `json:"openrouter"`
	OpenAI     OpenAIConfig     `json:"openai"`
}

type OpenRouterConfig struct {
	APIKey  string `json:"api_key" env:"DOTCHAT_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase string `json:"api_base" env:"DOTCHAT_PROVIDERS_OPENROUTER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"DOTCHAT_PROVIDERS_OPENROUTER_PROXY"`
}

type OpenAIConfig struct {
	APIKey       string `json:"api_key" env:"DOTCHAT_PROVIDERS_OPENAI_API_KEY"`
	APIKeyFile   string `json:"api_key_file" env:"DOTCHAT_PROVIDERS_OPENAI_API_KEY_FILE"`
	APIBase      string `json:"api_base" env:"DOTCHAT_PROVIDERS_OPENAI_API_BASE"`
	Organization string `json:"organization" env:"DOTCHAT_PROVIDERS_OPENAI_ORGANIZATION"`
	Proxy        string `json:"proxy,omitempty" env:"DOTCHAT_PROVIDERS_OPENAI_PROXY"`
}

type LogConfig struct {
	Level  string `json:"level" env:"DOTCHAT_LOG_LEVEL"`
	Format string `json:"format" env:"DOTCHAT_LOG_FORMAT"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:              "openrouter",
			Model:                 "openai/gpt-5.2",
			Temperature:           0.7,
			MaxTokens:             8192,
			MaxTurns:              50,
			MaxToolIterations:     20,
			AutoOptimizeThreshold: 0.8,
			AutoHandleToolCalls:   true,
			Workspace:             "~/.dotchat/workspace",
			RestrictToWorkspace:   true,
		},
		Memory: MemoryConfig{
			Strategy:               "summarize",
			PreserveRecentMessages: 5,
			MaxContextUtilization:  0.8,
			CompressionThreshold:   0.85,
			DefaultContextSize:     8192,
			CacheSize:              128,
			SummaryMaxTokens:       900,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "~/.dotchat/state/history.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads the JSON config at path (missing file falls back to
// defaults) and applies DOTCHAT_* environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	return ExpandHome(c.Agent.Workspace)
}

func (c *Config) HistoryPath() string {
	return ExpandHome(c.History.Path)
}

// PreserveSystemPrompts defaults to true when unset in JSON.
func (c *MemoryConfig) PreserveSystem() bool {
	if c.PreserveSystemPrompts == nil {
		return true
	}
	return *c.PreserveSystemPrompts
}

func ExpandHome(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
