package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel     = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens = 8192

	DefaultCompressThreshold = 16
	DefaultSummarizeWindow   = 10
	DefaultMaxContextChars   = 8000
	DefaultMaxSummaryChars   = 2000
	DefaultMaxMemoryChars    = 1500
	DefaultMaxMemoryFacts    = 20

	DefaultTickSeconds        = 30
	DefaultMinIntervalSeconds = 60

	DefaultWorkers          = 4
	DefaultModelAttempts    = 3
	DefaultModelTimeoutSecs = 600
	DefaultBufSize          = 100
)

type Config struct {
	Agent        AgentConfig        `json:"agent"`
	Provider     ProviderConfig     `json:"provider"`
	Channels     ChannelsConfig     `json:"channels"`
	Conversation ConversationConfig `json:"conversation"`
	Memory       MemoryConfig       `json:"memory"`
	Cron         CronConfig         `json:"cron"`
	Gateway      GatewayConfig      `json:"gateway"`
}

type AgentConfig struct {
	Workspace string `json:"workspace"`
	Model     string `json:"model"`
	MaxTokens int    `json:"maxTokens"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

// ConversationConfig bounds the rolling conversation state.
type ConversationConfig struct {
	CompressThreshold int `json:"compressThreshold"` // buffered messages before compression
	SummarizeWindow   int `json:"summarizeWindow"`   // oldest messages folded per pass
	MaxContextChars   int `json:"maxContextChars"`
	MaxSummaryChars   int `json:"maxSummaryChars"`
	MaxMemoryChars    int `json:"maxMemoryChars"` // memory block budget inside the context
}

type MemoryConfig struct {
	MaxFacts int `json:"maxFacts"`
}

type CronConfig struct {
	TickSeconds        int `json:"tickSeconds"`
	MinIntervalSeconds int `json:"minIntervalSeconds"`
}

type GatewayConfig struct {
	Workers          int `json:"workers"`
	ModelAttempts    int `json:"modelAttempts"`
	ModelTimeoutSecs int `json:"modelTimeoutSecs"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace: filepath.Join(home, ".mnemo", "workspace"),
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Provider: ProviderConfig{},
		Channels: ChannelsConfig{},
		Conversation: ConversationConfig{
			CompressThreshold: DefaultCompressThreshold,
			SummarizeWindow:   DefaultSummarizeWindow,
			MaxContextChars:   DefaultMaxContextChars,
			MaxSummaryChars:   DefaultMaxSummaryChars,
			MaxMemoryChars:    DefaultMaxMemoryChars,
		},
		Memory: MemoryConfig{
			MaxFacts: DefaultMaxMemoryFacts,
		},
		Cron: CronConfig{
			TickSeconds:        DefaultTickSeconds,
			MinIntervalSeconds: DefaultMinIntervalSeconds,
		},
		Gateway: GatewayConfig{
			Workers:          DefaultWorkers,
			ModelAttempts:    DefaultModelAttempts,
			ModelTimeoutSecs: DefaultModelTimeoutSecs,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".mnemo")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DataDir holds the persisted state documents (conversations, memory, jobs).
func DataDir() string {
	return filepath.Join(ConfigDir(), "data")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("MNEMO_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("MNEMO_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("MNEMO_MODEL"); model != "" {
		cfg.Agent.Model = model
	}
	if token := os.Getenv("MNEMO_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if threshold := os.Getenv("MNEMO_COMPRESS_THRESHOLD"); threshold != "" {
		if parsed, err := strconv.Atoi(threshold); err == nil && parsed > 0 {
			cfg.Conversation.CompressThreshold = parsed
		}
	}
	if facts := os.Getenv("MNEMO_MAX_MEMORY_FACTS"); facts != "" {
		if parsed, err := strconv.Atoi(facts); err == nil && parsed > 0 {
			cfg.Memory.MaxFacts = parsed
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Conversation.CompressThreshold <= 0 {
		cfg.Conversation.CompressThreshold = DefaultCompressThreshold
	}
	if cfg.Conversation.SummarizeWindow <= 0 {
		cfg.Conversation.SummarizeWindow = DefaultSummarizeWindow
	}
	if cfg.Conversation.MaxContextChars <= 0 {
		cfg.Conversation.MaxContextChars = DefaultMaxContextChars
	}
	if cfg.Conversation.MaxSummaryChars <= 0 {
		cfg.Conversation.MaxSummaryChars = DefaultMaxSummaryChars
	}
	if cfg.Conversation.MaxMemoryChars <= 0 {
		cfg.Conversation.MaxMemoryChars = DefaultMaxMemoryChars
	}
	if cfg.Memory.MaxFacts <= 0 {
		cfg.Memory.MaxFacts = DefaultMaxMemoryFacts
	}
	if cfg.Cron.TickSeconds <= 0 {
		cfg.Cron.TickSeconds = DefaultTickSeconds
	}
	if cfg.Cron.MinIntervalSeconds <= 0 {
		cfg.Cron.MinIntervalSeconds = DefaultMinIntervalSeconds
	}
	if cfg.Gateway.Workers <= 0 {
		cfg.Gateway.Workers = DefaultWorkers
	}
	if cfg.Gateway.ModelAttempts <= 0 {
		cfg.Gateway.ModelAttempts = DefaultModelAttempts
	}
	if cfg.Gateway.ModelTimeoutSecs <= 0 {
		cfg.Gateway.ModelTimeoutSecs = DefaultModelTimeoutSecs
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
