package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func clearEnvOverrides(t *testing.T) {
	t.Helper()
	t.Setenv("MNEMO_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("MNEMO_BASE_URL", "")
	t.Setenv("MNEMO_MODEL", "")
	t.Setenv("MNEMO_TELEGRAM_TOKEN", "")
	t.Setenv("MNEMO_COMPRESS_THRESHOLD", "")
	t.Setenv("MNEMO_MAX_MEMORY_FACTS", "")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Agent.Model != DefaultModel {
		t.Errorf("model = %q, want %q", cfg.Agent.Model, DefaultModel)
	}
	if cfg.Conversation.CompressThreshold != DefaultCompressThreshold {
		t.Errorf("compressThreshold = %d, want %d", cfg.Conversation.CompressThreshold, DefaultCompressThreshold)
	}
	if cfg.Conversation.SummarizeWindow != DefaultSummarizeWindow {
		t.Errorf("summarizeWindow = %d, want %d", cfg.Conversation.SummarizeWindow, DefaultSummarizeWindow)
	}
	if cfg.Memory.MaxFacts != DefaultMaxMemoryFacts {
		t.Errorf("maxFacts = %d, want %d", cfg.Memory.MaxFacts, DefaultMaxMemoryFacts)
	}
	if cfg.Cron.TickSeconds != DefaultTickSeconds {
		t.Errorf("tickSeconds = %d, want %d", cfg.Cron.TickSeconds, DefaultTickSeconds)
	}
	if cfg.Gateway.Workers != DefaultWorkers {
		t.Errorf("workers = %d, want %d", cfg.Gateway.Workers, DefaultWorkers)
	}
	if cfg.Agent.Workspace == "" {
		t.Error("workspace should not be empty")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnvOverrides(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Agent.Model != DefaultModel {
		t.Errorf("expected default model %q, got %q", DefaultModel, cfg.Agent.Model)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnvOverrides(t)

	cfgDir := filepath.Join(tmpDir, ".mnemo")
	os.MkdirAll(cfgDir, 0755)

	testCfg := map[string]any{
		"agent": map[string]any{
			"model":     "claude-opus-4-20250514",
			"maxTokens": 4096,
		},
		"conversation": map[string]any{
			"compressThreshold": 8,
		},
	}
	data, _ := json.Marshal(testCfg)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), data, 0644)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Agent.Model != "claude-opus-4-20250514" {
		t.Errorf("model = %q", cfg.Agent.Model)
	}
	if cfg.Conversation.CompressThreshold != 8 {
		t.Errorf("compressThreshold = %d, want 8", cfg.Conversation.CompressThreshold)
	}
	// Unset fields fall back to defaults.
	if cfg.Conversation.SummarizeWindow != DefaultSummarizeWindow {
		t.Errorf("summarizeWindow = %d, want default", cfg.Conversation.SummarizeWindow)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnvOverrides(t)

	t.Setenv("MNEMO_API_KEY", "sk-test-123")
	t.Setenv("MNEMO_MODEL", "claude-haiku-4-5")
	t.Setenv("MNEMO_COMPRESS_THRESHOLD", "12")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.APIKey != "sk-test-123" {
		t.Errorf("apiKey = %q", cfg.Provider.APIKey)
	}
	if cfg.Agent.Model != "claude-haiku-4-5" {
		t.Errorf("model = %q", cfg.Agent.Model)
	}
	if cfg.Conversation.CompressThreshold != 12 {
		t.Errorf("compressThreshold = %d, want 12", cfg.Conversation.CompressThreshold)
	}
}

func TestLoadConfig_OpenAIKeySetsProviderType(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnvOverrides(t)

	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.Type != "openai" {
		t.Errorf("provider type = %q, want openai", cfg.Provider.Type)
	}
	if cfg.Provider.APIKey != "sk-openai" {
		t.Errorf("apiKey = %q", cfg.Provider.APIKey)
	}
}

func TestLoadConfig_BadJSON(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnvOverrides(t)

	cfgDir := filepath.Join(tmpDir, ".mnemo")
	os.MkdirAll(cfgDir, 0755)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{not json"), 0644)

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnvOverrides(t)

	cfg := DefaultConfig()
	cfg.Provider.APIKey = "sk-saved"
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if loaded.Provider.APIKey != "sk-saved" {
		t.Errorf("apiKey = %q after round trip", loaded.Provider.APIKey)
	}
}
