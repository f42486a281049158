package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate passed with no API key")
	}
	if !strings.Contains(err.Error(), "API Key is required") {
		t.Errorf("unexpected validation error: %v", err)
	}

	cfg.APIKey = "test-key"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestHasValidAPI(t *testing.T) {
	cfg := defaultConfig()
	if cfg.HasValidAPI() {
		t.Error("HasValidAPI true without an API key")
	}
	cfg.APIKey = "  "
	if cfg.HasValidAPI() {
		t.Error("HasValidAPI true with a blank API key")
	}
	cfg.APIKey = "test-key"
	if !cfg.HasValidAPI() {
		t.Error("HasValidAPI false with key and base URL set")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("API_KEY", "env-key")
	t.Setenv("CHAT_MODEL", "env-model")
	t.Setenv("LIVE_INTERVAL_SEC", "9")
	t.Setenv("MIN_TRANSCRIPT_LEN", "not-a-number")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if cfg.APIKey != "env-key" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if cfg.ChatModel != "env-model" {
		t.Errorf("ChatModel = %q", cfg.ChatModel)
	}
	if cfg.LiveIntervalSec != 9 {
		t.Errorf("LiveIntervalSec = %d", cfg.LiveIntervalSec)
	}
	if cfg.MinTranscriptLen != 50 {
		t.Errorf("MinTranscriptLen = %d, want default kept on bad value", cfg.MinTranscriptLen)
	}
}

func TestFillDefaults(t *testing.T) {
	cfg := &Config{LiveIntervalSec: -1, HistoryLimit: 0}
	fillDefaults(cfg)
	if cfg.BaseURL == "" || cfg.ChatModel == "" || cfg.TranscribeModel == "" {
		t.Errorf("defaults not filled: %+v", cfg)
	}
	if cfg.LiveIntervalSec != 5 || cfg.MinTranscriptLen != 50 || cfg.HistoryLimit != 50 {
		t.Errorf("tunable defaults not filled: %+v", cfg)
	}
}
