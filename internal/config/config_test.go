package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Timezone != "UTC" {
		t.Errorf("expected default timezone UTC, got %s", cfg.Timezone)
	}
	if cfg.OpenAIModel != "gpt-4o" {
		t.Errorf("expected default model gpt-4o, got %s", cfg.OpenAIModel)
	}
	if cfg.LLMSchemaAttempts != 3 {
		t.Errorf("expected 3 schema attempts, got %d", cfg.LLMSchemaAttempts)
	}
	if cfg.SlotCandidateLimit != 20 || cfg.SlotPresentLimit != 8 {
		t.Errorf("unexpected slot limits: %d / %d", cfg.SlotCandidateLimit, cfg.SlotPresentLimit)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TIMEZONE", "America/New_York")
	t.Setenv("OPENAI_TIMEOUT", "10s")
	t.Setenv("REDIS_TLS", "true")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("expected port override, got %s", cfg.Port)
	}
	if cfg.Timezone != "America/New_York" {
		t.Errorf("expected timezone override, got %s", cfg.Timezone)
	}
	if cfg.OpenAITimeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %s", cfg.OpenAITimeout)
	}
	if !cfg.RedisTLS {
		t.Error("expected RedisTLS true")
	}
}
