package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("UPSTREAM_API_KEY", " sk-test ")
	t.Setenv("UPSTREAM_BASE_URL", "https://api.example.com/v1/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != ":8000" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr)
	}
	if cfg.UpstreamBaseURL != "https://api.example.com/v1" || cfg.UpstreamAPIKey != "sk-test" {
		t.Fatalf("unexpected upstream config: %+v", cfg)
	}
	if cfg.GenerationModel != "gpt-4" || cfg.TranslationModel != "gpt-3.5-turbo" {
		t.Fatalf("unexpected models: %q %q", cfg.GenerationModel, cfg.TranslationModel)
	}
	if cfg.StreamTimeout != 120*time.Second || cfg.GenerationTimeout != 60*time.Second || cfg.TranslationTimeout != 30*time.Second {
		t.Fatalf("unexpected timeouts: %+v", cfg)
	}
	if cfg.QueueCapacity != 100 || cfg.MaxConcurrentUpstream != 10 || cfg.RateLimitPerMinute != 60 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if cfg.MaxPromptChars != 1000 || cfg.DefaultLanguage != "Hindi" || cfg.RateLimitBackend != RateLimitBackendMemory {
		t.Fatalf("unexpected request defaults: %+v", cfg)
	}
	if cfg.CancelOnDisconnect || cfg.TrustProxyHeaders {
		t.Fatalf("unexpected flags: %+v", cfg)
	}
}

func TestLoadRejectsRedisBackendWithoutURL(t *testing.T) {
	t.Setenv("RATE_LIMIT_BACKEND", "Redis")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "REDIS_URL") {
		t.Fatalf("expected REDIS_URL error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		ListenAddr:            ":8000",
		UpstreamBaseURL:       "http://example.com",
		GenerationModel:       "g",
		TranslationModel:      "t",
		GenerationTimeout:     time.Second,
		TranslationTimeout:    time.Second,
		StreamTimeout:         time.Second,
		QueueCapacity:         1,
		MaxConcurrentUpstream: 1,
		RateLimitPerMinute:    1,
		RateLimitBackend:      RateLimitBackendMemory,
		MaxPromptChars:        1,
		DefaultLanguage:       "Hindi",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	cases := map[string]func(*Config){
		"QUEUE_CAPACITY":          func(c *Config) { c.QueueCapacity = 0 },
		"MAX_CONCURRENT_UPSTREAM": func(c *Config) { c.MaxConcurrentUpstream = -1 },
		"STREAM_TIMEOUT_SECONDS":  func(c *Config) { c.StreamTimeout = 0 },
		"RATE_LIMIT_BACKEND":      func(c *Config) { c.RateLimitBackend = "memcached" },
		"GENERATION_MAX_TOKENS":   func(c *Config) { c.GenerationMaxTokens = -5 },
	}
	for want, mutate := range cases {
		cfg := valid
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s error, got %v", want, err)
		}
	}
}
