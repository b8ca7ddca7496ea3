package config

import (
	"errors"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
)

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

type Config struct {
	ListenAddr            string
	UpstreamBaseURL       string
	UpstreamAPIKey        string
	GenerationModel       string
	TranslationModel      string
	GenerationMaxTokens   int
	GenerationTimeout     time.Duration
	TranslationTimeout    time.Duration
	StreamTimeout         time.Duration
	QueueCapacity         int
	MaxConcurrentUpstream int
	RateLimitPerMinute    int
	RateLimitBackend      string
	RedisURL              string
	MaxPromptChars        int
	DefaultLanguage       string
	TrustProxyHeaders     bool
	CancelOnDisconnect    bool
	LogLevel              string
}

type envConfig struct {
	ListenAddr                string `env:"LISTEN_ADDR" envDefault:":8000"`
	UpstreamBaseURL           string `env:"UPSTREAM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	UpstreamAPIKey            string `env:"UPSTREAM_API_KEY"`
	GenerationModel           string `env:"GENERATION_MODEL" envDefault:"gpt-4"`
	TranslationModel          string `env:"TRANSLATION_MODEL" envDefault:"gpt-3.5-turbo"`
	GenerationMaxTokens       int    `env:"GENERATION_MAX_TOKENS" envDefault:"0"`
	GenerationTimeoutSeconds  int    `env:"GENERATION_TIMEOUT_SECONDS" envDefault:"60"`
	TranslationTimeoutSeconds int    `env:"TRANSLATION_TIMEOUT_SECONDS" envDefault:"30"`
	StreamTimeoutSeconds      int    `env:"STREAM_TIMEOUT_SECONDS" envDefault:"120"`
	QueueCapacity             int    `env:"QUEUE_CAPACITY" envDefault:"100"`
	MaxConcurrentUpstream     int    `env:"MAX_CONCURRENT_UPSTREAM" envDefault:"10"`
	RateLimitPerMinute        int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	RateLimitBackend          string `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	RedisURL                  string `env:"REDIS_URL"`
	MaxPromptChars            int    `env:"MAX_PROMPT_CHARS" envDefault:"1000"`
	DefaultLanguage           string `env:"DEFAULT_LANGUAGE" envDefault:"Hindi"`
	TrustProxyHeaders         bool   `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
	CancelOnDisconnect        bool   `env:"CANCEL_ON_DISCONNECT" envDefault:"false"`
	LogLevel                  string `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (Config, error) {
	var raw envConfig
	if err := cenv.Parse(&raw); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:            strings.TrimSpace(raw.ListenAddr),
		UpstreamBaseURL:       strings.TrimRight(strings.TrimSpace(raw.UpstreamBaseURL), "/"),
		UpstreamAPIKey:        strings.TrimSpace(raw.UpstreamAPIKey),
		GenerationModel:       strings.TrimSpace(raw.GenerationModel),
		TranslationModel:      strings.TrimSpace(raw.TranslationModel),
		GenerationMaxTokens:   raw.GenerationMaxTokens,
		GenerationTimeout:     time.Duration(raw.GenerationTimeoutSeconds) * time.Second,
		TranslationTimeout:    time.Duration(raw.TranslationTimeoutSeconds) * time.Second,
		StreamTimeout:         time.Duration(raw.StreamTimeoutSeconds) * time.Second,
		QueueCapacity:         raw.QueueCapacity,
		MaxConcurrentUpstream: raw.MaxConcurrentUpstream,
		RateLimitPerMinute:    raw.RateLimitPerMinute,
		RateLimitBackend:      strings.ToLower(strings.TrimSpace(raw.RateLimitBackend)),
		RedisURL:              strings.TrimSpace(raw.RedisURL),
		MaxPromptChars:        raw.MaxPromptChars,
		DefaultLanguage:       strings.TrimSpace(raw.DefaultLanguage),
		TrustProxyHeaders:     raw.TrustProxyHeaders,
		CancelOnDisconnect:    raw.CancelOnDisconnect,
		LogLevel:              strings.ToLower(strings.TrimSpace(raw.LogLevel)),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.UpstreamBaseURL == "" {
		return errors.New("UPSTREAM_BASE_URL must not be empty")
	}
	if c.GenerationModel == "" {
		return errors.New("GENERATION_MODEL must not be empty")
	}
	if c.TranslationModel == "" {
		return errors.New("TRANSLATION_MODEL must not be empty")
	}
	if c.GenerationMaxTokens < 0 {
		return errors.New("GENERATION_MAX_TOKENS must be >= 0")
	}
	if c.GenerationTimeout <= 0 {
		return errors.New("GENERATION_TIMEOUT_SECONDS must be > 0")
	}
	if c.TranslationTimeout <= 0 {
		return errors.New("TRANSLATION_TIMEOUT_SECONDS must be > 0")
	}
	if c.StreamTimeout <= 0 {
		return errors.New("STREAM_TIMEOUT_SECONDS must be > 0")
	}
	if c.QueueCapacity <= 0 {
		return errors.New("QUEUE_CAPACITY must be > 0")
	}
	if c.MaxConcurrentUpstream <= 0 {
		return errors.New("MAX_CONCURRENT_UPSTREAM must be > 0")
	}
	if c.RateLimitPerMinute <= 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be > 0")
	}
	switch c.RateLimitBackend {
	case RateLimitBackendMemory:
	case RateLimitBackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL must be set when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return errors.New("RATE_LIMIT_BACKEND must be memory or redis")
	}
	if c.MaxPromptChars <= 0 {
		return errors.New("MAX_PROMPT_CHARS must be > 0")
	}
	if c.DefaultLanguage == "" {
		return errors.New("DEFAULT_LANGUAGE must not be empty")
	}
	return nil
}
