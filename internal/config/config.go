package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the interview service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	OTLPEndpoint string

	LLMMode                   string
	GeminiAPIKey              string
	GeminiBaseURL             string
	Model                     string
	ChatTemperature           float64
	ReportTemperature         float64
	LLMHTTPURL                string
	LLMHTTPStreamStrict       bool
	FallbackFirstDeltaTimeout time.Duration

	ChatMaxAttempts   int
	ReportMaxAttempts int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	ChatTimeout       time.Duration
	ReportTimeout     time.Duration

	SessionStoreDSN    string
	RecordsDatabaseURL string
	ReportDir          string

	JobDescriptionBudget       int
	ResumeBudget               int
	ReportJobDescriptionBudget int
	MaxResumeChars             int
}

// Defaults returns the settings used when neither a config file nor the
// environment overrides them.
func Defaults() Config {
	return Config{
		BindAddr:         ":8080",
		ShutdownTimeout:  15 * time.Second,
		MetricsNamespace: "interviewer",
		LogLevel:         "info",
		LogFormat:        "text",

		LLMMode:                   "auto",
		Model:                     "gemini-2.0-flash-lite",
		ChatTemperature:           0.7,
		ReportTemperature:         0.1,
		FallbackFirstDeltaTimeout: 4 * time.Second,

		ChatMaxAttempts:   5,
		ReportMaxAttempts: 10,
		RetryBaseDelay:    250 * time.Millisecond,
		RetryMaxDelay:     4 * time.Second,
		ChatTimeout:       60 * time.Second,
		ReportTimeout:     90 * time.Second,

		ReportDir: "reports",

		JobDescriptionBudget:       800,
		ResumeBudget:               1000,
		ReportJobDescriptionBudget: 500,
		MaxResumeChars:             20000,
	}
}

// Load starts from Defaults, overlays the TOML file named by
// INTERVIEWER_CONFIG when set, then applies environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := stringsTrimSpace("INTERVIEWER_CONFIG"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOrDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.OTLPEndpoint = envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.LLMMode = envOrDefault("LLM_MODE", cfg.LLMMode)
	cfg.GeminiAPIKey = envOrDefault("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.GeminiBaseURL = envOrDefault("GEMINI_BASE_URL", cfg.GeminiBaseURL)
	cfg.Model = envOrDefault("LLM_MODEL", cfg.Model)
	cfg.LLMHTTPURL = envOrDefault("LLM_HTTP_URL", cfg.LLMHTTPURL)
	cfg.SessionStoreDSN = envOrDefault("SESSION_STORE_DSN", cfg.SessionStoreDSN)
	cfg.RecordsDatabaseURL = envOrDefault("DATABASE_URL", cfg.RecordsDatabaseURL)
	cfg.ReportDir = envOrDefault("REPORT_DIR", cfg.ReportDir)

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.ChatTemperature, err = floatFromEnv("LLM_CHAT_TEMPERATURE", cfg.ChatTemperature); err != nil {
		return Config{}, err
	}
	if cfg.ReportTemperature, err = floatFromEnv("LLM_REPORT_TEMPERATURE", cfg.ReportTemperature); err != nil {
		return Config{}, err
	}
	if cfg.LLMHTTPStreamStrict, err = boolFromEnv("LLM_HTTP_STREAM_STRICT", cfg.LLMHTTPStreamStrict); err != nil {
		return Config{}, err
	}
	if cfg.FallbackFirstDeltaTimeout, err = durationFromEnv("LLM_FALLBACK_FIRST_DELTA_TIMEOUT", cfg.FallbackFirstDeltaTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ChatMaxAttempts, err = intFromEnv("LLM_CHAT_MAX_ATTEMPTS", cfg.ChatMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.ReportMaxAttempts, err = intFromEnv("LLM_REPORT_MAX_ATTEMPTS", cfg.ReportMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.RetryBaseDelay, err = durationFromEnv("LLM_RETRY_BASE_DELAY", cfg.RetryBaseDelay); err != nil {
		return Config{}, err
	}
	if cfg.RetryMaxDelay, err = durationFromEnv("LLM_RETRY_MAX_DELAY", cfg.RetryMaxDelay); err != nil {
		return Config{}, err
	}
	if cfg.ChatTimeout, err = durationFromEnv("LLM_CHAT_TIMEOUT", cfg.ChatTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ReportTimeout, err = durationFromEnv("LLM_REPORT_TIMEOUT", cfg.ReportTimeout); err != nil {
		return Config{}, err
	}
	if cfg.JobDescriptionBudget, err = intFromEnv("PROMPT_JOB_DESCRIPTION_CHARS", cfg.JobDescriptionBudget); err != nil {
		return Config{}, err
	}
	if cfg.ResumeBudget, err = intFromEnv("PROMPT_RESUME_CHARS", cfg.ResumeBudget); err != nil {
		return Config{}, err
	}
	if cfg.ReportJobDescriptionBudget, err = intFromEnv("PROMPT_REPORT_JOB_DESCRIPTION_CHARS", cfg.ReportJobDescriptionBudget); err != nil {
		return Config{}, err
	}
	if cfg.MaxResumeChars, err = intFromEnv("MAX_RESUME_CHARS", cfg.MaxResumeChars); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.LLMMode) {
	case "auto", "gemini", "http", "mock":
	default:
		return fmt.Errorf("LLM_MODE must be one of auto, gemini, http, mock")
	}
	if strings.EqualFold(c.LLMMode, "http") && c.LLMHTTPURL == "" {
		return fmt.Errorf("LLM_HTTP_URL is required when LLM_MODE=http")
	}
	if c.ChatTemperature < 0 || c.ChatTemperature > 2 || c.ReportTemperature < 0 || c.ReportTemperature > 2 {
		return fmt.Errorf("LLM temperatures must be within [0, 2]")
	}
	if c.ChatMaxAttempts <= 0 || c.ReportMaxAttempts <= 0 {
		return fmt.Errorf("LLM max attempts must be positive")
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("LLM_RETRY_MAX_DELAY must be >= LLM_RETRY_BASE_DELAY > 0")
	}
	if c.ChatTimeout < time.Second || c.ReportTimeout < time.Second {
		return fmt.Errorf("LLM timeouts must be at least 1s")
	}
	if c.JobDescriptionBudget <= 0 || c.ResumeBudget <= 0 || c.ReportJobDescriptionBudget <= 0 {
		return fmt.Errorf("prompt budgets must be positive")
	}
	if c.MaxResumeChars < c.ResumeBudget {
		return fmt.Errorf("MAX_RESUME_CHARS must be >= PROMPT_RESUME_CHARS")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
