package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLMMode != "auto" {
		t.Fatalf("LLMMode = %q, want auto", cfg.LLMMode)
	}
	if cfg.Model != "gemini-2.0-flash-lite" {
		t.Fatalf("Model = %q", cfg.Model)
	}
	if cfg.ChatMaxAttempts != 5 || cfg.ReportMaxAttempts != 10 {
		t.Fatalf("attempts = %d/%d, want 5/10", cfg.ChatMaxAttempts, cfg.ReportMaxAttempts)
	}
	if cfg.ChatTimeout != 60*time.Second || cfg.ReportTimeout != 90*time.Second {
		t.Fatalf("timeouts = %s/%s", cfg.ChatTimeout, cfg.ReportTimeout)
	}
	if cfg.JobDescriptionBudget != 800 || cfg.ResumeBudget != 1000 || cfg.ReportJobDescriptionBudget != 500 {
		t.Fatalf("budgets = %d/%d/%d", cfg.JobDescriptionBudget, cfg.ResumeBudget, cfg.ReportJobDescriptionBudget)
	}
	if cfg.LLMHTTPURL != "" {
		t.Fatalf("LLMHTTPURL = %q, want empty default", cfg.LLMHTTPURL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("LLM_MODE", "http")
	t.Setenv("LLM_HTTP_URL", "http://localhost:7777/generate")
	t.Setenv("LLM_CHAT_TEMPERATURE", "0.3")
	t.Setenv("LLM_CHAT_TIMEOUT", "5s")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.LLMHTTPURL != "http://localhost:7777/generate" {
		t.Fatalf("LLMHTTPURL = %q, want explicit value", cfg.LLMHTTPURL)
	}
	if cfg.ChatTemperature != 0.3 {
		t.Fatalf("ChatTemperature = %v", cfg.ChatTemperature)
	}
	if cfg.ChatTimeout != 5*time.Second {
		t.Fatalf("ChatTimeout = %s", cfg.ChatTimeout)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "interviewer.toml")
	body := `
[service]
bind_addr = ":7000"
log_format = "json"

[llm]
mode = "mock"
report_temperature = 0.2
retry_max_delay = "2s"

[storage]
report_dir = "/tmp/reports"

[limits]
resume_chars = 1200
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("INTERVIEWER_CONFIG", path)
	t.Setenv("APP_BIND_ADDR", ":7100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":7100" {
		t.Fatalf("BindAddr = %q, env must win over file", cfg.BindAddr)
	}
	if cfg.LogFormat != "json" || cfg.LLMMode != "mock" || cfg.ReportDir != "/tmp/reports" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.ReportTemperature != 0.2 || cfg.RetryMaxDelay != 2*time.Second || cfg.ResumeBudget != 1200 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestLoadRejectsUnknownFileKeys(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[llm]\ntemperature = 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("INTERVIEWER_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want unknown key error")
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"bad mode":          {"LLM_MODE": "openai"},
		"http without url":  {"LLM_MODE": "http"},
		"bad temperature":   {"LLM_CHAT_TEMPERATURE": "3"},
		"zero attempts":     {"LLM_REPORT_MAX_ATTEMPTS": "0"},
		"inverted backoff":  {"LLM_RETRY_BASE_DELAY": "5s", "LLM_RETRY_MAX_DELAY": "1s"},
		"short timeout":     {"LLM_REPORT_TIMEOUT": "10ms"},
		"bad duration":      {"APP_SHUTDOWN_TIMEOUT": "soon"},
		"bad bool":          {"APP_ALLOW_ANY_ORIGIN": "maybe"},
		"resume cap < cut":  {"MAX_RESUME_CHARS": "10"},
		"negative budget":   {"PROMPT_JOB_DESCRIPTION_CHARS": "-1"},
		"missing file path": {"INTERVIEWER_CONFIG": "/nonexistent/interviewer.toml"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil, want validation error")
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"INTERVIEWER_CONFIG",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
		"LLM_MODE",
		"GEMINI_API_KEY",
		"GEMINI_BASE_URL",
		"LLM_MODEL",
		"LLM_CHAT_TEMPERATURE",
		"LLM_REPORT_TEMPERATURE",
		"LLM_HTTP_URL",
		"LLM_HTTP_STREAM_STRICT",
		"LLM_FALLBACK_FIRST_DELTA_TIMEOUT",
		"LLM_CHAT_MAX_ATTEMPTS",
		"LLM_REPORT_MAX_ATTEMPTS",
		"LLM_RETRY_BASE_DELAY",
		"LLM_RETRY_MAX_DELAY",
		"LLM_CHAT_TIMEOUT",
		"LLM_REPORT_TIMEOUT",
		"SESSION_STORE_DSN",
		"DATABASE_URL",
		"REPORT_DIR",
		"PROMPT_JOB_DESCRIPTION_CHARS",
		"PROMPT_RESUME_CHARS",
		"PROMPT_REPORT_JOB_DESCRIPTION_CHARS",
		"MAX_RESUME_CHARS",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
