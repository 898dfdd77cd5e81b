package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors the optional TOML file. Pointer fields distinguish
// "unset" from zero values.
type fileConfig struct {
	Service struct {
		BindAddr         *string `toml:"bind_addr"`
		ShutdownTimeout  *string `toml:"shutdown_timeout"`
		MetricsNamespace *string `toml:"metrics_namespace"`
		AllowAnyOrigin   *bool   `toml:"allow_any_origin"`
		LogLevel         *string `toml:"log_level"`
		LogFormat        *string `toml:"log_format"`
		OTLPEndpoint     *string `toml:"otel_endpoint"`
	} `toml:"service"`

	LLM struct {
		Mode                   *string  `toml:"mode"`
		GeminiAPIKey           *string  `toml:"gemini_api_key"`
		GeminiBaseURL          *string  `toml:"gemini_base_url"`
		Model                  *string  `toml:"model"`
		ChatTemperature        *float64 `toml:"chat_temperature"`
		ReportTemperature      *float64 `toml:"report_temperature"`
		HTTPURL                *string  `toml:"http_url"`
		HTTPStreamStrict       *bool    `toml:"http_stream_strict"`
		FallbackFirstDeltaWait *string  `toml:"fallback_first_delta_timeout"`
		ChatMaxAttempts        *int     `toml:"chat_max_attempts"`
		ReportMaxAttempts      *int     `toml:"report_max_attempts"`
		RetryBaseDelay         *string  `toml:"retry_base_delay"`
		RetryMaxDelay          *string  `toml:"retry_max_delay"`
		ChatTimeout            *string  `toml:"chat_timeout"`
		ReportTimeout          *string  `toml:"report_timeout"`
	} `toml:"llm"`

	Storage struct {
		SessionStoreDSN    *string `toml:"session_store_dsn"`
		RecordsDatabaseURL *string `toml:"records_database_url"`
		ReportDir          *string `toml:"report_dir"`
	} `toml:"storage"`

	Limits struct {
		JobDescriptionChars       *int `toml:"job_description_chars"`
		ResumeChars               *int `toml:"resume_chars"`
		ReportJobDescriptionChars *int `toml:"report_job_description_chars"`
		MaxResumeChars            *int `toml:"max_resume_chars"`
	} `toml:"limits"`
}

func applyFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat config path: %w", err)
	}
	var decoded fileConfig
	md, err := toml.DecodeFile(path, &decoded)
	if err != nil {
		return fmt.Errorf("decode config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("decode config file: unknown keys %s", strings.Join(keys, ", "))
	}

	s := decoded.Service
	setString(&cfg.BindAddr, s.BindAddr)
	setString(&cfg.MetricsNamespace, s.MetricsNamespace)
	setString(&cfg.LogLevel, s.LogLevel)
	setString(&cfg.LogFormat, s.LogFormat)
	setString(&cfg.OTLPEndpoint, s.OTLPEndpoint)
	if s.AllowAnyOrigin != nil {
		cfg.AllowAnyOrigin = *s.AllowAnyOrigin
	}

	l := decoded.LLM
	setString(&cfg.LLMMode, l.Mode)
	setString(&cfg.GeminiAPIKey, l.GeminiAPIKey)
	setString(&cfg.GeminiBaseURL, l.GeminiBaseURL)
	setString(&cfg.Model, l.Model)
	setString(&cfg.LLMHTTPURL, l.HTTPURL)
	if l.ChatTemperature != nil {
		cfg.ChatTemperature = *l.ChatTemperature
	}
	if l.ReportTemperature != nil {
		cfg.ReportTemperature = *l.ReportTemperature
	}
	if l.HTTPStreamStrict != nil {
		cfg.LLMHTTPStreamStrict = *l.HTTPStreamStrict
	}
	setInt(&cfg.ChatMaxAttempts, l.ChatMaxAttempts)
	setInt(&cfg.ReportMaxAttempts, l.ReportMaxAttempts)

	durations := []struct {
		key string
		src *string
		dst *time.Duration
	}{
		{"service.shutdown_timeout", s.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"llm.fallback_first_delta_timeout", l.FallbackFirstDeltaWait, &cfg.FallbackFirstDeltaTimeout},
		{"llm.retry_base_delay", l.RetryBaseDelay, &cfg.RetryBaseDelay},
		{"llm.retry_max_delay", l.RetryMaxDelay, &cfg.RetryMaxDelay},
		{"llm.chat_timeout", l.ChatTimeout, &cfg.ChatTimeout},
		{"llm.report_timeout", l.ReportTimeout, &cfg.ReportTimeout},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(*d.src))
		if err != nil {
			return fmt.Errorf("%s parse error: %w", d.key, err)
		}
		*d.dst = v
	}

	st := decoded.Storage
	setString(&cfg.SessionStoreDSN, st.SessionStoreDSN)
	setString(&cfg.RecordsDatabaseURL, st.RecordsDatabaseURL)
	setString(&cfg.ReportDir, st.ReportDir)

	lim := decoded.Limits
	setInt(&cfg.JobDescriptionBudget, lim.JobDescriptionChars)
	setInt(&cfg.ResumeBudget, lim.ResumeChars)
	setInt(&cfg.ReportJobDescriptionBudget, lim.ReportJobDescriptionChars)
	setInt(&cfg.MaxResumeChars, lim.MaxResumeChars)
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
