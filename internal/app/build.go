package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/ent0n29/interviewer/internal/config"
	"github.com/ent0n29/interviewer/internal/httpapi"
	"github.com/ent0n29/interviewer/internal/interview"
	"github.com/ent0n29/interviewer/internal/llm"
	"github.com/ent0n29/interviewer/internal/observability"
	"github.com/ent0n29/interviewer/internal/records"
	"github.com/ent0n29/interviewer/internal/render"
	"github.com/ent0n29/interviewer/internal/session"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *interview.Orchestrator
	Sessions     session.Store
	Records      records.Store
	Metrics      *observability.Metrics

	// Cleanup releases stores on shutdown.
	Cleanup func() error
}

// Build wires stores, generation clients and the pipeline from cfg.
func Build(ctx context.Context, cfg config.Config, logger *log.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	chat, err := llm.NewClient(ctx, LLMConfig(cfg, logger, false))
	if err != nil {
		return nil, fmt.Errorf("chat client init failed: %w", err)
	}
	report, err := llm.NewClient(ctx, LLMConfig(cfg, logger, true))
	if err != nil {
		return nil, fmt.Errorf("report client init failed: %w", err)
	}

	sessions, err := session.NewStore(ctx, cfg.SessionStoreDSN)
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}
	recs, err := records.NewStore(ctx, cfg.RecordsDatabaseURL)
	if err != nil {
		_ = sessions.Close()
		return nil, fmt.Errorf("records store init failed: %w", err)
	}

	orchestrator := interview.NewOrchestrator(sessions, chat, report, Options(cfg, metrics, logger))

	var renderer render.Renderer
	if cfg.ReportDir != "" {
		renderer = render.NewMarkdownRenderer(cfg.ReportDir)
	}
	api := httpapi.New(cfg, orchestrator, recs, renderer, metrics, logger)

	cleanup := func() error {
		return errors.Join(recs.Close(), sessions.Close())
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orchestrator,
		Sessions:     sessions,
		Records:      recs,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}

// LLMConfig derives the client settings for the chat or report purpose. The
// report client gets its own retry budget and deadline.
func LLMConfig(cfg config.Config, logger *log.Logger, report bool) llm.Config {
	out := llm.Config{
		Mode:              cfg.LLMMode,
		GeminiAPIKey:      cfg.GeminiAPIKey,
		GeminiBaseURL:     cfg.GeminiBaseURL,
		Model:             cfg.Model,
		HTTPURL:           cfg.LLMHTTPURL,
		HTTPStreamStrict:  cfg.LLMHTTPStreamStrict,
		RequestTimeout:    cfg.ChatTimeout,
		FirstDeltaTimeout: cfg.FallbackFirstDeltaTimeout,
		Retry: llm.RetryPolicy{
			MaxAttempts: cfg.ChatMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		Logger: logger,
	}
	if report {
		out.RequestTimeout = cfg.ReportTimeout
		out.Retry.MaxAttempts = cfg.ReportMaxAttempts
	}
	return out
}

// Options maps config onto pipeline options.
func Options(cfg config.Config, metrics *observability.Metrics, logger *log.Logger) interview.Options {
	return interview.Options{
		ChatTemperature:   float32(cfg.ChatTemperature),
		ReportTemperature: float32(cfg.ReportTemperature),
		Budgets: interview.PromptBudgets{
			JobDescription:       cfg.JobDescriptionBudget,
			Resume:               cfg.ResumeBudget,
			ReportJobDescription: cfg.ReportJobDescriptionBudget,
		},
		Metrics: metrics,
		Logger:  logger,
	}
}
