package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ent0n29/interviewer/internal/app"
	"github.com/ent0n29/interviewer/internal/config"
	"github.com/ent0n29/interviewer/internal/telemetry"
)

func newServeCommand(cfg config.Config, logger *log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the interview HTTP and websocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&cfg.BindAddr, "addr", cfg.BindAddr, "listen address")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Options{Endpoint: cfg.OTLPEndpoint, Logger: logger})
	if err != nil {
		return fmt.Errorf("telemetry init failed: %w", err)
	}
	defer shutdownTracing()

	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Error("cleanup failed", "err", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr, "llm_mode", cfg.LLMMode, "model", cfg.Model)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "err", err)
		_ = httpServer.Close()
	}
	logger.Info("shutdown complete")
	return nil
}
