package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/trace"
)

// Options configures logger creation.
type Options struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is text or json.
	Format string
	Output io.Writer
}

// New builds the process logger. An empty Output writes to stderr.
func New(opts Options) (*log.Logger, error) {
	raw := strings.ToLower(strings.TrimSpace(opts.Level))
	if raw == "" {
		raw = "info"
	}
	level, err := log.ParseLevel(raw)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	logger := log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "text":
		logger.SetFormatter(log.TextFormatter)
	case "json":
		logger.SetFormatter(log.JSONFormatter)
	case "logfmt":
		logger.SetFormatter(log.LogfmtFormatter)
	default:
		return nil, fmt.Errorf("unsupported log format %q", opts.Format)
	}
	return logger, nil
}

// Discard returns a logger that drops every record.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// WithTrace tags the logger with the trace_id and span_id active on ctx.
func WithTrace(ctx context.Context, logger *log.Logger) *log.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}
