package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ent0n29/interviewer/internal/logging"
)

const (
	// ServiceName is the canonical telemetry service name.
	ServiceName = "interviewer"
	// BatchTimeout configures batch span processor flush interval.
	BatchTimeout = 5 * time.Second
	// BatchSize configures batch span processor max export batch size.
	BatchSize = 512
)

// ServiceVersion is set at build time via ldflags when available.
var ServiceVersion = "dev"

var exporterFactory = func(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	return otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
}

// Options configures span export.
type Options struct {
	// Endpoint is the OTLP/HTTP collector URL. Empty disables export and
	// leaves the global no-op tracer provider in place.
	Endpoint    string
	Environment string
	Logger      *log.Logger
}

// Init installs a batching tracer provider. The returned shutdown flushes
// pending spans and is safe to call more than once.
func Init(ctx context.Context, opts Options) (func(), error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return func() {}, nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	exporter, err := exporterFactory(ctx, endpoint)
	if err != nil {
		logger.Warn("OTLP exporter unavailable; falling back to log exporter", "endpoint", endpoint, "err", err)
		exporter = &logSpanExporter{logger: logger}
	}

	env := strings.ToLower(strings.TrimSpace(opts.Environment))
	if env == "" {
		env = "dev"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", ServiceName),
			attribute.String("service.version", resolveServiceVersion()),
			attribute.String("environment", env),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(
			exporter,
			sdktrace.WithBatchTimeout(BatchTimeout),
			sdktrace.WithMaxExportBatchSize(BatchSize),
		),
	)
	otel.SetTracerProvider(provider)

	var once sync.Once
	return func() {
		once.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), BatchTimeout)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				otel.Handle(err)
			}
		})
	}, nil
}

func resolveServiceVersion() string {
	version := strings.TrimSpace(ServiceVersion)
	if version == "" {
		return "dev"
	}
	return version
}

// logSpanExporter writes finished spans to the process logger.
type logSpanExporter struct {
	logger *log.Logger
}

func (e *logSpanExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		e.logger.Debug("span",
			"name", span.Name(),
			"duration", span.EndTime().Sub(span.StartTime()).Round(time.Millisecond),
			"status", span.Status().Code.String(),
		)
	}
	return nil
}

func (e *logSpanExporter) Shutdown(context.Context) error { return nil }

func setExporterFactoryForTest(factory func(context.Context, string) (sdktrace.SpanExporter, error)) func() {
	previous := exporterFactory
	exporterFactory = factory
	return func() {
		exporterFactory = previous
	}
}
