// Package observability wires structured logging and OpenTelemetry tracing
// for the index server. Tracing exports over OTLP gRPC when an endpoint is
// configured and is a no-op otherwise.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures logging and trace export.
type Config struct {
	ServiceName    string
	ServiceVersion string
	LogLevel       string
	OTLPEndpoint   string // e.g. "localhost:4317"; empty disables tracing
	BatchTimeout   time.Duration
	Insecure       bool
}

// Provider holds the process-wide tracer provider, if tracing is enabled.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	logger         *slog.Logger
}

// Setup installs the default slog logger at the configured level and, when
// an OTLP endpoint is set, the global tracer provider.
func Setup(ctx context.Context, cfg *Config) (*Provider, error) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})))

	p := &Provider{
		config: cfg,
		logger: slog.Default().With("component", "observability"),
	}

	if cfg.OTLPEndpoint == "" {
		p.logger.InfoContext(ctx, "trace export disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.logger.InfoContext(ctx, "observability initialized",
		"service", cfg.ServiceName,
		"endpoint", cfg.OTLPEndpoint,
	)

	return p, nil
}

// Tracer returns a tracer from the installed provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Shutdown flushes and stops the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider == nil {
		return nil
	}
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		return err
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
