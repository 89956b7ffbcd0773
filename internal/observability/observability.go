package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	instrumentationName = "github.com/florianilch/tenantctl"
	serviceName         = "tenantctl"
)

// ShutdownFunc flushes and stops the log pipeline.
type ShutdownFunc func(context.Context) error

// Option configures Instrument.
type Option func(*config)

type config struct {
	writer  io.Writer
	environ func(string) string
}

// WithWriter sets the destination for text, json and otel output. Default: stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.writer = w
	}
}

// WithGetenv overrides environment lookups for the OTLP protocol selection.
func WithGetenv(getenv func(string) string) Option {
	return func(c *config) {
		c.environ = getenv
	}
}

// Instrument installs the default slog logger for format and level.
//
// text and json write slog records directly. otel writes OpenTelemetry log
// records and spans to the writer, otlp exports both to a collector configured
// through the standard OTEL_EXPORTER_OTLP_* environment variables. The OTel
// formats also install the global tracer provider.
// The returned func must be called before exit to flush pending records.
func Instrument(ctx context.Context, level slog.Level, format string, opts ...Option) (ShutdownFunc, error) {
	cfg := &config{
		writer:  os.Stderr,
		environ: os.Getenv,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var (
		logProcessor sdklog.Processor
		spanOption   sdktrace.TracerProviderOption
	)
	switch format {
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(cfg.writer, handlerOpts)))
		return noopShutdown, nil
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(cfg.writer, handlerOpts)))
		return noopShutdown, nil
	case "otel":
		logExporter, err := stdoutlog.New(stdoutlog.WithWriter(cfg.writer))
		if err != nil {
			return nil, fmt.Errorf("creating stdout log exporter: %w", err)
		}
		spanExporter, err := stdouttrace.New(stdouttrace.WithWriter(cfg.writer))
		if err != nil {
			return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		logProcessor = sdklog.NewSimpleProcessor(logExporter)
		spanOption = sdktrace.WithSyncer(spanExporter)
	case "otlp":
		logExporter, err := newOTLPLogExporter(ctx, cfg.environ)
		if err != nil {
			return nil, err
		}
		spanExporter, err := newOTLPSpanExporter(ctx, cfg.environ)
		if err != nil {
			return nil, errors.Join(err, logExporter.Shutdown(ctx))
		}
		logProcessor = sdklog.NewBatchProcessor(logExporter)
		spanOption = sdktrace.WithBatcher(spanExporter)
	default:
		return nil, fmt.Errorf("unsupported log format: %q", format)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(minsev.NewLogProcessor(logProcessor, severity(level))),
	)
	global.SetLoggerProvider(loggerProvider)

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		spanOption,
	)
	otel.SetTracerProvider(tracerProvider)

	slog.SetDefault(otelslog.NewLogger(instrumentationName, otelslog.WithLoggerProvider(loggerProvider)))

	return func(ctx context.Context) error {
		return errors.Join(tracerProvider.Shutdown(ctx), loggerProvider.Shutdown(ctx))
	}, nil
}

// otlpProtocol resolves the OTLP transport for signal ("LOGS" or "TRACES") from
// OTEL_EXPORTER_OTLP_<signal>_PROTOCOL or OTEL_EXPORTER_OTLP_PROTOCOL.
// http/protobuf is the default.
func otlpProtocol(getenv func(string) string, signal string) (string, error) {
	protocol := getenv("OTEL_EXPORTER_OTLP_" + signal + "_PROTOCOL")
	if protocol == "" {
		protocol = getenv("OTEL_EXPORTER_OTLP_PROTOCOL")
	}

	switch p := strings.ToLower(protocol); p {
	case "", "http/protobuf":
		return "http/protobuf", nil
	case "grpc":
		return p, nil
	default:
		return "", fmt.Errorf("unsupported OTLP protocol: %q", protocol)
	}
}

func newOTLPLogExporter(ctx context.Context, getenv func(string) string) (sdklog.Exporter, error) {
	protocol, err := otlpProtocol(getenv, "LOGS")
	if err != nil {
		return nil, err
	}

	if protocol == "grpc" {
		exporter, err := otlploggrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP gRPC log exporter: %w", err)
		}
		return exporter, nil
	}
	exporter, err := otlploghttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP HTTP log exporter: %w", err)
	}
	return exporter, nil
}

func newOTLPSpanExporter(ctx context.Context, getenv func(string) string) (sdktrace.SpanExporter, error) {
	protocol, err := otlpProtocol(getenv, "TRACES")
	if err != nil {
		return nil, err
	}

	if protocol == "grpc" {
		exporter, err := otlptracegrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP gRPC trace exporter: %w", err)
		}
		return exporter, nil
	}
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP HTTP trace exporter: %w", err)
	}
	return exporter, nil
}

// severity maps a slog level onto the minimum OpenTelemetry severity.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level >= slog.LevelError:
		return minsev.SeverityError
	case level >= slog.LevelWarn:
		return minsev.SeverityWarn
	case level >= slog.LevelInfo:
		return minsev.SeverityInfo
	default:
		return minsev.SeverityDebug
	}
}

func noopShutdown(context.Context) error { return nil }
