package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

const gkeCollectorEndpoint = "http://opentelemetry-collector.opentelemetry.svc.cluster.local:4318"

// Config holds the OpenTelemetry configuration.
type Config struct {
	ServiceName    string        `env:"OTEL_SERVICE_NAME"`
	ServiceVersion string        `env:"OTEL_SERVICE_VERSION"                envDefault:"1.0.0"`
	Environment    string        `env:"APP_ENV"                             envDefault:"local"`
	Endpoint       string        `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
	LogsEndpoint   string        `env:"OTEL_EXPORTER_OTLP_LOGS_ENDPOINT"`
	Enabled        bool          `env:"OTEL_ENABLED"                        envDefault:"false"`
	Logs           bool          `env:"OTEL_LOGS_ENABLED"                   envDefault:"false"`
	Timeout        time.Duration `env:"OTEL_EXPORTER_OTLP_TRACES_TIMEOUT"   envDefault:"5s"`
}

// LoadConfigFromEnv loads OpenTelemetry configuration from environment variables.
// serviceName is used when OTEL_SERVICE_NAME is unset.
func LoadConfigFromEnv(serviceName string) (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse telemetry config: %w", err)
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = serviceName
	}

	// Default to the in-cluster collector when running in Kubernetes.
	if cfg.Endpoint == "" && os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		cfg.Endpoint = gkeCollectorEndpoint
	}

	if cfg.LogsEndpoint == "" {
		cfg.LogsEndpoint = cfg.Endpoint
	}

	return cfg, nil
}

// Telemetry owns the providers created by Initialize.
type Telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	loggerProvider *sdklog.LoggerProvider
}

// LoggerProvider returns the log provider to bridge slog into, or nil when log
// export is disabled.
func (t *Telemetry) LoggerProvider() *sdklog.LoggerProvider {
	if t == nil {
		return nil
	}

	return t.loggerProvider
}

// Initialize sets up OpenTelemetry tracing (and optionally log export) with the
// given configuration. A disabled or unconfigured setup returns an empty Telemetry.
func Initialize(ctx context.Context, config *Config) (*Telemetry, error) {
	t := &Telemetry{}

	if !config.Enabled {
		slog.Info("OpenTelemetry is disabled")

		return t, nil
	}

	if config.Endpoint == "" {
		slog.Warn("OpenTelemetry endpoint not configured, telemetry will be disabled")

		return t, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(config.Endpoint),
		otlptracehttp.WithTimeout(config.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	t.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(t.tracerProvider)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if config.Logs {
		logExporter, err := otlploghttp.New(ctx,
			otlploghttp.WithEndpointURL(config.LogsEndpoint),
			otlploghttp.WithTimeout(config.Timeout),
		)
		if err != nil {
			return nil, errors.Join(
				fmt.Errorf("failed to create OTLP log exporter: %w", err),
				t.tracerProvider.Shutdown(ctx))
		}

		t.loggerProvider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
			sdklog.WithResource(res),
		)

		global.SetLoggerProvider(t.loggerProvider)
	}

	slog.Info("OpenTelemetry initialized",
		"service", config.ServiceName,
		"version", config.ServiceVersion,
		"environment", config.Environment,
		"endpoint", config.Endpoint,
		"logs", config.Logs,
	)

	return t, nil
}

// Shutdown flushes and stops every provider Initialize created.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error

	if t.loggerProvider != nil {
		errs = append(errs, t.loggerProvider.Shutdown(ctx))
	}

	if t.tracerProvider != nil {
		slog.Info("Shutting down OpenTelemetry tracer provider")

		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}

	return errors.Join(errs...)
}
