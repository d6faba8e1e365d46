package observability

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/neurobridge-synthesis/internal/platform/envutil"
	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
)

// OtelConfig describes the running synthesis service. Backend and cache fields become resource
// attributes so traces from different deployments can be told apart.
type OtelConfig struct {
	ServiceName  string
	Environment  string
	Version      string
	Backend      string
	BackendType  string
	Model        string
	Constrained  bool
	CacheBackend string
}

var (
	otelOnce     sync.Once
	otelShutdown = func(context.Context) error { return nil }
)

// InitOTel installs the global tracer provider once. OTEL_TRACES_EXPORTER picks otlp (default when
// OTEL_EXPORTER_OTLP_ENDPOINT is set), stdout, or none; none keeps sampling and propagation so
// inbound trace ids still reach the logs.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	otelOnce.Do(func() {
		if !otelEnabled() {
			return
		}
		attrs := resourceAttributes(cfg)
		res, err := resource.New(ctx, resource.WithAttributes(attrs...))
		if err != nil && log != nil {
			log.Warn("otel resource init failed (continuing)", "error", err)
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(otelSampleRatio()))),
			sdktrace.WithResource(res),
		}
		kind := traceExporterKind()
		exporter, expErr := buildTraceExporter(ctx, log, kind)
		if expErr != nil && log != nil {
			log.Warn("otel exporter init failed (continuing)", "error", expErr, "exporter", kind)
		}
		if exporter != nil {
			opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
		}
		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		otelShutdown = tp.Shutdown
		if log != nil {
			log.Info("otel tracing initialized",
				"exporter", kind,
				"endpoint", otelEndpoint(),
				"backend", cfg.Backend,
				"cache_backend", cfg.CacheBackend,
			)
		}
	})
	return otelShutdown
}

func resourceAttributes(cfg OtelConfig) []attribute.KeyValue {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "neurobridge-synthesis"
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = envutil.String("SYNTH_VERSION", "dev")
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(version),
		attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
		attribute.Bool("synthesis.constrained", cfg.Constrained),
	}
	for _, kv := range []struct{ key, val string }{
		{"synthesis.backend", cfg.Backend},
		{"synthesis.backend_type", cfg.BackendType},
		{"synthesis.model", cfg.Model},
		{"synthesis.cache_backend", cfg.CacheBackend},
	} {
		if v := strings.TrimSpace(kv.val); v != "" {
			attrs = append(attrs, attribute.String(kv.key, v))
		}
	}
	return attrs
}

// Tracer returns the synthesis tracer from the global provider. Before InitOTel (or with
// OTEL_ENABLED unset) this is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer("synthesis")
}

func otelEnabled() bool {
	return envutil.Bool("OTEL_ENABLED", false)
}

func otelSampleRatio() float64 {
	return clamp01(envutil.Float("OTEL_SAMPLER_RATIO", 0.1))
}

func otelEndpoint() string {
	return envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", "")
}

// otelHeaders parses OTEL_EXPORTER_OTLP_HEADERS ("k1=v1,k2=v2"). Malformed pairs are skipped.
func otelHeaders() map[string]string {
	headers := map[string]string{}
	for _, part := range strings.Split(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", ""), ",") {
		key, val, ok := strings.Cut(part, "=")
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		if ok && key != "" && val != "" {
			headers[key] = val
		}
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}

func otelInsecure() bool {
	return envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false)
}

func traceExporterKind() string {
	switch k := strings.ToLower(envutil.String("OTEL_TRACES_EXPORTER", "")); k {
	case "otlp", "stdout", "none":
		return k
	}
	if otelEndpoint() != "" {
		return "otlp"
	}
	return "stdout"
}

func buildTraceExporter(ctx context.Context, log *logger.Logger, kind string) (sdktrace.SpanExporter, error) {
	switch kind {
	case "none":
		return nil, nil
	case "otlp":
		opts := []otlptracehttp.Option{}
		if endpoint := otelEndpoint(); endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
		}
		if otelInsecure() {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if headers := otelHeaders(); headers != nil {
			opts = append(opts, otlptracehttp.WithHeaders(headers))
		}
		return otlptracehttp.New(ctx, opts...)
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	if log != nil {
		log.Warn("otel using stdout exporter (no OTLP endpoint configured)")
	}
	return exp, nil
}
