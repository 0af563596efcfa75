package observability

import (
	"context"
	"os"
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

	"github.com/yungbote/bookdraft-backend/internal/platform/envutil"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

// Tracer names. One span per section tick and one per provider call.
const (
	TracerDrafting = "bookdraft/drafting"
	TracerLLM      = "bookdraft/llm"
)

const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

type OtelConfig struct {
	ServiceName string
	Environment string
	Version     string
	// WorkerMode is "temporal" or "local".
	WorkerMode string
	TaskQueue  string
}

// traceSettings is the OTEL_* environment as the worker reads it.
type traceSettings struct {
	Exporter string
	Endpoint string
	Headers  map[string]string
	Insecure bool
	Ratio    float64
}

func loadTraceSettings() traceSettings {
	s := traceSettings{
		Endpoint: envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Headers:  parseHeaders(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", "")),
		Insecure: envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
		Ratio:    clampRatio(envutil.Float("OTEL_SAMPLER_RATIO", 1)),
	}
	def := ExporterStdout
	if s.Endpoint != "" {
		def = ExporterOTLP
	}
	switch exp := strings.ToLower(envutil.String("OTEL_TRACES_EXPORTER", def)); exp {
	case ExporterOTLP, ExporterStdout, ExporterNone:
		s.Exporter = exp
	default:
		s.Exporter = def
	}
	if s.Exporter == ExporterOTLP && s.Endpoint == "" {
		s.Exporter = ExporterStdout
	}
	return s
}

var (
	otelOnce     sync.Once
	otelShutdown func(context.Context) error
)

// InitOTel installs the global tracer provider once when OTEL_ENABLED is set.
// The returned shutdown func is nil when tracing is off.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	otelOnce.Do(func() {
		if !envutil.Bool("OTEL_ENABLED", false) {
			return
		}
		settings := loadTraceSettings()
		res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes(cfg)...))
		if err != nil && log != nil {
			log.Warn("otel resource init failed (continuing)", "error", err)
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(settings.Ratio))),
			sdktrace.WithResource(res),
		}
		exporter, err := buildTraceExporter(ctx, settings)
		if err != nil && log != nil {
			log.Warn("otel exporter init failed (continuing)", "exporter", settings.Exporter, "error", err)
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
				"exporter", settings.Exporter,
				"endpoint", settings.Endpoint,
				"ratio", settings.Ratio,
				"worker_mode", cfg.WorkerMode,
			)
		}
	})
	return otelShutdown
}

func resourceAttributes(cfg OtelConfig) []attribute.KeyValue {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "bookdraft"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(name),
		semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
		attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
	}
	if mode := strings.TrimSpace(cfg.WorkerMode); mode != "" {
		attrs = append(attrs, attribute.String("bookdraft.worker_mode", mode))
	}
	if q := strings.TrimSpace(cfg.TaskQueue); q != "" {
		attrs = append(attrs, attribute.String("temporal.task_queue", q))
	}
	return attrs
}

// SectionAttributes identifies the section a span works on.
func SectionAttributes(bookID, versionID string, chapterIndex, sectionIndex int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("book.id", bookID),
		attribute.String("book.version_id", versionID),
		attribute.Int("chapter.index", chapterIndex),
		attribute.Int("section.index", sectionIndex),
	}
}

func buildTraceExporter(ctx context.Context, s traceSettings) (sdktrace.SpanExporter, error) {
	switch s.Exporter {
	case ExporterNone:
		return nil, nil
	case ExporterOTLP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(s.Endpoint)}
		if s.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(s.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(s.Headers))
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return exp, nil
	default:
		// stdout is the worker's log stream.
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, err
		}
		return exp, nil
	}
}

// parseHeaders reads "k1=v1,k2=v2".
func parseHeaders(raw string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if ok && k != "" && v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func clampRatio(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
