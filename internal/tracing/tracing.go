// Package tracing implements the OpenTelemetry span surface (C13): task,
// step, and tool-invoke spans exported over OTLP/gRPC when configured.
// Grounded on the corpus's config-gated Tracer wrapper (NewTracer returning
// a no-op tracer when no collector endpoint is set, otherwise building an
// otlptracegrpc exporter and a *sdktrace.TracerProvider), trimmed to the
// task/step/tool-invoke span helpers this module's components need instead
// of that tracer's message/LLM/database helpers.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether and how spans are exported.
type Config struct {
	Endpoint    string  // OTLP gRPC collector address; empty disables tracing
	ServiceName string
	SampleRatio float64 // 0..1, default 1 (always sample)
	Insecure    bool
}

// Tracer wraps an otel trace.Tracer. A zero-endpoint Config produces a
// Tracer backed by the global no-op provider, so callers never need to
// check whether tracing is enabled before starting a span.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider // nil when tracing is disabled
}

// New builds a Tracer per cfg. The returned shutdown func flushes and
// closes the exporter; it is a no-op when tracing was never enabled. Callers
// should defer shutdown(context.Background()) in main.
func New(cfg Config) (*Tracer, func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer("moonbot")}, func(context.Context) error { return nil }, nil
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "moonbotd"
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("build otlp exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
	)
	otel.SetTracerProvider(provider)

	t := &Tracer{tracer: provider.Tracer("moonbot"), provider: provider}
	return t, provider.Shutdown, nil
}

// Attr is a typed span attribute, shielding callers from importing
// go.opentelemetry.io/otel/attribute directly.
type Attr = attribute.KeyValue

func String(key, value string) Attr { return attribute.String(key, value) }
func Int(key string, value int) Attr { return attribute.Int(key, value) }
func Bool(key string, value bool) Attr { return attribute.Bool(key, value) }

// Span wraps trace.Span with the error/attribute helpers this module's
// components use.
type Span struct{ span trace.Span }

// End closes the span, marking it an error span if err != nil.
func (s *Span) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

// SetAttributes attaches attrs to the span.
func (s *Span) SetAttributes(attrs ...Attr) { s.span.SetAttributes(attrs...) }

// AddEvent records a named point-in-time event on the span.
func (s *Span) AddEvent(name string, attrs ...Attr) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Start opens a generic span named name, returning the child context and
// the Span handle to End later.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...Attr) (context.Context, *Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &Span{span: span}
}

// StartTask opens a span covering one orchestrator task's full
// plan-execute-recover loop.
func (t *Tracer) StartTask(ctx context.Context, taskID, channelID string) (context.Context, *Span) {
	return t.Start(ctx, "orchestrator.task",
		String("moonbot.task_id", taskID),
		String("moonbot.channel_id", channelID),
	)
}

// StartStep opens a span covering one plan step's execution, including any
// recovery retries folded into the same span.
func (t *Tracer) StartStep(ctx context.Context, taskID, stepID, toolID string) (context.Context, *Span) {
	return t.Start(ctx, "orchestrator.step",
		String("moonbot.task_id", taskID),
		String("moonbot.step_id", stepID),
		String("moonbot.tool_id", toolID),
	)
}

// StartToolInvoke opens a span covering one Tool Runtime invocation.
func (t *Tracer) StartToolInvoke(ctx context.Context, invocationID, toolID, sessionID string) (context.Context, *Span) {
	return t.Start(ctx, "tools.invoke",
		String("moonbot.invocation_id", invocationID),
		String("moonbot.tool_id", toolID),
		String("moonbot.session_id", sessionID),
	)
}
