package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// NewNopTelemetry returns telemetry that records nothing, for tests.
func NewNopTelemetry() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false
	tracer, _ := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(cfg.Metrics)
	events, _ := NewEventPublisher(cfg.Events)
	return &Telemetry{
		Logger:  Nop(),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown drains events and flushes traces.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
	)
}

// Stage is one instrumented convergence stage: a span, a timer and a
// logger carrying the trace ID.
type Stage struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	name  string
	timer *Timer
	tel   *Telemetry
}

// StartStage begins an instrumented stage for node.
func (t *Telemetry) StartStage(ctx context.Context, stage, node string, attrs ...attribute.KeyValue) *Stage {
	spanCtx, span := t.Tracer.StartStageSpan(ctx, stage, node)
	span.SetAttributes(attrs...)

	logger := t.Logger.WithField("stage", stage)
	if span.SpanContext().IsValid() {
		logger = logger.WithField("trace_id", span.SpanContext().TraceID().String())
	}

	return &Stage{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		name:   stage,
		timer:  NewTimer(),
		tel:    t,
	}
}

// End finishes the stage, recording its duration and outcome. code is
// recorded as an error metric when err is not nil.
func (s *Stage) End(err error, code string) {
	s.tel.Metrics.ObserveStage(s.name, s.timer.Duration())
	if err != nil {
		RecordError(s.Span, err)
		s.Span.SetAttributes(AttrErrorCode.String(code))
		s.tel.Metrics.RecordError(code)
	} else {
		RecordSuccess(s.Span)
	}
	s.Span.End()
}
