package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Plan outcome labels.
const (
	PlanStatusPlanned = "planned"
	PlanStatusBlocked = "blocked"
	PlanStatusFailed  = "failed"
)

// Metrics provides Prometheus metrics for convergence planning.
type Metrics struct {
	config MetricsConfig

	plansTotal      *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	intentsPlanned  *prometheus.GaugeVec
	notifications   prometheus.Gauge
	errorsByCode    *prometheus.CounterVec
	guardViolations *prometheus.CounterVec
	plansSaved      prometheus.Counter
	reloads         *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// A disabled collector accepts every call and records nothing.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		plansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_total",
				Help:      "Total number of plans computed, by outcome",
			},
			[]string{"status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each convergence stage in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),
		intentsPlanned: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "intents_planned",
				Help:      "Intents in the most recent plan, by kind",
			},
			[]string{"kind"},
		),
		notifications: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "notifications_planned",
				Help:      "Notification edges in the most recent plan",
			},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
		guardViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guard_violations_total",
				Help:      "Total number of plan guard violations",
			},
			[]string{"rule", "severity"},
		),
		plansSaved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_saved_total",
				Help:      "Total number of plans written to history",
			},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_reloads_total",
				Help:      "Total number of replans triggered by file changes",
			},
			[]string{"trigger"},
		),
	}

	registry.MustRegister(
		m.plansTotal,
		m.stageDuration,
		m.intentsPlanned,
		m.notifications,
		m.errorsByCode,
		m.guardViolations,
		m.plansSaved,
		m.reloads,
	)

	return m, nil
}

// Enabled reports whether the collector records anything.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// RecordPlan records a finished plan and replaces the per-kind gauges.
func (m *Metrics) RecordPlan(status string, byKind map[string]int, notifications int) {
	if m.plansTotal == nil {
		return
	}
	m.plansTotal.WithLabelValues(status).Inc()
	if status == PlanStatusFailed {
		return
	}
	m.intentsPlanned.Reset()
	for kind, n := range byKind {
		m.intentsPlanned.WithLabelValues(kind).Set(float64(n))
	}
	m.notifications.Set(float64(notifications))
}

// ObserveStage records how long a convergence stage took.
func (m *Metrics) ObserveStage(stage string, duration time.Duration) {
	if m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordError records an error by code.
func (m *Metrics) RecordError(code string) {
	if m.errorsByCode == nil || code == "" {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// RecordViolation records one guard violation.
func (m *Metrics) RecordViolation(rule, severity string) {
	if m.guardViolations == nil {
		return
	}
	m.guardViolations.WithLabelValues(rule, severity).Inc()
}

// RecordPlanSaved counts a plan written to history.
func (m *Metrics) RecordPlanSaved() {
	if m.plansSaved == nil {
		return
	}
	m.plansSaved.Inc()
}

// RecordReload counts a replan caused by trigger ("attributes" or "rules").
func (m *Metrics) RecordReload(trigger string) {
	if m.reloads == nil {
		return
	}
	m.reloads.WithLabelValues(trigger).Inc()
}

// Registry returns the private registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveStage records the elapsed time as stage on m.
func (t *Timer) ObserveStage(m *Metrics, stage string) {
	m.ObserveStage(stage, t.Duration())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics on the configured address until ctx is
// done. It returns immediately; serve errors are logged.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger zerolog.Logger) error {
	if m.registry == nil || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", m.config.ListenAddress).Str("path", path).Msg("Serving metrics")
	return nil
}
