// internal/monitoring/metrics.go
package monitoring

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsManager manages Prometheus metrics for the fetch layer. Every
// manager owns its registry, so several can coexist in one process.
type MetricsManager struct {
	registry *prometheus.Registry

	// Fetch metrics
	fetchesTotal    *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	attemptsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Recovery metrics
	rotationsTotal   *prometheus.CounterVec
	refreshesTotal   *prometheus.CounterVec
	cooldownsTotal   *prometheus.CounterVec
	escalationsTotal prometheus.Counter

	// Anti-detection metrics
	captchaTotal     *prometheus.CounterVec
	captchaSolveTime prometheus.Histogram

	namespace string
}

// MetricsConfig configuration for metrics
type MetricsConfig struct {
	Namespace            string
	EnableGoMetrics      bool
	EnableProcessMetrics bool
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(config MetricsConfig) *MetricsManager {
	if config.Namespace == "" {
		config.Namespace = "scholarnav"
	}

	mm := &MetricsManager{
		registry:  prometheus.NewRegistry(),
		namespace: config.Namespace,
	}

	if config.EnableGoMetrics {
		mm.registry.MustRegister(collectors.NewGoCollector())
	}
	if config.EnableProcessMetrics {
		mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	mm.initializeMetrics()
	return mm
}

func (mm *MetricsManager) initializeMetrics() {
	factory := promauto.With(mm.registry)

	mm.fetchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mm.namespace,
			Subsystem: "fetch",
			Name:      "total",
			Help:      "Completed fetches by the pool that finished them and their result",
		},
		[]string{"pool", "result"},
	)

	mm.fetchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: mm.namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Wall time of a fetch including retries, captchas and cooldowns",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 900},
		},
		[]string{"result"},
	)

	mm.attemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mm.namespace,
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Individual HTTP attempts by pool and response classification",
		},
		[]string{"pool", "classification"},
	)

	mm.requestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: mm.namespace,
			Subsystem: "fetch",
			Name:      "request_duration_seconds",
			Help:      "HTTP attempt duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"pool"},
	)

	mm.rotationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mm.namespace,
			Subsystem: "proxy",
			Name:      "rotations_total",
			Help:      "Proxy rotations by pool",
		},
		[]string{"pool"},
	)

	mm.refreshesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mm.namespace,
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Session refreshes by pool",
		},
		[]string{"pool"},
	)

	mm.cooldownsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mm.namespace,
			Subsystem: "fetch",
			Name:      "cooldowns_total",
			Help:      "Long cooldown sleeps by reason",
		},
		[]string{"reason"},
	)

	mm.escalationsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: mm.namespace,
			Subsystem: "fetch",
			Name:      "escalations_total",
			Help:      "Fetches moved from the secondary to the primary pool",
		},
	)

	mm.captchaTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mm.namespace,
			Subsystem: "captcha",
			Name:      "total",
			Help:      "Captcha bridge outcomes",
		},
		[]string{"result"},
	)

	mm.captchaSolveTime = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: mm.namespace,
			Subsystem: "captcha",
			Name:      "duration_seconds",
			Help:      "Time spent waiting for a captcha to clear",
			Buckets:   []float64{5, 10, 30, 60, 120, 300, 600, 900},
		},
	)
}

// Registry exposes the manager's registry.
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// Fetch metrics
func (mm *MetricsManager) RecordFetch(pool, result string, duration time.Duration) {
	mm.fetchesTotal.WithLabelValues(pool, result).Inc()
	mm.fetchDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func (mm *MetricsManager) RecordAttempt(pool, classification string, duration time.Duration) {
	mm.attemptsTotal.WithLabelValues(pool, classification).Inc()
	mm.requestDuration.WithLabelValues(pool).Observe(duration.Seconds())
}

// Recovery metrics
func (mm *MetricsManager) RecordRotation(pool string) {
	mm.rotationsTotal.WithLabelValues(pool).Inc()
}

func (mm *MetricsManager) RecordRefresh(pool string) {
	mm.refreshesTotal.WithLabelValues(pool).Inc()
}

func (mm *MetricsManager) RecordCooldown(reason string) {
	mm.cooldownsTotal.WithLabelValues(reason).Inc()
}

func (mm *MetricsManager) RecordEscalation() {
	mm.escalationsTotal.Inc()
}

// Anti-detection metrics
func (mm *MetricsManager) RecordCaptcha(result string, duration time.Duration) {
	mm.captchaTotal.WithLabelValues(result).Inc()
	mm.captchaSolveTime.Observe(duration.Seconds())
}

// MetricsHandler returns an HTTP handler for the metrics endpoint
func (mm *MetricsManager) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{Registry: mm.registry})
}

// StartMetricsServer serves the metrics endpoint until ctx is done.
func (mm *MetricsManager) StartMetricsServer(ctx context.Context, address, path string) error {
	if path == "" {
		path = "/metrics"
	}
	router := mux.NewRouter()
	router.Handle(path, mm.MetricsHandler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Snapshot returns counter totals keyed by metric name and label values,
// for log summaries and tests.
func (mm *MetricsManager) Snapshot() (map[string]float64, error) {
	families, err := mm.registry.Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key+"_count"] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}
