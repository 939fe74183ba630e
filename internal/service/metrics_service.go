package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/autoenrol/internal/models"
)

// MetricsService owns a private Prometheus registry for the engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	syncEffects     *prometheus.CounterVec
	sweepActions    *prometheus.CounterVec
	batchDuration   *prometheus.HistogramVec
	batchRuns       *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
}

// NewMetricsService registers the collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	syncEffects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoenrol_sync_effects_total",
		Help: "User syncs by trigger and resulting effect",
	}, []string{"trigger", "effect"})

	sweepActions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoenrol_sweep_actions_total",
		Help: "Expiration sweep actions by reason",
	}, []string{"reason", "action"})

	batchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autoenrol_batch_duration_seconds",
		Help:    "Duration of bulk sync and sweep runs",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 7200},
	}, []string{"job", "status"})

	batchRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoenrol_batch_runs_total",
		Help: "Bulk sync and sweep runs by terminal status",
	}, []string{"job", "status"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoenrol_instance_cache_lookups_total",
		Help: "Enabled instance cache lookups by result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, syncEffects, sweepActions, batchDuration, batchRuns, cacheLookups, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		syncEffects:     syncEffects,
		sweepActions:    sweepActions,
		batchDuration:   batchDuration,
		batchRuns:       batchRuns,
		cacheLookups:    cacheLookups,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordSyncEffect counts one user sync outcome.
func (m *MetricsService) RecordSyncEffect(trigger models.Trigger, effect models.Effect) {
	if m == nil {
		return
	}
	m.syncEffects.WithLabelValues(string(trigger), string(effect)).Inc()
}

// RecordSweepAction counts one sweep action.
func (m *MetricsService) RecordSweepAction(reason string, effect models.Effect) {
	if m == nil {
		return
	}
	m.sweepActions.WithLabelValues(reason, string(effect)).Inc()
}

// ObserveBatch records a finished batch run.
func (m *MetricsService) ObserveBatch(job string, status models.RunStatus, duration time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(job, string(status)).Observe(duration.Seconds())
	m.batchRuns.WithLabelValues(job, string(status)).Inc()
}

// RecordCacheLookup counts an enabled-instance cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
