package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the engine.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	decisionTotal     *prometheus.CounterVec
	decisionDuration  prometheus.Histogram
	promotionTotal    prometheus.Counter
	promotionOverflow prometheus.Counter
	waitlistDepth     *prometheus.GaugeVec
	ledgerDrift       prometheus.Counter
	snapshotHits      prometheus.Counter
	snapshotMisses    prometheus.Counter
}

// NewMetricsService registers the engine's Prometheus collectors.
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

	decisionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_decisions_total",
		Help: "Admission decisions by outcome",
	}, []string{"outcome"})

	decisionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "enrollment_decision_duration_seconds",
		Help:    "Latency of the admission decision pipeline",
		Buckets: prometheus.DefBuckets,
	})

	promotionTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "waitlist_promotions_total",
		Help: "Students promoted from waitlist to enrolled",
	})

	promotionOverflow := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "waitlist_promotion_overflow_total",
		Help: "Promotion loops that hit the per-event iteration cap",
	})

	waitlistDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "waitlist_depth",
		Help: "Current waitlist depth per class",
	}, []string{"class_id"})

	ledgerDrift := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capacity_ledger_drift_total",
		Help: "Reconciliations that found cached counts diverging from rows",
	})

	snapshotHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capacity_snapshot_hits_total",
		Help: "Capacity snapshot cache hits",
	})

	snapshotMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capacity_snapshot_misses_total",
		Help: "Capacity snapshot cache misses",
	})

	registry.MustRegister(requestDuration, requestTotal, decisionTotal, decisionDuration,
		promotionTotal, promotionOverflow, waitlistDepth, ledgerDrift, snapshotHits, snapshotMisses)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		decisionTotal:     decisionTotal,
		decisionDuration:  decisionDuration,
		promotionTotal:    promotionTotal,
		promotionOverflow: promotionOverflow,
		waitlistDepth:     waitlistDepth,
		ledgerDrift:       ledgerDrift,
		snapshotHits:      snapshotHits,
		snapshotMisses:    snapshotMisses,
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

// ObserveHTTPRequest records transport-level request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveDecision records one admission decision and its latency.
func (m *MetricsService) ObserveDecision(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.decisionTotal.WithLabelValues(outcome).Inc()
	m.decisionDuration.Observe(duration.Seconds())
}

// RecordPromotion counts a successful waitlist promotion.
func (m *MetricsService) RecordPromotion() {
	if m == nil {
		return
	}
	m.promotionTotal.Inc()
}

// RecordPromotionOverflow counts a promotion loop that hit its cap.
func (m *MetricsService) RecordPromotionOverflow() {
	if m == nil {
		return
	}
	m.promotionOverflow.Inc()
}

// SetWaitlistDepth publishes the queue depth for a class.
func (m *MetricsService) SetWaitlistDepth(classID string, depth int) {
	if m == nil {
		return
	}
	m.waitlistDepth.WithLabelValues(classID).Set(float64(depth))
}

// RecordLedgerDrift counts a reconciliation that detected drift.
func (m *MetricsService) RecordLedgerDrift() {
	if m == nil {
		return
	}
	m.ledgerDrift.Inc()
}

// RecordSnapshotLookup counts capacity snapshot cache hits and misses.
func (m *MetricsService) RecordSnapshotLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.snapshotHits.Inc()
	} else {
		m.snapshotMisses.Inc()
	}
}
