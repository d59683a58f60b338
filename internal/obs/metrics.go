package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry           *prometheus.Registry
	cacheRequests      *prometheus.CounterVec
	backendTransitions *prometheus.CounterVec
	backendState       *prometheus.GaugeVec
	localEntries       prometheus.Gauge
	sweepRemoved       prometheus.Counter
	remoteDuration     *prometheus.HistogramVec
	remoteErrors       *prometheus.CounterVec
	malformedPayloads  prometheus.Counter
	ledgerRecords      prometheus.Gauge
	ledgerEvictions    *prometheus.CounterVec
	ledgerFlagged      prometheus.Gauge
	inspectRejected    prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	cacheRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "statecache_cache_requests_total",
		Help: "Total cache operations by serving backend and result",
	}, []string{"op", "backend", "result"})

	backendTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "statecache_backend_transitions_total",
		Help: "Total backend health transitions",
	}, []string{"from", "to"})

	backendState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "statecache_backend_state",
		Help: "Current backend health state (1 for the active state)",
	}, []string{"state"})

	localEntries := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "statecache_local_entries",
		Help: "Entries held by the in-process store",
	})

	sweepRemoved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statecache_sweep_removed_total",
		Help: "Total expired entries removed by the sweep",
	})

	remoteDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "statecache_remote_duration_seconds",
		Help:    "Remote backend call duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	remoteErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "statecache_remote_errors_total",
		Help: "Total failed remote backend calls",
	}, []string{"op"})

	malformedPayloads := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statecache_malformed_payloads_total",
		Help: "Total remote payloads that failed to decode",
	})

	ledgerRecords := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "statecache_ledger_records",
		Help: "Fingerprint records currently held",
	})

	ledgerEvictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "statecache_ledger_evictions_total",
		Help: "Total fingerprint records removed",
	}, []string{"reason"})

	ledgerFlagged := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "statecache_ledger_flagged_origins",
		Help: "Origins over threshold at the last flagged query",
	})

	inspectRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statecache_inspect_rejected_total",
		Help: "Total requests rejected for an over-threshold origin",
	})

	registry.MustRegister(cacheRequests, backendTransitions, backendState, localEntries, sweepRemoved, remoteDuration, remoteErrors, malformedPayloads, ledgerRecords, ledgerEvictions, ledgerFlagged, inspectRejected)

	return &Metrics{
		registry:           registry,
		cacheRequests:      cacheRequests,
		backendTransitions: backendTransitions,
		backendState:       backendState,
		localEntries:       localEntries,
		sweepRemoved:       sweepRemoved,
		remoteDuration:     remoteDuration,
		remoteErrors:       remoteErrors,
		malformedPayloads:  malformedPayloads,
		ledgerRecords:      ledgerRecords,
		ledgerEvictions:    ledgerEvictions,
		ledgerFlagged:      ledgerFlagged,
		inspectRejected:    inspectRejected,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry so callers can gather in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordCacheRequest(op string, backend string, result string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	if result == "" {
		result = "unknown"
	}
	m.cacheRequests.WithLabelValues(op, backend, result).Inc()
}

func (m *Metrics) RecordBackendTransition(from string, to string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.backendTransitions.WithLabelValues(from, to).Inc()
	m.backendState.WithLabelValues(from).Set(0)
	m.backendState.WithLabelValues(to).Set(1)
}

func (m *Metrics) SetBackendState(state string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.backendState.WithLabelValues(state).Set(1)
}

func (m *Metrics) ObserveRemote(op string, duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.remoteDuration.WithLabelValues(op).Observe(duration.Seconds())
	if failed {
		m.remoteErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) RecordMalformedPayload() {
	if m == nil {
		return
	}
	m.malformedPayloads.Inc()
}

func (m *Metrics) SetLocalEntries(count int) {
	if m == nil {
		return
	}
	m.localEntries.Set(float64(count))
}

func (m *Metrics) RecordSweep(removed int) {
	if m == nil || removed <= 0 {
		return
	}
	m.sweepRemoved.Add(float64(removed))
}

func (m *Metrics) SetLedgerRecords(count int) {
	if m == nil {
		return
	}
	m.ledgerRecords.Set(float64(count))
}

func (m *Metrics) RecordLedgerEviction(reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.ledgerEvictions.WithLabelValues(reason).Add(float64(count))
}

func (m *Metrics) SetFlaggedOrigins(count int) {
	if m == nil {
		return
	}
	m.ledgerFlagged.Set(float64(count))
}

func (m *Metrics) RecordInspectRejected() {
	if m == nil {
		return
	}
	m.inspectRejected.Inc()
}
