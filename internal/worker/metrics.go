package worker

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors updated by the orchestrator
type Metrics struct {
	events         *prometheus.CounterVec
	batches        *prometheus.CounterVec
	batchDuration  *prometheus.HistogramVec
	emptyClaims    *prometheus.CounterVec
	claimErrors    *prometheus.CounterVec
	poolRestarts   *prometheus.CounterVec
	batchesRunning *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queueprocessor",
			Name:      "events_total",
			Help:      "Events handled, by queue and result (succeeded or failed).",
		}, []string{"queue", "result"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queueprocessor",
			Name:      "batches_total",
			Help:      "Batches claimed and processed, by queue.",
		}, []string{"queue"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "queueprocessor",
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock time to handle and settle one batch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		emptyClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queueprocessor",
			Name:      "empty_claims_total",
			Help:      "Claims that returned no events, including lock conflicts.",
		}, []string{"queue"}),
		claimErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queueprocessor",
			Name:      "claim_errors_total",
			Help:      "Claims that failed for a reason other than a lock conflict.",
		}, []string{"queue"}),
		poolRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queueprocessor",
			Name:      "pool_restarts_total",
			Help:      "Connection pools rebuilt after reconfiguration or failure.",
		}, []string{"queue"}),
		batchesRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "queueprocessor",
			Name:      "batches_in_flight",
			Help:      "Batches currently being processed.",
		}, []string{"queue"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.events,
			m.batches,
			m.batchDuration,
			m.emptyClaims,
			m.claimErrors,
			m.poolRestarts,
			m.batchesRunning,
		)
	}
	return m
}

func queueLabel(queueID int) string {
	return strconv.Itoa(queueID)
}

func (m *Metrics) batchStarted(queueID int) {
	m.batchesRunning.WithLabelValues(queueLabel(queueID)).Inc()
}

func (m *Metrics) batchDone(queueID int) {
	m.batchesRunning.WithLabelValues(queueLabel(queueID)).Dec()
}

func (m *Metrics) batchFinished(queueID, succeeded, failed int, elapsed time.Duration) {
	q := queueLabel(queueID)
	m.batches.WithLabelValues(q).Inc()
	m.batchDuration.WithLabelValues(q).Observe(elapsed.Seconds())
	m.events.WithLabelValues(q, "succeeded").Add(float64(succeeded))
	m.events.WithLabelValues(q, "failed").Add(float64(failed))
}

func (m *Metrics) emptyClaim(queueID int) {
	m.emptyClaims.WithLabelValues(queueLabel(queueID)).Inc()
}

func (m *Metrics) claimError(queueID int) {
	m.claimErrors.WithLabelValues(queueLabel(queueID)).Inc()
}

func (m *Metrics) poolRestart(queueID int) {
	m.poolRestarts.WithLabelValues(queueLabel(queueID)).Inc()
}
