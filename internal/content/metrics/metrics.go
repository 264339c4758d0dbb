package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the content API.
type Metrics struct {
	DocumentsCreated        *prometheus.CounterVec
	EnrollmentsDeduplicated prometheus.Counter
	SubmissionUpserts       *prometheus.CounterVec
	StoreOperationDuration  *prometheus.HistogramVec
	StoreErrors             *prometheus.CounterVec
}

// New registers the collectors with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DocumentsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lms_documents_created_total",
			Help: "Documents created, by entity kind",
		}, []string{"kind"}),
		EnrollmentsDeduplicated: factory.NewCounter(prometheus.CounterOpts{
			Name: "lms_enrollments_deduplicated_total",
			Help: "Enrollment requests answered with an existing enrollment",
		}),
		SubmissionUpserts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lms_submission_upserts_total",
			Help: "Submissions stored, by outcome (created or replaced)",
		}, []string{"outcome"}),
		StoreOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lms_store_operation_duration_seconds",
			Help:    "Latency of document store operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lms_store_errors_total",
			Help: "Document store operation failures, by operation and error code",
		}, []string{"operation", "code"}),
	}
}

func (m *Metrics) IncrementDocumentsCreated(kind string) {
	m.DocumentsCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementEnrollmentsDeduplicated() {
	m.EnrollmentsDeduplicated.Inc()
}

// IncrementSubmissionUpserts records whether a submission was new or replaced.
func (m *Metrics) IncrementSubmissionUpserts(created bool) {
	outcome := "replaced"
	if created {
		outcome = "created"
	}
	m.SubmissionUpserts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStoreOperation(operation string, d time.Duration) {
	m.StoreOperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) IncrementStoreErrors(operation, code string) {
	m.StoreErrors.WithLabelValues(operation, code).Inc()
}
