package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WorkflowMetrics covers the examination workflow: visits, inference,
// storage and identifier allocation.
type WorkflowMetrics struct {
	examinationsTotal     *prometheus.CounterVec
	inferenceDuration     prometheus.Histogram
	inferenceErrors       prometheus.Counter
	storageOperations     *prometheus.CounterVec
	compensations         *prometheus.CounterVec
	visitTransitions      *prometheus.CounterVec
	activeVisits          prometheus.Gauge
	detectRejected        prometheus.Counter
	workflowStepDuration  *prometheus.HistogramVec
	notesSaved            prometheus.Counter
	examinationsDeleted   prometheus.Counter
	patientSearchRequests prometheus.Counter
}

// NewWorkflowMetrics creates and registers workflow metrics.
func NewWorkflowMetrics(registry *prometheus.Registry) (*WorkflowMetrics, error) {
	m := &WorkflowMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *WorkflowMetrics) initMetrics() {
	m.examinationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermascan_examinations_total",
			Help: "Total number of examinations recorded",
		},
		[]string{"outcome"}, // benign, melanoma, nonskin
	)
	m.inferenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dermascan_inference_duration_seconds",
			Help:    "Latency of classifier predict calls",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount14), // 10ms to ~80s
		},
	)
	m.inferenceErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dermascan_inference_errors_total",
			Help: "Total number of failed predict calls",
		},
	)
	m.storageOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermascan_storage_operations_total",
			Help: "Total number of object storage operations",
		},
		[]string{"operation", "status"}, // operation: upload, delete
	)
	m.compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermascan_upload_compensations_total",
			Help: "Uploaded images deleted after a failed detect, by result",
		},
		[]string{"result"}, // deleted, orphaned
	)
	m.visitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermascan_visit_transitions_total",
			Help: "Visit state transitions",
		},
		[]string{"from", "to"},
	)
	m.activeVisits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dermascan_active_visits",
			Help: "Visits currently held in memory",
		},
	)
	m.detectRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dermascan_detect_rejected_total",
			Help: "Detect requests rejected because one was already in flight",
		},
	)
	m.workflowStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dermascan_workflow_step_duration_seconds",
			Help:    "Duration of workflow steps",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount14), // 1ms to ~8s
		},
		[]string{"step"}, // upload, predict, persist
	)
	m.notesSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dermascan_notes_saved_total",
			Help: "Clinical notes saved",
		},
	)
	m.examinationsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dermascan_examinations_deleted_total",
			Help: "Examinations deleted by operators",
		},
	)
	m.patientSearchRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dermascan_patient_searches_total",
			Help: "Patient name searches executed",
		},
	)
}

func (m *WorkflowMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.examinationsTotal,
		m.inferenceDuration,
		m.inferenceErrors,
		m.storageOperations,
		m.compensations,
		m.visitTransitions,
		m.activeVisits,
		m.detectRejected,
		m.workflowStepDuration,
		m.notesSaved,
		m.examinationsDeleted,
		m.patientSearchRequests,
	}
}

// Describe implements the Collector interface
func (m *WorkflowMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.getCollectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *WorkflowMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.getCollectors() {
		c.Collect(ch)
	}
}

func (m *WorkflowMetrics) RecordExamination(outcome string) {
	m.examinationsTotal.WithLabelValues(outcome).Inc()
}

// RecordInference records one predict call.
func (m *WorkflowMetrics) RecordInference(seconds float64, err error) {
	m.inferenceDuration.Observe(seconds)
	if err != nil {
		m.inferenceErrors.Inc()
	}
}

func (m *WorkflowMetrics) RecordStorage(operation string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.storageOperations.WithLabelValues(operation, status).Inc()
}

func (m *WorkflowMetrics) RecordCompensation(result string) {
	m.compensations.WithLabelValues(result).Inc()
}

func (m *WorkflowMetrics) RecordTransition(from, to string) {
	m.visitTransitions.WithLabelValues(from, to).Inc()
}

func (m *WorkflowMetrics) SetActiveVisits(n int) {
	m.activeVisits.Set(float64(n))
}

func (m *WorkflowMetrics) RecordDetectRejected() {
	m.detectRejected.Inc()
}

func (m *WorkflowMetrics) ObserveStep(step string, seconds float64) {
	m.workflowStepDuration.WithLabelValues(step).Observe(seconds)
}

func (m *WorkflowMetrics) RecordNoteSaved() {
	m.notesSaved.Inc()
}

func (m *WorkflowMetrics) RecordExaminationDeleted() {
	m.examinationsDeleted.Inc()
}

func (m *WorkflowMetrics) RecordPatientSearch() {
	m.patientSearchRequests.Inc()
}
