package examination

import (
	"context"

	"github.com/dermascan/dermascan/internal/mqtt"
	"github.com/dermascan/dermascan/internal/notification"
)

// Metrics is the subset of the workflow collector used by the service.
type Metrics interface {
	RecordExamination(outcome string)
	RecordInference(seconds float64, err error)
	RecordStorage(operation string, err error)
	RecordCompensation(result string)
	RecordTransition(from, to string)
	SetActiveVisits(n int)
	RecordDetectRejected()
	ObserveStep(step string, seconds float64)
	RecordNoteSaved()
	RecordPatientSearch()
}

// AlertSink receives melanoma alerts. Implementations must not block.
type AlertSink interface {
	Enqueue(n *notification.Notification) bool
}

// EventSink receives examination events.
type EventSink interface {
	PublishExamination(ctx context.Context, ev mqtt.ExaminationEvent)
}

// Hooks are optional side channels fed after each examination.
type Hooks struct {
	Metrics Metrics
	Alerts  AlertSink
	Events  EventSink
}

type nopMetrics struct{}

func (nopMetrics) RecordExamination(string)        {}
func (nopMetrics) RecordInference(float64, error)  {}
func (nopMetrics) RecordStorage(string, error)     {}
func (nopMetrics) RecordCompensation(string)       {}
func (nopMetrics) RecordTransition(string, string) {}
func (nopMetrics) SetActiveVisits(int)             {}
func (nopMetrics) RecordDetectRejected()           {}
func (nopMetrics) ObserveStep(string, float64)     {}
func (nopMetrics) RecordNoteSaved()                {}
func (nopMetrics) RecordPatientSearch()            {}
