package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dermascan/dermascan/internal/logger"
)

// Event subtopics.
const (
	EventExaminationCreated  = "examination.created"
	EventExaminationMelanoma = "examination.melanoma"
	EventExaminationDeleted  = "examination.deleted"
)

// ExaminationEvent is the JSON payload published for examination changes.
// Patient names are not included.
type ExaminationEvent struct {
	Event           string    `json:"event"`
	ExaminationID   string    `json:"id_examination"`
	PatientID       uint      `json:"patient_id"`
	DoctorID        string    `json:"doctor_id"`
	ModelPrediction string    `json:"model_prediction"`
	ConfidenceScore float64   `json:"confidence_score"`
	Outcome         string    `json:"outcome"`
	ImageURL        string    `json:"image_url,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Publisher publishes examination events, logging rather than returning failures.
type Publisher struct {
	client Client
	logger logger.Logger
}

// NewPublisher wraps a connected client. A nil client yields a publisher
// that does nothing.
func NewPublisher(client Client, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.Global().Module("mqtt")
	}
	return &Publisher{client: client, logger: log}
}

// PublishExamination sends ev under its event subtopic.
func (p *Publisher) PublishExamination(ctx context.Context, ev ExaminationEvent) {
	if p == nil || p.client == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to encode examination event", logger.Error(err))
		return
	}
	if err := p.client.Publish(ctx, ev.Event, payload); err != nil {
		p.logger.Warn("failed to publish examination event",
			logger.String("event", ev.Event),
			logger.String("id_examination", ev.ExaminationID),
			logger.Error(err))
	}
}
