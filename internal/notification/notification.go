// Package notification delivers melanoma alerts to external chat and push
// services.
package notification

import (
	"context"
	"fmt"
	"time"
)

// Notification is a single alert.
type Notification struct {
	Title     string
	Message   string
	Timestamp time.Time
}

// Provider is a delivery backend. Implementations must be safe for concurrent use.
type Provider interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Observer receives delivery outcomes, typically a metrics collector.
type Observer interface {
	RecordDelivery(provider string, err error)
	RecordDropped()
}

// AlertData carries the examination fields rendered into a melanoma alert.
type AlertData struct {
	ExaminationID string
	PatientName   string
	DoctorName    string
	Confidence    float64
	ImageURL      string
	Date          time.Time
}

// MelanomaAlert renders the alert sent for a melanoma-positive examination.
func MelanomaAlert(d AlertData) *Notification {
	msg := fmt.Sprintf("Examination %s for %s was classified as melanoma with %.2f%% confidence.",
		d.ExaminationID, d.PatientName, d.Confidence)
	if d.DoctorName != "" {
		msg += fmt.Sprintf("\nExamining doctor: %s", d.DoctorName)
	}
	if d.ImageURL != "" {
		msg += fmt.Sprintf("\nImage: %s", d.ImageURL)
	}
	ts := d.Date
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Notification{
		Title:     fmt.Sprintf("Melanoma suspected: %s", d.ExaminationID),
		Message:   msg,
		Timestamp: ts,
	}
}
