package notification

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// Sender delivers a notification to a patient's device. Implementations
// wrap the real transport (push, email, SMS); any error is treated as
// transient and retried up to the cap.
type Sender interface {
	Send(ctx context.Context, title, body string, patientID uuid.UUID) error
}

// LogSender writes deliveries to the process log. Stands in for a real
// transport in dev environments.
type LogSender struct{}

func (LogSender) Send(_ context.Context, title, body string, patientID uuid.UUID) error {
	log.Printf("notification delivered patient=%s title=%q body=%q", patientID, title, body)
	return nil
}
