package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrLogNotFound = errors.New("notification log not found")

// ScheduleRequest describes one reminder to create or refresh.
type ScheduleRequest struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	ReminderType  ReminderType
	ScheduledFor  time.Time
	Title         string
	Body          string
}

// LogStore owns the queue of scheduled notifications.
type LogStore interface {
	// ScheduleReminder creates a pending row, or, when an active row for
	// (appointment, type) already exists, overwrites its schedule/title/
	// body and resets it to pending with a zero retry count.
	ScheduleReminder(ctx context.Context, req ScheduleRequest) (*Log, error)

	// CancelForAppointment transitions the appointment's pending rows to
	// cancelled. Sent and failed rows are history and stay untouched.
	CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error)

	// FindDue returns up to limit pending rows whose scheduled time has
	// passed and whose retry count is under the cap, oldest first.
	FindDue(ctx context.Context, limit int) ([]Log, error)

	// MarkSent transitions a pending row to sent. Affecting zero rows is
	// a benign lost race against cancellation, not an error.
	MarkSent(ctx context.Context, id uuid.UUID) error

	// MarkFailed increments a pending row's retry count, storing the
	// error message. The row stays pending until the count reaches
	// MaxRetries, at which point it is terminally failed. Zero rows
	// affected is a benign lost race against cancellation.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error

	// MarkCancelled transitions a single pending row to cancelled.
	MarkCancelled(ctx context.Context, id uuid.UUID) error

	GetByID(ctx context.Context, id uuid.UUID) (*Log, error)
	Stats(ctx context.Context, patientID *uuid.UUID) (Stats, error)
	ListRecent(ctx context.Context, patientID uuid.UUID, limit int) ([]Log, error)
}

// SettingStore owns per-patient notification preferences.
type SettingStore interface {
	// GetOrCreate returns the patient's settings, lazily creating the
	// default-disabled row. It never reports not-found.
	GetOrCreate(ctx context.Context, patientID uuid.UUID) (*Setting, error)

	Update(ctx context.Context, patientID uuid.UUID, patch SettingPatch) (*Setting, error)
	SetEnabled(ctx context.Context, patientID uuid.UUID, enabled bool) (*Setting, error)

	// IsEnabled is false when no row exists or the overall flag is off.
	IsEnabled(ctx context.Context, patientID uuid.UUID) (bool, error)
}
