package notification

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

type ReminderType string

const (
	Reminder24h     ReminderType = "reminder_24h"
	Reminder1h      ReminderType = "reminder_1h"
	TypeConfirmed   ReminderType = "confirmed"
	TypeCancelled   ReminderType = "cancelled"
	TypeRescheduled ReminderType = "rescheduled"
)

// MaxRetries caps delivery attempts. A log row is attempted while its
// retry count is below the cap and terminally failed once the count
// reaches it.
const MaxRetries = 3

// Log is one scheduled notification delivery for an appointment.
// At most one non-cancelled row exists per (appointment, reminder type).
type Log struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	ReminderType  ReminderType
	Status        Status
	ScheduledFor  time.Time
	SentAt        *time.Time
	Title         string
	Body          string
	ErrorMessage  *string
	RetryCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Setting holds one patient's opt-in preferences. Notifications are
// disabled overall by default; per-event toggles default to on so a
// single opt-in enables everything.
type Setting struct {
	ID                     uuid.UUID
	PatientID              uuid.UUID
	NotificationsEnabled   bool
	Reminder24h            bool
	Reminder1h             bool
	AppointmentConfirmed   bool
	AppointmentCancelled   bool
	AppointmentRescheduled bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// AllowsType reports whether the per-event toggle for t is on. The
// overall NotificationsEnabled flag is checked separately.
func (s *Setting) AllowsType(t ReminderType) bool {
	switch t {
	case Reminder24h:
		return s.Reminder24h
	case Reminder1h:
		return s.Reminder1h
	case TypeConfirmed:
		return s.AppointmentConfirmed
	case TypeCancelled:
		return s.AppointmentCancelled
	case TypeRescheduled:
		return s.AppointmentRescheduled
	}
	return false
}

// SettingPatch carries a partial settings update; nil fields are left
// unchanged.
type SettingPatch struct {
	NotificationsEnabled   *bool
	Reminder24h            *bool
	Reminder1h             *bool
	AppointmentConfirmed   *bool
	AppointmentCancelled   *bool
	AppointmentRescheduled *bool
}

type Stats struct {
	Pending   int64
	Sent      int64
	Failed    int64
	Cancelled int64
	Total     int64
}
