package api

import (
	"time"

	"github.com/google/uuid"
)

type BookAppointmentRequest struct {
	PatientID string `json:"patient_id"`
	SlotID    int64  `json:"slot_id"`
	Reason    string `json:"reason"`
	Type      string `json:"type"`
}

type RescheduleAppointmentRequest struct {
	NewSlotID int64 `json:"new_slot_id"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	SlotID          *int64    `json:"slot_id,omitempty"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	Type            string    `json:"type"`
	Reason          string    `json:"reason"`
}

type SlotResponse struct {
	ID        int64     `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type SettingsResponse struct {
	PatientID              uuid.UUID `json:"patient_id"`
	NotificationsEnabled   bool      `json:"notifications_enabled"`
	Reminder24h            bool      `json:"reminder_24h"`
	Reminder1h             bool      `json:"reminder_1h"`
	AppointmentConfirmed   bool      `json:"appointment_confirmed"`
	AppointmentCancelled   bool      `json:"appointment_cancelled"`
	AppointmentRescheduled bool      `json:"appointment_rescheduled"`
}

type UpdateSettingsRequest struct {
	NotificationsEnabled   *bool `json:"notifications_enabled,omitempty"`
	Reminder24h            *bool `json:"reminder_24h,omitempty"`
	Reminder1h             *bool `json:"reminder_1h,omitempty"`
	AppointmentConfirmed   *bool `json:"appointment_confirmed,omitempty"`
	AppointmentCancelled   *bool `json:"appointment_cancelled,omitempty"`
	AppointmentRescheduled *bool `json:"appointment_rescheduled,omitempty"`
}

type ToggleNotificationsRequest struct {
	Enabled bool `json:"enabled"`
}

type NotificationResponse struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	ReminderType  string     `json:"reminder_type"`
	Status        string     `json:"status"`
	ScheduledFor  time.Time  `json:"scheduled_for"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
