package booking

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
	StatusNoShow    AppointmentStatus = "no_show"
)

type AppointmentType string

const (
	TypeConsultation AppointmentType = "consultation"
	TypeFollowUp     AppointmentType = "follow_up"
	TypeCheckup      AppointmentType = "checkup"
	TypeEmergency    AppointmentType = "emergency"
)

func ValidAppointmentType(t AppointmentType) bool {
	switch t {
	case TypeConsultation, TypeFollowUp, TypeCheckup, TypeEmergency:
		return true
	}
	return false
}

// AvailabilitySlot is one bookable doctor/time-interval unit.
// (doctor_id, start_time) is unique at the storage layer.
type AvailabilitySlot struct {
	ID        int64
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	IsBooked  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	SlotID          *int64
	ScheduledAt     time.Time
	DurationMinutes int
	Status          AppointmentStatus
	Type            AppointmentType
	Reason          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TimeWindow bounds a slot query to [From, To).
type TimeWindow struct {
	From time.Time
	To   time.Time
}
