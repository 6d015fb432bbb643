package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound            = errors.New("slot not found")
	ErrSlotAlreadyBooked       = errors.New("slot is already booked")
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrInvalidStatusTransition = errors.New("invalid appointment status transition")
)

// SlotStore owns availability slots. Reserve is the concurrency-critical
// operation: it must be a single conditional write so that under N
// concurrent attempts on one slot exactly one caller wins.
type SlotStore interface {
	GetByID(ctx context.Context, id int64) (*AvailabilitySlot, error)

	// FindAvailable returns unbooked slots ordered by start time. With a
	// nil window only slots starting strictly in the future are returned.
	FindAvailable(ctx context.Context, doctorID *uuid.UUID, window *TimeWindow) ([]AvailabilitySlot, error)

	// Reserve flips is_booked false->true. Returns ErrSlotAlreadyBooked
	// when the conditional update affects zero rows for an existing slot.
	Reserve(ctx context.Context, id int64) (*AvailabilitySlot, error)

	// Release unbooks a slot. Releasing an already-free slot is a no-op.
	Release(ctx context.Context, id int64) (*AvailabilitySlot, error)

	// FindConflicting returns booked slots for the doctor overlapping
	// [start, end). Used to detect double-booking anomalies from manual
	// slot edits.
	FindConflicting(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]AvailabilitySlot, error)

	// PurgeBefore deletes past slots not referenced by any appointment.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AppointmentStore owns appointment rows.
type AppointmentStore interface {
	Create(ctx context.Context, appt *Appointment) (*Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateStatus transitions from->to conditionally; zero rows affected
	// surfaces ErrInvalidStatusTransition.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// UpdateSchedule moves an appointment to a new slot and time.
	UpdateSchedule(ctx context.Context, id uuid.UUID, slotID int64, scheduledAt time.Time) (*Appointment, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
}
