package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgSlotStore struct {
	pool *pgxpool.Pool
}

func NewPgSlotStore(pool *pgxpool.Pool) *PgSlotStore {
	return &PgSlotStore{pool: pool}
}

const slotColumns = `id, doctor_id, start_time, end_time, is_booked, created_at, updated_at`

func scanSlot(row pgx.Row) (*AvailabilitySlot, error) {
	var s AvailabilitySlot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.IsBooked,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanSlots(rows pgx.Rows) ([]AvailabilitySlot, error) {
	defer rows.Close()

	var result []AvailabilitySlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgSlotStore) GetByID(ctx context.Context, id int64) (*AvailabilitySlot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgSlotStore) FindAvailable(ctx context.Context, doctorID *uuid.UUID, window *TimeWindow) ([]AvailabilitySlot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM availability_slots
		WHERE is_booked = false
	`
	args := []any{}
	idx := 1

	if window != nil {
		query += fmt.Sprintf(" AND start_time >= $%d AND start_time < $%d", idx, idx+1)
		args = append(args, window.From, window.To)
		idx += 2
	} else {
		query += fmt.Sprintf(" AND start_time > $%d", idx)
		args = append(args, time.Now())
		idx++
	}

	if doctorID != nil {
		query += fmt.Sprintf(" AND doctor_id = $%d", idx)
		args = append(args, *doctorID)
	}

	query += " ORDER BY start_time ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}

// Reserve is the compare-and-set on the booked flag. The conditional
// UPDATE is the mutual-exclusion primitive: losing a race shows up as
// zero affected rows, never as a silent success.
func (r *PgSlotStore) Reserve(ctx context.Context, id int64) (*AvailabilitySlot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE availability_slots
		SET is_booked = true,
		    updated_at = now()
		WHERE id = $1
		  AND is_booked = false
		RETURNING `+slotColumns+`
	`, id)

	slot, err := scanSlot(row)
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return nil, err
	}

	// Zero rows: distinguish a missing slot from a lost race.
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrSlotAlreadyBooked
}

func (r *PgSlotStore) Release(ctx context.Context, id int64) (*AvailabilitySlot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE availability_slots
		SET is_booked = false,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+slotColumns+`
	`, id)
	return scanSlot(row)
}

func (r *PgSlotStore) FindConflicting(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]AvailabilitySlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE doctor_id = $1
		  AND is_booked = true
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time ASC
	`, doctorID, start, end)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}

func (r *PgSlotStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM availability_slots s
		WHERE s.start_time < $1
		  AND NOT EXISTS (
			SELECT 1 FROM appointments a WHERE a.slot_id = s.id
		  )
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

type PgAppointmentStore struct {
	pool *pgxpool.Pool
}

func NewPgAppointmentStore(pool *pgxpool.Pool) *PgAppointmentStore {
	return &PgAppointmentStore{pool: pool}
}

const appointmentColumns = `id, patient_id, doctor_id, slot_id, scheduled_at, duration_minutes, status, type, reason, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var slotID *int64

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&slotID,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&a.Status,
		&a.Type,
		&a.Reason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.SlotID = slotID
	return &a, nil
}

func (r *PgAppointmentStore) Create(ctx context.Context, appt *Appointment) (*Appointment, error) {
	id := appt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_id, scheduled_at, duration_minutes, status, type, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, appt.PatientID, appt.DoctorID, appt.SlotID, appt.ScheduledAt, appt.DurationMinutes, appt.Status, appt.Type, appt.Reason)

	return scanAppointment(row)
}

func (r *PgAppointmentStore) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgAppointmentStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	appt, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		// Row may exist in another status; report the transition failure.
		if _, getErr := r.GetByID(ctx, id); getErr == nil {
			return nil, ErrInvalidStatusTransition
		}
		return nil, ErrAppointmentNotFound
	}
	return appt, err
}

func (r *PgAppointmentStore) UpdateSchedule(ctx context.Context, id uuid.UUID, slotID int64, scheduledAt time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET slot_id = $2,
		    scheduled_at = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, slotID, scheduledAt)
	return scanAppointment(row)
}

func (r *PgAppointmentStore) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
