package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgLogStore struct {
	pool *pgxpool.Pool
}

func NewPgLogStore(pool *pgxpool.Pool) *PgLogStore {
	return &PgLogStore{pool: pool}
}

const logColumns = `id, appointment_id, patient_id, reminder_type, status, scheduled_for, sent_at, title, body, error_message, retry_count, created_at, updated_at`

func scanLog(row pgx.Row) (*Log, error) {
	var l Log
	var sentAt *time.Time
	var errMsg *string

	err := row.Scan(
		&l.ID,
		&l.AppointmentID,
		&l.PatientID,
		&l.ReminderType,
		&l.Status,
		&l.ScheduledFor,
		&sentAt,
		&l.Title,
		&l.Body,
		&errMsg,
		&l.RetryCount,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLogNotFound
		}
		return nil, err
	}

	l.SentAt = sentAt
	l.ErrorMessage = errMsg
	return &l, nil
}

func (r *PgLogStore) ScheduleReminder(ctx context.Context, req ScheduleRequest) (*Log, error) {
	// Reuse the active row for this (appointment, type) if one exists so
	// a reschedule refreshes it instead of duplicating.
	row := r.pool.QueryRow(ctx, `
		UPDATE notification_logs
		SET scheduled_for = $3,
		    title = $4,
		    body = $5,
		    status = 'pending',
		    retry_count = 0,
		    error_message = NULL,
		    updated_at = now()
		WHERE appointment_id = $1
		  AND reminder_type = $2
		  AND status <> 'cancelled'
		RETURNING `+logColumns+`
	`, req.AppointmentID, req.ReminderType, req.ScheduledFor, req.Title, req.Body)

	l, err := scanLog(row)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, ErrLogNotFound) {
		return nil, err
	}

	row = r.pool.QueryRow(ctx, `
		INSERT INTO notification_logs (id, appointment_id, patient_id, reminder_type, status, scheduled_for, title, body, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, 0, now(), now())
		RETURNING `+logColumns+`
	`, uuid.New(), req.AppointmentID, req.PatientID, req.ReminderType, req.ScheduledFor, req.Title, req.Body)

	return scanLog(row)
}

func (r *PgLogStore) CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_logs
		SET status = 'cancelled',
		    updated_at = now()
		WHERE appointment_id = $1
		  AND status = 'pending'
	`, appointmentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgLogStore) FindDue(ctx context.Context, limit int) ([]Log, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+logColumns+`
		FROM notification_logs
		WHERE status = 'pending'
		  AND scheduled_for <= $1
		  AND retry_count < $2
		ORDER BY scheduled_for ASC
		LIMIT $3
	`, time.Now(), MaxRetries, limit)
	if err != nil {
		return nil, err
	}
	return scanLogs(rows)
}

func scanLogs(rows pgx.Rows) ([]Log, error) {
	defer rows.Close()

	var result []Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *l)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgLogStore) MarkSent(ctx context.Context, id uuid.UUID) error {
	// The pending guard keeps a racing CancelForAppointment final: zero
	// rows affected is a benign lost race, not an error.
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_logs
		SET status = 'sent',
		    sent_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
	`, id)
	return err
}

func (r *PgLogStore) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_logs
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= $2 THEN 'failed' ELSE 'pending' END,
		    error_message = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
	`, id, MaxRetries, errorMessage)
	return err
}

func (r *PgLogStore) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	// Only pending rows move to cancelled; racing with a bulk cancel for
	// the same appointment is benign.
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_logs
		SET status = 'cancelled',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
	`, id)
	return err
}

func (r *PgLogStore) GetByID(ctx context.Context, id uuid.UUID) (*Log, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+logColumns+`
		FROM notification_logs
		WHERE id = $1
	`, id)
	return scanLog(row)
}

func (r *PgLogStore) Stats(ctx context.Context, patientID *uuid.UUID) (Stats, error) {
	query := `
		SELECT
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status = 'sent'),
			count(*) FILTER (WHERE status = 'failed'),
			count(*) FILTER (WHERE status = 'cancelled'),
			count(*)
		FROM notification_logs
	`
	args := []any{}
	if patientID != nil {
		query += " WHERE patient_id = $1"
		args = append(args, *patientID)
	}

	var s Stats
	err := r.pool.QueryRow(ctx, query, args...).Scan(&s.Pending, &s.Sent, &s.Failed, &s.Cancelled, &s.Total)
	if err != nil {
		return Stats{}, err
	}
	return s, nil
}

func (r *PgLogStore) ListRecent(ctx context.Context, patientID uuid.UUID, limit int) ([]Log, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+logColumns+`
		FROM notification_logs
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, patientID, limit)
	if err != nil {
		return nil, err
	}
	return scanLogs(rows)
}

type PgSettingStore struct {
	pool *pgxpool.Pool
}

func NewPgSettingStore(pool *pgxpool.Pool) *PgSettingStore {
	return &PgSettingStore{pool: pool}
}

const settingColumns = `id, patient_id, notifications_enabled, reminder_24h, reminder_1h, appointment_confirmed, appointment_cancelled, appointment_rescheduled, created_at, updated_at`

func scanSetting(row pgx.Row) (*Setting, error) {
	var s Setting

	err := row.Scan(
		&s.ID,
		&s.PatientID,
		&s.NotificationsEnabled,
		&s.Reminder24h,
		&s.Reminder1h,
		&s.AppointmentConfirmed,
		&s.AppointmentCancelled,
		&s.AppointmentRescheduled,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &s, nil
}

func (r *PgSettingStore) GetOrCreate(ctx context.Context, patientID uuid.UUID) (*Setting, error) {
	// The unique patient_id constraint makes concurrent first reads safe:
	// one insert wins, everyone reselects the same row.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_settings (id, patient_id, notifications_enabled, reminder_24h, reminder_1h, appointment_confirmed, appointment_cancelled, appointment_rescheduled, created_at, updated_at)
		VALUES ($1, $2, false, true, true, true, true, true, now(), now())
		ON CONFLICT (patient_id) DO NOTHING
	`, uuid.New(), patientID)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		SELECT `+settingColumns+`
		FROM notification_settings
		WHERE patient_id = $1
	`, patientID)
	return scanSetting(row)
}

func (r *PgSettingStore) Update(ctx context.Context, patientID uuid.UUID, patch SettingPatch) (*Setting, error) {
	current, err := r.GetOrCreate(ctx, patientID)
	if err != nil {
		return nil, err
	}

	applyPatch(current, patch)

	row := r.pool.QueryRow(ctx, `
		UPDATE notification_settings
		SET notifications_enabled = $2,
		    reminder_24h = $3,
		    reminder_1h = $4,
		    appointment_confirmed = $5,
		    appointment_cancelled = $6,
		    appointment_rescheduled = $7,
		    updated_at = now()
		WHERE patient_id = $1
		RETURNING `+settingColumns+`
	`, patientID,
		current.NotificationsEnabled,
		current.Reminder24h,
		current.Reminder1h,
		current.AppointmentConfirmed,
		current.AppointmentCancelled,
		current.AppointmentRescheduled,
	)
	return scanSetting(row)
}

func applyPatch(s *Setting, patch SettingPatch) {
	if patch.NotificationsEnabled != nil {
		s.NotificationsEnabled = *patch.NotificationsEnabled
	}
	if patch.Reminder24h != nil {
		s.Reminder24h = *patch.Reminder24h
	}
	if patch.Reminder1h != nil {
		s.Reminder1h = *patch.Reminder1h
	}
	if patch.AppointmentConfirmed != nil {
		s.AppointmentConfirmed = *patch.AppointmentConfirmed
	}
	if patch.AppointmentCancelled != nil {
		s.AppointmentCancelled = *patch.AppointmentCancelled
	}
	if patch.AppointmentRescheduled != nil {
		s.AppointmentRescheduled = *patch.AppointmentRescheduled
	}
}

func (r *PgSettingStore) SetEnabled(ctx context.Context, patientID uuid.UUID, enabled bool) (*Setting, error) {
	return r.Update(ctx, patientID, SettingPatch{NotificationsEnabled: &enabled})
}

func (r *PgSettingStore) IsEnabled(ctx context.Context, patientID uuid.UUID) (bool, error) {
	var enabled bool
	err := r.pool.QueryRow(ctx, `
		SELECT notifications_enabled
		FROM notification_settings
		WHERE patient_id = $1
	`, patientID).Scan(&enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return enabled, nil
}
