package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/hospital-scheduling/internal/notification"
)

var (
	ErrReasonRequired         = errors.New("appointment reason is required")
	ErrUnknownAppointmentType = errors.New("unknown appointment type")
	ErrSlotInPast             = errors.New("slot start time is in the past")
	ErrAppointmentNotActive   = errors.New("appointment is not active")
)

const defaultDurationMinutes = 30

type BookRequest struct {
	PatientID uuid.UUID
	SlotID    int64
	Reason    string
	Type      AppointmentType
}

// Service turns a slot plus a reason into an appointment and its
// reminder schedule. It is the only place where the slot store and the
// notification stores are used together.
type Service struct {
	slots        SlotStore
	appointments AppointmentStore
	logs         notification.LogStore
	settings     notification.SettingStore
}

func NewService(slots SlotStore, appointments AppointmentStore, logs notification.LogStore, settings notification.SettingStore) *Service {
	return &Service{
		slots:        slots,
		appointments: appointments,
		logs:         logs,
		settings:     settings,
	}
}

// Book reserves the slot, creates the appointment, and schedules
// reminders. No partial state: losing the slot race fails before any
// write, and an appointment-creation failure releases the slot again.
// Reminder scheduling is best-effort and never fails the booking.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if req.Reason == "" {
		return nil, ErrReasonRequired
	}
	if !ValidAppointmentType(req.Type) {
		return nil, ErrUnknownAppointmentType
	}

	slot, err := s.slots.GetByID(ctx, req.SlotID)
	if err != nil {
		return nil, err
	}
	if !slot.StartTime.After(time.Now()) {
		return nil, ErrSlotInPast
	}

	reserved, err := s.slots.Reserve(ctx, req.SlotID)
	if err != nil {
		return nil, err
	}

	appt, err := s.appointments.Create(ctx, &Appointment{
		PatientID:       req.PatientID,
		DoctorID:        reserved.DoctorID,
		SlotID:          &reserved.ID,
		ScheduledAt:     reserved.StartTime,
		DurationMinutes: durationMinutes(reserved),
		Status:          StatusScheduled,
		Type:            req.Type,
		Reason:          req.Reason,
	})
	if err != nil {
		// Compensating release so the slot is not stranded as booked
		// with no appointment behind it.
		if _, relErr := s.slots.Release(ctx, reserved.ID); relErr != nil {
			log.Printf("ERROR: slot %d left booked after failed appointment create: %v", reserved.ID, relErr)
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.scheduleBookingReminders(ctx, appt)

	if err := s.CheckSlotConsistency(ctx, appt); err != nil {
		log.Printf("WARN: consistency check for appointment %s: %v", appt.ID, err)
	}

	return appt, nil
}

// Cancel marks the appointment cancelled, frees its slot, and cancels
// pending reminders. The cancellation notice is scheduled after the
// cancel sweep so it is never swept itself.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID) error {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return err
	}
	if !activeStatus(appt.Status) {
		return ErrAppointmentNotActive
	}

	if _, err := s.appointments.UpdateStatus(ctx, appointmentID, appt.Status, StatusCancelled); err != nil {
		return fmt.Errorf("cancel appointment: %w", err)
	}

	if appt.SlotID != nil {
		if _, err := s.slots.Release(ctx, *appt.SlotID); err != nil && !errors.Is(err, ErrSlotNotFound) {
			log.Printf("ERROR: release slot %d for cancelled appointment %s: %v", *appt.SlotID, appointmentID, err)
		}
	}

	if _, err := s.logs.CancelForAppointment(ctx, appointmentID); err != nil {
		log.Printf("WARN: cancel reminders for appointment %s: %v", appointmentID, err)
	}

	s.scheduleImmediate(ctx, appt, notification.TypeCancelled,
		"Appointment Cancelled",
		fmt.Sprintf("Your appointment on %s has been cancelled.", appt.ScheduledAt.Format("Jan 2 at 3:04 PM")),
	)

	return nil
}

// Reschedule moves an appointment to a new slot. The new slot is
// secured before the old one is released so the appointment never sits
// without a valid slot.
func (s *Service) Reschedule(ctx context.Context, appointmentID uuid.UUID, newSlotID int64) (*Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !activeStatus(appt.Status) {
		return nil, ErrAppointmentNotActive
	}

	newSlot, err := s.slots.GetByID(ctx, newSlotID)
	if err != nil {
		return nil, err
	}
	if !newSlot.StartTime.After(time.Now()) {
		return nil, ErrSlotInPast
	}

	reserved, err := s.slots.Reserve(ctx, newSlotID)
	if err != nil {
		return nil, err
	}

	oldSlotID := appt.SlotID

	updated, err := s.appointments.UpdateSchedule(ctx, appointmentID, reserved.ID, reserved.StartTime)
	if err != nil {
		if _, relErr := s.slots.Release(ctx, reserved.ID); relErr != nil {
			log.Printf("ERROR: slot %d left booked after failed reschedule: %v", reserved.ID, relErr)
		}
		return nil, fmt.Errorf("update appointment schedule: %w", err)
	}

	if oldSlotID != nil {
		if _, err := s.slots.Release(ctx, *oldSlotID); err != nil && !errors.Is(err, ErrSlotNotFound) {
			log.Printf("ERROR: release old slot %d for appointment %s: %v", *oldSlotID, appointmentID, err)
		}
	}

	if _, err := s.logs.CancelForAppointment(ctx, appointmentID); err != nil {
		log.Printf("WARN: cancel reminders for rescheduled appointment %s: %v", appointmentID, err)
	}

	s.scheduleTimedReminders(ctx, updated)
	s.scheduleImmediate(ctx, updated, notification.TypeRescheduled,
		"Appointment Rescheduled",
		fmt.Sprintf("Your appointment has been moved to %s.", updated.ScheduledAt.Format("Jan 2 at 3:04 PM")),
	)

	return updated, nil
}

// AppointmentActive reports whether an appointment may still receive
// notifications. A missing appointment counts as inactive rather than
// an error so the scheduler can cancel its orphaned reminders.
func (s *Service) AppointmentActive(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return false, nil
		}
		return false, err
	}
	return activeStatus(appt.Status), nil
}

// CheckSlotConsistency looks for booked slots overlapping the given
// interval beyond the expected one. Overlaps indicate manual slot edits
// gone wrong; they are reported, never silently repaired.
func (s *Service) CheckSlotConsistency(ctx context.Context, appt *Appointment) error {
	if appt.SlotID == nil {
		return nil
	}
	end := appt.ScheduledAt.Add(time.Duration(appt.DurationMinutes) * time.Minute)
	conflicting, err := s.slots.FindConflicting(ctx, appt.DoctorID, appt.ScheduledAt, end)
	if err != nil {
		return fmt.Errorf("find conflicting slots: %w", err)
	}
	for _, c := range conflicting {
		if c.ID != *appt.SlotID {
			log.Printf("ERROR: doctor %s double-booked: slot %d overlaps appointment %s", appt.DoctorID, c.ID, appt.ID)
		}
	}
	return nil
}

func activeStatus(st AppointmentStatus) bool {
	return st == StatusScheduled || st == StatusConfirmed
}

func durationMinutes(slot *AvailabilitySlot) int {
	d := int(slot.EndTime.Sub(slot.StartTime) / time.Minute)
	if d <= 0 {
		d = defaultDurationMinutes
	}
	return d
}

// scheduleBookingReminders creates the 24h/1h reminders and the
// immediate confirmation for a fresh booking. Failures are logged and
// swallowed: booking success does not depend on the side channel.
func (s *Service) scheduleBookingReminders(ctx context.Context, appt *Appointment) {
	enabled, err := s.settings.IsEnabled(ctx, appt.PatientID)
	if err != nil {
		log.Printf("WARN: settings lookup for patient %s failed, skipping reminders: %v", appt.PatientID, err)
		return
	}
	if !enabled {
		return
	}

	s.scheduleTimedReminders(ctx, appt)
	s.scheduleImmediate(ctx, appt, notification.TypeConfirmed,
		"Appointment Confirmed",
		fmt.Sprintf("Your appointment on %s is confirmed.", appt.ScheduledAt.Format("Jan 2 at 3:04 PM")),
	)
}

func (s *Service) scheduleTimedReminders(ctx context.Context, appt *Appointment) {
	setting, err := s.settings.GetOrCreate(ctx, appt.PatientID)
	if err != nil {
		log.Printf("WARN: settings lookup for patient %s failed, skipping reminders: %v", appt.PatientID, err)
		return
	}
	if !setting.NotificationsEnabled {
		return
	}

	now := time.Now()
	at := appt.ScheduledAt
	timeOfDay := at.Format("3:04 PM")

	if setting.Reminder24h {
		if fireAt := at.Add(-24 * time.Hour); fireAt.After(now) {
			s.schedule(ctx, appt, notification.Reminder24h, fireAt,
				"Appointment Reminder - Tomorrow",
				fmt.Sprintf("Don't forget your appointment tomorrow at %s.", timeOfDay),
			)
		}
	}

	if setting.Reminder1h {
		if fireAt := at.Add(-time.Hour); fireAt.After(now) {
			s.schedule(ctx, appt, notification.Reminder1h, fireAt,
				"Appointment Starting Soon",
				fmt.Sprintf("Your appointment starts in 1 hour at %s.", timeOfDay),
			)
		}
	}
}

func (s *Service) scheduleImmediate(ctx context.Context, appt *Appointment, t notification.ReminderType, title, body string) {
	setting, err := s.settings.GetOrCreate(ctx, appt.PatientID)
	if err != nil {
		log.Printf("WARN: settings lookup for patient %s failed, skipping %s notice: %v", appt.PatientID, t, err)
		return
	}
	if !setting.NotificationsEnabled || !setting.AllowsType(t) {
		return
	}

	s.schedule(ctx, appt, t, time.Now(), title, body)
}

func (s *Service) schedule(ctx context.Context, appt *Appointment, t notification.ReminderType, fireAt time.Time, title, body string) {
	_, err := s.logs.ScheduleReminder(ctx, notification.ScheduleRequest{
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		ReminderType:  t,
		ScheduledFor:  fireAt,
		Title:         title,
		Body:          body,
	})
	if err != nil {
		log.Printf("WARN: schedule %s reminder for appointment %s: %v", t, appt.ID, err)
	}
}
