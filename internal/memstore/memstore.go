// Package memstore provides in-memory implementations of the store
// interfaces with the same semantics as the Postgres ones, including
// the compare-and-set on slot reservation. Used by service, scheduler,
// and handler tests so the core logic runs without a database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/hospital-scheduling/internal/booking"
	"github.com/careflow/hospital-scheduling/internal/notification"
)

type SlotStore struct {
	mu       sync.Mutex
	nextID   int64
	slots    map[int64]*booking.AvailabilitySlot
	refCheck func(id int64) bool
}

func NewSlotStore() *SlotStore {
	return &SlotStore{slots: make(map[int64]*booking.AvailabilitySlot)}
}

// SetReferenceCheck installs the probe PurgeBefore consults before
// deleting a slot, standing in for the appointments foreign key.
func (s *SlotStore) SetReferenceCheck(fn func(id int64) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refCheck = fn
}

// Add inserts a slot and returns its assigned ID.
func (s *SlotStore) Add(doctorID uuid.UUID, start, end time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := time.Now()
	s.slots[s.nextID] = &booking.AvailabilitySlot{
		ID:        s.nextID,
		DoctorID:  doctorID,
		StartTime: start,
		EndTime:   end,
		IsBooked:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.nextID
}

func (s *SlotStore) GetByID(_ context.Context, id int64) (*booking.AvailabilitySlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return nil, booking.ErrSlotNotFound
	}
	cp := *slot
	return &cp, nil
}

func (s *SlotStore) FindAvailable(_ context.Context, doctorID *uuid.UUID, window *booking.TimeWindow) ([]booking.AvailabilitySlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var result []booking.AvailabilitySlot
	for _, slot := range s.slots {
		if slot.IsBooked {
			continue
		}
		if doctorID != nil && slot.DoctorID != *doctorID {
			continue
		}
		if window != nil {
			if slot.StartTime.Before(window.From) || !slot.StartTime.Before(window.To) {
				continue
			}
		} else if !slot.StartTime.After(now) {
			continue
		}
		result = append(result, *slot)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result, nil
}

func (s *SlotStore) Reserve(_ context.Context, id int64) (*booking.AvailabilitySlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return nil, booking.ErrSlotNotFound
	}
	if slot.IsBooked {
		return nil, booking.ErrSlotAlreadyBooked
	}
	slot.IsBooked = true
	slot.UpdatedAt = time.Now()
	cp := *slot
	return &cp, nil
}

func (s *SlotStore) Release(_ context.Context, id int64) (*booking.AvailabilitySlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return nil, booking.ErrSlotNotFound
	}
	slot.IsBooked = false
	slot.UpdatedAt = time.Now()
	cp := *slot
	return &cp, nil
}

func (s *SlotStore) FindConflicting(_ context.Context, doctorID uuid.UUID, start, end time.Time) ([]booking.AvailabilitySlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []booking.AvailabilitySlot
	for _, slot := range s.slots {
		if slot.DoctorID != doctorID || !slot.IsBooked {
			continue
		}
		if slot.StartTime.Before(end) && slot.EndTime.After(start) {
			result = append(result, *slot)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result, nil
}

func (s *SlotStore) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, slot := range s.slots {
		if !slot.StartTime.Before(cutoff) {
			continue
		}
		if s.refCheck != nil && s.refCheck(id) {
			continue
		}
		delete(s.slots, id)
		purged++
	}
	return purged, nil
}

type AppointmentStore struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]*booking.Appointment

	// CreateErr, when set, makes Create fail. Used to exercise the
	// compensating slot release.
	CreateErr error
}

func NewAppointmentStore() *AppointmentStore {
	return &AppointmentStore{appointments: make(map[uuid.UUID]*booking.Appointment)}
}

// ReferencesSlot reports whether any appointment points at the slot.
func (s *AppointmentStore) ReferencesSlot(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, appt := range s.appointments {
		if appt.SlotID != nil && *appt.SlotID == id {
			return true
		}
	}
	return false
}

func (s *AppointmentStore) Create(_ context.Context, appt *booking.Appointment) (*booking.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return nil, s.CreateErr
	}

	cp := *appt
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.appointments[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (s *AppointmentStore) GetByID(_ context.Context, id uuid.UUID) (*booking.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appointments[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	cp := *appt
	return &cp, nil
}

func (s *AppointmentStore) UpdateStatus(_ context.Context, id uuid.UUID, from, to booking.AppointmentStatus) (*booking.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appointments[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	if appt.Status != from {
		return nil, booking.ErrInvalidStatusTransition
	}
	appt.Status = to
	appt.UpdatedAt = time.Now()
	cp := *appt
	return &cp, nil
}

func (s *AppointmentStore) UpdateSchedule(_ context.Context, id uuid.UUID, slotID int64, scheduledAt time.Time) (*booking.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appointments[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	appt.SlotID = &slotID
	appt.ScheduledAt = scheduledAt
	appt.UpdatedAt = time.Now()
	cp := *appt
	return &cp, nil
}

func (s *AppointmentStore) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]booking.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []booking.Appointment
	for _, appt := range s.appointments {
		if appt.PatientID == patientID {
			result = append(result, *appt)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledAt.After(result[j].ScheduledAt)
	})

	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type LogStore struct {
	mu   sync.Mutex
	logs map[uuid.UUID]*notification.Log
}

func NewLogStore() *LogStore {
	return &LogStore{logs: make(map[uuid.UUID]*notification.Log)}
}

func (s *LogStore) ScheduleReminder(_ context.Context, req notification.ScheduleRequest) (*notification.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.logs {
		if l.AppointmentID == req.AppointmentID && l.ReminderType == req.ReminderType && l.Status != notification.StatusCancelled {
			l.ScheduledFor = req.ScheduledFor
			l.Title = req.Title
			l.Body = req.Body
			l.Status = notification.StatusPending
			l.RetryCount = 0
			l.ErrorMessage = nil
			l.UpdatedAt = time.Now()
			cp := *l
			return &cp, nil
		}
	}

	now := time.Now()
	l := &notification.Log{
		ID:            uuid.New(),
		AppointmentID: req.AppointmentID,
		PatientID:     req.PatientID,
		ReminderType:  req.ReminderType,
		Status:        notification.StatusPending,
		ScheduledFor:  req.ScheduledFor,
		Title:         req.Title,
		Body:          req.Body,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.logs[l.ID] = l
	cp := *l
	return &cp, nil
}

func (s *LogStore) CancelForAppointment(_ context.Context, appointmentID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, l := range s.logs {
		if l.AppointmentID == appointmentID && l.Status == notification.StatusPending {
			l.Status = notification.StatusCancelled
			l.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *LogStore) FindDue(_ context.Context, limit int) ([]notification.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var result []notification.Log
	for _, l := range s.logs {
		if l.Status == notification.StatusPending && !l.ScheduledFor.After(now) && l.RetryCount < notification.MaxRetries {
			result = append(result, *l)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledFor.Before(result[j].ScheduledFor)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *LogStore) MarkSent(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[id]
	if !ok || l.Status != notification.StatusPending {
		return nil
	}
	now := time.Now()
	l.Status = notification.StatusSent
	l.SentAt = &now
	l.UpdatedAt = now
	return nil
}

func (s *LogStore) MarkFailed(_ context.Context, id uuid.UUID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[id]
	if !ok || l.Status != notification.StatusPending {
		return nil
	}
	l.RetryCount++
	if l.RetryCount >= notification.MaxRetries {
		l.Status = notification.StatusFailed
	} else {
		l.Status = notification.StatusPending
	}
	msg := errorMessage
	l.ErrorMessage = &msg
	l.UpdatedAt = time.Now()
	return nil
}

func (s *LogStore) MarkCancelled(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[id]
	if ok && l.Status == notification.StatusPending {
		l.Status = notification.StatusCancelled
		l.UpdatedAt = time.Now()
	}
	return nil
}

func (s *LogStore) GetByID(_ context.Context, id uuid.UUID) (*notification.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[id]
	if !ok {
		return nil, notification.ErrLogNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *LogStore) Stats(_ context.Context, patientID *uuid.UUID) (notification.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st notification.Stats
	for _, l := range s.logs {
		if patientID != nil && l.PatientID != *patientID {
			continue
		}
		st.Total++
		switch l.Status {
		case notification.StatusPending:
			st.Pending++
		case notification.StatusSent:
			st.Sent++
		case notification.StatusFailed:
			st.Failed++
		case notification.StatusCancelled:
			st.Cancelled++
		}
	}
	return st, nil
}

func (s *LogStore) ListRecent(_ context.Context, patientID uuid.UUID, limit int) ([]notification.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []notification.Log
	for _, l := range s.logs {
		if l.PatientID == patientID {
			result = append(result, *l)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// All returns every log row, for test assertions.
func (s *LogStore) All() []notification.Log {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]notification.Log, 0, len(s.logs))
	for _, l := range s.logs {
		result = append(result, *l)
	}
	return result
}

type SettingStore struct {
	mu       sync.Mutex
	settings map[uuid.UUID]*notification.Setting

	// GetErr, when set, makes lookups fail. Used to verify booking
	// succeeds with zero reminders when settings are unavailable.
	GetErr error
}

func NewSettingStore() *SettingStore {
	return &SettingStore{settings: make(map[uuid.UUID]*notification.Setting)}
}

func (s *SettingStore) GetOrCreate(_ context.Context, patientID uuid.UUID) (*notification.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.GetErr != nil {
		return nil, s.GetErr
	}

	set, ok := s.settings[patientID]
	if !ok {
		now := time.Now()
		set = &notification.Setting{
			ID:                     uuid.New(),
			PatientID:              patientID,
			NotificationsEnabled:   false,
			Reminder24h:            true,
			Reminder1h:             true,
			AppointmentConfirmed:   true,
			AppointmentCancelled:   true,
			AppointmentRescheduled: true,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		s.settings[patientID] = set
	}
	cp := *set
	return &cp, nil
}

func (s *SettingStore) Update(ctx context.Context, patientID uuid.UUID, patch notification.SettingPatch) (*notification.Setting, error) {
	if _, err := s.GetOrCreate(ctx, patientID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.settings[patientID]
	if patch.NotificationsEnabled != nil {
		set.NotificationsEnabled = *patch.NotificationsEnabled
	}
	if patch.Reminder24h != nil {
		set.Reminder24h = *patch.Reminder24h
	}
	if patch.Reminder1h != nil {
		set.Reminder1h = *patch.Reminder1h
	}
	if patch.AppointmentConfirmed != nil {
		set.AppointmentConfirmed = *patch.AppointmentConfirmed
	}
	if patch.AppointmentCancelled != nil {
		set.AppointmentCancelled = *patch.AppointmentCancelled
	}
	if patch.AppointmentRescheduled != nil {
		set.AppointmentRescheduled = *patch.AppointmentRescheduled
	}
	set.UpdatedAt = time.Now()
	cp := *set
	return &cp, nil
}

func (s *SettingStore) SetEnabled(ctx context.Context, patientID uuid.UUID, enabled bool) (*notification.Setting, error) {
	return s.Update(ctx, patientID, notification.SettingPatch{NotificationsEnabled: &enabled})
}

func (s *SettingStore) IsEnabled(_ context.Context, patientID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.GetErr != nil {
		return false, s.GetErr
	}

	set, ok := s.settings[patientID]
	if !ok {
		return false, nil
	}
	return set.NotificationsEnabled, nil
}
