package notification_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/careflow/hospital-scheduling/internal/memstore"
	"github.com/careflow/hospital-scheduling/internal/notification"
)

type sendCall struct {
	Title     string
	Body      string
	PatientID uuid.UUID
}

type fakeSender struct {
	mu       sync.Mutex
	calls    []sendCall
	failFor  map[uuid.UUID]error
	panicFor map[uuid.UUID]bool
	sent     chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		failFor:  make(map[uuid.UUID]error),
		panicFor: make(map[uuid.UUID]bool),
	}
}

func (s *fakeSender) Send(_ context.Context, title, body string, patientID uuid.UUID) error {
	s.mu.Lock()
	if s.panicFor[patientID] {
		s.mu.Unlock()
		panic("sender blew up")
	}
	if err := s.failFor[patientID]; err != nil {
		s.mu.Unlock()
		return err
	}
	s.calls = append(s.calls, sendCall{Title: title, Body: body, PatientID: patientID})
	sent := s.sent
	s.mu.Unlock()

	if sent != nil {
		sent <- struct{}{}
	}
	return nil
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeSender) attemptCount(patientID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.PatientID == patientID {
			n++
		}
	}
	return n
}

type fakeChecker struct {
	mu       sync.Mutex
	inactive map[uuid.UUID]bool
	err      error
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{inactive: make(map[uuid.UUID]bool)}
}

func (c *fakeChecker) AppointmentActive(_ context.Context, appointmentID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	return !c.inactive[appointmentID], nil
}

type schedFixture struct {
	logs      *memstore.LogStore
	settings  *memstore.SettingStore
	checker   *fakeChecker
	sender    *fakeSender
	scheduler *notification.Scheduler
}

func newSchedFixture() *schedFixture {
	logs := memstore.NewLogStore()
	settings := memstore.NewSettingStore()
	checker := newFakeChecker()
	sender := newFakeSender()
	return &schedFixture{
		logs:      logs,
		settings:  settings,
		checker:   checker,
		sender:    sender,
		scheduler: notification.NewScheduler(logs, settings, checker, sender, notification.SchedulerConfig{}),
	}
}

func (f *schedFixture) enable(t *testing.T, patientID uuid.UUID) {
	t.Helper()
	_, err := f.settings.SetEnabled(context.Background(), patientID, true)
	require.NoError(t, err)
}

func (f *schedFixture) scheduleDue(t *testing.T, patientID uuid.UUID, reminderType notification.ReminderType) *notification.Log {
	t.Helper()
	l, err := f.logs.ScheduleReminder(context.Background(), notification.ScheduleRequest{
		AppointmentID: uuid.New(),
		PatientID:     patientID,
		ReminderType:  reminderType,
		ScheduledFor:  time.Now().Add(-time.Minute),
		Title:         "Appointment Reminder - Tomorrow",
		Body:          "Don't forget your appointment tomorrow at 9:00 AM.",
	})
	require.NoError(t, err)
	return l
}

func TestRunOnceDeliversDueNotifications(t *testing.T) {
	f := newSchedFixture()
	ctx := context.Background()
	patientID := uuid.New()
	f.enable(t, patientID)

	item := f.scheduleDue(t, patientID, notification.Reminder24h)

	// A future row must not be picked up yet.
	_, err := f.logs.ScheduleReminder(ctx, notification.ScheduleRequest{
		AppointmentID: uuid.New(),
		PatientID:     patientID,
		ReminderType:  notification.Reminder1h,
		ScheduledFor:  time.Now().Add(time.Hour),
		Title:         "Appointment Starting Soon",
		Body:          "Your appointment starts in 1 hour at 9:00 AM.",
	})
	require.NoError(t, err)

	processed, err := f.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)
	require.Equal(t, 1, f.sender.callCount())

	got, err := f.logs.GetByID(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StatusSent, got.Status)
	require.NotNil(t, got.SentAt)
}

func TestRetriesStopAtCap(t *testing.T) {
	f := newSchedFixture()
	ctx := context.Background()
	patientID := uuid.New()
	f.enable(t, patientID)

	f.sender.failFor[patientID] = errors.New("gateway unavailable")
	item := f.scheduleDue(t, patientID, notification.Reminder24h)

	// Drive more ticks than the cap allows; attempts past the cap must
	// be filtered out of the due query entirely.
	for i := 0; i < notification.MaxRetries+2; i++ {
		_, err := f.scheduler.RunOnce(ctx)
		require.NoError(t, err)
	}

	got, err := f.logs.GetByID(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StatusFailed, got.Status)
	require.Equal(t, notification.MaxRetries, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	require.Equal(t, "gateway unavailable", *got.ErrorMessage)

	due, err := f.logs.FindDue(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestFailureThenRecoverySends(t *testing.T) {
	f := newSchedFixture()
	ctx := context.Background()
	patientID := uuid.New()
	f.enable(t, patientID)

	f.sender.failFor[patientID] = errors.New("timeout")
	item := f.scheduleDue(t, patientID, notification.Reminder1h)

	_, err := f.scheduler.RunOnce(ctx)
	require.NoError(t, err)

	got, err := f.logs.GetByID(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StatusPending, got.Status)
	require.Equal(t, 1, got.RetryCount)

	delete(f.sender.failFor, patientID)
	_, err = f.scheduler.RunOnce(ctx)
	require.NoError(t, err)

	got, err = f.logs.GetByID(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StatusSent, got.Status)
}

func TestDisabledPreferencesCancelItem(t *testing.T) {
	f := newSchedFixture()
	ctx := context.Background()

	// Patient never opted in; the pending row is stale and must be
	// cancelled, not delivered.
	item := f.scheduleDue(t, uuid.New(), notification.Reminder24h)

	_, err := f.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, f.sender.callCount())

	got, err := f.logs.GetByID(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StatusCancelled, got.Status)
}

func TestToggledOffTypeCancelsItem(t *testing.T) {
	f := newSchedFixture()
	ctx := context.Background()
	patientID := uuid.New()

	enabled := true
	off := false
	_, err := f.settings.Update(ctx, patientID, notification.SettingPatch{
		NotificationsEnabled: &enabled,
		Reminder24h:          &off,
	})
	require.NoError(t, err)

	item := f.scheduleDue(t, patientID, notification.Reminder24h)

	_, err = f.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, f.sender.callCount())

	got, err := f.logs.GetByID(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StatusCancelled, got.Status)
}

func TestInactiveAppointmentCancelsReminder(t *testing.T) {
	f := newSchedFixture()
	ctx := context.Background()
	patientID := uuid.New()
	f.enable(t, patientID)

	item := f.scheduleDue(t, patientID, notification.Reminder24h)
	f.checker.inactive[item.AppointmentID] = true

	_, err := f.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, f.sender.callCount())

	got, err := f.logs.GetByID(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StatusCancelled, got.Status)
}

func TestCancellationNoticeIgnoresAppointmentState(t *testing.T) {
	f := newSchedFixture()
	ctx := context.Background()
	patientID := uuid.New()
	f.enable(t, patientID)

	item := f.scheduleDue(t, patientID, notification.TypeCancelled)
	f.checker.inactive[item.AppointmentID] = true

	_, err := f.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.sender.callCount())

	got, err := f.logs.GetByID(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StatusSent, got.Status)
}

func TestRecheckErrorLeavesItemPending(t *testing.T) {
	f := newSchedFixture()
	ctx := context.Background()
	patientID := uuid.New()
	f.enable(t, patientID)

	item := f.scheduleDue(t, patientID, notification.Reminder24h)
	f.checker.err = errors.New("store unreachable")

	_, err := f.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, f.sender.callCount())

	// No state change and no retry consumed; the next tick re-checks.
	got, err := f.logs.GetByID(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StatusPending, got.Status)
	require.Zero(t, got.RetryCount)

	f.checker.err = nil
	_, err = f.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.sender.attemptCount(patientID))
}

func TestOneBadItemDoesNotAbortBatch(t *testing.T) {
	f := newSchedFixture()
	ctx := context.Background()

	failing := uuid.New()
	panicking := uuid.New()
	healthy := uuid.New()
	for _, id := range []uuid.UUID{failing, panicking, healthy} {
		f.enable(t, id)
	}

	f.sender.failFor[failing] = errors.New("bounced")
	f.sender.panicFor[panicking] = true

	failItem := f.scheduleDue(t, failing, notification.Reminder24h)
	panicItem := f.scheduleDue(t, panicking, notification.Reminder24h)
	okItem := f.scheduleDue(t, healthy, notification.Reminder24h)

	processed, err := f.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, processed)

	got, err := f.logs.GetByID(ctx, okItem.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StatusSent, got.Status)

	got, err = f.logs.GetByID(ctx, failItem.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StatusPending, got.Status)
	require.Equal(t, 1, got.RetryCount)

	// The panic is contained; its row keeps whatever state it had.
	got, err = f.logs.GetByID(ctx, panicItem.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StatusPending, got.Status)
}

func TestBatchLimitBoundsOneTick(t *testing.T) {
	logs := memstore.NewLogStore()
	settings := memstore.NewSettingStore()
	sender := newFakeSender()
	scheduler := notification.NewScheduler(logs, settings, newFakeChecker(), sender, notification.SchedulerConfig{
		BatchLimit: 2,
	})

	ctx := context.Background()
	patientID := uuid.New()
	_, err := settings.SetEnabled(ctx, patientID, true)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := logs.ScheduleReminder(ctx, notification.ScheduleRequest{
			AppointmentID: uuid.New(),
			PatientID:     patientID,
			ReminderType:  notification.Reminder24h,
			ScheduledFor:  time.Now().Add(-time.Minute),
			Title:         "Appointment Reminder - Tomorrow",
			Body:          "Don't forget your appointment tomorrow at 9:00 AM.",
		})
		require.NoError(t, err)
	}

	processed, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, processed)

	processed, err = scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, processed)

	processed, err = scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)
}

func TestScheduleReminderRefreshesActiveRow(t *testing.T) {
	logs := memstore.NewLogStore()
	ctx := context.Background()
	appointmentID := uuid.New()
	patientID := uuid.New()

	first, err := logs.ScheduleReminder(ctx, notification.ScheduleRequest{
		AppointmentID: appointmentID,
		PatientID:     patientID,
		ReminderType:  notification.Reminder24h,
		ScheduledFor:  time.Now().Add(time.Hour),
		Title:         "Appointment Reminder - Tomorrow",
		Body:          "Don't forget your appointment tomorrow at 9:00 AM.",
	})
	require.NoError(t, err)

	// A failed attempt in between must not survive the refresh.
	require.NoError(t, logs.MarkFailed(ctx, first.ID, "gateway unavailable"))

	newTime := time.Now().Add(3 * time.Hour)
	second, err := logs.ScheduleReminder(ctx, notification.ScheduleRequest{
		AppointmentID: appointmentID,
		PatientID:     patientID,
		ReminderType:  notification.Reminder24h,
		ScheduledFor:  newTime,
		Title:         "Appointment Reminder - Tomorrow",
		Body:          "Don't forget your appointment tomorrow at 11:00 AM.",
	})
	require.NoError(t, err)

	// Same row, refreshed in place: no duplicate active reminder for
	// one (appointment, type).
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, notification.StatusPending, second.Status)
	require.Zero(t, second.RetryCount)
	require.Nil(t, second.ErrorMessage)
	require.WithinDuration(t, newTime, second.ScheduledFor, time.Second)
	require.Equal(t, "Don't forget your appointment tomorrow at 11:00 AM.", second.Body)
	require.Len(t, logs.All(), 1)
}

func TestMarkAfterCancelKeepsRowCancelled(t *testing.T) {
	f := newSchedFixture()
	ctx := context.Background()
	patientID := uuid.New()
	f.enable(t, patientID)

	item := f.scheduleDue(t, patientID, notification.Reminder24h)
	require.NoError(t, f.logs.MarkCancelled(ctx, item.ID))

	// A delivery result arriving after the cancellation is a lost race
	// and must not resurrect the row.
	require.NoError(t, f.logs.MarkFailed(ctx, item.ID, "timeout"))
	got, err := f.logs.GetByID(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StatusCancelled, got.Status)
	require.Zero(t, got.RetryCount)

	require.NoError(t, f.logs.MarkSent(ctx, item.ID))
	got, err = f.logs.GetByID(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, notification.StatusCancelled, got.Status)
	require.Nil(t, got.SentAt)
}

func TestStopWithoutStartReturns(t *testing.T) {
	f := newSchedFixture()

	done := make(chan struct{})
	go func() {
		f.scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a scheduler that was never started")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	f := newSchedFixture()
	patientID := uuid.New()
	f.enable(t, patientID)

	f.sender.sent = make(chan struct{}, 1)
	f.scheduleDue(t, patientID, notification.Reminder24h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.scheduler.Start(ctx)

	select {
	case <-f.sender.sent:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not process the due item on startup")
	}

	// Stop must wait for the loop and be safe to call twice.
	f.scheduler.Stop()
	f.scheduler.Stop()
}
