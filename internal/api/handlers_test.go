package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/careflow/hospital-scheduling/internal/api"
	"github.com/careflow/hospital-scheduling/internal/booking"
	"github.com/careflow/hospital-scheduling/internal/memstore"
	"github.com/careflow/hospital-scheduling/internal/notification"
)

type apiFixture struct {
	slots    *memstore.SlotStore
	logs     *memstore.LogStore
	settings *memstore.SettingStore
	handler  http.Handler
}

func newAPIFixture() *apiFixture {
	slots := memstore.NewSlotStore()
	appointments := memstore.NewAppointmentStore()
	slots.SetReferenceCheck(appointments.ReferencesSlot)
	logs := memstore.NewLogStore()
	settings := memstore.NewSettingStore()
	svc := booking.NewService(slots, appointments, logs, settings)

	return &apiFixture{
		slots:    slots,
		logs:     logs,
		settings: settings,
		handler: api.NewRouter(api.RouterConfig{
			Booking:      svc,
			Slots:        slots,
			Appointments: appointments,
			Settings:     settings,
			Logs:         logs,
			Env:          "test",
			Version:      "test",
		}),
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[api.ErrorResponse](t, rec).Error
}

func TestBookAppointmentEndpoint(t *testing.T) {
	f := newAPIFixture()
	patientID := uuid.New()
	start := time.Now().Add(48 * time.Hour)
	slotID := f.slots.Add(uuid.New(), start, start.Add(30*time.Minute))

	rec := f.do(t, http.MethodPost, "/appointments", api.BookAppointmentRequest{
		PatientID: patientID.String(),
		SlotID:    slotID,
		Reason:    "annual physical",
		Type:      "checkup",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[api.AppointmentResponse](t, rec)
	require.Equal(t, patientID, resp.PatientID)
	require.NotNil(t, resp.SlotID)
	require.Equal(t, slotID, *resp.SlotID)
	require.Equal(t, "scheduled", resp.Status)
	require.Equal(t, "checkup", resp.Type)

	// The same slot must now be refused.
	rec = f.do(t, http.MethodPost, "/appointments", api.BookAppointmentRequest{
		PatientID: uuid.NewString(),
		SlotID:    slotID,
		Reason:    "annual physical",
		Type:      "checkup",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "slot_already_booked", errorCode(t, rec))
}

func TestBookAppointmentValidation(t *testing.T) {
	f := newAPIFixture()
	start := time.Now().Add(48 * time.Hour)
	slotID := f.slots.Add(uuid.New(), start, start.Add(30*time.Minute))

	rec := f.do(t, http.MethodPost, "/appointments", api.BookAppointmentRequest{
		PatientID: "not-a-uuid",
		SlotID:    slotID,
		Reason:    "checkup",
		Type:      "checkup",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_patient_id", errorCode(t, rec))

	rec = f.do(t, http.MethodPost, "/appointments", api.BookAppointmentRequest{
		PatientID: uuid.NewString(),
		SlotID:    slotID,
		Type:      "checkup",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_failed", errorCode(t, rec))

	rec = f.do(t, http.MethodPost, "/appointments", api.BookAppointmentRequest{
		PatientID: uuid.NewString(),
		SlotID:    99999,
		Reason:    "checkup",
		Type:      "checkup",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "slot_not_found", errorCode(t, rec))
}

func TestCancelAppointmentEndpoint(t *testing.T) {
	f := newAPIFixture()
	start := time.Now().Add(48 * time.Hour)
	slotID := f.slots.Add(uuid.New(), start, start.Add(30*time.Minute))

	rec := f.do(t, http.MethodPost, "/appointments", api.BookAppointmentRequest{
		PatientID: uuid.NewString(),
		SlotID:    slotID,
		Reason:    "checkup",
		Type:      "checkup",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	apptID := decode[api.AppointmentResponse](t, rec).ID

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/cancel", apptID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/cancel", apptID), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "appointment_not_active", errorCode(t, rec))

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/cancel", uuid.New()), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// The freed slot shows up as available again.
	rec = f.do(t, http.MethodGet, "/slots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[[]api.SlotResponse](t, rec)
	require.Len(t, slots, 1)
	require.Equal(t, slotID, slots[0].ID)
}

func TestRescheduleAppointmentEndpoint(t *testing.T) {
	f := newAPIFixture()
	startA := time.Now().Add(48 * time.Hour)
	startB := time.Now().Add(72 * time.Hour)
	slotA := f.slots.Add(uuid.New(), startA, startA.Add(30*time.Minute))
	slotB := f.slots.Add(uuid.New(), startB, startB.Add(30*time.Minute))

	rec := f.do(t, http.MethodPost, "/appointments", api.BookAppointmentRequest{
		PatientID: uuid.NewString(),
		SlotID:    slotA,
		Reason:    "checkup",
		Type:      "checkup",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	apptID := decode[api.AppointmentResponse](t, rec).ID

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/appointments/%s/reschedule", apptID),
		api.RescheduleAppointmentRequest{NewSlotID: slotB})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[api.AppointmentResponse](t, rec)
	require.NotNil(t, resp.SlotID)
	require.Equal(t, slotB, *resp.SlotID)
	require.WithinDuration(t, startB, resp.ScheduledAt, time.Second)
}

func TestListAppointmentsEndpoint(t *testing.T) {
	f := newAPIFixture()
	patientID := uuid.New()

	for i := 0; i < 3; i++ {
		start := time.Now().Add(time.Duration(24*(i+1)) * time.Hour)
		slotID := f.slots.Add(uuid.New(), start, start.Add(30*time.Minute))
		rec := f.do(t, http.MethodPost, "/appointments", api.BookAppointmentRequest{
			PatientID: patientID.String(),
			SlotID:    slotID,
			Reason:    "checkup",
			Type:      "checkup",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/patients/%s/appointments", patientID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	appts := decode[[]api.AppointmentResponse](t, rec)
	require.Len(t, appts, 3)
	// Newest scheduled time first.
	require.True(t, appts[0].ScheduledAt.After(appts[2].ScheduledAt))

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/patients/%s/appointments?limit=1&offset=1", patientID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]api.AppointmentResponse](t, rec), 1)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/patients/%s/appointments", uuid.New()), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decode[[]api.AppointmentResponse](t, rec))
}

func TestListSlotsEndpoint(t *testing.T) {
	f := newAPIFixture()
	doctorA := uuid.New()
	doctorB := uuid.New()
	startA := time.Now().Add(24 * time.Hour)
	startB := time.Now().Add(48 * time.Hour)
	f.slots.Add(doctorA, startA, startA.Add(30*time.Minute))
	f.slots.Add(doctorB, startB, startB.Add(30*time.Minute))

	rec := f.do(t, http.MethodGet, "/slots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]api.SlotResponse](t, rec), 2)

	rec = f.do(t, http.MethodGet, "/slots?doctor_id="+doctorA.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[[]api.SlotResponse](t, rec)
	require.Len(t, slots, 1)
	require.Equal(t, doctorA, slots[0].DoctorID)

	from := time.Now().UTC().Add(36 * time.Hour).Format(time.RFC3339)
	to := time.Now().UTC().Add(60 * time.Hour).Format(time.RFC3339)
	rec = f.do(t, http.MethodGet, "/slots?from="+from+"&to="+to, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots = decode[[]api.SlotResponse](t, rec)
	require.Len(t, slots, 1)
	require.Equal(t, doctorB, slots[0].DoctorID)

	rec = f.do(t, http.MethodGet, "/slots?from="+from, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_window", errorCode(t, rec))
}

func TestNotificationSettingsEndpoints(t *testing.T) {
	f := newAPIFixture()
	patientID := uuid.New()
	base := fmt.Sprintf("/patients/%s/notification-settings", patientID)

	// First read creates the default, opted-out row.
	rec := f.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	settings := decode[api.SettingsResponse](t, rec)
	require.False(t, settings.NotificationsEnabled)
	require.True(t, settings.Reminder24h)
	require.True(t, settings.Reminder1h)

	enabled := true
	off := false
	rec = f.do(t, http.MethodPut, base, api.UpdateSettingsRequest{
		NotificationsEnabled: &enabled,
		Reminder1h:           &off,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	settings = decode[api.SettingsResponse](t, rec)
	require.True(t, settings.NotificationsEnabled)
	require.True(t, settings.Reminder24h)
	require.False(t, settings.Reminder1h)

	rec = f.do(t, http.MethodPost, base+"/toggle", api.ToggleNotificationsRequest{Enabled: false})
	require.Equal(t, http.StatusOK, rec.Code)
	settings = decode[api.SettingsResponse](t, rec)
	require.False(t, settings.NotificationsEnabled)
	// Toggling off leaves the per-event choices intact.
	require.False(t, settings.Reminder1h)
}

func TestListNotificationsEndpoint(t *testing.T) {
	f := newAPIFixture()
	patientID := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := f.logs.ScheduleReminder(context.Background(), notification.ScheduleRequest{
			AppointmentID: uuid.New(),
			PatientID:     patientID,
			ReminderType:  notification.Reminder24h,
			ScheduledFor:  time.Now().Add(time.Hour),
			Title:         "Appointment Reminder - Tomorrow",
			Body:          "Don't forget your appointment tomorrow at 9:00 AM.",
		})
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/patients/%s/notifications", patientID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]api.NotificationResponse](t, rec), 3)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/patients/%s/notifications?limit=2", patientID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]api.NotificationResponse](t, rec), 2)

	rec = f.do(t, http.MethodGet, "/patients/not-a-uuid/notifications", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
