package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careflow/hospital-scheduling/internal/booking"
	"github.com/careflow/hospital-scheduling/internal/notification"
)

func bookAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		appt, err := svc.Book(r.Context(), booking.BookRequest{
			PatientID: patientID,
			SlotID:    req.SlotID,
			Reason:    req.Reason,
			Type:      booking.AppointmentType(req.Type),
		})
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		if err := svc.Cancel(r.Context(), id); err != nil {
			handleBookingError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func rescheduleAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RescheduleAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, req.NewSlotID)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listSlotsHandler(slots booking.SlotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var doctorID *uuid.UUID
		if v := r.URL.Query().Get("doctor_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			doctorID = &id
		}

		window, err := parseWindow(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
			return
		}

		available, err := slots.FindAvailable(r.Context(), doctorID, window)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]SlotResponse, 0, len(available))
		for _, s := range available {
			resp = append(resp, SlotResponse{
				ID:        s.ID,
				DoctorID:  s.DoctorID,
				StartTime: s.StartTime,
				EndTime:   s.EndTime,
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func listAppointmentsHandler(appointments booking.AppointmentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		offset := 0
		if v := r.URL.Query().Get("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		appts, err := appointments.ListByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func getSettingsHandler(settings notification.SettingStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		s, err := settings.GetOrCreate(r.Context(), patientID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toSettingsResponse(s))
	}
}

func updateSettingsHandler(settings notification.SettingStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		var req UpdateSettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		s, err := settings.Update(r.Context(), patientID, notification.SettingPatch{
			NotificationsEnabled:   req.NotificationsEnabled,
			Reminder24h:            req.Reminder24h,
			Reminder1h:             req.Reminder1h,
			AppointmentConfirmed:   req.AppointmentConfirmed,
			AppointmentCancelled:   req.AppointmentCancelled,
			AppointmentRescheduled: req.AppointmentRescheduled,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toSettingsResponse(s))
	}
}

func toggleNotificationsHandler(settings notification.SettingStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		var req ToggleNotificationsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		s, err := settings.SetEnabled(r.Context(), patientID, req.Enabled)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toSettingsResponse(s))
	}
}

func listNotificationsHandler(logs notification.LogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		recent, err := logs.ListRecent(r.Context(), patientID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]NotificationResponse, 0, len(recent))
		for _, l := range recent {
			resp = append(resp, NotificationResponse{
				ID:            l.ID,
				AppointmentID: l.AppointmentID,
				ReminderType:  string(l.ReminderType),
				Status:        string(l.Status),
				ScheduledFor:  l.ScheduledFor,
				SentAt:        l.SentAt,
				Title:         l.Title,
				Body:          l.Body,
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotAlreadyBooked):
		writeError(w, http.StatusConflict, "slot_already_booked", "slot is no longer available, please pick another time")
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotActive):
		writeError(w, http.StatusConflict, "appointment_not_active", err.Error())
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrReasonRequired),
		errors.Is(err, booking.ErrUnknownAppointmentType),
		errors.Is(err, booking.ErrSlotInPast):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		SlotID:          a.SlotID,
		ScheduledAt:     a.ScheduledAt,
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Type:            string(a.Type),
		Reason:          a.Reason,
	}
}

func toSettingsResponse(s *notification.Setting) SettingsResponse {
	return SettingsResponse{
		PatientID:              s.PatientID,
		NotificationsEnabled:   s.NotificationsEnabled,
		Reminder24h:            s.Reminder24h,
		Reminder1h:             s.Reminder1h,
		AppointmentConfirmed:   s.AppointmentConfirmed,
		AppointmentCancelled:   s.AppointmentCancelled,
		AppointmentRescheduled: s.AppointmentRescheduled,
	}
}

func parseWindow(from, to string) (*booking.TimeWindow, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	if from == "" || to == "" {
		return nil, errors.New("from and to must be provided together")
	}

	f, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return nil, errors.New("from must be RFC3339")
	}
	t, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return nil, errors.New("to must be RFC3339")
	}
	if !t.After(f) {
		return nil, errors.New("to must be after from")
	}

	return &booking.TimeWindow{From: f, To: t}, nil
}
