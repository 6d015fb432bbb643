package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/careflow/hospital-scheduling/internal/booking"
	"github.com/careflow/hospital-scheduling/internal/notification"
)

type RouterConfig struct {
	Booking      *booking.Service
	Slots        booking.SlotStore
	Appointments booking.AppointmentStore
	Settings     notification.SettingStore
	Logs         notification.LogStore
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/slots", listSlotsHandler(cfg.Slots))

	r.Post("/appointments", bookAppointmentHandler(cfg.Booking))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Booking))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Booking))

	r.Get("/patients/{id}/appointments", listAppointmentsHandler(cfg.Appointments))
	r.Get("/patients/{id}/notification-settings", getSettingsHandler(cfg.Settings))
	r.Put("/patients/{id}/notification-settings", updateSettingsHandler(cfg.Settings))
	r.Post("/patients/{id}/notification-settings/toggle", toggleNotificationsHandler(cfg.Settings))
	r.Get("/patients/{id}/notifications", listNotificationsHandler(cfg.Logs))

	return r
}
