package notification

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// AppointmentChecker reports whether an appointment may still receive
// notifications. Implemented by the booking service so this package
// stays independent of the booking stores.
type AppointmentChecker interface {
	AppointmentActive(ctx context.Context, appointmentID uuid.UUID) (bool, error)
}

type SchedulerConfig struct {
	Interval        time.Duration // poll cadence
	BatchLimit      int           // max due rows per tick
	DeliveryTimeout time.Duration // per-item send budget
}

// Scheduler is the background reminder dispatch loop. One tick polls
// the due queue and processes each item independently: a single bad
// item never aborts the batch or the process.
type Scheduler struct {
	logs         LogStore
	settings     SettingStore
	appointments AppointmentChecker
	sender       Sender
	cfg          SchedulerConfig

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewScheduler(logs LogStore, settings SettingStore, appointments AppointmentChecker, sender Sender, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}

	return &Scheduler{
		logs:         logs,
		settings:     settings,
		appointments: appointments,
		sender:       sender,
		cfg:          cfg,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start runs the ticking loop in a goroutine until Stop is called or
// ctx is cancelled. One run happens immediately on startup. Calling
// Start again is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer close(s.done)

		s.runTick(ctx)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.runTick(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight tick to finish. Safe
// to call more than once, and a no-op when Start was never called.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if !s.started.Load() {
		return
	}
	<-s.done
}

func (s *Scheduler) runTick(ctx context.Context) {
	start := time.Now()
	processed, err := s.RunOnce(ctx)
	if err != nil {
		log.Printf("reminder tick error: %v", err)
		return
	}
	if processed > 0 {
		log.Printf("reminder tick processed=%d duration=%s", processed, time.Since(start))
	}
}

// RunOnce performs a single poll-and-dispatch pass and returns how many
// items were processed. Exported so tests and the worker can drive the
// scheduler deterministically.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	due, err := s.logs.FindDue(ctx, s.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("find due notifications: %w", err)
	}

	for i := range due {
		s.processItem(ctx, &due[i])
	}

	return len(due), nil
}

func (s *Scheduler) processItem(ctx context.Context, item *Log) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic processing notification %s: %v", item.ID, r)
		}
	}()

	deliver, err := s.shouldDeliver(ctx, item)
	if err != nil {
		// Leave the row pending; the next tick re-checks.
		log.Printf("recheck notification %s: %v", item.ID, err)
		return
	}

	if !deliver {
		// Preferences changed or the appointment is gone; a stale
		// notification must not go out.
		if err := s.logs.MarkCancelled(ctx, item.ID); err != nil {
			log.Printf("cancel stale notification %s: %v", item.ID, err)
		}
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	err = s.sender.Send(sendCtx, item.Title, item.Body, item.PatientID)
	cancel()

	if err != nil {
		log.Printf("deliver notification %s type=%s attempt=%d: %v", item.ID, item.ReminderType, item.RetryCount+1, err)
		if mfErr := s.logs.MarkFailed(ctx, item.ID, err.Error()); mfErr != nil {
			log.Printf("mark failed %s: %v", item.ID, mfErr)
		}
		return
	}

	if err := s.logs.MarkSent(ctx, item.ID); err != nil {
		log.Printf("mark sent %s: %v", item.ID, err)
	}
}

// shouldDeliver re-checks preferences and the parent appointment at
// send time; both may have changed since the row was scheduled.
func (s *Scheduler) shouldDeliver(ctx context.Context, item *Log) (bool, error) {
	setting, err := s.settings.GetOrCreate(ctx, item.PatientID)
	if err != nil {
		return false, fmt.Errorf("load settings: %w", err)
	}
	if !setting.NotificationsEnabled || !setting.AllowsType(item.ReminderType) {
		return false, nil
	}

	// Cancellation notices are for appointments that are, by definition,
	// no longer active.
	if item.ReminderType == TypeCancelled {
		return true, nil
	}

	active, err := s.appointments.AppointmentActive(ctx, item.AppointmentID)
	if err != nil {
		return false, fmt.Errorf("check appointment: %w", err)
	}
	return active, nil
}
