package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/careflow/hospital-scheduling/internal/booking"
	"github.com/careflow/hospital-scheduling/internal/config"
	"github.com/careflow/hospital-scheduling/internal/db"
	"github.com/careflow/hospital-scheduling/internal/notification"
	redisclient "github.com/careflow/hospital-scheduling/internal/redis"
)

const leaseKey = "lease:reminder-scheduler"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("reminder-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running reminder worker in env=%s interval=%s batch=%d", cfg.Env, cfg.SchedulerInterval, cfg.SchedulerBatch)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	slots := booking.NewPgSlotStore(pgPool)
	appointments := booking.NewPgAppointmentStore(pgPool)
	logs := notification.NewPgLogStore(pgPool)
	settings := notification.NewPgSettingStore(pgPool)

	svc := booking.NewService(slots, appointments, logs, settings)

	scheduler := notification.NewScheduler(logs, settings, svc, notification.LogSender{}, notification.SchedulerConfig{
		Interval:        cfg.SchedulerInterval,
		BatchLimit:      cfg.SchedulerBatch,
		DeliveryTimeout: cfg.DeliveryTimeout,
	})

	lease := redisclient.NewLeaderLease(rdb, leaseKey, cfg.LeaderLeaseTTL)
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			log.Printf("release leader lease: %v", err)
		}
	}()

	// The worker drives RunOnce itself instead of using Start so each
	// tick happens only while holding the lease.
	runOnce(rootCtx, lease, scheduler, logs)

	ticker := time.NewTicker(cfg.SchedulerInterval)
	defer ticker.Stop()

	// Past slots that never got an appointment are retention-swept once
	// a day by whichever instance leads at the time.
	purgeTicker := time.NewTicker(24 * time.Hour)
	defer purgeTicker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, lease, scheduler, logs)
		case <-purgeTicker.C:
			runPurge(rootCtx, lease, slots)
		}
	}
}

func runOnce(ctx context.Context, lease *redisclient.LeaderLease, scheduler *notification.Scheduler, logs notification.LogStore) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	if err := lease.Acquire(runCtx); err != nil {
		if errors.Is(err, redisclient.ErrNotLeader) {
			log.Println("not the active scheduler instance, skipping tick")
			return
		}
		log.Printf("leader lease error: %v", err)
		return
	}

	start := time.Now()
	processed, err := scheduler.RunOnce(runCtx)
	if err != nil {
		log.Printf("reminder run error: %v", err)
		return
	}

	stats, err := logs.Stats(runCtx, nil)
	if err != nil {
		log.Printf("notification stats error: %v", err)
		log.Printf("reminder run complete processed=%d duration=%s", processed, time.Since(start))
		return
	}
	log.Printf("reminder run complete processed=%d pending=%d sent=%d failed=%d cancelled=%d duration=%s",
		processed, stats.Pending, stats.Sent, stats.Failed, stats.Cancelled, time.Since(start))
}

func runPurge(ctx context.Context, lease *redisclient.LeaderLease, slots booking.SlotStore) {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if err := lease.Acquire(runCtx); err != nil {
		if !errors.Is(err, redisclient.ErrNotLeader) {
			log.Printf("leader lease error: %v", err)
		}
		return
	}

	cutoff := time.Now().AddDate(0, 0, -1)
	purged, err := slots.PurgeBefore(runCtx, cutoff)
	if err != nil {
		log.Printf("slot purge error: %v", err)
		return
	}
	log.Printf("slot purge complete removed=%d cutoff=%s", purged, cutoff.Format(time.RFC3339))
}
