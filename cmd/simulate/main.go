package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careflow/hospital-scheduling/internal/config"
	"github.com/careflow/hospital-scheduling/internal/db"
)

// simulate hammers the booking endpoint to demonstrate the slot
// contention guarantee: for every slot attacked by N concurrent
// bookings, exactly one must succeed and N-1 must get a conflict.

type SimConfig struct {
	APIBaseURL   string
	WorkersPer   int
	SlotLimit    int
	PatientLimit int
	PostgresDSN  string
}

type SlotResult struct {
	SlotID    int64
	Successes int64
	Conflicts int64
	Errors    int64
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadSimConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	patients, slots, err := loadTargets(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load targets: %v", err)
	}
	if len(patients) == 0 || len(slots) == 0 {
		log.Fatal("no patients or open slots available, run cmd/seed first")
	}

	log.Printf("loaded %d patients, attacking %d slots with %d workers each", len(patients), len(slots), cfg.WorkersPer)

	client := &http.Client{Timeout: 10 * time.Second}
	results := make([]SlotResult, len(slots))

	var wg sync.WaitGroup
	for i, slotID := range slots {
		results[i].SlotID = slotID
		for w := 0; w < cfg.WorkersPer; w++ {
			wg.Add(1)
			patientID := patients[(i*cfg.WorkersPer+w)%len(patients)]
			go func(res *SlotResult, slotID int64, patientID uuid.UUID) {
				defer wg.Done()
				bookOnce(client, cfg.APIBaseURL, res, slotID, patientID)
			}(&results[i], slotID, patientID)
		}
	}
	wg.Wait()

	printReport(results)
}

func bookOnce(client *http.Client, baseURL string, res *SlotResult, slotID int64, patientID uuid.UUID) {
	payload, _ := json.Marshal(map[string]any{
		"patient_id": patientID.String(),
		"slot_id":    slotID,
		"reason":     "load test booking",
		"type":       "checkup",
	})

	resp, err := client.Post(baseURL+"/appointments", "application/json", bytes.NewReader(payload))
	if err != nil {
		atomic.AddInt64(&res.Errors, 1)
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusCreated:
		atomic.AddInt64(&res.Successes, 1)
	case http.StatusConflict:
		atomic.AddInt64(&res.Conflicts, 1)
	default:
		atomic.AddInt64(&res.Errors, 1)
	}
}

func printReport(results []SlotResult) {
	violations := 0
	var successes, conflicts, errors int64

	for _, r := range results {
		successes += r.Successes
		conflicts += r.Conflicts
		errors += r.Errors
		if r.Successes > 1 {
			violations++
			log.Printf("VIOLATION: slot %d booked %d times", r.SlotID, r.Successes)
		}
	}

	fmt.Println("==== contention report ====")
	fmt.Printf("slots attacked:  %d\n", len(results))
	fmt.Printf("successes:       %d\n", successes)
	fmt.Printf("conflicts:       %d\n", conflicts)
	fmt.Printf("errors:          %d\n", errors)
	fmt.Printf("double bookings: %d\n", violations)

	if violations > 0 {
		os.Exit(1)
	}
}

func loadSimConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	return SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		WorkersPer:   getInt("SIM_WORKERS_PER_SLOT", 20),
		SlotLimit:    getInt("SIM_SLOT_LIMIT", 50),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 1000),
		PostgresDSN:  baseCfg.PostgresDSN,
	}
}

func loadTargets(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) ([]uuid.UUID, []int64, error) {
	rows, err := pool.Query(ctx, `
		SELECT id FROM patients LIMIT $1
	`, cfg.PatientLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	var patients []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, nil, err
		}
		patients = append(patients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	slotRows, err := pool.Query(ctx, `
		SELECT id FROM availability_slots
		WHERE is_booked = false AND start_time > now()
		ORDER BY start_time ASC
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("load slots: %w", err)
	}
	defer slotRows.Close()

	var slots []int64
	for slotRows.Next() {
		var id int64
		if err := slotRows.Scan(&id); err != nil {
			return nil, nil, err
		}
		slots = append(slots, id)
	}
	if err := slotRows.Err(); err != nil {
		return nil, nil, err
	}

	return patients, slots, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
