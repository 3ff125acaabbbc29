package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Hammers POST /payments with small issue-less debits against one account.
// Every request targets the same balance row, so this measures how the
// FOR UPDATE serialization behaves under contention.
var (
	targetURL   string
	email       string
	password    string
	concurrency int
	duration    time.Duration
	amount      float64
)

var (
	totalRequests uint64
	success200    uint64 // Charged (or idempotent replay)
	fail409       uint64 // Conflicts / in-progress keys
	fail422       uint64 // Insufficient capital
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&email, "email", "demo@garage.local", "Account email")
	flag.StringVar(&password, "password", "garage123", "Account password")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.Float64Var(&amount, "amount", 0.01, "Debit amount per request")
}

func main() {
	flag.Parse()

	accountID, token, err := login()
	if err != nil {
		log.Fatalf("Login failed: %v", err)
	}
	log.Printf("Starting Benchmark: account %d | Workers: %d | Duration: %s", accountID, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, accountID, token)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func login() (int64, string, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(targetURL+"/login", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var out struct {
		User  struct{ ID int64 } `json:"user"`
		Token string             `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, "", err
	}
	return out.User.ID, out.Token, nil
}

func worker(wg *sync.WaitGroup, start time.Time, accountID int64, token string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		payload := map[string]interface{}{
			"user_id": accountID,
			"amount":  amount,
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/payments", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", uuid.NewString())

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			atomic.AddUint64(&success200, 1)
		case 409:
			atomic.AddUint64(&fail409, 1)
		case 422:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var conflictRate float64
	if total > 0 {
		conflictRate = float64(f409) / float64(total) * 100
	}

	results := map[string]interface{}{
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"charged":           s200,
		"conflicts":         f409,
		"insufficient":      f422,
		"conflict_rate_pct": conflictRate,
		"errors":            fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	file, err := os.Create("results_payments.json")
	if err != nil {
		log.Fatal(err)
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
