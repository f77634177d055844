package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/paysettle/internal/logging"
	"go.uber.org/zap"
)

// Config holds the benchmark settings
var (
	targetURL     string
	concurrency   int
	duration      time.Duration
	workload      string
	totalAccounts int
	amount        int64
	replayRate    float64
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Idempotent replays
	success201    uint64 // Settled
	fail409       uint64 // Conflicts
	fail422       uint64 // Insufficient balance and other business rejections
	fail429       uint64 // Rate limited
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&totalAccounts, "accounts", 1000, "Number of seeded accounts")
	flag.Int64Var(&amount, "amount", 100, "Transfer amount in minor units")
	flag.Float64Var(&replayRate, "replay", 0.05, "Fraction of requests that resend the previous Idempotency-Key")
}

// Seeded accounts follow the cmd/seeder naming scheme.
func accountID(n int) string { return fmt.Sprintf("seed-%04d", n) }
func email(n int) string     { return fmt.Sprintf("user%04d@example.com", n) }

func main() {
	flag.Parse()
	logger, err := logging.New("development", "info")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Info("starting benchmark",
		zap.String("workload", workload),
		zap.Int("workers", concurrency),
		zap.Duration("duration", duration))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(logger, time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	var lastKey string
	var lastFrom, lastTo int
	for time.Since(start) < duration {
		from, to := generateAccounts()
		key := uuid.NewString()

		// Occasionally retry the previous call verbatim to exercise replay.
		if lastKey != "" && rand.Float64() < replayRate {
			from, to, key = lastFrom, lastTo, lastKey
		}
		lastFrom, lastTo, lastKey = from, to, key

		payload := map[string]interface{}{
			"recipient_email": email(to),
			"amount":          amount,
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/transfers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)
		req.Header.Set("X-Account-Id", accountID(from))
		req.Header.Set("X-Account-Email", email(from))

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&success201, 1)
		case 200:
			atomic.AddUint64(&success200, 1)
		case 409:
			atomic.AddUint64(&fail409, 1)
		case 422:
			atomic.AddUint64(&fail422, 1)
		case 429:
			atomic.AddUint64(&fail429, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func generateAccounts() (int, int) {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes between accounts 1 and 2
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return 1, 2
			}
			return 2, 1
		}
	}

	// Uniform Random
	a := rand.Intn(totalAccounts) + 1
	b := rand.Intn(totalAccounts) + 1
	for a == b {
		b = rand.Intn(totalAccounts) + 1
	}
	return a, b
}

func printResults(logger *zap.Logger, d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	f429 := atomic.LoadUint64(&fail429)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var rejectRate float64
	if total > 0 {
		rejectRate = float64(f409+f422) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"success_settled":   s201,
		"success_replay":    s200,
		"rejected_conflict": f409,
		"rejected_business": f422,
		"rate_limited":      f429,
		"reject_rate_pct":   rejectRate,
		"errors":            fErr,
	}

	// Print JSON on stdout for plotting
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		logger.Warn("print results", zap.Error(err))
	}

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		logger.Warn("save results", zap.Error(err))
		return
	}
	defer file.Close()
	if err := json.NewEncoder(file).Encode(results); err != nil {
		logger.Warn("save results", zap.Error(err))
	}
	logger.Info("results saved", zap.String("file", filename))
}
