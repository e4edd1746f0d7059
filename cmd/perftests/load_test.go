package perftests

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"auction-engine/internal/biddingerrors"

	"github.com/shopspring/decimal"
)

// LoadScenario defines configurable benchmark parameters
type LoadScenario struct {
	Name        string
	NumAuctions int
	ReadRatio   int
	MaxCeiling  int
	Burst       bool // if true, no delay between ops
}

// OperationMetrics collects latencies safely
type OperationMetrics struct {
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(d time.Duration) {
	om.mu.Lock()
	om.latencies = append(om.latencies, d)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (min, max, avg, p95, p99 time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.latencies)
	om.mu.Unlock()
	if len(latencies) == 0 {
		return
	}
	slices.Sort(latencies)

	min = latencies[0]
	max = latencies[len(latencies)-1]

	var total time.Duration
	for _, d := range latencies {
		total += d
	}
	avg = total / time.Duration(len(latencies))
	p95 = latencies[int(0.95*float64(len(latencies)-1))]
	p99 = latencies[int(0.99*float64(len(latencies)-1))]
	return
}

// Benchmark_Load_BiddingSystem runs multiple scenarios
func Benchmark_Load_BiddingSystem(b *testing.B) {
	scenarios := []LoadScenario{
		{"Low-Contention-WriteHeavy", 200, 0, 500, false},
		{"High-Contention-WriteHeavy", 10, 0, 300, false},
		{"Mixed-Workload", 50, 7, 300, false},
		{"ReadHeavy", 50, 9, 300, false},
		{"Edge-Case-SingleAuction", 1, 5, 200, false},
		{"Peak-Burst", 50, 0, 300, true},
	}

	for _, s := range scenarios {
		b.Run(s.Name, func(b *testing.B) {
			runParallelScenario(b, s)
		})
	}
}

func runParallelScenario(b *testing.B, s LoadScenario) {
	b.ReportAllocs()

	svc, ids := setupService(b, s.NumAuctions)
	ctx := context.Background()

	var totalOps, accepted, rejected, timeouts, totalReads int64
	metrics := &OperationMetrics{}

	start := time.Now()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			auctionID := ids[rand.IntN(len(ids))]
			opStart := time.Now()

			if rand.IntN(10) < s.ReadRatio {
				if _, err := svc.GetAuction(ctx, auctionID); err != nil {
					b.Logf("ignored read error: %v", err)
				}
				atomic.AddInt64(&totalReads, 1)
			} else {
				ceiling := decimal.NewFromInt(int64(101 + rand.IntN(s.MaxCeiling)))
				userID := fmt.Sprintf("user_%d", rand.Int())
				_, err := svc.SubmitBid(ctx, auctionID, userID, ceiling)
				switch {
				case err == nil:
					atomic.AddInt64(&accepted, 1)
				case errors.Is(err, biddingerrors.ErrTimeout):
					atomic.AddInt64(&timeouts, 1)
				default:
					// too-low bids are the expected rejection under load
					atomic.AddInt64(&rejected, 1)
				}
			}

			metrics.Record(time.Since(opStart))
			atomic.AddInt64(&totalOps, 1)

			if !s.Burst {
				time.Sleep(time.Millisecond)
			}
		}
	})

	elapsed := time.Since(start)
	throughput := float64(totalOps) / elapsed.Seconds()
	min, max, avg, p95, p99 := metrics.Stats()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	b.Logf(
		"Scenario: %s | Auctions: %d | Total Ops: %d | Accepted: %d | Rejected: %d | Timeouts: %d | Reads: %d | Elapsed: %s | Throughput: %.2f ops/sec | Latency(us) min: %.2f avg: %.2f max: %.2f p95: %.2f p99: %.2f | Memory Alloc: %.2f MB",
		s.Name, s.NumAuctions, totalOps, accepted, rejected, timeouts, totalReads, elapsed,
		throughput,
		float64(min.Microseconds()), float64(avg.Microseconds()), float64(max.Microseconds()),
		float64(p95.Microseconds()), float64(p99.Microseconds()),
		float64(mem.Alloc)/1024/1024,
	)

	if timeouts > 0 {
		b.Errorf("scenario %s: %d bids timed out waiting for the auction lock", s.Name, timeouts)
	}
}
