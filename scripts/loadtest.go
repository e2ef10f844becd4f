// loadtest fires concurrent inference requests at a running runtime and
// reports throughput and latency percentiles.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type inferRequest struct {
	ID       string `json:"id,omitempty"`
	Priority int32  `json:"priority"`
	Payload  []byte `json:"payload"`
}

type inferResponse struct {
	ID          string `json:"id"`
	Output      []byte `json:"output"`
	Engine      string `json:"engine"`
	BatchSize   int32  `json:"batch_size"`
	LatencyNs   int64  `json:"latency_ns"`
	QueueWaitMs int32  `json:"queue_wait_ms"`
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "Runtime base URL")
	concurrency := flag.Int("concurrency", 50, "Number of concurrent clients")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	payloadSize := flag.Int("payload", 1024, "Request payload size in bytes")
	flag.Parse()

	log.Printf("Load test starting: addr=%s, concurrency=%d, duration=%v", *addr, *concurrency, *duration)

	url := *addr + "/v1/infer"
	httpClient := &http.Client{Timeout: 30 * time.Second}

	var (
		totalRequests atomic.Int64
		totalErrors   atomic.Int64
		mu            sync.Mutex
		latencies     []time.Duration
		batchDist     = make(map[int32]int)
	)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			payload := make([]byte, *payloadSize)
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				// 60% low, 30% medium, 10% high priority
				var pri int32
				switch r := rand.Intn(100); {
				case r < 60:
					pri = 0
				case r < 90:
					pri = 1
				default:
					pri = 2
				}

				body, _ := json.Marshal(inferRequest{
					ID:       fmt.Sprintf("req-%d-%d", clientID, totalRequests.Load()),
					Priority: pri,
					Payload:  payload,
				})

				reqStart := time.Now()
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
				if err != nil {
					return
				}
				req.Header.Set("Content-Type", "application/json")

				httpResp, err := httpClient.Do(req)
				if err != nil {
					totalErrors.Add(1)
					continue
				}
				respBody, _ := io.ReadAll(httpResp.Body)
				httpResp.Body.Close()
				if httpResp.StatusCode != http.StatusOK {
					totalErrors.Add(1)
					continue
				}

				var resp inferResponse
				if err := json.Unmarshal(respBody, &resp); err != nil {
					totalErrors.Add(1)
					continue
				}

				elapsed := time.Since(reqStart)
				totalRequests.Add(1)

				mu.Lock()
				latencies = append(latencies, elapsed)
				batchDist[resp.BatchSize]++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	mu.Lock()
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	mu.Unlock()

	total := totalRequests.Load()
	errors := totalErrors.Load()
	throughput := float64(total) / elapsed.Seconds()

	fmt.Println("\n═══════════════════════════════════════════════════")
	fmt.Println("   LOAD TEST RESULTS")
	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Printf("   Duration:      %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("   Concurrency:   %d\n", *concurrency)
	fmt.Printf("   Total Reqs:    %d\n", total)
	fmt.Printf("   Errors:        %d (%.1f%%)\n", errors, float64(errors)/float64(total+errors)*100)
	fmt.Printf("   Throughput:    %.1f req/sec\n", throughput)
	fmt.Println()

	if len(latencies) > 0 {
		fmt.Println("   Latency Percentiles:")
		fmt.Printf("      p50:  %v\n", latencies[len(latencies)*50/100])
		fmt.Printf("      p95:  %v\n", latencies[len(latencies)*95/100])
		fmt.Printf("      p99:  %v\n", latencies[len(latencies)*99/100])
		fmt.Printf("      max:  %v\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("   Batch Size Distribution:")
	sizes := make([]int32, 0, len(batchDist))
	for s := range batchDist {
		sizes = append(sizes, s)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })
	for _, s := range sizes {
		count := batchDist[s]
		pct := float64(count) / float64(total) * 100
		fmt.Printf("      batch=%d: %d (%.1f%%)\n", s, count, pct)
	}
	fmt.Println("═══════════════════════════════════════════════════")
}
