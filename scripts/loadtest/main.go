// Loadtest sends concurrent requests through the proxy and reports
// throughput, latency percentiles and how requests spread over workers,
// read from the X-Backend-Server response header.
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:8080/app/ -concurrency 20 -requests 2000
//	go run ./scripts/loadtest -url http://localhost:8080/app/ -sessions 10 -out summary.json
//
// With -sessions, requests are spread over that many clients that each
// start a session first and then replay its cookie, which shows whether
// sticky routing holds.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type workerStats struct {
	Count     int             `json:"count"`
	Failure   int             `json:"failure"`
	Latencies []time.Duration `json:"-"`
}

type summary struct {
	Target      string                     `json:"target"`
	Requests    int                        `json:"requests"`
	Concurrency int                        `json:"concurrency"`
	Success     int                        `json:"success"`
	Failure     int                        `json:"failure"`
	DurationMS  int64                      `json:"duration_ms"`
	Throughput  float64                    `json:"throughput_rps"`
	StatusCodes map[int]int                `json:"status_codes"`
	Workers     map[string]*workerStats    `json:"workers"`
	Percentiles map[string]float64         `json:"percentiles_ms"`
	Sessions    map[string]map[string]bool `json:"-"`
	StickyMiss  int                        `json:"sticky_misses"`
}

func main() {
	var (
		url         = flag.String("url", "http://localhost:8080/", "Target URL")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent requests")
		requests    = flag.Int("requests", 100, "Total number of requests to send")
		sessions    = flag.Int("sessions", 0, "Number of sticky clients (0 disables sessions)")
		sessionPath = flag.String("session-path", "session", "Path, relative to -url, that starts a session")
		timeout     = flag.Duration("timeout", 10*time.Second, "Per-request timeout")
		outJSON     = flag.String("out", "", "Write JSON summary to this file (optional)")
	)
	flag.Parse()

	clients, err := newClients(*sessions, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create clients: %v\n", err)
		os.Exit(1)
	}

	sum := &summary{
		Target:      *url,
		Requests:    *requests,
		Concurrency: *concurrency,
		StatusCodes: make(map[int]int),
		Workers:     make(map[string]*workerStats),
		Sessions:    make(map[string]map[string]bool),
	}
	var mu sync.Mutex

	if *sessions > 0 {
		start := strings.TrimSuffix(*url, "/") + "/" + *sessionPath
		for _, c := range clients {
			resp, err := c.Get(start)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to start session: %v\n", err)
				os.Exit(1)
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}

	var all []time.Duration
	g := new(errgroup.Group)
	g.SetLimit(*concurrency)

	testStart := time.Now()
	for i := range *requests {
		client := clients[i%len(clients)]
		clientID := fmt.Sprintf("client-%d", i%len(clients))
		g.Go(func() error {
			start := time.Now()
			resp, err := client.Get(*url)
			dur := time.Since(start)

			mu.Lock()
			defer mu.Unlock()
			all = append(all, dur)
			if err != nil {
				sum.Failure++
				return nil
			}
			defer resp.Body.Close()
			io.Copy(io.Discard, resp.Body)

			sum.StatusCodes[resp.StatusCode]++
			worker := resp.Header.Get("X-Backend-Server")
			if worker == "" {
				worker = "(none)"
			}
			ws, ok := sum.Workers[worker]
			if !ok {
				ws = &workerStats{}
				sum.Workers[worker] = ws
			}
			ws.Count++
			ws.Latencies = append(ws.Latencies, dur)
			if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
				sum.Success++
			} else {
				sum.Failure++
				ws.Failure++
			}

			if *sessions > 0 {
				seen, ok := sum.Sessions[clientID]
				if !ok {
					seen = make(map[string]bool)
					sum.Sessions[clientID] = seen
				}
				seen[worker] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(testStart)
	sum.DurationMS = elapsed.Milliseconds()
	sum.Throughput = float64(*requests) / elapsed.Seconds()
	sum.Percentiles = percentiles(all)
	for _, seen := range sum.Sessions {
		if len(seen) > 1 {
			sum.StickyMiss++
		}
	}

	report(sum)

	if *outJSON != "" {
		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(sum)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if sum.Failure > 0 || sum.StickyMiss > 0 {
		os.Exit(2)
	}
}

func newClients(sessions int, timeout time.Duration) ([]*http.Client, error) {
	n := max(sessions, 1)
	clients := make([]*http.Client, n)
	for i := range clients {
		c := &http.Client{Timeout: timeout}
		if sessions > 0 {
			jar, err := cookiejar.New(nil)
			if err != nil {
				return nil, err
			}
			c.Jar = jar
		}
		clients[i] = c
	}
	return clients, nil
}

func percentiles(lat []time.Duration) map[string]float64 {
	out := make(map[string]float64)
	if len(lat) == 0 {
		return out
	}
	sorted := slices.Clone(lat)
	slices.Sort(sorted)
	for _, p := range []float64{0.50, 0.90, 0.95, 0.99} {
		d := sorted[int(float64(len(sorted)-1)*p)]
		out[fmt.Sprintf("p%d", int(p*100))] = float64(d.Microseconds()) / 1000
	}
	return out
}

func report(sum *summary) {
	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", sum.Target)
	fmt.Printf("Requests: %d  Concurrency: %d\n", sum.Requests, sum.Concurrency)
	fmt.Printf("Success: %d  Failure: %d\n", sum.Success, sum.Failure)
	fmt.Printf("Duration: %dms  Throughput: %.2f req/s\n", sum.DurationMS, sum.Throughput)

	fmt.Println("\nStatus codes:")
	codes := make([]int, 0, len(sum.StatusCodes))
	for k := range sum.StatusCodes {
		codes = append(codes, k)
	}
	slices.Sort(codes)
	for _, k := range codes {
		fmt.Printf("  %d -> %d\n", k, sum.StatusCodes[k])
	}

	fmt.Println("\nWorker distribution:")
	names := make([]string, 0, len(sum.Workers))
	for k := range sum.Workers {
		names = append(names, k)
	}
	slices.Sort(names)
	for _, k := range names {
		ws := sum.Workers[k]
		p := percentiles(ws.Latencies)
		fmt.Printf("  %s -> total=%d failure=%d p50=%.2fms p99=%.2fms\n", k, ws.Count, ws.Failure, p["p50"], p["p99"])
	}

	fmt.Printf("\nLatency: p50=%.2fms p90=%.2fms p95=%.2fms p99=%.2fms\n",
		sum.Percentiles["p50"], sum.Percentiles["p90"], sum.Percentiles["p95"], sum.Percentiles["p99"])
	if len(sum.Sessions) > 0 {
		fmt.Printf("Sessions: %d  served by more than one worker: %d\n", len(sum.Sessions), sum.StickyMiss)
	}
}
