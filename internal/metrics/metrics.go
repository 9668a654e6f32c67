package metrics

import (
	"slices"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	requests      map[string]int64
	elections     map[string]int64
	failures      map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	states        map[string]string
	usable        map[string]bool
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests int64                    `json:"total_requests"`
	TotalFailures int64                    `json:"total_failures"`
	Uptime        time.Duration            `json:"uptime"`
	Workers       map[string]WorkerMetrics `json:"workers"`
}

type WorkerMetrics struct {
	Requests    int64         `json:"requests"`
	Elections   int64         `json:"elections"`
	Failures    int64         `json:"failures"`
	State       string        `json:"state,omitempty"`
	Usable      bool          `json:"usable"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
	StatusCodes map[int]int64 `json:"status_codes"`
}

func (m *Metrics) IncrementRequests(worker string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests[worker]++
}

func (m *Metrics) RecordElection(worker string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.elections[worker]++
}

func (m *Metrics) RecordFailure(worker string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.failures[worker]++
}

func (m *Metrics) RecordResponse(worker string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[worker] = append(m.responseTimes[worker], duration)
	if len(m.responseTimes[worker]) > maxSamples {
		m.responseTimes[worker] = m.responseTimes[worker][1:]
	}

	if m.statusCodes[worker] == nil {
		m.statusCodes[worker] = make(map[int]int64)
	}
	m.statusCodes[worker][statusCode]++
}

func (m *Metrics) UpdateState(worker, state string, usable bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.states[worker] = state
	m.usable[worker] = usable
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:  time.Since(m.startTime),
		Workers: make(map[string]WorkerMetrics),
	}

	names := make(map[string]struct{})
	for _, src := range []map[string]int64{m.requests, m.elections, m.failures} {
		for name := range src {
			names[name] = struct{}{}
		}
	}
	for name := range m.responseTimes {
		names[name] = struct{}{}
	}
	for name := range m.states {
		names[name] = struct{}{}
	}

	for name := range names {
		snap.TotalRequests += m.requests[name]
		snap.TotalFailures += m.failures[name]

		wm := WorkerMetrics{
			Requests:    m.requests[name],
			Elections:   m.elections[name],
			Failures:    m.failures[name],
			State:       m.states[name],
			Usable:      m.usable[name],
			StatusCodes: m.statusCodes[name],
		}

		if durations := m.responseTimes[name]; len(durations) > 0 {
			sorted := slices.Clone(durations)
			slices.Sort(sorted)

			wm.AvgResponse = average(sorted)
			wm.P50Response = percentile(sorted, 0.50)
			wm.P95Response = percentile(sorted, 0.95)
			wm.P99Response = percentile(sorted, 0.99)
		}

		snap.Workers[name] = wm
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		elections:     make(map[string]int64),
		failures:      make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		states:        make(map[string]string),
		usable:        make(map[string]bool),
		startTime:     time.Now(),
	}
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
