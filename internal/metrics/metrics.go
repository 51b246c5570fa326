package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex             sync.RWMutex
	attempts          map[string]int64
	transportFailures map[string]int64
	exclusions        map[string]int64
	responseTimes     map[string][]time.Duration
	statusCodes       map[string]map[int]int64
	noNodes           map[string]int64
	startTime         time.Time
}

type Snapshot struct {
	TotalAttempts int64                    `json:"total_attempts"`
	Uptime        time.Duration            `json:"uptime"`
	Targets       map[string]TargetMetrics `json:"targets"`
	NoNodes       map[string]int64         `json:"no_available_nodes"`
}

type TargetMetrics struct {
	Attempts          int64         `json:"attempts"`
	TransportFailures int64         `json:"transport_failures"`
	Exclusions        int64         `json:"exclusions"`
	AvgResponse       time.Duration `json:"avg_response"`
	P50Response       time.Duration `json:"p50_response"`
	P95Response       time.Duration `json:"p95_response"`
	P99Response       time.Duration `json:"p99_response"`
	StatusCodes       map[int]int64 `json:"status_codes"`
}

func (m *Metrics) IncrementAttempts(target string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.attempts[target]++
}

func (m *Metrics) RecordTransportFailure(target string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.transportFailures[target]++
}

func (m *Metrics) RecordExclusion(target string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.exclusions[target]++
}

func (m *Metrics) RecordNoAvailableNode(service string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.noNodes[service]++
}

func (m *Metrics) RecordResponse(target string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[target] = append(m.responseTimes[target], duration)

	if len(m.responseTimes[target]) > maxSamples {
		m.responseTimes[target] = m.responseTimes[target][1:]
	}

	if m.statusCodes[target] == nil {
		m.statusCodes[target] = make(map[int]int64)
	}
	m.statusCodes[target][statusCode]++
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:  time.Since(m.startTime),
		Targets: make(map[string]TargetMetrics),
		NoNodes: make(map[string]int64, len(m.noNodes)),
	}

	for service, n := range m.noNodes {
		snap.NoNodes[service] = n
	}

	allTargets := make(map[string]bool)
	for target := range m.attempts {
		allTargets[target] = true
	}
	for target := range m.transportFailures {
		allTargets[target] = true
	}
	for target := range m.exclusions {
		allTargets[target] = true
	}
	for target := range m.responseTimes {
		allTargets[target] = true
	}

	for target := range allTargets {
		snap.TotalAttempts += m.attempts[target]

		tm := TargetMetrics{
			Attempts:          m.attempts[target],
			TransportFailures: m.transportFailures[target],
			Exclusions:        m.exclusions[target],
			StatusCodes:       make(map[int]int64, len(m.statusCodes[target])),
		}
		for code, n := range m.statusCodes[target] {
			tm.StatusCodes[code] = n
		}

		durations := m.responseTimes[target]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			tm.AvgResponse = average(sorted)
			tm.P50Response = percentile(sorted, 0.50)
			tm.P95Response = percentile(sorted, 0.95)
			tm.P99Response = percentile(sorted, 0.99)
		}

		snap.Targets[target] = tm
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		attempts:          make(map[string]int64),
		transportFailures: make(map[string]int64),
		exclusions:        make(map[string]int64),
		responseTimes:     make(map[string][]time.Duration),
		statusCodes:       make(map[string]map[int]int64),
		noNodes:           make(map[string]int64),
		startTime:         time.Now(),
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
