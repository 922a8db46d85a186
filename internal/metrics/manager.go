package metrics

import (
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxSamples = 1000 // keep last 1000 samples for percentile calculations
)

// MetricsManager collects pipeline timings and outcomes, addressed by topic/function paths.
type MetricsManager struct {
	mu          sync.RWMutex
	timings     map[string]*TimingMetric
	counters    map[string]*CounterMetric
	successFail map[string]*SuccessFailMetric
	active      map[string]time.Time // in-flight timings
	keyCounter  uint64

	db       *sql.DB
	stopSave chan struct{}
}

var (
	instance *MetricsManager
	once     sync.Once
)

// GetInstance returns the process-wide metrics manager
func GetInstance() *MetricsManager {
	once.Do(func() {
		instance = NewManager()
	})
	return instance
}

// NewManager creates an empty, in-memory manager.
func NewManager() *MetricsManager {
	return &MetricsManager{
		timings:     make(map[string]*TimingMetric),
		counters:    make(map[string]*CounterMetric),
		successFail: make(map[string]*SuccessFailMetric),
		active:      make(map[string]time.Time),
	}
}

// buildPath creates a normalized path from topic and function
func buildPath(topic, function string) string {
	if function == "" {
		return topic
	}
	return fmt.Sprintf("%s/%s", topic, function)
}

// StartTiming begins timing an operation and returns the key to pass to EndTiming.
func (m *MetricsManager) StartTiming(topic, function string) string {
	path := buildPath(topic, function)

	counter := atomic.AddUint64(&m.keyCounter, 1)
	key := fmt.Sprintf("%s#%d", path, counter)

	m.mu.Lock()
	m.active[key] = time.Now()
	m.mu.Unlock()

	return key
}

// EndTiming completes timing an operation. Unknown keys are ignored.
func (m *MetricsManager) EndTiming(key string) {
	m.mu.Lock()
	startTime, exists := m.active[key]
	if !exists {
		m.mu.Unlock()
		return
	}
	delete(m.active, key)
	m.mu.Unlock()

	path := key
	if idx := strings.LastIndex(key, "#"); idx >= 0 {
		path = key[:idx]
	}
	m.RecordDuration(path, "", time.Since(startTime))
}

// RecordDuration records a duration directly
func (m *MetricsManager) RecordDuration(topic, function string, duration time.Duration) {
	path := buildPath(topic, function)

	m.mu.Lock()
	defer m.mu.Unlock()

	metric, exists := m.timings[path]
	if !exists {
		metric = &TimingMetric{
			samples: make([]time.Duration, 0, 16),
			Min:     duration,
			Max:     duration,
		}
		m.timings[path] = metric
	}

	metric.mu.Lock()
	defer metric.mu.Unlock()

	metric.Count++
	metric.Total += duration
	metric.Last = duration
	if duration < metric.Min {
		metric.Min = duration
	}
	if duration > metric.Max {
		metric.Max = duration
	}

	if len(metric.samples) < maxSamples {
		metric.samples = append(metric.samples, duration)
	} else {
		metric.samples[metric.sampleIdx] = duration
		metric.sampleIdx = (metric.sampleIdx + 1) % maxSamples
	}
}

// AddCounter adds to a counter
func (m *MetricsManager) AddCounter(topic, function string, delta int64) {
	path := buildPath(topic, function)

	m.mu.Lock()
	defer m.mu.Unlock()

	metric, exists := m.counters[path]
	if !exists {
		metric = &CounterMetric{}
		m.counters[path] = metric
	}

	metric.mu.Lock()
	defer metric.mu.Unlock()
	metric.Value += delta
	metric.Last = time.Now()
}

func (m *MetricsManager) getSuccessFail(path string) *SuccessFailMetric {
	m.mu.Lock()
	defer m.mu.Unlock()

	metric, exists := m.successFail[path]
	if !exists {
		metric = &SuccessFailMetric{FailureReasons: make(map[string]int64)}
		m.successFail[path] = metric
	}
	return metric
}

// RecordSuccess records a successful operation
func (m *MetricsManager) RecordSuccess(topic, operation string) {
	metric := m.getSuccessFail(buildPath(topic, operation))

	metric.mu.Lock()
	defer metric.mu.Unlock()
	metric.Success++
	metric.LastSuccess = time.Now()
}

// RecordFailure records a failed operation; reason may be empty.
func (m *MetricsManager) RecordFailure(topic, operation, reason string) {
	metric := m.getSuccessFail(buildPath(topic, operation))

	metric.mu.Lock()
	defer metric.mu.Unlock()
	metric.Failures++
	metric.LastFailure = time.Now()
	if reason != "" {
		metric.FailureReasons[reason]++
	}
}

// Snapshot returns every metric sorted by path.
func (m *MetricsManager) Snapshot() []MetricSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]MetricSnapshot, 0, len(m.timings)+len(m.counters)+len(m.successFail))

	for path, metric := range m.timings {
		metric.mu.RLock()
		avg := float64(0)
		if metric.Count > 0 {
			avg = msec(metric.Total) / float64(metric.Count)
		}
		out = append(out, MetricSnapshot{
			Path: path,
			Type: TypeTiming,
			Data: TimingSnapshot{
				Count:  metric.Count,
				AvgMs:  avg,
				MinMs:  msec(metric.Min),
				MaxMs:  msec(metric.Max),
				LastMs: msec(metric.Last),
				P95Ms:  calculatePercentile(metric.samples, 95),
			},
		})
		metric.mu.RUnlock()
	}

	for path, metric := range m.counters {
		metric.mu.RLock()
		out = append(out, MetricSnapshot{Path: path, Type: TypeCounter, Data: CounterSnapshot{Value: metric.Value}})
		metric.mu.RUnlock()
	}

	for path, metric := range m.successFail {
		metric.mu.RLock()
		rate := float64(0)
		if total := metric.Success + metric.Failures; total > 0 {
			rate = float64(metric.Success) / float64(total) * 100
		}
		var reasons map[string]int64
		if len(metric.FailureReasons) > 0 {
			reasons = maps.Clone(metric.FailureReasons)
		}
		out = append(out, MetricSnapshot{
			Path: path,
			Type: TypeSuccessFail,
			Data: SuccessFailSnapshot{
				Success:        metric.Success,
				Failures:       metric.Failures,
				SuccessRate:    rate,
				FailureReasons: reasons,
			},
		})
		metric.mu.RUnlock()
	}

	slices.SortFunc(out, func(a, b MetricSnapshot) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return strings.Compare(string(a.Type), string(b.Type))
	})
	return out
}

func msec(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func calculatePercentile(samples []time.Duration, percentile int) float64 {
	if len(samples) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := (len(sorted) * percentile) / 100
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return msec(sorted[index])
}
