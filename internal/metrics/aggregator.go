// ABOUTME: In-memory rolling metrics aggregator for the monitor core
// ABOUTME: Tracks messages/minute, a latency histogram with percentiles, errors, and subscribers

package metrics

import (
	"sync"
	"time"
)

// latencyBounds are the upper bounds (ms) of the fixed histogram buckets.
// The last bucket is open-ended (>500ms).
var latencyBounds = []int{10, 25, 50, 100, 250, 500}

const (
	// maxMinuteBuckets bounds the sliding window used for messages/minute.
	maxMinuteBuckets = 10

	// defaultHistogramReset is how often the latency histogram is cleared
	// so percentiles reflect recent behavior.
	defaultHistogramReset = time.Hour
)

// minuteBucket counts messages observed within a single minute.
type minuteBucket struct {
	start time.Time
	count int
}

// Snapshot is a point-in-time view of the aggregator.
type Snapshot struct {
	MessagesPerMinute float64 `json:"messages_per_minute"`
	ErrorCount        int64   `json:"error_count"`
	SubscriberCount   int     `json:"subscriber_count"`
	LatencyP50        int     `json:"latency_p50_ms"`
	LatencyP95        int     `json:"latency_p95_ms"`
	LatencySamples    int64   `json:"latency_samples"`
}

// Aggregator keeps rolling counters for the monitor. All methods are safe
// for concurrent use.
type Aggregator struct {
	mu sync.Mutex

	buckets []minuteBucket

	latencyCounts []int64
	latencyTotal  int64
	lastReset     time.Time
	resetInterval time.Duration

	errorCount      int64
	subscriberCount int

	now func() time.Time
}

// NewAggregator creates an aggregator with the default 1h histogram reset.
func NewAggregator() *Aggregator {
	return &Aggregator{
		latencyCounts: make([]int64, len(latencyBounds)+1),
		lastReset:     time.Now(),
		resetInterval: defaultHistogramReset,
		now:           time.Now,
	}
}

// RecordMessage increments the current minute's message counter.
func (a *Aggregator) RecordMessage() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	minute := now.Truncate(time.Minute)

	n := len(a.buckets)
	if n == 0 || !a.buckets[n-1].start.Equal(minute) {
		a.buckets = append(a.buckets, minuteBucket{start: minute})
		if len(a.buckets) > maxMinuteBuckets {
			a.buckets = a.buckets[len(a.buckets)-maxMinuteBuckets:]
		}
	}
	a.buckets[len(a.buckets)-1].count++
}

// RecordLatency adds a latency sample (in milliseconds) to the histogram.
// The histogram is cleared lazily once the reset interval has elapsed.
func (a *Aggregator) RecordLatency(ms int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if now.Sub(a.lastReset) >= a.resetInterval {
		for i := range a.latencyCounts {
			a.latencyCounts[i] = 0
		}
		a.latencyTotal = 0
		a.lastReset = now
	}

	a.latencyCounts[bucketIndex(ms)]++
	a.latencyTotal++
}

// bucketIndex returns the histogram bucket for a latency sample.
func bucketIndex(ms int) int {
	for i, bound := range latencyBounds {
		if ms <= bound {
			return i
		}
	}
	return len(latencyBounds)
}

// RecordError increments the error counter.
func (a *Aggregator) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errorCount++
}

// SetSubscriberCount records the current number of live event subscribers.
func (a *Aggregator) SetSubscriberCount(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscriberCount = n
}

// MessagesPerMinute returns the mean of the most recent minute buckets.
func (a *Aggregator) MessagesPerMinute() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.messagesPerMinuteLocked()
}

func (a *Aggregator) messagesPerMinuteLocked() float64 {
	if len(a.buckets) == 0 {
		return 0
	}
	total := 0
	for _, b := range a.buckets {
		total += b.count
	}
	return float64(total) / float64(len(a.buckets))
}

// Percentile estimates the latency percentile p (0..1) by walking the
// histogram buckets in ascending order. Returns the upper bound of the
// bucket where the cumulative fraction first reaches p, in milliseconds.
// The open-ended bucket reports 501 (">500").
func (a *Aggregator) Percentile(p float64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.percentileLocked(p)
}

func (a *Aggregator) percentileLocked(p float64) int {
	if a.latencyTotal == 0 {
		return 0
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}

	var cumulative int64
	for i, count := range a.latencyCounts {
		cumulative += count
		if float64(cumulative)/float64(a.latencyTotal) >= p {
			if i < len(latencyBounds) {
				return latencyBounds[i]
			}
			return latencyBounds[len(latencyBounds)-1] + 1
		}
	}
	return latencyBounds[len(latencyBounds)-1] + 1
}

// Snapshot returns a consistent view of all counters.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Snapshot{
		MessagesPerMinute: a.messagesPerMinuteLocked(),
		ErrorCount:        a.errorCount,
		SubscriberCount:   a.subscriberCount,
		LatencyP50:        a.percentileLocked(0.50),
		LatencyP95:        a.percentileLocked(0.95),
		LatencySamples:    a.latencyTotal,
	}
}
