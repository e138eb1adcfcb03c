package eventloop

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is a point-in-time view of the loop's runtime statistics,
// returned by Loop.Metrics when enabled via WithMetrics.
//
// Example:
//
//	loop, _ := New(WithStorageCapacity(512), WithMetrics(true))
//	_ = loop.Start()
//	stats := loop.Metrics()
//	fmt.Printf("TPS: %.2f, P99 Latency: %v\n",
//		stats.TPS, stats.Latency.P99)
type Metrics struct {
	// Latency of storage operations, from submission to completion.
	Latency LatencyStats

	// Queue depths, sampled once per iteration.
	Queue QueueStats

	// TPS is completed storage operations per second.
	TPS float64

	Completed uint64
	Failed    uint64
	Panics    uint64
}

// LatencyStats holds percentiles computed by LatencyMetrics.Sample.
type LatencyStats struct {
	P50   time.Duration
	P90   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

// QueueStats holds depth statistics computed by QueueMetrics.
type QueueStats struct {
	Tasks    DepthStats
	Staged   DepthStats
	InFlight DepthStats
}

// DepthStats describes a single queue's depth.
type DepthStats struct {
	Current int
	Max     int
	// Avg is an exponential moving average with alpha=0.1.
	Avg float64
}

// loopMetrics aggregates the collectors of a single loop.
type loopMetrics struct {
	tps       *TPSCounter
	latency   LatencyMetrics
	queue     QueueMetrics
	completed atomic.Uint64
	failed    atomic.Uint64
	panics    atomic.Uint64
}

func newLoopMetrics() *loopMetrics {
	return &loopMetrics{tps: NewTPSCounter(10*time.Second, 100*time.Millisecond)}
}

func (m *loopMetrics) recordCompletion(latency time.Duration, err error) {
	m.latency.Record(latency)
	m.tps.Increment()
	if err != nil {
		m.failed.Add(1)
	} else {
		m.completed.Add(1)
	}
}

func (m *loopMetrics) snapshot() Metrics {
	return Metrics{
		Latency:   m.latency.Sample(),
		Queue:     m.queue.Snapshot(),
		TPS:       m.tps.TPS(),
		Completed: m.completed.Load(),
		Failed:    m.failed.Load(),
		Panics:    m.panics.Load(),
	}
}

// LatencyMetrics tracks latency distribution with percentiles.
type LatencyMetrics struct {
	mu          sync.Mutex
	sampleIdx   int
	sampleCount int
	sum         time.Duration
	samples     [sampleSize]time.Duration
}

// sampleSize is the maximum number of latency samples to retain.
// We keep a rolling buffer of 1000 samples to compute percentiles.
const sampleSize = 1000

// Record records a latency sample.
func (l *LatencyMetrics) Record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// If buffer is full, subtract the old sample that we're replacing
	if l.sampleCount >= sampleSize {
		l.sum -= l.samples[l.sampleIdx]
	}

	l.samples[l.sampleIdx] = duration
	l.sum += duration
	l.sampleIdx++
	if l.sampleIdx >= sampleSize {
		l.sampleIdx = 0
	}
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// Sample computes percentiles from the retained samples.
//
// Performance note: Sorting has O(n log n) complexity. For monitoring, call
// this no more than once per second.
func (l *LatencyMetrics) Sample() LatencyStats {
	l.mu.Lock()
	count := l.sampleCount
	sorted := make([]time.Duration, count)
	copy(sorted, l.samples[:count])
	sum := l.sum
	l.mu.Unlock()

	if count == 0 {
		return LatencyStats{}
	}
	slices.Sort(sorted)

	return LatencyStats{
		P50:   sorted[percentileIndex(count, 50)],
		P90:   sorted[percentileIndex(count, 90)],
		P95:   sorted[percentileIndex(count, 95)],
		P99:   sorted[percentileIndex(count, 99)],
		Max:   sorted[count-1],
		Mean:  sum / time.Duration(count),
		Count: count,
	}
}

// percentileIndex computes the index for a given percentile (0-100).
func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}

// QueueMetrics tracks queue depth statistics.
type QueueMetrics struct {
	mu       sync.Mutex
	tasks    depthTracker
	staged   depthTracker
	inFlight depthTracker
}

type depthTracker struct {
	stats       DepthStats
	initialized bool
}

func (d *depthTracker) update(depth int) {
	d.stats.Current = depth
	if depth > d.stats.Max {
		d.stats.Max = depth
	}
	// Warmstart: initialize to first observed value for accuracy
	if !d.initialized {
		d.stats.Avg = float64(depth)
		d.initialized = true
	} else {
		d.stats.Avg = 0.9*d.stats.Avg + 0.1*float64(depth)
	}
}

// Update records the current depth of each queue.
func (q *QueueMetrics) Update(tasks, staged, inFlight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks.update(tasks)
	q.staged.update(staged)
	q.inFlight.update(inFlight)
}

// Snapshot returns the current depth statistics.
func (q *QueueMetrics) Snapshot() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Tasks:    q.tasks.stats,
		Staged:   q.staged.stats,
		InFlight: q.inFlight.stats,
	}
}

// TPSCounter tracks transactions per second with a rolling window.
//
// Behavior:
//
//	TPS reflects the average rate over the entire window, so it
//	under-reports until the first window has elapsed.
//
// Thread Safety: All methods (Increment, TPS) are thread-safe.
type TPSCounter struct {
	lastRotation time.Time
	buckets      []int64
	bucketSize   time.Duration
	windowSize   time.Duration
	now          func() time.Time
	mu           sync.Mutex
}

// NewTPSCounter creates a new TPS counter.
// windowSize is the time window for TPS calculation (e.g., 10*time.Second).
// bucketSize is the granularity of the rolling window (e.g., 100*time.Millisecond).
func NewTPSCounter(windowSize, bucketSize time.Duration) *TPSCounter {
	bucketCount := int(windowSize / bucketSize)
	if bucketCount < 1 {
		bucketCount = 1
	}
	return &TPSCounter{
		lastRotation: time.Now(),
		buckets:      make([]int64, bucketCount),
		bucketSize:   bucketSize,
		windowSize:   windowSize,
		now:          time.Now,
	}
}

// Increment records a completed operation.
func (t *TPSCounter) Increment() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rotate()
	t.buckets[len(t.buckets)-1]++
}

// rotate advances the buckets if time has passed. Requires t.mu.
func (t *TPSCounter) rotate() {
	now := t.now()
	bucketsToAdvance := int(now.Sub(t.lastRotation) / t.bucketSize)
	if bucketsToAdvance <= 0 {
		return
	}
	if bucketsToAdvance >= len(t.buckets) {
		clear(t.buckets)
		t.lastRotation = now
		return
	}
	// Shift buckets left, filling with zeros
	n := copy(t.buckets, t.buckets[bucketsToAdvance:])
	clear(t.buckets[n:])
	t.lastRotation = t.lastRotation.Add(time.Duration(bucketsToAdvance) * t.bucketSize)
}

// TPS returns the current transactions per second.
func (t *TPSCounter) TPS() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rotate()

	var sum int64
	for _, count := range t.buckets {
		sum += count
	}
	if sum == 0 {
		return 0
	}
	return float64(sum) / t.windowSize.Seconds()
}
