// Package telemetry tracks gateway operating counters and a short
// rolling history of dispatch throughput, adapted from
// an earlier node-migration tool's internal/state/history.go (the TimeSeries ring
// buffer) and internal/state/state.go (the Snapshot/Event shape),
// re-keyed from migration-pipeline metrics (QPS/latency percentiles) to
// gateway ones (dispatch count, redirects by kind, refresh count,
// stale-flag transitions).
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// DataPoint is a single point in time for a metric.
type DataPoint struct {
	Timestamp int64   `json:"ts"` // Unix timestamp in milliseconds
	Value     float64 `json:"v"`
}

// TimeSeries is a fixed-size circular buffer of DataPoints, unchanged
// from the earlier tool's shape.
type TimeSeries struct {
	points []DataPoint
	size   int
	head   int
	full   bool
	mu     sync.RWMutex
}

// NewTimeSeries creates a history buffer holding up to size points.
func NewTimeSeries(size int) *TimeSeries {
	return &TimeSeries{points: make([]DataPoint, size), size: size}
}

// Add appends a new value to the series, evicting the oldest once full.
func (ts *TimeSeries) Add(val float64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.points[ts.head] = DataPoint{Timestamp: time.Now().UnixMilli(), Value: val}
	ts.head = (ts.head + 1) % ts.size
	if ts.head == 0 {
		ts.full = true
	}
}

// Snapshot returns all valid points in chronological order.
func (ts *TimeSeries) Snapshot() []DataPoint {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if !ts.full && ts.head == 0 {
		return []DataPoint{}
	}
	result := make([]DataPoint, 0, ts.size)
	if ts.full {
		result = append(result, ts.points[ts.head:]...)
		result = append(result, ts.points[:ts.head]...)
	} else {
		result = append(result, ts.points[:ts.head]...)
	}
	return result
}

// Counters holds the gateway's running operating counters. All fields
// are updated with atomic ops so the router's hot dispatch path never
// takes a lock for bookkeeping.
type Counters struct {
	Dispatches       atomic.Int64
	Errors           atomic.Int64
	RedirectsMoved   atomic.Int64
	RedirectsAsk     atomic.Int64
	Refreshes        atomic.Int64
	RefreshFailures  atomic.Int64
	StaleTransitions atomic.Int64
}

// Store bundles the counters with a rolling dispatch-rate history, one
// point per call to Tick, mirroring the earlier tool's HistoryStore grouping
// several named TimeSeries together.
type Store struct {
	Counters Counters
	QPS      *TimeSeries

	mu        sync.Mutex
	lastCount int64
	lastTick  time.Time
}

// NewStore builds a Store with one hour of per-second QPS history, same
// retention the earlier tool's NewHistoryStore used.
func NewStore() *Store {
	const oneHour = 3600
	return &Store{QPS: NewTimeSeries(oneHour), lastTick: time.Now()}
}

// Tick samples the dispatch counter delta since the previous call and
// records it as a QPS data point. Intended to be called once per second
// from the gateway's supervisor loop or a dedicated ticker.
func (s *Store) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(s.lastTick).Seconds()
	if elapsed <= 0 {
		return
	}
	current := s.Counters.Dispatches.Load()
	delta := current - s.lastCount
	s.QPS.Add(float64(delta) / elapsed)
	s.lastCount = current
	s.lastTick = now
}

// Snapshot is the JSON-serializable view statusserver exposes.
type Snapshot struct {
	Dispatches       int64       `json:"dispatches"`
	Errors           int64       `json:"errors"`
	RedirectsMoved   int64       `json:"redirectsMoved"`
	RedirectsAsk     int64       `json:"redirectsAsk"`
	Refreshes        int64       `json:"refreshes"`
	RefreshFailures  int64       `json:"refreshFailures"`
	StaleTransitions int64       `json:"staleTransitions"`
	QPS              []DataPoint `json:"qps"`
}

// Snapshot renders the current counters and QPS history.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Dispatches:       s.Counters.Dispatches.Load(),
		Errors:           s.Counters.Errors.Load(),
		RedirectsMoved:   s.Counters.RedirectsMoved.Load(),
		RedirectsAsk:     s.Counters.RedirectsAsk.Load(),
		Refreshes:        s.Counters.Refreshes.Load(),
		RefreshFailures:  s.Counters.RefreshFailures.Load(),
		StaleTransitions: s.Counters.StaleTransitions.Load(),
		QPS:              s.QPS.Snapshot(),
	}
}
