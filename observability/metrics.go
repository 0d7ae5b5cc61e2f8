package observability

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/victoralfred/gospawn/command"
)

// Metrics collects in-process run statistics. It implements
// command.RunObserver; register it on every command that should be
// counted.
type Metrics struct {
	pathStats      map[string]*PathStats
	totalRuns      int64
	successfulRuns int64
	failedRuns     int64
	detachedRuns   int64
	signalKills    int64
	systemErrors   int64
	rateLimited    int64
	rejected       int64
	activeRuns     int64
	totalDuration  int64
	durationCount  int64
	minDuration    int64
	maxDuration    int64
	stdoutBytes    int64
	stderrBytes    int64
	mu             sync.RWMutex
}

// PathStats contains per-executable statistics.
type PathStats struct {
	LastRunAt      time.Time
	Path           string
	LastOutcome    string
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	TotalDuration  int64
	AvgDuration    int64
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		pathStats:   make(map[string]*PathStats),
		minDuration: -1,
	}
}

// RunStarted implements command.RunObserver.
func (m *Metrics) RunStarted(ctx context.Context, start command.RunStart) (context.Context, error) {
	atomic.AddInt64(&m.activeRuns, 1)
	return ctx, nil
}

// RunCompleted implements command.RunObserver.
func (m *Metrics) RunCompleted(ctx context.Context, report command.Report) {
	atomic.AddInt64(&m.activeRuns, -1)
	atomic.AddInt64(&m.totalRuns, 1)

	outcome := Outcome(report)
	switch outcome {
	case "success", "detached":
		atomic.AddInt64(&m.successfulRuns, 1)
	case "rejected":
		atomic.AddInt64(&m.rejected, 1)
		atomic.AddInt64(&m.failedRuns, 1)
	case "rate_limited":
		atomic.AddInt64(&m.rateLimited, 1)
		atomic.AddInt64(&m.failedRuns, 1)
	default:
		atomic.AddInt64(&m.failedRuns, 1)
	}

	if report.KilledBySignal() {
		atomic.AddInt64(&m.signalKills, 1)
	}
	if report.Recorded && report.ExitCode == command.ExitCodeSystemError {
		atomic.AddInt64(&m.systemErrors, 1)
	}
	if !report.WaitMode {
		atomic.AddInt64(&m.detachedRuns, 1)
	}

	atomic.AddInt64(&m.stdoutBytes, int64(report.StdoutBytes))
	atomic.AddInt64(&m.stderrBytes, int64(report.StderrBytes))

	duration := report.Duration.Nanoseconds()
	atomic.AddInt64(&m.totalDuration, duration)
	atomic.AddInt64(&m.durationCount, 1)

	for {
		old := atomic.LoadInt64(&m.minDuration)
		if old >= 0 && duration >= old {
			break
		}
		if atomic.CompareAndSwapInt64(&m.minDuration, old, duration) {
			break
		}
	}

	for {
		old := atomic.LoadInt64(&m.maxDuration)
		if duration <= old {
			break
		}
		if atomic.CompareAndSwapInt64(&m.maxDuration, old, duration) {
			break
		}
	}

	m.updatePathStats(report, outcome)
}

// RecordRateLimited counts a run that was refused admission before any
// observer saw it. The engine's limiter calls this on denial.
func (m *Metrics) RecordRateLimited(path string) {
	atomic.AddInt64(&m.rateLimited, 1)
}

func (m *Metrics) updatePathStats(report command.Report, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.pathStats[report.Path]
	if !ok {
		stats = &PathStats{Path: report.Path}
		m.pathStats[report.Path] = stats
	}

	stats.TotalRuns++
	stats.TotalDuration += report.Duration.Nanoseconds()
	stats.AvgDuration = stats.TotalDuration / stats.TotalRuns
	stats.LastRunAt = time.Now()
	stats.LastOutcome = outcome

	switch outcome {
	case "success", "detached":
		stats.SuccessfulRuns++
	default:
		stats.FailedRuns++
	}
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRuns:      atomic.LoadInt64(&m.totalRuns),
		SuccessfulRuns: atomic.LoadInt64(&m.successfulRuns),
		FailedRuns:     atomic.LoadInt64(&m.failedRuns),
		DetachedRuns:   atomic.LoadInt64(&m.detachedRuns),
		SignalKills:    atomic.LoadInt64(&m.signalKills),
		SystemErrors:   atomic.LoadInt64(&m.systemErrors),
		RateLimited:    atomic.LoadInt64(&m.rateLimited),
		Rejected:       atomic.LoadInt64(&m.rejected),
		ActiveRuns:     atomic.LoadInt64(&m.activeRuns),
		StdoutBytes:    atomic.LoadInt64(&m.stdoutBytes),
		StderrBytes:    atomic.LoadInt64(&m.stderrBytes),
		AvgDuration:    m.avgDuration(),
		MinDuration:    time.Duration(atomic.LoadInt64(&m.minDuration)),
		MaxDuration:    time.Duration(atomic.LoadInt64(&m.maxDuration)),
		PathStats:      m.getPathStats(),
	}
}

// MetricsSnapshot is a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	PathStats      map[string]*PathStats
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	DetachedRuns   int64
	SignalKills    int64
	SystemErrors   int64
	RateLimited    int64
	Rejected       int64
	ActiveRuns     int64
	StdoutBytes    int64
	StderrBytes    int64
	AvgDuration    time.Duration
	MinDuration    time.Duration
	MaxDuration    time.Duration
}

// SuccessRate returns the success rate as a percentage.
func (s MetricsSnapshot) SuccessRate() float64 {
	if s.TotalRuns == 0 {
		return 0
	}
	return float64(s.SuccessfulRuns) / float64(s.TotalRuns) * 100
}

// ErrorRate returns the error rate as a percentage.
func (s MetricsSnapshot) ErrorRate() float64 {
	if s.TotalRuns == 0 {
		return 0
	}
	return float64(s.FailedRuns) / float64(s.TotalRuns) * 100
}

func (m *Metrics) avgDuration() time.Duration {
	count := atomic.LoadInt64(&m.durationCount)
	if count == 0 {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&m.totalDuration) / count)
}

func (m *Metrics) getPathStats() map[string]*PathStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*PathStats, len(m.pathStats))
	for k, v := range m.pathStats {
		copied := *v
		result[k] = &copied
	}
	return result
}

// Reset resets all counters. The active run gauge tracks in-flight runs
// and is left alone.
func (m *Metrics) Reset() {
	atomic.StoreInt64(&m.totalRuns, 0)
	atomic.StoreInt64(&m.successfulRuns, 0)
	atomic.StoreInt64(&m.failedRuns, 0)
	atomic.StoreInt64(&m.detachedRuns, 0)
	atomic.StoreInt64(&m.signalKills, 0)
	atomic.StoreInt64(&m.systemErrors, 0)
	atomic.StoreInt64(&m.rateLimited, 0)
	atomic.StoreInt64(&m.rejected, 0)
	atomic.StoreInt64(&m.totalDuration, 0)
	atomic.StoreInt64(&m.durationCount, 0)
	atomic.StoreInt64(&m.minDuration, -1)
	atomic.StoreInt64(&m.maxDuration, 0)
	atomic.StoreInt64(&m.stdoutBytes, 0)
	atomic.StoreInt64(&m.stderrBytes, 0)

	m.mu.Lock()
	m.pathStats = make(map[string]*PathStats)
	m.mu.Unlock()
}
