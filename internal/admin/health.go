package admin

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// HealthChecker probes every AI provider. *ai.Router satisfies it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]error
}

// ProviderStatus is the last probe result for one provider.
type ProviderStatus struct {
	Name      string        `json:"name"`
	Healthy   bool          `json:"healthy"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	CheckedAt time.Time     `json:"checked_at"`
}

// HealthMonitor probes providers on a schedule and keeps the latest results,
// so the API-health view never waits on a provider.
type HealthMonitor struct {
	checker   HealthChecker
	interval  time.Duration
	timeout   time.Duration
	scheduler *gocron.Scheduler

	mu       sync.RWMutex
	statuses []ProviderStatus
}

// NewHealthMonitor creates a monitor that probes every interval.
func NewHealthMonitor(checker HealthChecker, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &HealthMonitor{
		checker:   checker,
		interval:  interval,
		timeout:   10 * time.Second,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Start schedules the probe, running the first one immediately, and returns
// without blocking.
func (m *HealthMonitor) Start() error {
	if _, err := m.scheduler.Every(m.interval).SingletonMode().Do(m.probe); err != nil {
		return fmt.Errorf("scheduling health probe: %w", err)
	}
	m.scheduler.StartAsync()
	return nil
}

// Stop halts the schedule.
func (m *HealthMonitor) Stop() {
	m.scheduler.Stop()
}

func (m *HealthMonitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	m.Probe(ctx)
}

// Probe checks every provider now and stores the results.
func (m *HealthMonitor) Probe(ctx context.Context) []ProviderStatus {
	start := time.Now()
	results := m.checker.HealthCheck(ctx)
	latency := time.Since(start)

	statuses := make([]ProviderStatus, 0, len(results))
	for name, err := range results {
		s := ProviderStatus{Name: name, Healthy: err == nil, Latency: latency, CheckedAt: start}
		if err != nil {
			s.Error = err.Error()
			slog.Warn("AI provider unhealthy", "provider", name, "error", err)
		}
		statuses = append(statuses, s)
	}
	slices.SortFunc(statuses, func(a, b ProviderStatus) int {
		return strings.Compare(a.Name, b.Name)
	})

	m.mu.Lock()
	m.statuses = statuses
	m.mu.Unlock()
	return slices.Clone(statuses)
}

// Snapshot returns the latest probe results, empty before the first probe.
func (m *HealthMonitor) Snapshot() []ProviderStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.statuses)
}
