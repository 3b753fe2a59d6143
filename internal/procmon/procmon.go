// Package procmon answers "is this PID alive and how busy is it" without
// ever blocking the caller for long. A dead process is a normal answer,
// not an error.
package procmon

import (
	"context"
	"sync"
	"time"
)

const sampleTimeout = 1 * time.Second

// Stats is one observation of a child process
type Stats struct {
	Active     bool    `json:"active"`
	PID        int     `json:"pid"`
	State      string  `json:"state,omitempty"`
	CPUPercent float64 `json:"cpuPercent"`
	RSSMB      float64 `json:"rssMb"`
}

// cpuSample caches the previous CPU reading per pid so CPU% can be a delta
type cpuSample struct {
	ticks uint64
	at    time.Time
}

// Monitor samples process state. Stateless apart from the cpu cache.
type Monitor struct {
	mu       sync.Mutex
	cpuCache map[int]cpuSample
}

// NewMonitor creates a process monitor
func NewMonitor() *Monitor {
	return &Monitor{cpuCache: make(map[int]cpuSample)}
}

// Sample returns current stats for pid. Never blocks longer than 1 s;
// on timeout or any OS failure it reports the process as inactive.
func (m *Monitor) Sample(ctx context.Context, pid int) Stats {
	if pid <= 0 {
		return Stats{PID: pid}
	}

	type result struct {
		stats Stats
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := m.sampleOS(pid)
		ch <- result{s, err}
	}()

	timer := time.NewTimer(sampleTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Stats{PID: pid}
	case <-timer.C:
		return Stats{PID: pid}
	case r := <-ch:
		if r.err != nil {
			return Stats{PID: pid}
		}
		return r.stats
	}
}

// Forget drops the cpu cache entry for a pid that exited
func (m *Monitor) Forget(pid int) {
	m.mu.Lock()
	delete(m.cpuCache, pid)
	m.mu.Unlock()
}

// cpuPercent converts a cumulative tick count into a percentage over the
// window since the previous sample for this pid. First sample reports 0.
func (m *Monitor) cpuPercent(pid int, ticks uint64, hz float64) float64 {
	now := time.Now()

	m.mu.Lock()
	prev, ok := m.cpuCache[pid]
	m.cpuCache[pid] = cpuSample{ticks: ticks, at: now}
	m.mu.Unlock()

	if !ok || ticks < prev.ticks {
		return 0
	}
	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(ticks-prev.ticks) / hz / elapsed * 100
}
