package manager

import "time"

// LockInfo describes one currently held lock for observability payloads.
type LockInfo struct {
	Resource   string        `json:"resource"`
	Token      string        `json:"token"`
	AcquiredAt time.Time     `json:"acquired_at"`
	TTL        time.Duration `json:"ttl"`
	Age        time.Duration `json:"age"`
}

// Report is the health payload consumed by operator-facing endpoints.
type Report struct {
	Metrics        map[string]uint64 `json:"metrics"`
	ActiveLocks    []LockInfo        `json:"active_locks"`
	ContentionRate float64           `json:"contention_rate"`
}

// Counters returns a copy of the global operation counters.
func (m *Manager) Counters() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

// ActiveLocks returns a snapshot of the registry.
func (m *Manager) ActiveLocks() []LockInfo {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LockInfo, 0, len(m.active))
	for _, e := range m.active {
		out = append(out, LockInfo{
			Resource:   e.Resource,
			Token:      e.Token,
			AcquiredAt: e.AcquiredAt,
			TTL:        e.TTL,
			Age:        now.Sub(e.AcquiredAt),
		})
	}
	return out
}

// Report assembles the full health payload. The contention rate is the
// ratio of failed to total acquisition attempts, zero when nothing has been
// attempted yet.
func (m *Manager) Report() Report {
	counters := m.Counters()
	var rate float64
	if attempts := counters[MetricAcquisitionAttempt]; attempts > 0 {
		rate = float64(counters[MetricAcquisitionFailure]) / float64(attempts)
	}
	return Report{
		Metrics:        counters,
		ActiveLocks:    m.ActiveLocks(),
		ContentionRate: rate,
	}
}
