package ratelimit

import (
	"sync"
	"time"
)

// refillPeriod is the granularity at which buckets accrue tokens;
// rates in config are expressed as bytes/second, so a one-second
// period keeps the arithmetic in bucket.go exact for the common case.
const refillPeriod = time.Second

// Manager owns the global network-wide bucket and one per-server backup
// bucket, matching the design: "A global bucket caps total network
// throughput; per-server buckets cap per-server backup throughput."
type Manager struct {
	global *Bucket

	mu      sync.Mutex
	servers map[string]*Bucket
}

// NewManager builds a Manager with the engine-wide network cap.
// networkMaxRate of 0 means unlimited.
func NewManager(networkMaxRate int64) *Manager {
	return &Manager{
		global:  New(networkMaxRate, networkMaxRate, refillPeriod),
		servers: map[string]*Bucket{},
	}
}

// Global returns the shared network-wide bucket.
func (m *Manager) Global() *Bucket { return m.global }

// Server returns the per-server backup bucket, creating it on first use
// with the given per-server cap (0 means unlimited).
func (m *Manager) Server(name string, backupMaxRate int64) *Bucket {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.servers[name]; ok {
		return b
	}
	b := New(backupMaxRate, backupMaxRate, refillPeriod)
	m.servers[name] = b
	return b
}

// SetServerRate replaces a server bucket's cap, used when a hot
// config-reload changes backup_max_rate for that server (the design
// classifies rate caps as hot-reloadable).
func (m *Manager) SetServerRate(name string, backupMaxRate int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[name] = New(backupMaxRate, backupMaxRate, refillPeriod)
}
