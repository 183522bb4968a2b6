package metrics

import "sync/atomic"

// MetricID identifies a specific counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricTokenIssued
	MetricRecoveryRequest
	MetricRecoveryRateLimited
	MetricRecoveryDeliveryFailure
	MetricRecoveryConfirmSuccess
	MetricRecoveryConfirmFailure
	MetricRecoveryReplay
	MetricRateLimitHit
	MetricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value atomic.Uint64
	_     [cacheLineSize - 8]byte
}

// Config controls metric collection. When Enabled is false every operation is
// a no-op and Snapshot returns empty maps.
type Config struct {
	Enabled bool
}

// Metrics holds cache-line-padded atomic counters. The write path is
// allocation-free.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]paddedCounter
}

// Snapshot is a point-in-time deep copy of all counters.
type Snapshot struct {
	Counters map[MetricID]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	m.counters[id].value.Add(1)
}

func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return 0
	}
	return m.counters[id].value.Load()
}

func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{Counters: make(map[MetricID]uint64, MetricIDCount)}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		snap.Counters[id] = m.counters[id].value.Load()
	}
	return snap
}
