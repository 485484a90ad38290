package ttl

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type collector struct {
	reg prometheus.Registerer
	c   prometheus.Collector
}

// RegisterMetrics exposes the engine counters on reg, labelled with the
// tenant. The collectors read the engine state on scrape and are removed
// again by Stop.
func (m *Manager) RegisterMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}

	labels := prometheus.Labels{"tenant": m.cfg.TenantID}
	counter := func(name, help string, v func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "pomai",
			Subsystem:   "member_ttl",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(v()) })
	}
	gauge := func(name, help string, v func() int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "pomai",
			Subsystem:   "member_ttl",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(v()) })
	}

	cs := []prometheus.Collector{
		counter("scheduled_total", "Member expirations scheduled.", m.counters.scheduled.Load),
		counter("cancelled_total", "Member expirations cancelled.", m.counters.cancelled.Load),
		counter("immediate_deletes_total", "Members removed by a zero TTL.", m.counters.immediate.Load),
		counter("expired_total", "Members removed by the reaper.", m.counters.expired.Load),
		counter("stale_total", "Pending entries discarded because a later schedule superseded them.", m.counters.stale.Load),
		counter("skipped_total", "Confirmed expirations whose collection was gone or unsupported.", m.counters.skipped.Load),
		counter("spilled_total", "Pending entries parked on the overflow list.", m.counters.spilled.Load),
		counter("dropped_total", "Pending entries dropped because the queue was full.", m.counters.dropped.Load),
		gauge("active", "Identities with an active expiration.", m.index.Len),
		gauge("pending", "Entries waiting in the pending queue.", m.queue.Len),
		gauge("heap_size", "Entries held in the reaper heap.", m.reaper.HeapSize),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
		m.collectors = append(m.collectors, collector{reg: reg, c: c})
	}
	return nil
}

func (m *Manager) unregisterMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.collectors {
		c.reg.Unregister(c.c)
	}
	m.collectors = nil
}
