package mxresolve

import (
	"sync"
	"time"

	"github.com/ignite/leadprobe/internal/domain"
)

// BehaviorSink is the explicit interface between the SMTP Prober and the
// MX behavior cache. BehaviorCache is the only implementation today.
type BehaviorSink interface {
	Record(host string, latency time.Duration, code int, category, errStr string)
	Get(host string) domain.MXBehavior
}

// BehaviorCache tracks a rolling per-MX-host behavior snapshot in
// memory. Updates are last-writer-wins; small drift across workers is
// acceptable.
type BehaviorCache struct {
	mu    sync.Mutex
	hosts map[string]*domain.MXBehavior
}

// NewBehaviorCache creates an empty cache.
func NewBehaviorCache() *BehaviorCache {
	return &BehaviorCache{hosts: make(map[string]*domain.MXBehavior)}
}

// Record folds a new probe outcome into the host's running average
// latency and last-seen code/category/error.
func (c *BehaviorCache) Record(host string, latency time.Duration, code int, category, errStr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.hosts[host]
	if !ok {
		b = &domain.MXBehavior{Host: host}
		c.hosts[host] = b
	}

	latencyMS := float64(latency.Milliseconds())
	if b.ProbeCount == 0 {
		b.AvgLatencyMS = latencyMS
	} else {
		// Simple exponential moving average, weight toward recent probes.
		b.AvgLatencyMS = b.AvgLatencyMS*0.7 + latencyMS*0.3
	}
	b.LastCode = code
	b.LastCategory = category
	b.LastError = errStr
	b.ProbeCount++
}

// Get returns a copy of the current snapshot for host; a zero-value
// MXBehavior indicates no prior probes.
func (c *BehaviorCache) Get(host string) domain.MXBehavior {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.hosts[host]; ok {
		return *b
	}
	return domain.MXBehavior{Host: host}
}

// Snapshot returns the current behavior records for the given hosts, used
// to populate a DomainResolution row at resolve time.
func (c *BehaviorCache) Snapshot(hosts []string) []domain.MXBehavior {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.MXBehavior, 0, len(hosts))
	for _, h := range hosts {
		if b, ok := c.hosts[h]; ok {
			out = append(out, *b)
		}
	}
	return out
}
