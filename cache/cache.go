// Package cache holds vulnerability lookups keyed by purl for the lifetime of the process and
// refills missing keys from a backend in concurrent chunks.
package cache

import (
	"sync"

	"github.com/ortelius/vulnlsp/metrics"
	"github.com/ortelius/vulnlsp/model"
)

// Vulnerabilities is a concurrent purl -> VulnerabilityVersionInfo store with no eviction
type Vulnerabilities struct {
	mu      sync.RWMutex
	entries map[model.Purl]model.VulnerabilityVersionInfo
	metrics *metrics.Metrics
}

// New creates an empty cache
func New(m *metrics.Metrics) *Vulnerabilities {
	return &Vulnerabilities{
		entries: make(map[model.Purl]model.VulnerabilityVersionInfo),
		metrics: m,
	}
}

// Missing returns the distinct keys not present, in request order
func (c *Vulnerabilities) Missing(keys []model.Purl) []model.Purl {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[model.Purl]bool, len(keys))
	var missing []model.Purl
	hits := 0

	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true

		if _, ok := c.entries[key]; ok {
			hits++
			continue
		}
		missing = append(missing, key)
	}

	c.metrics.CacheResult(hits, len(missing))
	return missing
}

// GetMany returns the present subset of keys
func (c *Vulnerabilities) GetMany(keys []model.Purl) map[model.Purl]model.VulnerabilityVersionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	found := make(map[model.Purl]model.VulnerabilityVersionInfo, len(keys))
	for _, key := range keys {
		if info, ok := c.entries[key]; ok {
			found[key] = info
		}
	}
	return found
}

// Get returns a single entry
func (c *Vulnerabilities) Get(key model.Purl) (model.VulnerabilityVersionInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, ok := c.entries[key]
	return info, ok
}

// PutMany inserts or overwrites entries by purl
func (c *Vulnerabilities) PutMany(values []model.VulnerabilityVersionInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, v := range values {
		c.entries[v.Purl] = v
	}
}

// Len returns the number of cached purls
func (c *Vulnerabilities) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
