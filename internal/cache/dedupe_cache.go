package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"

	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	"gitlab.com/leadops/api/funnel-events-processor/internal/observer"
)

// DedupeCache fronts the journal's duplicate-delivery lookup with a bloom
// filter. A negative answer is definite and skips the journal query entirely;
// a positive answer is only probable and the caller confirms against the
// journal before treating the delivery as a duplicate.
type DedupeCache struct {
	seenFilter     *bloom.BloomFilter
	mu             sync.RWMutex
	hits           atomic.Int64
	misses         atomic.Int64
	falsePositives atomic.Int64
	tenantID       string
}

// DedupeStatus is the cache check result.
type DedupeStatus int

const (
	StatusUnseen DedupeStatus = iota
	StatusMaybeSeen
)

// NewDedupeCache creates a dedupe cache sized for the expected number of
// distinct deliveries per process lifetime.
func NewDedupeCache(tenantID string, expectedEvents uint, fpRate float64) *DedupeCache {
	return &DedupeCache{
		seenFilter: bloom.NewWithEstimates(expectedEvents, fpRate),
		tenantID:   tenantID,
	}
}

// eventKey hashes source and source event id into a compact filter key.
func (c *DedupeCache) eventKey(source model.Source, sourceEventID string) string {
	h := fnv.New64a()
	h.Write([]byte(string(source) + ":" + sourceEventID))
	return fmt.Sprintf("%x", h.Sum64())
}

// Check reports whether a delivery might have been seen before. Events without
// a source event id cannot be deduplicated and always report unseen.
func (c *DedupeCache) Check(source model.Source, sourceEventID string) DedupeStatus {
	if sourceEventID == "" {
		return StatusUnseen
	}
	key := c.eventKey(source, sourceEventID)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.seenFilter.TestString(key) {
		c.hits.Add(1)
		observer.IncCacheCheck(c.tenantID, "bloom_seen", "possible_hit")
		return StatusMaybeSeen
	}

	c.misses.Add(1)
	observer.IncCacheCheck(c.tenantID, "bloom_seen", "miss")
	return StatusUnseen
}

// MarkSeen records a delivery after it has been journaled.
func (c *DedupeCache) MarkSeen(source model.Source, sourceEventID string) {
	if sourceEventID == "" {
		return
	}
	key := c.eventKey(source, sourceEventID)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seenFilter.AddString(key)
}

// RecordFalsePositive tracks a probable hit the journal could not confirm.
func (c *DedupeCache) RecordFalsePositive() {
	c.falsePositives.Add(1)
	observer.IncCacheCheck(c.tenantID, "bloom_seen", "false_positive")
}

// GetStats returns cache statistics for the stats endpoint.
func (c *DedupeCache) GetStats() DedupeCacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	fps := c.falsePositives.Load()
	total := hits + misses

	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	fpRate := float64(0)
	if total > 0 {
		fpRate = float64(fps) / float64(total)
	}

	c.mu.RLock()
	seenSize := c.seenFilter.ApproximatedSize()
	c.mu.RUnlock()

	return DedupeCacheStats{
		Hits:              hits,
		Misses:            misses,
		HitRate:           hitRate,
		FalsePositives:    fps,
		FalsePositiveRate: fpRate,
		SeenSize:          seenSize,
	}
}

type DedupeCacheStats struct {
	Hits              int64
	Misses            int64
	HitRate           float64
	FalsePositives    int64
	FalsePositiveRate float64
	SeenSize          uint32
}
