package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/kailera/acertaia-api/internal/observer"
)

// SeenStatus is the answer of a seen-message check.
type SeenStatus int

const (
	// StatusNotSeen means the key was definitely never marked since the last reset.
	StatusNotSeen SeenStatus = iota
	// StatusMaybeSeen means the key was probably marked; confirm against storage.
	StatusMaybeSeen
)

// SeenMessageCache is a bloom filter of (instance, messageId) pairs already
// ingested. It never answers "seen" for sure, only "definitely not seen", so
// callers can skip the read half of read-before-write for fresh messages.
type SeenMessageCache struct {
	filter         *bloom.BloomFilter
	expectedItems  uint
	fpRate         float64
	resetInterval  time.Duration
	lastReset      time.Time
	mu             sync.RWMutex
	hits           atomic.Int64
	misses         atomic.Int64
	falsePositives atomic.Int64
	now            func() time.Time
}

// NewSeenMessageCache creates a filter sized for expectedItems. A positive
// resetInterval clears the filter periodically to keep the false positive
// rate near fpRate on long running processes.
func NewSeenMessageCache(expectedItems uint, fpRate float64, resetInterval time.Duration) *SeenMessageCache {
	if expectedItems == 0 {
		expectedItems = 100000
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.001
	}
	c := &SeenMessageCache{
		filter:        bloom.NewWithEstimates(expectedItems, fpRate),
		expectedItems: expectedItems,
		fpRate:        fpRate,
		resetInterval: resetInterval,
		now:           time.Now,
	}
	c.lastReset = c.now()
	return c
}

// generateKey creates a cache key from instance and message id using FNV-1a hash
func (c *SeenMessageCache) generateKey(instance, messageID string) string {
	h := fnv.New64a()
	h.Write([]byte(instance + ":" + messageID))
	return fmt.Sprintf("%x", h.Sum64())
}

// Check reports whether the message may have been ingested before.
func (c *SeenMessageCache) Check(instance, messageID string) SeenStatus {
	c.maybeReset()
	key := c.generateKey(instance, messageID)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.filter.TestString(key) {
		c.hits.Add(1)
		observer.IncSeenCacheCheck("possible_hit")
		return StatusMaybeSeen
	}

	c.misses.Add(1)
	observer.IncSeenCacheCheck("miss")
	return StatusNotSeen
}

// MarkSeen records a message as ingested.
func (c *SeenMessageCache) MarkSeen(instance, messageID string) {
	key := c.generateKey(instance, messageID)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.filter.AddString(key)
}

// RecordFalsePositive tracks a possible hit that storage did not confirm.
func (c *SeenMessageCache) RecordFalsePositive() {
	c.falsePositives.Add(1)
	observer.IncSeenCacheCheck("false_positive")
}

// Reset clears the filter.
func (c *SeenMessageCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.filter = bloom.NewWithEstimates(c.expectedItems, c.fpRate)
	c.lastReset = c.now()
}

func (c *SeenMessageCache) maybeReset() {
	if c.resetInterval <= 0 {
		return
	}
	c.mu.RLock()
	due := c.now().Sub(c.lastReset) >= c.resetInterval
	c.mu.RUnlock()
	if due {
		c.Reset()
	}
}

// GetStats returns cache statistics
func (c *SeenMessageCache) GetStats() SeenMessageCacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	fps := c.falsePositives.Load()
	total := hits + misses

	hitRate := float64(0)
	fpRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
		fpRate = float64(fps) / float64(total)
	}

	c.mu.RLock()
	size := c.filter.ApproximatedSize()
	c.mu.RUnlock()

	return SeenMessageCacheStats{
		Hits:              hits,
		Misses:            misses,
		HitRate:           hitRate,
		FalsePositives:    fps,
		FalsePositiveRate: fpRate,
		ApproximateSize:   uint64(size),
	}
}

type SeenMessageCacheStats struct {
	Hits              int64
	Misses            int64
	HitRate           float64
	FalsePositives    int64
	FalsePositiveRate float64
	ApproximateSize   uint64
}
