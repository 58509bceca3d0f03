package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus counters for cache observability. Not part of the functional
// contract.
var (
	hitCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "threadline",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Complete cache hits served without invoking the pipeline.",
	})
	missCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "threadline",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Cache misses, including stale and undecodable records.",
	})
)

// RegisterMetrics registers the cache counters with a Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{hitCounter, missCounter} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}

// Stats reports cache effectiveness for the current process.
type Stats struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// ResultCache serves and records fully-successful pipeline runs. Reads are
// concurrent; writes are serialized per key so two runs for the same
// script/provider/model cannot double-write and a reader never observes a
// partially-written record.
type ResultCache struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex

	statsMu sync.Mutex
	hits    int64
	misses  int64
}

// New creates a ResultCache over the given store.
func New(store Store, ttl time.Duration, logger *slog.Logger) *ResultCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultCache{
		store:    store,
		ttl:      ttl,
		logger:   logger,
		keyLocks: make(map[string]*sync.Mutex),
	}
}

// keyLock returns the per-key write mutex, creating it on first use.
func (c *ResultCache) keyLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.keyLocks[key] = lock
	}
	return lock
}

// Get returns the complete cached record for key, or (nil, false) on a
// miss. A stored record that fails to deserialize or is incomplete is an
// integrity defect: it is logged, evicted, and treated as a miss — never as
// a fatal error for the run.
func (c *ResultCache) Get(ctx context.Context, key string) (*Record, bool) {
	data, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		c.recordMiss()
		c.logger.Debug("cache miss", "key", shortKey(key))
		return nil, false
	}
	if err != nil {
		c.recordMiss()
		c.logger.Warn("cache read failed, treating as miss", "key", shortKey(key), "error", err)
		return nil, false
	}

	rec, err := unmarshalRecord(data)
	if err == nil {
		err = rec.valid(key)
	}
	if err != nil {
		// Distinct from a true miss: the record existed but cannot be
		// trusted.
		c.recordMiss()
		c.logger.Warn("cache integrity failure, evicting record",
			"key", shortKey(key), "error", err)
		if delErr := c.store.Delete(ctx, key); delErr != nil {
			c.logger.Warn("evicting bad cache record failed", "key", shortKey(key), "error", delErr)
		}
		return nil, false
	}

	c.recordHit()
	c.logger.Debug("cache hit", "key", shortKey(key), "created_at", rec.CreatedAt)
	return rec, true
}

// Put stores a record, idempotently overwriting any previous one.
// Completeness is enforced here, at write time: a record with any missing
// stage output is rejected so a later hit is always safe to return verbatim.
func (c *ResultCache) Put(ctx context.Context, rec *Record) error {
	if rec.Discover == nil || rec.Audit == nil || rec.Modify == nil {
		return fmt.Errorf("cache: refusing to store incomplete record for %s", shortKey(rec.ContentHash))
	}
	rec.Complete = true
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if c.ttl > 0 && rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = rec.CreatedAt.Add(c.ttl)
	}

	key := Key(rec.ContentHash, rec.Provider, rec.Model)
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	data, err := rec.marshal()
	if err != nil {
		return fmt.Errorf("cache: marshal record: %w", err)
	}
	if err := c.store.Put(ctx, key, data, c.ttl); err != nil {
		return err
	}
	c.logger.Info("cache store",
		"key", shortKey(key),
		"provider", rec.Provider,
		"model", rec.Model,
		"expires_at", rec.ExpiresAt)
	return nil
}

// Delete evicts the record at key.
func (c *ResultCache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Sweep removes expired records from the store.
func (c *ResultCache) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed, err := c.store.Sweep(ctx, now)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		c.logger.Info("cache sweep", "removed", removed)
	}
	return removed, nil
}

// Stats returns process-local hit/miss counts and the live entry count.
func (c *ResultCache) Stats(ctx context.Context) (Stats, error) {
	entries, err := c.store.Len(ctx)
	if err != nil {
		return Stats{}, err
	}

	c.statsMu.Lock()
	hits, misses := c.hits, c.misses
	c.statsMu.Unlock()

	s := Stats{Entries: entries, Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s, nil
}

// Close closes the underlying store.
func (c *ResultCache) Close() error {
	return c.store.Close()
}

func (c *ResultCache) recordHit() {
	c.statsMu.Lock()
	c.hits++
	c.statsMu.Unlock()
	hitCounter.Inc()
}

func (c *ResultCache) recordMiss() {
	c.statsMu.Lock()
	c.misses++
	c.statsMu.Unlock()
	missCounter.Inc()
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12] + "..."
	}
	return key
}
