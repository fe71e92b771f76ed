// Package session keeps dry-run previews in memory between preview and
// execute. Entries are single use and expire after a TTL.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	// ErrSessionNotFound means the id was never issued, was consumed, or
	// was evicted.
	ErrSessionNotFound = eris.New("session: not found")
	// ErrSessionExpired means the id existed but outlived its TTL.
	ErrSessionExpired = eris.New("session: expired")
)

// IsSessionError reports whether err is a missing or expired session.
func IsSessionError(err error) bool {
	return eris.Is(err, ErrSessionNotFound) || eris.Is(err, ErrSessionExpired)
}

// Defaults used when Config fields are zero.
const (
	DefaultTTL         = 15 * time.Minute
	DefaultMaxSessions = 100
)

// Config tunes a Cache.
type Config struct {
	TTL         time.Duration
	MaxSessions int
	// Now overrides the clock in tests.
	Now func() time.Time
}

type entry[T any] struct {
	value     T
	createdAt time.Time
	expiresAt time.Time
}

// Cache is a TTL-bounded, size-bounded map of session id to value. All
// methods are safe for concurrent use.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	ttl     time.Duration
	max     int
	now     func() time.Time

	evicted int
	expired int
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Active  int `json:"active"`
	Evicted int `json:"evicted"`
	Expired int `json:"expired"`
}

// New creates a cache.
func New[T any](cfg Config) *Cache[T] {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache[T]{
		entries: make(map[string]*entry[T]),
		ttl:     cfg.TTL,
		max:     cfg.MaxSessions,
		now:     cfg.Now,
	}
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.New().String()
}

// TTL returns the configured time to live.
func (c *Cache[T]) TTL() time.Duration { return c.ttl }

// Put stores value under id, replacing any previous entry. When the cache
// is full the oldest entry is evicted first. It returns the expiry time.
func (c *Cache[T]) Put(id string, value T) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now)
	if _, ok := c.entries[id]; !ok && len(c.entries) >= c.max {
		c.evictOldestLocked()
	}
	e := &entry[T]{value: value, createdAt: now, expiresAt: now.Add(c.ttl)}
	c.entries[id] = e
	return e.expiresAt
}

// Get returns the value for id without consuming it.
func (c *Cache[T]) Get(id string) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.lookupLocked(id)
	if err != nil {
		var zero T
		return zero, err
	}
	return e.value, nil
}

// Consume returns the value for id and removes it. Of several concurrent
// Consume calls for the same id at most one succeeds.
func (c *Cache[T]) Consume(id string) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.lookupLocked(id)
	if err != nil {
		var zero T
		return zero, err
	}
	delete(c.entries, id)
	return e.value, nil
}

// Extend pushes an unexpired session's expiry out by one TTL from now.
func (c *Cache[T]) Extend(id string) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.lookupLocked(id)
	if err != nil {
		return time.Time{}, err
	}
	e.expiresAt = c.now().Add(c.ttl)
	return e.expiresAt, nil
}

// Len counts stored entries, including expired ones not yet swept.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache[T]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

// Stats returns counters since creation.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Active: len(c.entries), Evicted: c.evicted, Expired: c.expired}
}

// Run sweeps every interval until ctx is done.
func (c *Cache[T]) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				zap.L().Debug("session: swept expired previews", zap.Int("count", n))
			}
		}
	}
}

func (c *Cache[T]) lookupLocked(id string) (*entry[T], error) {
	e, ok := c.entries[id]
	if !ok {
		return nil, eris.Wrapf(ErrSessionNotFound, "id %s", id)
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, id)
		c.expired++
		return nil, eris.Wrapf(ErrSessionExpired, "id %s", id)
	}
	return e, nil
}

func (c *Cache[T]) sweepLocked(now time.Time) int {
	n := 0
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, id)
			n++
		}
	}
	c.expired += n
	return n
}

func (c *Cache[T]) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range c.entries {
		if oldestID == "" || e.createdAt.Before(oldest) {
			oldestID, oldest = id, e.createdAt
		}
	}
	if oldestID != "" {
		delete(c.entries, oldestID)
		c.evicted++
	}
}
