package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultLocalMaxEntries bounds the number of tracked keys
	DefaultLocalMaxEntries = 10000

	localCleanupInterval = 5 * time.Minute
	localMaxIdle         = 30 * time.Minute
)

type localEntry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// LocalLimiter is an in-process token bucket per key with LRU eviction.
// RateLimiter uses it when the shared counter store is unreachable, so
// a store outage degrades to per-process limiting.
type LocalLimiter struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List
	maxEntries int
	now        func() time.Time
	logger     *slog.Logger

	evictions int64

	stopOnce sync.Once
	stop     chan struct{}
}

// NewLocalLimiter creates a limiter tracking at most maxEntries keys.
// maxEntries <= 0 selects DefaultLocalMaxEntries.
func NewLocalLimiter(maxEntries int, logger *slog.Logger) *LocalLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries <= 0 {
		maxEntries = DefaultLocalMaxEntries
	}
	l := &LocalLimiter{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
		logger:     logger,
		stop:       make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// SetClock replaces time.Now, for tests
func (l *LocalLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Allow consumes one token for key. The bucket holds limit tokens and
// refills at limit per window.
func (l *LocalLimiter) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 || window <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if elem, ok := l.entries[key]; ok {
		l.lru.MoveToFront(elem)
		entry := elem.Value.(*localEntry)
		entry.lastAccess = now
		return entry.limiter.AllowN(now, 1)
	}

	if len(l.entries) >= l.maxEntries {
		l.evictOldestLocked()
	}

	every := rate.Every(window / time.Duration(limit))
	entry := &localEntry{
		key:        key,
		limiter:    rate.NewLimiter(every, limit),
		lastAccess: now,
	}
	l.entries[key] = l.lru.PushFront(entry)
	return entry.limiter.AllowN(now, 1)
}

// Reset forgets the bucket for key
func (l *LocalLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if elem, ok := l.entries[key]; ok {
		l.lru.Remove(elem)
		delete(l.entries, key)
	}
}

// Len returns the number of tracked keys
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Evictions returns how many keys were dropped to stay under the bound
func (l *LocalLimiter) Evictions() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evictions
}

func (l *LocalLimiter) evictOldestLocked() {
	elem := l.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*localEntry)
	delete(l.entries, entry.key)
	l.lru.Remove(elem)
	l.evictions++

	l.logger.Debug("Local rate limiter eviction",
		"current_entries", len(l.entries),
		"total_evictions", l.evictions)
}

// Cleanup drops keys idle for longer than maxIdle
func (l *LocalLimiter) Cleanup(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for elem := l.lru.Back(); elem != nil; {
		entry := elem.Value.(*localEntry)
		if now.Sub(entry.lastAccess) <= maxIdle {
			// list is ordered by access time
			break
		}
		prev := elem.Prev()
		delete(l.entries, entry.key)
		l.lru.Remove(elem)
		removed++
		elem = prev
	}
	return removed
}

func (l *LocalLimiter) cleanupLoop() {
	ticker := time.NewTicker(localCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.Cleanup(localMaxIdle); n > 0 {
				l.logger.Debug("Local rate limiter cleanup", "removed", n)
			}
		case <-l.stop:
			return
		}
	}
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (l *LocalLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
