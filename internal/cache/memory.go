package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// SweepInterval is how often a MemoryCache drops expired entries. Reads
// never return an expired entry, sweeping only reclaims the memory.
const SweepInterval = time.Minute

// MemoryCache shares state between the browsing contexts of one process.
// Values are copied on the way in and out, so a caller mutating a slice
// never changes what another context reads.
type MemoryCache struct {
	clock clockwork.Clock

	mu      sync.RWMutex
	entries map[string]entry

	stop     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	value    []byte
	deadline time.Time
}

func (e entry) liveAt(now time.Time) bool {
	return e.deadline.IsZero() || !now.After(e.deadline)
}

func NewMemoryCache() *MemoryCache {
	return newMemoryCache(clockwork.NewRealClock())
}

func newMemoryCache(clock clockwork.Clock) *MemoryCache {
	mc := &MemoryCache{
		clock:   clock,
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
	}
	go mc.sweepLoop()
	return mc
}

func (mc *MemoryCache) lookup(key string) (entry, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	e, ok := mc.entries[key]
	if !ok || !e.liveAt(mc.clock.Now()) {
		return entry{}, false
	}
	return e, true
}

func (mc *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := mc.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (mc *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.deadline = mc.clock.Now().Add(ttl)
	}

	mc.mu.Lock()
	mc.entries[key] = e
	mc.mu.Unlock()
	return nil
}

func (mc *MemoryCache) Delete(_ context.Context, key string) error {
	mc.mu.Lock()
	delete(mc.entries, key)
	mc.mu.Unlock()
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	_, ok := mc.lookup(key)
	return ok, nil
}

// Close stops the sweeper. It is safe to call more than once.
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stop) })
	return nil
}

func (mc *MemoryCache) sweepLoop() {
	ticker := mc.clock.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			mc.sweep()
		case <-mc.stop:
			return
		}
	}
}

// sweep drops expired entries and reports how many it removed.
func (mc *MemoryCache) sweep() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.clock.Now()
	removed := 0
	for key, e := range mc.entries {
		if !e.liveAt(now) {
			delete(mc.entries, key)
			removed++
		}
	}
	return removed
}
