package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// Mirror is one browsing context's view of the shared store. Reads and
// writes hit a local copy; Flush publishes pending writes and Sync pulls
// whatever other contexts have published since. Between the two the local
// copy can be stale, and nothing here is atomic across contexts.
type Mirror struct {
	backend Cache
	prefix  string

	mu    sync.RWMutex
	local map[string][]byte
	dirty map[string]struct{}
	keys  map[string]struct{}
}

// NewMirror returns a mirror over backend. keys are the entries Sync pulls
// in addition to any key the mirror has touched.
func NewMirror(backend Cache, prefix string, keys ...string) *Mirror {
	m := &Mirror{
		backend: backend,
		prefix:  prefix,
		local:   make(map[string][]byte),
		dirty:   make(map[string]struct{}),
		keys:    make(map[string]struct{}),
	}
	for _, k := range keys {
		m.keys[k] = struct{}{}
	}
	return m
}

// Track adds keys to the set pulled by Sync.
func (m *Mirror) Track(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.keys[k] = struct{}{}
	}
}

func (m *Mirror) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.local[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

func (m *Mirror) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	m.local[key] = v
	m.dirty[key] = struct{}{}
	m.keys[key] = struct{}{}
}

// Remember stores value locally without scheduling a write. The next Sync
// replaces or drops it, so it suits values derived from other entries.
func (m *Mirror) Remember(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	m.local[key] = v
	m.keys[key] = struct{}{}
}

func (m *Mirror) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.local, key)
	m.dirty[key] = struct{}{}
	m.keys[key] = struct{}{}
}

func (m *Mirror) String(key string) string {
	v, _ := m.Get(key)
	return string(v)
}

func (m *Mirror) SetString(key, value string) {
	m.Set(key, []byte(value))
}

// Bool reports whether key holds a true value. Missing or unparsable
// entries read as false.
func (m *Mirror) Bool(key string) bool {
	v, ok := m.Get(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(string(v))
	return err == nil && b
}

func (m *Mirror) SetBool(key string, value bool) {
	m.Set(key, []byte(strconv.FormatBool(value)))
}

// Flush publishes every pending write to the backend. Entries that fail
// stay pending and are retried by the next Flush.
func (m *Mirror) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for key := range m.dirty {
		var err error
		if v, ok := m.local[key]; ok {
			err = m.backend.Set(ctx, m.prefix+key, v, 0)
		} else {
			err = m.backend.Delete(ctx, m.prefix+key)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", key, err))
			continue
		}
		delete(m.dirty, key)
	}
	return errors.Join(errs...)
}

// Sync pulls every tracked key from the backend. Keys with unflushed local
// writes keep the local value.
func (m *Mirror) Sync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for key := range m.keys {
		if _, pending := m.dirty[key]; pending {
			continue
		}
		v, err := m.backend.Get(ctx, m.prefix+key)
		switch {
		case errors.Is(err, ErrNotFound):
			delete(m.local, key)
		case err != nil:
			errs = append(errs, fmt.Errorf("sync %s: %w", key, err))
		default:
			m.local[key] = v
		}
	}
	return errors.Join(errs...)
}
