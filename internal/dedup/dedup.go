// Package dedup tracks recently processed message ids so webhook
// redeliveries never produce a second reply.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTTL is how long a processed message id is remembered.
const DefaultTTL = time.Hour

// DefaultSweepInterval is how often expired entries are evicted.
const DefaultSweepInterval = 30 * time.Minute

// Map is an in-memory TTL set of processed message ids. Entries are not
// evicted on read; only the periodic sweep removes them, so a duplicate
// arriving just past its TTL but before the next sweep is still caught.
type Map struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
}

func NewMap(ttl time.Duration) *Map {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Map{
		entries: make(map[string]time.Time),
		ttl:     ttl,
	}
}

// CheckAndInsert records id as processed and reports whether it was new.
// The check and insert are one atomic step so two concurrent deliveries
// of the same id can never both see it as new.
func (m *Map) CheckAndInsert(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.entries[id]; seen {
		return false
	}
	m.entries[id] = time.Now()
	return true
}

// Contains reports whether id is currently tracked.
func (m *Map) Contains(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, seen := m.entries[id]
	return seen
}

// Len returns the number of tracked ids.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep removes entries older than the TTL relative to now and returns
// how many were evicted.
func (m *Map) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, insertedAt := range m.entries {
		if now.Sub(insertedAt) > m.ttl {
			delete(m.entries, id)
			evicted++
		}
	}
	return evicted
}

// Start runs the periodic sweep until ctx is cancelled.
func (m *Map) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.Info().Dur("interval", interval).Dur("ttl", m.ttl).Msg("Dedup sweep started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Dedup sweep stopped")
				return
			case now := <-ticker.C:
				if evicted := m.Sweep(now); evicted > 0 {
					log.Debug().Int("evicted", evicted).Int("remaining", m.Len()).Msg("Dedup sweep evicted expired entries")
				}
			}
		}
	}()
}
