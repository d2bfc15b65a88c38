// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

// Package occupancy is the device-side optimistic table cache. Local writes
// are visible to the UI immediately; server polls reconcile against them
// under an anti-flicker rule so a stale poll cannot flip a just-changed
// table back.
package occupancy

import (
	"sync"
	"time"

	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/models"
)

// DefaultAntiFlickerTTL is the grace window during which a local write wins
// over a conflicting poll result. Long enough to cover a write's round trip
// plus one poll cycle; short enough that real remote changes land quickly.
const DefaultAntiFlickerTTL = 4 * time.Second

type tableEntry struct {
	open         bool
	lastLocalSet time.Time
}

// Cache tracks which tables the device believes are open.
type Cache struct {
	mu      sync.RWMutex
	entries map[models.TableKey]*tableEntry
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache with the given anti-flicker TTL; zero or negative
// falls back to the default.
func New(ttl time.Duration) *Cache {
	return NewWithClock(ttl, time.Now)
}

// NewWithClock creates a cache with an injectable clock for tests.
func NewWithClock(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultAntiFlickerTTL
	}
	return &Cache{
		entries: make(map[models.TableKey]*tableEntry),
		ttl:     ttl,
		now:     now,
	}
}

// IsOpen reports the cached state of a table. Unknown tables are closed.
func (c *Cache) IsOpen(area, label string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[models.TableKey{Area: area, Label: label}]
	return ok && e.open
}

// SetOpen records a local state change and stamps the write time. The
// change is immediately visible to IsOpen.
func (c *Cache) SetOpen(area, label string, open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := models.TableKey{Area: area, Label: label}
	e, ok := c.entries[key]
	if !ok {
		e = &tableEntry{}
		c.entries[key] = e
	}
	e.open = open
	e.lastLocalSet = c.now()
}

// OpenTables returns the keys of all tables the cache holds open.
func (c *Cache) OpenTables() []models.TableKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.TableKey, 0, len(c.entries))
	for key, e := range c.entries {
		if e.open {
			out = append(out, key)
		}
	}
	return out
}

// Reconcile applies a server poll result. A poll that disagrees with a
// local write is applied only once the anti-flicker TTL has elapsed since
// that write. This keeps a just-closed table from flipping back open off a
// stale poll, and a just-opened one from flickering closed before the
// server write propagated. Polls that agree with local state, and tables
// the device has never touched, apply immediately.
func (c *Cache) Reconcile(serverOpen []models.TableKey) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	open := make(map[models.TableKey]bool, len(serverOpen))
	for _, key := range serverOpen {
		open[key] = true
	}

	for key := range open {
		e, ok := c.entries[key]
		if !ok {
			c.entries[key] = &tableEntry{open: true}
			continue
		}
		if !e.open && now.Sub(e.lastLocalSet) < c.ttl {
			// Locally closed moments ago; the poll predates the close.
			continue
		}
		e.open = true
	}

	for key, e := range c.entries {
		if open[key] || !e.open {
			continue
		}
		if now.Sub(e.lastLocalSet) < c.ttl {
			logging.Debug().
				Str("table", key.String()).
				Msg("anti-flicker hold, keeping local open state")
			continue
		}
		e.open = false
	}
}
