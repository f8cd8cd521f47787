// Package cache holds the most recent combined rule of a session.
package cache

import (
	"sync"

	"github.com/TimurManjosov/rulekit/internal/rules"
)

// Combined holds at most one combined AST. It never combines on demand:
// an empty cache is reported as such and the caller decides what to do.
// Thread-safe for concurrent access.
type Combined struct {
	mu      sync.RWMutex
	entry   *rules.Combined
	lastSeq uint64
}

// New creates an empty cache.
func New() *Combined {
	return &Combined{}
}

// SetIfNewer stores entry only if its sequence number is above every sequence
// number stored or discarded so far. It reports whether entry was stored.
// This lets the logically-last combine request win even when responses
// arrive out of order.
func (c *Combined) SetIfNewer(entry rules.Combined) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.Seq <= c.lastSeq {
		return false
	}
	e := entry
	c.entry = &e
	c.lastSeq = entry.Seq
	return true
}

// Get returns the cached entry, or false if the cache is empty.
func (c *Combined) Get() (rules.Combined, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil {
		return rules.Combined{}, false
	}
	return *c.entry, true
}

// Fresh returns the cached entry only if it was derived from rule-set version.
// The second result reports whether an entry exists at all, so callers can
// tell "never combined" from "combined but stale".
func (c *Combined) Fresh(version uint64) (entry rules.Combined, present, fresh bool) {
	entry, present = c.Get()
	return entry, present, present && entry.RulesVersion == version
}

// Clear empties the cache. The sequence high-water mark is kept so a
// response to a request issued before Clear cannot resurrect an old entry.
func (c *Combined) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}

// Discard drops every response whose sequence number is not above seq.
// Used after Clear so in-flight combines issued before it are ignored.
func (c *Combined) Discard(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.lastSeq {
		c.lastSeq = seq
	}
}
