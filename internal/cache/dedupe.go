// Package cache holds the short-lived event memory used to drop Slack event
// redeliveries.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Dedupe remembers keys for a TTL, evicting the least recently seen key once
// MaxSize is reached.
type Dedupe struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	order   *list.List // front = most recently seen
	entries map[string]*list.Element
	now     func() time.Time
}

type dedupeEntry struct {
	key  string
	seen time.Time
}

// DedupeOptions configures a Dedupe.
type DedupeOptions struct {
	// TTL is how long a key counts as seen. Zero keeps keys until evicted by size.
	TTL time.Duration
	// MaxSize bounds the number of remembered keys. Default: 1000.
	MaxSize int
}

// NewDedupe creates an empty cache.
func NewDedupe(opts DedupeOptions) *Dedupe {
	if opts.TTL < 0 {
		opts.TTL = 0
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1000
	}
	return &Dedupe{
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Seen reports whether key was recorded within the TTL and records it.
// Empty keys are never duplicates.
func (d *Dedupe) Seen(key string) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expire(now)

	if el, ok := d.entries[key]; ok {
		el.Value.(*dedupeEntry).seen = now
		d.order.MoveToFront(el)
		return true
	}

	d.entries[key] = d.order.PushFront(&dedupeEntry{key: key, seen: now})
	for d.order.Len() > d.maxSize {
		d.remove(d.order.Back())
	}
	return false
}

// Forget drops key so its next delivery is processed.
func (d *Dedupe) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.entries[key]; ok {
		d.remove(el)
	}
}

// Len returns the number of remembered keys, including expired ones not yet
// swept.
func (d *Dedupe) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

// expire removes entries older than the TTL, oldest first.
func (d *Dedupe) expire(now time.Time) {
	if d.ttl <= 0 {
		return
	}
	for el := d.order.Back(); el != nil; el = d.order.Back() {
		if now.Sub(el.Value.(*dedupeEntry).seen) < d.ttl {
			return
		}
		d.remove(el)
	}
}

func (d *Dedupe) remove(el *list.Element) {
	entry := d.order.Remove(el).(*dedupeEntry)
	delete(d.entries, entry.key)
}
