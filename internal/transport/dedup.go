package transport

import (
	"sync"
	"time"
)

// Dedup tracks (transportKind, envelopeId) pairs over a sliding window so
// upstream webhook retries do not produce duplicate InboundEvents (spec
// §4.2 "Dedup"). Safe for concurrent use.
type Dedup struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewDedup creates a Dedup with the given sliding window (spec default
// ≥5 minutes).
func NewDedup(window time.Duration) *Dedup {
	return &Dedup{window: window, now: time.Now, seen: make(map[string]time.Time)}
}

// Seen reports whether (kind, envelopeID) was already observed within the
// window, recording it as seen as a side effect regardless of the result —
// a single call both checks and marks, matching the idiom "claim this key
// if unclaimed".
func (d *Dedup) Seen(kind, envelopeID string) bool {
	key := kind + "\x00" + envelopeID
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictLocked(now)
	if seenAt, ok := d.seen[key]; ok && now.Sub(seenAt) <= d.window {
		return true
	}
	d.seen[key] = now
	return false
}

func (d *Dedup) evictLocked(now time.Time) {
	for k, t := range d.seen {
		if now.Sub(t) > d.window {
			delete(d.seen, k)
		}
	}
}
