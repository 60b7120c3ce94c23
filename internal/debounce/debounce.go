// Package debounce batches items that arrive close together in time,
// flushing each key's batch once no new item has arrived for the
// configured window. It backs both the Configuration Manager's file-watch
// debounce (spec §4.1: "changes stabilising for >=500ms") and the
// Dispatcher's inbound comment burst-merge (spec §4.4).
package debounce

import (
	"sync"
	"time"
)

// buffer holds the pending items for one key and their flush timer.
type buffer[T any] struct {
	items []*T
	timer Timer
}

// Timer is the subset of *time.Timer the debouncer needs; tests can swap
// in a fake to avoid racing real wall-clock timers.
type Timer interface {
	Stop() bool
}

// TimerFactory starts a timer that calls fn after d elapses.
type TimerFactory func(d time.Duration, fn func()) Timer

func realTimer(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Debouncer batches items by key and flushes them after a quiet window.
type Debouncer[T any] struct {
	mu      sync.Mutex
	buffers map[string]*buffer[T]
	stopped bool

	window   time.Duration
	newTimer TimerFactory
	key      func(item *T) string
	onFlush  func(items []*T)
}

// Options configures a Debouncer.
type Options[T any] struct {
	Window  time.Duration
	Key     func(item *T) string
	OnFlush func(items []*T)

	// NewTimer overrides the timer implementation; defaults to a real
	// time.AfterFunc-backed timer.
	NewTimer TimerFactory
}

// New creates a Debouncer from Options, defaulting Key to a single shared
// bucket and NewTimer to real wall-clock timers.
func New[T any](opts Options[T]) *Debouncer[T] {
	d := &Debouncer[T]{
		buffers:  make(map[string]*buffer[T]),
		window:   opts.Window,
		key:      opts.Key,
		onFlush:  opts.OnFlush,
		newTimer: opts.NewTimer,
	}
	if d.key == nil {
		d.key = func(*T) string { return "default" }
	}
	if d.onFlush == nil {
		d.onFlush = func([]*T) {}
	}
	if d.newTimer == nil {
		d.newTimer = realTimer
	}
	return d
}

// Enqueue adds an item to its key's pending batch, resetting that batch's
// flush timer. If window is zero, the item is flushed immediately.
func (d *Debouncer[T]) Enqueue(item *T) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	key := d.key(item)
	if d.window <= 0 || key == "" {
		d.mu.Unlock()
		d.onFlush([]*T{item})
		return
	}

	buf, ok := d.buffers[key]
	if ok {
		buf.items = append(buf.items, item)
		buf.timer.Stop()
		buf.timer = d.newTimer(d.window, func() { d.flush(key) })
		d.mu.Unlock()
		return
	}

	buf = &buffer[T]{items: []*T{item}}
	buf.timer = d.newTimer(d.window, func() { d.flush(key) })
	d.buffers[key] = buf
	d.mu.Unlock()
}

// Flush forces an immediate flush of the given key's pending batch, if any.
func (d *Debouncer[T]) Flush(key string) {
	d.flush(key)
}

func (d *Debouncer[T]) flush(key string) {
	d.mu.Lock()
	buf, ok := d.buffers[key]
	if !ok || d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.buffers, key)
	buf.timer.Stop()
	items := buf.items
	d.mu.Unlock()

	if len(items) > 0 {
		d.onFlush(items)
	}
}

// Stop cancels all pending timers; no further flushes occur.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, buf := range d.buffers {
		buf.timer.Stop()
		delete(d.buffers, key)
	}
}

// Pending reports the number of keys with a pending, unflushed batch.
func (d *Debouncer[T]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}
