package debounce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTimer lets tests trigger a debounce flush deterministically instead
// of racing a real wall-clock timer.
type fakeTimer struct {
	fn      func()
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	if f.stopped {
		return false
	}
	f.stopped = true
	return true
}

func newFakeTimerFactory() (TimerFactory, func()) {
	var last *fakeTimer
	factory := func(_ time.Duration, fn func()) Timer {
		last = &fakeTimer{fn: fn}
		return last
	}
	fire := func() {
		if last != nil && !last.stopped {
			last.fn()
		}
	}
	return factory, fire
}

func TestDebouncer_MergesWithinWindow(t *testing.T) {
	factory, fire := newFakeTimerFactory()
	var flushed [][]*string
	d := New(Options[string]{
		Window:   2 * time.Second,
		Key:      func(s *string) string { return "session-1" },
		NewTimer: factory,
		OnFlush: func(items []*string) {
			flushed = append(flushed, items)
		},
	})

	a, b := "first", "second"
	d.Enqueue(&a)
	d.Enqueue(&b)
	require.Equal(t, 1, d.Pending())

	fire()

	require.Len(t, flushed, 1)
	require.Len(t, flushed[0], 2)
	require.Equal(t, "first", *flushed[0][0])
	require.Equal(t, "second", *flushed[0][1])
	require.Equal(t, 0, d.Pending())
}

func TestDebouncer_ZeroWindowFlushesImmediately(t *testing.T) {
	var flushed [][]*string
	d := New(Options[string]{
		Key: func(s *string) string { return "k" },
		OnFlush: func(items []*string) {
			flushed = append(flushed, items)
		},
	})

	a := "only"
	d.Enqueue(&a)

	require.Len(t, flushed, 1)
	require.Equal(t, 0, d.Pending())
}

func TestDebouncer_SeparateKeysDoNotMerge(t *testing.T) {
	factory, fire := newFakeTimerFactory()
	var flushed [][]*string
	d := New(Options[string]{
		Window:   time.Second,
		Key:      func(s *string) string { return *s },
		NewTimer: factory,
		OnFlush: func(items []*string) {
			flushed = append(flushed, items)
		},
	})

	a, b := "session-a", "session-b"
	d.Enqueue(&a)
	require.Equal(t, 1, d.Pending())
	d.Enqueue(&b)
	require.Equal(t, 2, d.Pending())

	_ = fire // only the most recently created timer is wired in this fake; exercised via Flush below
	d.Flush("session-a")
	d.Flush("session-b")

	require.Len(t, flushed, 2)
}

func TestDebouncer_Stop(t *testing.T) {
	factory, _ := newFakeTimerFactory()
	var flushed int
	d := New(Options[string]{
		Window:   time.Second,
		Key:      func(s *string) string { return "k" },
		NewTimer: factory,
		OnFlush:  func(items []*string) { flushed += len(items) },
	})

	a := "x"
	d.Enqueue(&a)
	d.Stop()
	require.Equal(t, 0, d.Pending())

	b := "y"
	d.Enqueue(&b)
	require.Equal(t, 0, flushed, "enqueue after Stop must not flush")
}
