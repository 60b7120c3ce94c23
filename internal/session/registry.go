package session

import (
	"log/slog"
	"sync"
	"time"
)

// Registry is the process-wide table of live and recently-finished
// sessions, grounded on nexus/internal/shell/process_registry.go's
// ProcessRegistry: a map of running sessions, a bounded map of finished
// ones kept around for a TTL so a late-arriving webhook can still find
// where a conversation landed, and an RWMutex guarding both.
type Registry struct {
	log *slog.Logger

	mu       sync.RWMutex
	running  map[Key]*Session
	finished map[Key]*finishedEntry

	finishedTTL time.Duration

	sweeperStop chan struct{}
	sweeperDone chan struct{}
}

type finishedEntry struct {
	session   *Session
	finishAt  time.Time
}

const defaultFinishedTTL = 30 * time.Minute

// NewRegistry constructs an empty Registry. finishedTTL <= 0 uses the
// default retention window (spec §3 doesn't mandate a number; this keeps
// enough history for a late webhook reply to still resolve its session
// without holding finished sessions forever).
func NewRegistry(finishedTTL time.Duration, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if finishedTTL <= 0 {
		finishedTTL = defaultFinishedTTL
	}
	return &Registry{
		log:         log,
		running:     make(map[Key]*Session),
		finished:    make(map[Key]*finishedEntry),
		finishedTTL: finishedTTL,
	}
}

// GetOrCreate returns the existing session for key, or constructs and
// registers a new one via newFn (spec §4.3 "locate an existing session for
// (repository, issue, thread) or create one" — at most one live runner per
// key at any time).
func (reg *Registry) GetOrCreate(key Key, newFn func() *Session) (s *Session, created bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if s, ok := reg.running[key]; ok {
		return s, false
	}
	s = newFn()
	s.Key = key
	reg.running[key] = s
	return s, true
}

// Get looks up a session by key among running sessions only.
func (reg *Registry) Get(key Key) (*Session, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	s, ok := reg.running[key]
	return s, ok
}

// GetFinished looks up a session that has already reached a terminal state
// but is still within the retention window, used to render a "this
// conversation already ended" reply instead of silently dropping a
// late event.
func (reg *Registry) GetFinished(key Key) (*Session, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	entry, ok := reg.finished[key]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

// Finish moves a session from running to finished once its runner reaches
// a terminal state (spec §4.5 "completed/failed/stopped").
func (reg *Registry) Finish(key Key, now time.Time) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	s, ok := reg.running[key]
	if !ok {
		return
	}
	delete(reg.running, key)
	reg.finished[key] = &finishedEntry{session: s, finishAt: now}
}

// Remove drops a session entirely (running or finished), used when a
// workspace is torn down and its session record should no longer be
// addressable.
func (reg *Registry) Remove(key Key) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.running, key)
	delete(reg.finished, key)
}

// Len reports the number of currently running sessions.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.running)
}

// ListRunning returns a snapshot of all running sessions, used by the
// dispatcher's DrainRepository and the admin sessions endpoint.
func (reg *Registry) ListRunning() []*Session {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Session, 0, len(reg.running))
	for _, s := range reg.running {
		out = append(out, s)
	}
	return out
}

// StartSweeper launches a background goroutine that evicts finished
// sessions older than finishedTTL, mirroring the teacher registry's
// job-TTL sweeper. Call StopSweeper to stop it.
func (reg *Registry) StartSweeper(interval time.Duration) {
	reg.mu.Lock()
	if reg.sweeperStop != nil {
		reg.mu.Unlock()
		return
	}
	reg.sweeperStop = make(chan struct{})
	reg.sweeperDone = make(chan struct{})
	stop := reg.sweeperStop
	done := reg.sweeperDone
	reg.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				reg.evictExpired(now)
			}
		}
	}()
}

// StopSweeper halts the eviction goroutine started by StartSweeper,
// blocking until it has exited.
func (reg *Registry) StopSweeper() {
	reg.mu.Lock()
	stop := reg.sweeperStop
	done := reg.sweeperDone
	reg.sweeperStop = nil
	reg.sweeperDone = nil
	reg.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (reg *Registry) evictExpired(now time.Time) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for key, entry := range reg.finished {
		if now.Sub(entry.finishAt) >= reg.finishedTTL {
			delete(reg.finished, key)
			reg.log.Debug("evicted finished session", "session_id", entry.session.SessionID, "key", key)
		}
	}
}
