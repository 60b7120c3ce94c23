package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ceedaragents/cyrus/internal/debounce"
)

// ReloadListener observes a successfully validated and published config
// change. Returning an error signals that the listener could not apply the
// change (e.g. it could not drain an affected session); the listener is
// then responsible for calling Manager.Rollback (spec §4.1 "Failure
// semantics").
type ReloadListener func(diff Diff, cfg *Config) error

// ErrorListener observes validation or I/O failures that did not result in
// a published change.
type ErrorListener func(err error)

// RollbackListener observes a completed rollback.
type RollbackListener func(err error, restored *Config)

// Manager owns the single authoritative in-memory Config snapshot, its
// on-disk persistence, and change propagation to listeners (spec §4.1).
type Manager struct {
	store *Store
	log   *slog.Logger

	current  atomic.Pointer[Config]
	previous atomic.Pointer[Config]

	mu      sync.Mutex // serialises writers: Update/Reload/Rollback/watch-triggered reload
	version int

	listenersMu      sync.Mutex
	reloadListeners  []ReloadListener
	errorListeners   []ErrorListener
	rollbackListeners []RollbackListener

	watcher         *fsnotify.Watcher
	debouncer       *debounce.Debouncer[struct{}]
	ignoreNextWatch atomic.Bool
}

// NewManager loads the config at path (creating nothing if absent — the
// caller seeds an initial document) and returns a Manager ready to serve
// Get(); call StartWatching separately to enable hot reload.
func NewManager(path string, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	store := NewStore(path, 20)
	cfg, err := store.Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("initial config invalid: %w", err)
	}
	m := &Manager{store: store, log: log}
	m.current.Store(cfg)
	m.previous.Store(cfg)
	return m, nil
}

// Get returns the active config by value (spec §4.1 get()). The returned
// pointer must be treated as immutable; callers that need to mutate should
// Clone it first.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Previous returns the config snapshot that was active immediately before
// the most recent publish, so a ReloadListener can compare a repository's
// prior repositoryPath/tokenMaterial against its new value (spec §3
// "mutations trigger targeted session cleanup" only drains a modified
// repository whose identity actually changed, not every edit).
func (m *Manager) Previous() *Config {
	return m.previous.Load()
}

// Subscribe registers fn to be called, in registration order, after every
// successful publish. The returned func unregisters it.
func (m *Manager) Subscribe(fn ReloadListener) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.reloadListeners = append(m.reloadListeners, fn)
	idx := len(m.reloadListeners) - 1
	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		m.reloadListeners[idx] = nil
	}
}

// OnError registers fn to be called whenever a reload or update is
// rejected.
func (m *Manager) OnError(fn ErrorListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.errorListeners = append(m.errorListeners, fn)
}

// OnRollback registers fn to be called after Rollback completes.
func (m *Manager) OnRollback(fn RollbackListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.rollbackListeners = append(m.rollbackListeners, fn)
}

func (m *Manager) emitError(err error) {
	m.log.Error("config error", "error", err)
	m.listenersMu.Lock()
	listeners := append([]ErrorListener(nil), m.errorListeners...)
	m.listenersMu.Unlock()
	for _, fn := range listeners {
		if fn != nil {
			fn(err)
		}
	}
}

func (m *Manager) emitReloaded(diff Diff, cfg *Config) {
	m.listenersMu.Lock()
	listeners := append([]ReloadListener(nil), m.reloadListeners...)
	m.listenersMu.Unlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		if err := fn(diff, cfg); err != nil {
			m.log.Warn("config listener failed to apply change; caller must roll back", "error", err)
		}
	}
}

func (m *Manager) emitRollback(err error, restored *Config) {
	m.listenersMu.Lock()
	listeners := append([]RollbackListener(nil), m.rollbackListeners...)
	m.listenersMu.Unlock()
	for _, fn := range listeners {
		if fn != nil {
			fn(err, restored)
		}
	}
}

// publish validates newCfg, diffs it against the current snapshot, swaps
// it in atomically, and notifies listeners sequentially. It must be called
// with m.mu held; the lock is released while listeners run so that a
// listener can call Rollback, and re-acquired before returning.
func (m *Manager) publish(newCfg *Config) error {
	if err := Validate(newCfg); err != nil {
		m.emitError(err)
		return err
	}
	old := m.current.Load()
	diff := ComputeDiff(old, newCfg)
	m.previous.Store(old)
	m.current.Store(newCfg)
	m.mu.Unlock()
	defer m.mu.Lock()
	m.emitReloaded(diff, newCfg)
	return nil
}

// Reload force-rereads the config from disk, validates, diffs, and
// publishes (spec §4.1 reload()). On validation failure the previously
// active config remains in place.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, err := m.store.Load()
	if err != nil {
		m.emitError(err)
		return err
	}
	return m.publish(cfg)
}

// Update merges partial into the current config, validates, persists
// atomically, and publishes (spec §4.1 update(partial)). partial's
// Repositories, when non-nil, REPLACES the repository list; to mutate one
// repository use UpdateRepository instead.
func (m *Manager) Update(partial *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := m.current.Load().Clone()
	applyPartial(merged, partial)

	if err := Validate(merged); err != nil {
		m.emitError(err)
		return err
	}

	m.version++
	if err := m.store.Save(merged, m.version); err != nil {
		return fmt.Errorf("persist config: %w", err)
	}
	m.ignoreNextWatch.Store(true)

	return m.publish(merged)
}

func applyPartial(into *Config, partial *Config) {
	if partial == nil {
		return
	}
	if partial.Repositories != nil {
		into.Repositories = append([]Repository(nil), partial.Repositories...)
	}
	if partial.NgrokAuthToken != "" {
		into.NgrokAuthToken = partial.NgrokAuthToken
	}
	if partial.StripeCustomerID != "" {
		into.StripeCustomerID = partial.StripeCustomerID
	}
	if partial.PromptDefaults != nil {
		into.PromptDefaults = cloneRuleMap(partial.PromptDefaults)
	}
	if partial.Dispatch != (DispatchConfig{}) {
		into.Dispatch = partial.Dispatch
	}
	into.IsLegacy = partial.IsLegacy || into.IsLegacy
	if len(partial.Extra) > 0 {
		if into.Extra == nil {
			into.Extra = make(map[string]json.RawMessage, len(partial.Extra))
		}
		for k, v := range partial.Extra {
			into.Extra[k] = v
		}
	}
}

// AddRepository appends repo, rejecting a duplicate id (spec §4.1
// "convenience mutators with uniqueness check").
func (m *Manager) AddRepository(repo Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.current.Load().Clone()
	if _, exists := cfg.RepositoryByID(repo.ID); exists {
		err := fmt.Errorf("repository %q already exists", repo.ID)
		m.emitError(err)
		return err
	}
	cfg.Repositories = append(cfg.Repositories, repo)
	return m.persistAndPublish(cfg)
}

// RemoveRepository deletes the repository with the given id.
func (m *Manager) RemoveRepository(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.current.Load().Clone()
	out := cfg.Repositories[:0]
	found := false
	for _, r := range cfg.Repositories {
		if r.ID == id {
			found = true
			continue
		}
		out = append(out, r)
	}
	if !found {
		err := fmt.Errorf("repository %q not found", id)
		m.emitError(err)
		return err
	}
	cfg.Repositories = out
	return m.persistAndPublish(cfg)
}

// UpdateRepository replaces the repository matching repo.ID.
func (m *Manager) UpdateRepository(repo Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.current.Load().Clone()
	idx := -1
	for i, r := range cfg.Repositories {
		if r.ID == repo.ID {
			idx = i
			break
		}
	}
	if idx == -1 {
		err := fmt.Errorf("repository %q not found", repo.ID)
		m.emitError(err)
		return err
	}
	cfg.Repositories[idx] = repo
	return m.persistAndPublish(cfg)
}

func (m *Manager) persistAndPublish(cfg *Config) error {
	if err := Validate(cfg); err != nil {
		m.emitError(err)
		return err
	}
	m.version++
	if err := m.store.Save(cfg, m.version); err != nil {
		return fmt.Errorf("persist config: %w", err)
	}
	m.ignoreNextWatch.Store(true)
	return m.publish(cfg)
}

// Rollback restores the previous in-memory config and overwrites the
// on-disk file to match, ignoring the resulting watch event (spec §4.1
// rollback(err)). Callers invoke this from a ReloadListener that could not
// apply the most recent change.
func (m *Manager) Rollback(cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	restored := m.previous.Load()
	m.current.Store(restored)

	m.version++
	if err := m.store.Save(restored, m.version); err != nil {
		return fmt.Errorf("rollback persist: %w", err)
	}
	m.ignoreNextWatch.Store(true)

	m.emitRollback(cause, restored)
	return nil
}

// StartWatching installs a debounced file watcher: changes stabilising for
// at least window (spec default 500ms) are read, parsed, validated,
// diffed, and published (spec §4.1 startWatching()). It returns once the
// watcher goroutine is running; call the returned stop func to tear it
// down.
func (m *Manager) StartWatching(ctx context.Context, window time.Duration) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(m.store.Path())
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}
	m.watcher = watcher

	m.debouncer = debounce.New(debounce.Options[struct{}]{
		Window: window,
		Key:    func(*struct{}) string { return "config" },
		OnFlush: func([]*struct{}) {
			if m.ignoreNextWatch.CompareAndSwap(true, false) {
				return
			}
			if err := m.Reload(); err != nil {
				m.log.Warn("config watch reload failed", "error", err)
			}
		},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		target := m.store.Path()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(target) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				item := struct{}{}
				m.debouncer.Enqueue(&item)
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.emitError(fmt.Errorf("config watcher: %w", watchErr))
			}
		}
	}()

	stop = func() {
		watcher.Close()
		m.debouncer.Stop()
		<-done
	}
	return stop, nil
}
