package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ceedaragents/cyrus/internal/config"
	"github.com/ceedaragents/cyrus/internal/formatter"
	"github.com/ceedaragents/cyrus/internal/router"
	"github.com/ceedaragents/cyrus/internal/runner"
	"github.com/ceedaragents/cyrus/internal/session"
	"github.com/ceedaragents/cyrus/internal/sink"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

type fakeAdapter struct {
	mu        sync.Mutex
	out       chan activity.AgentMessage
	streaming bool
	added     []string
	stopped   bool
}

func newFakeAdapter(streaming bool) *fakeAdapter {
	return &fakeAdapter{out: make(chan activity.AgentMessage, 16), streaming: streaming}
}

func (f *fakeAdapter) Start(ctx context.Context, cwd, prompt string) (<-chan activity.AgentMessage, error) {
	return f.out, nil
}
func (f *fakeAdapter) AddStreamMessage(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, text)
	return nil
}
func (f *fakeAdapter) SupportsStreamingInput() bool { return f.streaming }
func (f *fakeAdapter) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return nil
	}
	f.stopped = true
	close(f.out)
	return nil
}
func (f *fakeAdapter) Kill() error { return nil }
func (f *fakeAdapter) Formatter() formatter.Formatter { return stubFormatter{} }

func (f *fakeAdapter) finish(success bool) {
	role := activity.RoleResultOK
	if !success {
		role = activity.RoleResultError
	}
	f.out <- activity.AgentMessage{Role: role, Result: &activity.ResultMessage{Success: success}}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.out)
	}
}

type fakeSurface struct {
	mu     sync.Mutex
	posted []activity.Activity
}

func (s *fakeSurface) Post(ctx context.Context, a activity.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posted = append(s.posted, a)
	return nil
}

func (s *fakeSurface) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posted)
}

type fakeLauncher struct {
	mu       sync.Mutex
	adapters []*fakeAdapter
	surfaces []*fakeSurface
	streaming bool
}

func (l *fakeLauncher) NewAdapter(decision router.Decision) (runner.Adapter, error) {
	a := newFakeAdapter(l.streaming)
	l.mu.Lock()
	l.adapters = append(l.adapters, a)
	l.mu.Unlock()
	return a, nil
}

func (l *fakeLauncher) NewSurface(decision router.Decision, evt activity.InboundEvent) (sink.Surface, error) {
	s := &fakeSurface{}
	l.mu.Lock()
	l.surfaces = append(l.surfaces, s)
	l.mu.Unlock()
	return s, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Dispatch: config.DispatchConfig{DefaultRepositoryCap: 1, DebounceWindowSeconds: 0},
		Repositories: []config.Repository{
			{ID: "repo-a", RepositoryPath: "/work/repo-a", TeamKeys: []string{"ENG"}, IsActive: true},
		},
	}
}

func newTestEvent(issueID string) activity.InboundEvent {
	return activity.InboundEvent{
		TransportKind: activity.TransportTracker,
		Kind:          activity.EventNewThread,
		Content:       "please fix this",
		IssueRefs:     &activity.IssueRefs{IssueID: issueID, TeamKey: "ENG"},
	}
}

func TestDispatcher_CreateSessionLaunchesAndRegisters(t *testing.T) {
	cfg := testConfig()
	reg := session.NewRegistry(time.Minute, nil)
	lnc := &fakeLauncher{streaming: true}
	d := New(cfg, router.New(cfg), reg, lnc, nil)

	require.NoError(t, d.Dispatch(context.Background(), newTestEvent("ENG-1")))

	key := session.Key{RepositoryID: "repo-a", IssueID: "ENG-1"}
	require.Eventually(t, func() bool {
		_, ok := reg.Get(key)
		return ok
	}, time.Second, time.Millisecond)
}

func TestDispatcher_RepoCapQueuesSecondSessionUntilFirstFinishes(t *testing.T) {
	cfg := testConfig()
	reg := session.NewRegistry(time.Minute, nil)
	lnc := &fakeLauncher{streaming: true}
	d := New(cfg, router.New(cfg), reg, lnc, nil)

	require.NoError(t, d.Dispatch(context.Background(), newTestEvent("ENG-1")))
	require.NoError(t, d.Dispatch(context.Background(), newTestEvent("ENG-2")))

	require.Eventually(t, func() bool { return len(lnc.adapters) == 1 }, time.Second, time.Millisecond)

	lnc.mu.Lock()
	first := lnc.adapters[0]
	lnc.mu.Unlock()
	first.finish(true)

	require.Eventually(t, func() bool {
		lnc.mu.Lock()
		defer lnc.mu.Unlock()
		return len(lnc.adapters) == 2
	}, time.Second, time.Millisecond)
}

func TestDispatcher_PromptExistingForwardsToStreamingRunner(t *testing.T) {
	cfg := testConfig()
	reg := session.NewRegistry(time.Minute, nil)
	lnc := &fakeLauncher{streaming: true}
	d := New(cfg, router.New(cfg), reg, lnc, nil)

	require.NoError(t, d.Dispatch(context.Background(), newTestEvent("ENG-1")))
	require.Eventually(t, func() bool { return len(lnc.adapters) == 1 }, time.Second, time.Millisecond)

	replyEvt := newTestEvent("ENG-1")
	replyEvt.Kind = activity.EventReply
	replyEvt.Content = "here's more context"
	require.NoError(t, d.Dispatch(context.Background(), replyEvt))

	lnc.mu.Lock()
	adapter := lnc.adapters[0]
	lnc.mu.Unlock()

	require.Eventually(t, func() bool {
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		return len(adapter.added) == 1
	}, time.Second, time.Millisecond)
}

func TestDispatcher_StopSessionStopsRunnerAndDropsQueuedPrompts(t *testing.T) {
	cfg := testConfig()
	reg := session.NewRegistry(time.Minute, nil)
	lnc := &fakeLauncher{streaming: false}
	d := New(cfg, router.New(cfg), reg, lnc, nil)

	require.NoError(t, d.Dispatch(context.Background(), newTestEvent("ENG-1")))
	require.Eventually(t, func() bool { return len(lnc.adapters) == 1 }, time.Second, time.Millisecond)

	key := session.Key{RepositoryID: "repo-a", IssueID: "ENG-1"}
	s, ok := reg.Get(key)
	require.True(t, ok)
	s.EnqueuePrompt("queued while non-streaming")

	stopEvt := newTestEvent("ENG-1")
	stopEvt.Kind = activity.EventStop
	require.NoError(t, d.Dispatch(context.Background(), stopEvt))

	lnc.mu.Lock()
	adapter := lnc.adapters[0]
	surface := lnc.surfaces[0]
	lnc.mu.Unlock()

	require.Eventually(t, func() bool {
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		return adapter.stopped
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return surface.count() >= 1 }, time.Second, time.Millisecond)
	require.Equal(t, session.StateStopped, s.CurrentState())
}

func TestDispatcher_DrainRepositoryStopsOnlyThatRepositorysSessions(t *testing.T) {
	cfg := testConfig()
	cfg.Repositories[0].MaxConcurrentSessions = 2
	cfg.Repositories = append(cfg.Repositories, config.Repository{
		ID: "repo-b", RepositoryPath: "/work/repo-b", TeamKeys: []string{"OPS"}, IsActive: true,
	})
	reg := session.NewRegistry(time.Minute, nil)
	lnc := &fakeLauncher{streaming: true}
	d := New(cfg, router.New(cfg), reg, lnc, nil)

	require.NoError(t, d.Dispatch(context.Background(), newTestEvent("ENG-1")))
	require.Eventually(t, func() bool { return len(lnc.adapters) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, d.Dispatch(context.Background(), newTestEvent("ENG-2")))
	require.Eventually(t, func() bool { return len(lnc.adapters) == 2 }, time.Second, time.Millisecond)

	evtOther := newTestEvent("OPS-1")
	evtOther.IssueRefs.TeamKey = "OPS"
	require.NoError(t, d.Dispatch(context.Background(), evtOther))
	require.Eventually(t, func() bool { return len(lnc.adapters) == 3 }, time.Second, time.Millisecond)

	keyA := session.Key{RepositoryID: "repo-a", IssueID: "ENG-1"}
	sA, ok := reg.Get(keyA)
	require.True(t, ok)
	keyB := session.Key{RepositoryID: "repo-a", IssueID: "ENG-2"}
	sB, ok := reg.Get(keyB)
	require.True(t, ok)

	n := d.DrainRepository("repo-a", "repository_removed")
	require.Equal(t, 2, n)

	lnc.mu.Lock()
	adapterA := lnc.adapters[0]
	adapterB := lnc.adapters[1]
	surfaceA := lnc.surfaces[0]
	lnc.mu.Unlock()

	require.Eventually(t, func() bool {
		adapterA.mu.Lock()
		defer adapterA.mu.Unlock()
		return adapterA.stopped
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		adapterB.mu.Lock()
		defer adapterB.mu.Unlock()
		return adapterB.stopped
	}, time.Second, time.Millisecond)

	require.Equal(t, session.StateStopped, sA.CurrentState())
	require.Equal(t, session.StateStopped, sB.CurrentState())

	sOther, ok := reg.Get(session.Key{RepositoryID: "repo-b", IssueID: "OPS-1"})
	require.True(t, ok)
	require.NotEqual(t, session.StateStopped, sOther.CurrentState())

	require.Eventually(t, func() bool { return surfaceA.count() >= 1 }, time.Second, time.Millisecond)
	found := false
	for _, a := range surfaceA.posted {
		if a.Kind == activity.ActivityError && a.Body == "session stopped: repository_removed" {
			found = true
		}
	}
	require.True(t, found, "expected a repository_removed terminal activity")
}

func TestDispatcher_DrainRepositoryNoOpWhenNoSessions(t *testing.T) {
	cfg := testConfig()
	d := New(cfg, router.New(cfg), session.NewRegistry(time.Minute, nil), &fakeLauncher{}, nil)
	require.Equal(t, 0, d.DrainRepository("repo-a", "repository_removed"))
}

func TestDispatcher_LimiterFor_NilWhenUnset(t *testing.T) {
	cfg := testConfig()
	d := New(cfg, router.New(cfg), session.NewRegistry(time.Minute, nil), &fakeLauncher{}, nil)
	require.Nil(t, d.limiterFor(cfg.Repositories[0]))
}

func TestDispatcher_LimiterFor_ReusesSameLimiterPerRepository(t *testing.T) {
	cfg := testConfig()
	cfg.Dispatch.RepositoryLaunchesPerMinute = 30
	d := New(cfg, router.New(cfg), session.NewRegistry(time.Minute, nil), &fakeLauncher{}, nil)

	first := d.limiterFor(cfg.Repositories[0])
	require.NotNil(t, first)
	second := d.limiterFor(cfg.Repositories[0])
	require.Same(t, first, second)
}

func TestDispatcher_LimiterFor_DistinctPerRepository(t *testing.T) {
	cfg := testConfig()
	cfg.Dispatch.RepositoryLaunchesPerMinute = 30
	d := New(cfg, router.New(cfg), session.NewRegistry(time.Minute, nil), &fakeLauncher{}, nil)

	a := d.limiterFor(config.Repository{ID: "repo-a"})
	b := d.limiterFor(config.Repository{ID: "repo-b"})
	require.NotSame(t, a, b)
}
