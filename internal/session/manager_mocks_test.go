package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pfctl/internal/events"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock Engine
type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Start(ctx context.Context, id string, req StartRequest) (StartResult, error) {
	args := m.Called(ctx, id, req)
	return args.Get(0).(StartResult), args.Error(1)
}

func (m *mockEngine) Stop(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockEngine) List(ctx context.Context) ([]Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Session), args.Error(1)
}

func (m *mockEngine) CheckPort(ctx context.Context, port int) (bool, error) {
	args := m.Called(ctx, port)
	return args.Bool(0), args.Error(1)
}

// Mock BrowserOpener
type mockOpener struct {
	mock.Mock
}

func (m *mockOpener) OpenURL(url string) error {
	args := m.Called(url)
	return args.Error(0)
}

// countingSource wraps a bus and counts subscriptions.
type countingSource struct {
	bus   *events.Bus
	count int32
	fail  bool
}

func (c *countingSource) Subscribe(channel string) (*events.Subscription, error) {
	atomic.AddInt32(&c.count, 1)
	if c.fail {
		return nil, events.ErrBusClosed
	}
	return c.bus.Subscribe(channel)
}

func (c *countingSource) subscriptions() int {
	return int(atomic.LoadInt32(&c.count))
}

// recordingNotifier keeps every notification.
type recordingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *recordingNotifier) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

func (r *recordingNotifier) byLevel(level Level) []Notification {
	var out []Notification
	for _, n := range r.all() {
		if n.Level == level {
			out = append(out, n)
		}
	}
	return out
}

// recordingObserver keeps the last state it saw.
type recordingObserver struct {
	mu    sync.Mutex
	calls int
	last  State
}

func (r *recordingObserver) StateChanged(st State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.last = st
}

type testEnv struct {
	manager  *Manager
	engine   *mockEngine
	bus      *events.Bus
	source   *countingSource
	notifier *recordingNotifier
	settings *MemorySettings
	opener   *mockOpener
}

func newTestEnv(t *testing.T, pref OpenBrowserPreference, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		engine:   &mockEngine{},
		bus:      events.NewBus(),
		notifier: &recordingNotifier{},
		settings: NewMemorySettings(pref),
		opener:   &mockOpener{},
	}
	env.source = &countingSource{bus: env.bus}

	all := append([]Option{
		WithNotifier(env.notifier),
		WithSettings(env.settings),
		WithBrowserOpener(env.opener),
	}, opts...)
	env.manager = NewManager(env.engine, env.source, all...)

	t.Cleanup(func() {
		env.manager.Close()
		env.bus.Close()
	})
	return env
}

// start creates a session through the engine mock and returns it.
func (e *testEnv) start(t *testing.T, req StartRequest, result StartResult) Session {
	t.Helper()
	e.engine.On("Start", mock.Anything, mock.Anything, req).Return(result, nil).Once()
	s, err := e.manager.StartSession(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, s)
	return *s
}

// apply runs events through the dispatcher on the manager loop.
func (e *testEnv) apply(t *testing.T, evs ...events.Event) {
	t.Helper()
	require.NoError(t, e.manager.do(func() {
		for _, ev := range evs {
			e.manager.dispatch(ev)
		}
	}))
}

func (e *testEnv) waitForStatus(t *testing.T, id string, status Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, ok := e.manager.GetSession(id)
		return ok && s.Status == status
	}, time.Second, 5*time.Millisecond, "session %s never reached %s", id, status)
}

func webRequest() StartRequest {
	return StartRequest{Namespace: "default", Name: "web", TargetType: TargetService, TargetPort: 80}
}
