package session

import (
	"testing"
	"time"

	"pfctl/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestParseOpenBrowserPreference(t *testing.T) {
	for _, in := range []string{"always", "ask", "never"} {
		p, err := ParseOpenBrowserPreference(in)
		require.NoError(t, err)
		assert.Equal(t, OpenBrowserPreference(in), p)
	}
	_, err := ParseOpenBrowserPreference("sometimes")
	assert.Error(t, err)
}

func TestGate_QueueAndResolve(t *testing.T) {
	var g gate

	g.offer(PendingBrowserOpen{SessionID: "a", LocalPort: 1})
	g.offer(PendingBrowserOpen{SessionID: "b", LocalPort: 2})
	g.offer(PendingBrowserOpen{SessionID: "c", LocalPort: 3})
	// Re-offering a queued session updates it in place.
	g.offer(PendingBrowserOpen{SessionID: "b", LocalPort: 22})

	require.NotNil(t, g.current())
	assert.Equal(t, "a", g.current().SessionID)

	p, ok := g.resolve()
	require.True(t, ok)
	assert.Equal(t, "a", p.SessionID)
	assert.Equal(t, 22, g.current().LocalPort)

	g.drop("b")
	assert.Equal(t, "c", g.current().SessionID)

	_, ok = g.resolve()
	assert.True(t, ok)
	assert.Nil(t, g.current())
	_, ok = g.resolve()
	assert.False(t, ok)
}

func TestBrowserGate_Never(t *testing.T) {
	env := newTestEnv(t, OpenBrowserNever)
	s := env.start(t, webRequest(), StartResult{LocalPort: 8080})
	env.apply(t, events.NewConnected(s.ID))

	_, ok := env.manager.PendingBrowserOpen()
	assert.False(t, ok)
	env.opener.AssertNotCalled(t, "OpenURL", "http://localhost:8080")
}

func TestBrowserGate_Ask(t *testing.T) {
	env := newTestEnv(t, OpenBrowserAsk)
	s := env.start(t, webRequest(), StartResult{LocalPort: 8080})
	env.apply(t, events.NewConnected(s.ID))

	p, ok := env.manager.PendingBrowserOpen()
	require.True(t, ok)
	assert.Equal(t, s.ID, p.SessionID)
	assert.Equal(t, 8080, p.LocalPort)
	assert.Equal(t, "http://localhost:8080", p.URL())
}

func TestBrowserGate_Always(t *testing.T) {
	env := newTestEnv(t, OpenBrowserAlways)
	opened := make(chan struct{})
	env.opener.On("OpenURL", "http://localhost:8080").Run(func(mock.Arguments) {
		close(opened)
	}).Return(nil).Once()

	s := env.start(t, webRequest(), StartResult{LocalPort: 8080})
	env.apply(t, events.NewConnected(s.ID))

	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("browser was not opened")
	}
	_, ok := env.manager.PendingBrowserOpen()
	assert.False(t, ok)
}

func TestBrowserGate_NoPortNoPrompt(t *testing.T) {
	env := newTestEnv(t, OpenBrowserAsk)
	s := env.start(t, webRequest(), StartResult{})
	env.apply(t, events.NewConnected(s.ID))

	_, ok := env.manager.PendingBrowserOpen()
	assert.False(t, ok)
}

func TestBrowserGate_ReconnectDoesNotPromptAgain(t *testing.T) {
	env := newTestEnv(t, OpenBrowserAsk)
	s := env.start(t, webRequest(), StartResult{LocalPort: 8080, PodName: "web-1"})
	env.apply(t, events.NewConnected(s.ID))
	env.manager.DismissBrowserDialog(false)

	env.apply(t,
		events.NewReconnecting(s.ID, "pod deleted"),
		events.NewReconnected(s.ID, "web-2"),
		events.NewConnected(s.ID),
	)

	_, ok := env.manager.PendingBrowserOpen()
	assert.False(t, ok)

	got, _ := env.manager.GetSession(s.ID)
	assert.Equal(t, StatusConnected, got.Status)
	assert.Equal(t, "web-2", got.PodName)
	assert.True(t, got.ReconnectingSince.IsZero())

	var connected int
	for _, n := range env.notifier.byLevel(LevelSuccess) {
		if n.Title == "Port forward connected" {
			connected++
		}
	}
	assert.Equal(t, 1, connected, "the reconnect must not be announced as a new connection")
}

func TestConfirmOpenBrowser(t *testing.T) {
	env := newTestEnv(t, OpenBrowserAsk)
	env.opener.On("OpenURL", "http://localhost:8080").Return(nil).Once()

	s := env.start(t, webRequest(), StartResult{LocalPort: 8080})
	env.apply(t, events.NewConnected(s.ID))

	env.manager.ConfirmOpenBrowser(true)

	env.opener.AssertExpectations(t)
	_, ok := env.manager.PendingBrowserOpen()
	assert.False(t, ok)
	assert.Equal(t, OpenBrowserAlways, env.settings.OpenBrowser())
}

func TestDismissBrowserDialog(t *testing.T) {
	env := newTestEnv(t, OpenBrowserAsk)
	s := env.start(t, webRequest(), StartResult{LocalPort: 8080})
	env.apply(t, events.NewConnected(s.ID))

	env.manager.DismissBrowserDialog(false)
	_, ok := env.manager.PendingBrowserOpen()
	assert.False(t, ok)
	assert.Equal(t, OpenBrowserAsk, env.settings.OpenBrowser())

	env.manager.DismissBrowserDialog(true)
	assert.Equal(t, OpenBrowserNever, env.settings.OpenBrowser())
	env.opener.AssertNotCalled(t, "OpenURL", "http://localhost:8080")
}

func TestBrowserGate_PromptsQueue(t *testing.T) {
	env := newTestEnv(t, OpenBrowserAsk)
	a := env.start(t, webRequest(), StartResult{LocalPort: 8080})
	b := env.start(t, StartRequest{Namespace: "default", Name: "api", TargetType: TargetService, TargetPort: 80}, StartResult{LocalPort: 8081})
	c := env.start(t, StartRequest{Namespace: "default", Name: "docs", TargetType: TargetService, TargetPort: 80}, StartResult{LocalPort: 8082})

	env.apply(t, events.NewConnected(a.ID), events.NewConnected(b.ID), events.NewConnected(c.ID))

	p, ok := env.manager.PendingBrowserOpen()
	require.True(t, ok)
	assert.Equal(t, a.ID, p.SessionID)

	// A removed session loses its queued prompt.
	env.apply(t, events.NewStopped(b.ID))

	env.manager.DismissBrowserDialog(false)
	p, ok = env.manager.PendingBrowserOpen()
	require.True(t, ok)
	assert.Equal(t, c.ID, p.SessionID)

	env.manager.DismissBrowserDialog(false)
	_, ok = env.manager.PendingBrowserOpen()
	assert.False(t, ok)
}

func TestBrowserGate_StoppedClearsPendingPrompt(t *testing.T) {
	env := newTestEnv(t, OpenBrowserAsk)
	s := env.start(t, webRequest(), StartResult{LocalPort: 8080})
	env.apply(t, events.NewConnected(s.ID))

	env.bus.Publish(events.NewStopped(s.ID))
	require.Eventually(t, func() bool {
		_, ok := env.manager.PendingBrowserOpen()
		return !ok
	}, time.Second, 5*time.Millisecond)

	var bound int
	require.NoError(t, env.manager.do(func() { bound = env.manager.registry.len() }))
	assert.Equal(t, 0, bound)
	assert.Equal(t, 0, env.bus.Metrics().ActiveSubscriptions)

	// A second Stopped for the same id is ignored.
	before := len(env.notifier.all())
	env.apply(t, events.NewStopped(s.ID))
	assert.Empty(t, env.manager.Sessions())
	assert.Len(t, env.notifier.all(), before)
	_, ok := env.manager.PendingBrowserOpen()
	assert.False(t, ok)
}
