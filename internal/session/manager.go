package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"pfctl/internal/events"
	"pfctl/pkg/logging"
)

const subsystem = "SessionManager"

// ErrManagerClosed is returned once Close has been called.
var ErrManagerClosed = errors.New("session manager is closed")

// inboxSize bounds the number of queued control calls and events.
const inboxSize = 256

// Option configures a Manager.
type Option func(*Manager)

// WithSettings sets the store for the open-browser preference.
func WithSettings(s Settings) Option {
	return func(m *Manager) { m.settings = s }
}

// WithNotifier sets the sink for user-facing notifications.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithBrowserOpener sets how URLs are opened.
func WithBrowserOpener(o BrowserOpener) Option {
	return func(m *Manager) { m.opener = o }
}

// WithObserver registers an observer for state changes.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// Manager tracks port-forward sessions. A single goroutine owns all state;
// control calls and lifecycle events are applied through its inbox in the
// order they arrive. Engine calls happen outside that goroutine.
type Manager struct {
	engine    Engine
	source    EventSource
	settings  Settings
	notifier  Notifier
	opener    BrowserOpener
	observers []Observer
	now       func() time.Time

	inbox     chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// Owned by the run loop.
	store       map[string]Session
	registry    *registry
	gate        gate
	starting    map[string]struct{}
	// startGen counts placeholder inserts and start merges. touched maps
	// an id to the generation that last wrote it from a start.
	startGen    uint64
	touched     map[string]uint64
	lastErr     error
	initialized bool
	lastStamp   int64
}

// NewManager creates a manager and starts its loop. Call Close to stop it.
func NewManager(engine Engine, source EventSource, opts ...Option) *Manager {
	m := &Manager{
		engine:   engine,
		source:   source,
		settings: NewMemorySettings(OpenBrowserAsk),
		notifier: nopNotifier{},
		now:      time.Now,
		inbox:    make(chan func(), inboxSize),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		store:    make(map[string]Session),
		registry: newRegistry(),
		starting: make(map[string]struct{}),
		touched:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.run()
	return m
}

func (m *Manager) run() {
	defer close(m.stopped)
	for {
		select {
		case fn := <-m.inbox:
			fn()
		case <-m.quit:
			return
		}
	}
}

// do runs fn on the loop and waits for it. fn must not call do.
func (m *Manager) do(fn func()) error {
	done := make(chan struct{})
	select {
	case m.inbox <- func() { defer close(done); fn() }:
	case <-m.stopped:
		return ErrManagerClosed
	}
	select {
	case <-done:
		return nil
	case <-m.stopped:
		return ErrManagerClosed
	}
}

// post queues fn without waiting.
func (m *Manager) post(fn func()) bool {
	select {
	case m.inbox <- fn:
		return true
	case <-m.stopped:
		return false
	}
}

// Initialize loads the engine's sessions on the first call only.
func (m *Manager) Initialize(ctx context.Context) {
	first := false
	if err := m.do(func() {
		if !m.initialized {
			m.initialized = true
			first = true
		}
	}); err != nil {
		return
	}
	if first {
		m.RefreshSessions(ctx)
	}
}

// RefreshSessions replaces the store with the engine's view and makes sure
// every session has a listener. Failures are logged and leave the store
// unchanged.
func (m *Manager) RefreshSessions(ctx context.Context) {
	// Starts that insert or merge after this point are newer than the
	// engine's list and must survive it.
	var since uint64
	if err := m.do(func() { since = m.startGen }); err != nil {
		return
	}

	list, err := m.engine.List(ctx)
	if err != nil {
		logging.Error(subsystem, err, "Failed to list port forward sessions")
		return
	}

	_ = m.do(func() {
		next := make(map[string]Session, len(list))
		for _, s := range list {
			if s.Status == StatusStopped {
				continue
			}
			if prev, ok := m.store[s.ID]; ok {
				if s.StartedAt.IsZero() {
					s.StartedAt = prev.StartedAt
				}
				s.resumed = prev.resumed
				if s.Status == StatusReconnecting && s.ReconnectingSince.IsZero() {
					s.ReconnectingSince = prev.ReconnectingSince
				}
			}
			next[s.ID] = s
		}
		// Starts still waiting on the engine keep their placeholder, and
		// starts merged while the list was taken keep their record.
		for id, s := range m.store {
			if _, ok := next[id]; ok {
				continue
			}
			_, inFlight := m.starting[id]
			if inFlight || m.touched[id] > since {
				next[id] = s
			}
		}
		for id := range m.store {
			if _, ok := next[id]; !ok {
				m.registry.remove(id)
				m.gate.drop(id)
				delete(m.touched, id)
			}
		}
		m.store = next
		for id := range next {
			m.setupListener(id)
		}
		logging.Debug(subsystem, "Refreshed sessions: %d active", len(next))
		m.changed()
	})
}

// StartSession creates a forward. On failure the error is recorded as the
// last error and returned, the session never appears, and nil is returned.
func (m *Manager) StartSession(ctx context.Context, req StartRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		err = fmt.Errorf("invalid port forward request: %w", err)
		_ = m.do(func() {
			m.lastErr = err
			m.changed()
		})
		return nil, err
	}

	var id string
	if err := m.do(func() {
		id = m.nextID(req)
		// The placeholder and the listener must exist before the engine is
		// called: it may publish events for id before Start returns.
		m.store[id] = Session{
			ID:         id,
			Namespace:  req.Namespace,
			Name:       req.Name,
			TargetType: req.TargetType,
			TargetPort: req.TargetPort,
			LocalPort:  req.LocalPort,
			Status:     StatusConnecting,
			StartedAt:  m.now(),
		}
		m.starting[id] = struct{}{}
		m.markStarted(id)
		m.setupListener(id)
		m.changed()
	}); err != nil {
		return nil, err
	}

	logging.Info(subsystem, "Starting port forward %s (%s/%s/%s:%d)", id, req.Namespace, req.TargetType, req.Name, req.TargetPort)
	result, engineErr := m.engine.Start(ctx, id, req)

	var started *Session
	err := m.do(func() {
		delete(m.starting, id)

		if engineErr != nil {
			m.removeSession(id)
			m.lastErr = fmt.Errorf("failed to start port forward to %s/%s in %s: %w", req.TargetType, req.Name, req.Namespace, engineErr)
			m.changed()
			return
		}

		if result.ForwardID != "" && result.ForwardID != id {
			logging.Debug(subsystem, "Engine reported forward id %s for session %s; keeping local id", result.ForwardID, id)
		}

		s, ok := m.store[id]
		if !ok {
			// A Stopped event already removed it; report what started
			// without bringing the record back.
			s = Session{
				ID:         id,
				Namespace:  req.Namespace,
				Name:       req.Name,
				TargetType: req.TargetType,
				TargetPort: req.TargetPort,
				Status:     StatusConnecting,
			}
		}
		s = mergeStartResult(s, result)
		if ok {
			m.store[id] = s
			m.markStarted(id)
			m.changed()
		}
		started = &s
	})
	if err != nil {
		return nil, err
	}

	if engineErr != nil {
		logging.Error(subsystem, engineErr, "Failed to start port forward %s", id)
		return nil, fmt.Errorf("failed to start port forward to %s/%s in %s: %w", req.TargetType, req.Name, req.Namespace, engineErr)
	}
	logging.Info(subsystem, "Port forward %s bound to localhost:%d", id, started.LocalPort)
	return started, nil
}

// mergeStartResult folds the engine response into s. The response never
// changes the session identity.
func mergeStartResult(s Session, r StartResult) Session {
	if r.LocalPort > 0 {
		s.LocalPort = r.LocalPort
	}
	if r.TargetPort > 0 {
		s.TargetPort = r.TargetPort
	}
	if r.PodName != "" {
		s.PodName = r.PodName
	}
	if r.PodUID != "" {
		s.PodUID = r.PodUID
	}
	// Events may already have moved the session on; only a session still
	// waiting for its first confirmation takes the engine's status.
	if s.Status == StatusConnecting && r.Status != "" && r.Status != StatusStopped {
		s.Status = r.Status
	}
	return s
}

// StopSession asks the engine to stop id. The session is removed when the
// engine's Stopped event arrives, not here. On failure the error is
// recorded and the session keeps its current status.
func (m *Manager) StopSession(ctx context.Context, id string) error {
	logging.Info(subsystem, "Stopping port forward %s", id)
	if err := m.engine.Stop(ctx, id); err != nil {
		err = fmt.Errorf("failed to stop port forward %s: %w", id, err)
		logging.Error(subsystem, err, "Stop request failed")
		_ = m.do(func() {
			m.lastErr = err
			m.changed()
		})
		return err
	}
	return nil
}

// StopAllSessions stops every session concurrently and returns once all
// stop calls have settled.
func (m *Manager) StopAllSessions(ctx context.Context) {
	var ids []string
	if err := m.do(func() {
		for id := range m.store {
			ids = append(ids, id)
		}
	}); err != nil {
		return
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = m.StopSession(ctx, id)
		}(id)
	}
	wg.Wait()
}

// CheckPortAvailable reports whether port can be used locally. A failing
// probe counts as unavailable.
func (m *Manager) CheckPortAvailable(ctx context.Context, port int) bool {
	ok, err := m.engine.CheckPort(ctx, port)
	if err != nil {
		logging.Warn(subsystem, "Port availability check for %d failed: %v", port, err)
		return false
	}
	return ok
}

// GetSession looks up a session by id.
func (m *Manager) GetSession(id string) (Session, bool) {
	var (
		s  Session
		ok bool
	)
	if err := m.do(func() { s, ok = m.store[id] }); err != nil {
		return Session{}, false
	}
	return s, ok
}

// Sessions returns all sessions, oldest first.
func (m *Manager) Sessions() []Session {
	var out []Session
	_ = m.do(func() { out = m.sortedSessions() })
	return out
}

// State returns a snapshot of sessions, the pending prompt and the last error.
func (m *Manager) State() State {
	var st State
	_ = m.do(func() { st = m.snapshot() })
	return st
}

// LastError returns the most recent recorded failure, if any.
func (m *Manager) LastError() error {
	var err error
	_ = m.do(func() { err = m.lastErr })
	return err
}

// ClearError forgets the last recorded failure.
func (m *Manager) ClearError() {
	_ = m.do(func() {
		m.lastErr = nil
		m.changed()
	})
}

// PendingBrowserOpen returns the outstanding browser prompt, if any.
func (m *Manager) PendingBrowserOpen() (PendingBrowserOpen, bool) {
	var p *PendingBrowserOpen
	_ = m.do(func() { p = m.gate.current() })
	if p == nil {
		return PendingBrowserOpen{}, false
	}
	return *p, true
}

// ConfirmOpenBrowser opens the pending URL and clears the prompt. With
// remember set the preference becomes "always".
func (m *Manager) ConfirmOpenBrowser(remember bool) {
	var (
		p  PendingBrowserOpen
		ok bool
	)
	_ = m.do(func() {
		p, ok = m.gate.resolve()
		if ok {
			m.changed()
		}
	})

	if ok {
		m.openBrowser(p.URL())
	} else {
		logging.Debug(subsystem, "Confirm without a pending browser prompt")
	}
	if remember {
		m.persistPreference(OpenBrowserAlways)
	}
}

// DismissBrowserDialog clears the prompt without opening anything. With
// remember set the preference becomes "never".
func (m *Manager) DismissBrowserDialog(remember bool) {
	_ = m.do(func() {
		if _, ok := m.gate.resolve(); ok {
			m.changed()
		}
	})
	if remember {
		m.persistPreference(OpenBrowserNever)
	}
}

// Cleanup unsubscribes every listener and empties the store.
func (m *Manager) Cleanup() {
	_ = m.do(func() {
		m.registry.closeAll()
		m.store = make(map[string]Session)
		m.touched = make(map[string]uint64)
		m.gate.reset()
		logging.Debug(subsystem, "Cleaned up all sessions and listeners")
		m.changed()
	})
}

// Close cleans up and stops the manager loop.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.Cleanup()
		close(m.quit)
		<-m.stopped
	})
}

// The methods below run on the manager loop only.

func (m *Manager) nextID(req StartRequest) string {
	stamp := m.now().UnixNano()
	if stamp <= m.lastStamp {
		stamp = m.lastStamp + 1
	}
	m.lastStamp = stamp
	return fmt.Sprintf("%s-%s-%s-%d-%d", req.TargetType, req.Namespace, req.Name, req.TargetPort, stamp)
}

// setupListener subscribes to id's event channel unless a binding exists.
func (m *Manager) setupListener(id string) {
	if m.registry.has(id) {
		return
	}
	sub, err := m.source.Subscribe(events.ChannelName(id))
	if err != nil {
		logging.Warn(subsystem, "Failed to subscribe to events for %s, it will not update until the next refresh: %v", id, err)
		return
	}
	m.registry.add(id, sub)
	go m.relay(sub)
}

// relay feeds one subscription into the loop, preserving event order.
func (m *Manager) relay(sub *events.Subscription) {
	for {
		select {
		case ev := <-sub.C():
			if !m.post(func() { m.dispatch(ev) }) {
				return
			}
		case <-sub.Done():
			return
		case <-m.stopped:
			return
		}
	}
}

func (m *Manager) dispatch(ev events.Event) {
	id := ev.SessionID()
	current, ok := m.store[id]
	if !ok {
		if _, stopped := ev.(events.Stopped); stopped {
			m.registry.remove(id)
		}
		logging.Debug(subsystem, "Ignoring %s event for unknown session %s", ev.Type(), id)
		return
	}

	logging.Debug(subsystem, "Applying event: %s", ev)
	t := applyEvent(current, ev, m.now())
	if t.remove {
		m.removeSession(id)
		logging.Info(subsystem, "Port forward %s stopped", id)
	} else {
		m.store[id] = t.session
	}
	if t.err != nil {
		m.lastErr = t.err
	}
	if t.notice != nil {
		m.notifier.Notify(*t.notice)
	}
	if t.connected {
		m.applyBrowserGate(t.session)
	}
	m.changed()
}

func (m *Manager) applyBrowserGate(s Session) {
	if s.LocalPort <= 0 {
		return
	}
	switch pref := m.settings.OpenBrowser(); pref {
	case OpenBrowserAlways:
		go m.openBrowser(s.URL())
	case OpenBrowserAsk:
		m.gate.offer(PendingBrowserOpen{SessionID: s.ID, LocalPort: s.LocalPort})
	case OpenBrowserNever:
	default:
		logging.Warn(subsystem, "Unknown open-browser preference %q, not opening", pref)
	}
}

func (m *Manager) markStarted(id string) {
	m.startGen++
	m.touched[id] = m.startGen
}

func (m *Manager) removeSession(id string) {
	delete(m.store, id)
	delete(m.touched, id)
	m.registry.remove(id)
	m.gate.drop(id)
}

func (m *Manager) sortedSessions() []Session {
	out := make([]Session, 0, len(m.store))
	for _, s := range m.store {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Manager) snapshot() State {
	st := State{
		Sessions:           m.sortedSessions(),
		PendingBrowserOpen: m.gate.current(),
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

func (m *Manager) changed() {
	if len(m.observers) == 0 {
		return
	}
	st := m.snapshot()
	for _, o := range m.observers {
		o.StateChanged(st)
	}
}

// These run outside the loop.

func (m *Manager) openBrowser(url string) {
	if m.opener == nil {
		logging.Warn(subsystem, "No browser opener configured, cannot open %s", url)
		return
	}
	if err := m.opener.OpenURL(url); err != nil {
		logging.Warn(subsystem, "Failed to open %s in browser: %v", url, err)
	}
}

func (m *Manager) persistPreference(p OpenBrowserPreference) {
	if err := m.settings.SetOpenBrowser(p); err != nil {
		logging.Error(subsystem, err, "Failed to save open-browser preference %q", p)
	}
}
