package session

import (
	"fmt"
	"sync"
)

// OpenBrowserPreference controls what happens when a session connects.
type OpenBrowserPreference string

const (
	OpenBrowserAlways OpenBrowserPreference = "always"
	OpenBrowserAsk    OpenBrowserPreference = "ask"
	OpenBrowserNever  OpenBrowserPreference = "never"
)

// ParseOpenBrowserPreference validates a user supplied preference.
func ParseOpenBrowserPreference(s string) (OpenBrowserPreference, error) {
	switch p := OpenBrowserPreference(s); p {
	case OpenBrowserAlways, OpenBrowserAsk, OpenBrowserNever:
		return p, nil
	default:
		return "", fmt.Errorf("invalid open-browser preference %q, expected always, ask or never", s)
	}
}

// Settings is the persisted preference consumed by the browser-open gate.
type Settings interface {
	OpenBrowser() OpenBrowserPreference
	SetOpenBrowser(p OpenBrowserPreference) error
}

// MemorySettings keeps the preference in memory only.
type MemorySettings struct {
	mu   sync.RWMutex
	pref OpenBrowserPreference
}

func NewMemorySettings(p OpenBrowserPreference) *MemorySettings {
	return &MemorySettings{pref: p}
}

func (s *MemorySettings) OpenBrowser() OpenBrowserPreference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pref
}

func (s *MemorySettings) SetOpenBrowser(p OpenBrowserPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pref = p
	return nil
}

// PendingBrowserOpen is an outstanding "open in browser?" prompt.
type PendingBrowserOpen struct {
	SessionID string `json:"sessionId"`
	LocalPort int    `json:"localPort"`
}

// URL returns the address the prompt is about.
func (p PendingBrowserOpen) URL() string {
	return localURL(p.LocalPort)
}

// gate holds at most one outstanding prompt. Prompts raised while one is
// outstanding wait in queue and are asked once the current one resolves.
type gate struct {
	pending *PendingBrowserOpen
	queue   []PendingBrowserOpen
}

func (g *gate) offer(p PendingBrowserOpen) {
	if g.pending == nil {
		g.pending = &p
		return
	}
	if g.pending.SessionID == p.SessionID {
		g.pending.LocalPort = p.LocalPort
		return
	}
	for i := range g.queue {
		if g.queue[i].SessionID == p.SessionID {
			g.queue[i] = p
			return
		}
	}
	g.queue = append(g.queue, p)
}

func (g *gate) current() *PendingBrowserOpen {
	if g.pending == nil {
		return nil
	}
	p := *g.pending
	return &p
}

// resolve takes the outstanding prompt and promotes the next queued one.
func (g *gate) resolve() (PendingBrowserOpen, bool) {
	if g.pending == nil {
		return PendingBrowserOpen{}, false
	}
	p := *g.pending
	g.promote()
	return p, true
}

// drop forgets any prompt for a session that no longer exists.
func (g *gate) drop(id string) {
	kept := g.queue[:0]
	for _, p := range g.queue {
		if p.SessionID != id {
			kept = append(kept, p)
		}
	}
	g.queue = kept
	if g.pending != nil && g.pending.SessionID == id {
		g.promote()
	}
}

func (g *gate) reset() {
	g.pending = nil
	g.queue = nil
}

func (g *gate) promote() {
	if len(g.queue) == 0 {
		g.pending = nil
		return
	}
	next := g.queue[0]
	g.queue = g.queue[1:]
	g.pending = &next
}
