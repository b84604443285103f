package session

import (
	"errors"
	"fmt"
	"time"

	"pfctl/internal/events"
	"pfctl/pkg/logging"
)

// transition is the outcome of applying one lifecycle event to a session.
type transition struct {
	session Session
	// remove is set for Stopped: the session and its binding go away.
	remove bool
	notice *Notification
	// connected is set for a genuine (not reconnect-confirming) Connected
	// and triggers the browser-open gate.
	connected bool
	err       error
}

// applyEvent computes the next record for s. It never mutates anything
// outside the returned value.
func applyEvent(s Session, ev events.Event, now time.Time) transition {
	resumed := s.resumed
	s.resumed = false
	t := transition{}

	notify := func(level Level, title, format string, args ...interface{}) {
		t.notice = &Notification{
			SessionID: s.ID,
			Level:     level,
			Title:     title,
			Message:   fmt.Sprintf(format, args...),
			Time:      now,
		}
	}

	switch e := ev.(type) {
	case events.Started:
		s.Status = StatusConnecting
		if e.LocalPort > 0 {
			s.LocalPort = e.LocalPort
		}

	case events.Connected:
		s.Status = StatusConnected
		if resumed {
			logging.Debug("SessionManager", "Suppressing connected notice for %s after reconnect", s.ID)
			break
		}
		notify(LevelSuccess, "Port forward connected", "%s in %s is available on localhost:%d", s.Target(), s.Namespace, s.LocalPort)
		t.connected = true

	case events.Reconnecting:
		s.Status = StatusReconnecting
		s.ReconnectingSince = now
		notify(LevelInfo, "Port forward reconnecting", "%s in %s: %s", s.Target(), s.Namespace, e.Reason)

	case events.Reconnected:
		s.Status = StatusConnected
		s.PodName = e.NewPod
		// The UID of the replacement is not part of the event.
		s.PodUID = ""
		s.ReconnectingSince = time.Time{}
		s.resumed = true
		notify(LevelSuccess, "Port forward reconnected", "%s in %s is now served by pod %s", s.Target(), s.Namespace, e.NewPod)

	case events.PodDied:
		s.Status = StatusDisconnected
		s.ReconnectingSince = time.Time{}
		notify(LevelWarning, "Pod died", "Pod %s backing %s in %s died and no replacement was found", e.PodName, s.Target(), s.Namespace)

	case events.Disconnected:
		s.Status = StatusDisconnected
		s.ReconnectingSince = time.Time{}
		notify(LevelInfo, "Port forward disconnected", "%s in %s lost its connection", s.Target(), s.Namespace)

	case events.Error:
		s.Status = StatusError
		s.ReconnectingSince = time.Time{}
		t.err = errors.New(e.Message)
		notify(LevelError, "Port forward error", "%s in %s: %s", s.Target(), s.Namespace, e.Message)

	case events.Stopped:
		s.ReconnectingSince = time.Time{}
		t.remove = true

	default:
		logging.Warn("SessionManager", "Ignoring unknown event %T for %s", ev, s.ID)
		s.resumed = resumed
	}

	t.session = s
	return t
}
