package notify

import (
	"pfctl/internal/session"
	"pfctl/pkg/logging"
)

// Log writes notifications to the application log.
type Log struct{}

var _ session.Notifier = Log{}

func (Log) Notify(n session.Notification) {
	subsystem := "Notify"
	if n.SessionID != "" {
		subsystem = "Notify-" + n.SessionID
	}
	switch n.Level {
	case session.LevelError:
		logging.Error(subsystem, nil, "%s: %s", n.Title, n.Message)
	case session.LevelWarning:
		logging.Warn(subsystem, "%s: %s", n.Title, n.Message)
	default:
		logging.Info(subsystem, "%s: %s", n.Title, n.Message)
	}
}

// Multi fans a notification out to several notifiers in order.
type Multi []session.Notifier

func (m Multi) Notify(n session.Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}
