package notify

import (
	"pfctl/internal/session"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#10B981"}
	colorError   = lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#EF4444"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#F59E0B"}
	colorInfo    = lipgloss.AdaptiveColor{Light: "#2563EB", Dark: "#3B82F6"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

// styles are bound to one renderer so colour support follows the output.
type styles struct {
	level map[session.Level]lipgloss.Style
	title lipgloss.Style
	muted lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		level: map[session.Level]lipgloss.Style{
			session.LevelSuccess: r.NewStyle().Foreground(colorSuccess).Bold(true),
			session.LevelInfo:    r.NewStyle().Foreground(colorInfo).Bold(true),
			session.LevelWarning: r.NewStyle().Foreground(colorWarning).Bold(true),
			session.LevelError:   r.NewStyle().Foreground(colorError).Bold(true),
		},
		title: r.NewStyle().Bold(true),
		muted: r.NewStyle().Foreground(colorMuted),
	}
}

func (s styles) forLevel(l session.Level) lipgloss.Style {
	if st, ok := s.level[l]; ok {
		return st
	}
	return s.muted
}

// levelIcon returns the marker printed in front of a notification.
func levelIcon(l session.Level) string {
	switch l {
	case session.LevelSuccess:
		return "✓"
	case session.LevelWarning:
		return "!"
	case session.LevelError:
		return "✗"
	default:
		return "•"
	}
}

// statusIcon returns the marker for a session status in tables.
func statusIcon(s session.Status) string {
	switch s {
	case session.StatusConnected:
		return "●"
	case session.StatusConnecting, session.StatusReconnecting:
		return "◐"
	case session.StatusError:
		return "✗"
	default:
		return "○"
	}
}

func statusLevel(s session.Status) session.Level {
	switch s {
	case session.StatusConnected:
		return session.LevelSuccess
	case session.StatusConnecting, session.StatusReconnecting:
		return session.LevelInfo
	case session.StatusDisconnected:
		return session.LevelWarning
	case session.StatusError:
		return session.LevelError
	default:
		return ""
	}
}
