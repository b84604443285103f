package session

import (
	"context"
	"fmt"
	"time"

	"pfctl/internal/events"
)

// TargetType is the kind of cluster resource a session forwards to.
type TargetType string

const (
	TargetPod     TargetType = "pod"
	TargetService TargetType = "service"
)

// ParseTargetType accepts the usual kubectl spellings ("svc", "pods", ...).
func ParseTargetType(s string) (TargetType, error) {
	switch s {
	case "pod", "pods", "po":
		return TargetPod, nil
	case "service", "services", "svc":
		return TargetService, nil
	default:
		return "", fmt.Errorf("unsupported target type %q, expected pod or service", s)
	}
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
	// StatusStopped is only ever reported by the engine. A stopped session
	// is removed from the store instead of being kept in this state.
	StatusStopped Status = "stopped"
)

// Session is one local-to-cluster tunnel. Values are copies; the manager
// owns the authoritative record.
type Session struct {
	ID         string     `json:"id"`
	Namespace  string     `json:"namespace"`
	Name       string     `json:"name"`
	TargetType TargetType `json:"targetType"`
	TargetPort int        `json:"targetPort"`
	LocalPort  int        `json:"localPort"`
	Status     Status     `json:"status"`
	PodName    string     `json:"podName,omitempty"`
	PodUID     string     `json:"podUid,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	// ReconnectingSince is set while a reconnect attempt is in progress.
	ReconnectingSince time.Time `json:"reconnectingSince,omitempty"`

	// resumed marks the transient connected-via-reconnect sub-state: the
	// engine follows Reconnected with a Connected that must not be
	// announced a second time.
	resumed bool
}

// Target renders the session target the way kubectl does, e.g. "service/web".
func (s Session) Target() string {
	return fmt.Sprintf("%s/%s", s.TargetType, s.Name)
}

// URL is the address the forwarded target is reachable on locally.
func (s Session) URL() string {
	return localURL(s.LocalPort)
}

func localURL(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}

// StartRequest describes a forward to create.
type StartRequest struct {
	Namespace  string     `json:"namespace"`
	Name       string     `json:"name"`
	TargetType TargetType `json:"targetType"`
	TargetPort int        `json:"targetPort"`
	// LocalPort of 0 lets the engine pick a free port.
	LocalPort int `json:"localPort,omitempty"`
}

// Validate checks the request before anything is recorded for it.
func (r StartRequest) Validate() error {
	if r.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	if r.Name == "" {
		return fmt.Errorf("target name is required")
	}
	if r.TargetType != TargetPod && r.TargetType != TargetService {
		return fmt.Errorf("unsupported target type %q", r.TargetType)
	}
	if r.TargetPort < 1 || r.TargetPort > 65535 {
		return fmt.Errorf("invalid target port %d", r.TargetPort)
	}
	if r.LocalPort < 0 || r.LocalPort > 65535 {
		return fmt.Errorf("invalid local port %d", r.LocalPort)
	}
	return nil
}

// StartResult is the engine's authoritative answer to a start call.
// TargetPort may differ from the request when a service port resolves to
// a container port.
type StartResult struct {
	ForwardID  string
	LocalPort  int
	TargetPort int
	PodName    string
	PodUID     string
	Status     Status
}

// Engine performs the actual tunnelling.
type Engine interface {
	Start(ctx context.Context, id string, req StartRequest) (StartResult, error)
	Stop(ctx context.Context, id string) error
	List(ctx context.Context) ([]Session, error)
	CheckPort(ctx context.Context, port int) (bool, error)
}

// EventSource hands out subscriptions to per-session event channels.
type EventSource interface {
	Subscribe(channel string) (*events.Subscription, error)
}

// Level classifies a user-facing notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a fire-and-forget message for the user.
type Notification struct {
	SessionID string    `json:"sessionId"`
	Level     Level     `json:"level"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Time      time.Time `json:"time"`
}

// Notifier receives notifications. Implementations must not block and must
// not call back into the Manager.
type Notifier interface {
	Notify(n Notification)
}

// BrowserOpener opens a URL in the user's browser.
type BrowserOpener interface {
	OpenURL(url string) error
}

// State is a consistent snapshot of everything the manager tracks.
type State struct {
	Sessions           []Session           `json:"sessions"`
	PendingBrowserOpen *PendingBrowserOpen `json:"pendingBrowserOpen,omitempty"`
	LastError          string              `json:"lastError,omitempty"`
}

// Observer is told about every state change. It is called from the
// manager's loop and must not block or call back into the Manager.
type Observer interface {
	StateChanged(state State)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}
