package events

import (
	"fmt"
	"time"
)

// EventType identifies a lifecycle event on the wire and in logs.
type EventType string

const (
	EventTypeStarted      EventType = "started"
	EventTypeConnected    EventType = "connected"
	EventTypeReconnecting EventType = "reconnecting"
	EventTypeReconnected  EventType = "reconnected"
	EventTypePodDied      EventType = "pod-died"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeError        EventType = "error"
	EventTypeStopped      EventType = "stopped"
)

// channelPrefix is prepended to a session id to form its event channel name.
const channelPrefix = "port-forward-event:"

// ChannelName returns the event channel that carries lifecycle events for
// the given session.
func ChannelName(sessionID string) string {
	return channelPrefix + sessionID
}

// Event is a lifecycle notification emitted by the tunnel engine for one
// forward. The set of implementations is closed; see the variants below.
type Event interface {
	// SessionID returns the forward the event pertains to.
	SessionID() string
	// Type returns the event type
	Type() EventType
	// Timestamp returns when the event occurred
	Timestamp() time.Time
	// String returns a human-readable description of the event
	String() string

	sealed()
}

// BaseEvent carries the fields shared by every lifecycle event.
type BaseEvent struct {
	ForwardID string    `json:"forward_id"`
	EventTime time.Time `json:"timestamp"`
}

// SessionID implements Event interface
func (e BaseEvent) SessionID() string {
	return e.ForwardID
}

// Timestamp implements Event interface
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

func (BaseEvent) sealed() {}

func newBase(id string) BaseEvent {
	return BaseEvent{ForwardID: id, EventTime: time.Now()}
}

// Started reports that the local listener is bound.
type Started struct {
	BaseEvent
	LocalPort int `json:"local_port"`
}

func NewStarted(id string, localPort int) Started {
	return Started{BaseEvent: newBase(id), LocalPort: localPort}
}

func (Started) Type() EventType { return EventTypeStarted }

func (e Started) String() string {
	return fmt.Sprintf("%s: started on local port %d", e.ForwardID, e.LocalPort)
}

// Connected reports that the tunnel to the backing pod is live.
type Connected struct {
	BaseEvent
}

func NewConnected(id string) Connected {
	return Connected{BaseEvent: newBase(id)}
}

func (Connected) Type() EventType { return EventTypeConnected }

func (e Connected) String() string {
	return fmt.Sprintf("%s: connected", e.ForwardID)
}

// Reconnecting reports that the backing pod went away and the engine is
// looking for a replacement.
type Reconnecting struct {
	BaseEvent
	Reason string `json:"reason"`
}

func NewReconnecting(id, reason string) Reconnecting {
	return Reconnecting{BaseEvent: newBase(id), Reason: reason}
}

func (Reconnecting) Type() EventType { return EventTypeReconnecting }

func (e Reconnecting) String() string {
	return fmt.Sprintf("%s: reconnecting (%s)", e.ForwardID, e.Reason)
}

// Reconnected reports a successful rebind to NewPod. The engine follows it
// with a Connected event once the tunnel is live again.
type Reconnected struct {
	BaseEvent
	NewPod string `json:"new_pod"`
}

func NewReconnected(id, newPod string) Reconnected {
	return Reconnected{BaseEvent: newBase(id), NewPod: newPod}
}

func (Reconnected) Type() EventType { return EventTypeReconnected }

func (e Reconnected) String() string {
	return fmt.Sprintf("%s: reconnected to pod %s", e.ForwardID, e.NewPod)
}

// PodDied reports that the backing pod is gone and no replacement was found.
type PodDied struct {
	BaseEvent
	PodName string `json:"pod_name"`
}

func NewPodDied(id, podName string) PodDied {
	return PodDied{BaseEvent: newBase(id), PodName: podName}
}

func (PodDied) Type() EventType { return EventTypePodDied }

func (e PodDied) String() string {
	return fmt.Sprintf("%s: pod %s died", e.ForwardID, e.PodName)
}

// Disconnected reports that the tunnel is down without a pod-level cause.
type Disconnected struct {
	BaseEvent
}

func NewDisconnected(id string) Disconnected {
	return Disconnected{BaseEvent: newBase(id)}
}

func (Disconnected) Type() EventType { return EventTypeDisconnected }

func (e Disconnected) String() string {
	return fmt.Sprintf("%s: disconnected", e.ForwardID)
}

// Error reports a runtime failure of a live forward.
type Error struct {
	BaseEvent
	Message string `json:"message"`
}

func NewError(id, message string) Error {
	return Error{BaseEvent: newBase(id), Message: message}
}

func (Error) Type() EventType { return EventTypeError }

func (e Error) String() string {
	return fmt.Sprintf("%s: error: %s", e.ForwardID, e.Message)
}

// Stopped is terminal: the forward is gone and its channel carries nothing
// further.
type Stopped struct {
	BaseEvent
}

func NewStopped(id string) Stopped {
	return Stopped{BaseEvent: newBase(id)}
}

func (Stopped) Type() EventType { return EventTypeStopped }

func (e Stopped) String() string {
	return fmt.Sprintf("%s: stopped", e.ForwardID)
}
