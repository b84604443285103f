package server

import "pfctl/internal/session"

// MessageType tags a message sent to WebSocket clients.
type MessageType string

const (
	// MsgSnapshot is the first message every client receives.
	MsgSnapshot MessageType = "snapshot"
	// MsgSessions follows every change of the session store.
	MsgSessions MessageType = "sessions"
	// MsgNotification carries one user notification.
	MsgNotification MessageType = "notification"
)

type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type portPayload struct {
	Port      int  `json:"port"`
	Available bool `json:"available"`
}

type rememberPayload struct {
	Remember bool `json:"remember"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func stateMessage(t MessageType, st session.State) Message {
	if st.Sessions == nil {
		st.Sessions = []session.Session{}
	}
	return Message{Type: t, Payload: st}
}
