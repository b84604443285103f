package server

import (
	"encoding/json"
	"testing"

	"pfctl/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addFakeClient registers a client without a connection; nothing drains
// its buffer.
func addFakeClient(h *Hub, buffer int) *client {
	c := &client{send: make(chan []byte, buffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func TestHub_BroadcastOrder(t *testing.T) {
	h := NewHub()
	c := addFakeClient(h, 4)

	h.StateChanged(session.State{Sessions: []session.Session{{ID: "a"}}})
	h.Notify(session.Notification{SessionID: "a", Title: "Connected"})

	var first, second Message
	require.NoError(t, json.Unmarshal(<-c.send, &first))
	require.NoError(t, json.Unmarshal(<-c.send, &second))
	assert.Equal(t, MsgSessions, first.Type)
	assert.Equal(t, MsgNotification, second.Type)
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := NewHub()
	slow := addFakeClient(h, 1)
	fast := addFakeClient(h, 8)

	h.StateChanged(session.State{})
	h.StateChanged(session.State{})

	assert.Equal(t, 1, h.ClientCount())

	// The slow client's channel is closed after its buffered message.
	<-slow.send
	_, open := <-slow.send
	assert.False(t, open)
	assert.Len(t, fast.send, 2)
}

func TestHub_SessionsNeverNull(t *testing.T) {
	h := NewHub()
	c := addFakeClient(h, 1)

	h.StateChanged(session.State{})

	var raw struct {
		Payload struct {
			Sessions json.RawMessage `json:"sessions"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(<-c.send, &raw))
	assert.Equal(t, "[]", string(raw.Payload.Sessions))
}

func TestHub_Close(t *testing.T) {
	h := NewHub()
	c := addFakeClient(h, 1)

	h.Close()
	assert.Equal(t, 0, h.ClientCount())
	_, open := <-c.send
	assert.False(t, open)

	// Removing an already removed client is a no-op.
	h.RemoveClient(c)
}
