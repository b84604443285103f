package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pfctl/internal/session"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockController struct {
	mock.Mock
}

func (m *mockController) Sessions() []session.Session {
	args := m.Called()
	return args.Get(0).([]session.Session)
}

func (m *mockController) GetSession(id string) (session.Session, bool) {
	args := m.Called(id)
	return args.Get(0).(session.Session), args.Bool(1)
}

func (m *mockController) State() session.State {
	return m.Called().Get(0).(session.State)
}

func (m *mockController) StartSession(ctx context.Context, req session.StartRequest) (*session.Session, error) {
	args := m.Called(ctx, req)
	s, _ := args.Get(0).(*session.Session)
	return s, args.Error(1)
}

func (m *mockController) StopSession(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockController) StopAllSessions(ctx context.Context) {
	m.Called(ctx)
}

func (m *mockController) CheckPortAvailable(ctx context.Context, port int) bool {
	return m.Called(ctx, port).Bool(0)
}

func (m *mockController) PendingBrowserOpen() (session.PendingBrowserOpen, bool) {
	args := m.Called()
	return args.Get(0).(session.PendingBrowserOpen), args.Bool(1)
}

func (m *mockController) ConfirmOpenBrowser(remember bool) {
	m.Called(remember)
}

func (m *mockController) DismissBrowserDialog(remember bool) {
	m.Called(remember)
}

func newTestServer(t *testing.T) (*mockController, *Hub, *httptest.Server) {
	t.Helper()
	ctrl := &mockController{}
	hub := NewHub()
	ts := httptest.NewServer(New(ctrl, hub).Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return ctrl, hub, ts
}

func doRequest(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

var webSession = session.Session{
	ID:         "default-service-web-1",
	Namespace:  "default",
	Name:       "web",
	TargetType: session.TargetService,
	TargetPort: 3000,
	LocalPort:  8080,
	Status:     session.StatusConnected,
}

func TestServer_ListSessions(t *testing.T) {
	ctrl, _, ts := newTestServer(t)

	ctrl.On("Sessions").Return([]session.Session(nil)).Once()
	resp := doRequest(t, http.MethodGet, ts.URL+"/api/sessions", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var empty []session.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	ctrl.On("Sessions").Return([]session.Session{webSession}).Once()
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/sessions", "")
	var got []session.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, webSession.ID, got[0].ID)
	assert.Equal(t, 8080, got[0].LocalPort)

	ctrl.AssertExpectations(t)
}

func TestServer_StartSession(t *testing.T) {
	ctrl, _, ts := newTestServer(t)

	req := session.StartRequest{Namespace: "default", Name: "web", TargetType: session.TargetService, TargetPort: 80}
	started := webSession
	ctrl.On("StartSession", mock.Anything, req).Return(&started, nil).Once()

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/sessions",
		`{"namespace":"default","name":"web","targetType":"service","targetPort":80}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var got session.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 3000, got.TargetPort)
	ctrl.AssertExpectations(t)
}

func TestServer_StartSessionErrors(t *testing.T) {
	ctrl, _, ts := newTestServer(t)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/sessions", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	invalid := session.StartRequest{Namespace: "default", Name: "web", TargetType: session.TargetService}
	ctrl.On("StartSession", mock.Anything, invalid).Return(nil, errors.New("invalid port forward request")).Once()
	resp = doRequest(t, http.MethodPost, ts.URL+"/api/sessions", `{"namespace":"default","name":"web","targetType":"service"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	valid := session.StartRequest{Namespace: "default", Name: "web", TargetType: session.TargetService, TargetPort: 80}
	ctrl.On("StartSession", mock.Anything, valid).Return(nil, errors.New("no ready pod")).Once()
	resp = doRequest(t, http.MethodPost, ts.URL+"/api/sessions", `{"namespace":"default","name":"web","targetType":"service","targetPort":80}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var body errorPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "no ready pod", body.Error)

	ctrl.AssertExpectations(t)
}

func TestServer_GetAndStopSession(t *testing.T) {
	ctrl, _, ts := newTestServer(t)

	ctrl.On("GetSession", webSession.ID).Return(webSession, true)
	ctrl.On("GetSession", "missing").Return(session.Session{}, false)
	ctrl.On("StopSession", mock.Anything, webSession.ID).Return(nil).Once()

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/sessions/"+webSession.ID, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/sessions/"+webSession.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	ctrl.On("StopSession", mock.Anything, webSession.ID).Return(errors.New("engine unreachable")).Once()
	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/sessions/"+webSession.ID, "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	ctrl.AssertNotCalled(t, "StopSession", mock.Anything, "missing")
	ctrl.AssertExpectations(t)
}

func TestServer_StopAll(t *testing.T) {
	ctrl, _, ts := newTestServer(t)
	ctrl.On("StopAllSessions", mock.Anything).Return().Once()

	resp := doRequest(t, http.MethodDelete, ts.URL+"/api/sessions", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	ctrl.AssertExpectations(t)
}

func TestServer_CheckPort(t *testing.T) {
	ctrl, _, ts := newTestServer(t)
	ctrl.On("CheckPortAvailable", mock.Anything, 8080).Return(false).Once()

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/ports/8080", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var got portPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, portPayload{Port: 8080, Available: false}, got)

	for _, bad := range []string{"http", "0", "70000"} {
		resp = doRequest(t, http.MethodGet, ts.URL+"/api/ports/"+bad, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
	}
	ctrl.AssertExpectations(t)
}

func TestServer_BrowserPrompt(t *testing.T) {
	ctrl, _, ts := newTestServer(t)

	ctrl.On("PendingBrowserOpen").Return(session.PendingBrowserOpen{}, false).Once()
	resp := doRequest(t, http.MethodGet, ts.URL+"/api/browser/pending", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	ctrl.On("PendingBrowserOpen").Return(session.PendingBrowserOpen{SessionID: webSession.ID, LocalPort: 8080}, true).Once()
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/browser/pending", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var pending map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pending))
	assert.Equal(t, webSession.ID, pending["sessionId"])
	assert.Equal(t, "http://localhost:8080", pending["url"])

	ctrl.On("ConfirmOpenBrowser", true).Return().Once()
	resp = doRequest(t, http.MethodPost, ts.URL+"/api/browser/confirm", `{"remember":true}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	ctrl.On("DismissBrowserDialog", false).Return().Once()
	resp = doRequest(t, http.MethodPost, ts.URL+"/api/browser/dismiss", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/browser/dismiss", `{"remember":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctrl.AssertExpectations(t)
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func readMessage(t *testing.T, conn *websocket.Conn) (MessageType, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var raw struct {
		Type    MessageType     `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&raw))
	return raw.Type, raw.Payload
}

func TestServer_WebSocketStream(t *testing.T) {
	_, hub, ts := newTestServer(t)
	hub.StateChanged(session.State{Sessions: []session.Session{webSession}})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	typ, payload := readMessage(t, conn)
	assert.Equal(t, MsgSnapshot, typ)
	var snap session.State
	require.NoError(t, json.Unmarshal(payload, &snap))
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, webSession.ID, snap.Sessions[0].ID)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.StateChanged(session.State{LastError: "boom"})
	typ, payload = readMessage(t, conn)
	assert.Equal(t, MsgSessions, typ)
	var st session.State
	require.NoError(t, json.Unmarshal(payload, &st))
	assert.Empty(t, st.Sessions)
	assert.Equal(t, "boom", st.LastError)

	hub.Notify(session.Notification{SessionID: webSession.ID, Level: session.LevelSuccess, Title: "Connected"})
	typ, payload = readMessage(t, conn)
	assert.Equal(t, MsgNotification, typ)
	var n session.Notification
	require.NoError(t, json.Unmarshal(payload, &n))
	assert.Equal(t, "Connected", n.Title)
	assert.Equal(t, session.LevelSuccess, n.Level)
}

func TestServer_WebSocketRejectsForeignOrigin(t *testing.T) {
	_, _, ts := newTestServer(t)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "localhost:8090", true},
		{"http://localhost:3000", "localhost:8090", true},
		{"http://127.0.0.1:3000", "localhost:8090", true},
		{"http://[::1]:3000", "localhost:8090", true},
		{"http://app.localhost", "localhost:8090", true},
		{"http://myhost:8090", "myhost:8090", true},
		{"https://evil.example.com", "localhost:8090", false},
		{"not a url", "localhost:8090", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Host = tt.host
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, checkOrigin(r), tt.origin)
	}
}

func TestServer_ServeShutsDownOnCancel(t *testing.T) {
	ctrl := &mockController{}
	hub := NewHub()
	srv := New(ctrl, hub)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
