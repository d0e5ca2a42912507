package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"chatroom/backend/internal/service"
	apperrors "chatroom/backend/pkg/errors"
	wire "chatroom/backend/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	mu       sync.Mutex
	hub      *Hub
	joined   []string
	sent     []wire.SendMessage
	admins   []string
	deleted  []string
	banned   []string
	gone     []string
	received chan string
}

func newFakeChat(hub *Hub) *fakeChat {
	return &fakeChat{hub: hub, received: make(chan string, 16)}
}

func (f *fakeChat) Join(_ context.Context, connID, username string) error {
	f.mu.Lock()
	f.joined = append(f.joined, username)
	f.mu.Unlock()
	f.hub.Send(connID, wire.LoadMessages{})
	f.received <- wire.TypeJoin
	return nil
}

func (f *fakeChat) SendMessage(_ context.Context, _ string, cmd wire.SendMessage) error {
	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	f.mu.Unlock()
	f.received <- wire.TypeSendMessage
	return nil
}

func (f *fakeChat) Disconnect(connID string) {
	f.mu.Lock()
	f.gone = append(f.gone, connID)
	f.mu.Unlock()
	f.received <- "disconnect"
}

func (f *fakeChat) AdminConnected(connID string) {
	f.mu.Lock()
	f.admins = append(f.admins, connID)
	f.mu.Unlock()
	f.hub.Send(connID, wire.OnlineUsers{})
}

func (f *fakeChat) DeleteMessage(_ context.Context, _, messageID string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, messageID)
	f.mu.Unlock()
	f.received <- wire.TypeDeleteMessage
	return nil
}

func (f *fakeChat) BanUser(_ context.Context, _, userID string) error {
	f.mu.Lock()
	f.banned = append(f.banned, userID)
	f.mu.Unlock()
	f.received <- wire.TypeBanUser
	return nil
}

type fakeAuth map[string]*service.Identity

func (f fakeAuth) Authenticate(_ context.Context, token string) (*service.Identity, error) {
	if id, ok := f[token]; ok {
		return id, nil
	}
	return nil, apperrors.NewAuthError("Invalid session")
}

type testServer struct {
	url  string
	hub  *Hub
	chat *fakeChat
}

func newTestServer(t *testing.T, cfg HandlerConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := startHub(t)
	chat := newFakeChat(hub)
	auth := fakeAuth{
		"admin-token": {UserID: "01HADMIN", Username: "root", IsAdmin: true},
		"user-token":  {UserID: "01HUSER", Username: "alice"},
	}
	cfg.CookieName = "chatroom_session"
	h := NewHandler(hub, chat, auth, cfg, nil)

	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	r.GET("/ws", h.ServeWs)
	r.GET("/ws/admin", h.ServeAdminWs)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{
		url:  "ws" + strings.TrimPrefix(srv.URL, "http"),
		hub:  hub,
		chat: chat,
	}
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	if resp != nil {
		resp.Body.Close()
	}
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, typ string, content any) {
	t.Helper()
	raw, err := json.Marshal(content)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(wire.Envelope{Type: typ, Content: raw}))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wire.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env wire.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func TestMainConnectionDispatchesJoinAndSend(t *testing.T) {
	ts := newTestServer(t, HandlerConfig{})
	conn := dial(t, ts.url+"/ws", nil)

	sendEvent(t, conn, wire.TypeJoin, "alice")
	waitFor(t, ts.chat.received, wire.TypeJoin)
	assert.Equal(t, wire.TypeLoadMessages, readEnvelope(t, conn).Type)

	sendEvent(t, conn, wire.TypeSendMessage, map[string]string{"message": "hello"})
	waitFor(t, ts.chat.received, wire.TypeSendMessage)

	ts.chat.mu.Lock()
	assert.Equal(t, []string{"alice"}, ts.chat.joined)
	require.Len(t, ts.chat.sent, 1)
	assert.Equal(t, "hello", ts.chat.sent[0].Message)
	ts.chat.mu.Unlock()
}

func TestMainConnectionRejectsAdminCommands(t *testing.T) {
	ts := newTestServer(t, HandlerConfig{})
	conn := dial(t, ts.url+"/ws", nil)

	sendEvent(t, conn, wire.TypeBanUser, "01HUSER")
	env := readEnvelope(t, conn)
	assert.Equal(t, wire.TypeError, env.Type)
	assert.Contains(t, string(env.Content), "Not permitted")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	env = readEnvelope(t, conn)
	assert.Equal(t, wire.TypeError, env.Type)
	assert.Contains(t, string(env.Content), "Unknown event")
}

func TestMainConnectionRateLimited(t *testing.T) {
	ts := newTestServer(t, HandlerConfig{MessageRate: 0.001, MessageBurst: 1})
	conn := dial(t, ts.url+"/ws", nil)

	sendEvent(t, conn, wire.TypeSendMessage, map[string]string{"message": "one"})
	waitFor(t, ts.chat.received, wire.TypeSendMessage)

	sendEvent(t, conn, wire.TypeSendMessage, map[string]string{"message": "two"})
	env := readEnvelope(t, conn)
	assert.Equal(t, wire.TypeError, env.Type)
	assert.Contains(t, string(env.Content), "slow down")
}

func TestMainDisconnectNotifiesService(t *testing.T) {
	ts := newTestServer(t, HandlerConfig{})
	conn := dial(t, ts.url+"/ws", nil)
	require.Eventually(t, func() bool { return ts.hub.Count(NamespaceMain) == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	waitFor(t, ts.chat.received, "disconnect")
	assert.Eventually(t, func() bool { return ts.hub.Count(NamespaceMain) == 0 }, time.Second, 10*time.Millisecond)
}

func TestAdminConnectionRequiresAdminSession(t *testing.T) {
	ts := newTestServer(t, HandlerConfig{})

	tests := []struct {
		name   string
		header http.Header
		status int
	}{
		{"no session", nil, http.StatusUnauthorized},
		{"bad session", http.Header{"Authorization": {"Bearer nope"}}, http.StatusUnauthorized},
		{"not admin", http.Header{"Cookie": {"chatroom_session=user-token"}}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(ts.url+"/ws/admin", tt.header)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
	assert.Equal(t, 0, ts.hub.Count(NamespaceAdmin))
}

func TestAdminConnectionDispatchesModeration(t *testing.T) {
	ts := newTestServer(t, HandlerConfig{})
	conn := dial(t, ts.url+"/ws/admin?token=admin-token", nil)

	assert.Equal(t, wire.TypeOnlineUsers, readEnvelope(t, conn).Type)

	sendEvent(t, conn, wire.TypeDeleteMessage, "01HMSG")
	waitFor(t, ts.chat.received, wire.TypeDeleteMessage)
	sendEvent(t, conn, wire.TypeBanUser, "01HUSER")
	waitFor(t, ts.chat.received, wire.TypeBanUser)

	sendEvent(t, conn, wire.TypeJoin, "root")
	env := readEnvelope(t, conn)
	assert.Equal(t, wire.TypeError, env.Type)

	ts.chat.mu.Lock()
	defer ts.chat.mu.Unlock()
	assert.Equal(t, []string{"01HMSG"}, ts.chat.deleted)
	assert.Equal(t, []string{"01HUSER"}, ts.chat.banned)
	assert.Len(t, ts.chat.admins, 1)
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(NewHub(nil, nil), nil, nil, HandlerConfig{AllowedOrigins: []string{"https://chat.example.com"}}, nil)

	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/ws", nil)
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://chat.example.com")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.net")
	assert.False(t, h.checkOrigin(req))

	req.Header.Set("Origin", "http://api.example.com")
	assert.True(t, h.checkOrigin(req))
}
