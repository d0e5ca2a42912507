package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	wire "chatroom/backend/pkg/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

// bareClient has no websocket; tests read its send channel directly.
func bareClient(id, namespace string, buffer int) *Client {
	return &Client{
		ID:         id,
		Namespace:  namespace,
		send:       make(chan []byte, buffer),
		registered: make(chan struct{}),
	}
}

func decodeType(t *testing.T, data []byte) string {
	t.Helper()
	var env wire.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env.Type
}

func TestHubBroadcastRespectsNamespaces(t *testing.T) {
	hub := startHub(t)
	user := bareClient("u1", NamespaceMain, 4)
	admin := bareClient("a1", NamespaceAdmin, 4)
	require.True(t, hub.Register(user))
	require.True(t, hub.Register(admin))

	hub.BroadcastAll(wire.MessageDeleted{MessageID: "m1"})
	hub.BroadcastAdmins(wire.OnlineUsers{})

	assert.Equal(t, wire.TypeMessageDeleted, decodeType(t, <-user.send))
	assert.Equal(t, wire.TypeOnlineUsers, decodeType(t, <-admin.send))
	assert.Empty(t, user.send)
	assert.Empty(t, admin.send)
	assert.Equal(t, 1, hub.Count(NamespaceMain))
	assert.Equal(t, 1, hub.Count(NamespaceAdmin))
}

func TestHubSendTargetsOneConnection(t *testing.T) {
	hub := startHub(t)
	a := bareClient("a", NamespaceMain, 1)
	b := bareClient("b", NamespaceMain, 1)
	require.True(t, hub.Register(a))
	require.True(t, hub.Register(b))

	assert.True(t, hub.Send("b", wire.Error{Message: "nope"}))
	assert.False(t, hub.Send("missing", wire.Error{Message: "nope"}))

	assert.Empty(t, a.send)
	assert.Equal(t, wire.TypeError, decodeType(t, <-b.send))
}

func TestHubDropsForFullBuffer(t *testing.T) {
	hub := startHub(t)
	slow := bareClient("slow", NamespaceMain, 1)
	require.True(t, hub.Register(slow))

	assert.True(t, hub.Send("slow", wire.Error{Message: "one"}))
	assert.False(t, hub.Send("slow", wire.Error{Message: "two"}))
	assert.Len(t, slow.send, 1)
}

func TestHubDisconnectClosesQueueAfterPendingEvents(t *testing.T) {
	hub := startHub(t)
	c := bareClient("c", NamespaceMain, 2)
	require.True(t, hub.Register(c))

	hub.Send("c", wire.YouAreBanned{Message: "bye"})
	hub.Disconnect("c")

	data, ok := <-c.send
	require.True(t, ok)
	assert.Equal(t, wire.TypeYouAreBanned, decodeType(t, data))
	_, ok = <-c.send
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Count(NamespaceMain))

	// A second detach of the same client is a no-op.
	hub.Unregister(c)
	hub.Disconnect("c")
}

func TestHubStopsOnContextCancel(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	c := bareClient("c", NamespaceAdmin, 1)
	require.True(t, hub.Register(c))
	cancel()

	select {
	case _, ok := <-c.send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("hub did not close client queue")
	}
	assert.False(t, hub.Register(bareClient("late", NamespaceMain, 1)))
}
