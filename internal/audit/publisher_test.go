package audit

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"chatroom/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPublisher struct {
	mu         sync.Mutex
	events     []Event
	err        error
	closed     bool
	afterClose int
}

func (m *memPublisher) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.afterClose++
	}
	m.events = append(m.events, ev)
	return m.err
}

func (m *memPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestRecorderStampsAndFlushesOnClose(t *testing.T) {
	pub := &memPublisher{}
	rec := NewRecorder(pub, logger.NewNop())

	rec.Record(Event{Kind: KindUserBanned, UserID: "u1", Username: "bob"})
	rec.Record(Event{Kind: KindMessageDeleted, MessageID: "m1"})
	require.NoError(t, rec.Close())

	assert.True(t, pub.closed)
	require.Len(t, pub.events, 2)
	for _, ev := range pub.events {
		assert.False(t, ev.At.IsZero())
	}
}

func TestRecorderSwallowsPublishErrors(t *testing.T) {
	pub := &memPublisher{err: errors.New("broker down")}
	rec := NewRecorder(pub, logger.NewNop())

	rec.Record(Event{Kind: KindOffensiveMessage})
	assert.NoError(t, rec.Close())
}

func TestRecorderDropsEventsAfterClose(t *testing.T) {
	pub := &memPublisher{}
	rec := NewRecorder(pub, logger.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Record(Event{Kind: KindOffensiveMessage})
		}()
	}
	require.NoError(t, rec.Close())
	wg.Wait()
	rec.Record(Event{Kind: KindUserBanned})
	require.NoError(t, rec.Close())

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Zero(t, pub.afterClose)
	assert.LessOrEqual(t, len(pub.events), 50)
	for _, ev := range pub.events {
		assert.Equal(t, KindOffensiveMessage, ev.Kind)
	}
}

func TestRabbitPublisher(t *testing.T) {
	url := os.Getenv("RABBIT_URL")
	if url == "" {
		t.Skip("RABBIT_URL not set")
	}
	pub, err := NewRabbitPublisher(url, "chatroom.audit.test")
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish(context.Background(), Event{Kind: KindUserBanned, Username: "bob"}))
}
