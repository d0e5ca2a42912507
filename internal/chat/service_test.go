package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"chatroom/backend/internal/audit"
	"chatroom/backend/internal/models"
	"chatroom/backend/internal/moderation"
	"chatroom/backend/internal/repository"
	apperrors "chatroom/backend/pkg/errors"
	"chatroom/backend/pkg/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory Gateway with per-operation failure switches.
type memStore struct {
	mu       sync.Mutex
	users    map[string]models.User
	messages map[string]models.Message

	failCreateMessage  bool
	failDeleteMessage  bool
	failDeleteByAuthor bool
	failDeleteUser     bool
	failFind           bool

	// When set, CreateMessage signals createEntered and waits for createGate.
	createEntered chan struct{}
	createGate    chan struct{}
}

func newMemStore() *memStore {
	return &memStore{users: map[string]models.User{}, messages: map[string]models.Message{}}
}

func (m *memStore) addUser(name string, admin bool) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := models.User{ID: models.NewID(), Username: name, IsAdmin: admin}
	m.users[u.ID] = u
	return u
}

func (m *memStore) FindUserByName(_ context.Context, name string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFind {
		return nil, errStoreDown
	}
	for _, u := range m.users {
		if u.Username == name {
			u := u
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) FindUserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFind {
		return nil, errStoreDown
	}
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (m *memStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = *u
	return nil
}

func (m *memStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeleteUser {
		return errStoreDown
	}
	delete(m.users, id)
	return nil
}

func (m *memStore) ListUsers(context.Context, bool) ([]models.User, error) { return nil, nil }

func (m *memStore) FindMessages(_ context.Context, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CreateMessage(_ context.Context, msg *models.Message) error {
	if m.createGate != nil {
		m.createEntered <- struct{}{}
		<-m.createGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateMessage {
		return errStoreDown
	}
	m.messages[msg.ID] = *msg
	return nil
}

func (m *memStore) DeleteMessage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeleteMessage {
		return errStoreDown
	}
	delete(m.messages, id)
	return nil
}

func (m *memStore) DeleteMessagesByAuthor(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeleteByAuthor {
		return 0, errStoreDown
	}
	var n int64
	for id, msg := range m.messages {
		if msg.UserID != nil && *msg.UserID == userID {
			delete(m.messages, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) messageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *memStore) onlyMessage(t *testing.T) models.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.messages, 1)
	for _, msg := range m.messages {
		return msg
	}
	return models.Message{}
}

type delivery struct {
	audience string // "all", "admins" or a connection id
	ev       ws.Event
}

// recHub records every delivery in order.
type recHub struct {
	mu           sync.Mutex
	deliveries   []delivery
	disconnected []string
}

func (h *recHub) BroadcastAll(ev ws.Event)    { h.add("all", ev) }
func (h *recHub) BroadcastAdmins(ev ws.Event) { h.add("admins", ev) }
func (h *recHub) Send(connID string, ev ws.Event) bool {
	h.add(connID, ev)
	return true
}
func (h *recHub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, connID)
}

func (h *recHub) add(audience string, ev ws.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliveries = append(h.deliveries, delivery{audience, ev})
}

func (h *recHub) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliveries = nil
	h.disconnected = nil
}

func (h *recHub) to(audience string) []ws.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []ws.Event
	for _, d := range h.deliveries {
		if d.audience == audience {
			out = append(out, d.ev)
		}
	}
	return out
}

func (h *recHub) ofType(typ string) []delivery {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []delivery
	for _, d := range h.deliveries {
		if d.ev.Type() == typ {
			out = append(out, d)
		}
	}
	return out
}

type recRevoker struct{ revoked []string }

func (r *recRevoker) RevokeUser(_ context.Context, userID string) error {
	r.revoked = append(r.revoked, userID)
	return nil
}

type recAudit struct{ events []audit.Event }

func (r *recAudit) Record(ev audit.Event) { r.events = append(r.events, ev) }

type fixture struct {
	svc     *Service
	store   *memStore
	hub     *recHub
	revoker *recRevoker
	audit   *recAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	filter, err := moderation.NewFilter(moderation.Options{AdditionalTerms: []string{"idiot", "stupid", "maniac"}})
	require.NoError(t, err)

	f := &fixture{store: newMemStore(), hub: &recHub{}, revoker: &recRevoker{}, audit: &recAudit{}}
	f.svc = NewService(Deps{
		Store:   f.store,
		Filter:  filter,
		Hub:     f.hub,
		Revoker: f.revoker,
		Audit:   f.audit,
	}, Config{})
	return f
}

func TestJoinRegistersRepliesAndAnnounces(t *testing.T) {
	f := newFixture(t)
	alice := f.store.addUser("alice", false)

	require.NoError(t, f.svc.Join(context.Background(), "c1", "alice"))

	entry, ok := f.svc.Registry().Get("c1")
	require.True(t, ok)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, alice.ID, *entry.UserID)

	direct := f.hub.to("c1")
	require.Len(t, direct, 1)
	assert.IsType(t, ws.LoadMessages{}, direct[0])

	rosters := f.hub.ofType(ws.TypeOnlineUsers)
	require.Len(t, rosters, 2)
	assert.Equal(t, "all", rosters[0].audience)
	assert.Equal(t, "admins", rosters[1].audience)
	assert.Len(t, rosters[0].ev.(ws.OnlineUsers).Users, 1)
}

func TestJoinUnknownUserHasNoUserID(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.Join(context.Background(), "c1", "guest"))

	entry, ok := f.svc.Registry().Get("c1")
	require.True(t, ok)
	assert.Nil(t, entry.UserID)
}

func TestJoinLoadsAtMostHistoryLimitNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		require.NoError(t, f.store.CreateMessage(ctx, &models.Message{ID: models.NewID(), Content: "m", Username: "x"}))
	}

	require.NoError(t, f.svc.Join(ctx, "c1", "alice"))

	load := f.hub.to("c1")[0].(ws.LoadMessages)
	require.Len(t, load.Messages, DefaultHistoryLimit)
	assert.Greater(t, load.Messages[0].ID, load.Messages[1].ID)
}

func TestSendMessageCleanScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, "c1", "alice"))
	f.hub.reset()

	require.NoError(t, f.svc.SendMessage(ctx, "c1", ws.SendMessage{Message: "hello"}))

	stored := f.store.onlyMessage(t)
	assert.Equal(t, "hello", stored.Content)
	assert.Equal(t, "alice", stored.Username)
	assert.False(t, stored.IsOffensive)

	all := f.hub.to("all")
	require.Len(t, all, 1)
	nm := all[0].(ws.NewMessage)
	assert.Equal(t, "hello", nm.Message.Content)
	assert.Equal(t, stored.ID, nm.Message.ID)

	assert.Empty(t, f.hub.to("admins"))
	assert.Empty(t, f.hub.to("c1"))
}

func TestSendMessageOffensiveScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, "c1", "alice"))
	f.hub.reset()

	require.NoError(t, f.svc.SendMessage(ctx, "c1", ws.SendMessage{Message: "you idiot"}))

	assert.True(t, f.store.onlyMessage(t).IsOffensive)

	toSender := f.hub.to("c1")
	require.Len(t, toSender, 1)
	assert.Equal(t, DefaultWarningMessage, toSender[0].(ws.WarningMessage).Message)

	toAdmins := f.hub.to("admins")
	require.Len(t, toAdmins, 1)
	alert := toAdmins[0].(ws.OffensiveMessageAlert)
	assert.Equal(t, "alice", alert.Username)
	assert.Equal(t, "you idiot", alert.Message)

	require.Len(t, f.hub.to("all"), 1)
	require.Len(t, f.audit.events, 1)
	assert.Equal(t, audit.KindOffensiveMessage, f.audit.events[0].Kind)
}

func TestSendMessageStoreDownNeverBroadcasts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, "c1", "alice"))
	f.hub.reset()
	f.store.failCreateMessage = true

	for _, text := range []string{"hello", "you idiot"} {
		err := f.svc.SendMessage(ctx, "c1", ws.SendMessage{Message: text})
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodePersistence))
	}

	assert.Empty(t, f.hub.to("all"))
	assert.Empty(t, f.hub.to("admins"))
	for _, ev := range f.hub.to("c1") {
		require.IsType(t, ws.Error{}, ev)
		assert.Equal(t, "Failed to send message", ev.(ws.Error).Message)
	}
	assert.Zero(t, f.store.messageCount())
}

func TestSendMessageRequiresJoinAndContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.SendMessage(ctx, "c1", ws.SendMessage{Message: "hi"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	require.NoError(t, f.svc.Join(ctx, "c1", "alice"))
	err = f.svc.SendMessage(ctx, "c1", ws.SendMessage{Message: "   "})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.Zero(t, f.store.messageCount())
}

func TestSendMessageAuthorID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.store.addUser("alice", false)
	other := models.NewID()

	require.NoError(t, f.svc.Join(ctx, "c1", "alice"))
	require.NoError(t, f.svc.SendMessage(ctx, "c1", ws.SendMessage{Message: "hi", UserID: other}))
	require.NotNil(t, f.store.onlyMessage(t).UserID)
	assert.Equal(t, alice.ID, *f.store.onlyMessage(t).UserID)
}

func TestSendMessageCompletesAfterSenderLeft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, "c1", "alice"))
	require.NoError(t, f.svc.Join(ctx, "c2", "bob"))

	f.store.createEntered = make(chan struct{})
	f.store.createGate = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- f.svc.SendMessage(ctx, "c1", ws.SendMessage{Message: "bye"}) }()

	<-f.store.createEntered
	f.svc.Disconnect("c1")
	close(f.store.createGate)

	require.NoError(t, <-done)
	assert.Equal(t, 1, f.store.messageCount())
	assert.NotEmpty(t, f.hub.ofType(ws.TypeNewMessage))
}

func TestDisconnectAnnouncesOnlyWhenPresent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, "c1", "alice"))
	f.hub.reset()

	f.svc.Disconnect("unknown")
	assert.Empty(t, f.hub.ofType(ws.TypeOnlineUsers))

	f.svc.Disconnect("c1")
	rosters := f.hub.ofType(ws.TypeOnlineUsers)
	require.Len(t, rosters, 2)
	assert.Empty(t, rosters[0].ev.(ws.OnlineUsers).Users)
}

func TestAdminConnectedGetsRoster(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Join(context.Background(), "c1", "alice"))
	f.hub.reset()

	f.svc.AdminConnected("a1")

	got := f.hub.to("a1")
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].(ws.OnlineUsers).Users[0].Username)
}

func TestLogoutRemovesFirstEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, "c1", "alice"))
	require.NoError(t, f.svc.Join(ctx, "c2", "alice"))

	f.svc.Logout("alice")

	_, ok := f.svc.Registry().Get("c1")
	assert.False(t, ok)
	_, ok = f.svc.Registry().Get("c2")
	assert.True(t, ok)
}

func TestDeleteMissingMessageStillNotifies(t *testing.T) {
	f := newFixture(t)
	missing := models.NewID()

	require.NoError(t, f.svc.DeleteMessage(context.Background(), "a1", missing))

	all := f.hub.to("all")
	require.Len(t, all, 1)
	assert.Equal(t, ws.MessageDeleted{MessageID: missing}, all[0])
}

func TestDeleteExistingMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := &models.Message{ID: models.NewID(), Content: "x", Username: "alice"}
	require.NoError(t, f.store.CreateMessage(ctx, msg))

	require.NoError(t, f.svc.DeleteMessage(ctx, "a1", msg.ID))
	assert.Zero(t, f.store.messageCount())
	assert.Len(t, f.hub.ofType(ws.TypeMessageDeleted), 2)
}

func TestDeleteMessageMalformedID(t *testing.T) {
	f := newFixture(t)

	err := f.svc.DeleteMessage(context.Background(), "a1", "nope")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.Empty(t, f.hub.ofType(ws.TypeMessageDeleted))
	require.Len(t, f.hub.to("a1"), 1)
}

func TestDeleteMessageStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failDeleteMessage = true

	err := f.svc.DeleteMessage(context.Background(), "a1", models.NewID())

	var wfErr *ModerationWorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, StepDeleteMessage, wfErr.Failed)
	assert.Empty(t, f.hub.ofType(ws.TypeMessageDeleted))
	assert.Equal(t, ws.Error{Message: "Failed to delete message"}, f.hub.to("a1")[0])
}

func TestBanOnlineUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.store.addUser("bob", false)

	require.NoError(t, f.svc.Join(ctx, "c1", "bob"))
	require.NoError(t, f.svc.Join(ctx, "c2", "carol"))
	require.NoError(t, f.svc.SendMessage(ctx, "c1", ws.SendMessage{Message: "one"}))
	require.NoError(t, f.svc.SendMessage(ctx, "c1", ws.SendMessage{Message: "two"}))
	require.NoError(t, f.svc.SendMessage(ctx, "c2", ws.SendMessage{Message: "mine"}))
	f.hub.reset()

	require.NoError(t, f.svc.BanUser(ctx, "a1", bob.ID))

	banned := f.hub.ofType(ws.TypeYouAreBanned)
	require.Len(t, banned, 1)
	assert.Equal(t, "c1", banned[0].audience)
	assert.Equal(t, []string{"c1"}, f.hub.disconnected)

	_, online := f.svc.Registry().Get("c1")
	assert.False(t, online)

	remaining, err := f.store.FindMessages(ctx, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "mine", remaining[0].Content)

	_, err = f.store.FindUserByID(ctx, bob.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	ub := f.hub.ofType(ws.TypeUserBanned)
	require.Len(t, ub, 1)
	assert.Equal(t, ws.UserBanned{
		UserID:   bob.ID,
		Username: "bob",
		Message:  "bob has been banned from the chat room.",
	}, ub[0].ev)

	rosters := f.hub.ofType(ws.TypeOnlineUsers)
	require.NotEmpty(t, rosters)
	last := rosters[len(rosters)-1].ev.(ws.OnlineUsers)
	require.Len(t, last.Users, 1)
	assert.Equal(t, "carol", last.Users[0].Username)

	assert.Equal(t, []string{bob.ID}, f.revoker.revoked)
}

func TestBanDisconnectsOnlyFirstDuplicateName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.store.addUser("bob", false)
	require.NoError(t, f.svc.Join(ctx, "c1", "bob"))
	require.NoError(t, f.svc.Join(ctx, "c2", "bob"))

	require.NoError(t, f.svc.BanUser(ctx, "a1", bob.ID))

	assert.Equal(t, []string{"c1"}, f.hub.disconnected)
	_, ok := f.svc.Registry().Get("c2")
	assert.True(t, ok)
}

func TestBanNoEffectCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.store.addUser("root", true)
	require.NoError(t, f.svc.Join(ctx, "c1", "root"))
	require.NoError(t, f.svc.SendMessage(ctx, "c1", ws.SendMessage{Message: "hi"}))
	f.hub.reset()

	for _, id := range []string{admin.ID, models.NewID()} {
		require.NoError(t, f.svc.BanUser(ctx, "a1", id))
	}

	assert.Empty(t, f.hub.deliveries)
	assert.Empty(t, f.hub.disconnected)
	assert.Equal(t, 1, f.store.messageCount())
	_, err := f.store.FindUserByID(ctx, admin.ID)
	assert.NoError(t, err)
	assert.Empty(t, f.revoker.revoked)
}

func TestBanPartialFailureReportsCompletedSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.store.addUser("bob", false)
	require.NoError(t, f.svc.Join(ctx, "c1", "bob"))
	require.NoError(t, f.svc.SendMessage(ctx, "c1", ws.SendMessage{Message: "hi"}))
	f.hub.reset()
	f.store.failDeleteUser = true

	err := f.svc.BanUser(ctx, "a1", bob.ID)

	var wfErr *ModerationWorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, StepDeleteUser, wfErr.Failed)
	assert.Equal(t, []Step{StepResolveUser, StepDisconnect, StepDeleteMessages}, wfErr.Completed)
	assert.Equal(t, apperrors.CodeModerationWorkflow, wfErr.Code())

	// Messages stay deleted, the account survives.
	assert.Zero(t, f.store.messageCount())
	_, err = f.store.FindUserByID(ctx, bob.ID)
	assert.NoError(t, err)

	assert.Equal(t, ws.Error{Message: "Failed to ban user"}, f.hub.to("a1")[0])
	assert.Empty(t, f.hub.ofType(ws.TypeUserBanned))
	// The disconnect already changed the roster, so it is still announced.
	assert.NotEmpty(t, f.hub.ofType(ws.TypeOnlineUsers))
	assert.Empty(t, f.revoker.revoked)
}

func TestBanMalformedIDRepliesToAdminOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, "c1", "bob"))
	f.hub.reset()

	err := f.svc.BanUser(ctx, "a1", "garbage")

	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.Equal(t, []delivery{{"a1", ws.Error{Message: "Failed to ban user"}}}, f.hub.deliveries)
	assert.Empty(t, f.hub.disconnected)
	assert.Equal(t, 1, f.svc.Registry().Len())
}

func TestSendMessageStoresContentAsSent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Join(ctx, "c1", "bob"))

	require.NoError(t, f.svc.SendMessage(ctx, "c1", ws.SendMessage{Message: "  hello there \n"}))

	assert.Equal(t, "  hello there \n", f.store.onlyMessage(t).Content)
}

// gatedHub holds the first online_users broadcast until release is closed.
type gatedHub struct {
	recHub
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (h *gatedHub) BroadcastAll(ev ws.Event) {
	if ev.Type() == ws.TypeOnlineUsers {
		h.once.Do(func() {
			close(h.entered)
			<-h.release
		})
	}
	h.recHub.BroadcastAll(ev)
}

func TestRosterBroadcastsFollowRegistryOrder(t *testing.T) {
	filter, err := moderation.NewFilter(moderation.Options{})
	require.NoError(t, err)
	hub := &gatedHub{entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(Deps{Store: newMemStore(), Filter: filter, Hub: hub}, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, svc.Join(ctx, "c1", "alice"))
	}()
	<-hub.entered
	go func() {
		defer wg.Done()
		assert.NoError(t, svc.Join(ctx, "c2", "bob"))
	}()
	require.Eventually(t, func() bool { return svc.Registry().Len() == 2 }, time.Second, 5*time.Millisecond)
	close(hub.release)
	wg.Wait()

	var last ws.OnlineUsers
	for _, ev := range hub.to("all") {
		if roster, ok := ev.(ws.OnlineUsers); ok {
			last = roster
		}
	}
	assert.Equal(t, svc.Roster(), last.Users)
	assert.Len(t, last.Users, 2)
}
