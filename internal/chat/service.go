// Package chat runs the chat room: joins, the send pipeline, presence
// changes and the admin moderation workflows.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"chatroom/backend/internal/audit"
	"chatroom/backend/internal/models"
	"chatroom/backend/internal/moderation"
	"chatroom/backend/internal/presence"
	"chatroom/backend/internal/repository"
	apperrors "chatroom/backend/pkg/errors"
	"chatroom/backend/pkg/logger"
	"chatroom/backend/pkg/ws"
	"chatroom/backend/shared/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultHistoryLimit   = 50
	DefaultStoreTimeout   = 5 * time.Second
	DefaultWarningMessage = "⚠️ Warning: Please avoid using inappropriate language in the chat room."
	bannedNotice          = "You have been banned from the chat room."
)

// Broadcaster delivers events to live connections. Delivery is best effort.
type Broadcaster interface {
	// BroadcastAll reaches every main namespace connection.
	BroadcastAll(ev ws.Event)
	// BroadcastAdmins reaches every admin namespace connection.
	BroadcastAdmins(ev ws.Event)
	// Send reaches one connection in either namespace.
	Send(connID string, ev ws.Event) bool
	// Disconnect flushes queued events to connID and closes it.
	Disconnect(connID string)
}

// SessionRevoker invalidates a user's auth sessions.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, userID string) error
}

// AuditRecorder receives moderation facts.
type AuditRecorder interface {
	Record(ev audit.Event)
}

// Config tunes the service.
type Config struct {
	HistoryLimit   int
	StoreTimeout   time.Duration
	WarningMessage string
}

// Deps are the collaborators of Service. Revoker and Audit may be nil.
type Deps struct {
	Store    repository.Gateway
	Filter   moderation.Classifier
	Registry *presence.Registry
	Hub      Broadcaster
	Revoker  SessionRevoker
	Audit    AuditRecorder
	Metrics  *observability.Metrics
	Logger   *logger.Logger
}

// Service is the chat room engine.
type Service struct {
	store    repository.Gateway
	filter   moderation.Classifier
	registry *presence.Registry
	hub      Broadcaster
	revoker  SessionRevoker
	audit    AuditRecorder
	metrics  *observability.Metrics
	log      *logger.Logger
	tracer   trace.Tracer
	cfg      Config
	now      func() time.Time

	// rosterMu orders roster snapshots with their delivery, so the last
	// online_users every connection receives is the current registry.
	rosterMu sync.Mutex
}

func NewService(deps Deps, cfg Config) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.WarningMessage == "" {
		cfg.WarningMessage = DefaultWarningMessage
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNopMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = presence.NewRegistry()
	}

	return &Service{
		store:    deps.Store,
		filter:   deps.Filter,
		registry: deps.Registry,
		hub:      deps.Hub,
		revoker:  deps.Revoker,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		log:      deps.Logger.WithComponent("chat"),
		tracer:   otel.Tracer("chatroom/backend/internal/chat"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Registry exposes the presence registry.
func (s *Service) Registry() *presence.Registry {
	return s.registry
}

// Join registers connID under username, replies with recent history and
// announces the roster.
func (s *Service) Join(ctx context.Context, connID, username string) error {
	ctx, span := s.tracer.Start(ctx, "chat.join", trace.WithAttributes(attribute.String("chat.conn_id", connID)))
	defer span.End()
	defer s.metrics.Observe(ctx, "join", s.now())

	log := s.log.WithConnection(connID, "main")

	username = strings.TrimSpace(username)
	if username == "" {
		s.hub.Send(connID, ws.Error{Message: "Username is required"})
		return apperrors.NewValidationError("Username is required")
	}

	var userID *string
	user, err := s.findUserByName(ctx, username)
	switch {
	case err == nil:
		userID = &user.ID
	case errors.Is(err, repository.ErrNotFound):
	default:
		log.LogError(err, "Failed to resolve user on join", "username", username)
		s.fail(span, err)
		s.hub.Send(connID, ws.Error{Message: "Failed to join chat"})
		return apperrors.NewPersistenceError("Failed to join chat", err)
	}

	s.registry.Register(connID, username, userID)
	log.Info("User joined", "username", username)

	history, err := s.recentMessages(ctx)
	if err != nil {
		log.LogError(err, "Failed to load message history")
		s.fail(span, err)
		s.hub.Send(connID, ws.Error{Message: "Failed to load messages"})
	} else {
		s.hub.Send(connID, ws.LoadMessages{Messages: history})
	}

	s.broadcastRoster()

	if err != nil {
		return apperrors.NewPersistenceError("Failed to load messages", err)
	}
	return nil
}

// SendMessage runs the message pipeline: classify, persist, then fan out.
// Nothing is broadcast unless the store accepted the message.
func (s *Service) SendMessage(ctx context.Context, connID string, cmd ws.SendMessage) error {
	ctx, span := s.tracer.Start(ctx, "chat.send_message", trace.WithAttributes(attribute.String("chat.conn_id", connID)))
	defer span.End()
	defer s.metrics.Observe(ctx, "send_message", s.now())

	log := s.log.WithConnection(connID, "main")

	sender, ok := s.registry.Get(connID)
	if !ok {
		s.hub.Send(connID, ws.Error{Message: "Join the chat before sending messages"})
		return apperrors.NewValidationError("Join the chat before sending messages")
	}

	content := cmd.Message
	if strings.TrimSpace(content) == "" {
		s.hub.Send(connID, ws.Error{Message: "Message cannot be empty"})
		return apperrors.NewValidationError("Message cannot be empty")
	}

	verdict := s.filter.Classify(content)
	span.SetAttributes(attribute.Bool("chat.offensive", verdict.IsOffensive))

	msg := &models.Message{
		ID:          models.NewID(),
		Content:     content,
		Username:    sender.Username,
		UserID:      authorID(sender, cmd.UserID),
		Timestamp:   s.now().UTC(),
		IsOffensive: verdict.IsOffensive,
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	err := s.store.CreateMessage(storeCtx, msg)
	cancel()
	if err != nil {
		log.LogError(err, "Failed to persist message", "username", sender.Username)
		s.fail(span, err)
		s.metrics.SendFailed(ctx)
		s.hub.Send(connID, ws.Error{Message: "Failed to send message"})
		return apperrors.NewPersistenceError("Failed to send message", err)
	}
	s.metrics.MessageStored(ctx, msg.IsOffensive)

	if msg.IsOffensive {
		s.hub.Send(connID, ws.WarningMessage{Message: s.cfg.WarningMessage})
		s.hub.BroadcastAdmins(ws.OffensiveMessageAlert{
			Username:  msg.Username,
			Message:   msg.Content,
			Timestamp: msg.Timestamp,
		})
		s.record(audit.Event{
			Kind:      audit.KindOffensiveMessage,
			UserID:    deref(msg.UserID),
			Username:  msg.Username,
			MessageID: msg.ID,
			Content:   msg.Content,
		})
		log.Warn("Offensive message flagged", "username", msg.Username, "message_id", msg.ID)
	}

	s.hub.BroadcastAll(ws.NewMessage{Message: toView(*msg)})
	return nil
}

// Disconnect forgets connID and announces the roster if it was present.
func (s *Service) Disconnect(connID string) {
	if s.registry.Unregister(connID) {
		s.log.WithConnection(connID, "main").Info("User left")
		s.broadcastRoster()
	}
}

// AdminConnected sends the current roster to a newly admitted admin.
func (s *Service) AdminConnected(connID string) {
	s.rosterMu.Lock()
	defer s.rosterMu.Unlock()

	s.hub.Send(connID, ws.OnlineUsers{Users: s.roster()})
}

// Logout drops the first live presence with username and announces the
// roster.
func (s *Service) Logout(username string) {
	if entry, ok := s.registry.RemoveFirstByUsername(username); ok {
		s.log.WithConnection(entry.SocketID, "main").Info("User logged out", "username", username)
	}
	s.broadcastRoster()
}

// Roster returns the online participants in join order.
func (s *Service) Roster() []ws.RosterEntry {
	return s.roster()
}

// DeleteMessage removes a message and tells everyone. Unknown ids still
// produce a message_deleted notice.
func (s *Service) DeleteMessage(ctx context.Context, adminConnID, messageID string) error {
	ctx, span := s.tracer.Start(ctx, "chat.delete_message", trace.WithAttributes(attribute.String("chat.message_id", messageID)))
	defer span.End()
	defer s.metrics.Observe(ctx, "delete_message", s.now())

	log := s.log.WithConnection(adminConnID, "admin")

	if !models.ValidID(messageID) {
		s.hub.Send(adminConnID, ws.Error{Message: "Invalid message id"})
		return apperrors.NewValidationError("Invalid message id")
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	err := s.store.DeleteMessage(storeCtx, messageID)
	cancel()
	s.metrics.Moderation(ctx, "delete_message", err)
	if err != nil {
		log.LogError(err, "Failed to delete message", "message_id", messageID)
		s.fail(span, err)
		s.hub.Send(adminConnID, ws.Error{Message: "Failed to delete message"})
		return &ModerationWorkflowError{
			Action:   "delete_message",
			TargetID: messageID,
			Failed:   StepDeleteMessage,
			Err:      err,
		}
	}

	deleted := ws.MessageDeleted{MessageID: messageID}
	s.hub.BroadcastAll(deleted)
	s.hub.BroadcastAdmins(deleted)
	s.record(audit.Event{Kind: audit.KindMessageDeleted, MessageID: messageID})
	log.Info("Message deleted", "message_id", messageID)
	return nil
}

func (s *Service) roster() []ws.RosterEntry {
	snap := s.registry.Snapshot()
	out := make([]ws.RosterEntry, len(snap))
	for i, e := range snap {
		out[i] = ws.RosterEntry{Username: e.Username, SocketID: e.SocketID, UserID: e.UserID}
	}
	return out
}

// broadcastRoster must run after the registry change it announces. The
// snapshot is taken under rosterMu, so a roster delivered later is never
// older than one delivered earlier.
func (s *Service) broadcastRoster() {
	s.rosterMu.Lock()
	defer s.rosterMu.Unlock()

	ev := ws.OnlineUsers{Users: s.roster()}
	s.hub.BroadcastAll(ev)
	s.hub.BroadcastAdmins(ev)
}

func (s *Service) recentMessages(ctx context.Context) ([]ws.MessageView, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	msgs, err := s.store.FindMessages(ctx, s.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	out := make([]ws.MessageView, len(msgs))
	for i, m := range msgs {
		out[i] = toView(m)
	}
	return out, nil
}

func (s *Service) findUserByName(ctx context.Context, username string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.FindUserByName(ctx, username)
}

func (s *Service) record(ev audit.Event) {
	if s.audit != nil {
		s.audit.Record(ev)
	}
}

func (s *Service) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// authorID prefers the id resolved at join. A client supplied id is only
// used for senders the directory did not know, and only if well formed.
func authorID(sender presence.Entry, claimed string) *string {
	if sender.UserID != nil {
		id := *sender.UserID
		return &id
	}
	if claimed != "" && models.ValidID(claimed) {
		return &claimed
	}
	return nil
}

func toView(m models.Message) ws.MessageView {
	return ws.MessageView{
		ID:          m.ID,
		Content:     m.Content,
		Username:    m.Username,
		UserID:      m.UserID,
		Timestamp:   m.Timestamp,
		IsOffensive: m.IsOffensive,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
