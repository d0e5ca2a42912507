package chat

import (
	"context"
	"errors"
	"fmt"

	"chatroom/backend/internal/audit"
	"chatroom/backend/internal/models"
	"chatroom/backend/internal/repository"
	apperrors "chatroom/backend/pkg/errors"
	"chatroom/backend/pkg/ws"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BanUser removes a non-admin user: the live connection is told and closed,
// their messages and account are deleted, their sessions revoked, and the
// room is notified. Unknown or admin users are left untouched; a malformed
// id only earns the admin an error. A failing
// step stops the workflow; earlier steps are not undone.
func (s *Service) BanUser(ctx context.Context, adminConnID, userID string) error {
	ctx, span := s.tracer.Start(ctx, "chat.ban_user", trace.WithAttributes(attribute.String("chat.user_id", userID)))
	defer span.End()
	defer s.metrics.Observe(ctx, "ban_user", s.now())

	log := s.log.WithConnection(adminConnID, "admin").WithUserID(userID)

	var completed []Step
	rosterChanged := false
	abort := func(step Step, err error) error {
		log.LogError(err, "Ban workflow failed", "step", string(step), "completed", completed)
		s.fail(span, err)
		s.metrics.Moderation(ctx, "ban_user", err)
		s.hub.Send(adminConnID, ws.Error{Message: "Failed to ban user"})
		if rosterChanged {
			s.broadcastRoster()
		}
		return &ModerationWorkflowError{
			Action:    "ban_user",
			TargetID:  userID,
			Completed: completed,
			Failed:    step,
			Err:       err,
		}
	}

	if !models.ValidID(userID) {
		log.Info("Ban rejected, malformed user id")
		s.hub.Send(adminConnID, ws.Error{Message: "Failed to ban user"})
		return apperrors.NewValidationError("Invalid user id")
	}

	user, err := s.findUserByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Info("Ban ignored, user not found")
		return nil
	}
	if err != nil {
		return abort(StepResolveUser, err)
	}
	if user.IsAdmin {
		log.Warn("Ban ignored, target is an admin", "username", user.Username)
		return nil
	}
	completed = append(completed, StepResolveUser)

	if entry, ok := s.registry.FindByUsername(user.Username); ok {
		s.hub.Send(entry.SocketID, ws.YouAreBanned{Message: bannedNotice})
		s.hub.Disconnect(entry.SocketID)
		rosterChanged = s.registry.Unregister(entry.SocketID)
		log.Info("Banned user disconnected", "conn_id", entry.SocketID)
	}
	completed = append(completed, StepDisconnect)

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	removed, err := s.store.DeleteMessagesByAuthor(storeCtx, userID)
	cancel()
	if err != nil {
		return abort(StepDeleteMessages, err)
	}
	completed = append(completed, StepDeleteMessages)

	storeCtx, cancel = context.WithTimeout(ctx, s.cfg.StoreTimeout)
	err = s.store.DeleteUser(storeCtx, userID)
	cancel()
	if err != nil {
		return abort(StepDeleteUser, err)
	}
	completed = append(completed, StepDeleteUser)

	if s.revoker != nil {
		if err := s.revoker.RevokeUser(ctx, userID); err != nil {
			log.LogError(err, "Failed to revoke sessions of banned user")
		} else {
			completed = append(completed, StepRevokeSessions)
		}
	}

	s.metrics.Moderation(ctx, "ban_user", nil)
	s.hub.BroadcastAll(ws.UserBanned{
		UserID:   userID,
		Username: user.Username,
		Message:  fmt.Sprintf("%s has been banned from the chat room.", user.Username),
	})
	s.broadcastRoster()

	s.record(audit.Event{
		Kind:     audit.KindUserBanned,
		UserID:   userID,
		Username: user.Username,
		Detail:   fmt.Sprintf("%d messages removed", removed),
	})
	log.Info("User banned", "username", user.Username, "messages_removed", removed)
	return nil
}

func (s *Service) findUserByID(ctx context.Context, id string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.FindUserByID(ctx, id)
}
