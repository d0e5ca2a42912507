// Package repository holds the persistence gateway for users and messages.
package repository

import (
	"context"
	"errors"

	"chatroom/backend/internal/models"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicateUser = errors.New("username already exists")
)

// Gateway is the message log and user directory used by the chat engine.
type Gateway interface {
	FindUserByName(ctx context.Context, username string) (*models.User, error)
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, nonAdminOnly bool) ([]models.User, error)

	// FindMessages returns messages newest first; limit <= 0 means all.
	FindMessages(ctx context.Context, limit int) ([]models.Message, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	// DeleteMessage succeeds when the id does not exist.
	DeleteMessage(ctx context.Context, id string) error
	DeleteMessagesByAuthor(ctx context.Context, userID string) (int64, error)

	Ping(ctx context.Context) error
}

// IsExpected reports whether err is a domain outcome rather than a store
// fault.
func IsExpected(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateUser)
}
