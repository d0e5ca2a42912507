package repository

import (
	"context"

	"chatroom/backend/internal/models"
	"chatroom/backend/pkg/resilience"
)

// BreakerGateway fails store calls fast while the underlying store keeps
// erroring. Not-found and duplicate outcomes do not count as failures.
type BreakerGateway struct {
	next Gateway
	cb   *resilience.CircuitBreaker
}

// WithBreaker decorates next with cb.
func WithBreaker(next Gateway, cb *resilience.CircuitBreaker) *BreakerGateway {
	return &BreakerGateway{next: next, cb: cb}
}

// BreakerFailure is the IsFailure predicate for store breakers.
func BreakerFailure(err error) bool {
	return err != nil && !IsExpected(err)
}

// Breaker exposes the breaker for health reporting.
func (b *BreakerGateway) Breaker() *resilience.CircuitBreaker {
	return b.cb
}

func (b *BreakerGateway) FindUserByName(ctx context.Context, username string) (user *models.User, err error) {
	err = b.cb.Execute(ctx, func(ctx context.Context) error {
		user, err = b.next.FindUserByName(ctx, username)
		return err
	})
	return user, err
}

func (b *BreakerGateway) FindUserByID(ctx context.Context, id string) (user *models.User, err error) {
	err = b.cb.Execute(ctx, func(ctx context.Context) error {
		user, err = b.next.FindUserByID(ctx, id)
		return err
	})
	return user, err
}

func (b *BreakerGateway) CreateUser(ctx context.Context, user *models.User) error {
	return b.cb.Execute(ctx, func(ctx context.Context) error {
		return b.next.CreateUser(ctx, user)
	})
}

func (b *BreakerGateway) DeleteUser(ctx context.Context, id string) error {
	return b.cb.Execute(ctx, func(ctx context.Context) error {
		return b.next.DeleteUser(ctx, id)
	})
}

func (b *BreakerGateway) ListUsers(ctx context.Context, nonAdminOnly bool) (users []models.User, err error) {
	err = b.cb.Execute(ctx, func(ctx context.Context) error {
		users, err = b.next.ListUsers(ctx, nonAdminOnly)
		return err
	})
	return users, err
}

func (b *BreakerGateway) FindMessages(ctx context.Context, limit int) (msgs []models.Message, err error) {
	err = b.cb.Execute(ctx, func(ctx context.Context) error {
		msgs, err = b.next.FindMessages(ctx, limit)
		return err
	})
	return msgs, err
}

func (b *BreakerGateway) CreateMessage(ctx context.Context, msg *models.Message) error {
	return b.cb.Execute(ctx, func(ctx context.Context) error {
		return b.next.CreateMessage(ctx, msg)
	})
}

func (b *BreakerGateway) DeleteMessage(ctx context.Context, id string) error {
	return b.cb.Execute(ctx, func(ctx context.Context) error {
		return b.next.DeleteMessage(ctx, id)
	})
}

func (b *BreakerGateway) DeleteMessagesByAuthor(ctx context.Context, userID string) (n int64, err error) {
	err = b.cb.Execute(ctx, func(ctx context.Context) error {
		n, err = b.next.DeleteMessagesByAuthor(ctx, userID)
		return err
	})
	return n, err
}

// Ping bypasses the breaker so health checks see the real store state.
func (b *BreakerGateway) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}
