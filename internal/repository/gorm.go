package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatroom/backend/internal/models"

	"gorm.io/gorm"
)

// GormGateway implements Gateway on any gorm dialect.
type GormGateway struct {
	db *gorm.DB
}

// NewGormGateway wraps an open gorm connection.
func NewGormGateway(db *gorm.DB) *GormGateway {
	return &GormGateway{db: db}
}

// Migrate creates or updates the users and messages tables.
func (g *GormGateway) Migrate(ctx context.Context) error {
	return g.db.WithContext(ctx).AutoMigrate(&models.User{}, &models.Message{})
}

func (g *GormGateway) FindUserByName(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := g.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (g *GormGateway) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (g *GormGateway) CreateUser(ctx context.Context, user *models.User) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("username = ?", user.Username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateUser
		}
		if err := tx.Create(user).Error; err != nil {
			return translate(err)
		}
		return nil
	})
}

func (g *GormGateway) DeleteUser(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).Where("id = ?", id).Delete(&models.User{}).Error
}

func (g *GormGateway) ListUsers(ctx context.Context, nonAdminOnly bool) ([]models.User, error) {
	q := g.db.WithContext(ctx).Order("created_at ASC")
	if nonAdminOnly {
		q = q.Where("is_admin = ?", false)
	}
	users := []models.User{}
	if err := q.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (g *GormGateway) FindMessages(ctx context.Context, limit int) ([]models.Message, error) {
	// ULIDs break ties between equal timestamps in creation order.
	q := g.db.WithContext(ctx).Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	messages := []models.Message{}
	if err := q.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (g *GormGateway) CreateMessage(ctx context.Context, msg *models.Message) error {
	return g.db.WithContext(ctx).Create(msg).Error
}

func (g *GormGateway) DeleteMessage(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Message{}).Error
}

func (g *GormGateway) DeleteMessagesByAuthor(ctx context.Context, userID string) (int64, error) {
	res := g.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Message{})
	return res.RowsAffected, res.Error
}

func (g *GormGateway) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateUser
	}
	// Drivers without error translation still report unique violations in text.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate") {
		return ErrDuplicateUser
	}
	return err
}
