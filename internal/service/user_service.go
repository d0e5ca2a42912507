package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"chatroom/backend/internal/models"
	"chatroom/backend/internal/repository"
	apperrors "chatroom/backend/pkg/errors"
	"chatroom/backend/pkg/jwt"
	"chatroom/backend/pkg/logger"
)

const maxUsernameLength = 64

// Bcrypt hash compared against when the username is unknown, so both
// failure paths cost the same.
var dummyHash, _ = models.HashPassword("chatroom-timing-guard")

// Identity is who a session token speaks for.
type Identity struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"isAdmin"`
	SessionID string    `json:"-"`
	ExpiresAt time.Time `json:"-"`
}

// PrincipalID identifies the caller for request logging.
func (i *Identity) PrincipalID() string { return i.UserID }

// Admin reports whether the caller may use admin routes.
func (i *Identity) Admin() bool { return i.IsAdmin }

// Session is a freshly issued login.
type Session struct {
	Token    string
	Identity Identity
}

// UserService handles registration, credential checks and auth sessions
type UserService struct {
	store    repository.Gateway
	tokens   *jwt.Service
	sessions SessionStore
	log      *logger.Logger
}

// NewUserService creates a new user service
func NewUserService(store repository.Gateway, tokens *jwt.Service, sessions SessionStore, log *logger.Logger) *UserService {
	if log == nil {
		log = logger.NewNop()
	}
	return &UserService{
		store:    store,
		tokens:   tokens,
		sessions: sessions,
		log:      log.WithComponent("auth"),
	}
}

// Register creates a non-admin account.
func (s *UserService) Register(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperrors.NewValidationError("Username and password are required")
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return nil, apperrors.NewValidationError("Username is too long")
	}

	user := &models.User{Username: username, Password: password}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			return nil, apperrors.NewDuplicateUserError("Username already exists")
		}
		s.log.LogError(err, "Failed to create user", "username", username)
		return nil, apperrors.NewPersistenceError("Registration failed", err)
	}

	s.log.Info("User registered", "user_id", user.ID, "username", username)
	return user, nil
}

// VerifyCredentials returns the user for a matching username and password.
// Unknown users and wrong passwords fail identically.
func (s *UserService) VerifyCredentials(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.store.FindUserByName(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			models.CheckPasswordHash(password, dummyHash)
			return nil, apperrors.NewAuthError("Invalid credentials")
		}
		s.log.LogError(err, "Failed to look up user")
		return nil, apperrors.NewPersistenceError("Login failed", err)
	}

	if !models.CheckPasswordHash(password, user.Password) {
		return nil, apperrors.NewAuthError("Invalid credentials")
	}
	return user, nil
}

// Login verifies credentials and issues a session.
func (s *UserService) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.VerifyCredentials(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, user)
}

// AdminLogin is Login restricted to admin accounts.
func (s *UserService) AdminLogin(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.VerifyCredentials(ctx, username, password)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeAuth) {
			return nil, apperrors.NewAuthError("Invalid admin credentials")
		}
		return nil, err
	}
	if !user.IsAdmin {
		return nil, apperrors.NewAuthError("Invalid admin credentials")
	}
	return s.issue(ctx, user)
}

// Authenticate resolves a session token to its identity. Revoked sessions
// are rejected even if the token has not expired.
func (s *UserService) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, apperrors.NewAuthError("Authentication required")
	}

	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return nil, apperrors.NewAuthError("Invalid or expired session").Wrap(err)
	}

	live, err := s.sessions.Exists(ctx, claims.SessionID())
	if err != nil {
		s.log.LogError(err, "Failed to check session")
		return nil, apperrors.NewPersistenceError("Session lookup failed", err)
	}
	if !live {
		return nil, apperrors.NewAuthError("Session has been revoked")
	}

	identity := &Identity{
		UserID:    claims.UserID,
		Username:  claims.Username,
		IsAdmin:   claims.IsAdmin,
		SessionID: claims.SessionID(),
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// Logout revokes one session.
func (s *UserService) Logout(ctx context.Context, identity *Identity) error {
	if err := s.sessions.Revoke(ctx, identity.SessionID); err != nil {
		s.log.LogError(err, "Failed to revoke session", "user_id", identity.UserID)
		return apperrors.NewPersistenceError("Logout failed", err)
	}
	s.log.Info("User logged out", "user_id", identity.UserID)
	return nil
}

// RevokeUser revokes every session of userID.
func (s *UserService) RevokeUser(ctx context.Context, userID string) error {
	return s.sessions.RevokeUser(ctx, userID)
}

func (s *UserService) issue(ctx context.Context, user *models.User) (*Session, error) {
	token, claims, err := s.tokens.GenerateToken(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		return nil, apperrors.NewInternalServerError("Failed to issue session").Wrap(err)
	}
	if err := s.sessions.Save(ctx, claims.SessionID(), user.ID, s.tokens.Expiry()); err != nil {
		s.log.LogError(err, "Failed to store session", "user_id", user.ID)
		return nil, apperrors.NewPersistenceError("Login failed", err)
	}

	s.log.Info("User logged in", "user_id", user.ID, "admin", user.IsAdmin)
	return &Session{
		Token: token,
		Identity: Identity{
			UserID:    user.ID,
			Username:  user.Username,
			IsAdmin:   user.IsAdmin,
			SessionID: claims.SessionID(),
			ExpiresAt: claims.ExpiresAt.Time,
		},
	}, nil
}
